package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatd/auth"
	"chatd/config"
	"chatd/db/sqlite"
	"chatd/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	setupLogging(cfg)

	database, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to initialize database")
	}
	defer database.Close()

	srv := server.New(database, auth.New(), &server.Config{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxFrameSize: cfg.MaxFrameSize,
	})

	// stats, promote and shutdown over a unix socket
	if cfg.ControlSocket != "" {
		go startControlSocket(srv, cfg.ControlSocket)
	}

	var status *http.Server
	if cfg.StatusAddr != "" {
		status = &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           srv.StatusRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.StatusAddr).Msg("status endpoint listening")
			if err := status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status endpoint stopped")
			}
		}()
	}

	// SIGINT and SIGTERM notify every connection before closing it.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Shutdown("maintenance")
	}()

	if err := srv.Start(); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}

	if status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = status.Shutdown(ctx)
		cancel()
	}
	if cfg.ControlSocket != "" {
		os.Remove(cfg.ControlSocket)
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}

func startControlSocket(srv *server.Server, path string) {
	// A stale socket from an unclean exit blocks Listen.
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to create control socket")
		return
	}
	defer listener.Close()

	log.Info().Str("path", path).Msg("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		go handleControlCommand(srv, conn)
	}
}

// handleControlCommand serves one line: stats, promote|<username> or shutdown|<reason>.
func handleControlCommand(srv *server.Server, conn net.Conn) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "promote":
		if arg == "" {
			conn.Write([]byte("ERROR|Username required\n"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Promote(ctx, arg); err != nil {
			log.Warn().Err(err).Str("username", arg).Msg("promote failed")
			conn.Write([]byte("ERROR|" + err.Error() + "\n"))
			return
		}
		conn.Write([]byte("OK|Promoted " + arg + "\n"))

	case "shutdown":
		reason := "maintenance"
		if arg != "" {
			reason = arg
		}
		conn.Write([]byte("OK|Shutting down\n"))
		log.Info().Str("reason", reason).Msg("shutdown requested")
		srv.Shutdown(reason)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
