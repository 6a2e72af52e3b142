package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"chatd/db"
	"chatd/protocol"
	"chatd/registry"
	"chatd/service"
)

type Server struct {
	pool   db.Pool
	config *Config

	registry *registry.Registry
	sessions *service.Sessions
	friends  *service.Friends
	messages *service.Messages
	admin    *service.Admin
	handlers map[string]route

	mu       sync.RWMutex
	clients  map[string]*Client
	listener net.Listener
	closing  bool
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxFrameSize bounds the payload of one inbound frame; zero means protocol.DefaultMaxPayload.
	MaxFrameSize uint32
}

func New(pool db.Pool, creds service.Credentials, config *Config) *Server {
	if config.MaxFrameSize == 0 {
		config.MaxFrameSize = protocol.DefaultMaxPayload
	}

	reg := registry.New()
	sessions := service.NewSessions(reg, creds)
	s := &Server{
		pool:     pool,
		config:   config,
		registry: reg,
		sessions: sessions,
		friends:  service.NewFriends(reg),
		messages: service.NewMessages(reg, sessions),
		admin:    service.NewAdmin(reg),
		clients:  make(map[string]*Client),
	}
	s.handlers = s.routes()
	return s
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections until Shutdown is called, then waits for every connection task to end.
// It returns nil after a shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	log.Info().Str("addr", listener.Addr().String()).Msg("chat server started")

	var conns conc.WaitGroup
	defer conns.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Msg("accepting connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		conns.Go(func() { s.handleConnection(conn) })
	}
}

// Addr is the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isClosing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

func (s *Server) track(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.clients[c.ID] = c
	return true
}

func (s *Server) untrack(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.ID)
}

func (s *Server) handleConnection(conn net.Conn) {
	c := newClient(conn, s.config.WriteTimeout)
	logger := log.With().Str("conn_id", c.ID).Str("remote", c.RemoteAddr()).Logger()

	if !s.track(c) {
		c.Close()
		return
	}
	defer s.untrack(c)

	defer func() {
		if userID, _, ok := c.User(); ok {
			s.registry.RemoveHandle(userID, c)
		}
		c.Close()
	}()

	logger.Debug().Msg("client connected")

	ctx := context.Background()
	dec := protocol.NewDecoder(conn)
	dec.SetMaxPayload(s.config.MaxFrameSize)

	for {
		if s.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		msg, err := dec.Decode()
		if err != nil {
			logDecodeError(logger, err, len(dec.Buffered()))
			return
		}
		logger.Debug().Str("type", msg.Type).Msg("frame received")

		reply := s.Dispatch(ctx, c, msg)
		switch {
		case reply.LoggedIn != nil:
			if prevID, rebound := c.bind(reply.LoggedIn); rebound {
				s.registry.RemoveHandle(prevID, c)
			}
		case reply.LoggedOut != nil:
			c.unbind(reply.LoggedOut.ID)
		}

		if err := c.Send(reply.Frame); err != nil {
			logger.Debug().Err(err).Msg("writing response")
			return
		}
	}
}

// logDecodeError reports why a read loop ended. buffered is how many bytes the decoder held that
// never formed a frame.
func logDecodeError(logger zerolog.Logger, err error, buffered int) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug().Msg("client disconnected")
	case errors.Is(err, net.ErrClosed):
		logger.Debug().Msg("connection closed")
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug().Msg("idle timeout")
	case errors.Is(err, protocol.ErrTruncatedFrame),
		errors.Is(err, protocol.ErrFrameTooLarge),
		errors.Is(err, protocol.ErrMalformedPayload):
		logger.Warn().Err(err).Int("buffered", buffered).Msg("protocol error, closing connection")
	default:
		logger.Warn().Err(err).Int("buffered", buffered).Msg("read failed")
	}
}

// Shutdown stops accepting, tells every connection why, and closes them.
func (s *Server) Shutdown(reason string) {
	s.mu.Lock()
	s.closing = true
	listener := s.listener
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	text := "Server is shutting down."
	if reason != "" {
		text = fmt.Sprintf("Server is shutting down: %s.", reason)
	}
	frame := protocol.SysNotify(text)

	var wg conc.WaitGroup
	for _, c := range clients {
		wg.Go(func() {
			_ = c.Send(frame)
			_ = c.Close()
		})
	}
	wg.Wait()

	log.Info().Str("reason", reason).Int("connections", len(clients)).Msg("server shut down")
}

// Promote grants administrator rights to username.
func (s *Server) Promote(ctx context.Context, username string) error {
	h, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return s.admin.Promote(ctx, h, username)
}

type Stats struct {
	Connections int      `json:"connections"`
	Online      int      `json:"online"`
	Users       []string `json:"users"`
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	users := make([]string, 0, len(clients))
	for _, c := range clients {
		if _, name, ok := c.User(); ok {
			users = append(users, name)
		}
	}
	sort.Strings(users)

	return Stats{
		Connections: len(clients),
		Online:      s.registry.Len(),
		Users:       users,
	}
}

// GetStats renders Stats as the control socket's key=value line.
func (s *Server) GetStats() string {
	st := s.Stats()
	return "connections=" + strconv.Itoa(st.Connections) +
		",online=" + strconv.Itoa(st.Online) +
		",users=" + strings.Join(st.Users, ";")
}
