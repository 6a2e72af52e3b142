package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	DBPath        string        `mapstructure:"db_path"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxFrameSize  uint32        `mapstructure:"max_frame_size"`
	ControlSocket string        `mapstructure:"control_socket"`
	// StatusAddr enables the HTTP status endpoints when set.
	StatusAddr string `mapstructure:"status_addr"`
	LogLevel   string `mapstructure:"log_level"`
	Debug      bool   `mapstructure:"debug"`
}

// Addr is the chat listener address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func defaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8888)
	v.SetDefault("db_path", "chatd.db")
	v.SetDefault("read_timeout", 300*time.Second)
	v.SetDefault("write_timeout", 30*time.Second)
	v.SetDefault("max_frame_size", 1<<20)
	v.SetDefault("control_socket", "/tmp/chatd.sock")
	v.SetDefault("status_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
}

// Load reads CHATD_* environment variables over the optional file named by CHATD_CONFIG.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	defaults(v)

	v.SetEnvPrefix("chatd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is empty"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxFrameSize == 0 {
		errs = append(errs, errors.New("max_frame_size must be positive"))
	}
	return errors.Join(errs...)
}
