package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8888", cfg.Addr())
	assert.Equal(t, "chatd.db", cfg.DBPath)
	assert.Equal(t, 300*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, uint32(1<<20), cfg.MaxFrameSize)
	assert.Equal(t, "/tmp/chatd.sock", cfg.ControlSocket)
	assert.Empty(t, cfg.StatusAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CHATD_PORT", "9999")
	t.Setenv("CHATD_DB_PATH", "/var/lib/chatd/chat.db")
	t.Setenv("CHATD_READ_TIMEOUT", "2m")
	t.Setenv("CHATD_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "/var/lib/chatd/chat.db", cfg.DBPath)
	assert.Equal(t, 2*time.Minute, cfg.ReadTimeout)
	assert.True(t, cfg.Debug)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\nstatus_addr: 127.0.0.1:7001\nmax_frame_size: 4096\n"), 0o600))
	t.Setenv("CHATD_CONFIG", path)
	t.Setenv("CHATD_PORT", "7002")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7002, cfg.Port, "environment wins over the file")
	assert.Equal(t, "127.0.0.1:7001", cfg.StatusAddr)
	assert.Equal(t, uint32(4096), cfg.MaxFrameSize)
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("CHATD_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("CHATD_PORT", "70000")
	t.Setenv("CHATD_MAX_FRAME_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 70000")
	assert.Contains(t, err.Error(), "max_frame_size")
}
