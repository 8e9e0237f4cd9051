package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SharefulNetworks/shareful-gsls/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Flags_Default_To_Config_Defaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func Test_Short_And_Long_Flags(t *testing.T) {
	cfg, err := parseFlags([]string{"-p", "8080", "--port_dht", "9001", "-c", "10.0.0.1:4001", "--log_path", "/tmp/gsls", "--log_json"})
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.RESTPort)
	assert.Equal(t, 9001, cfg.DHTPort)
	assert.Equal(t, "10.0.0.1:4001", cfg.ConnectNode)
	assert.Equal(t, "/tmp/gsls", cfg.LogPath)
	assert.True(t, cfg.LogJSON)
}

func Test_Flags_Override_Config_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gsls.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rest_port: 5000\ndht_port: 5001\nrequest_timeout: 2s\n"), 0o600))

	cfg, err := parseFlags([]string{"--config", path, "--port_rest", "6000"})
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.RESTPort)
	assert.Equal(t, 5001, cfg.DHTPort)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
}

func Test_Invalid_Flags_Are_Rejected(t *testing.T) {
	_, err := parseFlags([]string{"-p", "70000"})
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = parseFlags([]string{"--no_such_flag"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"stray"})
	assert.Error(t, err)
}

func Test_Resolve_Host(t *testing.T) {
	host, err := resolveHost("")
	require.NoError(t, err)
	assert.Equal(t, "", host)

	host, err = resolveHost("192.0.2.10")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", host)

	host, err = resolveHost("lo")
	if err == nil && host != "lo" {
		assert.Contains(t, []string{"127.0.0.1", "::1"}, host)
	}
}

func Test_Logger_Writes_Log_File(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogPath = t.TempDir()
	cfg.LogLevel = "debug"

	logger, closeLog, err := setupLogger(cfg)
	require.NoError(t, err)
	logger.Debug("hello from the test")
	closeLog()

	raw, err := os.ReadFile(filepath.Join(cfg.LogPath, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hello from the test")

	cfg.LogLevel = "loud"
	_, _, err = setupLogger(cfg)
	assert.Error(t, err)
}
