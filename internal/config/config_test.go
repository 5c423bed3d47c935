package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() Config {
	return Config{
		Mode:                      ModeForward,
		ListenAddr:                "0.0.0.0:8080",
		MaxConnections:            100,
		ConnectTimeoutSecs:        5,
		IdleTimeoutSecs:           30,
		MaxConnectionLifetimeSecs: 300,
	}
}

func TestValidateRequiresMode(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = ""
	assert.Error(t, Validate(cfg))
}

func TestValidateAcceptsMinimalForwardConfig(t *testing.T) {
	cfg := baseConfig()
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsZeroMaxConnections(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxConnections = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateCertificateRequiresBothFiles(t *testing.T) {
	cfg := baseConfig()
	cfg.Certificate = "cert.pem"
	assert.Error(t, Validate(cfg), "certificate without private_key must fail validation")
}

func TestTLSEnabledRequiresBothPaths(t *testing.T) {
	cfg := baseConfig()
	assert.False(t, cfg.TLSEnabled())

	cfg.Certificate = "cert.pem"
	assert.False(t, cfg.TLSEnabled())

	cfg.PrivateKey = "key.pem"
	assert.True(t, cfg.TLSEnabled())
}

func TestBuildRouteTableFallsBackToSingleTarget(t *testing.T) {
	cfg := baseConfig()
	cfg.Mode = ModeReverse
	cfg.ReverseProxyTarget = "http://backend.internal:9000"

	table, err := cfg.BuildRouteTable()
	require.NoError(t, err)
	require.NotNil(t, table)
}

func TestLoadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bifrost.json")
	doc := `{
		"mode": "forward",
		"listen_addr": "127.0.0.1:8888",
		"max_connections": 50,
		"connect_timeout_secs": 5,
		"idle_timeout_secs": 30,
		"max_connection_lifetime_secs": 600
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeForward, cfg.Mode)
	assert.Equal(t, "127.0.0.1:8888", cfg.ListenAddr)
	assert.Equal(t, 50, cfg.MaxConnections)
}

func TestLoadFileRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bifrost.json")
	doc := `{"mode": "forward"}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err, "missing required fields must fail validation")
}

func TestWatchFileRevalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bifrost.json")
	valid := `{
		"mode": "forward",
		"listen_addr": "127.0.0.1:8888",
		"max_connections": 50,
		"connect_timeout_secs": 5,
		"idle_timeout_secs": 30,
		"max_connection_lifetime_secs": 600
	}`
	require.NoError(t, os.WriteFile(path, []byte(valid), 0o600))

	results := make(chan error, 4)
	w, err := WatchFile(path, nil, func(_ Config, werr error) {
		results <- werr
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"mode": "forward"}`), 0o600))

	select {
	case err := <-results:
		assert.Error(t, err, "an invalid rewrite must be reported as a failed re-validation")
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never reported the config file change")
	}
}
