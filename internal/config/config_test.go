package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ParticipantID:   "provider",
		ProtocolAddress: "http://localhost:8080/dsp",
		StoreBackend:    BackendMemory,
		BatchSize:       10,
		MaxInFlight:     5,
		RetryLimit:      3,
		RetryBaseDelay:  time.Second,
		RetryMaxDelay:   time.Minute,
		DispatchTimeout: 10 * time.Second,
		LeaseDuration:   time.Minute,
		SigningKey:      "00",
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONNECTOR_CONFIG", "")
	t.Setenv("PARTICIPANT_ID", "provider")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "provider", cfg.ParticipantID)
	assert.Equal(t, "provider", cfg.ParticipantContextID)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, int64(50), cfg.MaxInFlight)
	assert.Equal(t, 7, cfg.RetryLimit)
	assert.Equal(t, time.Minute, cfg.LeaseDuration)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
participant_id: from-file
store_backend: sqlite
state_machine_batch_size: 5
retry_base_delay: 250ms
log_level: debug
`), 0o600))
	t.Setenv("PARTICIPANT_ID", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.ParticipantID)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("participant_id: [unclosed"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("LOG_LEVEL", "loud")
	_, err = Load("")
	assert.ErrorContains(t, err, "LOG_LEVEL")
}

func TestInvalidNumbersFallBackToDefaults(t *testing.T) {
	t.Setenv("STATE_MACHINE_BATCH_SIZE", "many")
	t.Setenv("LEASE_DURATION", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.LeaseDuration)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	edge := validConfig()
	edge.LeaseDuration = 21 * time.Second
	require.NoError(t, edge.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		key    string
	}{
		{"participant", func(c *Config) { c.ParticipantID = "" }, "PARTICIPANT_ID"},
		{"relative address", func(c *Config) { c.ProtocolAddress = "/dsp" }, "PROTOCOL_ADDRESS"},
		{"backend", func(c *Config) { c.StoreBackend = "redis" }, "STORE_BACKEND"},
		{"postgres dsn", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"sqlite path", func(c *Config) { c.StoreBackend = BackendSQLite }, "SQLITE_PATH"},
		{"batch", func(c *Config) { c.BatchSize = 0 }, "STATE_MACHINE_BATCH_SIZE"},
		{"inflight", func(c *Config) { c.MaxInFlight = 0 }, "STATE_MACHINE_MAX_INFLIGHT"},
		{"retry limit", func(c *Config) { c.RetryLimit = 0 }, "RETRY_LIMIT"},
		{"retry delays", func(c *Config) { c.RetryMaxDelay = time.Millisecond }, "RETRY_MAX_DELAY"},
		{"lease", func(c *Config) { c.LeaseDuration = time.Second }, "LEASE_DURATION"},
		{"lease below two attempts", func(c *Config) { c.LeaseDuration = 15 * time.Second }, "LEASE_DURATION"},
		{"signing key", func(c *Config) { c.SigningKey = "" }, "SIGNING_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.key)
		})
	}
}
