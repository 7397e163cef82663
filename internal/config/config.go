package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds connector configuration.
type Config struct {
	ParticipantID        string
	ParticipantContextID string
	InstanceID           string
	ProtocolAddress      string
	ServerAddr           string

	StoreBackend  string
	DatabaseURL   string
	SQLitePath    string
	LeaseDuration time.Duration

	BatchSize     int
	IterationWait time.Duration
	MaxInFlight   int64

	RetryLimit      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	DispatchTimeout time.Duration

	PendingGuardNegotiation string
	PendingGuardTransfer    string

	SigningKey            string
	TrustedParticipants   string
	TokenTTL              time.Duration
	ManagementAPIKeyHash  string
	DataPlaneURL          string
	LogLevel              zerolog.Level
	ShutdownGraceDuration time.Duration
}

// Load reads configuration from the environment. When path is non-empty, or
// CONNECTOR_CONFIG names a file, its YAML values fill keys the environment leaves unset.
// File keys are the lower-case environment names, e.g. participant_id.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONNECTOR_CONFIG")
	}
	src := source{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &src.file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	participantID := src.get("PARTICIPANT_ID", "")
	instanceID := src.get("INSTANCE_ID", "")
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = strings.Trim(host+"-"+strconv.Itoa(os.Getpid()), "-")
	}
	level, err := zerolog.ParseLevel(src.get("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		ParticipantID:        participantID,
		ParticipantContextID: src.get("PARTICIPANT_CONTEXT_ID", participantID),
		InstanceID:           instanceID,
		ProtocolAddress:      src.get("PROTOCOL_ADDRESS", "http://localhost:8080/dsp"),
		ServerAddr:           src.get("SERVER_ADDR", "0.0.0.0:8080"),

		StoreBackend:  src.get("STORE_BACKEND", BackendMemory),
		DatabaseURL:   src.get("DATABASE_URL", ""),
		SQLitePath:    src.get("SQLITE_PATH", "connector.db"),
		LeaseDuration: parseDuration(src.get("LEASE_DURATION", "1m"), time.Minute),

		BatchSize:     parseInt(src.get("STATE_MACHINE_BATCH_SIZE", "20"), 20),
		IterationWait: parseDuration(src.get("STATE_MACHINE_ITERATION_WAIT", "1s"), time.Second),
		MaxInFlight:   int64(parseInt(src.get("STATE_MACHINE_MAX_INFLIGHT", "50"), 50)),

		RetryLimit:      parseInt(src.get("RETRY_LIMIT", "7"), 7),
		RetryBaseDelay:  parseDuration(src.get("RETRY_BASE_DELAY", "1s"), time.Second),
		RetryMaxDelay:   parseDuration(src.get("RETRY_MAX_DELAY", "1m"), time.Minute),
		DispatchTimeout: parseDuration(src.get("DISPATCH_TIMEOUT", "10s"), 10*time.Second),

		PendingGuardNegotiation: src.get("PENDING_GUARD_NEGOTIATION", ""),
		PendingGuardTransfer:    src.get("PENDING_GUARD_TRANSFER", ""),

		SigningKey:            src.get("SIGNING_KEY", ""),
		TrustedParticipants:   src.get("TRUSTED_PARTICIPANTS", ""),
		TokenTTL:              parseDuration(src.get("TOKEN_TTL", "5m"), 5*time.Minute),
		ManagementAPIKeyHash:  src.get("MANAGEMENT_API_KEY_HASH", ""),
		DataPlaneURL:          src.get("DATA_PLANE_URL", ""),
		LogLevel:              level,
		ShutdownGraceDuration: parseDuration(src.get("SHUTDOWN_GRACE", "10s"), 10*time.Second),
	}
	return cfg, nil
}

// Validate returns an error naming the first invalid key.
func (c *Config) Validate() error {
	if c.ParticipantID == "" {
		return fmt.Errorf("PARTICIPANT_ID is required")
	}
	if u, err := url.Parse(c.ProtocolAddress); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PROTOCOL_ADDRESS must be an absolute URL")
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, sqlite")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("STATE_MACHINE_BATCH_SIZE must be positive")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("STATE_MACHINE_MAX_INFLIGHT must be positive")
	}
	if c.RetryLimit <= 0 {
		return fmt.Errorf("RETRY_LIMIT must be positive")
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must not be below RETRY_BASE_DELAY")
	}
	// a provider holds one lease across a data-plane call and a dispatch
	if c.LeaseDuration <= 2*c.DispatchTimeout {
		return fmt.Errorf("LEASE_DURATION must exceed twice DISPATCH_TIMEOUT")
	}
	if c.SigningKey == "" {
		return fmt.Errorf("SIGNING_KEY is required")
	}
	return nil
}

type source struct {
	file map[string]string
}

func (s source) get(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := s.file[strings.ToLower(key)]; ok && val != "" {
		return val
	}
	return def
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
