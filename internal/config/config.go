package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/casetrack/notify-gateway/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL, AUTH_SECRET and SEAL_KEY
// are required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Retention
	RetentionTTL          time.Duration
	RetentionMaxPerUser   int
	ReaperInterval        time.Duration

	// Per-recipient rate limiting (fixed window)
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Ingress throttle for the submit endpoint (requests per second)
	SubmitThrottle int

	// Connections
	MaxConnsPerRecipient int
	HeartbeatInterval    time.Duration
	PushWriteTimeout     time.Duration

	// Security
	AuthSecret        []byte
	SealKey           []byte // 32 bytes, hex-encoded in the environment
	EncryptAtPriority domain.Priority

	// Audit
	AuditBuffer int
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	authSecret := os.Getenv("AUTH_SECRET")
	if authSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}

	sealKey, err := hex.DecodeString(os.Getenv("SEAL_KEY"))
	if err != nil || len(sealKey) != 32 {
		return nil, fmt.Errorf("SEAL_KEY must be 32 hex-encoded bytes")
	}

	encryptAt := domain.Priority(getEnv("ENCRYPT_AT_PRIORITY", string(domain.PriorityHigh)))
	if !encryptAt.IsValid() {
		return nil, fmt.Errorf("ENCRYPT_AT_PRIORITY must be a valid priority")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		RetentionTTL:        getDuration("RETENTION_TTL", 7*24*time.Hour),
		RetentionMaxPerUser: getInt("RETENTION_MAX_PER_RECIPIENT", 1000),
		ReaperInterval:      getDuration("REAPER_INTERVAL", 5*time.Minute),

		RateLimitMax:    getInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: getDuration("RATE_LIMIT_WINDOW", time.Hour),

		SubmitThrottle: getInt("SUBMIT_THROTTLE_RPS", 500),

		MaxConnsPerRecipient: getInt("MAX_CONNS_PER_RECIPIENT", 3),
		HeartbeatInterval:    getDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		PushWriteTimeout:     getDuration("PUSH_WRITE_TIMEOUT", 5*time.Second),

		AuthSecret:        []byte(authSecret),
		SealKey:           sealKey,
		EncryptAtPriority: encryptAt,

		AuditBuffer: getInt("AUDIT_BUFFER", 1024),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
