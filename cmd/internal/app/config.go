package app

import (
	"time"

	"privat/cmd/internal/auth/session"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Empty DatabaseURL selects the in-memory mailbox and the PRIVAT_DEV_USERS directory.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// DevUsers seeds the in-memory directory: "id:username[:display name],...".
	DevUsers string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	StreamQueue      int
	StreamHeartbeat  time.Duration
	WSAllowedOrigins []string
	WSOriginRequired bool

	SignalRateEvents   int
	SignalRateWindow   time.Duration
	SignalMaxBodyBytes int64

	Session session.Config
}

// LoadConfig loads Config from environment variables with defaults.
// It fails only when the token verification key is missing or invalid.
func LoadConfig() (Config, error) {
	sess, err := session.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}

	return Config{
		HTTPAddr:  EnvString("PRIVAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PRIVAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("PRIVAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PRIVAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PRIVAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PRIVAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PRIVAT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PRIVAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PRIVAT_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PRIVAT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PRIVAT_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("PRIVAT_DB_SCHEMA", "privat"),

		ReadinessRequireDB: EnvBool("PRIVAT_READINESS_REQUIRE_DB", false),

		DevUsers: EnvString("PRIVAT_DEV_USERS", ""),

		CORSAllowedOrigins:   EnvCSV("PRIVAT_CORS_ALLOWED_ORIGINS", "http://localhost:*,http://127.0.0.1:*"),
		CORSAllowCredentials: EnvBool("PRIVAT_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("PRIVAT_CORS_MAX_AGE_SECONDS", 600),

		StreamQueue:      EnvInt("PRIVAT_STREAM_QUEUE", 64),
		StreamHeartbeat:  EnvDuration("PRIVAT_STREAM_HEARTBEAT", 25*time.Second),
		WSAllowedOrigins: EnvCSV("PRIVAT_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),
		WSOriginRequired: EnvBool("PRIVAT_WS_ORIGIN_REQUIRED", true),

		SignalRateEvents:   EnvInt("PRIVAT_SIGNAL_RATE_EVENTS", 120),
		SignalRateWindow:   EnvDuration("PRIVAT_SIGNAL_RATE_WINDOW", 10*time.Second),
		SignalMaxBodyBytes: int64(EnvInt("PRIVAT_SIGNAL_MAX_BODY_BYTES", 64<<10)),

		Session: sess,
	}, nil
}
