package app

import (
	"time"

	"slate/cmd/internal/realtime"
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

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WSDevInsecure       bool
	WSOriginRequired    bool
	WSAllowedOrigins    []string
	WSWriteTimeout      time.Duration
	WSReadIdleTimeout   time.Duration
	WSSendQueueSize     int
	WSHeartbeatInterval time.Duration
	WSHeartbeatTimeout  time.Duration
	WSRateBurst         float64
	WSRatePerSec        float64

	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	SnapshotSchema string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Upstream call-control service. Empty means the bridge stays off and
	// signaling runs in legacy relay mode.
	UpstreamURL string

	BridgePullInterval     time.Duration
	BridgeRetryInitial     time.Duration
	BridgeRetryMax         time.Duration
	BridgeRetryMultiplier  float64
	BridgeRetryMaxAttempts int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	wsDef := realtime.DefaultGatewayConfig()

	return Config{
		HTTPAddr:  EnvString("SLATE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("SLATE_LOG_LEVEL", "info"),
		LogFormat: EnvString("SLATE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("SLATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SLATE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SLATE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SLATE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("SLATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		CORSAllowedOrigins:   EnvCSV("SLATE_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("SLATE_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("SLATE_CORS_MAX_AGE_SECONDS", 600),

		WSDevInsecure:       EnvBool("SLATE_WS_DEV_INSECURE", false),
		WSOriginRequired:    EnvBool("SLATE_WS_ORIGIN_REQUIRED", wsDef.OriginRequired),
		WSAllowedOrigins:    EnvCSV("SLATE_WS_ALLOWED_ORIGINS", wsDef.AllowedOrigins),
		WSWriteTimeout:      EnvDuration("SLATE_WS_WRITE_TIMEOUT", wsDef.WriteTimeout),
		WSReadIdleTimeout:   EnvDuration("SLATE_WS_READ_IDLE_TIMEOUT", wsDef.ReadIdleTimeout),
		WSSendQueueSize:     EnvInt("SLATE_WS_SEND_QUEUE", wsDef.SendQueueSize),
		WSHeartbeatInterval: EnvDuration("SLATE_WS_HEARTBEAT_INTERVAL", wsDef.HeartbeatInterval),
		WSHeartbeatTimeout:  EnvDuration("SLATE_WS_HEARTBEAT_TIMEOUT", wsDef.HeartbeatTimeout),
		WSRateBurst:         EnvFloat64("SLATE_WS_RATE_BURST", wsDef.RateBurst),
		WSRatePerSec:        EnvFloat64("SLATE_WS_RATE_PER_SEC", wsDef.RatePerSec),

		DatabaseURL:    EnvString("SLATE_DATABASE_URL", ""),
		DBMaxConns:     EnvInt32("SLATE_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("SLATE_DB_MIN_CONNS", 0),
		SnapshotSchema: EnvString("SLATE_SNAPSHOT_SCHEMA", "slate"),

		ReadinessRequireDB: EnvBool("SLATE_READINESS_REQUIRE_DB", false),

		UpstreamURL: EnvString("SLATE_UPSTREAM_URL", ""),

		BridgePullInterval:     EnvDuration("SLATE_BRIDGE_PULL_INTERVAL", 30*time.Second),
		BridgeRetryInitial:     EnvDuration("SLATE_BRIDGE_RETRY_INITIAL", 100*time.Millisecond),
		BridgeRetryMax:         EnvDuration("SLATE_BRIDGE_RETRY_MAX", 10*time.Second),
		BridgeRetryMultiplier:  EnvFloat64("SLATE_BRIDGE_RETRY_MULTIPLIER", 2.0),
		BridgeRetryMaxAttempts: EnvInt("SLATE_BRIDGE_RETRY_MAX_ATTEMPTS", 5),
	}
}
