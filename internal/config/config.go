package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the HaloTrack server.
type Config struct {
	Server      ServerConfig
	Client      ClientConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	ClickHouse  ClickHouseConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
	Attribution AttributionConfig
	Forwarding  ForwardingConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

// ClientConfig identifies the tenant this instance tracks for.
type ClientConfig struct {
	ClientID   string
	CookieName string
	Currency   string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the analytics event log sink.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
}

type AuthConfig struct {
	Enabled   bool
	APIKey    string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled     bool
	IngestRPS   float64
	IngestBurst int
	ReportRPS   float64
	ReportBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP lookup for session enrichment.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// AttributionConfig holds tunables for the credit allocator.
type AttributionConfig struct {
	// TimeDecayHalfLife is the half-life used by the time_decay model.
	TimeDecayHalfLife time.Duration
	DefaultModel      string
}

// ForwardingConfig holds ad-platform conversion API credentials.
type ForwardingConfig struct {
	FacebookPixelID       string
	FacebookAccessToken   string
	FacebookTestEventCode string
	GoogleMeasurementID   string
	GoogleAPISecret       string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("HALO_HTTP_ADDR", ":8080"),
			Env:             getEnv("HALO_ENV", "development"),
			ShutdownTimeout: getDurationEnv("HALO_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Client: ClientConfig{
			ClientID:   getEnv("HALO_CLIENT_ID", ""),
			CookieName: getEnv("HALO_COOKIE_NAME", "_halo"),
			Currency:   getEnv("HALO_DEFAULT_CURRENCY", "CZK"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("HALO_DB_HOST", "localhost"),
			Port:     getIntEnv("HALO_DB_PORT", 5432),
			User:     getEnv("HALO_DB_USER", "halotrack"),
			Password: getEnv("HALO_DB_PASSWORD", "halotrack_secret"),
			DBName:   getEnv("HALO_DB_NAME", "halotrack"),
			SSLMode:  getEnv("HALO_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("HALO_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("HALO_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("HALO_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("HALO_REDIS_PASSWORD", ""),
			DB:       getIntEnv("HALO_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("HALO_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("HALO_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("HALO_CLICKHOUSE_DB", "halotrack"),
			Username: getEnv("HALO_CLICKHOUSE_USER", "default"),
			Password: getEnv("HALO_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("HALO_AUTH_ENABLED", false),
			APIKey:    getEnv("HALO_API_KEY", ""),
			SkipPaths: getSliceEnv("HALO_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/v1/touch", "/v1/event", "/v1/identify"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("HALO_RATE_LIMIT_ENABLED", true),
			IngestRPS:   getFloatEnv("HALO_RATE_LIMIT_INGEST_RPS", 500),
			IngestBurst: getIntEnv("HALO_RATE_LIMIT_INGEST_BURST", 100),
			ReportRPS:   getFloatEnv("HALO_RATE_LIMIT_REPORT_RPS", 50),
			ReportBurst: getIntEnv("HALO_RATE_LIMIT_REPORT_BURST", 10),
		},
		Log: LogConfig{
			Level:  getEnv("HALO_LOG_LEVEL", "info"),
			Format: getEnv("HALO_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("HALO_METRICS_ENABLED", true),
			Path:    getEnv("HALO_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("HALO_GEO_ENABLED", false),
			DatabasePath: getEnv("HALO_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Attribution: AttributionConfig{
			TimeDecayHalfLife: getDurationEnv("HALO_TIME_DECAY_HALF_LIFE", 7*24*time.Hour),
			DefaultModel:      getEnv("HALO_DEFAULT_ATTRIBUTION_MODEL", "last_touch"),
		},
		Forwarding: ForwardingConfig{
			FacebookPixelID:       getEnv("HALO_FB_PIXEL_ID", ""),
			FacebookAccessToken:   getEnv("HALO_FB_ACCESS_TOKEN", ""),
			FacebookTestEventCode: getEnv("HALO_FB_TEST_EVENT_CODE", ""),
			GoogleMeasurementID:   getEnv("HALO_GA_MEASUREMENT_ID", ""),
			GoogleAPISecret:       getEnv("HALO_GA_API_SECRET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Client.ClientID == "" {
		return fmt.Errorf("HALO_CLIENT_ID is required")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("HALO_API_KEY is required when auth is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
