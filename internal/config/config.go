package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverSurreal  = "surrealdb"
)

// Bus drivers.
const (
	PubSubGoChannel = "gochannel"
	PubSubNATS      = "nats"
)

// Provider exposes the settings the rest of the service depends on.
type Provider interface {
	GetHTTPAddr() string
	GetAppEnv() string
	GetJWTSecret() []byte
	GetJWTIssuer() string
	GetJWTTTL() time.Duration
	GetDBDriver() string
	GetDBDSN() string
	GetSurreal() SurrealConfig
	GetDBQueryTimeout() time.Duration
	GetSendTimeout() time.Duration
	GetWSAuthTimeout() time.Duration
	GetWSSendBuffer() int
	GetWSAllowedOrigins() []string
	GetPubSub() PubSubConfig
	GetFrontendURL() string
}

// SurrealConfig holds the SurrealDB connection settings.
type SurrealConfig struct {
	URL  string
	NS   string
	DB   string
	User string
	Pass string
}

// PubSubConfig selects and configures the room event bus.
type PubSubConfig struct {
	Driver             string
	NATSURL            string
	TracingEnabled     bool
	TracingServiceName string
	TracingZipkinURL   string
}

// Config holds all configuration for the application.
type Config struct {
	HTTPAddr         string
	AppEnv           string
	JWTSecret        string
	JWTIssuer        string
	JWTTTL           time.Duration
	DBDriver         string
	DBDSN            string
	Surreal          SurrealConfig
	DBQueryTimeout   time.Duration
	SendTimeout      time.Duration
	WSAuthTimeout    time.Duration
	WSSendBuffer     int
	WSAllowedOrigins []string
	PubSub           PubSubConfig
	FrontendURL      string
}

var _ Provider = (*Config)(nil)

// Load reads .env when present and builds a Config from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using lookup for every key. Tests pass a map-backed
// lookup instead of touching the process environment.
func FromEnv(lookup func(string) string) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		HTTPAddr:       r.str("HTTP_ADDR", ":3001"),
		AppEnv:         r.str("APP_ENV", "development"),
		JWTSecret:      r.str("JWT_SECRET", ""),
		JWTIssuer:      r.str("JWT_ISSUER", "orgchat"),
		JWTTTL:         r.duration("JWT_TTL", 168*time.Hour),
		DBDriver:       strings.ToLower(r.str("DB_DRIVER", DriverSQLite)),
		DBDSN:          r.str("DB_DSN", "file:orgchat.db?_pragma=foreign_keys(1)"),
		DBQueryTimeout: r.duration("DB_QUERY_TIMEOUT", 5*time.Second),
		SendTimeout:    r.duration("SEND_TIMEOUT", 5*time.Second),
		WSAuthTimeout:  r.duration("WS_AUTH_TIMEOUT", 10*time.Second),
		WSSendBuffer:   r.int("WS_SEND_BUFFER", 256),
		FrontendURL:    r.str("FRONTEND_URL", "http://localhost:3000"),
		Surreal: SurrealConfig{
			URL:  r.str("SURREAL_URL", ""),
			NS:   r.str("SURREAL_NS", ""),
			DB:   r.str("SURREAL_DB", ""),
			User: r.str("SURREAL_USER", ""),
			Pass: r.str("SURREAL_PASS", ""),
		},
		PubSub: PubSubConfig{
			Driver:             strings.ToLower(r.str("PUBSUB_DRIVER", PubSubGoChannel)),
			NATSURL:            r.str("NATS_URL", "nats://127.0.0.1:4222"),
			TracingEnabled:     r.bool("PUBSUB_TRACING_ENABLED", false),
			TracingServiceName: r.str("PUBSUB_TRACING_SERVICE_NAME", "orgchat"),
			TracingZipkinURL:   r.str("PUBSUB_TRACING_ZIPKIN_URL", "http://localhost:9411/api/v2/spans"),
		},
	}
	if origins := r.str("WS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.WSAllowedOrigins = append(cfg.WSAllowedOrigins, o)
			}
		}
	}

	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and enumerations.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
		if c.DBDSN == "" {
			return fmt.Errorf("config: DB_DSN is required for driver %q", c.DBDriver)
		}
	case DriverSurreal:
		if c.Surreal.URL == "" || c.Surreal.NS == "" || c.Surreal.DB == "" {
			return fmt.Errorf("config: SURREAL_URL, SURREAL_NS and SURREAL_DB are required for driver %q", c.DBDriver)
		}
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.PubSub.Driver {
	case PubSubGoChannel, PubSubNATS:
	default:
		return fmt.Errorf("config: unsupported PUBSUB_DRIVER %q", c.PubSub.Driver)
	}
	if c.WSSendBuffer < 1 {
		return fmt.Errorf("config: WS_SEND_BUFFER must be positive")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) GetHTTPAddr() string              { return c.HTTPAddr }
func (c *Config) GetAppEnv() string                { return c.AppEnv }
func (c *Config) GetJWTSecret() []byte             { return []byte(c.JWTSecret) }
func (c *Config) GetJWTIssuer() string             { return c.JWTIssuer }
func (c *Config) GetJWTTTL() time.Duration         { return c.JWTTTL }
func (c *Config) GetDBDriver() string              { return c.DBDriver }
func (c *Config) GetDBDSN() string                 { return c.DBDSN }
func (c *Config) GetSurreal() SurrealConfig        { return c.Surreal }
func (c *Config) GetDBQueryTimeout() time.Duration { return c.DBQueryTimeout }
func (c *Config) GetSendTimeout() time.Duration    { return c.SendTimeout }
func (c *Config) GetWSAuthTimeout() time.Duration  { return c.WSAuthTimeout }
func (c *Config) GetWSSendBuffer() int             { return c.WSSendBuffer }
func (c *Config) GetWSAllowedOrigins() []string    { return c.WSAllowedOrigins }
func (c *Config) GetPubSub() PubSubConfig          { return c.PubSub }
func (c *Config) GetFrontendURL() string           { return c.FrontendURL }

// reader records the first parse failure so FromEnv can report it once.
type reader struct {
	lookup func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.lookup(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.fail(fmt.Errorf("config: %s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(fmt.Errorf("config: %s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(fmt.Errorf("config: %s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
