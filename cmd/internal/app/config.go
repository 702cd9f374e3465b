package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"parley/cmd/internal/realtime"
	"parley/cmd/internal/storage"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"PARLEY_HTTP_ADDR,default=0.0.0.0:8080"`
	LogLevel  string `env:"PARLEY_LOG_LEVEL,default=info"`
	LogFormat string `env:"PARLEY_LOG_FORMAT,default=json"`

	ReadHeaderTimeout time.Duration `env:"PARLEY_HTTP_READ_HEADER_TIMEOUT,default=5s"`
	ReadTimeout       time.Duration `env:"PARLEY_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout      time.Duration `env:"PARLEY_HTTP_WRITE_TIMEOUT,default=15s"`
	IdleTimeout       time.Duration `env:"PARLEY_HTTP_IDLE_TIMEOUT,default=60s"`
	MaxHeaderBytes    int           `env:"PARLEY_HTTP_MAX_HEADER_BYTES,default=1048576"`
	MaxBodyBytes      int           `env:"PARLEY_HTTP_MAX_BODY_BYTES,default=1048576"`

	Store       string `env:"PARLEY_STORE,default=memory"`
	DatabaseURL string `env:"PARLEY_DATABASE_URL"`
	DBSchema    string `env:"PARLEY_DB_SCHEMA,default=parley"`
	DBMaxConns  int    `env:"PARLEY_DB_MAX_CONNS,default=10"`
	DBMinConns  int    `env:"PARLEY_DB_MIN_CONNS,default=0"`
	SQLitePath  string `env:"PARLEY_SQLITE_PATH,default=parley.db"`
	AutoMigrate bool   `env:"PARLEY_AUTO_MIGRATE,default=true"`

	// If true:
	// - /readyz returns 503 unless a database store is configured and reachable.
	ReadinessRequireDB bool `env:"PARLEY_READINESS_REQUIRE_DB,default=false"`

	JWTSecret string        `env:"PARLEY_JWT_SECRET"`
	JWTIssuer string        `env:"PARLEY_JWT_ISSUER,default=parley"`
	TokenTTL  time.Duration `env:"PARLEY_TOKEN_TTL,default=24h"`

	// Security policy: when true, PARLEY_JWT_SECRET must be set instead of
	// falling back to a per-process random key.
	RequireJWTSecret bool `env:"PARLEY_REQUIRE_JWT_SECRET,default=false"`

	// SeedUsers is "name:email,name:email"; users are created at startup if missing.
	SeedUsers string `env:"PARLEY_SEED_USERS"`

	Retention         time.Duration `env:"PARLEY_RETENTION,default=168h"`
	RequireFriendship bool          `env:"PARLEY_REQUIRE_FRIENDSHIP,default=false"`
	MetricsEnabled    bool          `env:"PARLEY_METRICS_ENABLED,default=true"`

	CORSAllowedOriginsRaw string   `env:"PARLEY_CORS_ALLOWED_ORIGINS"`
	CORSAllowedOrigins    []string
	CORSAllowCredentials  bool     `env:"PARLEY_CORS_ALLOW_CREDENTIALS,default=false"`
	CORSMaxAgeSeconds     int      `env:"PARLEY_CORS_MAX_AGE_SECONDS,default=600"`

	WSDevInsecure       bool          `env:"PARLEY_WS_DEV_INSECURE,default=false"`
	WSOriginRequired    bool          `env:"PARLEY_WS_ORIGIN_REQUIRED,default=true"`
	WSAllowedOriginsRaw string        `env:"PARLEY_WS_ALLOWED_ORIGINS"`
	WSRequireAuth       bool          `env:"PARLEY_WS_REQUIRE_AUTH,default=true"`
	WSSendQueue         int           `env:"PARLEY_WS_SEND_QUEUE,default=256"`
	WSWriteTimeout      time.Duration `env:"PARLEY_WS_WRITE_TIMEOUT,default=5s"`
	WSReadIdleTimeout   time.Duration `env:"PARLEY_WS_READ_IDLE_TIMEOUT,default=2m"`
	WSHeartbeatInterval time.Duration `env:"PARLEY_WS_HEARTBEAT_INTERVAL,default=25s"`
	WSHeartbeatTimeout  time.Duration `env:"PARLEY_WS_HEARTBEAT_TIMEOUT,default=5s"`
	WSMaxFrameBytes     int           `env:"PARLEY_WS_MAX_FRAME_BYTES,default=65536"`
	WSPersistTimeout    time.Duration `env:"PARLEY_WS_PERSIST_TIMEOUT,default=5s"`
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env entries.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.CORSAllowedOrigins = splitOrigins(cfg.CORSAllowedOriginsRaw)
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.Store == "" {
		cfg.Store = StoreMemory
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("PARLEY_DATABASE_URL is required for the postgres store"))
		}
		if !storage.ValidSchema(c.DBSchema) {
			errs = append(errs, fmt.Errorf("PARLEY_DB_SCHEMA %q is not a valid identifier", c.DBSchema))
		}
		if c.DBMinConns < 0 || c.DBMaxConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
			errs = append(errs, errors.New("PARLEY_DB_MIN_CONNS/PARLEY_DB_MAX_CONNS are inconsistent"))
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("PARLEY_SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("PARLEY_STORE %q is not one of memory, postgres, sqlite", c.Store))
	}

	switch c.LogFormat {
	case "", "json", "text", "pretty":
	default:
		errs = append(errs, fmt.Errorf("PARLEY_LOG_FORMAT %q is not one of json, text, pretty", c.LogFormat))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("PARLEY_JWT_SECRET must be at least 32 bytes"))
	}
	if err := ValidateSecurityConfig(c); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// GatewayConfig maps the PARLEY_WS_* settings onto the realtime gateway.
func (c Config) GatewayConfig() realtime.GatewayConfig {
	g := realtime.DefaultGatewayConfig()
	g.DevInsecure = c.WSDevInsecure
	g.OriginRequired = c.WSOriginRequired
	if origins := splitOrigins(c.WSAllowedOriginsRaw); len(origins) > 0 {
		g.AllowedOrigins = origins
	}
	g.RequireAuth = c.WSRequireAuth
	g.SendQueueSize = c.WSSendQueue
	g.WriteTimeout = c.WSWriteTimeout
	g.ReadIdleTimeout = c.WSReadIdleTimeout
	g.HeartbeatInterval = c.WSHeartbeatInterval
	g.HeartbeatTimeout = c.WSHeartbeatTimeout
	g.MaxFrameBytes = int64(c.WSMaxFrameBytes)
	g.PersistTimeout = c.WSPersistTimeout
	return g
}

// splitOrigins parses a comma separated allow-list. Origins never carry a
// path, so a trailing slash is dropped.
func splitOrigins(raw string) []string {
	return lo.Map(realtime.SplitOrigins(raw), func(o string, _ int) string {
		return strings.TrimRight(o, "/")
	})
}

// seedUsers parses SeedUsers into username/email pairs. Entries without an
// email are allowed.
func (c Config) seedUsers() [][2]string {
	var out [][2]string
	for _, entry := range strings.Split(c.SeedUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, email, _ := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, [2]string{name, strings.TrimSpace(email)})
	}
	return out
}
