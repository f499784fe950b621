package config

import (
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/config"
	infralogger "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/engagement-tracker/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/storage"
)

// Default configuration values.
const (
	defaultServiceName  = "engagement-tracker"
	defaultServicePort  = 8094
	defaultVersion      = "0.1.0"
	defaultBufferSize   = 1000
	defaultFlushThresh  = 500
	defaultLoggingLevel = "info"
	defaultLoggingFmt   = "json"
	defaultDBHost       = "localhost"
	defaultDBPort       = 5432
	defaultDBName       = "engagement_tracker"
	defaultDBUser       = "postgres"
	defaultDBSSLMode    = "disable"
	defaultRedisAddress = "localhost:6379"
	defaultSinkKind     = SinkQueue
	defaultSweepSpec    = "@every 1m"

	defaultFlushInterval   = time.Second
	defaultSessionTTL      = 30 * time.Minute
	defaultPageIdleTimeout = 30 * time.Minute
	defaultDedupWindow     = time.Second

	defaultMaxRequests = 600
	defaultWindow      = time.Minute
)

// Sink kinds.
const (
	SinkQueue  = "queue"
	SinkStream = "stream"
	SinkNone   = "none"
)

// Config holds the application configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Sink      SinkConfig      `yaml:"sink"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	CORS      CORSConfig      `yaml:"cors"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name           string        `yaml:"name"`
	Version        string        `yaml:"version"`
	Port           int           `env:"ENGAGEMENT_TRACKER_PORT" yaml:"port"`
	Debug          bool          `env:"APP_DEBUG"               yaml:"debug"`
	BufferSize     int           `yaml:"buffer_size"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	FlushThreshold int           `yaml:"flush_threshold"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host     string `env:"POSTGRES_ENGAGEMENT_HOST"     yaml:"host"`
	Port     int    `env:"POSTGRES_ENGAGEMENT_PORT"     yaml:"port"`
	User     string `env:"POSTGRES_ENGAGEMENT_USER"     yaml:"user"`
	Password string `env:"POSTGRES_ENGAGEMENT_PASSWORD" yaml:"password"` //nolint:gosec // connection config
	Database string `env:"POSTGRES_ENGAGEMENT_DB"       yaml:"database"`
	SSLMode  string `env:"POSTGRES_ENGAGEMENT_SSLMODE"  yaml:"sslmode"`
}

// Storage converts the section into storage connection settings.
func (d DatabaseConfig) Storage() storage.DatabaseConfig {
	return storage.DatabaseConfig{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.Database,
		SSLMode:  d.SSLMode,
	}
}

// RedisConfig holds the Redis connection and the session region TTL.
// Without Redis the attribution regions live in process memory.
type RedisConfig struct {
	infraredis.Config `yaml:",inline"`

	Enabled    bool          `env:"REDIS_ENABLED" yaml:"enabled"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// SinkConfig selects where the gateway forwards events.
type SinkConfig struct {
	Kind        string        `env:"ENGAGEMENT_SINK"   yaml:"kind"`
	Stream      string        `yaml:"stream"`
	DedupWindow time.Duration `yaml:"dedup_window"`
	// Development enables debug_mode on events and failure logging.
	Development bool `env:"ENGAGEMENT_SINK_DEVELOPMENT" yaml:"development"`
}

// TrackingConfig holds page lifecycle settings.
type TrackingConfig struct {
	PageIdleTimeout time.Duration `yaml:"page_idle_timeout"`
	SweepSchedule   string        `yaml:"sweep_schedule"`
}

// RateLimitConfig holds per-IP rate limiting configuration.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// Logger converts the section into logger settings.
func (l LoggingConfig) Logger(development bool) infralogger.Config {
	return infralogger.Config{
		Level:       l.Level,
		Format:      l.Format,
		Development: development,
	}
}

// AuthConfig holds authentication for the read API. Beacon routes are anonymous.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" yaml:"jwt_secret"`
}

// CORSConfig lists the sites allowed to send beacons.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ORIGINS" yaml:"allowed_origins"`
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	return infraconfig.LoadWithDefaults[Config](path, setDefaults)
}

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setDatabaseDefaults(&cfg.Database)
	setRedisDefaults(&cfg.Redis)
	setSinkDefaults(&cfg.Sink)
	setTrackingDefaults(&cfg.Tracking)
	setRateLimitDefaults(&cfg.RateLimit)
	setLoggingDefaults(&cfg.Logging)
}

func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Version == "" {
		svc.Version = defaultVersion
	}
	if svc.Port == 0 {
		svc.Port = defaultServicePort
	}
	if svc.BufferSize == 0 {
		svc.BufferSize = defaultBufferSize
	}
	if svc.FlushInterval == 0 {
		svc.FlushInterval = defaultFlushInterval
	}
	if svc.FlushThreshold == 0 {
		svc.FlushThreshold = defaultFlushThresh
	}
}

func setDatabaseDefaults(db *DatabaseConfig) {
	if db.Host == "" {
		db.Host = defaultDBHost
	}
	if db.Port == 0 {
		db.Port = defaultDBPort
	}
	if db.User == "" {
		db.User = defaultDBUser
	}
	if db.Database == "" {
		db.Database = defaultDBName
	}
	if db.SSLMode == "" {
		db.SSLMode = defaultDBSSLMode
	}
}

func setRedisDefaults(r *RedisConfig) {
	if r.Address == "" {
		r.Address = defaultRedisAddress
	}
	if r.SessionTTL == 0 {
		r.SessionTTL = defaultSessionTTL
	}
}

func setSinkDefaults(s *SinkConfig) {
	if s.Kind == "" {
		s.Kind = defaultSinkKind
	}
	if s.Stream == "" {
		s.Stream = storage.DefaultStreamName
	}
	if s.DedupWindow == 0 {
		s.DedupWindow = defaultDedupWindow
	}
}

func setTrackingDefaults(t *TrackingConfig) {
	if t.PageIdleTimeout == 0 {
		t.PageIdleTimeout = defaultPageIdleTimeout
	}
	if t.SweepSchedule == "" {
		t.SweepSchedule = defaultSweepSpec
	}
}

func setRateLimitDefaults(rl *RateLimitConfig) {
	if rl.MaxRequests == 0 {
		rl.MaxRequests = defaultMaxRequests
	}
	if rl.Window == 0 {
		rl.Window = defaultWindow
	}
}

func setLoggingDefaults(log *LoggingConfig) {
	if log.Level == "" {
		log.Level = defaultLoggingLevel
	}
	if log.Format == "" {
		log.Format = defaultLoggingFmt
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := infraconfig.ValidatePort("service.port", c.Service.Port); err != nil {
		return err
	}
	if err := infraconfig.ValidateOneOf("sink.kind", c.Sink.Kind, SinkQueue, SinkStream, SinkNone); err != nil {
		return err
	}
	if c.Sink.Kind == SinkStream && !c.Redis.Enabled {
		return &infraconfig.ValidationError{Field: "redis.enabled", Message: "must be true for the stream sink"}
	}
	if err := infraconfig.ValidatePositiveDuration("redis.session_ttl", c.Redis.SessionTTL); err != nil {
		return err
	}
	if err := infraconfig.ValidatePositiveDuration("tracking.page_idle_timeout", c.Tracking.PageIdleTimeout); err != nil {
		return err
	}
	return infraconfig.ValidatePositiveDuration("rate_limit.window", c.RateLimit.Window)
}
