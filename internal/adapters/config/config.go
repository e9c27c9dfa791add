package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Backend kinds
const (
	BackendSQLite     = "sqlite"
	BackendTimescale  = "timescale"
	BackendClickHouse = "clickhouse"
)

// Lock kinds
const (
	LockFile  = "file"
	LockRedis = "redis"
)

// Config represents application configuration
type Config struct {
	Writer     WriterConfig     `envconfig:"WRITER"`
	Backend    BackendConfig    `envconfig:"BACKEND"`
	SQLite     SQLiteConfig     `envconfig:"SQLITE"`
	Database   DatabaseConfig   `envconfig:"DATABASE"`
	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Lock       LockConfig       `envconfig:"LOCK"`
	Health     HealthConfig     `envconfig:"HEALTH"`
	Logging    LoggingConfig    `envconfig:"LOGGING"`
}

// WriterConfig represents buffering parameters
type WriterConfig struct {
	LowWatermark  int           `envconfig:"WRITER_LOW_WATERMARK" default:"1000"`
	HighWatermark int           `envconfig:"WRITER_HIGH_WATERMARK" default:"100000"`
	FlushInterval time.Duration `envconfig:"WRITER_FLUSH_INTERVAL" default:"0"` // 0 disables periodic flushing
}

// BackendConfig selects the storage engine
type BackendConfig struct {
	Kind string `envconfig:"BACKEND_KIND" default:"sqlite"` // sqlite, timescale or clickhouse
}

// SQLiteConfig represents the embedded store location
type SQLiteConfig struct {
	Path string `envconfig:"SQLITE_PATH" default:":memory:"`
}

// DatabaseConfig represents PostgreSQL/TimescaleDB connection parameters
type DatabaseConfig struct {
	Host           string        `envconfig:"DB_HOST" default:"localhost"`
	Port           int           `envconfig:"DB_PORT" default:"5432"`
	Name           string        `envconfig:"DB_NAME" default:"instrument"`
	User           string        `envconfig:"DB_USER" default:"postgres"`
	Password       string        `envconfig:"DB_PASSWORD" default:""`
	SSLMode        string        `envconfig:"DB_SSLMODE" default:"disable"`
	ConnectRetries uint          `envconfig:"DB_CONNECT_RETRIES" default:"5"`
	ConnectBackoff time.Duration `envconfig:"DB_CONNECT_BACKOFF" default:"2s"`
}

// ClickHouseConfig represents ClickHouse connection parameters
type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Database string `envconfig:"CLICKHOUSE_DATABASE" default:"instrument"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD" default:""`

	ConnectRetries uint          `envconfig:"CLICKHOUSE_CONNECT_RETRIES" default:"5"`
	ConnectBackoff time.Duration `envconfig:"CLICKHOUSE_CONNECT_BACKOFF" default:"2s"`
}

// LockConfig represents inter-process locking for merge and metadata
type LockConfig struct {
	Kind      string        `envconfig:"LOCK_KIND" default:"file"` // file or redis
	RedisHost string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort int           `envconfig:"REDIS_PORT" default:"6379"`
	TTL       time.Duration `envconfig:"LOCK_TTL" default:"30s"`
}

// HealthConfig represents the stats endpoint
type HealthConfig struct {
	Port int `envconfig:"HEALTH_PORT" default:"8080"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" default:""`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Writer.LowWatermark <= 0 || c.Writer.HighWatermark <= 0 {
		return fmt.Errorf("watermarks must be positive")
	}
	if c.Writer.LowWatermark >= c.Writer.HighWatermark {
		return fmt.Errorf("low watermark (%d) must be below high watermark (%d)",
			c.Writer.LowWatermark, c.Writer.HighWatermark)
	}
	if c.Writer.FlushInterval < 0 {
		return fmt.Errorf("flush interval must not be negative")
	}

	switch c.Backend.Kind {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case BackendTimescale:
		if c.Database.ConnectRetries == 0 {
			return fmt.Errorf("db connect retries must be at least 1")
		}
	case BackendClickHouse:
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}

	switch c.Lock.Kind {
	case LockFile:
	case LockRedis:
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("lock ttl must be positive")
		}
	default:
		return fmt.Errorf("unknown lock kind %q", c.Lock.Kind)
	}

	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return c.dsn(c.Name)
}

// GetMaintenanceDSN returns a connection string for the postgres maintenance
// database, used to create the target database when it is missing.
func (c *DatabaseConfig) GetMaintenanceDSN() string {
	return c.dsn("postgres")
}

func (c *DatabaseConfig) dsn(name string) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, name, c.SSLMode,
	)
}

// GetDSN returns ClickHouse connection string
func (c *ClickHouseConfig) GetDSN() string {
	return c.dsn(c.Database)
}

// GetMaintenanceDSN returns a connection string for the default database
func (c *ClickHouseConfig) GetMaintenanceDSN() string {
	return c.dsn("default")
}

func (c *ClickHouseConfig) dsn(database string) string {
	u := url.URL{
		Scheme: "clickhouse",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + database,
	}
	return u.String()
}

// GetAddr returns Redis address
func (c *LockConfig) GetAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}
