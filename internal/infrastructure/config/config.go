package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure of Load
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all application configuration
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Log           LogConfig
	HTTP          HTTPConfig
	Carrier       PlatformConfig
	OrderPlatform PlatformConfig
	Sync          SyncConfig
	Telemetry     TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	AutoMigrate     bool
	LogLevel        string // silent, error, warn, info
	SlowThreshold   time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64
	WebhookToken    string // shared secret expected in X-Webhook-Token; empty disables the check
}

// PlatformConfig holds the endpoint and credentials of a remote platform
type PlatformConfig struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	TimeoutSeconds int
	PageSize       int
}

// SyncConfig tunes the workers and their coordinators
type SyncConfig struct {
	Enabled         bool
	PollInterval    time.Duration
	BatchSize       int
	CourtesyDelay   time.Duration
	MaxRetries      int
	RateLimitBuffer time.Duration
	LeaseTTL        time.Duration
	HoldFallback    time.Duration
	ImportEnabled   bool
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	Insecure          bool
	ServiceName       string
	SamplingRatio     float64
	ExportInterval    time.Duration
	LogsEnabled       bool
}

// Load reads configuration. Priority, highest first: environment variables with
// the SHIPSYNC_ prefix (e.g. SHIPSYNC_REDIS_HOST), config.toml, built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/shipsync")
	return load(v)
}

// LoadFile reads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SHIPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			WebhookToken:    v.GetString("http.webhook_token"),
		},
		Carrier:       platformConfig(v, "carrier"),
		OrderPlatform: platformConfig(v, "order_platform"),
		Sync: SyncConfig{
			Enabled:         v.GetBool("sync.enabled"),
			PollInterval:    v.GetDuration("sync.poll_interval"),
			BatchSize:       v.GetInt("sync.batch_size"),
			CourtesyDelay:   v.GetDuration("sync.courtesy_delay"),
			MaxRetries:      v.GetInt("sync.max_retries"),
			RateLimitBuffer: v.GetDuration("sync.rate_limit_buffer"),
			LeaseTTL:        v.GetDuration("sync.lease_ttl"),
			HoldFallback:    v.GetDuration("sync.hold_fallback"),
			ImportEnabled:   v.GetBool("sync.import_enabled"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ServiceName:       v.GetString("telemetry.service_name"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func platformConfig(v *viper.Viper, section string) PlatformConfig {
	return PlatformConfig{
		BaseURL:        v.GetString(section + ".base_url"),
		APIKey:         v.GetString(section + ".api_key"),
		APISecret:      v.GetString(section + ".api_secret"),
		TimeoutSeconds: v.GetInt(section + ".timeout_seconds"),
		PageSize:       v.GetInt(section + ".page_size"),
	}
}

// setDefaults registers every default with viper so that environment variables
// can override keys absent from the file
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "shipsync")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "shipsync")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.conn_max_idle_time", 30)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "shipsync")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.max_body_size", 1<<20)
	v.SetDefault("http.webhook_token", "")

	for _, section := range []string{"carrier", "order_platform"} {
		v.SetDefault(section+".base_url", "")
		v.SetDefault(section+".api_key", "")
		v.SetDefault(section+".api_secret", "")
		v.SetDefault(section+".timeout_seconds", 30)
		v.SetDefault(section+".page_size", 100)
	}

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.poll_interval", 30*time.Second)
	v.SetDefault("sync.batch_size", 25)
	v.SetDefault("sync.courtesy_delay", 250*time.Millisecond)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.rate_limit_buffer", 5*time.Second)
	v.SetDefault("sync.lease_ttl", 15*time.Minute)
	v.SetDefault("sync.hold_fallback", 10*time.Minute)
	v.SetDefault("sync.import_enabled", true)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.collector_endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.service_name", "shipsync")
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	v.SetDefault("telemetry.export_interval", 30*time.Second)
	v.SetDefault("telemetry.logs_enabled", false)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// validate checks cross-field constraints
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return invalid("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return invalid("database.max_idle_conns (%d) must be between 0 and database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Sync.PollInterval <= 0 {
		return invalid("sync.poll_interval must be positive")
	}
	if c.Sync.BatchSize <= 0 {
		return invalid("sync.batch_size must be positive")
	}
	if c.Sync.CourtesyDelay < 0 || c.Sync.RateLimitBuffer < 0 || c.Sync.HoldFallback < 0 {
		return invalid("sync delays cannot be negative")
	}
	if c.Sync.MaxRetries < 0 {
		return invalid("sync.max_retries cannot be negative")
	}
	// a lease shorter than the poll interval lets a slow batch overlap the next tick
	if c.Sync.LeaseTTL < c.Sync.PollInterval {
		return invalid("sync.lease_ttl (%s) must be at least sync.poll_interval (%s)",
			c.Sync.LeaseTTL, c.Sync.PollInterval)
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return invalid("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return invalid("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return invalid("database.sslmode cannot be 'disable' in production")
		}
		if c.HTTP.WebhookToken == "" {
			return invalid("http.webhook_token is required in production")
		}
	}
	return nil
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
