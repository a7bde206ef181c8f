package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Maps      MapsConfig      `mapstructure:"maps"`
	Firebase  FirebaseConfig  `mapstructure:"firebase"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Fare      FareConfig      `mapstructure:"fare"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout"`
	WriteTimeout   int      `mapstructure:"write_timeout"`
	RequestTimeout int      `mapstructure:"request_timeout"`
	RateLimit      int      `mapstructure:"rate_limit"` // requests per minute per IP
	CORSOrigins    []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RedisConfig configures the per-trip lock. An empty Addr disables locking
// and trip writes rely on optimistic versioning alone.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MapsConfig configures the Google Maps geocoder and directions provider.
// An empty APIKey disables external lookups.
type MapsConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Region         string `mapstructure:"region"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (m MapsConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// FirebaseConfig configures push notifications. Without a project ID
// notifications are only logged.
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type TemporalConfig struct {
	HostPort          string `mapstructure:"host_port"`
	Namespace         string `mapstructure:"namespace"`
	TaskQueue         string `mapstructure:"task_queue"`
	ReviewWindowHours int    `mapstructure:"review_window_hours"`
	Enabled           bool   `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	OTLPAddr    string  `mapstructure:"otlp_addr"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Enabled     bool    `mapstructure:"enabled"`
}

type ResolverConfig struct {
	MatchRadiusMeters float64 `mapstructure:"match_radius_meters"`
}

type RoutingConfig struct {
	MaxResults         int     `mapstructure:"max_results"`
	MaxDepth           int     `mapstructure:"max_depth"`
	WalkSearchRadiusKm float64 `mapstructure:"walk_search_radius_km"`
	MaxWalkMeters      float64 `mapstructure:"max_walk_meters"`
	WalkOnlyMeters     float64 `mapstructure:"walk_only_meters"`
	PlanCacheSeconds   int     `mapstructure:"plan_cache_seconds"`
}

type FareConfig struct {
	Band               float64  `mapstructure:"band"`
	HistoryDays        int      `mapstructure:"history_days"`
	DeviationThreshold float64  `mapstructure:"deviation_threshold"`
	Ceiling            float64  `mapstructure:"ceiling"`
	Holidays           []string `mapstructure:"holidays"` // MM-DD
}

type TrackingConfig struct {
	ArrivalRadiusMeters  float64 `mapstructure:"arrival_radius_meters"`
	ApproachRadiusMeters float64 `mapstructure:"approach_radius_meters"`
	AverageSpeedKmh      float64 `mapstructure:"average_speed_kmh"`
	LockTTLSeconds       int     `mapstructure:"lock_ttl_seconds"`
	MaxRetries           int     `mapstructure:"max_retries"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.request_timeout", 15)
	v.SetDefault("server.rate_limit", 300)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "korope")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "korope")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.key_prefix", "korope:")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("maps.api_key", "")
	v.SetDefault("maps.region", "ng")
	v.SetDefault("maps.timeout_seconds", 5)
	v.SetDefault("firebase.project_id", "")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "fare-feedback-review")
	v.SetDefault("temporal.review_window_hours", 24)
	v.SetDefault("temporal.enabled", false)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.otlp_addr", "tempo:4317")
	v.SetDefault("telemetry.sample_ratio", 0.1)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("resolver.match_radius_meters", 100)
	v.SetDefault("routing.max_results", 3)
	v.SetDefault("routing.max_depth", 3)
	v.SetDefault("routing.walk_search_radius_km", 1.5)
	v.SetDefault("routing.max_walk_meters", 2000)
	v.SetDefault("routing.walk_only_meters", 500)
	v.SetDefault("routing.plan_cache_seconds", 300)
	v.SetDefault("fare.band", 0.2)
	v.SetDefault("fare.history_days", 30)
	v.SetDefault("fare.deviation_threshold", 0.5)
	v.SetDefault("fare.ceiling", 50000)
	v.SetDefault("fare.holidays", []string{"01-01", "05-01", "06-12", "10-01", "12-25", "12-26"})
	v.SetDefault("tracking.arrival_radius_meters", 50)
	v.SetDefault("tracking.approach_radius_meters", 300)
	v.SetDefault("tracking.average_speed_kmh", 20)
	v.SetDefault("tracking.lock_ttl_seconds", 5)
	v.SetDefault("tracking.max_retries", 3)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: KOROPE_DATABASE_HOST → database.host
	v.SetEnvPrefix("KOROPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Maps.TimeoutSeconds <= 0 {
		errs = append(errs, "maps.timeout_seconds must be positive")
	}
	if c.Temporal.Enabled && c.Temporal.TaskQueue == "" {
		errs = append(errs, "temporal.task_queue is required when temporal is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Resolver.MatchRadiusMeters <= 0 {
		errs = append(errs, "resolver.match_radius_meters must be positive")
	}
	if c.Routing.MaxResults <= 0 {
		errs = append(errs, "routing.max_results must be positive")
	}
	if c.Routing.MaxDepth < 1 {
		errs = append(errs, "routing.max_depth must be at least 1")
	}
	if c.Routing.WalkOnlyMeters > c.Routing.MaxWalkMeters {
		errs = append(errs, "routing.walk_only_meters must not exceed routing.max_walk_meters")
	}
	if c.Fare.Band < 0 || c.Fare.Band >= 1 {
		errs = append(errs, "fare.band must be within [0, 1)")
	}
	if c.Fare.Ceiling <= 0 {
		errs = append(errs, "fare.ceiling must be positive")
	}
	if c.Tracking.ArrivalRadiusMeters <= 0 || c.Tracking.ApproachRadiusMeters <= c.Tracking.ArrivalRadiusMeters {
		errs = append(errs, "tracking radii must satisfy 0 < arrival < approach")
	}
	if c.Tracking.AverageSpeedKmh <= 0 {
		errs = append(errs, "tracking.average_speed_kmh must be positive")
	}
	if c.Tracking.MaxRetries < 1 {
		errs = append(errs, "tracking.max_retries must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
