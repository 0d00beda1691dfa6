package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transvisor/internal/los"
)

const (
	KindGeoJSON = "geojson"
	KindGTFS    = "gtfs"
)

// Source is a route data file, addressed by URL or local path.
type Source struct {
	ID   string `yaml:"id" json:"id" validate:"required"`
	Kind string `yaml:"kind" json:"kind" validate:"omitempty,oneof=geojson gtfs"`
}

// ResolvedKind returns Kind, or guesses it from the ID's extension.
func (s Source) ResolvedKind() string {
	if s.Kind != "" {
		return s.Kind
	}
	if strings.HasSuffix(strings.ToLower(s.ID), ".zip") {
		return KindGTFS
	}
	return KindGeoJSON
}

type Config struct {
	LogLevel        slog.Level    `yaml:"log_level"`
	HTTPAddr        string        `yaml:"http_addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	Sources []Source `yaml:"sources" validate:"dive"`
	// Hosts POST /v1/sources may fetch from. Empty allows any public host.
	SourceAllowedHosts []string `yaml:"source_allowed_hosts" validate:"dive,hostname_rfc1123"`

	LOSStartHour int       `yaml:"los_start_hour" validate:"gte=0,lte=48"`
	LOSEndHour   int       `yaml:"los_end_hour" validate:"gtfield=LOSStartHour,lte=48"`
	Scale        los.Scale `yaml:"scale"`

	GTFSWeekday  string `yaml:"gtfs_weekday" validate:"oneof=sunday monday tuesday wednesday thursday friday saturday"`
	GTFSCacheDir string `yaml:"gtfs_cache_dir"`

	RedisEnabled  bool          `yaml:"redis_enabled"`
	RedisAddr     string        `yaml:"redis_addr" validate:"required_if=RedisEnabled true"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	CacheTTL      time.Duration `yaml:"cache_ttl" validate:"gte=0"`

	RateLimitPerWindow int           `yaml:"rate_limit_per_window" validate:"gt=0"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window" validate:"gt=0"`
	RateLimitWhitelist []string      `yaml:"rate_limit_whitelist"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Load reads the environment, then overlays the YAML file named by
// TRANSVISOR_CONFIG when set. File values win over the environment.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		Sources:            getSourcesEnv("SOURCES"),
		SourceAllowedHosts: getCSVEnv("SOURCE_ALLOWED_HOSTS"),

		LOSStartHour: getIntEnv("LOS_START_HOUR", 7),
		LOSEndHour:   getIntEnv("LOS_END_HOUR", 9),

		GTFSWeekday:  strings.ToLower(getEnv("GTFS_WEEKDAY", "monday")),
		GTFSCacheDir: getEnv("GTFS_CACHE_DIR", ""),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 24*time.Hour),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),

		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),
	}

	if path := os.Getenv("TRANSVISOR_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.Scale == nil {
		cfg.Scale = los.DefaultScale
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.GTFSWeekday = strings.ToLower(c.GTFSWeekday)
	return nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Window().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Scale != nil {
		if err := c.Scale.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// Window is the initial classification window.
func (c *Config) Window() los.Window {
	return los.WindowFromHours(c.LOSStartHour, c.LOSEndHour)
}

// Weekday is the service day used when building features from GTFS.
func (c *Config) Weekday() time.Weekday {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.GTFSWeekday) {
			return d
		}
	}
	return time.Monday
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}

func getSourcesEnv(key string) []Source {
	ids := getCSVEnv(key)
	if len(ids) == 0 {
		return nil
	}
	sources := make([]Source, 0, len(ids))
	for _, id := range ids {
		sources = append(sources, Source{ID: id})
	}
	return sources
}
