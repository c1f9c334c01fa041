package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/camfleet/camfleet-server/internal/models"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
	Capture  CaptureConfig  `yaml:"capture"`
	Driver   DriverConfig   `yaml:"driver"`
}

// ServerConfig represents server identity configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration. An empty URL disables event
// publishing.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	MaxReconnects     int           `yaml:"max_reconnects"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret            string        `yaml:"secret"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	AdminUser         string        `yaml:"admin_user"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// EngineConfig represents orchestration engine configuration
type EngineConfig struct {
	MaxConcurrency         int           `yaml:"max_concurrency"`
	DefaultTimeout         time.Duration `yaml:"default_timeout"`
	DetectTimeout          time.Duration `yaml:"detect_timeout"`
	MinAutoCaptureInterval time.Duration `yaml:"min_auto_capture_interval"`
}

// CaptureConfig represents capture output configuration
type CaptureConfig struct {
	SaveDir          string                  `yaml:"save_dir"`
	FilenamePrefix   string                  `yaml:"filename_prefix"`
	OrganizeByFormat bool                    `yaml:"organize_by_format"`
	FormatPreference models.FormatPreference `yaml:"format_preference"`
}

// DriverConfig represents device driver configuration
type DriverConfig struct {
	Backend        string        `yaml:"backend"` // real | mock
	Gphoto2Bin     string        `yaml:"gphoto2_bin"`
	MockDevices    int           `yaml:"mock_devices"`
	MockLatency    time.Duration `yaml:"mock_latency"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if bin := os.Getenv("GPHOTO2_BIN"); bin != "" {
		c.Driver.Gphoto2Bin = bin
	}

	if saveDir := os.Getenv("CAPTURE_DIR"); saveDir != "" {
		c.Capture.SaveDir = saveDir
	}
}

// SetDefaults fills in unset values
func (c *Config) SetDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "camfleet-server"
	}

	if c.API.Port == 0 {
		c.API.Port = 8090
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Engine.MaxConcurrency == 0 {
		c.Engine.MaxConcurrency = 4
	}
	if c.Engine.DefaultTimeout == 0 {
		c.Engine.DefaultTimeout = 60 * time.Second
	}
	if c.Engine.DetectTimeout == 0 {
		c.Engine.DetectTimeout = 15 * time.Second
	}
	if c.Engine.MinAutoCaptureInterval == 0 {
		c.Engine.MinAutoCaptureInterval = time.Second
	}

	if c.Capture.SaveDir == "" {
		c.Capture.SaveDir = "captures"
	}
	if c.Capture.FormatPreference == "" {
		c.Capture.FormatPreference = models.FormatKeepAll
	}

	if c.Driver.Backend == "" {
		c.Driver.Backend = "real"
	}
	if c.Driver.Gphoto2Bin == "" {
		c.Driver.Gphoto2Bin = "gphoto2"
	}
	if c.Driver.MockDevices == 0 {
		c.Driver.MockDevices = 3
	}
	if c.Driver.CaptureTimeout == 0 {
		c.Driver.CaptureTimeout = 60 * time.Second
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 24 * time.Hour
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 5 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
}

// Validate checks values that have no sensible fallback
func (c *Config) Validate() error {
	switch c.Driver.Backend {
	case "real", "mock":
	default:
		return fmt.Errorf("invalid driver backend: %s", c.Driver.Backend)
	}

	switch c.Capture.FormatPreference {
	case models.FormatKeepAll, models.FormatPreferRaw, models.FormatPreferJpeg:
	default:
		return fmt.Errorf("invalid format preference: %s", c.Capture.FormatPreference)
	}

	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("engine max_concurrency must be positive")
	}

	return nil
}
