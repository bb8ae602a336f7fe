package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDatabasePath is the default SQLite database file shared by
	// the capture and serve processes.
	DefaultDatabasePath = "luxcap.db"

	// DefaultControlFile is the default path of the pause/resume cell.
	DefaultControlFile = "control.txt"

	// DefaultListen is the default chart API listen address.
	DefaultListen = ":8050"

	// DefaultSamplePeriod is the default interval between readings.
	DefaultSamplePeriod = 2 * time.Second

	// DefaultMaxDuration is the default experiment duration cap.
	DefaultMaxDuration = 1 * time.Hour

	// DefaultPollInterval is the default consumer poll interval.
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxPoints is the row count above which render frames are
	// downsampled.
	DefaultMaxPoints = 100000

	// DefaultStride is the decimation stride applied past MaxPoints.
	DefaultStride = 10
)

// Config is the root configuration for luxcap.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Capture  CaptureConfig  `yaml:"capture" mapstructure:"capture"`
	Device   DeviceConfig   `yaml:"device" mapstructure:"device"`
	Chart    ChartConfig    `yaml:"chart" mapstructure:"chart"`
}

// GlobalConfig contains settings shared by every subcommand.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level" mapstructure:"log_level"`
	ControlFile string `yaml:"control_file" mapstructure:"control_file"`
}

// DatabaseConfig selects and configures the reading store backend.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// CaptureConfig contains producer-side experiment settings. Changes take
// effect on the next experiment start; a running capture loop is never
// rescheduled mid-flight.
type CaptureConfig struct {
	SamplePeriod time.Duration `yaml:"sample_period" mapstructure:"sample_period"`
	MaxDuration  time.Duration `yaml:"max_duration" mapstructure:"max_duration"`
}

// ChartConfig contains the consumer process settings: the poll loop and
// the HTTP surface the rendering page talks to.
type ChartConfig struct {
	Listen       string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins  []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	PollInterval time.Duration   `yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxPoints    int             `yaml:"max_points" mapstructure:"max_points"`
	Stride       int             `yaml:"stride" mapstructure:"stride"`
	RateLimit    RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig contains per-IP rate limiting settings for the chart API.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// Load reads and parses a configuration file from the given path. An
// empty path yields a configuration consisting of defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.ControlFile == "" {
		c.Global.ControlFile = DefaultControlFile
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultDatabasePath
	}

	if c.Capture.SamplePeriod <= 0 {
		c.Capture.SamplePeriod = DefaultSamplePeriod
	}

	if c.Capture.MaxDuration <= 0 {
		c.Capture.MaxDuration = DefaultMaxDuration
	}

	if c.Chart.Listen == "" {
		c.Chart.Listen = DefaultListen
	}

	if c.Chart.PollInterval <= 0 {
		c.Chart.PollInterval = DefaultPollInterval
	}

	if c.Chart.MaxPoints <= 0 {
		c.Chart.MaxPoints = DefaultMaxPoints
	}

	if c.Chart.Stride <= 0 {
		c.Chart.Stride = DefaultStride
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("postgres database name is required")
		}
	}

	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Global.LogLevel, err)
	}

	return nil
}
