// Package config loads the add-on options.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultPath is where the Home Assistant supervisor mounts add-on options.
	DefaultPath = "/data/options.json"
	// EnvPrefix prefixes environment overrides, e.g. BOOKAWARE_USERNAME.
	EnvPrefix = "BOOKAWARE"
)

// Config holds the add-on options. Keys match options.json.
type Config struct {
	Username      string  `mapstructure:"username"`
	Password      string  `mapstructure:"password"`
	IntervalHours float64 `mapstructure:"interval_hours"`
	TopicPrefix   string  `mapstructure:"topic_prefix"`
	DueSoonDays   int     `mapstructure:"due_soon_days"`

	MQTTHost     string `mapstructure:"mqtt_host"`
	MQTTPort     int    `mapstructure:"mqtt_port"`
	MQTTUsername string `mapstructure:"mqtt_username"`
	MQTTPassword string `mapstructure:"mqtt_password"`
	MQTTClientID string `mapstructure:"mqtt_client_id"`

	StartURL    string        `mapstructure:"start_url"`
	UserAgent   string        `mapstructure:"user_agent"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	HTTPRetries int           `mapstructure:"http_retries"`

	LogLevel     string        `mapstructure:"log_level"`
	QueueDir     string        `mapstructure:"queue_dir"`
	SendInterval time.Duration `mapstructure:"send_interval"`
	DumpDir      string        `mapstructure:"dump_dir"`

	HistoryDriver string `mapstructure:"history_driver"`
	HistoryDSN    string `mapstructure:"history_dsn"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	SupervisorURL   string `mapstructure:"supervisor_url"`
	SupervisorToken string `mapstructure:"-"`
}

// Interval is the pause between two successful scrapes.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalHours * float64(time.Hour))
}

var defaults = map[string]interface{}{
	"username":       "",
	"password":       "",
	"interval_hours": 6.0,
	"topic_prefix":   "homeassistant/sensor/library_books",
	"due_soon_days":  5,
	"mqtt_host":      "",
	"mqtt_port":      1883,
	"mqtt_username":  "",
	"mqtt_password":  "",
	"mqtt_client_id": "bookaware",
	"start_url":      "https://voebb.de/",
	"user_agent":     "",
	"http_timeout":   "30s",
	"http_retries":   3,
	"log_level":      "info",
	"queue_dir":      "/data/queue",
	"send_interval":  "1s",
	"dump_dir":       "",
	"history_driver": "",
	"history_dsn":    "",
	"metrics_addr":   "",
	"supervisor_url": "http://supervisor",
}

// Load reads the options file at path, then applies BOOKAWARE_* environment
// overrides. A missing file is not an error; everything can come from env.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.SupervisorToken = os.Getenv("SUPERVISOR_TOKEN")

	return cfg, nil
}

// ValidateScraper checks the options needed to log into the portal.
func (c Config) ValidateScraper() error {
	if c.Username == "" {
		return errors.New("username is required")
	}
	if c.Password == "" {
		return errors.New("password is required")
	}
	if c.StartURL == "" {
		return errors.New("start_url is required")
	}
	return nil
}

// Validate checks the options needed by the daemon.
func (c Config) Validate() error {
	if err := c.ValidateScraper(); err != nil {
		return err
	}
	if c.MQTTHost == "" {
		return errors.New("mqtt_host is required when the supervisor mqtt service is unavailable")
	}
	if c.MQTTPort <= 0 {
		return fmt.Errorf("invalid mqtt_port: %d", c.MQTTPort)
	}
	if c.Interval() <= 0 {
		return fmt.Errorf("interval_hours must be positive, got %v", c.IntervalHours)
	}
	if c.DueSoonDays <= 0 {
		return fmt.Errorf("due_soon_days must be positive, got %d", c.DueSoonDays)
	}
	switch c.HistoryDriver {
	case "", "clickhouse", "sqlite":
	default:
		return fmt.Errorf("unknown history_driver: %s", c.HistoryDriver)
	}
	if c.HistoryDriver != "" && c.HistoryDSN == "" {
		return errors.New("history_dsn is required when history_driver is set")
	}
	return nil
}
