// Package config loads and validates movie-index configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// MOVIEINDEX_PROVIDER_API_KEY.
const EnvPrefix = "MOVIEINDEX"

// Config captures every knob of a run.
type Config struct {
	Sources  []string       `mapstructure:"sources"`
	Genres   []string       `mapstructure:"genres"`
	Export   ExportConfig   `mapstructure:"export"`
	Provider ProviderConfig `mapstructure:"provider"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Progress ProgressConfig `mapstructure:"progress"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// ExportConfig controls where and how the ranked catalog is written.
type ExportConfig struct {
	// Destination is a local path or a gs://bucket/object URL.
	Destination string `mapstructure:"destination"`
	Descending  bool   `mapstructure:"descending"`
}

// ProviderConfig points at the metadata provider.
type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig is shared by the listing fetcher and the provider client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the Prometheus textfile dump.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// ProgressConfig controls progress sinks.
type ProgressConfig struct {
	LogEvents bool `mapstructure:"log_events"`
}

// NotifyConfig names the Pub/Sub topic that receives run reports. An empty
// topic disables notifications.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied viper instance, which lets the CLI
// bind flags before values are resolved.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Sources = compact(cfg.Sources)
	cfg.Genres = compact(cfg.Genres)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sources", []string{})
	v.SetDefault("genres", []string{})
	v.SetDefault("export.destination", "movielist.csv")
	v.SetDefault("export.descending", true)
	v.SetDefault("provider.base_url", "http://www.omdbapi.com/")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "movie-index/0.1")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("progress.log_events", false)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources must list at least one listing URL")
	}
	for _, src := range c.Sources {
		if err := checkHTTPURL(src); err != nil {
			return fmt.Errorf("sources: %w", err)
		}
	}
	if err := checkHTTPURL(c.Provider.BaseURL); err != nil {
		return fmt.Errorf("provider.base_url: %w", err)
	}
	if strings.TrimSpace(c.Export.Destination) == "" {
		return fmt.Errorf("export.destination must be set")
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	if c.HTTP.TimeoutSeconds < 0 {
		return fmt.Errorf("http.timeout_seconds must be >= 0")
	}
	return nil
}

// RequestTimeout converts http.timeout_seconds into a duration; zero means
// requests are not bounded.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be an absolute http(s) URL", raw)
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
