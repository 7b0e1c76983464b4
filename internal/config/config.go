// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Renderer kinds.
const (
	RendererCommand  = "command"
	RendererChromedp = "chromedp"
)

// Config captures every configuration knob loaded via Viper.
type Config struct {
	Token        string         `mapstructure:"token"`
	OutputFolder string         `mapstructure:"output_folder"`
	LogFolder    string         `mapstructure:"log_folder"`
	Renderer     RendererConfig `mapstructure:"renderer"`
	Pinboard     PinboardConfig `mapstructure:"pinboard"`
	Pipeline     PipelineConfig `mapstructure:"pipeline"`
	Mirror       MirrorConfig   `mapstructure:"mirror"`
	Metrics      MetricsConfig  `mapstructure:"metrics"`
}

// RendererConfig selects and tunes the page renderer.
type RendererConfig struct {
	Kind      string        `mapstructure:"kind"`
	Command   []string      `mapstructure:"command"`
	Format    string        `mapstructure:"format"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// PinboardConfig tunes the bookmarking-service client.
type PinboardConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	// Pause is the courtesy delay after each archive in interactive runs.
	Pause time.Duration `mapstructure:"pause"`
}

// MirrorConfig optionally copies artifacts to a GCS bucket.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig optionally writes a Prometheus textfile after each run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Load builds a Config from an optional .env file, the environment and an
// optional config file at path.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"token", "output_folder", "log_folder", "mirror.gcs_bucket", "metrics.textfile"} {
		_ = v.BindEnv(key)
	}

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
	cfg.Renderer.Format = strings.TrimPrefix(strings.ToLower(cfg.Renderer.Format), ".")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("renderer.kind", RendererCommand)
	v.SetDefault("renderer.command", []string{
		"chromium", "--headless", "--disable-gpu", "--print-to-pdf={output}", "{url}",
	})
	v.SetDefault("renderer.format", "pdf")
	v.SetDefault("renderer.timeout", "240s")
	v.SetDefault("pinboard.base_url", "https://api.pinboard.in/v1")
	v.SetDefault("pinboard.request_timeout", "60s")
	v.SetDefault("pinboard.requests_per_second", 0.33)
	v.SetDefault("pinboard.max_attempts", 3)
	v.SetDefault("pipeline.pause", "1s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("token must be set")
	}
	if strings.TrimSpace(c.OutputFolder) == "" {
		return fmt.Errorf("output_folder must be set")
	}
	if strings.TrimSpace(c.LogFolder) == "" {
		return fmt.Errorf("log_folder must be set")
	}
	switch c.Renderer.Kind {
	case RendererCommand:
		if len(c.Renderer.Command) == 0 {
			return fmt.Errorf("renderer.command must be set when renderer.kind is %q", RendererCommand)
		}
	case RendererChromedp:
		if c.Renderer.Format != "pdf" && c.Renderer.Format != "html" {
			return fmt.Errorf("renderer.format must be pdf or html when renderer.kind is %q", RendererChromedp)
		}
	default:
		return fmt.Errorf("renderer.kind must be %q or %q", RendererCommand, RendererChromedp)
	}
	if c.Renderer.Format == "" {
		return fmt.Errorf("renderer.format must be set")
	}
	if c.Renderer.Timeout <= 0 {
		return fmt.Errorf("renderer.timeout must be > 0")
	}
	if c.Pinboard.RequestTimeout <= 0 {
		return fmt.Errorf("pinboard.request_timeout must be > 0")
	}
	if c.Pinboard.RequestsPerSecond < 0 {
		return fmt.Errorf("pinboard.requests_per_second must be >= 0")
	}
	if c.Pinboard.MaxAttempts <= 0 {
		return fmt.Errorf("pinboard.max_attempts must be > 0")
	}
	if c.Pipeline.Pause < 0 {
		return fmt.Errorf("pipeline.pause must be >= 0")
	}
	return nil
}
