package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable read by LoadConfig.
const Prefix = "QGET"

// Config struct for environment variables. Flags of the CLI default to these values.
// Keys are derived from field names only, so QGET_USER never falls back to $USER.
type Config struct {
	OutputDir        string        `split_words:"true" default:"."`
	MaxRedirects     int           `split_words:"true" default:"10"`
	MaxNameAttempts  int           `split_words:"true" default:"1000"`
	Parallel         int           `default:"4"`
	Timeout          time.Duration `default:"0s"`
	LimitRate        int           `split_words:"true" default:"0"`
	ProgressInterval int64         `split_words:"true" default:"1048576"`
	Proxy            string
	Insecure         bool `default:"false"`

	User     string
	Password string
	Token    string

	LogLevel  string `split_words:"true" default:"INFO"`
	LogFormat string `split_words:"true" default:"text"`

	JournalPath      string `split_words:"true"`
	NotifyWebhookURL string `split_words:"true"`

	Telemetry struct {
		Enabled      bool          `default:"false"`
		MetricsAddr  string        `split_words:"true" default:"127.0.0.1:9464"`
		OTLPEndpoint string        `split_words:"true"`
		OTLPInterval time.Duration `split_words:"true" default:"1m"`
	}
}

// LoadConfig reads QGET_* environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.OutputDir == "" {
		errs = append(errs, errors.New("output dir must not be empty"))
	}

	if c.MaxRedirects < 1 {
		errs = append(errs, fmt.Errorf("max redirects must be at least 1, got %d", c.MaxRedirects))
	}

	if c.MaxNameAttempts < 1 {
		errs = append(errs, fmt.Errorf("max name attempts must be at least 1, got %d", c.MaxNameAttempts))
	}

	if c.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1, got %d", c.Parallel))
	}

	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}

	if c.LimitRate < 0 {
		errs = append(errs, fmt.Errorf("limit rate must not be negative, got %d", c.LimitRate))
	}

	if c.ProgressInterval < 1 {
		errs = append(errs, fmt.Errorf("progress interval must be at least 1, got %d", c.ProgressInterval))
	}

	if c.Token != "" && c.User != "" {
		errs = append(errs, errors.New("token and user are mutually exclusive"))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q, want text or json", c.LogFormat))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
