package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sophialabs/odatamock/internal/domain/manifest"
	"github.com/sophialabs/odatamock/internal/domain/options"
	"github.com/sophialabs/odatamock/internal/infrastructure/services"
)

// Config holds all configurable parameters for the application.
type Config struct {
	ManifestURL      string `yaml:"manifest"`
	DataSource       string `yaml:"data_source"`
	MockdataDir      string `yaml:"mockdata_dir"`
	GenerateMissing  bool   `yaml:"generate_missing"`
	GeneratedEntries int    `yaml:"generated_entries"`

	// Options passed to the configurator, as a caller would. Nil leaves the
	// option to Query or the defaults.
	Delay         *time.Duration `yaml:"delay"`
	MetadataError *bool          `yaml:"metadata_error"`
	ErrorType     *string        `yaml:"error_type"`
	// Query plays the role of the page URL parameters, e.g.
	// "serverDelay=100&errorType=badRequest".
	Query string `yaml:"query"`

	Port      int    `yaml:"port"`
	TraceSize int    `yaml:"trace_size"`
	LogLevel  string `yaml:"log_level"`

	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	RateLimiterTTL  time.Duration `yaml:"rate_limiter_ttl"`
	Watch           bool          `yaml:"watch"`
	WatcherDebounce time.Duration `yaml:"watcher_debounce"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ManifestURL:      "./webapp/manifest.json",
		DataSource:       manifest.DefaultDataSource,
		GenerateMissing:  true,
		GeneratedEntries: services.DefaultGeneratedEntries,

		Port:      8080,
		TraceSize: 200,
		LogLevel:  "info",

		RateBurst:       10,
		RateLimiterTTL:  10 * time.Minute,
		Watch:           true,
		WatcherDebounce: 500 * time.Millisecond,

		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfigFile overlays the YAML file at path onto cfg. Unknown keys are
// rejected.
func LoadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.ManifestURL == "":
		return errors.New("manifest location is required")
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.TraceSize <= 0:
		return errors.New("trace size must be positive")
	case c.RateLimit < 0:
		return errors.New("rate limit must not be negative")
	case c.GeneratedEntries < 0:
		return errors.New("generated entries must not be negative")
	}
	if _, err := options.FromQuery(c.Query); err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	return nil
}

// CallerOptions returns the options the outer initializer passes to the
// configurator.
func (c Config) CallerOptions() options.Options {
	return options.Options{
		Delay:         c.Delay,
		MetadataError: c.MetadataError,
		ErrorType:     c.ErrorType,
	}
}

// AmbientOptions parses Query.
func (c Config) AmbientOptions() (options.Options, error) {
	return options.FromQuery(c.Query)
}
