package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rpliva/hacs-cal-eu/internal/caleu"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultBaseURL           = caleu.DefaultBaseURL
	DefaultPollInterval      = 300 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
	DefaultRequestsPerSecond = 2.0
	DefaultBurst             = 4
	DefaultListenPort        = 8081
	DefaultSetupAttempts     = 3
	DefaultSetupDelay        = 5 * time.Second
)

// Environment variables overriding the file
const (
	EnvAPIKey       = "CALEU_API_KEY"
	EnvBaseURL      = "CALEU_BASE_URL"
	EnvPollInterval = "CALEU_POLL_INTERVAL"
	EnvListenPort   = "CALEU_LISTEN_PORT"
	EnvLogFile      = "CALEU_LOG_FILE"
)

// Validation errors
var (
	ErrMissingAPIKey   = errors.New("api_key is required")
	ErrInvalidBaseURL  = errors.New("base_url must be an absolute http(s) URL")
	ErrInvalidInterval = errors.New("poll_interval must be positive")
	ErrInvalidPort     = errors.New("listen_port must be between 1 and 65535")
)

// RetryConfig controls retries of the first refresh during setup
type RetryConfig struct {
	Attempts uint          `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Config is the integration configuration. Durations are written as Go
// duration strings ("5m", "30s").
type Config struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ListenPort        int           `yaml:"listen_port"`
	LogFile           string        `yaml:"log_file"`
	// CalendarStatuses limits the exported calendar feed. Empty means all.
	CalendarStatuses []string    `yaml:"calendar_statuses"`
	SetupRetry       RetryConfig `yaml:"setup_retry"`
}

// Default returns a configuration with every default applied and no API key
func Default() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		PollInterval:      DefaultPollInterval,
		RequestTimeout:    DefaultRequestTimeout,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		ListenPort:        DefaultListenPort,
		SetupRetry: RetryConfig{
			Attempts: DefaultSetupAttempts,
			Delay:    DefaultSetupDelay,
		},
	}
}

// Validate checks the fields the integration cannot run without
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}

	if c.PollInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.ListenPort)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when rate limiting is enabled")
	}
	return nil
}

// Statuses returns CalendarStatuses as upper-case booking statuses
func (c Config) Statuses() []caleu.Status {
	statuses := make([]caleu.Status, 0, len(c.CalendarStatuses))
	for _, s := range c.CalendarStatuses {
		if s = strings.TrimSpace(s); s != "" {
			statuses = append(statuses, caleu.Status(strings.ToUpper(s)))
		}
	}
	return statuses
}

// Loader reads the YAML file and applies environment overrides
type Loader struct {
	path   string
	logger *zap.Logger
}

// NewLoader creates a new configuration loader. An empty path skips the
// file and uses defaults plus environment.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		path:   path,
		logger: logger.Named("config"),
	}
}

// Load builds and validates the configuration
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.path != "" {
		l.logger.Debug("Loading config file", zap.String("path", l.path))

		data, err := os.ReadFile(l.path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	l.logger.Info("Config loaded",
		zap.String("base_url", cfg.BaseURL),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("listen_port", cfg.ListenPort),
		zap.Bool("file", l.path != ""))
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvPollInterval); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvPollInterval, err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv(EnvListenPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", EnvListenPort, err)
		}
		cfg.ListenPort = port
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.LogFile = v
	}
	return nil
}

// parseInterval accepts a duration string or a plain number of seconds
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
