package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. KDS_CENTER_ID or
// KDS_METRICS_PORT. Unprefixed variables are never read.
const EnvPrefix = "KDS"

// Config represents the application configuration shared by kds and kdsd
type Config struct {
	ServerURL string `yaml:"server_url" split_words:"true" validate:"required,url"`
	APIPrefix string `yaml:"api_prefix" split_words:"true"`
	CenterID  int64  `yaml:"center_id" split_words:"true" validate:"gte=0"`
	Token     string `yaml:"token" split_words:"true"`

	LogLevel  string `yaml:"log_level" split_words:"true" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `yaml:"log_format" split_words:"true" validate:"omitempty,oneof=text json"`
	LogFile   string `yaml:"log_file" split_words:"true"`

	Feed    FeedConfig    `yaml:"feed" split_words:"true"`
	Board   BoardConfig   `yaml:"board" split_words:"true"`
	Waiting WaitingConfig `yaml:"waiting" split_words:"true"`
	Metrics MetricsConfig `yaml:"metrics" split_words:"true"`
	Backend BackendConfig `yaml:"backend" split_words:"true"`
}

// FeedConfig tunes the order feed client
type FeedConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay" split_words:"true" validate:"gt=0"`
	// IdleTimeout drops a silent connection; zero keeps it open
	IdleTimeout time.Duration `yaml:"idle_timeout" split_words:"true" validate:"gte=0"`
}

// BoardConfig tunes the order board
type BoardConfig struct {
	ReadyRemovalDelay time.Duration `yaml:"ready_removal_delay" split_words:"true" validate:"gt=0"`
	PaidRemovalDelay  time.Duration `yaml:"paid_removal_delay" split_words:"true" validate:"gt=0"`
	Currency          string        `yaml:"currency" split_words:"true"`
	Sound             bool          `yaml:"sound" split_words:"true"`
}

// WaitingConfig tunes the waiting orders poller
type WaitingConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" split_words:"true" validate:"gt=0"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" split_words:"true"`
	Port    int    `yaml:"port" split_words:"true" validate:"gte=0,lte=65535"`
	Path    string `yaml:"path" split_words:"true" validate:"omitempty,startswith=/"`
}

// BackendConfig configures the development backend
type BackendConfig struct {
	Addr            string        `yaml:"addr" split_words:"true"`
	DatabasePath    string        `yaml:"database_path" split_words:"true"`
	JWTSecret       string        `yaml:"jwt_secret" split_words:"true"`
	CashierCenterID int64         `yaml:"cashier_center_id" split_words:"true"`
	WaitThreshold   time.Duration `yaml:"wait_threshold" split_words:"true" validate:"gte=0"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ServerURL: "http://localhost:8000",
		APIPrefix: "/api/v1/panel",
		CenterID:  1,
		LogLevel:  "info",
		LogFormat: "text",
		Feed: FeedConfig{
			ReconnectDelay: 3 * time.Second,
		},
		Board: BoardConfig{
			ReadyRemovalDelay: 3 * time.Second,
			PaidRemovalDelay:  2 * time.Second,
			Currency:          "S/",
			Sound:             true,
		},
		Waiting: WaitingConfig{
			PollInterval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Backend: BackendConfig{
			Addr:            ":8000",
			DatabasePath:    "kds.db",
			JWTSecret:       "change-me",
			CashierCenterID: 3,
			WaitThreshold:   10 * time.Minute,
		},
	}
}

// Load reads the YAML file at path (optional), then applies .env and KDS_* overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config %s", path)
			}
		case os.IsNotExist(err):
			// Missing file means defaults plus environment
		default:
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "apply environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}
