package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Schwab   SchwabConfig   `mapstructure:"schwab"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Token    TokenConfig    `mapstructure:"token"`
	REST     RESTConfig     `mapstructure:"rest"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SchwabConfig holds the application credentials and venue endpoints.
type SchwabConfig struct {
	AppKey      string    `mapstructure:"app_key"`
	AppSecret   string    `mapstructure:"app_secret"`
	BaseURL     string    `mapstructure:"base_url"`     // REST + identity host, e.g. https://api.schwabapi.com
	RedirectURI string    `mapstructure:"redirect_uri"` // must match the app registration
	SSM         SSMConfig `mapstructure:"ssm"`
}

// SSMConfig names the Parameter Store entries read in prod.
type SSMConfig struct {
	AppKeyParam    string `mapstructure:"app_key_param"`
	AppSecretParam string `mapstructure:"app_secret_param"`
}

type AuthConfig struct {
	RefreshMargin   time.Duration `mapstructure:"refresh_margin"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"` // proactive refresh; 0 disables
}

type TokenConfig struct {
	Store      string `mapstructure:"store"` // "file", "memory" or "postgres"
	File       string `mapstructure:"file"`
	RecordName string `mapstructure:"record_name"`
}

type RESTConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type StreamConfig struct {
	LoginTimeout   time.Duration        `mapstructure:"login_timeout"`
	IdleTimeout    time.Duration        `mapstructure:"idle_timeout"`
	BackoffInitial time.Duration        `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration        `mapstructure:"backoff_max"`
	ChannelBuffer  int                  `mapstructure:"channel_buffer"`
	Subscriptions  []SubscriptionConfig `mapstructure:"subscriptions"`
}

// SubscriptionConfig is a subscription issued right after the stream starts.
type SubscriptionConfig struct {
	Service string   `mapstructure:"service"` // LEVELONE_EQUITIES, LEVELONE_OPTIONS, LEVELONE_FUTURES
	Keys    []string `mapstructure:"keys"`
	Fields  []string `mapstructure:"fields"` // empty = all fields
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string         `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string         `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string         `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string         `mapstructure:"environment"` // environment: "dev" or "prod"
	Rotation    RotationConfig `mapstructure:"rotation"`
}

// RotationConfig bounds the rotated log files written to OutputFile.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schwab.app_key", "")
	v.SetDefault("schwab.app_secret", "")
	v.SetDefault("schwab.base_url", "https://api.schwabapi.com")
	v.SetDefault("schwab.redirect_uri", "https://127.0.0.1")
	v.SetDefault("schwab.ssm.app_key_param", "SCHWAB_APP_KEY")
	v.SetDefault("schwab.ssm.app_secret_param", "SCHWAB_APP_SECRET")

	v.SetDefault("auth.refresh_margin", 60*time.Second)
	v.SetDefault("auth.max_attempts", 3)
	v.SetDefault("auth.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("auth.refresh_interval", 25*time.Minute)

	v.SetDefault("token.store", "file")
	v.SetDefault("token.file", "tokens.json")
	v.SetDefault("token.record_name", "default")

	v.SetDefault("rest.timeout", 30*time.Second)
	v.SetDefault("rest.requests_per_minute", 120)

	v.SetDefault("stream.login_timeout", 10*time.Second)
	v.SetDefault("stream.idle_timeout", 30*time.Second)
	v.SetDefault("stream.backoff_initial", time.Second)
	v.SetDefault("stream.backoff_max", 30*time.Second)
	v.SetDefault("stream.channel_buffer", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")
	v.SetDefault("log.rotation.max_size_mb", 10)
	v.SetDefault("log.rotation.max_backups", 5)
	v.SetDefault("log.rotation.max_age_days", 7)
	v.SetDefault("log.rotation.compress", true)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "schwabstream")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
}

// Load loads application configuration using Viper.
// It reads config.yaml (from path when given, else next to the binary) and
// overrides with environment variables, e.g. SCHWAB_APP_KEY or STREAM_IDLE_TIMEOUT.
// A missing config file is not an error; defaults and env still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")

		ex, _ := os.Executable()
		if strings.Contains(ex, "go-build") {
			pwd, _ := os.Getwd()
			v.AddConfigPath(filepath.Join(pwd, "../../config"))
		} else {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
		v.AddConfigPath(".")
	}

	// Support environment variables with dot notation (e.g., SCHWAB_APP_KEY)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && os.IsNotExist(err)) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate performs basic configuration validation. Credentials are checked
// later because in prod they come from Parameter Store.
func (c *Config) Validate() error {
	if c.Schwab.BaseURL == "" {
		return errors.New("schwab.base_url cannot be empty")
	}
	if c.Schwab.RedirectURI == "" {
		return errors.New("schwab.redirect_uri cannot be empty")
	}

	switch c.Token.Store {
	case "file":
		if c.Token.File == "" {
			return errors.New("token.file cannot be empty for the file store")
		}
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown token.store %q", c.Token.Store)
	}

	if c.Auth.RefreshMargin < 0 {
		return errors.New("auth.refresh_margin cannot be negative")
	}
	if c.Auth.MaxAttempts <= 0 {
		return errors.New("auth.max_attempts must be greater than 0")
	}
	if c.REST.Timeout <= 0 {
		return errors.New("rest.timeout must be greater than 0")
	}

	durations := map[string]time.Duration{
		"stream.login_timeout":   c.Stream.LoginTimeout,
		"stream.idle_timeout":    c.Stream.IdleTimeout,
		"stream.backoff_initial": c.Stream.BackoffInitial,
		"stream.backoff_max":     c.Stream.BackoffMax,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}
	if c.Stream.BackoffMax < c.Stream.BackoffInitial {
		return errors.New("stream.backoff_max must not be lower than stream.backoff_initial")
	}
	if c.Stream.ChannelBuffer < 0 {
		return errors.New("stream.channel_buffer cannot be negative")
	}

	for i, sub := range c.Stream.Subscriptions {
		if sub.Service == "" {
			return fmt.Errorf("stream.subscriptions[%d] must have a service", i)
		}
		if len(sub.Keys) == 0 {
			return fmt.Errorf("stream.subscriptions[%d] must have at least one key", i)
		}
	}
	return nil
}
