package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// PostgresConfig defines the configuration for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the connection string. In prod, host and credentials are read
// from Parameter Store instead of the config file.
func (cfg *PostgresConfig) DSN(ctx context.Context, env string) (string, error) {
	host, user, password := cfg.Host, cfg.User, cfg.Password

	if env == "prod" {
		store, err := NewParameterStore(ctx)
		if err != nil {
			return "", err
		}
		if host, err = store.Get(ctx, "SCHWABSTREAM_DB_HOST"); err != nil {
			return "", err
		}
		if user, err = store.Get(ctx, "SCHWABSTREAM_DB_USER"); err != nil {
			return "", err
		}
		if password, err = store.Get(ctx, "SCHWABSTREAM_DB_PASSWORD"); err != nil {
			return "", err
		}
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, cfg.DBName, cfg.SSLMode,
	)
	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}
	return dsn, nil
}

// ParameterStore reads decrypted values from AWS SSM Parameter Store.
type ParameterStore struct {
	client *ssm.Client
}

func NewParameterStore(ctx context.Context) (*ParameterStore, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctxWithTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &ParameterStore{client: ssm.NewFromConfig(cfg)}, nil
}

func (p *ParameterStore) Get(ctx context.Context, name string) (string, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	decrypt := true
	result, err := p.client.GetParameter(ctxWithTimeout, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return *result.Parameter.Value, nil
}

// ResolveCredentials fills in the app key and secret. Values already present
// (config file or env) win; in prod missing values are fetched from Parameter Store.
func (c *Config) ResolveCredentials(ctx context.Context) error {
	if c.Schwab.AppKey != "" && c.Schwab.AppSecret != "" {
		return nil
	}
	if c.Log.Environment != "prod" {
		return fmt.Errorf("schwab.app_key and schwab.app_secret must be set")
	}

	store, err := NewParameterStore(ctx)
	if err != nil {
		return err
	}
	if c.Schwab.AppKey == "" {
		if c.Schwab.AppKey, err = store.Get(ctx, c.Schwab.SSM.AppKeyParam); err != nil {
			return err
		}
	}
	if c.Schwab.AppSecret == "" {
		if c.Schwab.AppSecret, err = store.Get(ctx, c.Schwab.SSM.AppSecretParam); err != nil {
			return err
		}
	}
	return nil
}
