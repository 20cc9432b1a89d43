// Package config loads gatewayd settings from an optional YAML file and
// PASSKEYGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"passkeygate.org/internal/account"
)

const envPrefix = "PASSKEYGATE"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Store     StoreConfig     `mapstructure:"store"`
	Sink      SinkConfig      `mapstructure:"sink"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// GatewayConfig names the account the gateway acts as.
type GatewayConfig struct {
	Account string `mapstructure:"account"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// StoreConfig selects the state backend: "memory" or "postgres".
type StoreConfig struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// SinkConfig selects where batches go: "ledger" applies them to the
// in-process ledger, "remote" forwards them over gRPC.
type SinkConfig struct {
	Mode           string        `mapstructure:"mode"`
	Target         string        `mapstructure:"target"`
	Timeout        time.Duration `mapstructure:"timeout"`
	GenesisBalance string        `mapstructure:"genesis_balance"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// Load reads path (if non-empty) and applies environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("gateway.account", "gateway.near")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "passkeygate")
	v.SetDefault("auth.token_ttl", 15*time.Minute)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.migrate", false)
	v.SetDefault("sink.mode", "ledger")
	v.SetDefault("sink.target", "")
	v.SetDefault("sink.timeout", 10*time.Second)
	v.SetDefault("sink.genesis_balance", "0")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 50.0)
	v.SetDefault("rate_limit.burst", 100)
}

func (c Config) Validate() error {
	var errs []error
	if err := account.ID(c.Gateway.Account).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gateway.account: %w", err))
	}
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	switch c.Sink.Mode {
	case "ledger":
	case "remote":
		if strings.TrimSpace(c.Sink.Target) == "" {
			errs = append(errs, errors.New("sink.target is required for the remote sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("sink.mode: unknown mode %q", c.Sink.Mode))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit.rps and rate_limit.burst must be positive"))
	}
	return errors.Join(errs...)
}
