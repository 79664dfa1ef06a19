package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Token     TokenConfig     `yaml:"token"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Store     StoreConfig     `yaml:"store"`
	Broker    BrokerConfig    `yaml:"broker"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"` // gin mode: debug, release, test
}

type TokenConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	Issuer         string        `yaml:"issuer"`
	SigningKeyFile string        `yaml:"signing_key_file"`
}

type ChallengeConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	CodeLength     int           `yaml:"code_length"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ResendInterval time.Duration `yaml:"resend_interval"`
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

type BrokerConfig struct {
	Driver   string `yaml:"driver"`
	RedisURL string `yaml:"redis_url"`
	LogCodes bool   `yaml:"log_codes"`
}

type RateLimitConfig struct {
	LoginPerMinute int `yaml:"login_per_minute"`
	Burst          int `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or override is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
			Mode: "release",
		},
		Token: TokenConfig{
			TTL:    24 * time.Hour,
			Issuer: "passage",
		},
		Challenge: ChallengeConfig{
			TTL:            10 * time.Minute,
			CodeLength:     6,
			MaxAttempts:    5,
			ResendInterval: 30 * time.Second,
		},
		Sweeper: SweeperConfig{
			Interval: 24 * time.Hour,
		},
		Store: StoreConfig{
			Driver: "memory",
			Prefix: "passage:",
		},
		Broker: BrokerConfig{
			Driver: "memory",
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: 10,
			Burst:          5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects values the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"token.ttl":        c.Token.TTL,
		"challenge.ttl":    c.Challenge.TTL,
		"sweeper.interval": c.Sweeper.Interval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Challenge.ResendInterval < 0 {
		errs = append(errs, errors.New("challenge.resend_interval must not be negative"))
	}
	if c.Challenge.CodeLength < 4 || c.Challenge.CodeLength > 10 {
		errs = append(errs, errors.New("challenge.code_length must be between 4 and 10"))
	}
	if c.Challenge.MaxAttempts <= 0 {
		errs = append(errs, errors.New("challenge.max_attempts must be positive"))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Broker.Driver {
	case "memory":
	case "redis":
		if c.Broker.RedisURL == "" && c.Store.RedisURL == "" {
			errs = append(errs, errors.New("broker.redis_url is required for the redis broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker.driver %q", c.Broker.Driver))
	}

	return errors.Join(errs...)
}
