package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PASSAGE_"

// Loader reads a YAML file over the defaults and applies environment overrides.
type Loader struct {
	useDotEnv bool
	lookup    func(string) (string, bool)
}

// NewLoader creates a loader that reads .env and the process environment.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookup:    os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithLookup overrides the environment source (useful for tests).
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookup = lookup
	}
	return l
}

// Load builds the configuration. A missing file at path is not an error
// when path is empty; an explicit path must exist.
func (l *Loader) Load(path string) (*Config, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	texts := map[string]*string{
		"SERVER_ADDR":            &cfg.Server.Addr,
		"SERVER_MODE":            &cfg.Server.Mode,
		"TOKEN_ISSUER":           &cfg.Token.Issuer,
		"TOKEN_SIGNING_KEY_FILE": &cfg.Token.SigningKeyFile,
		"STORE_DRIVER":           &cfg.Store.Driver,
		"STORE_DSN":              &cfg.Store.DSN,
		"STORE_REDIS_URL":        &cfg.Store.RedisURL,
		"STORE_PREFIX":           &cfg.Store.Prefix,
		"BROKER_DRIVER":          &cfg.Broker.Driver,
		"BROKER_REDIS_URL":       &cfg.Broker.RedisURL,
		"LOG_LEVEL":              &cfg.Log.Level,
		"LOG_FORMAT":             &cfg.Log.Format,
	}
	for name, dst := range texts {
		if v, ok := l.lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":                 &cfg.Token.TTL,
		"CHALLENGE_TTL":             &cfg.Challenge.TTL,
		"CHALLENGE_RESEND_INTERVAL": &cfg.Challenge.ResendInterval,
		"SWEEPER_INTERVAL":          &cfg.Sweeper.Interval,
	}
	for name, dst := range durations {
		if v, ok := l.lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"CHALLENGE_CODE_LENGTH":      &cfg.Challenge.CodeLength,
		"CHALLENGE_MAX_ATTEMPTS":     &cfg.Challenge.MaxAttempts,
		"RATELIMIT_LOGIN_PER_MINUTE": &cfg.RateLimit.LoginPerMinute,
		"RATELIMIT_BURST":            &cfg.RateLimit.Burst,
	}
	for name, dst := range ints {
		if v, ok := l.lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	if v, ok := l.lookup(EnvPrefix + "BROKER_LOG_CODES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sBROKER_LOG_CODES: %w", EnvPrefix, err)
		}
		cfg.Broker.LogCodes = b
	}
	return nil
}
