package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/kursadbilgin/apns-gateway/pkg/apns"
	"github.com/kursadbilgin/apns-gateway/pkg/apns/token"
)

type Config struct {
	// Certificate authentication.
	CertPath     string `env:"APNS_CERT_PATH"`
	CertKeyPath  string `env:"APNS_CERT_KEY_PATH"`
	CertPassword string `env:"APNS_CERT_PASSWORD"`

	// Token authentication.
	TeamID        string `env:"APNS_TEAM_ID"`
	KeyID         string `env:"APNS_KEY_ID"`
	KeyPath       string `env:"APNS_KEY_PATH"`
	PublicKeyPath string `env:"APNS_PUBLIC_KEY_PATH"`

	Topic          string `env:"APNS_TOPIC"`
	Port           int    `env:"APNS_PORT,default=443"`
	Debug          bool   `env:"APNS_DEBUG,default=false"`
	StrictVerify   bool   `env:"APNS_STRICT_VERIFY,default=false"`
	TimeoutSeconds int    `env:"APNS_TIMEOUT_SECONDS,default=10"`

	APIPort          int    `env:"API_PORT,default=8080"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
	RedisURL         string `env:"REDIS_URL"`
	ResultTTLSeconds int    `env:"RESULT_TTL_SECONDS,default=86400"`
}

// Load reads an optional .env file from the working directory, then the
// process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("failed to load config: APNS_TIMEOUT_SECONDS must not be negative")
	}
	if cfg.ResultTTLSeconds <= 0 {
		return nil, fmt.Errorf("failed to load config: RESULT_TTL_SECONDS must be positive")
	}
	return &cfg, nil
}

func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLSeconds) * time.Second
}

// APNSOptions builds client options, loading key files as needed. The result
// is checked with apns.Options.Validate.
func (c *Config) APNSOptions() (apns.Options, error) {
	opts := apns.Options{
		CertPath:     strings.TrimSpace(c.CertPath),
		KeyPath:      strings.TrimSpace(c.CertKeyPath),
		CertPassword: c.CertPassword,
		TeamID:       strings.TrimSpace(c.TeamID),
		KeyID:        strings.TrimSpace(c.KeyID),
		Port:         apns.Port(c.Port),
		Topic:        strings.TrimSpace(c.Topic),
		Debug:        c.Debug,
		StrictVerify: c.StrictVerify,
		Timeout:      time.Duration(c.TimeoutSeconds) * time.Second,
	}

	if path := strings.TrimSpace(c.KeyPath); path != "" {
		key, err := token.LoadAuthKey(path)
		if err != nil {
			return apns.Options{}, &apns.ConfigurationError{Field: "APNS_KEY_PATH", Message: "failed to load auth key", Cause: err}
		}
		opts.PrivateKey = key
	}

	if path := strings.TrimSpace(c.PublicKeyPath); path != "" {
		key, err := token.LoadPublicKey(path)
		if err != nil {
			return apns.Options{}, &apns.ConfigurationError{Field: "APNS_PUBLIC_KEY_PATH", Message: "failed to load public key", Cause: err}
		}
		opts.PublicKey = key
	}

	if err := opts.Validate(); err != nil {
		return apns.Options{}, err
	}
	return opts, nil
}
