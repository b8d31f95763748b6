package apns

import (
	"crypto/ecdsa"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Port is the gateway port.
type Port int

const (
	PortDefault     Port = 443
	PortAlternative Port = 2197
)

// AuthMode selects how the client authenticates against the gateway.
type AuthMode string

const (
	AuthModeCertificate AuthMode = "certificate"
	AuthModeToken       AuthMode = "token"
)

func (m AuthMode) String() string { return string(m) }

// Options configures a Client. It is read once by New.
type Options struct {
	// CertPath enables certificate authentication. With KeyPath it names a
	// PEM certificate and its PEM private key; without KeyPath it names a
	// combined PEM or a .p12 bundle unlocked by CertPassword.
	CertPath     string
	KeyPath      string
	CertPassword string

	// Token authentication.
	TeamID     string
	KeyID      string
	PrivateKey *ecdsa.PrivateKey
	// PublicKey checks each signed token. Defaults to PrivateKey's public half.
	PublicKey *ecdsa.PublicKey

	Port  Port
	Topic string
	// Debug enables verbose wire logging.
	Debug bool
	// StrictVerify fails the send when token self-verification fails instead
	// of logging a warning.
	StrictVerify bool
	// Timeout bounds a single exchange with the gateway.
	Timeout time.Duration
}

func (o Options) UsesCertificateAuthentication() bool {
	return strings.TrimSpace(o.CertPath) != ""
}

func (o Options) AuthMode() AuthMode {
	if o.UsesCertificateAuthentication() {
		return AuthModeCertificate
	}
	return AuthModeToken
}

func (o Options) hasTokenCredentials() bool {
	return strings.TrimSpace(o.TeamID) != "" || strings.TrimSpace(o.KeyID) != "" || o.PrivateKey != nil
}

// Validate reports the first problem that prevents a client from being built.
func (o Options) Validate() error {
	if o.UsesCertificateAuthentication() {
		if o.hasTokenCredentials() {
			return &ConfigurationError{Field: "CertPath", Message: "certificate and token credentials are mutually exclusive"}
		}
	} else {
		if !o.hasTokenCredentials() {
			return &ConfigurationError{Field: "CertPath", Message: "either a certificate or token credentials are required"}
		}
		if strings.TrimSpace(o.TeamID) == "" {
			return &ConfigurationError{Field: "TeamID", Message: "team id is required for token authentication"}
		}
		if strings.TrimSpace(o.KeyID) == "" {
			return &ConfigurationError{Field: "KeyID", Message: "key id is required for token authentication"}
		}
		if o.PrivateKey == nil {
			return &ConfigurationError{Field: "PrivateKey", Message: "private key is required for token authentication"}
		}
	}

	switch o.Port {
	case 0, PortDefault, PortAlternative:
	default:
		return &ConfigurationError{Field: "Port", Message: "port must be 443 or 2197"}
	}

	if o.Timeout < 0 {
		return &ConfigurationError{Field: "Timeout", Message: "timeout must not be negative"}
	}

	return nil
}

// withDefaults fills zero values. Call after Validate.
func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = PortDefault
	}
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if !o.UsesCertificateAuthentication() && o.PublicKey == nil && o.PrivateKey != nil {
		o.PublicKey = &o.PrivateKey.PublicKey
	}
	return o
}
