package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func generateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	return key
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	key := generateKey(t)

	testCases := []struct {
		name      string
		opts      Options
		wantField string
	}{
		{name: "token mode", opts: Options{TeamID: "T", KeyID: "K", PrivateKey: key}},
		{name: "certificate mode", opts: Options{CertPath: "cert.pem", KeyPath: "key.pem"}},
		{name: "alternative port", opts: Options{CertPath: "cert.pem", Port: PortAlternative}},
		{name: "no credentials", opts: Options{}, wantField: "CertPath"},
		{name: "both modes", opts: Options{CertPath: "cert.pem", TeamID: "T", KeyID: "K", PrivateKey: key}, wantField: "CertPath"},
		{name: "missing team id", opts: Options{KeyID: "K", PrivateKey: key}, wantField: "TeamID"},
		{name: "missing key id", opts: Options{TeamID: "T", PrivateKey: key}, wantField: "KeyID"},
		{name: "missing private key", opts: Options{TeamID: "T", KeyID: "K"}, wantField: "PrivateKey"},
		{name: "bad port", opts: Options{CertPath: "cert.pem", Port: 8443}, wantField: "Port"},
		{name: "negative timeout", opts: Options{CertPath: "cert.pem", Timeout: -time.Second}, wantField: "Timeout"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.opts.Validate()
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigurationError", err)
			}
			if cfgErr.Field != tc.wantField {
				t.Fatalf("Field = %q, want %q", cfgErr.Field, tc.wantField)
			}
		})
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	key := generateKey(t)
	opts := Options{TeamID: "T", KeyID: "K", PrivateKey: key}.withDefaults()

	if opts.Port != PortDefault {
		t.Fatalf("Port = %d, want %d", opts.Port, PortDefault)
	}
	if opts.Timeout != defaultTimeout {
		t.Fatalf("Timeout = %s, want %s", opts.Timeout, defaultTimeout)
	}
	if opts.PublicKey == nil || !opts.PublicKey.Equal(&key.PublicKey) {
		t.Fatalf("PublicKey should default to the private key's public half")
	}
	if opts.AuthMode() != AuthModeToken {
		t.Fatalf("AuthMode() = %s, want token", opts.AuthMode())
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: true},
		{name: "canceled", err: &TransportError{Description: "canceled", Cause: context.Canceled}, want: false},
		{name: "throttled", err: &GatewayError{Kind: ErrorKindTooManyRequests, Reason: "TooManyRequests", StatusCode: 429}, want: true},
		{name: "bad token", err: &GatewayError{Kind: ErrorKindBadDeviceToken, Reason: "BadDeviceToken", StatusCode: 400}, want: false},
		{name: "net error", err: fmt.Errorf("dial: %w", timeoutError{}), want: true},
		{name: "transport", err: &TransportError{Description: "connection reset"}, want: true},
		{name: "parse", err: &ParseError{Cause: errors.New("bad json")}, want: false},
		{name: "configuration", err: &ConfigurationError{Field: "Port"}, want: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestConfigurationErrorMessage(t *testing.T) {
	t.Parallel()

	err := &ConfigurationError{Field: "Port", Message: "port must be 443 or 2197", Cause: errors.New("got 8443")}
	want := "apns configuration error: Port: port must be 443 or 2197: got 8443"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Cause) {
		t.Fatalf("ConfigurationError should unwrap to its cause")
	}
}
