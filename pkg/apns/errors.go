package apns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/apns-gateway/pkg/apns/token"
)

// SigningError is returned by Client.Send when a provider token cannot be
// signed.
type SigningError = token.SigningError

// ConfigurationError reports invalid or incomplete Options.
type ConfigurationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "apns configuration error")
	if e.Field != "" {
		parts = append(parts, e.Field)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// TransportError is a network or TLS failure. Description is the underlying
// transport's diagnostic string.
type TransportError struct {
	Description string
	Cause       error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "apns transport error: " + e.Description
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// GatewayError is an explicit rejection by the gateway.
type GatewayError struct {
	Kind       ErrorKind
	Reason     string
	StatusCode int
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("apns gateway error: status=%d: %s", e.StatusCode, e.Reason)
	}
	return "apns gateway error: " + e.Reason
}

// ParseError reports a response body that is not valid JSON.
type ParseError struct {
	Body  []byte
	Cause error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return "apns response parse error"
	}
	return "apns response parse error: " + e.Cause.Error()
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failure is likely to clear on its own. The
// client never retries; the classification is for callers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Kind.IsTransient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
