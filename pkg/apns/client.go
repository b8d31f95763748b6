// Package apns sends push notifications to the Apple Push Notification service
// over HTTP/2, authenticating with either a client TLS certificate or a
// per-send ES256 provider token.
package apns

import (
	"context"
	"crypto/x509"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/apns-gateway/pkg/apns/token"
)

// Client delivers notifications one at a time. A Client may be shared between
// goroutines; it holds no per-send state.
type Client struct {
	opts      Options
	builder   requestBuilder
	transport *transport
	logger    *zap.Logger
	now       func() time.Time
}

// ClientOption customizes a Client beyond its Options.
type ClientOption func(*clientSettings)

type clientSettings struct {
	logger      *zap.Logger
	ownLogger   bool
	production  string
	development string
	rootCAs     *x509.CertPool
	now         func() time.Time
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(s *clientSettings) {
		if logger != nil {
			s.logger = logger
			s.ownLogger = true
		}
	}
}

// WithEndpoints replaces the gateway base URLs, e.g. "https://127.0.0.1:8443".
// An empty value keeps the public host for that environment.
func WithEndpoints(production, development string) ClientOption {
	return func(s *clientSettings) {
		s.production = strings.TrimRight(strings.TrimSpace(production), "/")
		s.development = strings.TrimRight(strings.TrimSpace(development), "/")
	}
}

// WithRootCAs sets the pool used to verify the gateway's certificate. The
// system pool is used by default.
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(s *clientSettings) {
		s.rootCAs = pool
	}
}

// WithClock sets the source of token issue times.
func WithClock(now func() time.Time) ClientOption {
	return func(s *clientSettings) {
		if now != nil {
			s.now = now
		}
	}
}

// New validates opts and builds a Client. Invalid options, unreadable
// certificates and unusable signing keys fail here with a *ConfigurationError.
func New(opts Options, options ...ClientOption) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	settings := clientSettings{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}
	if opts.Debug && !settings.ownLogger {
		// Debug without a logger still has to print the wire dumps somewhere.
		if dev, err := zap.NewDevelopment(); err == nil {
			settings.logger = dev
		}
	}

	if !opts.UsesCertificateAuthentication() {
		if _, err := token.Sign(opts.TeamID, opts.KeyID, settings.now(), opts.PrivateKey); err != nil {
			return nil, &ConfigurationError{Field: "PrivateKey", Message: "unusable signing key", Cause: err}
		}
	}

	t, err := newTransport(opts, settings.rootCAs, settings.logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		opts:      opts,
		builder:   newRequestBuilder(opts, settings.production, settings.development),
		transport: t,
		logger:    settings.logger,
		now:       settings.now,
	}, nil
}

// Options returns the effective options, defaults applied.
func (c *Client) Options() Options {
	return c.opts
}

// Send delivers n and reports the outcome. Transport failures and gateway
// rejections come back as a failed Result; the returned error is reserved for
// problems that prevent a request from being built, such as a *SigningError
// or an unencodable payload.
//
// The exchange is bounded by ctx and by Options.Timeout.
func (c *Client) Send(ctx context.Context, n Notification) (*Result, error) {
	if c == nil || c.transport == nil {
		return nil, errors.New("apns client is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	bearer, result, err := c.providerToken(n)
	if err != nil || result != nil {
		return result, err
	}

	req, err := c.builder.build(n, bearer)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	raw, err := c.transport.send(ctx, req)
	if err != nil {
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			transportErr = &TransportError{Description: err.Error(), Cause: err}
		}
		c.logger.Warn("apns transport failure",
			zap.String("notificationId", n.ID),
			zap.String("environment", n.Environment()),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(transportErr),
		)
		return transportFailure(n.ID, transportErr), nil
	}

	res := Interpret(raw, n.ID)
	if !res.Success() {
		c.logger.Info("apns notification rejected",
			zap.String("notificationId", n.ID),
			zap.String("environment", n.Environment()),
			zap.Int("statusCode", raw.StatusCode),
			zap.String("kind", res.Kind.String()),
			zap.String("reason", res.Reason),
		)
	} else {
		c.logger.Debug("apns notification accepted",
			zap.String("notificationId", n.ID),
			zap.String("environment", n.Environment()),
			zap.String("proto", raw.Proto),
			zap.String("apnsId", raw.Header.Get(HeaderID)),
		)
	}
	return res, nil
}

// providerToken signs a fresh token for this send. In certificate mode it
// returns an empty bearer. A non-nil Result means the send must stop there.
func (c *Client) providerToken(n Notification) (string, *Result, error) {
	if c.opts.UsesCertificateAuthentication() {
		return "", nil, nil
	}

	signed, err := token.Sign(c.opts.TeamID, c.opts.KeyID, c.now(), c.opts.PrivateKey)
	if err != nil {
		return "", nil, err
	}

	if err := token.Verify(signed, c.opts.PublicKey); err != nil {
		if c.opts.StrictVerify {
			return "", &Result{
				NotificationID: n.ID,
				Kind:           ErrorKindInvalidSignature,
				Detail:         err.Error(),
				Err:            err,
			}, nil
		}
		c.logger.Warn("provider token failed self-verification",
			zap.String("notificationId", n.ID),
			zap.String("keyId", c.opts.KeyID),
			zap.Error(err),
		)
	}

	return signed, nil, nil
}

// Close releases idle gateway connections. The Client must not be used after
// Close.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.transport.close()
}
