package apns

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sideshow/apns2/certificate"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	maxRedirects        = 10
	dialTimeout         = 10 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	idleConnTimeout     = 90 * time.Second
	// HTTP/2 ping cadence on an idle connection, and how long to wait for the
	// ack before dropping it.
	readIdleTimeout = 15 * time.Second
	pingTimeout     = 15 * time.Second
)

// transport owns the HTTP/2 connection pool for one Client.
type transport struct {
	client *resty.Client
	http   *http.Transport
}

func newTransport(opts Options, rootCAs *x509.CertPool, logger *zap.Logger) (*transport, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    rootCAs,
	}

	if opts.UsesCertificateAuthentication() {
		cert, err := loadCertificate(opts)
		if err != nil {
			return nil, &ConfigurationError{Field: "CertPath", Message: "failed to load client certificate", Cause: err}
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	httpTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		IdleConnTimeout:     idleConnTimeout,
	}

	h2, err := http2.ConfigureTransports(httpTransport)
	if err != nil {
		return nil, fmt.Errorf("failed to enable http2: %w", err)
	}
	h2.ReadIdleTimeout = readIdleTimeout
	h2.PingTimeout = pingTimeout

	client := resty.New()
	client.SetTransport(httpTransport)
	client.SetTimeout(opts.Timeout)
	client.SetRetryCount(0)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))
	client.SetLogger(wireLogger{logger: logger})
	client.SetDebug(opts.Debug)
	client.OnRequestLog(redactRequestLog)

	return &transport{client: client, http: httpTransport}, nil
}

// send performs one POST. Any error is a *TransportError.
func (t *transport) send(ctx context.Context, req *Request) (*RawResponse, error) {
	if t == nil || t.client == nil {
		return nil, &TransportError{Description: "transport is not initialized"}
	}

	r := t.client.R().SetContext(ctx).SetBody(req.Body)
	r.Header = req.Header.Clone()

	response, err := r.Post(req.URL)
	if err != nil {
		return nil, &TransportError{Description: err.Error(), Cause: err}
	}
	if response == nil || response.RawResponse == nil {
		return nil, &TransportError{Description: "gateway returned empty response"}
	}

	return &RawResponse{
		StatusCode: response.StatusCode(),
		Proto:      response.Proto(),
		Header:     response.Header(),
		Body:       response.Body(),
	}, nil
}

// wireLogger routes resty output into zap. Wire dumps are only produced when
// Options.Debug is set, so they are written at Info to show up without
// lowering the logger's level.
type wireLogger struct {
	logger *zap.Logger
}

func (l wireLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l wireLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l wireLogger) Debugf(format string, v ...interface{}) {
	l.logger.Info("apns wire dump", zap.String("dump", fmt.Sprintf(format, v...)))
}

// redactRequestLog keeps the provider token out of wire dumps. resty hands the
// callback a copy of the headers, so the request itself is unchanged.
func redactRequestLog(rl *resty.RequestLog) error {
	if rl.Header.Get(HeaderAuthorization) != "" {
		rl.Header.Set(HeaderAuthorization, "bearer [redacted]")
	}
	return nil
}

func (t *transport) close() {
	if t == nil || t.http == nil {
		return
	}
	t.http.CloseIdleConnections()
}

// loadCertificate reads the client identity. A separate key path means PEM
// certificate plus PEM key; otherwise the certificate file is a .p12 bundle or
// a combined PEM.
func loadCertificate(opts Options) (tls.Certificate, error) {
	certPath := strings.TrimSpace(opts.CertPath)
	if keyPath := strings.TrimSpace(opts.KeyPath); keyPath != "" {
		return tls.LoadX509KeyPair(certPath, keyPath)
	}

	switch strings.ToLower(filepath.Ext(certPath)) {
	case ".p12", ".pfx":
		return certificate.FromP12File(certPath, opts.CertPassword)
	case ".pem", ".crt", ".cer":
		return certificate.FromPemFile(certPath, opts.CertPassword)
	}
	return tls.Certificate{}, errors.New("key path is required unless the certificate is a .p12 or combined .pem file")
}
