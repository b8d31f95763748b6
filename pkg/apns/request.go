package apns

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// UserAgent is sent with every request.
const UserAgent = "apns-gateway/1.0"

const (
	HeaderID            = "apns-id"
	HeaderExpiration    = "apns-expiration"
	HeaderPriority      = "apns-priority"
	HeaderTopic         = "apns-topic"
	HeaderCollapseID    = "apns-collapse-id"
	HeaderThreadID      = "thread-id"
	HeaderAuthorization = "Authorization"

	mimeJSON = "application/json"
)

// Request is one fully assembled gateway call.
type Request struct {
	URL    string
	Header http.Header
	Body   []byte
}

// BuildRequest assembles the request for n against the public gateway hosts.
// bearer is the signed provider token and is ignored in certificate mode.
func BuildRequest(n Notification, opts Options, bearer string) (*Request, error) {
	return newRequestBuilder(opts, "", "").build(n, bearer)
}

type requestBuilder struct {
	opts Options
	// Base URL overrides; empty means the public host for the environment.
	production  string
	development string
}

func newRequestBuilder(opts Options, production, development string) requestBuilder {
	return requestBuilder{opts: opts, production: production, development: development}
}

func (b requestBuilder) build(n Notification, bearer string) (*Request, error) {
	body, err := encodePayload(n.Payload)
	if err != nil {
		return nil, err
	}

	return &Request{
		URL:    b.baseURL(n) + "/3/device/" + url.PathEscape(n.DeviceToken),
		Header: b.headers(n, bearer),
		Body:   body,
	}, nil
}

func (b requestBuilder) baseURL(n Notification) string {
	if n.Sandbox && b.development != "" {
		return b.development
	}
	if !n.Sandbox && b.production != "" {
		return b.production
	}

	base := "https://" + n.Host()
	if b.opts.Port != 0 && b.opts.Port != PortDefault {
		base += ":" + strconv.Itoa(int(b.opts.Port))
	}
	return base
}

func (b requestBuilder) headers(n Notification, bearer string) http.Header {
	topic := n.Topic
	if topic == "" {
		topic = b.opts.Topic
	}

	h := make(http.Header, 10)
	h.Set(HeaderID, n.ID)
	h.Set(HeaderExpiration, expirationValue(n.Expiration))
	h.Set(HeaderPriority, strconv.Itoa(int(n.Priority.orDefault())))
	h.Set(HeaderTopic, topic)
	if n.CollapseID != "" {
		h.Set(HeaderCollapseID, n.CollapseID)
	}
	if n.ThreadID != "" {
		h.Set(HeaderThreadID, n.ThreadID)
	}
	if !b.opts.UsesCertificateAuthentication() {
		h.Set(HeaderAuthorization, "bearer "+bearer)
	}
	h.Set("User-Agent", UserAgent)
	h.Set("Accept", mimeJSON)
	h.Set("Content-Type", mimeJSON)
	return h
}

func expirationValue(expiration time.Time) string {
	if expiration.IsZero() {
		return "0"
	}
	return strconv.FormatInt(expiration.Round(time.Second).Unix(), 10)
}

// encodePayload writes compact JSON without HTML escaping.
func encodePayload(payload any) ([]byte, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(payload); err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		return bytes.TrimRight(buf.Bytes(), "\n"), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("failed to compact payload: %w", err)
	}
	return buf.Bytes(), nil
}
