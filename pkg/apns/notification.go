package apns

import "time"

const (
	HostProduction  = "api.push.apple.com"
	HostDevelopment = "api.development.push.apple.com"
)

// Priority is the apns-priority header value.
type Priority int

const (
	// PriorityImmediate delivers the notification right away.
	PriorityImmediate Priority = 10
	// PriorityConserve lets the device defer delivery to save power.
	PriorityConserve Priority = 5
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityImmediate, PriorityConserve:
		return true
	}
	return false
}

// orDefault maps the zero value to PriorityImmediate.
func (p Priority) orDefault() Priority {
	if p == 0 {
		return PriorityImmediate
	}
	return p
}

// Notification is a single push addressed to one device. It is owned by the
// caller and never modified by the client.
type Notification struct {
	// ID is sent as apns-id and copied onto the Result for correlation.
	ID          string
	DeviceToken string
	// Payload is serialized as compact JSON. json.RawMessage and []byte are
	// treated as already-encoded JSON.
	Payload any
	// Expiration is optional; the zero time sends apns-expiration: 0.
	Expiration time.Time
	Priority   Priority
	// Topic overrides Options.Topic when set.
	Topic      string
	CollapseID string
	ThreadID   string
	// Sandbox targets the development gateway.
	Sandbox bool
}

// Host returns the gateway host the notification is routed to.
func (n Notification) Host() string {
	if n.Sandbox {
		return HostDevelopment
	}
	return HostProduction
}

// Environment names the gateway environment, used for logging and metrics.
func (n Notification) Environment() string {
	if n.Sandbox {
		return "sandbox"
	}
	return "production"
}
