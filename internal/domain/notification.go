package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Environment selects the gateway a notification is routed to.
type Environment string

const (
	EnvironmentProduction Environment = "PRODUCTION"
	EnvironmentSandbox    Environment = "SANDBOX"
)

func (e Environment) String() string { return string(e) }

func (e Environment) IsValid() bool {
	switch e {
	case EnvironmentProduction, EnvironmentSandbox:
		return true
	}
	return false
}

func ParseEnvironmentFromString(s string) (Environment, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "" {
		return EnvironmentProduction, nil
	}
	env := Environment(normalized)
	if !env.IsValid() {
		return "", fmt.Errorf("%w: invalid environment %q", ErrValidation, s)
	}
	return env, nil
}

// Priority represents the delivery urgency requested by the caller.
type Priority string

const (
	PriorityHigh Priority = "HIGH"
	PriorityLow  Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "" {
		return PriorityHigh, nil
	}
	pr := Priority(normalized)
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// MaxPayloadBytes is the gateway's limit for a regular remote notification.
const MaxPayloadBytes = 4096

// Notification is a push accepted by the relay API, addressed to one device.
type Notification struct {
	ID          string
	DeviceToken string
	Topic       string
	CollapseID  string
	ThreadID    string
	Environment Environment
	Priority    Priority
	ExpiresAt   *time.Time
	Payload     json.RawMessage
	CreatedAt   time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if err := validateDeviceToken(n.DeviceToken); err != nil {
		return err
	}
	if !n.Environment.IsValid() {
		return fmt.Errorf("%w: invalid environment %q", ErrValidation, n.Environment)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if len(n.CollapseID) > 64 {
		return fmt.Errorf("%w: collapse id exceeds 64 bytes", ErrValidation)
	}

	if len(n.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	// The gateway sees the compacted body, so the limit applies to that.
	var compact bytes.Buffer
	if err := json.Compact(&compact, n.Payload); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}
	if compact.Len() > MaxPayloadBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes (got %d)", ErrValidation, MaxPayloadBytes, compact.Len())
	}

	return nil
}

func (n *Notification) Sandbox() bool {
	return n.Environment == EnvironmentSandbox
}

func validateDeviceToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: device token is required", ErrValidation)
	}
	if len(token)%2 != 0 {
		return fmt.Errorf("%w: device token must be an even-length hex string", ErrValidation)
	}
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return fmt.Errorf("%w: device token must be hex encoded", ErrValidation)
		}
	}
	return nil
}
