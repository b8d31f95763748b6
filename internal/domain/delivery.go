package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the final state of a delivery attempt.
type Status string

const (
	StatusSent   Status = "SENT"
	StatusFailed Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusSent, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Delivery records the gateway's answer for one notification. Failure
// fields are empty when Status is SENT. TokenInvalid tells the caller to stop
// sending to DeviceToken.
type Delivery struct {
	NotificationID string      `json:"notificationId"`
	DeviceToken    string      `json:"deviceToken"`
	Topic          string      `json:"topic,omitempty"`
	Environment    Environment `json:"environment"`
	Status         Status      `json:"status"`
	StatusCode     int         `json:"statusCode,omitempty"`
	ErrorKind      string      `json:"errorKind,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Detail         string      `json:"detail,omitempty"`
	Transient      bool        `json:"transient,omitempty"`
	TokenInvalid   bool        `json:"tokenInvalid,omitempty"`
	TokenExpiredAt *time.Time  `json:"tokenExpiredAt,omitempty"`
	DurationMS     int64       `json:"durationMs"`
	CreatedAt      time.Time   `json:"createdAt"`
}

func (d *Delivery) Succeeded() bool {
	return d != nil && d.Status == StatusSent
}

// TokenInvalidation is the gateway's latest verdict that a device token can
// no longer be used, and the environment that reported it.
type TokenInvalidation struct {
	Environment Environment `json:"environment"`
	Reason      string      `json:"reason,omitempty"`
	At          time.Time   `json:"at"`
}
