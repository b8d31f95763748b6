package apns

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// RawResponse is the gateway's reply with metadata kept apart from the body.
type RawResponse struct {
	StatusCode int
	Proto      string
	Header     http.Header
	Body       []byte
}

// Interpret turns a raw gateway response into the Result for notificationID.
//
// An empty body, or a JSON body without a reason key, is a success. A reason
// key makes a failure carrying a *GatewayError. A body that is not JSON makes
// an ErrorKindUnknown failure carrying a *ParseError.
func Interpret(raw *RawResponse, notificationID string) *Result {
	if raw == nil {
		return &Result{
			NotificationID: notificationID,
			Kind:           ErrorKindUnknown,
			Detail:         "empty response",
			Err:            &ParseError{Cause: errors.New("no response")},
		}
	}

	body := bytes.TrimSpace(raw.Body)
	if len(body) == 0 {
		return successResult(notificationID, raw.StatusCode)
	}

	if !json.Valid(body) {
		parseErr := &ParseError{Body: raw.Body, Cause: decodeError(body)}
		return &Result{
			NotificationID: notificationID,
			Status:         string(ServiceStatusFromCode(raw.StatusCode)),
			StatusCode:     raw.StatusCode,
			Kind:           ErrorKindUnknown,
			Detail:         parseErr.Error(),
			Err:            parseErr,
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		// Valid JSON that is not an object carries no reason key.
		return successResult(notificationID, raw.StatusCode)
	}

	rawReason, ok := fields["reason"]
	if !ok {
		return successResult(notificationID, raw.StatusCode)
	}

	reason := reasonString(rawReason)
	kind := MapReason(reason)
	result := &Result{
		NotificationID: notificationID,
		Status:         string(ServiceStatusFromCode(raw.StatusCode)),
		StatusCode:     raw.StatusCode,
		Kind:           kind,
		Reason:         reason,
		Detail:         reason,
		Err: &GatewayError{
			Kind:       kind,
			Reason:     reason,
			StatusCode: raw.StatusCode,
		},
	}

	if rawTimestamp, ok := fields["timestamp"]; ok {
		var millis int64
		if err := json.Unmarshal(rawTimestamp, &millis); err == nil && millis > 0 {
			result.Timestamp = time.UnixMilli(millis).UTC()
		}
	}

	return result
}

func reasonString(raw json.RawMessage) string {
	var reason string
	if err := json.Unmarshal(raw, &reason); err == nil {
		return reason
	}
	return string(raw)
}

func decodeError(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return err
	}
	return errors.New("invalid JSON")
}
