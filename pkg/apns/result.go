package apns

import (
	"net/http"
	"time"
)

// StatusSuccess is the status descriptor of every successful Result.
const StatusSuccess = "success"

// ErrorKind classifies a failed send. Gateway reason codes map onto the
// constants of the same name; anything else becomes ErrorKindOther with the
// raw string kept in Result.Reason.
type ErrorKind string

const (
	ErrorKindBadCollapseID               ErrorKind = "BadCollapseId"
	ErrorKindBadDeviceToken              ErrorKind = "BadDeviceToken"
	ErrorKindBadExpirationDate           ErrorKind = "BadExpirationDate"
	ErrorKindBadMessageID                ErrorKind = "BadMessageId"
	ErrorKindBadPriority                 ErrorKind = "BadPriority"
	ErrorKindBadTopic                    ErrorKind = "BadTopic"
	ErrorKindDeviceTokenNotForTopic      ErrorKind = "DeviceTokenNotForTopic"
	ErrorKindDuplicateHeaders            ErrorKind = "DuplicateHeaders"
	ErrorKindIdleTimeout                 ErrorKind = "IdleTimeout"
	ErrorKindInvalidPushType             ErrorKind = "InvalidPushType"
	ErrorKindMissingDeviceToken          ErrorKind = "MissingDeviceToken"
	ErrorKindMissingTopic                ErrorKind = "MissingTopic"
	ErrorKindPayloadEmpty                ErrorKind = "PayloadEmpty"
	ErrorKindTopicDisallowed             ErrorKind = "TopicDisallowed"
	ErrorKindBadCertificate              ErrorKind = "BadCertificate"
	ErrorKindBadCertificateEnvironment   ErrorKind = "BadCertificateEnvironment"
	ErrorKindExpiredProviderToken        ErrorKind = "ExpiredProviderToken"
	ErrorKindForbidden                   ErrorKind = "Forbidden"
	ErrorKindInvalidProviderToken        ErrorKind = "InvalidProviderToken"
	ErrorKindMissingProviderToken        ErrorKind = "MissingProviderToken"
	ErrorKindUnrelatedKeyIDInToken       ErrorKind = "UnrelatedKeyIdInToken"
	ErrorKindBadPath                     ErrorKind = "BadPath"
	ErrorKindMethodNotAllowed            ErrorKind = "MethodNotAllowed"
	ErrorKindExpiredToken                ErrorKind = "ExpiredToken"
	ErrorKindUnregistered                ErrorKind = "Unregistered"
	ErrorKindPayloadTooLarge             ErrorKind = "PayloadTooLarge"
	ErrorKindTooManyProviderTokenUpdates ErrorKind = "TooManyProviderTokenUpdates"
	ErrorKindTooManyRequests             ErrorKind = "TooManyRequests"
	ErrorKindInternalServerError         ErrorKind = "InternalServerError"
	ErrorKindServiceUnavailable          ErrorKind = "ServiceUnavailable"
	ErrorKindShutdown                    ErrorKind = "Shutdown"

	// ErrorKindOther is an unrecognized gateway reason.
	ErrorKindOther ErrorKind = "Other"
	// ErrorKindUnknown is a response that could not be interpreted.
	ErrorKindUnknown ErrorKind = "Unknown"
	// ErrorKindTransport is a network or TLS failure.
	ErrorKindTransport ErrorKind = "Transport"
	// ErrorKindInvalidSignature is a provider token that failed
	// self-verification under Options.StrictVerify.
	ErrorKindInvalidSignature ErrorKind = "InvalidSignature"
)

var gatewayReasons = map[ErrorKind]struct{}{
	ErrorKindBadCollapseID:               {},
	ErrorKindBadDeviceToken:              {},
	ErrorKindBadExpirationDate:           {},
	ErrorKindBadMessageID:                {},
	ErrorKindBadPriority:                 {},
	ErrorKindBadTopic:                    {},
	ErrorKindDeviceTokenNotForTopic:      {},
	ErrorKindDuplicateHeaders:            {},
	ErrorKindIdleTimeout:                 {},
	ErrorKindInvalidPushType:             {},
	ErrorKindMissingDeviceToken:          {},
	ErrorKindMissingTopic:                {},
	ErrorKindPayloadEmpty:                {},
	ErrorKindTopicDisallowed:             {},
	ErrorKindBadCertificate:              {},
	ErrorKindBadCertificateEnvironment:   {},
	ErrorKindExpiredProviderToken:        {},
	ErrorKindForbidden:                   {},
	ErrorKindInvalidProviderToken:        {},
	ErrorKindMissingProviderToken:        {},
	ErrorKindUnrelatedKeyIDInToken:       {},
	ErrorKindBadPath:                     {},
	ErrorKindMethodNotAllowed:            {},
	ErrorKindExpiredToken:                {},
	ErrorKindUnregistered:                {},
	ErrorKindPayloadTooLarge:             {},
	ErrorKindTooManyProviderTokenUpdates: {},
	ErrorKindTooManyRequests:             {},
	ErrorKindInternalServerError:         {},
	ErrorKindServiceUnavailable:          {},
	ErrorKindShutdown:                    {},
}

func (k ErrorKind) String() string { return string(k) }

// MapReason translates a gateway reason code. It never fails.
func MapReason(reason string) ErrorKind {
	kind := ErrorKind(reason)
	if _, ok := gatewayReasons[kind]; ok {
		return kind
	}
	return ErrorKindOther
}

// IsTransient reports whether the gateway is likely to accept the same
// notification later.
func (k ErrorKind) IsTransient() bool {
	switch k {
	case ErrorKindTooManyRequests, ErrorKindInternalServerError, ErrorKindServiceUnavailable,
		ErrorKindShutdown, ErrorKindIdleTimeout, ErrorKindTransport:
		return true
	}
	return false
}

// DeviceTokenInvalid reports whether the device token should be discarded.
func (k ErrorKind) DeviceTokenInvalid() bool {
	switch k {
	case ErrorKindBadDeviceToken, ErrorKindUnregistered, ErrorKindDeviceTokenNotForTopic, ErrorKindExpiredToken:
		return true
	}
	return false
}

// ServiceStatus describes the gateway's HTTP status code.
type ServiceStatus string

const (
	ServiceStatusSuccess              ServiceStatus = "success"
	ServiceStatusBadRequest           ServiceStatus = "bad-request"
	ServiceStatusBadCertificate       ServiceStatus = "bad-certificate"
	ServiceStatusBadPath              ServiceStatus = "bad-path"
	ServiceStatusBadMethod            ServiceStatus = "bad-method"
	ServiceStatusDeviceTokenInactive  ServiceStatus = "device-token-inactive"
	ServiceStatusPayloadTooLarge      ServiceStatus = "payload-too-large"
	ServiceStatusTooManyRequests      ServiceStatus = "too-many-requests"
	ServiceStatusInternalServerError  ServiceStatus = "internal-server-error"
	ServiceStatusServiceUnavailable   ServiceStatus = "service-unavailable"
	ServiceStatusUnexpectedStatusCode ServiceStatus = "unexpected-status"
)

// ServiceStatusFromCode maps a gateway HTTP status code to its descriptor.
func ServiceStatusFromCode(code int) ServiceStatus {
	switch code {
	case http.StatusOK:
		return ServiceStatusSuccess
	case http.StatusBadRequest:
		return ServiceStatusBadRequest
	case http.StatusForbidden:
		return ServiceStatusBadCertificate
	case http.StatusNotFound:
		return ServiceStatusBadPath
	case http.StatusMethodNotAllowed:
		return ServiceStatusBadMethod
	case http.StatusGone:
		return ServiceStatusDeviceTokenInactive
	case http.StatusRequestEntityTooLarge:
		return ServiceStatusPayloadTooLarge
	case http.StatusTooManyRequests:
		return ServiceStatusTooManyRequests
	case http.StatusInternalServerError:
		return ServiceStatusInternalServerError
	case http.StatusServiceUnavailable:
		return ServiceStatusServiceUnavailable
	}
	return ServiceStatusUnexpectedStatusCode
}

// Result is the outcome of one Send. NotificationID always equals the ID of
// the Notification that produced it.
type Result struct {
	NotificationID string
	// Status is StatusSuccess on success, otherwise the ServiceStatus of the
	// gateway's HTTP status code.
	Status     string
	StatusCode int

	// Failure details; Kind is empty on success.
	Kind   ErrorKind
	Reason string
	Detail string
	// Timestamp is when the gateway last saw the device token as valid. Only
	// set for Unregistered responses that carry one.
	Timestamp time.Time
	// Err is a *TransportError, *GatewayError or *ParseError.
	Err error
}

func (r *Result) Success() bool {
	return r != nil && r.Err == nil && r.Kind == ""
}

func successResult(notificationID string, statusCode int) *Result {
	return &Result{
		NotificationID: notificationID,
		Status:         StatusSuccess,
		StatusCode:     statusCode,
	}
}

func transportFailure(notificationID string, err *TransportError) *Result {
	return &Result{
		NotificationID: notificationID,
		Kind:           ErrorKindTransport,
		Detail:         err.Description,
		Err:            err,
	}
}
