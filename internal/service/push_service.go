package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/apns-gateway/internal/domain"
	"github.com/kursadbilgin/apns-gateway/internal/observability"
	"github.com/kursadbilgin/apns-gateway/pkg/apns"
)

// Sender delivers one notification to the gateway. *apns.Client implements it.
type Sender interface {
	Send(ctx context.Context, n apns.Notification) (*apns.Result, error)
}

// DeliveryStore keeps recent delivery outcomes.
type DeliveryStore interface {
	Save(ctx context.Context, delivery *domain.Delivery) error
	Get(ctx context.Context, notificationID string) (*domain.Delivery, error)
	Invalidation(ctx context.Context, deviceToken string) (*domain.TokenInvalidation, error)
	Ping(ctx context.Context) error
}

// DeviceTokenState reports whether the gateway has rejected a device token.
// Environment and Reason describe the rejection when Invalid is set.
type DeviceTokenState struct {
	DeviceToken   string
	Invalid       bool
	InvalidatedAt time.Time
	Environment   domain.Environment
	Reason        string
}

type PushService struct {
	sender  Sender
	store   DeliveryStore
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewPushService wires sender and an optional store. Without a store,
// deliveries are not recorded and lookups report domain.ErrUnavailable.
func NewPushService(sender Sender, store DeliveryStore, logger *zap.Logger) (*PushService, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PushService{
		sender: sender,
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *PushService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send delivers notification once and returns the recorded outcome. Gateway
// rejections and transport failures are reported in the Delivery; the error
// is reserved for invalid input and signing failures.
func (s *PushService) Send(ctx context.Context, notification *domain.Notification) (*domain.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if notification == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}
	if err := notification.Validate(); err != nil {
		return nil, err
	}

	ctx = observability.WithSendScope(ctx, observability.SendScope{
		NotificationID: notification.ID,
		Environment:    notification.Environment.String(),
		DeviceToken:    notification.DeviceToken,
	})
	logger := observability.WithContextLogger(s.logger, ctx)
	environment := strings.ToLower(notification.Environment.String())

	s.metrics.IncSendInFlight(environment)
	defer s.metrics.DecSendInFlight(environment)

	started := s.now()
	result, err := s.sender.Send(ctx, toAPNS(notification))
	elapsed := s.now().Sub(started)
	s.metrics.ObserveGatewayDuration(environment, elapsed)

	if err != nil {
		var signingErr *apns.SigningError
		if errors.As(err, &signingErr) {
			s.metrics.IncNotificationFailed(environment, "Signing")
		}
		logger.Error("failed to send notification", zap.Error(err))
		return nil, fmt.Errorf("failed to send notification: %w", err)
	}

	delivery := newDelivery(notification, result, elapsed, s.now().UTC())
	if delivery.Succeeded() {
		s.metrics.IncNotificationSent(environment)
	} else {
		s.metrics.IncNotificationFailed(environment, delivery.ErrorKind)
		if delivery.TokenInvalid {
			s.metrics.IncInvalidDeviceToken(environment)
		}
		logger.Warn("notification not delivered",
			zap.String("errorKind", delivery.ErrorKind),
			zap.String("reason", delivery.Reason),
			zap.Int("statusCode", delivery.StatusCode),
			zap.Bool("transient", delivery.Transient),
		)
	}

	if s.store != nil {
		// A store failure does not change the delivery outcome.
		if err := s.store.Save(ctx, delivery); err != nil {
			logger.Error("failed to record delivery", zap.Error(err))
		}
	}

	return delivery, nil
}

func (s *PushService) Get(ctx context.Context, notificationID string) (*domain.Delivery, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: delivery store is not configured", domain.ErrUnavailable)
	}
	if strings.TrimSpace(notificationID) == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	return s.store.Get(ctx, notificationID)
}

func (s *PushService) DeviceTokenState(ctx context.Context, deviceToken string) (*DeviceTokenState, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: delivery store is not configured", domain.ErrUnavailable)
	}
	if strings.TrimSpace(deviceToken) == "" {
		return nil, fmt.Errorf("%w: device token is required", domain.ErrValidation)
	}

	mark, err := s.store.Invalidation(ctx, deviceToken)
	if err != nil {
		return nil, err
	}

	state := &DeviceTokenState{DeviceToken: deviceToken}
	if mark != nil {
		state.Invalid = true
		state.InvalidatedAt = mark.At
		state.Environment = mark.Environment
		state.Reason = mark.Reason
	}
	return state, nil
}

// Ready checks the delivery store when one is configured.
func (s *PushService) Ready(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}

func toAPNS(n *domain.Notification) apns.Notification {
	priority := apns.PriorityImmediate
	if n.Priority == domain.PriorityLow {
		priority = apns.PriorityConserve
	}

	out := apns.Notification{
		ID:          n.ID,
		DeviceToken: n.DeviceToken,
		Payload:     n.Payload,
		Priority:    priority,
		Topic:       n.Topic,
		CollapseID:  n.CollapseID,
		ThreadID:    n.ThreadID,
		Sandbox:     n.Sandbox(),
	}
	if n.ExpiresAt != nil {
		out.Expiration = *n.ExpiresAt
	}
	return out
}

func newDelivery(n *domain.Notification, result *apns.Result, elapsed time.Duration, now time.Time) *domain.Delivery {
	delivery := &domain.Delivery{
		NotificationID: n.ID,
		DeviceToken:    n.DeviceToken,
		Topic:          n.Topic,
		Environment:    n.Environment,
		DurationMS:     elapsed.Milliseconds(),
		CreatedAt:      now,
	}

	if result == nil {
		delivery.Status = domain.StatusFailed
		delivery.ErrorKind = apns.ErrorKindUnknown.String()
		delivery.Detail = "no result"
		return delivery
	}

	delivery.StatusCode = result.StatusCode
	if result.Success() {
		delivery.Status = domain.StatusSent
		return delivery
	}

	delivery.Status = domain.StatusFailed
	delivery.ErrorKind = result.Kind.String()
	delivery.Reason = result.Reason
	delivery.Detail = result.Detail
	delivery.Transient = result.Kind.IsTransient()
	delivery.TokenInvalid = result.Kind.DeviceTokenInvalid()
	if !result.Timestamp.IsZero() {
		at := result.Timestamp
		delivery.TokenExpiredAt = &at
	}
	return delivery
}
