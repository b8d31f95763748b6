package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kursadbilgin/apns-gateway/internal/domain"
	"github.com/kursadbilgin/apns-gateway/internal/observability"
	"github.com/kursadbilgin/apns-gateway/pkg/apns"
	"github.com/kursadbilgin/apns-gateway/pkg/apns/token"
)

type fakeSender struct {
	sendFn func(ctx context.Context, n apns.Notification) (*apns.Result, error)
}

func (f *fakeSender) Send(ctx context.Context, n apns.Notification) (*apns.Result, error) {
	return f.sendFn(ctx, n)
}

type fakeStore struct {
	mu         sync.Mutex
	deliveries map[string]*domain.Delivery
	invalid    map[string]*domain.TokenInvalidation
	saveErr    error
	pingErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deliveries: make(map[string]*domain.Delivery),
		invalid:    make(map[string]*domain.TokenInvalidation),
	}
}

func (f *fakeStore) Save(ctx context.Context, delivery *domain.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.deliveries[delivery.NotificationID] = delivery
	switch {
	case delivery.TokenInvalid:
		at := delivery.CreatedAt
		if delivery.TokenExpiredAt != nil {
			at = *delivery.TokenExpiredAt
		}
		f.invalid[delivery.DeviceToken] = &domain.TokenInvalidation{
			Environment: delivery.Environment,
			Reason:      delivery.Reason,
			At:          at,
		}
	case delivery.Succeeded():
		delete(f.invalid, delivery.DeviceToken)
	}
	return nil
}

func (f *fakeStore) Get(ctx context.Context, notificationID string) (*domain.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delivery, ok := f.deliveries[notificationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return delivery, nil
}

func (f *fakeStore) Invalidation(ctx context.Context, deviceToken string) (*domain.TokenInvalidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalid[deviceToken], nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func validNotification() *domain.Notification {
	return &domain.Notification{
		ID:          "6a1f0c9e-5b7d-4e2a-8c3f-9d0e1f2a3b4c",
		DeviceToken: strings.Repeat("ab", 32),
		Topic:       "com.example.app",
		Environment: domain.EnvironmentSandbox,
		Priority:    domain.PriorityLow,
		Payload:     json.RawMessage(`{"aps":{"alert":"hi"}}`),
	}
}

func TestPushServiceSendSuccess(t *testing.T) {
	t.Parallel()

	expiresAt := time.Unix(1_800_000_000, 0)
	var got apns.Notification
	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		got = n
		if scope, ok := observability.SendScopeFromContext(ctx); !ok || scope.NotificationID != n.ID || scope.Environment != "SANDBOX" {
			t.Fatalf("context send scope = %+v, want notification %q in SANDBOX", scope, n.ID)
		}
		return &apns.Result{NotificationID: n.ID, Status: apns.StatusSuccess, StatusCode: 200}, nil
	}}
	store := newFakeStore()
	metrics := observability.NewMetrics()

	svc, err := NewPushService(sender, store, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}
	svc.SetMetrics(metrics)

	notification := validNotification()
	notification.ExpiresAt = &expiresAt
	notification.CollapseID = "score"

	delivery, err := svc.Send(context.Background(), notification)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if delivery.Status != domain.StatusSent || delivery.StatusCode != 200 {
		t.Fatalf("delivery = %+v, want SENT/200", delivery)
	}
	if delivery.NotificationID != notification.ID {
		t.Fatalf("NotificationID = %q, want %q", delivery.NotificationID, notification.ID)
	}

	if !got.Sandbox || got.Priority != apns.PriorityConserve || got.CollapseID != "score" || got.Topic != "com.example.app" {
		t.Fatalf("apns notification = %+v", got)
	}
	if !got.Expiration.Equal(expiresAt) {
		t.Fatalf("Expiration = %v, want %v", got.Expiration, expiresAt)
	}

	stored, err := svc.Get(context.Background(), notification.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != delivery {
		t.Fatal("stored delivery should be the returned delivery")
	}

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if body := recorder.Body.String(); !strings.Contains(body, `apns_gateway_notifications_sent_total{environment="sandbox"} 1`) {
		t.Fatalf("metrics output missing sent counter:\n%s", body)
	}
}

func TestPushServiceSendGatewayRejection(t *testing.T) {
	t.Parallel()

	timestamp := time.UnixMilli(1_700_000_000_000).UTC()
	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		return &apns.Result{
			NotificationID: n.ID,
			Status:         string(apns.ServiceStatusDeviceTokenInactive),
			StatusCode:     410,
			Kind:           apns.ErrorKindUnregistered,
			Reason:         "Unregistered",
			Detail:         "Unregistered",
			Timestamp:      timestamp,
			Err:            &apns.GatewayError{Kind: apns.ErrorKindUnregistered, Reason: "Unregistered", StatusCode: 410},
		}, nil
	}}
	store := newFakeStore()
	core, logs := observer.New(zapcore.WarnLevel)

	svc, err := NewPushService(sender, store, zap.New(core))
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}

	notification := validNotification()
	delivery, err := svc.Send(context.Background(), notification)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if delivery.Status != domain.StatusFailed || delivery.ErrorKind != "Unregistered" {
		t.Fatalf("delivery = %+v, want FAILED/Unregistered", delivery)
	}
	if !delivery.TokenInvalid || delivery.Transient {
		t.Fatalf("delivery flags = invalid:%v transient:%v", delivery.TokenInvalid, delivery.Transient)
	}
	if delivery.TokenExpiredAt == nil || !delivery.TokenExpiredAt.Equal(timestamp) {
		t.Fatalf("TokenExpiredAt = %v, want %v", delivery.TokenExpiredAt, timestamp)
	}

	state, err := svc.DeviceTokenState(context.Background(), notification.DeviceToken)
	if err != nil {
		t.Fatalf("DeviceTokenState() error = %v", err)
	}
	if !state.Invalid || !state.InvalidatedAt.Equal(timestamp) {
		t.Fatalf("state = %+v", state)
	}
	if state.Environment != domain.EnvironmentSandbox || state.Reason != "Unregistered" {
		t.Fatalf("state environment/reason = %s/%q", state.Environment, state.Reason)
	}

	entries := logs.FilterMessage("notification not delivered").All()
	if len(entries) != 1 {
		t.Fatalf("warn entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["notificationId"]; got != notification.ID {
		t.Fatalf("notificationId field = %v, want %q", got, notification.ID)
	}
}

func TestPushServiceSuccessClearsDeviceTokenState(t *testing.T) {
	t.Parallel()

	results := []*apns.Result{
		{Status: string(apns.ServiceStatusBadRequest), StatusCode: 400, Kind: apns.ErrorKindBadDeviceToken, Reason: "BadDeviceToken"},
		{Status: apns.StatusSuccess, StatusCode: 200},
	}
	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		res := results[0]
		results = results[1:]
		res.NotificationID = n.ID
		return res, nil
	}}

	svc, err := NewPushService(sender, newFakeStore(), nil)
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}

	sandbox := validNotification()
	if _, err := svc.Send(context.Background(), sandbox); err != nil {
		t.Fatalf("Send(sandbox) error = %v", err)
	}
	state, err := svc.DeviceTokenState(context.Background(), sandbox.DeviceToken)
	if err != nil || !state.Invalid {
		t.Fatalf("after rejection state = %+v, err = %v, want invalid", state, err)
	}

	production := validNotification()
	production.ID = "7b2e1d0f-6c8e-4f3b-9d4a-0e1f2a3b4c5d"
	production.Environment = domain.EnvironmentProduction
	if _, err := svc.Send(context.Background(), production); err != nil {
		t.Fatalf("Send(production) error = %v", err)
	}
	state, err = svc.DeviceTokenState(context.Background(), production.DeviceToken)
	if err != nil {
		t.Fatalf("DeviceTokenState() error = %v", err)
	}
	if state.Invalid {
		t.Fatalf("state = %+v, want valid after a successful send", state)
	}
}

func TestPushServiceSendTransportFailureIsTransient(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		return &apns.Result{
			NotificationID: n.ID,
			Kind:           apns.ErrorKindTransport,
			Detail:         "connection reset by peer",
			Err:            &apns.TransportError{Description: "connection reset by peer"},
		}, nil
	}}

	svc, err := NewPushService(sender, nil, nil)
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}

	delivery, err := svc.Send(context.Background(), validNotification())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if delivery.ErrorKind != "Transport" || !delivery.Transient || delivery.TokenInvalid {
		t.Fatalf("delivery = %+v", delivery)
	}
	if delivery.Detail != "connection reset by peer" {
		t.Fatalf("Detail = %q", delivery.Detail)
	}
}

func TestPushServiceSendValidation(t *testing.T) {
	t.Parallel()

	called := false
	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		called = true
		return nil, nil
	}}
	svc, err := NewPushService(sender, nil, nil)
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}

	notification := validNotification()
	notification.DeviceToken = "not-hex"

	_, err = svc.Send(context.Background(), notification)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send() error = %v, want ErrValidation", err)
	}
	if _, err := svc.Send(context.Background(), nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Send(nil) error = %v, want ErrValidation", err)
	}
	if called {
		t.Fatal("sender must not be called for invalid notifications")
	}
}

func TestPushServiceSendSigningError(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		return nil, &token.SigningError{Cause: token.ErrMissingKey}
	}}
	store := newFakeStore()
	svc, err := NewPushService(sender, store, nil)
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}

	_, err = svc.Send(context.Background(), validNotification())
	var signingErr *apns.SigningError
	if !errors.As(err, &signingErr) {
		t.Fatalf("Send() error = %v, want *apns.SigningError", err)
	}
	if len(store.deliveries) != 0 {
		t.Fatal("no delivery should be recorded when the request was never sent")
	}
}

func TestPushServiceStoreFailureKeepsOutcome(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		return &apns.Result{NotificationID: n.ID, Status: apns.StatusSuccess, StatusCode: 200}, nil
	}}
	store := newFakeStore()
	store.saveErr = errors.New("redis down")
	core, logs := observer.New(zapcore.ErrorLevel)

	svc, err := NewPushService(sender, store, zap.New(core))
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}

	delivery, err := svc.Send(context.Background(), validNotification())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !delivery.Succeeded() {
		t.Fatalf("delivery = %+v, want SENT", delivery)
	}
	if logs.FilterMessage("failed to record delivery").Len() != 1 {
		t.Fatal("expected store failure to be logged")
	}
}

func TestPushServiceWithoutStore(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		return nil, nil
	}}
	svc, err := NewPushService(sender, nil, nil)
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}

	if _, err := svc.Get(context.Background(), "n-1"); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Get() error = %v, want ErrUnavailable", err)
	}
	if _, err := svc.DeviceTokenState(context.Background(), "abcd"); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("DeviceTokenState() error = %v, want ErrUnavailable", err)
	}
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v, want nil", err)
	}
}

func TestPushServiceReadyUsesStore(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{sendFn: func(ctx context.Context, n apns.Notification) (*apns.Result, error) {
		return nil, nil
	}}
	store := newFakeStore()
	store.pingErr = errors.New("connection refused")

	svc, err := NewPushService(sender, store, nil)
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}
	if err := svc.Ready(context.Background()); err == nil {
		t.Fatal("Ready() should report store failure")
	}
}

func TestNewPushServiceRequiresSender(t *testing.T) {
	t.Parallel()

	if _, err := NewPushService(nil, nil, nil); err == nil {
		t.Fatal("expected error for nil sender")
	}
}
