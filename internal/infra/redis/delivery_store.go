package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kursadbilgin/apns-gateway/internal/domain"
)

const (
	defaultTTL     = 24 * time.Hour
	deliveryPrefix = "apns:delivery:"
	invalidPrefix  = "apns:device:invalid:"
)

// saveScript stores the delivery and updates the device token mark in the
// same round trip: ARGV[3] sets it, ARGV[4] == "1" clears it.
var saveScript = goredis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[2])
if ARGV[3] ~= "" then
  redis.call("SET", KEYS[2], ARGV[3], "EX", ARGV[2])
elseif ARGV[4] == "1" then
  redis.call("DEL", KEYS[2])
end
return 1
`)

// DeliveryStore keeps delivery records in Redis for a fixed TTL.
type DeliveryStore struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
	script *goredis.Script
}

func NewDeliveryStore(client *goredis.Client, ttl time.Duration) (*DeliveryStore, error) {
	return newDeliveryStore(client, ttl, time.Now)
}

func newDeliveryStore(client *goredis.Client, ttl time.Duration, nowFn func() time.Time) (*DeliveryStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl < time.Second {
		ttl = defaultTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &DeliveryStore{
		client: client,
		ttl:    ttl,
		now:    nowFn,
		script: saveScript,
	}, nil
}

func (s *DeliveryStore) Save(ctx context.Context, delivery *domain.Delivery) error {
	if s == nil || s.client == nil || s.script == nil {
		return fmt.Errorf("delivery store is not initialized")
	}
	if delivery == nil || strings.TrimSpace(delivery.NotificationID) == "" {
		return fmt.Errorf("%w: delivery notification id is required", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	raw, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}

	// A token the gateway accepted is usable again, whatever marked it before.
	invalidation, clearMark := "", "0"
	switch {
	case delivery.TokenInvalid && delivery.DeviceToken != "":
		mark := domain.TokenInvalidation{
			Environment: delivery.Environment,
			Reason:      delivery.Reason,
			At:          s.now().UTC(),
		}
		if delivery.TokenExpiredAt != nil {
			mark.At = delivery.TokenExpiredAt.UTC()
		}
		encoded, err := json.Marshal(mark)
		if err != nil {
			return fmt.Errorf("failed to encode device token state: %w", err)
		}
		invalidation = string(encoded)
	case delivery.Succeeded():
		clearMark = "1"
	}

	keys := []string{deliveryKey(delivery.NotificationID), invalidKey(delivery.DeviceToken)}
	if err := s.script.Run(ctx, s.client, keys, raw, int64(s.ttl/time.Second), invalidation, clearMark).Err(); err != nil {
		return fmt.Errorf("failed to save delivery: %w", err)
	}
	return nil
}

func (s *DeliveryStore) Get(ctx context.Context, notificationID string) (*domain.Delivery, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("delivery store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	raw, err := s.client.Get(ctx, deliveryKey(notificationID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: delivery %q", domain.ErrNotFound, notificationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery: %w", err)
	}

	var delivery domain.Delivery
	if err := json.Unmarshal(raw, &delivery); err != nil {
		return nil, fmt.Errorf("failed to decode delivery: %w", err)
	}
	return &delivery, nil
}

// Invalidation returns the gateway's last rejection of deviceToken, or nil
// when the token is not marked or a later send to it succeeded.
func (s *DeliveryStore) Invalidation(ctx context.Context, deviceToken string) (*domain.TokenInvalidation, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("delivery store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	raw, err := s.client.Get(ctx, invalidKey(deviceToken)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device token state: %w", err)
	}

	var mark domain.TokenInvalidation
	if err := json.Unmarshal(raw, &mark); err != nil {
		return nil, fmt.Errorf("failed to decode device token state: %w", err)
	}
	return &mark, nil
}

func (s *DeliveryStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("delivery store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

func deliveryKey(notificationID string) string {
	return deliveryPrefix + strings.TrimSpace(notificationID)
}

func invalidKey(deviceToken string) string {
	return invalidPrefix + strings.ToLower(strings.TrimSpace(deviceToken))
}
