package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type sendScopeKey struct{}

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// SendScope identifies the notification a log line belongs to.
type SendScope struct {
	NotificationID string
	Environment    string
	DeviceToken    string
}

func WithSendScope(ctx context.Context, scope SendScope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, sendScopeKey{}, scope)
}

func SendScopeFromContext(ctx context.Context) (SendScope, bool) {
	if ctx == nil {
		return SendScope{}, false
	}

	scope, ok := ctx.Value(sendScopeKey{}).(SendScope)
	if !ok || scope.NotificationID == "" {
		return SendScope{}, false
	}

	return scope, true
}

// WithContextLogger tags logger with the send scope carried by ctx. Only the
// tail of the device token is logged.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	scope, ok := SendScopeFromContext(ctx)
	if !ok {
		return logger
	}

	fields := []zap.Field{zap.String("notificationId", scope.NotificationID)}
	if scope.Environment != "" {
		fields = append(fields, zap.String("environment", strings.ToLower(scope.Environment)))
	}
	if scope.DeviceToken != "" {
		fields = append(fields, zap.String("deviceToken", maskToken(scope.DeviceToken)))
	}
	return logger.With(fields...)
}

func maskToken(token string) string {
	const visible = 8
	if len(token) <= visible {
		return token
	}
	return "..." + token[len(token)-visible:]
}
