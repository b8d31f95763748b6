package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sideshow/apns2/payload"

	"github.com/kursadbilgin/apns-gateway/internal/domain"
	"github.com/kursadbilgin/apns-gateway/internal/service"
)

type PushService interface {
	Send(ctx context.Context, n *domain.Notification) (*domain.Delivery, error)
	Get(ctx context.Context, notificationID string) (*domain.Delivery, error)
	DeviceTokenState(ctx context.Context, deviceToken string) (*service.DeviceTokenState, error)
}

type PushHandler struct {
	service PushService
	now     func() time.Time
}

func NewPushHandler(service PushService) (*PushHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("push service is required")
	}
	return &PushHandler{service: service, now: time.Now}, nil
}

func RegisterPushRoutes(router fiber.Router, service PushService) error {
	h, err := NewPushHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.SendNotification)
	v1.Get("/notifications/:id", h.GetDelivery)
	v1.Get("/device-tokens/:token", h.GetDeviceToken)

	return nil
}

type sendNotificationRequest struct {
	ID          string          `json:"id"`
	DeviceToken string          `json:"deviceToken"`
	Topic       string          `json:"topic"`
	Environment string          `json:"environment"`
	Priority    string          `json:"priority"`
	CollapseID  string          `json:"collapseId"`
	ThreadID    string          `json:"threadId"`
	ExpiresAt   string          `json:"expiresAt"`
	Payload     json.RawMessage `json:"payload"`
	Alert       *alertRequest   `json:"alert"`
}

// alertRequest is a shortcut for a plain visible alert when the caller does
// not want to build the aps dictionary itself.
type alertRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
	Badge *int   `json:"badge"`
}

type deviceTokenResponse struct {
	DeviceToken   string     `json:"deviceToken"`
	Invalid       bool       `json:"invalid"`
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
	Environment   string     `json:"environment,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// SendNotification delivers one notification synchronously. A delivery the
// gateway did not accept is still returned in the body, with 502.
func (h *PushHandler) SendNotification(c *fiber.Ctx) error {
	var req sendNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	n, err := h.requestToDomainNotification(req)
	if err != nil {
		return toHTTPError(err)
	}

	delivery, err := h.service.Send(c.UserContext(), n)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusOK
	if !delivery.Succeeded() {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(delivery)
}

func (h *PushHandler) GetDelivery(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	delivery, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(delivery)
}

func (h *PushHandler) GetDeviceToken(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	state, err := h.service.DeviceTokenState(c.UserContext(), token)
	if err != nil {
		return toHTTPError(err)
	}

	resp := deviceTokenResponse{DeviceToken: state.DeviceToken, Invalid: state.Invalid}
	if state.Invalid {
		at := state.InvalidatedAt.UTC()
		resp.InvalidatedAt = &at
		resp.Environment = state.Environment.String()
		resp.Reason = state.Reason
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *PushHandler) requestToDomainNotification(req sendNotificationRequest) (*domain.Notification, error) {
	environment, err := domain.ParseEnvironmentFromString(req.Environment)
	if err != nil {
		return nil, err
	}

	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		return nil, err
	}

	body, err := requestPayload(req)
	if err != nil {
		return nil, err
	}

	n := &domain.Notification{
		ID:          strings.TrimSpace(req.ID),
		DeviceToken: strings.TrimSpace(req.DeviceToken),
		Topic:       strings.TrimSpace(req.Topic),
		CollapseID:  req.CollapseID,
		ThreadID:    req.ThreadID,
		Environment: environment,
		Priority:    priority,
		Payload:     body,
		CreatedAt:   h.now().UTC(),
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	} else if _, err := uuid.Parse(n.ID); err != nil {
		return nil, fmt.Errorf("%w: id must be a UUID", domain.ErrValidation)
	}

	if raw := strings.TrimSpace(req.ExpiresAt); raw != "" {
		expiresAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: expiresAt must be RFC3339", domain.ErrValidation)
		}
		n.ExpiresAt = &expiresAt
	}

	return n, nil
}

func requestPayload(req sendNotificationRequest) (json.RawMessage, error) {
	hasPayload := len(req.Payload) > 0 && string(req.Payload) != "null"
	switch {
	case hasPayload && req.Alert != nil:
		return nil, fmt.Errorf("%w: payload and alert are mutually exclusive", domain.ErrValidation)
	case hasPayload:
		return req.Payload, nil
	case req.Alert == nil:
		return nil, fmt.Errorf("%w: payload or alert is required", domain.ErrValidation)
	}

	p := payload.NewPayload()
	if req.Alert.Title != "" {
		p.AlertTitle(req.Alert.Title)
	}
	if req.Alert.Body != "" {
		p.AlertBody(req.Alert.Body)
	}
	if req.Alert.Sound != "" {
		p.Sound(req.Alert.Sound)
	}
	if req.Alert.Badge != nil {
		p.Badge(*req.Alert.Badge)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: alert: %v", domain.ErrValidation, err)
	}
	return raw, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
