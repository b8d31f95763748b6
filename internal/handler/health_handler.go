package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const readinessTimeout = 2 * time.Second

// ReadinessChecker reports whether the relay's dependencies are reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

func RegisterHealthRoutes(app fiber.Router, checker ReadinessChecker) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checker))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(checker ReadinessChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		storeStatus := "ok"
		if checker != nil {
			if err := checker.Ready(ctx); err != nil {
				storeStatus = "down"
			}
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if storeStatus != "ok" {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": fiber.Map{
				"deliveryStore": storeStatus,
			},
		})
	}
}
