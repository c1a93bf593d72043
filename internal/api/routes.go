package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is any dependency that can report its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func RegisterRoutes(app *fiber.App, h *Handler, checks map[string]HealthChecker) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for name, chk := range checks {
			if err := chk.HealthCheck(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	v1 := app.Group("/api/v1", h.Authenticate)

	v1.Post("/rfqs", h.CreateRFQ)
	v1.Get("/rfqs", h.ListRFQs)
	v1.Get("/rfqs/:id", h.GetRFQ)
	v1.Post("/rfqs/:id/cancel", h.CancelRFQ)
	v1.Get("/rfqs/:id/bids", h.ListRFQBids)
	v1.Post("/rfqs/:id/bids", h.SubmitBid)

	v1.Get("/bids/mine", h.MyBids)
	v1.Get("/bids/:id", h.GetBid)
	v1.Post("/bids/:id/finalize", h.FinalizeBid)
	v1.Post("/bids/:id/withdraw", h.WithdrawBid)
	v1.Post("/bids/:id/accept", h.AcceptBid)
	v1.Post("/bids/:id/reject", h.RejectBid)
}
