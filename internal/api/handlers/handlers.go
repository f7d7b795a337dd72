package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jamesclaimtechio/rmcdialer/internal/app"
	callsvc "github.com/jamesclaimtechio/rmcdialer/internal/service/call"
	callbacksvc "github.com/jamesclaimtechio/rmcdialer/internal/service/callback"
	outcomesvc "github.com/jamesclaimtechio/rmcdialer/internal/service/outcome"
	queuesvc "github.com/jamesclaimtechio/rmcdialer/internal/service/queue"
	"github.com/jamesclaimtechio/rmcdialer/internal/service/scoring"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	queue     *queuesvc.Service
	calls     *callsvc.Service
	outcomes  *outcomesvc.Recorder
	callbacks *callbacksvc.Service
	scoring   *scoring.Engine
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container: container,
		queue:     services.Queue,
		calls:     services.Call,
		outcomes:  services.Outcome,
		callbacks: services.Callback,
		scoring:   services.Scoring,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Post("/webhooks/twilio/status", h.telephonyStatus)

	queue := v1.Group("/queue")
	queue.Get("/", h.listQueue)
	queue.Post("/:id/assign", h.assignEntry)

	calls := v1.Group("/calls")
	calls.Post("/", h.initiateCall)
	calls.Get("/", h.callHistory)
	calls.Get("/:id", h.getCall)
	calls.Post("/:id/outcome", h.recordOutcome)

	v1.Get("/callbacks", h.listCallbacks)
	v1.Get("/scores/:userId", h.getScore)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
