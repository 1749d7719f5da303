package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/lead-pipeline-scheduler/internal/admission"
	"github.com/acme/lead-pipeline-scheduler/internal/analytics"
	"github.com/acme/lead-pipeline-scheduler/internal/app"
	"github.com/acme/lead-pipeline-scheduler/internal/processing"
	"github.com/acme/lead-pipeline-scheduler/internal/settings"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container  *app.Container
	settings   *settings.Service
	admission  *admission.Service
	processing *processing.Driver
	analytics  *analytics.Engine
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container:  container,
		settings:   services.Settings,
		admission:  services.Admission,
		processing: services.Processing,
		analytics:  services.Analytics,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	settingsGroup := v1.Group("/settings")
	settingsGroup.Get("/", h.getSettings)
	settingsGroup.Put("/", h.updateSettings)

	queueGroup := v1.Group("/queue")
	queueGroup.Post("/prepare", h.prepareQueue)
	queueGroup.Post("/enqueue", h.bulkEnqueue)
	queueGroup.Post("/dequeue", h.bulkDequeue)
	queueGroup.Post("/schedule", h.bulkSchedule)

	processingGroup := v1.Group("/processing")
	processingGroup.Post("/start", h.startBatch)
	processingGroup.Get("/can-process", h.canProcessNow)

	analyticsGroup := v1.Group("/analytics")
	analyticsGroup.Get("/daily-stats", h.dailyStats)
	analyticsGroup.Get("/trends", h.trends)
	analyticsGroup.Get("/bottlenecks", h.bottlenecks)
	analyticsGroup.Get("/insights", h.insights)
	analyticsGroup.Get("/snapshot", h.snapshot)

	plannerGroup := v1.Group("/planner")
	plannerGroup.Get("/recommendation", h.recommendDailyTarget)
	plannerGroup.Post("/schedule", h.optimizeSchedule)
	plannerGroup.Get("/projection", h.targetProjection)

	leadsGroup := v1.Group("/leads")
	leadsGroup.Get("/:id/attempts", h.deliveryAttempts)
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

// userID resolves the user scope for a request, falling back to the
// configured scheduler scope.
func (h *HandlerSet) userID(ctx *fiber.Ctx) string {
	return ctx.Query("user_id", h.container.Config.Scheduler.UserID)
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
