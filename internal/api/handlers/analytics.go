package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-pipeline-scheduler/internal/analytics"
)

func (h *HandlerSet) dailyStats(ctx *fiber.Ctx) error {
	window := ctx.QueryInt("window_days", analytics.DefaultWindowDays)

	stats, err := h.analytics.DailyStats(ctx.Context(), time.Now(), window)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"window_days": window,
		"stats":       stats,
	})
}

func (h *HandlerSet) trends(ctx *fiber.Ctx) error {
	stats, err := h.analytics.DailyStats(ctx.Context(), time.Now(), analytics.DefaultWindowDays)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(analytics.Trends(stats))
}

func (h *HandlerSet) bottlenecks(ctx *fiber.Ctx) error {
	snap, err := h.analytics.CurrentSnapshot(ctx.Context(), h.userID(ctx), time.Now())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"bottlenecks": snap.Bottlenecks})
}

func (h *HandlerSet) insights(ctx *fiber.Ctx) error {
	snap, err := h.analytics.CurrentSnapshot(ctx.Context(), h.userID(ctx), time.Now())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"insights": snap.Insights})
}

func (h *HandlerSet) snapshot(ctx *fiber.Ctx) error {
	snap, err := h.analytics.CurrentSnapshot(ctx.Context(), h.userID(ctx), time.Now())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(snap)
}
