package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-pipeline-scheduler/internal/quota"
)

func (h *HandlerSet) recommendDailyTarget(ctx *fiber.Ctx) error {
	cfg, err := h.settings.Get(ctx.Context(), h.userID(ctx))
	if err != nil {
		return translateError(err)
	}

	now := time.Now()
	year := ctx.QueryInt("year", now.Year())
	month := ctx.QueryInt("month", int(now.Month()))
	if month < 1 || month > 12 {
		return fiber.NewError(http.StatusBadRequest, "month must be 1..12")
	}
	monthlyTarget := ctx.QueryInt("monthly_target", cfg.Targets.MonthlyTarget)

	rec := quota.RecommendedDailyTarget(monthlyTarget, cfg.Calendar, year, time.Month(month), cfg.Targets.MaxDailyCapacity)
	return ctx.Status(http.StatusOK).JSON(rec)
}

type optimizeScheduleRequest struct {
	MonthlyTarget   int  `json:"monthly_target"`
	MaxCapacity     int  `json:"max_capacity"`
	RequireWeekends bool `json:"require_weekends"`
}

func (h *HandlerSet) optimizeSchedule(ctx *fiber.Ctx) error {
	var req optimizeScheduleRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	cfg, err := h.settings.Get(ctx.Context(), h.userID(ctx))
	if err != nil {
		return translateError(err)
	}
	if req.MonthlyTarget <= 0 {
		req.MonthlyTarget = cfg.Targets.MonthlyTarget
	}
	if req.MaxCapacity <= 0 {
		req.MaxCapacity = cfg.Targets.MaxDailyCapacity
	}

	plan := quota.OptimizeWorkSchedule(req.MonthlyTarget, req.MaxCapacity, quota.ScheduleConstraints{
		RequireWeekends: req.RequireWeekends,
	})
	return ctx.Status(http.StatusOK).JSON(plan)
}

func (h *HandlerSet) targetProjection(ctx *fiber.Ctx) error {
	cfg, err := h.settings.Get(ctx.Context(), h.userID(ctx))
	if err != nil {
		return translateError(err)
	}

	progress := ctx.QueryInt("progress", -1)
	if progress < 0 {
		return fiber.NewError(http.StatusBadRequest, "progress is required")
	}
	monthlyTarget := ctx.QueryInt("monthly_target", cfg.Targets.MonthlyTarget)

	projection := quota.TargetProjection(progress, monthlyTarget, cfg.Calendar, cfg.Targets.MaxDailyCapacity, time.Now())
	return ctx.Status(http.StatusOK).JSON(projection)
}
