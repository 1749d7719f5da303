package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

func (h *HandlerSet) getSettings(ctx *fiber.Ctx) error {
	cfg, err := h.settings.Get(ctx.Context(), h.userID(ctx))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(cfg)
}

func (h *HandlerSet) updateSettings(ctx *fiber.Ctx) error {
	var cfg domain.Settings
	if err := ctx.BodyParser(&cfg); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.settings.Update(ctx.Context(), h.userID(ctx), cfg); err != nil {
		return translateError(err)
	}

	updated, err := h.settings.Get(ctx.Context(), h.userID(ctx))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(updated)
}
