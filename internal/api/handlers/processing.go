package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

func (h *HandlerSet) startBatch(ctx *fiber.Ctx) error {
	force := ctx.QueryBool("force")

	result, err := h.processing.StartBatch(ctx.Context(), h.userID(ctx), time.Now(), force)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(result)
}

func (h *HandlerSet) canProcessNow(ctx *fiber.Ctx) error {
	force := ctx.QueryBool("force")

	avail, err := h.processing.CanProcessNow(ctx.Context(), h.userID(ctx), time.Now(), force)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(avail)
}
