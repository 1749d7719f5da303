package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const maxAttemptPageSize = 100

func (h *HandlerSet) deliveryAttempts(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}

	limit := ctx.QueryInt("limit", maxAttemptPageSize)
	if limit <= 0 || limit > maxAttemptPageSize {
		limit = maxAttemptPageSize
	}

	lead, err := h.container.Repositories().Leads.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	attempts, err := h.container.Repositories().Deliveries.ListByLead(ctx.Context(), id, limit)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"lead":     lead,
		"attempts": attempts,
	})
}
