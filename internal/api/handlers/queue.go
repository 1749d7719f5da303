package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/lead-pipeline-scheduler/internal/domain"
)

type prepareQueueRequest struct {
	ForDate string `json:"for_date"`
}

func (h *HandlerSet) prepareQueue(ctx *fiber.Ctx) error {
	var req prepareQueueRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}

	var forDate *domain.Date
	if req.ForDate != "" {
		parsed, err := domain.ParseDate(req.ForDate)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid for_date, expected YYYY-MM-DD")
		}
		forDate = &parsed
	}

	result, err := h.admission.PrepareQueue(ctx.Context(), h.userID(ctx), time.Now(), forDate)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(result)
}

type bulkLeadsRequest struct {
	LeadIDs []string `json:"lead_ids"`
	Date    string   `json:"date,omitempty"`
}

func (r bulkLeadsRequest) parseIDs() ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(r.LeadIDs))
	for _, raw := range r.LeadIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *HandlerSet) bulkEnqueue(ctx *fiber.Ctx) error {
	var req bulkLeadsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	ids, err := req.parseIDs()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}
	if len(ids) == 0 {
		return fiber.NewError(http.StatusBadRequest, "lead_ids is required")
	}

	result, err := h.admission.BulkEnqueue(ctx.Context(), h.userID(ctx), ids, time.Now())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(result)
}

func (h *HandlerSet) bulkDequeue(ctx *fiber.Ctx) error {
	var req bulkLeadsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	ids, err := req.parseIDs()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}
	if len(ids) == 0 {
		return fiber.NewError(http.StatusBadRequest, "lead_ids is required")
	}

	result, err := h.admission.BulkDequeue(ctx.Context(), ids)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(result)
}

func (h *HandlerSet) bulkSchedule(ctx *fiber.Ctx) error {
	var req bulkLeadsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	ids, err := req.parseIDs()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid lead id")
	}
	if len(ids) == 0 {
		return fiber.NewError(http.StatusBadRequest, "lead_ids is required")
	}

	date, err := domain.ParseDate(req.Date)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}

	result, err := h.admission.BulkSchedule(ctx.Context(), h.userID(ctx), ids, date, time.Now())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(result)
}
