package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
)

type callbackResponse struct {
	ID                     uuid.UUID             `json:"id"`
	UserID                 uuid.UUID             `json:"user_id"`
	ScheduledFor           time.Time             `json:"scheduled_for"`
	Reason                 string                `json:"reason,omitempty"`
	PreferredAgentID       *uuid.UUID            `json:"preferred_agent_id,omitempty"`
	OriginalCallSessionID  uuid.UUID             `json:"original_call_session_id"`
	CompletedCallSessionID *uuid.UUID            `json:"completed_call_session_id,omitempty"`
	Status                 domain.CallbackStatus `json:"status"`
	CreatedAt              time.Time             `json:"created_at"`
}

type listCallbacksResponse struct {
	Callbacks []callbackResponse `json:"callbacks"`
}

func (h *HandlerSet) listCallbacks(ctx *fiber.Ctx) error {
	q := repository.CallbackQuery{}
	q.Page, _ = strconv.Atoi(ctx.Query("page", "1"))
	q.Limit, _ = strconv.Atoi(ctx.Query("limit", "50"))

	if v := ctx.Query("preferred_agent_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid preferred_agent_id")
		}
		q.PreferredAgentID = &id
	}
	if v := ctx.Query("status"); v != "" {
		status := domain.CallbackStatus(v)
		q.Status = &status
	}
	if v := ctx.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid from timestamp")
		}
		q.From = &t
	}
	if v := ctx.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid to timestamp")
		}
		q.To = &t
	}

	callbacks, err := h.callbacks.List(ctx.Context(), q)
	if err != nil {
		return translateError(err)
	}

	resp := listCallbacksResponse{Callbacks: make([]callbackResponse, 0, len(callbacks))}
	for _, c := range callbacks {
		resp.Callbacks = append(resp.Callbacks, callbackResponse{
			ID:                     c.ID,
			UserID:                 c.UserID,
			ScheduledFor:           c.ScheduledFor,
			Reason:                 c.Reason,
			PreferredAgentID:       c.PreferredAgentID,
			OriginalCallSessionID:  c.OriginalCallSessionID,
			CompletedCallSessionID: c.CompletedCallSessionID,
			Status:                 c.Status,
			CreatedAt:              c.CreatedAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}
