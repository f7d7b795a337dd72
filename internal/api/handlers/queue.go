package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
)

type queueEntryResponse struct {
	ID                uuid.UUID               `json:"id"`
	UserID            uuid.UUID               `json:"user_id"`
	QueueType         domain.QueueType        `json:"queue_type"`
	PriorityScore     int                     `json:"priority_score"`
	Status            domain.QueueEntryStatus `json:"status"`
	AssignedToAgentID *uuid.UUID              `json:"assigned_to_agent_id,omitempty"`
	AssignedAt        *time.Time              `json:"assigned_at,omitempty"`
	CallbackID        *uuid.UUID              `json:"callback_id,omitempty"`
	AvailableFrom     *time.Time              `json:"available_from,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
}

type listQueueResponse struct {
	Entries []queueEntryResponse `json:"entries"`
}

func (h *HandlerSet) listQueue(ctx *fiber.Ctx) error {
	agentID, err := requireAgent(ctx)
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(ctx.Query("page", "1"))
	limit, _ := strconv.Atoi(ctx.Query("limit", "0"))

	entries, err := h.queue.Next(ctx.Context(), agentID, page, limit)
	if err != nil {
		return translateError(err)
	}

	resp := listQueueResponse{Entries: make([]queueEntryResponse, 0, len(entries))}
	for i := range entries {
		resp.Entries = append(resp.Entries, toQueueEntryResponse(&entries[i]))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) assignEntry(ctx *fiber.Ctx) error {
	entryID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid queue entry id")
	}

	agentID, err := requireAgent(ctx)
	if err != nil {
		return err
	}

	entry, err := h.queue.Assign(ctx.Context(), entryID, agentID)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toQueueEntryResponse(entry))
}

func toQueueEntryResponse(entry *domain.CallQueueEntry) queueEntryResponse {
	return queueEntryResponse{
		ID:                entry.ID,
		UserID:            entry.UserID,
		QueueType:         entry.QueueType,
		PriorityScore:     entry.PriorityScore,
		Status:            entry.Status,
		AssignedToAgentID: entry.AssignedToAgentID,
		AssignedAt:        entry.AssignedAt,
		CallbackID:        entry.CallbackID,
		AvailableFrom:     entry.AvailableFrom,
		CreatedAt:         entry.CreatedAt,
	}
}
