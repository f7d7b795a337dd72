package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
)

type scoreResponse struct {
	UserID          uuid.UUID          `json:"user_id"`
	CurrentScore    int                `json:"current_score"`
	NextCallAfter   *time.Time         `json:"next_call_after,omitempty"`
	LastCallAt      *time.Time         `json:"last_call_at,omitempty"`
	LastOutcome     domain.OutcomeType `json:"last_outcome,omitempty"`
	TotalAttempts   int                `json:"total_attempts"`
	SuccessfulCalls int                `json:"successful_calls"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func (h *HandlerSet) getScore(ctx *fiber.Ctx) error {
	userID, err := parseUUID(ctx.Params("userId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user id")
	}

	score, err := h.scoring.Get(ctx.Context(), userID)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(scoreResponse{
		UserID:          score.UserID,
		CurrentScore:    score.CurrentScore,
		NextCallAfter:   score.NextCallAfter,
		LastCallAt:      score.LastCallAt,
		LastOutcome:     score.LastOutcome,
		TotalAttempts:   score.TotalAttempts,
		SuccessfulCalls: score.SuccessfulCalls,
		UpdatedAt:       score.UpdatedAt,
	})
}
