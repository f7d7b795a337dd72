package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/jamesclaimtechio/rmcdialer/internal/domain"
	"github.com/jamesclaimtechio/rmcdialer/internal/repository"
	callsvc "github.com/jamesclaimtechio/rmcdialer/internal/service/call"
	outcomesvc "github.com/jamesclaimtechio/rmcdialer/internal/service/outcome"
	"github.com/jamesclaimtechio/rmcdialer/internal/telephony"
)

type initiateCallRequest struct {
	UserID       uuid.UUID  `json:"user_id"`
	QueueEntryID *uuid.UUID `json:"queue_entry_id"`
	PhoneNumber  string     `json:"phone_number"`
	Direction    string     `json:"direction"`
}

type sessionResponse struct {
	ID              uuid.UUID            `json:"id"`
	UserID          uuid.UUID            `json:"user_id"`
	AgentID         uuid.UUID            `json:"agent_id"`
	QueueEntryID    *uuid.UUID           `json:"queue_entry_id,omitempty"`
	TwilioCallSid   *string              `json:"twilio_call_sid,omitempty"`
	Status          domain.SessionStatus `json:"status"`
	Direction       domain.CallDirection `json:"direction"`
	StartedAt       time.Time            `json:"started_at"`
	ConnectedAt     *time.Time           `json:"connected_at,omitempty"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
	DurationSeconds int                  `json:"duration_seconds"`
	TalkTimeSeconds int                  `json:"talk_time_seconds"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type outcomeResponse struct {
	ID                 uuid.UUID             `json:"id"`
	CallSessionID      uuid.UUID             `json:"call_session_id"`
	UserID             uuid.UUID             `json:"user_id"`
	OutcomeType        domain.OutcomeType    `json:"outcome_type"`
	OutcomeNotes       string                `json:"outcome_notes,omitempty"`
	NextCallDelayHours int                   `json:"next_call_delay_hours"`
	ScoreAdjustment    int                   `json:"score_adjustment"`
	MagicLinkSent      bool                  `json:"magic_link_sent"`
	SMSSent            bool                  `json:"sms_sent"`
	DocumentsRequested []domain.DocumentType `json:"documents_requested,omitempty"`
	RecordedByAgentID  uuid.UUID             `json:"recorded_by_agent_id"`
	CreatedAt          time.Time             `json:"created_at"`
}

type sessionDetailResponse struct {
	sessionResponse
	Outcomes []outcomeResponse `json:"outcomes"`
}

type recordOutcomeRequest struct {
	OutcomeType        string     `json:"outcome_type"`
	OutcomeNotes       string     `json:"outcome_notes"`
	ScoreAdjustment    *int       `json:"score_adjustment"`
	NextCallDelayHours *int       `json:"next_call_delay_hours"`
	MagicLinkSent      bool       `json:"magic_link_sent"`
	SMSSent            bool       `json:"sms_sent"`
	DocumentsRequested []string   `json:"documents_requested"`
	CallbackDateTime   *time.Time `json:"callback_date_time"`
	CallbackReason     string     `json:"callback_reason"`
	PreferredAgentID   *uuid.UUID `json:"preferred_agent_id"`
}

type historyResponse struct {
	Calls     []sessionResponse `json:"calls"`
	Analytics analyticsResponse `json:"analytics"`
}

type analyticsResponse struct {
	TotalCalls         int64                        `json:"total_calls"`
	ContactRate        float64                      `json:"contact_rate"`
	AvgDurationSeconds float64                      `json:"avg_duration_seconds"`
	AvgTalkTimeSeconds float64                      `json:"avg_talk_time_seconds"`
	OutcomeCounts      map[domain.OutcomeType]int64 `json:"outcome_counts"`
}

// telephonyStatus ingests the provider's form-encoded status callback. The
// provider retries non-2xx responses, so accepted-and-dropped still answers 204.
func (h *HandlerSet) telephonyStatus(ctx *fiber.Ctx) error {
	webhook := telephony.ParseStatusWebhook(ctx)

	if err := h.calls.HandleTelephonyEvent(ctx.Context(), webhook); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) initiateCall(ctx *fiber.Ctx) error {
	agentID, err := requireAgent(ctx)
	if err != nil {
		return err
	}

	var req initiateCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	session, err := h.calls.InitiateCall(ctx.Context(), callsvc.InitiateCallInput{
		UserID:       req.UserID,
		AgentID:      agentID,
		QueueEntryID: req.QueueEntryID,
		PhoneNumber:  req.PhoneNumber,
		Direction:    domain.CallDirection(req.Direction),
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toSessionResponse(session))
}

func (h *HandlerSet) getCall(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call session id")
	}

	session, err := h.calls.GetSession(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	outcomes, err := h.calls.SessionOutcomes(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	resp := sessionDetailResponse{
		sessionResponse: toSessionResponse(session),
		Outcomes:        make([]outcomeResponse, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		resp.Outcomes = append(resp.Outcomes, toOutcomeResponse(o))
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) recordOutcome(ctx *fiber.Ctx) error {
	sessionID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid call session id")
	}

	agentID, err := requireAgent(ctx)
	if err != nil {
		return err
	}

	var req recordOutcomeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	docs := make([]domain.DocumentType, 0, len(req.DocumentsRequested))
	for _, d := range req.DocumentsRequested {
		docs = append(docs, domain.DocumentType(d))
	}

	outcome, err := h.outcomes.RecordOutcome(ctx.Context(), sessionID, agentID, outcomesvc.RecordOutcomeInput{
		OutcomeType:        domain.OutcomeType(req.OutcomeType),
		Notes:              req.OutcomeNotes,
		ScoreAdjustment:    req.ScoreAdjustment,
		NextCallDelayHours: req.NextCallDelayHours,
		MagicLinkSent:      req.MagicLinkSent,
		SMSSent:            req.SMSSent,
		DocumentsRequested: docs,
		CallbackDateTime:   req.CallbackDateTime,
		CallbackReason:     req.CallbackReason,
		PreferredAgentID:   req.PreferredAgentID,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusCreated).JSON(toOutcomeResponse(*outcome))
}

func (h *HandlerSet) callHistory(ctx *fiber.Ctx) error {
	q := repository.HistoryQuery{}
	q.Page, _ = strconv.Atoi(ctx.Query("page", "1"))
	q.Limit, _ = strconv.Atoi(ctx.Query("limit", "50"))

	if v := ctx.Query("agent_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid agent_id")
		}
		q.AgentID = &id
	}
	if v := ctx.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid user_id")
		}
		q.UserID = &id
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
	if v := ctx.Query("outcome"); v != "" {
		outcome := domain.OutcomeType(v)
		q.Outcome = &outcome
	}
	if v := ctx.Query("status"); v != "" {
		status := domain.SessionStatus(v)
		q.Status = &status
	}

	sessions, aggregates, err := h.calls.History(ctx.Context(), q)
	if err != nil {
		return translateError(err)
	}

	resp := historyResponse{Calls: make([]sessionResponse, 0, len(sessions))}
	for i := range sessions {
		resp.Calls = append(resp.Calls, toSessionResponse(&sessions[i]))
	}

	resp.Analytics = analyticsResponse{
		TotalCalls:         aggregates.TotalCalls,
		AvgDurationSeconds: aggregates.AvgDurationSeconds,
		AvgTalkTimeSeconds: aggregates.AvgTalkTimeSeconds,
		OutcomeCounts:      aggregates.OutcomeCounts,
	}
	if aggregates.TotalCalls > 0 {
		resp.Analytics.ContactRate = float64(aggregates.ContactedCalls) / float64(aggregates.TotalCalls)
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func toSessionResponse(session *domain.CallSession) sessionResponse {
	return sessionResponse{
		ID:              session.ID,
		UserID:          session.UserID,
		AgentID:         session.AgentID,
		QueueEntryID:    session.CallQueueID,
		TwilioCallSid:   session.TwilioCallSid,
		Status:          session.Status,
		Direction:       session.Direction,
		StartedAt:       session.StartedAt,
		ConnectedAt:     session.ConnectedAt,
		EndedAt:         session.EndedAt,
		DurationSeconds: session.DurationSeconds,
		TalkTimeSeconds: session.TalkTimeSeconds,
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	}
}

func toOutcomeResponse(o domain.CallOutcome) outcomeResponse {
	return outcomeResponse{
		ID:                 o.ID,
		CallSessionID:      o.CallSessionID,
		UserID:             o.UserID,
		OutcomeType:        o.OutcomeType,
		OutcomeNotes:       o.OutcomeNotes,
		NextCallDelayHours: o.NextCallDelayHours,
		ScoreAdjustment:    o.ScoreAdjustment,
		MagicLinkSent:      o.MagicLinkSent,
		SMSSent:            o.SMSSent,
		DocumentsRequested: o.DocumentsRequested,
		RecordedByAgentID:  o.RecordedByAgentID,
		CreatedAt:          o.CreatedAt,
	}
}

func requireAgent(ctx *fiber.Ctx) (uuid.UUID, error) {
	raw := ctx.Get("X-Agent-ID")
	if raw == "" {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "X-Agent-ID header is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid X-Agent-ID header")
	}
	return id, nil
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
