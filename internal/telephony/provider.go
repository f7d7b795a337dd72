package telephony

import (
	"context"

	"github.com/google/uuid"
)

// DialRequest describes one outbound dial to place.
type DialRequest struct {
	SessionID   uuid.UUID
	PhoneNumber string
	CallerID    string
}

// DialResult carries the provider's identifiers for a placed call.
type DialResult struct {
	CallSid string
}

// Provider abstracts the telephony integration. Signaling comes back through
// the status webhook, not through this interface.
type Provider interface {
	PlaceCall(ctx context.Context, req DialRequest) (DialResult, error)
}
