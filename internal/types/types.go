package types

import "github.com/giftswap/exchange-backend/internal/session"

// ClientMessage is one command frame from a connected observer.
type ClientMessage struct {
	Type       string `json:"type"` // "Claim" | "Close" | "AdminAssign"
	TurnID     string `json:"turn_id,omitempty"`
	OfferingID string `json:"offering_id,omitempty"`
}

// ServerMessage is one frame to a connected observer. Notice frames are
// advisory; StateSnapshot frames carry the authoritative state.
type ServerMessage struct {
	Type     string            `json:"type"` // "StateSnapshot" | "Notice" | "Error"
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Notice   *session.Notice   `json:"notice,omitempty"`
	Error    string            `json:"error,omitempty"`
}
