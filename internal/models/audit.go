package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus classifies how a request concluded.
type RequestStatus string

const (
	RequestSuccess  RequestStatus = "success"
	RequestFallback RequestStatus = "fallback"
	RequestError    RequestStatus = "error"
)

// Decision is the user's verdict on a suggestion.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionAccepted Decision = "accepted"
	DecisionModified Decision = "modified"
	DecisionRejected Decision = "rejected"
)

// ParseDecision accepts only the terminal decision values; pending is the
// initial state and cannot be recorded explicitly.
func ParseDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case DecisionAccepted, DecisionModified, DecisionRejected:
		return Decision(s), true
	}
	return "", false
}

// SuggestionLogEntry is one append-only audit record. Every submit call
// produces exactly one entry regardless of outcome. All fields are
// write-once except the decision fields, which are set at most once by
// RecordDecision.
type SuggestionLogEntry struct {
	ID             uuid.UUID            `json:"id"`
	UserID         string               `json:"user_id"`
	OrganizationID string               `json:"organization_id"`
	Intent         Intent               `json:"intent"`
	Prompt         string               `json:"prompt"`
	Jurisdictions  []string             `json:"jurisdictions"`
	Synthesized    *SynthesizedResponse `json:"synthesized,omitempty"`
	Fallback       *FallbackResponse    `json:"fallback,omitempty"`
	Status         RequestStatus        `json:"status"`
	ErrorCode      string               `json:"error_code,omitempty"`

	Decision        Decision   `json:"decision"`
	ModifiedContent string     `json:"modified_content,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`

	ProcessingMs int64     `json:"processing_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryFilter narrows a suggestion-history query. Zero values mean
// "no filter"; Limit falls back to a server-side default.
type HistoryFilter struct {
	Intent Intent
	Status RequestStatus
	Limit  int
	Offset int
}

// HistoryResponse is a paginated slice of the caller's audit trail.
type HistoryResponse struct {
	Entries []SuggestionLogEntry `json:"entries"`
	Count   int                  `json:"count"`
	Offset  int                  `json:"offset"`
}
