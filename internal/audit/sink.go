// Package audit provides the append-only suggestion log. Every assistant
// request produces exactly one entry; entries are write-once except the
// decision fields, which are set at most once.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"policy-rag-assistant/internal/models"
)

// ErrEntryNotFound is returned when no log entry matches the given id.
var ErrEntryNotFound = errors.New("audit: entry not found")

// ErrAlreadyDecided is returned when a decision was already recorded for an
// entry. Decisions are one-shot; the first writer wins.
var ErrAlreadyDecided = errors.New("audit: decision already recorded")

// Sink is the audit-log contract. Append must durably persist before it
// returns; the orchestrator does not respond to the caller until it has.
type Sink interface {
	Append(ctx context.Context, entry *models.SuggestionLogEntry) error

	Get(ctx context.Context, id uuid.UUID) (*models.SuggestionLogEntry, error)

	// UpdateDecision sets the decision fields exactly once. Concurrent
	// updates on the same entry conflict; the loser gets ErrAlreadyDecided.
	UpdateDecision(ctx context.Context, id uuid.UUID, decision models.Decision, modifiedContent, rejectionReason string, decidedAt time.Time) error

	// History returns the given user's entries, newest first, paginated.
	History(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.SuggestionLogEntry, error)

	Close() error
}
