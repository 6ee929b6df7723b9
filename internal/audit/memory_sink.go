package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"policy-rag-assistant/internal/models"
)

// MemorySink is an in-process Sink for tests and development runs.
type MemorySink struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.SuggestionLogEntry
}

// NewMemorySink creates an empty in-memory audit sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{entries: make(map[uuid.UUID]*models.SuggestionLogEntry)}
}

// Append implements Sink.
func (m *MemorySink) Append(_ context.Context, entry *models.SuggestionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *entry
	if copied.Decision == "" {
		copied.Decision = models.DecisionPending
	}
	m.entries[copied.ID] = &copied
	return nil
}

// Get implements Sink.
func (m *MemorySink) Get(_ context.Context, id uuid.UUID) (*models.SuggestionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	copied := *entry
	return &copied, nil
}

// UpdateDecision implements Sink. First writer wins under the sink's lock.
func (m *MemorySink) UpdateDecision(_ context.Context, id uuid.UUID, decision models.Decision, modifiedContent, rejectionReason string, decidedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if entry.Decision != models.DecisionPending {
		return ErrAlreadyDecided
	}

	entry.Decision = decision
	entry.ModifiedContent = modifiedContent
	entry.RejectionReason = rejectionReason
	entry.DecidedAt = &decidedAt
	return nil
}

// History implements Sink.
func (m *MemorySink) History(_ context.Context, userID string, filter models.HistoryFilter) ([]models.SuggestionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.SuggestionLogEntry
	for _, entry := range m.entries {
		if entry.UserID != userID {
			continue
		}
		if filter.Intent != "" && entry.Intent != filter.Intent {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		matched = append(matched, *entry)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	return paginate(matched, filter), nil
}

// Len reports the number of stored entries. Mainly useful for tests.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close implements Sink.
func (m *MemorySink) Close() error { return nil }

func paginate(entries []models.SuggestionLogEntry, filter models.HistoryFilter) []models.SuggestionLogEntry {
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]

	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries
}
