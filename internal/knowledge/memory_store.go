package knowledge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"policy-rag-assistant/internal/models"
)

// MemoryStore is an in-process Store used in tests and single-node
// development runs. Concurrency-safe; reads take a shared lock.
type MemoryStore struct {
	mu         sync.RWMutex
	versions   map[uuid.UUID][]*models.KnowledgeDocument // ascending by version
	generation int64
}

// NewMemoryStore creates an empty in-memory knowledge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[uuid.UUID][]*models.KnowledgeDocument)}
}

// Add implements Store.
func (m *MemoryStore) Add(_ context.Context, doc *models.KnowledgeDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.SearchText == "" {
		doc.SearchText = models.BuildSearchText(doc.Title, doc.Content)
	}
	copied := *doc
	m.versions[doc.ID] = append(m.versions[doc.ID], &copied)
	m.generation++
	return nil
}

// UpdateContent implements Store.
func (m *MemoryStore) UpdateContent(_ context.Context, id uuid.UUID, title, content string) (*models.KnowledgeDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.versions[id]
	if len(chain) == 0 {
		return nil, ErrDocumentNotFound
	}

	head := chain[len(chain)-1]
	now := time.Now().UTC()

	next := *head
	next.Version = head.Version + 1
	next.Title = title
	next.Content = content
	next.SearchText = models.BuildSearchText(title, content)
	next.Status = head.Status
	next.EffectiveDate = now
	next.UpdatedAt = now

	head.Status = models.StatusDeprecated
	head.SupersededBy = &id
	head.DeprecationReason = "superseded by newer version"
	head.UpdatedAt = now

	m.versions[id] = append(chain, &next)
	m.generation++

	result := next
	return &result, nil
}

// SetStatus implements Store.
func (m *MemoryStore) SetStatus(_ context.Context, id uuid.UUID, status models.VerificationStatus, reason string, supersededBy *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.versions[id]
	if len(chain) == 0 {
		return ErrDocumentNotFound
	}
	if status == models.StatusDeprecated && reason == "" && supersededBy == nil {
		return ErrDeprecationUnjustified
	}

	head := chain[len(chain)-1]
	head.Status = status
	head.DeprecationReason = reason
	head.SupersededBy = supersededBy
	head.UpdatedAt = time.Now().UTC()
	m.generation++
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.KnowledgeDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.versions[id]
	if len(chain) == 0 {
		return nil, ErrDocumentNotFound
	}
	copied := *chain[len(chain)-1]
	return &copied, nil
}

// GetVersion implements Store.
func (m *MemoryStore) GetVersion(_ context.Context, id uuid.UUID, version int) (*models.KnowledgeDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.versions[id] {
		if doc.Version == version {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, ErrDocumentNotFound
}

// Candidates implements Store. Deprecated versions are excluded outright,
// never merely down-ranked.
func (m *MemoryStore) Candidates(_ context.Context, terms []string, jurisdictions []string) ([]*models.KnowledgeDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []*models.KnowledgeDocument
	for _, chain := range m.versions {
		for _, doc := range chain {
			if doc.Deprecated() || !doc.AppliesTo(jurisdictions) {
				continue
			}
			if len(terms) > 0 && !matchesAny(doc.SearchText, terms) {
				continue
			}
			copied := *doc
			candidates = append(candidates, &copied)
		}
	}
	return candidates, nil
}

// RecordUsage implements Store. Usage is bookkeeping; counting a document
// twice in one call is fine.
func (m *MemoryStore) RecordUsage(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		chain := m.versions[id]
		if len(chain) > 0 {
			chain[len(chain)-1].UsageCount++
		}
	}
	return nil
}

// Generation implements Store.
func (m *MemoryStore) Generation(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

func matchesAny(searchText string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(searchText, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
