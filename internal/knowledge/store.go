// Package knowledge provides the verified knowledge base backing retrieval.
package knowledge

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"policy-rag-assistant/internal/models"
)

// ErrDocumentNotFound is returned when no live document matches an id.
var ErrDocumentNotFound = errors.New("knowledge: document not found")

// ErrDeprecationUnjustified is returned when a document is deprecated
// without a superseding reference or a reason.
var ErrDeprecationUnjustified = errors.New("knowledge: deprecation requires a superseding document or a reason")

// Store is the knowledge-base contract. Documents are versioned and never
// hard-deleted: updates insert a new version and mark the old one
// deprecated, so historical audit references always resolve.
type Store interface {
	// Add inserts a new document at version 1.
	Add(ctx context.Context, doc *models.KnowledgeDocument) error

	// UpdateContent inserts a new version of the document and deprecates
	// the previous one with a superseding reference. Returns the new head.
	UpdateContent(ctx context.Context, id uuid.UUID, title, content string) (*models.KnowledgeDocument, error)

	// SetStatus changes the verification status of the current version.
	// Deprecation requires a superseding reference or a reason.
	SetStatus(ctx context.Context, id uuid.UUID, status models.VerificationStatus, reason string, supersededBy *uuid.UUID) error

	// Get returns the current (highest) version of a document, including
	// deprecated ones so audit links stay resolvable.
	Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeDocument, error)

	// GetVersion returns one specific version of a document.
	GetVersion(ctx context.Context, id uuid.UUID, version int) (*models.KnowledgeDocument, error)

	// Candidates returns every non-deprecated document that covers at least
	// one requested jurisdiction (or is jurisdiction-agnostic) and matches
	// at least one query term. An empty term list returns all applicable
	// documents. An empty result is normal, not an error.
	Candidates(ctx context.Context, terms []string, jurisdictions []string) ([]*models.KnowledgeDocument, error)

	// RecordUsage bumps the usage counter of the cited documents.
	RecordUsage(ctx context.Context, ids []uuid.UUID) error

	// Generation returns a counter incremented on every write. Retrieval
	// cache keys embed it, so any corpus change invalidates cached results.
	Generation(ctx context.Context) (int64, error)

	Close() error
}
