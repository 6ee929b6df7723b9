package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver

	"policy-rag-assistant/internal/models"
)

// SQLiteStore implements Store on SQLite, with an FTS virtual table holding
// the full-text search representation of every document version.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the knowledge database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initDB(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initDB creates the document, full-text, and metadata tables.
func (s *SQLiteStore) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL,
		jurisdictions TEXT NOT NULL,
		standards TEXT NOT NULL,
		status TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		expiry_date TEXT,
		superseded_by TEXT,
		deprecation_reason TEXT,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (id, version)
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts4(
		search_text,
		doc_id,
		doc_version,
		notindexed=doc_id,
		notindexed=doc_version
	);

	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO store_meta (key, value) VALUES ('generation', 0);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Add implements Store.
func (s *SQLiteStore) Add(ctx context.Context, doc *models.KnowledgeDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.SearchText == "" {
		doc.SearchText = models.BuildSearchText(doc.Title, doc.Content)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertVersion(ctx, tx, doc); err != nil {
		return err
	}
	if err := bumpGeneration(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateContent implements Store. The previous head version is deprecated in
// the same transaction that inserts the new one.
func (s *SQLiteStore) UpdateContent(ctx context.Context, id uuid.UUID, title, content string) (*models.KnowledgeDocument, error) {
	head, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	next := *head
	next.Version = head.Version + 1
	next.Title = title
	next.Content = content
	next.SearchText = models.BuildSearchText(title, content)
	next.EffectiveDate = now
	next.UpdatedAt = now
	next.SupersededBy = nil
	next.DeprecationReason = ""

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deprecate := `
		UPDATE documents
		SET status = ?, superseded_by = ?, deprecation_reason = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	if _, err := tx.ExecContext(ctx, deprecate,
		string(models.StatusDeprecated), id.String(), "superseded by newer version",
		now.Format(time.RFC3339Nano), id.String(), head.Version); err != nil {
		return nil, fmt.Errorf("failed to deprecate previous version: %w", err)
	}

	if err := insertVersion(ctx, tx, &next); err != nil {
		return nil, err
	}
	if err := bumpGeneration(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &next, nil
}

// SetStatus implements Store.
func (s *SQLiteStore) SetStatus(ctx context.Context, id uuid.UUID, status models.VerificationStatus, reason string, supersededBy *uuid.UUID) error {
	if status == models.StatusDeprecated && reason == "" && supersededBy == nil {
		return ErrDeprecationUnjustified
	}

	head, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var superseded sql.NullString
	if supersededBy != nil {
		superseded = sql.NullString{String: supersededBy.String(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE documents
		SET status = ?, deprecation_reason = ?, superseded_by = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	if _, err := tx.ExecContext(ctx, query,
		string(status), reason, superseded, time.Now().UTC().Format(time.RFC3339Nano),
		id.String(), head.Version); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if err := bumpGeneration(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeDocument, error) {
	query := selectColumns + ` FROM documents d WHERE d.id = ? ORDER BY d.version DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, id.String())
	return scanDocument(row)
}

// GetVersion implements Store.
func (s *SQLiteStore) GetVersion(ctx context.Context, id uuid.UUID, version int) (*models.KnowledgeDocument, error) {
	query := selectColumns + ` FROM documents d WHERE d.id = ? AND d.version = ?`
	row := s.db.QueryRowContext(ctx, query, id.String(), version)
	return scanDocument(row)
}

// Candidates implements Store. Term matching is substring-based over the
// stored search text, the same predicate the in-memory store and the scorer
// apply; a whole-token MATCH would miss hits like "audit" inside "audits".
// Jurisdiction filtering happens in Go on the scanned rows, since the
// jurisdiction set is stored as JSON.
func (s *SQLiteStore) Candidates(ctx context.Context, terms []string, jurisdictions []string) ([]*models.KnowledgeDocument, error) {
	query := selectColumns + `
		FROM documents_fts f
		JOIN documents d ON d.id = f.doc_id AND d.version = f.doc_version
		WHERE d.status != ?
	`
	args := []any{string(models.StatusDeprecated)}
	if clause, likeArgs := likeMatchClause(terms); clause != "" {
		query += ` AND (` + clause + `)`
		args = append(args, likeArgs...)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []*models.KnowledgeDocument
	for rows.Next() {
		doc, err := scanDocumentRows(rows)
		if err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		if doc.AppliesTo(jurisdictions) {
			candidates = append(candidates, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return candidates, nil
}

// RecordUsage implements Store.
func (s *SQLiteStore) RecordUsage(ctx context.Context, ids []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE documents SET usage_count = usage_count + 1
		WHERE id = ? AND version = (SELECT MAX(version) FROM documents WHERE id = ?)
	`
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, id.String(), id.String()); err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Generation implements Store.
func (s *SQLiteStore) Generation(ctx context.Context) (int64, error) {
	var generation int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'generation'`).Scan(&generation)
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	return generation, nil
}

const selectColumns = `
	SELECT d.id, d.version, d.title, d.content, d.category, d.jurisdictions,
	       d.standards, d.status, d.effective_date, d.expiry_date,
	       d.superseded_by, d.deprecation_reason, d.usage_count,
	       d.created_at, d.updated_at
`

func insertVersion(ctx context.Context, tx *sql.Tx, doc *models.KnowledgeDocument) error {
	jurisdictions, err := json.Marshal(doc.Jurisdictions)
	if err != nil {
		return fmt.Errorf("failed to marshal jurisdictions: %w", err)
	}
	standards, err := json.Marshal(doc.Standards)
	if err != nil {
		return fmt.Errorf("failed to marshal standards: %w", err)
	}

	var expiry, superseded sql.NullString
	if doc.ExpiryDate != nil {
		expiry = sql.NullString{String: doc.ExpiryDate.Format(time.RFC3339Nano), Valid: true}
	}
	if doc.SupersededBy != nil {
		superseded = sql.NullString{String: doc.SupersededBy.String(), Valid: true}
	}

	insert := `
		INSERT INTO documents (
			id, version, title, content, category, jurisdictions, standards,
			status, effective_date, expiry_date, superseded_by,
			deprecation_reason, usage_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		doc.ID.String(), doc.Version, doc.Title, doc.Content, string(doc.Category),
		string(jurisdictions), string(standards), string(doc.Status),
		doc.EffectiveDate.Format(time.RFC3339Nano), expiry, superseded,
		doc.DeprecationReason, doc.UsageCount,
		doc.CreatedAt.Format(time.RFC3339Nano), doc.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	ftsInsert := `INSERT INTO documents_fts (search_text, doc_id, doc_version) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ftsInsert, doc.SearchText, doc.ID.String(), doc.Version); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	return nil
}

func bumpGeneration(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE store_meta SET value = value + 1 WHERE key = 'generation'`); err != nil {
		return fmt.Errorf("failed to bump generation: %w", err)
	}
	return nil
}

// likeMatchClause builds an OR of LIKE patterns, one per term. LIKE
// metacharacters in the terms are escaped so they match literally.
func likeMatchClause(terms []string) (string, []any) {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	var parts []string
	var args []any
	for _, term := range terms {
		clean := strings.ToLower(strings.TrimSpace(term))
		if clean == "" {
			continue
		}
		parts = append(parts, `f.search_text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escaper.Replace(clean)+"%")
	}
	return strings.Join(parts, " OR "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row *sql.Row) (*models.KnowledgeDocument, error) {
	doc, err := scanInto(row)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	return doc, err
}

func scanDocumentRows(rows *sql.Rows) (*models.KnowledgeDocument, error) {
	return scanInto(rows)
}

func scanInto(scanner rowScanner) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	var id, category, status string
	var jurisdictions, standards string
	var effectiveDate, createdAt, updatedAt string
	var expiryDate, supersededBy, deprecationReason sql.NullString

	err := scanner.Scan(&id, &doc.Version, &doc.Title, &doc.Content, &category,
		&jurisdictions, &standards, &status, &effectiveDate, &expiryDate,
		&supersededBy, &deprecationReason, &doc.UsageCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	docID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", id, err)
	}
	doc.ID = docID
	doc.Category = models.DocumentCategory(category)
	doc.Status = models.VerificationStatus(status)

	if err := json.Unmarshal([]byte(jurisdictions), &doc.Jurisdictions); err != nil {
		return nil, fmt.Errorf("invalid jurisdictions for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(standards), &doc.Standards); err != nil {
		return nil, fmt.Errorf("invalid standards for %s: %w", id, err)
	}

	if doc.EffectiveDate, err = time.Parse(time.RFC3339Nano, effectiveDate); err != nil {
		return nil, fmt.Errorf("invalid effective date for %s: %w", id, err)
	}
	if doc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for %s: %w", id, err)
	}
	if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at for %s: %w", id, err)
	}

	if expiryDate.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiryDate.String)
		if err != nil {
			return nil, fmt.Errorf("invalid expiry date for %s: %w", id, err)
		}
		doc.ExpiryDate = &t
	}
	if supersededBy.Valid {
		ref, err := uuid.Parse(supersededBy.String)
		if err != nil {
			return nil, fmt.Errorf("invalid superseding reference for %s: %w", id, err)
		}
		doc.SupersededBy = &ref
	}
	if deprecationReason.Valid {
		doc.DeprecationReason = deprecationReason.String
	}

	doc.SearchText = models.BuildSearchText(doc.Title, doc.Content)
	return &doc, nil
}
