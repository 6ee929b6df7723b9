package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver

	"policy-rag-assistant/internal/models"
)

// SQLiteSink persists the suggestion log in SQLite. Entries are inserted
// once and never rewritten; the only UPDATE the schema sees is the one-shot
// decision update, guarded by a pending-state predicate so concurrent
// decisions cannot both win.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the audit database at dsn.
func NewSQLiteSink(dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sink := &SQLiteSink{db: db}
	if err := sink.initDB(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return sink, nil
}

func (s *SQLiteSink) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suggestion_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		intent TEXT NOT NULL,
		prompt TEXT NOT NULL,
		jurisdictions TEXT NOT NULL,
		synthesized TEXT,
		fallback TEXT,
		status TEXT NOT NULL,
		error_code TEXT,
		decision TEXT NOT NULL DEFAULT 'pending',
		modified_content TEXT,
		rejection_reason TEXT,
		decided_at TEXT,
		processing_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_suggestion_log_user
		ON suggestion_log (user_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Append implements Sink.
func (s *SQLiteSink) Append(ctx context.Context, entry *models.SuggestionLogEntry) error {
	jurisdictions, err := json.Marshal(entry.Jurisdictions)
	if err != nil {
		return fmt.Errorf("failed to marshal jurisdictions: %w", err)
	}

	var synthesized, fallback sql.NullString
	if entry.Synthesized != nil {
		data, err := json.Marshal(entry.Synthesized)
		if err != nil {
			return fmt.Errorf("failed to marshal synthesized response: %w", err)
		}
		synthesized = sql.NullString{String: string(data), Valid: true}
	}
	if entry.Fallback != nil {
		data, err := json.Marshal(entry.Fallback)
		if err != nil {
			return fmt.Errorf("failed to marshal fallback response: %w", err)
		}
		fallback = sql.NullString{String: string(data), Valid: true}
	}

	decision := entry.Decision
	if decision == "" {
		decision = models.DecisionPending
	}

	query := `
		INSERT INTO suggestion_log (
			id, user_id, organization_id, intent, prompt, jurisdictions,
			synthesized, fallback, status, error_code, decision,
			modified_content, rejection_reason, decided_at,
			processing_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID.String(), entry.UserID, entry.OrganizationID, string(entry.Intent),
		entry.Prompt, string(jurisdictions), synthesized, fallback,
		string(entry.Status), entry.ErrorCode, string(decision),
		entry.ModifiedContent, entry.RejectionReason, nil,
		entry.ProcessingMs, entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Get implements Sink.
func (s *SQLiteSink) Get(ctx context.Context, id uuid.UUID) (*models.SuggestionLogEntry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id.String())
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

// UpdateDecision implements Sink. The pending-state predicate makes the
// update atomic: of two concurrent decisions, exactly one changes a row.
func (s *SQLiteSink) UpdateDecision(ctx context.Context, id uuid.UUID, decision models.Decision, modifiedContent, rejectionReason string, decidedAt time.Time) error {
	query := `
		UPDATE suggestion_log
		SET decision = ?, modified_content = ?, rejection_reason = ?, decided_at = ?
		WHERE id = ? AND decision = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(decision), modifiedContent, rejectionReason,
		decidedAt.Format(time.RFC3339Nano), id.String(), string(models.DecisionPending))
	if err != nil {
		return fmt.Errorf("failed to update decision: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// No row changed: either the entry is missing or it was already decided.
	var existing string
	err = s.db.QueryRowContext(ctx, `SELECT decision FROM suggestion_log WHERE id = ?`, id.String()).Scan(&existing)
	if err == sql.ErrNoRows {
		return ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check entry: %w", err)
	}
	return ErrAlreadyDecided
}

// History implements Sink.
func (s *SQLiteSink) History(ctx context.Context, userID string, filter models.HistoryFilter) ([]models.SuggestionLogEntry, error) {
	query := selectEntry + ` WHERE user_id = ?`
	args := []any{userID}

	if filter.Intent != "" {
		query += ` AND intent = ?`
		args = append(args, string(filter.Intent))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.SuggestionLogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return entries, nil
}

const selectEntry = `
	SELECT id, user_id, organization_id, intent, prompt, jurisdictions,
	       synthesized, fallback, status, error_code, decision,
	       modified_content, rejection_reason, decided_at,
	       processing_ms, created_at
	FROM suggestion_log
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(scanner rowScanner) (*models.SuggestionLogEntry, error) {
	var entry models.SuggestionLogEntry
	var id, intent, jurisdictions, status, decision, createdAt string
	var synthesized, fallback, errorCode, modifiedContent, rejectionReason, decidedAt sql.NullString

	err := scanner.Scan(&id, &entry.UserID, &entry.OrganizationID, &intent,
		&entry.Prompt, &jurisdictions, &synthesized, &fallback, &status,
		&errorCode, &decision, &modifiedContent, &rejectionReason, &decidedAt,
		&entry.ProcessingMs, &createdAt)
	if err != nil {
		return nil, err
	}

	entryID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid entry id %q: %w", id, err)
	}
	entry.ID = entryID
	entry.Intent = models.Intent(intent)
	entry.Status = models.RequestStatus(status)
	entry.Decision = models.Decision(decision)

	if err := json.Unmarshal([]byte(jurisdictions), &entry.Jurisdictions); err != nil {
		return nil, fmt.Errorf("invalid jurisdictions for %s: %w", id, err)
	}
	if synthesized.Valid {
		if err := json.Unmarshal([]byte(synthesized.String), &entry.Synthesized); err != nil {
			return nil, fmt.Errorf("invalid synthesized response for %s: %w", id, err)
		}
	}
	if fallback.Valid {
		if err := json.Unmarshal([]byte(fallback.String), &entry.Fallback); err != nil {
			return nil, fmt.Errorf("invalid fallback response for %s: %w", id, err)
		}
	}
	if errorCode.Valid {
		entry.ErrorCode = errorCode.String
	}
	if modifiedContent.Valid {
		entry.ModifiedContent = modifiedContent.String
	}
	if rejectionReason.Valid {
		entry.RejectionReason = rejectionReason.String
	}
	if decidedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, decidedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid decided_at for %s: %w", id, err)
		}
		entry.DecidedAt = &t
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for %s: %w", id, err)
	}

	return &entry, nil
}
