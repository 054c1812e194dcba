// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists full conversation snapshots per persona with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			persona_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			turn_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			is_error INTEGER NOT NULL DEFAULT 0,
			image TEXT,
			PRIMARY KEY (persona_id, position)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_persona
			ON turns(persona_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveConversation overwrites the stored snapshot for a persona.
// Blank-text turns are filtered unconditionally before writing, so an
// in-flight streaming placeholder can never reach the database.
func (s *SQLiteStore) SaveConversation(ctx context.Context, personaID string, turns []Turn) error {
	turns = FilterBlank(turns)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE persona_id = ?`, personaID); err != nil {
		return fmt.Errorf("clearing previous snapshot: %w", err)
	}

	insert := `
		INSERT INTO turns (persona_id, position, turn_id, role, text, created_at, is_error, image)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, t := range turns {
		isError := 0
		if t.IsError {
			isError = 1
		}
		var image sql.NullString
		if t.Image != "" {
			image = sql.NullString{String: t.Image, Valid: true}
		}
		_, err := tx.ExecContext(ctx, insert,
			personaID,
			i,
			t.ID,
			string(t.Role),
			t.Text,
			t.CreatedAt.Format(time.RFC3339Nano),
			isError,
			image,
		)
		if err != nil {
			return fmt.Errorf("inserting turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}

	s.logger.Debug("conversation saved",
		"persona_id", personaID,
		"turns", len(turns),
	)
	return nil
}

// LoadConversation returns the stored snapshot for a persona in insertion order.
// A missing entry is an empty conversation, not an error. Rows that fail to
// decode are skipped with a warning; corruption is never surfaced to the user.
func (s *SQLiteStore) LoadConversation(ctx context.Context, personaID string) ([]Turn, error) {
	query := `
		SELECT turn_id, role, text, created_at, is_error, image
		FROM turns
		WHERE persona_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, personaID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t         Turn
			role      string
			createdAt string
			isError   int
			image     sql.NullString
		)
		if err := rows.Scan(&t.ID, &role, &t.Text, &createdAt, &isError, &image); err != nil {
			s.logger.Warn("skipping undecodable turn row",
				"persona_id", personaID,
				"error", err,
			)
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			s.logger.Warn("skipping turn with bad timestamp",
				"persona_id", personaID,
				"turn_id", t.ID,
				"error", err,
			)
			continue
		}

		t.Role = Role(role)
		t.CreatedAt = ts
		t.IsError = isError != 0
		if image.Valid {
			t.Image = image.String
		}

		// Defensive: a prior interrupted session should never have written
		// a blank turn, but filter on read as well.
		if t.Blank() {
			continue
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}

	return turns, nil
}

// ClearConversation deletes the stored snapshot for a persona.
// Clearing an absent entry is a no-op.
func (s *SQLiteStore) ClearConversation(ctx context.Context, personaID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE persona_id = ?`, personaID); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}

	s.logger.Debug("conversation cleared", "persona_id", personaID)
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
