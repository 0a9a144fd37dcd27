package draft

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS drafts (
	id           TEXT PRIMARY KEY,
	account_name TEXT NOT NULL,
	note_path    TEXT NOT NULL,
	rev          INTEGER NOT NULL DEFAULT 0,
	doc          TEXT NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_drafts_note ON drafts(note_path);
`

// SQLiteStore keeps each draft as a JSON document row.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("draft: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("draft: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("draft: apply schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) Get(id string) (*models.Draft, error) {
	var doc string
	err := s.conn.QueryRow(`SELECT doc FROM drafts WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: draft %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("draft: get: %w", err)
	}
	var d models.Draft
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, fmt.Errorf("draft: decode %s: %w", id, err)
	}
	return &d, nil
}

func (s *SQLiteStore) Put(d *models.Draft) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("draft: encode: %w", err)
	}
	_, err = s.conn.Exec(`
		INSERT INTO drafts (id, account_name, note_path, rev, doc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_name = excluded.account_name,
			note_path    = excluded.note_path,
			rev          = excluded.rev,
			doc          = excluded.doc,
			updated_at   = excluded.updated_at
	`, d.ID, d.AccountName, d.NotePath, d.Rev, string(doc), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("draft: put: %w", err)
	}
	return nil
}
