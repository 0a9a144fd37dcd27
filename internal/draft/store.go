// Package draft persists per-account, per-note publishing metadata.
package draft

import (
	"log/slog"

	"github.com/starford/inkwell/internal/models"
)

// Store is the backing key-value contract. Get returns apperr.ErrNotFound
// for unknown ids.
type Store interface {
	Get(id string) (*models.Draft, error)
	Put(d *models.Draft) error
	Close() error
}

// Verify implementations satisfy Store at compile time.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Options selects and configures the backing store.
type Options struct {
	SQLitePath     string
	SQLiteDisabled bool
	// FallbackFile holds the JSON data blob used when SQLite is unavailable.
	// Empty keeps drafts in memory only.
	FallbackFile string
}

// Open probes for the embedded database and falls back to the JSON-backed
// memory store when it cannot be opened (disabled, no cgo, unwritable path).
// Callers never learn which backing is active beyond the log line.
func Open(opts Options, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if !opts.SQLiteDisabled && opts.SQLitePath != "" {
		db, err := OpenSQLite(opts.SQLitePath)
		if err == nil {
			log.Info("draft store ready", slog.String("backend", "sqlite"), slog.String("path", opts.SQLitePath))
			return db, nil
		}
		log.Warn("draft store: sqlite unavailable, falling back",
			slog.String("error", err.Error()))
	}
	mem, err := NewMemoryStore(opts.FallbackFile)
	if err != nil {
		return nil, err
	}
	log.Info("draft store ready", slog.String("backend", "memory"), slog.String("file", opts.FallbackFile))
	return mem, nil
}
