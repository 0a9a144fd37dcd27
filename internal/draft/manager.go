package draft

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"reflect"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/bus"
	"github.com/starford/inkwell/internal/models"
)

// Manager enforces draft identity and skips writes that change nothing.
type Manager struct {
	store Store
	pub   bus.Publisher
	log   *slog.Logger
	mu    sync.Mutex
}

// NewManager wraps store. pub may be nil.
func NewManager(store Store, pub bus.Publisher, log *slog.Logger) *Manager {
	if pub == nil {
		pub = bus.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, pub: pub, log: log}
}

// Get returns the draft for account and note, or nil when none is stored.
func (m *Manager) Get(account, notePath string) (*models.Draft, error) {
	d, err := m.store.Get(models.DraftID(account, notePath))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

func validateIdentity(d *models.Draft) error {
	return validation.ValidateStruct(d,
		validation.Field(&d.AccountName, validation.Required),
		validation.Field(&d.NotePath, validation.Required),
	)
}

// Set stores d. It fails with apperr.ErrInvalidDraft when the account or
// note path is missing, sets the composite id from them, and does no I/O when d is
// deep-equal to the stored record. The returned bool reports whether a
// write happened.
func (m *Manager) Set(d *models.Draft) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("%w: nil draft", apperr.ErrInvalidDraft)
	}
	if err := validateIdentity(d); err != nil {
		return false, fmt.Errorf("%w: %v", apperr.ErrInvalidDraft, err)
	}
	d.ID = models.DraftID(d.AccountName, d.NotePath)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Get(d.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		d.Rev = 1
	case err != nil:
		return false, err
	default:
		candidate := *d
		candidate.Rev = existing.Rev
		if reflect.DeepEqual(&candidate, existing) {
			d.Rev = existing.Rev
			return false, nil
		}
		d.Rev = existing.Rev + 1
	}

	if err := m.store.Put(d); err != nil {
		return false, err
	}
	m.log.Debug("draft saved", slog.String("id", d.ID), slog.Int("rev", d.Rev))
	m.pub.Publish(bus.Event{Topic: bus.DraftItemUpdated, Data: d})
	return true, nil
}

// GetOrCreate returns the stored draft for the note, creating one titled
// after the note's basename when none exists or its title is blank.
func (m *Manager) GetOrCreate(account, notePath string) (*models.Draft, error) {
	d, err := m.Get(account, notePath)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(path.Base(notePath), path.Ext(notePath))
	if d == nil {
		d = &models.Draft{
			ID:          models.DraftID(account, notePath),
			AccountName: account,
			NotePath:    notePath,
			Title:       base,
		}
		if _, err := m.Set(d); err != nil {
			return nil, err
		}
		return d, nil
	}
	if strings.TrimSpace(d.Title) == "" {
		d.Title = base
		if _, err := m.Set(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}
