package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/models"
)

// DataKey is the top-level key the drafts live under in the data file.
const DataKey = "local_drafts"

// MemoryStore keeps drafts in a map and mirrors the whole map into a shared
// JSON data file after every write. Other top-level keys in that file are
// preserved.
type MemoryStore struct {
	mu     sync.RWMutex
	path   string
	drafts map[string]*models.Draft
}

// NewMemoryStore loads drafts from path. An empty path or a missing file
// starts empty.
func NewMemoryStore(path string) (*MemoryStore, error) {
	m := &MemoryStore{path: path, drafts: make(map[string]*models.Draft)}
	if path == "" {
		return m, nil
	}
	blob, err := readDataFile(path)
	if err != nil {
		return nil, err
	}
	if raw, ok := blob[DataKey]; ok {
		if err := json.Unmarshal(raw, &m.drafts); err != nil {
			return nil, fmt.Errorf("draft: decode %s: %w", DataKey, err)
		}
	}
	return m, nil
}

func (m *MemoryStore) Get(id string) (*models.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, fmt.Errorf("%w: draft %s", apperr.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Put(d *models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	next := maps.Clone(m.drafts)
	next[d.ID] = &cp
	if err := m.save(next); err != nil {
		return err
	}
	m.drafts = next
	return nil
}

// Close is a no-op; every Put is already persisted.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) save(drafts map[string]*models.Draft) error {
	if m.path == "" {
		return nil
	}
	blob, err := readDataFile(m.path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(drafts)
	if err != nil {
		return fmt.Errorf("draft: encode: %w", err)
	}
	blob[DataKey] = raw
	out, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("draft: encode data file: %w", err)
	}
	return writeAtomic(m.path, out)
}

func readDataFile(path string) (map[string]json.RawMessage, error) {
	blob := make(map[string]json.RawMessage)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return blob, nil
	}
	if err != nil {
		return nil, fmt.Errorf("draft: read data file: %w", err)
	}
	if len(data) == 0 {
		return blob, nil
	}
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("draft: parse data file: %w", err)
	}
	return blob, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("draft: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".inkwell-tmp-*")
	if err != nil {
		return fmt.Errorf("draft: create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("draft: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("draft: close temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("draft: rename: %w", err)
	}
	return nil
}
