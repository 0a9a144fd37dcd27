package draft

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/models"
)

func testDB(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "drafts.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStore_PutGet(t *testing.T) {
	db := testDB(t)
	scale := 1.5
	d := &models.Draft{ID: "acca.md", AccountName: "acc", NotePath: "a.md", Title: "A", Rev: 1, CoverCropScale: &scale}
	if err := db.Put(d); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get("acca.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "A" || got.CoverCropScale == nil || *got.CoverCropScale != 1.5 {
		t.Errorf("got %+v", got)
	}

	d.Title = "B"
	d.Rev = 2
	if err := db.Put(d); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	got, _ = db.Get("acca.md")
	if got.Title != "B" || got.Rev != 2 {
		t.Errorf("update not applied: %+v", got)
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.Get("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestManager_OverSQLite(t *testing.T) {
	m := NewManager(testDB(t), nil, nil)
	d := &models.Draft{AccountName: "acc", NotePath: "a.md", Title: "A"}
	if wrote, err := m.Set(d); err != nil || !wrote {
		t.Fatalf("Set: %v %v", wrote, err)
	}
	same := *d
	if wrote, err := m.Set(&same); err != nil || wrote {
		t.Errorf("unchanged Set: wrote=%v err=%v", wrote, err)
	}
}
