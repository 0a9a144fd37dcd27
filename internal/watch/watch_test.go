package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/starford/inkwell/internal/bus"
	"github.com/starford/inkwell/internal/testutil"
	"github.com/starford/inkwell/internal/vault"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, _ := e.Data.(map[string]string)
	r.events = append(r.events, e.Topic+":"+data["path"])
}

func (r *recorder) PublishNoteEvent(kind, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+path)
}

func (r *recorder) has(e string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.events, e)
}

func (r *recorder) count(e string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if got == e {
			n++
		}
	}
	return n
}

type themeFolder string

func (f themeFolder) Owns(p string) bool { return filepath.Dir(p) == string(f) }

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatcher(t *testing.T, files map[string]string) (string, *recorder) {
	t.Helper()
	dir, store := testutil.TestVault(t, files)
	rec := &recorder{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := New(vault.New(store, "attachments", logger), themeFolder("themes"), rec, logger)
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	time.Sleep(100 * time.Millisecond)
	return dir, rec
}

func TestWatcher_CreateAndUpdate(t *testing.T) {
	dir, rec := startWatcher(t, map[string]string{"old.md": "# Old"})

	_ = os.WriteFile(filepath.Join(dir, "new.md"), []byte("# New"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("created:new.md") },
		"new note not announced")

	_ = os.WriteFile(filepath.Join(dir, "old.md"), []byte("# Old, edited"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("updated:old.md") },
		"edited note not announced")
}

func TestChangedSkipsIdenticalContent(t *testing.T) {
	_, store := testutil.TestVault(t, map[string]string{"same.md": "body"})
	rec := &recorder{}
	w := New(vault.New(store, "attachments", nil), nil, rec, nil)
	w.snapshot()

	w.changed("same.md")
	if len(rec.events) != 0 {
		t.Errorf("events = %q", rec.events)
	}
	if err := store.Write("same.md", []byte("body 2")); err != nil {
		t.Fatal(err)
	}
	w.changed("same.md")
	w.changed("same.md")
	if rec.count("updated:same.md") != 1 {
		t.Errorf("events = %q", rec.events)
	}
	w.deleted("same.md")
	w.deleted("same.md")
	if rec.count("deleted:same.md") != 1 {
		t.Errorf("events = %q", rec.events)
	}
}

func TestReconcile(t *testing.T) {
	_, store := testutil.TestVault(t, map[string]string{"keep.md": "k", "edit.md": "1", "drop.md": "d"})
	rec := &recorder{}
	v := vault.New(store, "attachments", nil)
	w := New(v, themeFolder("themes"), rec, nil)
	w.snapshot()

	_ = store.Write("edit.md", []byte("2"))
	_ = store.Write("themes/new.md", []byte("css"))
	_ = os.Remove(filepath.Join(v.Root(), "drop.md"))
	w.reconcile()

	for _, want := range []string{"updated:edit.md", "created:themes/new.md", "deleted:drop.md", bus.CustomThemeChanged + ":themes/new.md"} {
		if !rec.has(want) {
			t.Errorf("missing %s in %q", want, rec.events)
		}
	}
	if rec.has("updated:keep.md") || rec.has("created:keep.md") {
		t.Errorf("unchanged note announced: %q", rec.events)
	}
}

func TestWatcher_Delete(t *testing.T) {
	dir, rec := startWatcher(t, map[string]string{"gone.md": "bye"})

	_ = os.Remove(filepath.Join(dir, "gone.md"))
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("deleted:gone.md") },
		"removed note not announced")
}

func TestWatcher_Rename(t *testing.T) {
	dir, rec := startWatcher(t, map[string]string{"a.md": "content"})

	_ = os.Rename(filepath.Join(dir, "a.md"), filepath.Join(dir, "b.md"))
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has("deleted:a.md") && rec.has("created:b.md")
	}, "rename not reconciled")
}

func TestWatcher_NewDirectory(t *testing.T) {
	dir, rec := startWatcher(t, nil)

	sub := filepath.Join(dir, "posts", "2026")
	_ = os.MkdirAll(sub, 0o755)
	_ = os.WriteFile(filepath.Join(sub, "first.md"), []byte("# First"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("created:posts/2026/first.md") },
		"note in new directory not announced")
}

func TestWatcher_ThemeNote(t *testing.T) {
	dir, rec := startWatcher(t, map[string]string{"themes/dark.md": "```css\np{}\n```"})

	_ = os.WriteFile(filepath.Join(dir, "themes", "dark.md"), []byte("```css\np{color:red}\n```"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(bus.CustomThemeChanged + ":themes/dark.md")
	}, "theme change not announced")
}

func TestWatcher_HiddenIgnored(t *testing.T) {
	dir, rec := startWatcher(t, map[string]string{".obsidian/app.json": "{}"})

	_ = os.WriteFile(filepath.Join(dir, ".obsidian", "x.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "visible.md"), []byte("x"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool { return rec.has("created:visible.md") },
		"visible note not announced")
	if rec.has("created:.obsidian/x.md") {
		t.Error("hidden note announced")
	}
}
