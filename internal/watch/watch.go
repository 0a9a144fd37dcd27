// Package watch follows the vault on disk and turns file changes into bus
// events so previews and SSE clients refresh.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/inkwell/internal/bus"
	"github.com/starford/inkwell/internal/checksum"
	"github.com/starford/inkwell/internal/vault"
)

// Kinds passed to Publisher.PublishNoteEvent.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// DefaultDebounce delays the reconcile pass that follows a rename.
const DefaultDebounce = 200 * time.Millisecond

// Publisher receives the watcher's events. *bus.Bus implements it.
type Publisher interface {
	Publish(bus.Event)
	PublishNoteEvent(kind, path string)
}

// ThemeOwner reports whether a note belongs to the custom theme folder.
type ThemeOwner interface {
	Owns(path string) bool
}

// Watcher tracks note checksums so that writes which leave a note
// unchanged are not re-announced.
type Watcher struct {
	vault    *vault.Vault
	themes   ThemeOwner
	pub      Publisher
	log      *slog.Logger
	Debounce time.Duration

	mu    sync.Mutex
	known map[string]string
}

// New creates a Watcher. themes may be nil.
func New(v *vault.Vault, themes ThemeOwner, pub Publisher, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{vault: v, themes: themes, pub: pub, log: log, Debounce: DefaultDebounce, known: map[string]string{}}
}

// Run watches the vault until ctx is cancelled. Directories created while
// running are added to the watch list. A rename schedules a reconcile pass
// which picks up the new path.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.vault.Root()
	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}
	w.snapshot()
	w.log.Info("watch: started", slog.String("root", root))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.Debounce)
			timerCh = timer.C
			return
		}
		timer.Reset(w.Debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.log.Info("watch: stopped")
			return nil

		case <-timerCh:
			w.reconcile()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil || hidden(rel) {
				continue
			}
			rel = filepath.ToSlash(rel)

			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addDirsRecursive(fw, ev.Name); err != nil {
						w.log.Warn("watch: add dir", slog.String("path", rel), slog.String("error", err.Error()))
					}
					w.vault.Invalidate()
					schedule()
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.vault.Invalidate()
			}
			if !strings.HasSuffix(rel, ".md") {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.changed(rel)
			case ev.Op&fsnotify.Remove != 0:
				w.deleted(rel)
			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports the old path only; the new one shows up
				// as a Create if it stays inside a watched directory.
				w.deleted(rel)
				schedule()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch: error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) changed(rel string) {
	data, err := w.vault.ReadFile(rel)
	if err != nil {
		w.log.Debug("watch: read", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	sum := checksum.Sum(data)

	w.mu.Lock()
	prev, seen := w.known[rel]
	w.known[rel] = sum
	w.mu.Unlock()

	if seen && prev == sum {
		return
	}
	kind := Updated
	if !seen {
		kind = Created
	}
	w.announce(kind, rel)
}

func (w *Watcher) deleted(rel string) {
	w.mu.Lock()
	_, seen := w.known[rel]
	delete(w.known, rel)
	w.mu.Unlock()
	if seen {
		w.announce(Deleted, rel)
	}
}

func (w *Watcher) announce(kind, rel string) {
	w.log.Debug("watch: note", slog.String("path", rel), slog.String("kind", kind))
	w.pub.PublishNoteEvent(kind, rel)
	if w.themes != nil && w.themes.Owns(rel) {
		w.pub.Publish(bus.Event{Topic: bus.CustomThemeChanged, Data: map[string]string{"path": rel, "kind": kind}})
	}
}

// snapshot records the checksum of every note without announcing.
func (w *Watcher) snapshot() {
	sums := w.diskSums()
	w.mu.Lock()
	w.known = sums
	w.mu.Unlock()
}

// reconcile announces every difference between the tracked checksums and
// the notes on disk.
func (w *Watcher) reconcile() {
	w.vault.Invalidate()
	disk := w.diskSums()

	w.mu.Lock()
	var gone, fresh, touched []string
	for p := range w.known {
		if _, ok := disk[p]; !ok {
			gone = append(gone, p)
		}
	}
	for p, sum := range disk {
		prev, ok := w.known[p]
		switch {
		case !ok:
			fresh = append(fresh, p)
		case prev != sum:
			touched = append(touched, p)
		}
	}
	w.known = disk
	w.mu.Unlock()

	for _, p := range gone {
		w.announce(Deleted, p)
	}
	for _, p := range fresh {
		w.announce(Created, p)
	}
	for _, p := range touched {
		w.announce(Updated, p)
	}
}

func (w *Watcher) diskSums() map[string]string {
	out := map[string]string{}
	files, err := w.vault.Files()
	if err != nil {
		w.log.Warn("watch: list", slog.String("error", err.Error()))
		return out
	}
	for _, f := range files {
		if !f.IsNote() {
			continue
		}
		data, err := w.vault.ReadFile(f.Path)
		if err != nil {
			continue
		}
		out[f.Path] = checksum.Sum(data)
	}
	return out
}

func hidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}
