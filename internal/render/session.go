package render

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yuin/goldmark/ast"

	"github.com/starford/inkwell/internal/capture"
)

const sessionMetaKey = "inkwell.session"

// Session is the state of one render call. Counters, collected links,
// cached card markup and stashed widget HTML all live here, so renders
// running on the same Pipeline never observe each other.
type Session struct {
	ctx         context.Context
	NotePath    string
	Frontmatter map[string]any
	Preview     bool

	host      capture.Host
	hostOnce  sync.Once
	container *capture.Container

	state map[string]any
	stash map[ast.Node]string
	cards map[string]string
	ids   []string
	log   *slog.Logger
}

func newSession(ctx context.Context, notePath string, fm map[string]any, preview bool, host capture.Host, log *slog.Logger) *Session {
	return &Session{
		ctx:         ctx,
		NotePath:    notePath,
		Frontmatter: fm,
		Preview:     preview,
		host:        host,
		state:       map[string]any{},
		stash:       map[ast.Node]string{},
		cards:       map[string]string{},
		log:         log,
	}
}

// Context returns the context the render was started with.
func (s *Session) Context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	if s.log == nil {
		return slog.Default()
	}
	return s.log
}

// Container renders the note through the host on first use. It returns
// nil when no host is configured or the host failed; callers then fall
// back to placeholders.
func (s *Session) Container() *capture.Container {
	s.hostOnce.Do(func() {
		if s.host == nil || s.NotePath == "" {
			return
		}
		c, err := s.host.Render(s.Context(), s.NotePath)
		if err != nil {
			s.Logger().Warn("side-channel render failed",
				slog.String("note", s.NotePath), slog.String("error", err.Error()))
			return
		}
		s.container = c
	})
	return s.container
}

// Stash records pre-rendered HTML for n; the node's renderer emits it
// instead of its default markup.
func (s *Session) Stash(n ast.Node, html string) {
	s.stash[n] = html
}

// Stashed returns HTML previously stashed for n.
func (s *Session) Stashed(n ast.Node) (string, bool) {
	html, ok := s.stash[n]
	return html, ok
}

// SetCard caches the authoritative markup of the card widget id.
func (s *Session) SetCard(id, html string) {
	if _, ok := s.cards[id]; !ok {
		s.ids = append(s.ids, id)
	}
	s.cards[id] = html
}

// Cards returns the cached card markup in first-seen order.
func (s *Session) Cards() []Card {
	out := make([]Card, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, Card{ID: id, HTML: s.cards[id]})
	}
	return out
}

// Card is raw widget markup restored after sanitising.
type Card struct {
	ID   string
	HTML string
}

// stateOf returns the per-session state of an extension, creating it on
// first access.
func stateOf[T any](s *Session, name string) *T {
	if v, ok := s.state[name].(*T); ok {
		return v
	}
	v := new(T)
	s.state[name] = v
	return v
}

// sessionOf finds the session attached to the document owning n. Nodes
// outside a pipeline render get a throwaway session.
func sessionOf(n ast.Node) *Session {
	var doc *ast.Document
	if d, ok := n.(*ast.Document); ok {
		doc = d
	} else {
		doc = n.OwnerDocument()
	}
	if doc != nil {
		if s, ok := doc.Meta()[sessionMetaKey].(*Session); ok {
			return s
		}
	}
	return newSession(context.Background(), "", nil, false, nil, nil)
}
