package render

import (
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
)

// Extension is one link of the renderer chain. Extend registers parsers
// and node renderers once, when the pipeline is built. Prepare runs before
// every parse and Postprocess threads the assembled HTML through the chain
// in registration order.
type Extension interface {
	Name() string
	Extend(m goldmark.Markdown)
	Prepare(ctx context.Context, s *Session) error
	Postprocess(ctx context.Context, s *Session, html string) (string, error)
}

// Walker is implemented by extensions that inspect the parsed tree before
// it is rendered, typically to pair nodes with side-channel DOM nodes.
type Walker interface {
	Walk(ctx context.Context, s *Session, doc ast.Node, source []byte) error
}

// Base gives an extension no-op Prepare and Postprocess.
type Base struct{}

func (Base) Prepare(context.Context, *Session) error { return nil }

func (Base) Postprocess(_ context.Context, _ *Session, html string) (string, error) {
	return html, nil
}
