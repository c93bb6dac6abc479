// Package htmldoc adapts a parsed HTML page to the attach.Document interface.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/raterudder/evconf/pkg/attach"
)

// Document is a parsed HTML page.
type Document struct {
	root *html.Node
}

var _ attach.Document = (*Document)(nil)

// Parse reads a complete HTML page.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Document{root: root}, nil
}

// Find implements attach.Document. Invalid selectors are reported as errors.
func (d *Document) Find(ctx context.Context, selector string) (attach.Container, bool, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, false, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	n := sel.MatchFirst(d.root)
	if n == nil {
		return nil, false, nil
	}
	return &Element{node: n}, true, nil
}

// Count returns how many elements match any of the selectors. Each element is
// counted once.
func (d *Document) Count(selectors ...string) (int, error) {
	sel, err := cascadia.Compile(strings.Join(selectors, ", "))
	if err != nil {
		return 0, fmt.Errorf("invalid selectors %q: %w", selectors, err)
	}
	return len(sel.MatchAll(d.root)), nil
}

// Render writes the page back out.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// Bytes renders the page into memory.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Element is a node of a Document.
type Element struct {
	node *html.Node
}

// Append implements attach.Container. The markup is parsed in the context of
// the element, so table or list content is handled the way a browser would.
func (e *Element) Append(ctx context.Context, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.node)
	if err != nil {
		return fmt.Errorf("failed to parse markup: %w", err)
	}
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	return nil
}
