// Package rodpage adapts a page open in a running browser to the
// attach.Document interface.
package rodpage

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/raterudder/evconf/pkg/attach"
)

const appendJS = `(markup) => this.insertAdjacentHTML('beforeend', markup)`

// Page wraps a browser tab.
type Page struct {
	page *rod.Page
}

var _ attach.Document = (*Page)(nil)

// New wraps an existing rod page.
func New(page *rod.Page) *Page {
	return &Page{page: page}
}

// Connect attaches to the browser listening at browserURL (either a
// DevTools websocket URL or host:port) and returns the first tab whose URL
// matches the urlPattern regular expression. The browser is never closed; the
// connection lives as long as ctx.
func Connect(ctx context.Context, browserURL, urlPattern string) (*Page, error) {
	controlURL, err := launcher.ResolveURL(browserURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve browser url %q: %w", browserURL, err)
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	page, err := pages.FindByURL(urlPattern)
	if err != nil {
		return nil, fmt.Errorf("no page matching %q: %w", urlPattern, err)
	}
	return New(page), nil
}

// Find implements attach.Document.
func (p *Page) Find(ctx context.Context, selector string) (attach.Container, bool, error) {
	found, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	if !found {
		return nil, false, nil
	}
	return &element{el: el}, true, nil
}

type element struct {
	el *rod.Element
}

// Append implements attach.Container.
func (e *element) Append(ctx context.Context, markup string) error {
	if _, err := e.el.Context(ctx).Eval(appendJS, markup); err != nil {
		return fmt.Errorf("failed to insert markup: %w", err)
	}
	return nil
}
