// Package source holds the places an EV configuration is read from and
// committed to.
package source

import (
	"context"
	"sync"

	"github.com/raterudder/evconf/pkg/types"
)

// Source loads and commits the ev_conf section of a host configuration.
type Source interface {
	// Load returns the current ev_conf, nil when the document has none.
	Load(ctx context.Context) (*types.PartialEVConfig, error)
	// Commit writes c into the document leaving every other key untouched.
	Commit(ctx context.Context, c types.EVConfig) error
}

// InPage is a Source over a document that is already held in memory, such as
// the configuration the host page loaded before a save.
type InPage struct {
	mu  sync.Mutex
	doc *types.ConfigDocument
}

var _ Source = (*InPage)(nil)

// NewInPage returns an InPage over doc. A nil doc is treated as empty.
func NewInPage(doc *types.ConfigDocument) *InPage {
	if doc == nil {
		doc = &types.ConfigDocument{}
	}
	return &InPage{doc: doc}
}

// Load implements Source.
func (s *InPage) Load(ctx context.Context) (*types.PartialEVConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Params != nil {
		if err := s.doc.Params.EVConfErr(); err != nil {
			return nil, err
		}
	}
	return s.doc.EVConf().Clone(), nil
}

// Commit implements Source.
func (s *InPage) Commit(ctx context.Context, c types.EVConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.SetEVConf(c)
	return nil
}

// Replace swaps the held document for doc, for instance after the host
// reloaded its configuration.
func (s *InPage) Replace(doc *types.ConfigDocument) {
	if doc == nil {
		doc = &types.ConfigDocument{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

// Document returns a copy of the held document.
func (s *InPage) Document() *types.ConfigDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}
