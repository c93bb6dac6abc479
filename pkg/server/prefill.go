package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/editor"
	"github.com/raterudder/evconf/pkg/source"
)

// prefillTTL bounds how long a loaded remote configuration is reused for
// rendering pages.
const prefillTTL = 5 * time.Second

type prefillEntry struct {
	values    map[string]string
	fetchedAt time.Time
}

// prefillCache holds recently loaded remote inputs per session so a burst of
// page loads costs one upstream fetch.
type prefillCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]prefillEntry
}

func newPrefillCache(ttl time.Duration) *prefillCache {
	return &prefillCache{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]prefillEntry{},
	}
}

// sessionKey identifies the session behind ctx without keeping its secrets.
func sessionKey(ctx context.Context) string {
	h := sha256.New()
	creds := source.Credentials(ctx)
	for _, k := range []string{"Cookie", "Authorization"} {
		for _, v := range creds.Values(k) {
			h.Write([]byte(k))
			h.Write([]byte{0})
			h.Write([]byte(v))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// load fills a fresh set of inputs from remote, reusing a load younger than
// the ttl. Failed loads are not kept.
func (c *prefillCache) load(ctx context.Context, remote source.Source) *codec.MapFields {
	key := sessionKey(ctx)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		f := codec.NewMapFields()
		for k, v := range e.values {
			f.SetValue(k, v)
		}
		return f
	}
	c.mu.Unlock()

	f := codec.NewMapFields()
	if err := editor.New(remote, f).Load(ctx); err != nil {
		return f
	}

	c.mu.Lock()
	for k, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = prefillEntry{values: f.Snapshot(), fetchedAt: now}
	c.mu.Unlock()
	return f
}

// reset drops every kept load, e.g. after the host's configuration changed.
func (c *prefillCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
