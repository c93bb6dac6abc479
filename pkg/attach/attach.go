// Package attach inserts UI markup into a host document whose structure and
// readiness are not known in advance.
package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/evconf/pkg/log"
)

// DefaultDelay is the wait between two mount attempts.
const DefaultDelay = time.Second

var (
	// ErrUnavailable means no candidate insertion point exists yet.
	ErrUnavailable = errors.New("no insertion point found")
	// ErrRetriesExhausted is returned by Run once the policy gives up.
	ErrRetriesExhausted = errors.New("mount attempts exhausted")
)

// Insertion point candidates for the inline section that lives next to the
// host's own configuration form, most specific first.
var PanelCandidates = []string{
	".configuration-container",
	".config-form",
	"form",
	"main",
}

// Insertion point candidates for the floating toggle button and its panel.
var ButtonCandidates = []string{
	".navbar",
	".header",
	"body > div:first-child",
	"main",
	"body",
}

// Container is an element that accepts appended markup.
type Container interface {
	Append(ctx context.Context, markup string) error
}

// Document is a host page that can be searched for containers.
type Document interface {
	// Find returns the first element matching selector. found is false when
	// nothing matches; err is reserved for failures of the document itself.
	Find(ctx context.Context, selector string) (c Container, found bool, err error)
}

// Markup is what gets injected on mount.
type Markup struct {
	Style string
	Body  string
}

func (m Markup) String() string {
	return m.Style + m.Body
}

// RetryPolicy bounds how Run re-queues failed attempts.
type RetryPolicy struct {
	// Delay between attempts, DefaultDelay when zero.
	Delay time.Duration
	// MaxAttempts is the total number of attempts; 0 retries forever.
	MaxAttempts int
}

// DefaultRetryPolicy retries every second until mounted.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delay: DefaultDelay}
}

func (p RetryPolicy) delay() time.Duration {
	if p.Delay <= 0 {
		return DefaultDelay
	}
	return p.Delay
}

// exhausted reports whether no attempt is left after the given number of
// attempts.
func (p RetryPolicy) exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// MountResult is the outcome of a single mount attempt.
type MountResult int

const (
	// Mounted means the markup was injected by this attempt.
	Mounted MountResult = iota
	// AlreadyMounted means an earlier attempt injected it; nothing was done.
	AlreadyMounted
	// Unavailable means no candidate exists yet.
	Unavailable
	// Failed means the document reported an error.
	Failed
)

func (r MountResult) String() string {
	switch r {
	case Mounted:
		return "mounted"
	case AlreadyMounted:
		return "already_mounted"
	case Unavailable:
		return "unavailable"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Done reports whether the engine needs no further attempts.
func (r MountResult) Done() bool {
	return r == Mounted || r == AlreadyMounted
}

// Engine mounts markup into a Document at most once.
type Engine struct {
	doc        Document
	candidates []string
	markup     Markup
	policy     RetryPolicy
	onMount    func(ctx context.Context, selector string)
	after      func(time.Duration) <-chan time.Time

	// mountMu serializes attempts against the document
	mountMu sync.Mutex

	mu       sync.Mutex
	mounted  bool
	attempts int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithOnMount registers a callback run once, right after a successful mount,
// with the selector that matched.
func WithOnMount(fn func(ctx context.Context, selector string)) Option {
	return func(e *Engine) {
		e.onMount = fn
	}
}

// withAfter replaces time.After in tests.
func withAfter(fn func(time.Duration) <-chan time.Time) Option {
	return func(e *Engine) {
		e.after = fn
	}
}

// NewEngine returns an engine that will inject markup into the first existing
// candidate of doc, in order.
func NewEngine(doc Document, candidates []string, markup Markup, opts ...Option) *Engine {
	e := &Engine{
		doc:        doc,
		candidates: candidates,
		markup:     markup,
		policy:     DefaultRetryPolicy(),
		after:      time.After,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mounted reports whether the markup has been injected.
func (e *Engine) Mounted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mounted
}

// Attempts returns how many mount attempts were made that did not find the
// markup already mounted.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// AttemptMount scans the candidates once. It never panics and only reports
// through its result and logs.
func (e *Engine) AttemptMount(ctx context.Context) MountResult {
	e.mu.Lock()
	if e.mounted {
		e.mu.Unlock()
		return AlreadyMounted
	}
	e.attempts++
	attempt := e.attempts
	e.mu.Unlock()

	res, selector, err := e.mount(ctx)
	switch res {
	case Mounted:
		log.Ctx(ctx).InfoContext(ctx, "ev configuration ui attached", slog.String("target", selector), slog.Int("attempt", attempt))
		if e.onMount != nil {
			e.onMount(ctx, selector)
		}
	case Unavailable:
		log.Ctx(ctx).InfoContext(ctx, "insertion point not found", slog.Int("attempt", attempt), slog.Any("error", ErrUnavailable))
	case Failed:
		log.Ctx(ctx).ErrorContext(ctx, "failed to attach ev configuration ui", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return res
}

func (e *Engine) mount(ctx context.Context) (MountResult, string, error) {
	e.mountMu.Lock()
	defer e.mountMu.Unlock()

	// another caller may have mounted while we waited
	e.mu.Lock()
	mounted := e.mounted
	e.mu.Unlock()
	if mounted {
		return AlreadyMounted, "", nil
	}

	for _, selector := range e.candidates {
		c, found, err := e.doc.Find(ctx, selector)
		if err != nil {
			return Failed, selector, fmt.Errorf("find %q: %w", selector, err)
		}
		if !found {
			continue
		}
		if err := c.Append(ctx, e.markup.String()); err != nil {
			return Failed, selector, fmt.Errorf("append to %q: %w", selector, err)
		}
		e.mu.Lock()
		e.mounted = true
		e.mu.Unlock()
		return Mounted, selector, nil
	}
	return Unavailable, "", nil
}

// Run attempts to mount and re-queues itself after the policy's delay until
// it succeeds, ctx is done, or the policy runs out of attempts.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if e.AttemptMount(ctx).Done() {
			return nil
		}
		if e.policy.exhausted(e.Attempts()) {
			return ErrRetriesExhausted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.after(e.policy.delay()):
		}
	}
}
