// Package editor keeps the EV configuration inputs and a Source in sync.
package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/log"
	"github.com/raterudder/evconf/pkg/source"
)

const (
	MessageSaved      = "EV Configuration saved successfully!"
	MessageSaveFailed = "Failed to save EV configuration. Please try again."
)

// UI is what the engine reports back to the person editing.
type UI interface {
	Alert(msg string)
	ClosePanel()
}

// Recorder is a UI that remembers what it was told.
type Recorder struct {
	mu     sync.Mutex
	alerts []string
	closed bool
}

var _ UI = (*Recorder)(nil)

func (r *Recorder) Alert(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, msg)
}

func (r *Recorder) ClosePanel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Alerts returns every alert in order.
func (r *Recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

// LastAlert returns the most recent alert, or "".
func (r *Recorder) LastAlert() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.alerts) == 0 {
		return ""
	}
	return r.alerts[len(r.alerts)-1]
}

// Closed reports whether the panel was closed.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type discardUI struct{}

func (discardUI) Alert(string) {}
func (discardUI) ClosePanel()  {}

// Engine moves values between a set of inputs and a Source.
type Engine struct {
	fields   codec.Fields
	src      source.Source
	mode     codec.Mode
	validate codec.Validator
	ui       UI

	saveMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithMode sets how empty inputs are treated on save. Defaults to
// codec.ModeStrict.
func WithMode(m codec.Mode) Option {
	return func(e *Engine) {
		e.mode = m
	}
}

// WithValidator runs v on every extracted configuration before it is
// committed. A nil v disables validation.
func WithValidator(v codec.Validator) Option {
	return func(e *Engine) {
		e.validate = v
	}
}

// WithUI sets where alerts go.
func WithUI(ui UI) Option {
	return func(e *Engine) {
		if ui == nil {
			ui = discardUI{}
		}
		e.ui = ui
	}
}

// New returns an Engine over fields backed by src.
func New(src source.Source, fields codec.Fields, opts ...Option) *Engine {
	e := &Engine{
		fields: fields,
		src:    src,
		mode:   codec.ModeStrict,
		ui:     discardUI{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fields returns the inputs the engine edits.
func (e *Engine) Fields() codec.Fields {
	return e.fields
}

// Load fills every input with its default and then with whatever the source
// holds. Failures leave the defaults in place and are logged; the error is
// returned only so callers can avoid reusing the result.
func (e *Engine) Load(ctx context.Context) error {
	codec.Populate(e.fields, nil)

	c, err := e.src.Load(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load ev configuration, using defaults", slog.Any("error", err))
		return err
	}
	if c == nil {
		log.Ctx(ctx).DebugContext(ctx, "no ev configuration stored, using defaults")
		return nil
	}
	codec.Populate(e.fields, c)
	return nil
}

// Save extracts the inputs and commits them to the source. Bad inputs are
// reported without touching the source. The returned error is also what the
// UI was alerted about.
func (e *Engine) Save(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	cfg, err := codec.Extract(e.fields, e.mode)
	if err != nil {
		var perr *codec.ParseError
		if errors.As(err, &perr) {
			log.Ctx(ctx).InfoContext(ctx, "rejected ev configuration", slog.Any("keys", perr.Keys()))
			e.ui.Alert(perr.UserMessage())
		} else {
			e.ui.Alert(codec.FormatHint)
		}
		return err
	}

	if e.validate != nil {
		if err := e.validate(cfg); err != nil {
			log.Ctx(ctx).InfoContext(ctx, "ev configuration failed validation", slog.Any("error", err))
			var verr *codec.ValidationError
			if errors.As(err, &verr) {
				e.ui.Alert(verr.UserMessage())
			} else {
				e.ui.Alert(codec.FormatHint)
			}
			return err
		}
	}

	if err := e.src.Commit(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save ev configuration", slog.Any("error", err))
		e.ui.Alert(MessageSaveFailed)
		return err
	}

	e.ui.ClosePanel()
	e.ui.Alert(MessageSaved)
	return nil
}

// OnHostSave is called right before the host saves its own configuration.
// Empty inputs fall back to their defaults and nothing is reported to the
// host; a bad input leaves the source as it was. It reports whether the
// source was updated.
func (e *Engine) OnHostSave(ctx context.Context) bool {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	cfg, err := codec.Extract(e.fields, codec.ModeFallback)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "skipping ev configuration on host save", slog.Any("error", err))
		return false
	}
	if e.validate != nil {
		if err := e.validate(cfg); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping invalid ev configuration on host save", slog.Any("error", err))
			return false
		}
	}
	if err := e.src.Commit(ctx, cfg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to merge ev configuration on host save", slog.Any("error", err))
		return false
	}
	return true
}
