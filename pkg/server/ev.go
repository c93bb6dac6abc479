package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/editor"
	"github.com/raterudder/evconf/pkg/form"
	"github.com/raterudder/evconf/pkg/log"
	"github.com/raterudder/evconf/pkg/source"
	"github.com/raterudder/evconf/pkg/types"
)

const (
	savePath = "/ev/save"

	flashCookie = "evconf_flash"
	panelAnchor = "#ev-config-panel"

	// MessageStaged is shown in push mode once the inputs are held for the
	// host's next save.
	MessageStaged = "EV configuration will be applied when the configuration is saved."

	maxSaveBody = 64 << 10
)

// saveResponse is returned to JSON callers of POST /ev/save.
type saveResponse struct {
	Message   string `json:"message"`
	PanelOpen bool   `json:"panelOpen"`
}

// currentFields returns the inputs as they should be shown right now: the
// defaults overlaid with what the host holds and, in push mode, with anything
// staged since. Remote loads are made with the session carried by ctx.
func (s *Server) currentFields(ctx context.Context) *codec.MapFields {
	if s.mode == ModePush {
		f := codec.NewMapFields()
		_ = editor.New(s.page, f).Load(ctx)
		codec.Copy(f, s.staged, types.FieldKeys)
		return f
	}
	return s.prefill.load(ctx, s.remote)
}

// sessionContext carries the browser's credentials to the host.
func sessionContext(r *http.Request) context.Context {
	return source.WithCredentials(r.Context(), r.Header)
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	layout := s.layout()
	if l := r.URL.Query().Get("layout"); l != "" {
		layout = form.Layout(l)
	}
	if layout != form.Section && layout != form.Panel {
		writeJSONError(w, fmt.Sprintf("unknown layout: %s", layout), http.StatusBadRequest)
		return
	}

	fields := s.currentFields(sessionContext(r))
	ui, err := form.Markup(layout, fields, form.Options{Action: savePath, Message: s.takeFlash(w, r)})
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to render panel", slog.Any("error", err))
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	shell, err := form.Shell(savePath)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to render form shell", slog.Any("error", err))
		writeJSONError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ui.String()+shell.String()); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.currentFields(sessionContext(r)).Snapshot(), http.StatusOK)
}

// readFields decodes a save request. Form posts come from the attached UI;
// JSON bodies may carry either strings or raw JSON values.
func readFields(w http.ResponseWriter, r *http.Request) (codec.Fields, bool, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(io.LimitReader(r.Body, maxSaveBody)).Decode(&body); err != nil {
			return nil, true, fmt.Errorf("invalid request body: %w", err)
		}
		f := codec.NewMapFields()
		for _, key := range types.FieldKeys {
			raw, ok := body[key]
			if !ok {
				continue
			}
			var text string
			if err := json.Unmarshal(raw, &text); err != nil {
				text = string(raw)
			}
			f.SetValue(key, text)
		}
		return f, true, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSaveBody)
	if err := r.ParseForm(); err != nil {
		return nil, false, fmt.Errorf("invalid form: %w", err)
	}
	return codec.FormFields(r.PostForm), false, nil
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	ctx := sessionContext(r)
	fields, isJSON, err := readFields(w, r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ui := &editor.Recorder{}
	var code int
	if s.mode == ModePush {
		code = s.stage(ctx, fields, ui)
	} else {
		code = http.StatusOK
		opts := append(slices.Clone(s.editorOpts()), editor.WithUI(ui))
		if err := editor.New(s.remote, fields, opts...).Save(ctx); err != nil {
			code = saveStatus(err)
		} else {
			s.prefill.reset()
		}
	}

	msg := ui.LastAlert()
	if isJSON {
		writeJSON(w, saveResponse{Message: msg, PanelOpen: !ui.Closed()}, code)
		return
	}

	target := backTo(r)
	if !ui.Closed() && s.mode == ModeRemote {
		target += panelAnchor
	}
	setFlash(w, msg)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// stage holds the submitted inputs until the host's next save. They are only
// held once they extract cleanly.
func (s *Server) stage(ctx context.Context, fields codec.Fields, ui editor.UI) int {
	f := s.currentFields(ctx)
	codec.Copy(f, fields, types.FieldKeys)
	if _, err := codec.Extract(f, codec.ModeFallback); err != nil {
		var perr *codec.ParseError
		if errors.As(err, &perr) {
			ui.Alert(perr.UserMessage())
		} else {
			ui.Alert(codec.FormatHint)
		}
		return http.StatusBadRequest
	}
	codec.Copy(s.staged, fields, types.FieldKeys)
	log.Ctx(ctx).InfoContext(ctx, "staged ev configuration", slog.Any("fields", s.staged.Snapshot()))
	ui.ClosePanel()
	ui.Alert(MessageStaged)
	return http.StatusOK
}

func saveStatus(err error) int {
	var (
		perr *codec.ParseError
		verr *codec.ValidationError
	)
	if errors.As(err, &perr) || errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

// backTo returns the local path the submitting page was on.
func backTo(r *http.Request) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" || !strings.HasPrefix(ref.Path, "/") || strings.HasPrefix(ref.Path, "/ev/") {
		return "/"
	}
	if ref.Host != "" && ref.Host != r.Host {
		return "/"
	}
	ref.Fragment = ""
	return ref.RequestURI()
}

func setFlash(w http.ResponseWriter, msg string) {
	if msg == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		MaxAge:   int((time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlash returns the pending flash message and clears it.
func (s *Server) takeFlash(w http.ResponseWriter, r *http.Request) string {
	msg := readFlash(r)
	if msg != "" {
		http.SetCookie(w, clearFlashCookie())
	}
	return msg
}

func readFlash(r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}

func clearFlashCookie() *http.Cookie {
	return &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
