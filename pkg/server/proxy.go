package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httputil"
	"strconv"

	"github.com/raterudder/evconf/pkg/attach"
	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/dom/htmldoc"
	"github.com/raterudder/evconf/pkg/editor"
	"github.com/raterudder/evconf/pkg/form"
	"github.com/raterudder/evconf/pkg/log"
	"github.com/raterudder/evconf/pkg/source"
	"github.com/raterudder/evconf/pkg/types"
)

const (
	maxDocumentSize = 4 << 20
	maxPageSize     = 8 << 20
)

// saveTriggers match the host's own save controls.
var saveTriggers = []string{`button[type="submit"]`, ".save-button", ".btn-save"}

type contextKey string

const routeContextKey contextKey = "route"

type route int

const (
	routeOther route = iota
	routeHostConfig
	routeHostSave
)

func routeOf(ctx context.Context) route {
	r, _ := ctx.Value(routeContextKey).(route)
	return r
}

type readCloser struct {
	io.Reader
	io.Closer
}

func (s *Server) proxyHandler() http.Handler {
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(s.upstream)
			pr.SetXForwarded()
			// pages are rewritten so they have to arrive uncompressed
			pr.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: s.modifyResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "upstream request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
			writeJSONError(w, "upstream unavailable", http.StatusBadGateway)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt := routeOther
		switch {
		case r.Method == http.MethodGet && r.URL.Path == s.remote.ConfigPath():
			rt = routeHostConfig
		case r.Method == http.MethodPost && r.URL.Path == s.remote.SavePath():
			rt = routeHostSave
		}
		r = r.WithContext(context.WithValue(r.Context(), routeContextKey, rt))

		if s.mode == ModePush && rt == routeHostSave {
			if err := s.interceptHostSave(r); err != nil {
				log.Ctx(r.Context()).WarnContext(r.Context(), "failed to read host save", slog.Any("error", err))
				writeJSONError(w, "invalid request body", http.StatusBadRequest)
				return
			}
		}
		rp.ServeHTTP(w, r)
	})
}

// interceptHostSave merges the staged EV inputs into the document the host
// is about to save. Whenever that is not possible the original body is sent
// on unchanged. Only a failure to read the body is returned.
func (s *Server) interceptHostSave(r *http.Request) error {
	ctx := r.Context()
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct != "application/json" {
		log.Ctx(ctx).DebugContext(ctx, "host save is not json, forwarding as is", slog.String("contentType", ct))
		return nil
	}

	orig := r.Body
	body, err := io.ReadAll(io.LimitReader(orig, maxDocumentSize+1))
	if err != nil {
		return err
	}
	if len(body) > maxDocumentSize {
		r.Body = readCloser{io.MultiReader(bytes.NewReader(body), orig), orig}
		log.Ctx(ctx).WarnContext(ctx, "host save too large to merge, forwarding as is")
		return nil
	}
	_ = orig.Close()
	setBody(r, body)

	doc, err := types.ParseConfigDocument(body)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "host save is not a configuration document, forwarding as is", slog.Any("error", err))
		return nil
	}
	s.page.Replace(doc)

	f := codec.NewMapFields()
	codec.Populate(f, doc.EVConf())
	codec.Copy(f, s.staged, types.FieldKeys)
	if !editor.New(s.page, f, s.editorOpts()...).OnHostSave(ctx) {
		return nil
	}

	merged, err := s.page.Document().Encode()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encode merged configuration, forwarding as is", slog.Any("error", err))
		return nil
	}
	setBody(r, merged)
	log.Ctx(ctx).InfoContext(ctx, "merged ev configuration into host save", slog.Int("bytes", len(merged)))
	return nil
}

func setBody(r *http.Request, b []byte) {
	r.Body = io.NopCloser(bytes.NewReader(b))
	r.ContentLength = int64(len(b))
	r.Header.Set("Content-Length", strconv.Itoa(len(b)))
}

func (s *Server) modifyResponse(resp *http.Response) error {
	ctx := resp.Request.Context()
	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299

	if s.mode == ModePush && ok {
		switch routeOf(ctx) {
		case routeHostConfig:
			if err := s.mirrorConfig(resp); err != nil {
				return err
			}
		case routeHostSave:
			s.staged.Reset()
		}
	}

	if resp.Request.Method != http.MethodGet || resp.StatusCode != http.StatusOK || !isHTML(resp) {
		return nil
	}
	if resp.Header.Get("Content-Encoding") != "" {
		log.Ctx(ctx).DebugContext(ctx, "skipping encoded page", slog.String("encoding", resp.Header.Get("Content-Encoding")))
		return nil
	}
	return s.inject(resp)
}

func isHTML(resp *http.Response) bool {
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return ct == "text/html"
}

// mirrorConfig keeps a copy of the configuration the host page loaded.
func (s *Server) mirrorConfig(resp *http.Response) error {
	ctx := resp.Request.Context()
	orig := resp.Body
	b, err := io.ReadAll(io.LimitReader(orig, maxDocumentSize+1))
	if err != nil {
		return fmt.Errorf("failed to read host config: %w", err)
	}
	if len(b) > maxDocumentSize {
		resp.Body = readCloser{io.MultiReader(bytes.NewReader(b), orig), orig}
		return nil
	}
	_ = orig.Close()
	resp.Body = io.NopCloser(bytes.NewReader(b))

	doc, err := types.ParseConfigDocument(b)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "host config is not a configuration document", slog.Any("error", err))
		return nil
	}
	s.page.Replace(doc)
	log.Ctx(ctx).DebugContext(ctx, "mirrored host config")
	return nil
}

// isDocument reports whether b is a whole page rather than a fragment a
// script fetched to splice into one.
func isDocument(b []byte) bool {
	lower := bytes.ToLower(b)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<body"))
}

// inject attaches the EV configuration UI to an HTML page. Fragments, pages
// without an insertion point and, in push mode, pages without a save control
// of their own are passed through untouched.
func (s *Server) inject(resp *http.Response) error {
	ctx := resp.Request.Context()
	if dest := resp.Request.Header.Get("Sec-Fetch-Dest"); dest != "" && dest != "document" {
		log.Ctx(ctx).DebugContext(ctx, "skipping subresource", slog.String("dest", dest))
		return nil
	}

	orig := resp.Body
	b, err := io.ReadAll(io.LimitReader(orig, maxPageSize+1))
	if err != nil {
		return fmt.Errorf("failed to read page: %w", err)
	}
	if len(b) > maxPageSize {
		resp.Body = readCloser{io.MultiReader(bytes.NewReader(b), orig), orig}
		return nil
	}
	_ = orig.Close()
	resp.Body = io.NopCloser(bytes.NewReader(b))

	if !isDocument(b) {
		log.Ctx(ctx).DebugContext(ctx, "skipping html fragment")
		return nil
	}

	doc, err := htmldoc.Parse(bytes.NewReader(b))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to parse page", slog.Any("error", err))
		return nil
	}

	if s.mode == ModePush {
		// staged inputs only reach the host through its own save
		n, err := doc.Count(saveTriggers...)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to look for host save controls", slog.Any("error", err))
			return nil
		}
		if n == 0 {
			log.Ctx(ctx).DebugContext(ctx, "skipping page without a save control")
			return nil
		}
	}

	// the outgoing request still carries the browser's credentials
	fields := s.currentFields(source.WithCredentials(ctx, resp.Request.Header))
	msg := readFlash(resp.Request)
	engines, err := form.Engines(
		doc,
		s.layout(),
		fields,
		form.Options{Action: savePath, Message: msg},
		attach.WithRetryPolicy(attach.RetryPolicy{MaxAttempts: 1}),
	)
	if err != nil {
		return fmt.Errorf("failed to render ev configuration ui: %w", err)
	}
	for _, e := range engines {
		if res := e.AttemptMount(ctx); res != attach.Mounted {
			return nil
		}
	}

	out, err := doc.Bytes()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to render page", slog.Any("error", err))
		return nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	resp.Header.Del("ETag")
	resp.Header.Del("Last-Modified")
	if msg != "" {
		resp.Header.Add("Set-Cookie", clearFlashCookie().String())
	}
	return nil
}
