package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/editor"
	"github.com/raterudder/evconf/pkg/form"
	"github.com/raterudder/evconf/pkg/log"
	"github.com/raterudder/evconf/pkg/source"
)

// Modes the server can run in.
const (
	// ModeRemote saves the EV configuration through its own endpoint using a
	// read-merge-write against the host.
	ModeRemote = "remote"
	// ModePush stages the EV configuration and merges it into the host's own
	// save request.
	ModePush = "push"
)

// Server fronts the host application, attaching the EV configuration UI to
// its pages and saving what is submitted.
type Server struct {
	remote     *source.Remote
	page       *source.InPage
	staged     *codec.MapFields
	prefill    *prefillCache
	editorOpts func() []editor.Option
	upstream   *url.URL

	mode       string
	listenAddr string
	serverName string
	httpServer *http.Server
}

func newServer(remote *source.Remote) *Server {
	return &Server{
		remote:     remote,
		page:       source.NewInPage(nil),
		staged:     codec.NewMapFields(),
		prefill:    newPrefillCache(prefillTTL),
		editorOpts: func() []editor.Option { return nil },
		serverName: "evconf",
	}
}

// New returns a Server in mode proxying to remote's host.
func New(remote *source.Remote, mode string, opts ...editor.Option) (*Server, error) {
	srv := newServer(remote)
	srv.editorOpts = func() []editor.Option { return opts }
	if err := srv.init(mode); err != nil {
		return nil, err
	}
	return srv, nil
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(remote *source.Remote, ed *editor.Config) *Server {
	srv := newServer(remote)
	srv.editorOpts = ed.Options
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in a container
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	mode := lflag.String("mode", ModeRemote, "How the EV configuration is saved (available: remote, push)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if err := srv.init(*mode); err != nil {
			log.Ctx(context.Background()).Error("invalid server config", slog.Any("error", err))
			os.Exit(1)
		}
	})

	return srv
}

func (s *Server) init(mode string) error {
	switch mode {
	case ModeRemote, ModePush:
		s.mode = mode
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
	u, err := url.Parse(s.remote.BaseURL())
	if err != nil {
		return fmt.Errorf("invalid upstream url (%s): %w", s.remote.BaseURL(), err)
	}
	s.upstream = u
	return nil
}

func (s *Server) layout() form.Layout {
	if s.mode == ModePush {
		return form.Section
	}
	return form.Panel
}

func (s *Server) setupHandler() http.Handler {
	evMux := http.NewServeMux()
	evMux.HandleFunc("GET /ev/panel", s.handlePanel)
	evMux.HandleFunc("GET /ev/config", s.handleGetConfig)
	evMux.HandleFunc("POST /ev/save", s.handleSave)

	mux := http.NewServeMux()
	mux.Handle("/ev/", s.securityHeadersMiddleware(evMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/", s.proxyHandler())
	return s.revisionMiddleware(gziphandler.GzipHandler(mux))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(
			ctx,
			"starting server",
			slog.String("addr", s.listenAddr),
			slog.String("mode", s.mode),
			slog.String("upstream", s.upstream.String()),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, struct {
		Error string `json:"error"`
	}{Error: msg}, code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
