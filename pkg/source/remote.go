package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/evconf/pkg/common"
	"github.com/raterudder/evconf/pkg/log"
	"github.com/raterudder/evconf/pkg/types"
)

const (
	DefaultConfigPath = "/config"
	DefaultSavePath   = "/save-config"
)

// maxDocumentSize caps how much of an upstream response is read.
const maxDocumentSize = 4 << 20

// credentialHeaders carry the browser's session to the host.
var credentialHeaders = []string{"Cookie", "Authorization"}

type credentialsKey struct{}

// WithCredentials returns a context whose Remote requests carry the
// credential headers found in h, so the host sees the same session as the
// browser that triggered them.
func WithCredentials(ctx context.Context, h http.Header) context.Context {
	c := http.Header{}
	for _, k := range credentialHeaders {
		for _, v := range h.Values(k) {
			c.Add(k, v)
		}
	}
	return context.WithValue(ctx, credentialsKey{}, c)
}

// Credentials returns the headers set with WithCredentials.
func Credentials(ctx context.Context) http.Header {
	c, _ := ctx.Value(credentialsKey{}).(http.Header)
	return c
}

func applyCredentials(req *http.Request) {
	for k, vv := range Credentials(req.Context()) {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
}

// TransportError is returned when the host cannot be reached or answers with
// a non-2xx status.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Remote is a Source backed by the host's HTTP configuration endpoints.
type Remote struct {
	baseURL    string
	configPath string
	savePath   string
	client     *http.Client
}

var _ Source = (*Remote)(nil)

// NewRemote returns a Remote for the host at baseURL.
func NewRemote(baseURL, configPath, savePath string, client *http.Client) *Remote {
	if client == nil {
		client = common.HTTPClient(30 * time.Second)
	}
	return &Remote{
		baseURL:    baseURL,
		configPath: configPath,
		savePath:   savePath,
		client:     client,
	}
}

// Configured registers the upstream flags and returns the Remote they describe.
func Configured() *Remote {
	r := &Remote{}
	upstream := lflag.String("upstream-url", "http://localhost:5000", "Base URL of the host application")
	configPath := lflag.String("config-path", DefaultConfigPath, "Path on the host that returns the configuration document")
	savePath := lflag.String("save-path", DefaultSavePath, "Path on the host that accepts the configuration document")
	timeout := lflag.Duration("upstream-timeout", 30*time.Second, "Timeout for requests to the host")

	lflag.Do(func() {
		r.baseURL = *upstream
		r.configPath = *configPath
		r.savePath = *savePath
		r.client = common.HTTPClient(*timeout)
		if err := r.Validate(); err != nil {
			panic(fmt.Sprintf("upstream validation failed: %v", err))
		}
	})
	return r
}

// Validate ensures the configuration is valid.
func (r *Remote) Validate() error {
	if r.baseURL == "" {
		return fmt.Errorf("upstream-url is required")
	}
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse upstream url (%s): %w", r.baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream url must be absolute: %s", r.baseURL)
	}
	return nil
}

// BaseURL returns the host's base URL.
func (r *Remote) BaseURL() string {
	return r.baseURL
}

// ConfigPath returns the path the document is loaded from.
func (r *Remote) ConfigPath() string {
	return r.configPath
}

// SavePath returns the path the document is saved to.
func (r *Remote) SavePath() string {
	return r.savePath
}

func (r *Remote) url(path string) (string, error) {
	return url.JoinPath(r.baseURL, path)
}

// Fetch returns the host's full configuration document.
func (r *Remote) Fetch(ctx context.Context) (*types.ConfigDocument, error) {
	u, err := r.url(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	applyCredentials(req)
	log.Ctx(ctx).DebugContext(ctx, "fetching configuration", slog.String("url", u))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: http.MethodGet, URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: http.MethodGet, URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, &TransportError{Op: http.MethodGet, URL: u, Err: err}
	}
	doc, err := types.ParseConfigDocument(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return doc, nil
}

// Store posts doc to the host's save endpoint.
func (r *Remote) Store(ctx context.Context, doc *types.ConfigDocument) error {
	u, err := r.url(r.savePath)
	if err != nil {
		return fmt.Errorf("failed to build save url: %w", err)
	}
	body, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	applyCredentials(req)
	log.Ctx(ctx).DebugContext(ctx, "saving configuration", slog.String("url", u), slog.Int("bytes", len(body)))

	resp, err := r.client.Do(req)
	if err != nil {
		return &TransportError{Op: http.MethodPost, URL: u, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: http.MethodPost, URL: u, StatusCode: resp.StatusCode}
	}
	return nil
}

// Load implements Source.
func (r *Remote) Load(ctx context.Context) (*types.PartialEVConfig, error) {
	doc, err := r.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if doc.Params != nil {
		if err := doc.Params.EVConfErr(); err != nil {
			return nil, err
		}
	}
	return doc.EVConf(), nil
}

// Commit implements Source. The latest document is fetched first so keys
// written by others since the last Load survive; nothing is posted when
// that fetch fails.
func (r *Remote) Commit(ctx context.Context, c types.EVConfig) error {
	doc, err := r.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch merge base: %w", err)
	}
	doc.SetEVConf(c)
	if err := r.Store(ctx, doc); err != nil {
		return fmt.Errorf("failed to store configuration: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "saved ev configuration", slog.Int("loads", c.NumberOfEVLoads))
	return nil
}
