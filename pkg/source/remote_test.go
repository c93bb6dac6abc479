package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/raterudder/evconf/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mu        sync.Mutex
	doc       string
	getStatus int
	posts     []string
	postTypes []string
	postAgent string
	// session, when set, is the cookie value both endpoints require.
	session string
}

func (h *fakeHost) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.session == "" {
		return true
	}
	if c, err := r.Cookie("session"); err == nil && c.Value == h.session {
		return true
	}
	w.WriteHeader(http.StatusUnauthorized)
	return false
}

func (h *fakeHost) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.authorized(w, r) {
			return
		}
		if h.getStatus != 0 {
			w.WriteHeader(h.getStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, h.doc)
	})
	mux.HandleFunc("POST /save-config", func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if !h.authorized(w, r) {
			return
		}
		h.posts = append(h.posts, string(b))
		h.postTypes = append(h.postTypes, r.Header.Get("Content-Type"))
		h.postAgent = r.Header.Get("User-Agent")
		h.doc = string(b)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (h *fakeHost) saved() ([]string, []string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.posts...), append([]string(nil), h.postTypes...), h.postAgent
}

func newRemote(t *testing.T, h *fakeHost) *Remote {
	ts := httptest.NewServer(h.handler(t))
	t.Cleanup(ts.Close)
	return NewRemote(ts.URL, DefaultConfigPath, DefaultSavePath, nil)
}

func TestRemoteLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("present", func(t *testing.T) {
		r := newRemote(t, &fakeHost{doc: `{"params":{"ev_conf":{"number_of_ev_loads":0,"ev_battery_capacity":[]}}}`})
		c, err := r.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, c)
		require.NotNil(t, c.NumberOfEVLoads)
		assert.Equal(t, 0, *c.NumberOfEVLoads)
		assert.Equal(t, []float64{}, c.BatteryCapacity)
		assert.Nil(t, c.ChargingEfficiency)
	})

	t.Run("no params", func(t *testing.T) {
		r := newRemote(t, &fakeHost{doc: `{"unrelated_key":1}`})
		c, err := r.Load(ctx)
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("upstream error", func(t *testing.T) {
		r := newRemote(t, &fakeHost{getStatus: http.StatusBadGateway})
		_, err := r.Load(ctx)
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, http.StatusBadGateway, te.StatusCode)
		assert.Equal(t, http.MethodGet, te.Op)
	})

	t.Run("unreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()
		_, err := NewRemote(ts.URL, DefaultConfigPath, DefaultSavePath, nil).Load(ctx)
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Zero(t, te.StatusCode)
		assert.Error(t, te.Unwrap())
	})
}

func TestRemoteCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("merges into latest document", func(t *testing.T) {
		h := &fakeHost{doc: `{"unrelated_key":"<keep & me>","params":{"plant_conf":{"x":[1,2]},"ev_conf":{"number_of_ev_loads":3}}}`}
		r := newRemote(t, h)

		cfg := types.DefaultEVConfig()
		cfg.BatteryCapacity = []float64{75000, 60000}
		require.NoError(t, r.Commit(ctx, cfg))

		posts, contentTypes, agent := h.saved()
		require.Len(t, posts, 1)
		assert.Equal(t, "application/json", contentTypes[0])
		assert.Contains(t, agent, "EVConf/")
		assert.Contains(t, posts[0], `"unrelated_key":"<keep & me>"`)
		assert.JSONEq(t, `{
			"unrelated_key":"<keep & me>",
			"params":{
				"plant_conf":{"x":[1,2]},
				"ev_conf":{
					"number_of_ev_loads":1,
					"ev_battery_capacity":[75000,60000],
					"ev_charging_efficiency":[0.9],
					"ev_nominal_charging_power":[11000],
					"ev_minimum_charging_power":[1380],
					"ev_consumption_efficiency":[0.2]
				}
			}
		}`, posts[0])
	})

	t.Run("unrelated params survive", func(t *testing.T) {
		h := &fakeHost{doc: `{"params":{"unrelated_key":42}}`}
		r := newRemote(t, h)
		require.NoError(t, r.Commit(ctx, types.DefaultEVConfig()))

		posts, _, _ := h.saved()
		require.Len(t, posts, 1)
		doc, err := types.ParseConfigDocument([]byte(posts[0]))
		require.NoError(t, err)
		assert.Equal(t, json.RawMessage(`42`), doc.Params.Other["unrelated_key"])
		assert.Equal(t, types.DefaultEVConfig(), doc.EVConf().Full())
	})

	t.Run("creates params", func(t *testing.T) {
		h := &fakeHost{doc: `{}`}
		r := newRemote(t, h)
		require.NoError(t, r.Commit(ctx, types.DefaultEVConfig()))
		posts, _, _ := h.saved()
		require.Len(t, posts, 1)
		doc, err := types.ParseConfigDocument([]byte(posts[0]))
		require.NoError(t, err)
		assert.Equal(t, types.DefaultEVConfig(), doc.EVConf().Full())
	})

	t.Run("failed fetch posts nothing", func(t *testing.T) {
		h := &fakeHost{getStatus: http.StatusInternalServerError}
		r := newRemote(t, h)
		err := r.Commit(ctx, types.DefaultEVConfig())
		var te *TransportError
		require.True(t, errors.As(err, &te))
		posts, _, _ := h.saved()
		assert.Empty(t, posts)
	})

	t.Run("rejected save", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `{}`)
				return
			}
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer ts.Close()
		err := NewRemote(ts.URL, DefaultConfigPath, DefaultSavePath, nil).Commit(ctx, types.DefaultEVConfig())
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, http.MethodPost, te.Op)
		assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	})
}

func TestRemoteCredentials(t *testing.T) {
	h := &fakeHost{doc: `{"params":{}}`, session: "abc"}
	r := newRemote(t, h)

	t.Run("missing", func(t *testing.T) {
		_, err := r.Load(context.Background())
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	})

	t.Run("forwarded", func(t *testing.T) {
		in := http.Header{}
		in.Set("Cookie", "session=abc")
		in.Set("Accept", "text/html")
		ctx := WithCredentials(context.Background(), in)
		assert.Equal(t, http.Header{"Cookie": {"session=abc"}}, Credentials(ctx))

		require.NoError(t, r.Commit(ctx, types.DefaultEVConfig()))
		posts, _, _ := h.saved()
		require.Len(t, posts, 1)

		c, err := r.Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, c)
		require.NotNil(t, c.NumberOfEVLoads)
		assert.Equal(t, types.DefaultNumberOfEVLoads, *c.NumberOfEVLoads)
	})

	t.Run("authorization", func(t *testing.T) {
		var got string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("Authorization")
			_, _ = io.WriteString(w, `{}`)
		}))
		defer ts.Close()
		in := http.Header{}
		in.Set("Authorization", "Bearer xyz")
		_, err := NewRemote(ts.URL, DefaultConfigPath, DefaultSavePath, nil).Fetch(WithCredentials(context.Background(), in))
		require.NoError(t, err)
		assert.Equal(t, "Bearer xyz", got)
	})
}

func TestRemoteValidate(t *testing.T) {
	assert.NoError(t, NewRemote("http://localhost:5000", "/config", "/save-config", nil).Validate())
	assert.Error(t, NewRemote("", "/config", "/save-config", nil).Validate())
	assert.Error(t, NewRemote("localhost", "/config", "/save-config", nil).Validate())
}
