package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/raterudder/evconf/pkg/log"
	"github.com/raterudder/evconf/pkg/source"
	"github.com/raterudder/evconf/pkg/source/sourcemock"
	"github.com/raterudder/evconf/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func session(ctx context.Context, cookie string) context.Context {
	h := http.Header{}
	h.Set("Cookie", cookie)
	return source.WithCredentials(ctx, h)
}

func TestPrefillCache(t *testing.T) {
	ctx := log.Discard(context.Background())
	n := 3
	stored := &types.PartialEVConfig{NumberOfEVLoads: &n}

	t.Run("reused within ttl", func(t *testing.T) {
		now := time.Unix(1700000000, 0)
		c := newPrefillCache(time.Second)
		c.now = func() time.Time { return now }

		src := &sourcemock.MockSource{}
		src.On("Load", mock.Anything).Return(stored, nil).Twice()

		f := c.load(ctx, src)
		got, _ := f.Value(types.KeyNumberOfEVLoads)
		assert.Equal(t, "3", got)

		// changes to a returned copy stay local
		f.SetValue(types.KeyNumberOfEVLoads, "4")
		got, _ = c.load(ctx, src).Value(types.KeyNumberOfEVLoads)
		assert.Equal(t, "3", got)

		now = now.Add(time.Second)
		c.load(ctx, src)
		src.AssertExpectations(t)
	})

	t.Run("per session", func(t *testing.T) {
		c := newPrefillCache(time.Minute)
		src := &sourcemock.MockSource{}
		src.On("Load", mock.Anything).Return(stored, nil).Twice()

		c.load(session(ctx, "session=a"), src)
		c.load(session(ctx, "session=b"), src)
		c.load(session(ctx, "session=a"), src)
		src.AssertExpectations(t)
	})

	t.Run("failures are not kept", func(t *testing.T) {
		c := newPrefillCache(time.Minute)
		src := &sourcemock.MockSource{}
		src.On("Load", mock.Anything).Return(nil, errors.New("boom")).Once()
		src.On("Load", mock.Anything).Return(stored, nil).Once()

		got, _ := c.load(ctx, src).Value(types.KeyNumberOfEVLoads)
		assert.Equal(t, "1", got)
		got, _ = c.load(ctx, src).Value(types.KeyNumberOfEVLoads)
		assert.Equal(t, "3", got)
		src.AssertExpectations(t)
	})

	t.Run("reset", func(t *testing.T) {
		c := newPrefillCache(time.Minute)
		src := &sourcemock.MockSource{}
		src.On("Load", mock.Anything).Return(stored, nil).Twice()

		c.load(ctx, src)
		c.reset()
		c.load(ctx, src)
		src.AssertExpectations(t)
	})

	t.Run("session key hides credentials", func(t *testing.T) {
		key := sessionKey(session(ctx, "session=secret"))
		assert.NotContains(t, key, "secret")
		assert.NotEqual(t, sessionKey(ctx), key)
	})
}
