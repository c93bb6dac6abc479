package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/log"
	"github.com/raterudder/evconf/pkg/source"
	"github.com/raterudder/evconf/pkg/source/sourcemock"
	"github.com/raterudder/evconf/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int {
	return &n
}

func validFields() *codec.MapFields {
	f := codec.NewMapFields()
	codec.Populate(f, nil)
	return f
}

func TestLoad(t *testing.T) {
	ctx := log.Discard(context.Background())

	tests := []struct {
		name   string
		stored *types.PartialEVConfig
		err    error
		want   map[string]string
	}{
		{
			name: "nothing stored",
			want: map[string]string{
				types.KeyNumberOfEVLoads:    "1",
				types.KeyBatteryCapacity:    "[75000]",
				types.KeyChargingEfficiency: "[0.9]",
			},
		},
		{
			name: "partial",
			stored: &types.PartialEVConfig{
				NumberOfEVLoads: intPtr(0),
				BatteryCapacity: []float64{75000, 60000},
			},
			want: map[string]string{
				types.KeyNumberOfEVLoads:       "0",
				types.KeyBatteryCapacity:       "[75000,60000]",
				types.KeyConsumptionEfficiency: "[0.2]",
			},
		},
		{
			name: "source error",
			err:  errors.New("boom"),
			want: map[string]string{
				types.KeyNumberOfEVLoads:      "1",
				types.KeyNominalChargingPower: "[11000]",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &sourcemock.MockSource{}
			src.On("Load", mock.Anything).Return(tt.stored, tt.err)

			f := codec.NewMapFields()
			f.SetValue(types.KeyBatteryCapacity, "stale")
			err := New(src, f).Load(ctx)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}

			for key, want := range tt.want {
				got, ok := f.Value(key)
				assert.True(t, ok, key)
				assert.Equal(t, want, got, key)
			}
			src.AssertExpectations(t)
		})
	}
}

func TestSave(t *testing.T) {
	ctx := log.Discard(context.Background())

	t.Run("success", func(t *testing.T) {
		f := validFields()
		f.SetValue(types.KeyNumberOfEVLoads, "2")
		f.SetValue(types.KeyBatteryCapacity, "[75000, 60000]")

		want := types.DefaultEVConfig()
		want.NumberOfEVLoads = 2
		want.BatteryCapacity = []float64{75000, 60000}

		src := &sourcemock.MockSource{}
		src.On("Commit", mock.Anything, want).Return(nil).Once()

		ui := &Recorder{}
		require.NoError(t, New(src, f, WithUI(ui)).Save(ctx))
		assert.True(t, ui.Closed())
		assert.Equal(t, []string{MessageSaved}, ui.Alerts())
		src.AssertExpectations(t)
	})

	t.Run("bad input never reaches the source", func(t *testing.T) {
		f := validFields()
		f.SetValue(types.KeyBatteryCapacity, "75000")
		f.SetValue(types.KeyChargingEfficiency, "")

		src := &sourcemock.MockSource{}
		ui := &Recorder{}
		err := New(src, f, WithUI(ui)).Save(ctx)

		var perr *codec.ParseError
		require.True(t, errors.As(err, &perr))
		assert.ElementsMatch(t, []string{types.KeyBatteryCapacity, types.KeyChargingEfficiency}, perr.Keys())
		assert.Equal(t, perr.UserMessage(), ui.LastAlert())
		assert.Contains(t, ui.LastAlert(), codec.FormatHint)
		assert.False(t, ui.Closed())
		src.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})

	t.Run("fallback fills empty inputs", func(t *testing.T) {
		f := validFields()
		f.SetValue(types.KeyMinimumChargingPower, "  ")

		src := &sourcemock.MockSource{}
		src.On("Commit", mock.Anything, types.DefaultEVConfig()).Return(nil)
		require.NoError(t, New(src, f, WithMode(codec.ModeFallback)).Save(ctx))
		src.AssertExpectations(t)
	})

	t.Run("validation", func(t *testing.T) {
		f := validFields()
		f.SetValue(types.KeyNumberOfEVLoads, "9")

		src := &sourcemock.MockSource{}
		ui := &Recorder{}
		err := New(src, f, WithUI(ui), WithValidator(codec.ValidateBounds)).Save(ctx)

		var verr *codec.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, verr.UserMessage(), ui.LastAlert())
		src.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
	})

	t.Run("commit failure keeps the panel open", func(t *testing.T) {
		src := &sourcemock.MockSource{}
		src.On("Commit", mock.Anything, mock.Anything).Return(&source.TransportError{Op: "POST", StatusCode: 500})

		ui := &Recorder{}
		err := New(src, validFields(), WithUI(ui)).Save(ctx)
		require.Error(t, err)
		assert.Equal(t, []string{MessageSaveFailed}, ui.Alerts())
		assert.False(t, ui.Closed())
	})

	t.Run("concurrent saves are serialized", func(t *testing.T) {
		var (
			mu     sync.Mutex
			active int
			peak   int
		)
		src := &sourcemock.MockSource{}
		src.On("Commit", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
			mu.Lock()
			active++
			peak = max(peak, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		})

		e := New(src, validFields())
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, e.Save(ctx))
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, peak)
		src.AssertNumberOfCalls(t, "Commit", 8)
	})
}

func TestOnHostSave(t *testing.T) {
	ctx := log.Discard(context.Background())

	t.Run("merges into the page", func(t *testing.T) {
		doc, err := types.ParseConfigDocument([]byte(`{"params":{"plant_conf":{}}}`))
		require.NoError(t, err)
		page := source.NewInPage(doc)

		f := codec.NewMapFields()
		f.SetValue(types.KeyNumberOfEVLoads, "3")
		f.SetValue(types.KeyBatteryCapacity, "[1,2,3]")
		assert.True(t, New(page, f).OnHostSave(ctx))

		got := page.Document().EVConf()
		require.NotNil(t, got)
		require.NotNil(t, got.NumberOfEVLoads)
		assert.Equal(t, 3, *got.NumberOfEVLoads)
		assert.Equal(t, []float64{1, 2, 3}, got.BatteryCapacity)
		assert.Equal(t, []float64{0.9}, got.ChargingEfficiency)
		assert.Contains(t, page.Document().Params.Other, "plant_conf")
	})

	t.Run("bad input leaves the page alone", func(t *testing.T) {
		page := source.NewInPage(nil)
		f := validFields()
		f.SetValue(types.KeyNumberOfEVLoads, "two")
		assert.False(t, New(page, f).OnHostSave(ctx))
		assert.Nil(t, page.Document().EVConf())
	})

	t.Run("commit failure is swallowed", func(t *testing.T) {
		src := &sourcemock.MockSource{}
		src.On("Commit", mock.Anything, mock.Anything).Return(errors.New("boom"))
		assert.False(t, New(src, validFields()).OnHostSave(ctx))
		src.AssertExpectations(t)
	})
}

func TestValidatorByName(t *testing.T) {
	for _, name := range []string{"", ValidationNone} {
		v, err := ValidatorByName(name)
		require.NoError(t, err)
		assert.Nil(t, v)
	}

	bad := types.DefaultEVConfig()
	bad.NumberOfEVLoads = 2
	bad.ChargingEfficiency = []float64{1.5, 0.9}

	for _, name := range []string{ValidationBounds, ValidationStrict, ValidationSchema} {
		v, err := ValidatorByName(name)
		require.NoError(t, err, name)
		require.NotNil(t, v, name)
		assert.NoError(t, v(types.DefaultEVConfig()), name)
	}

	strict, err := ValidatorByName(ValidationStrict)
	require.NoError(t, err)
	assert.Error(t, strict(bad))

	_, err = ValidatorByName("bogus")
	assert.Error(t, err)
}
