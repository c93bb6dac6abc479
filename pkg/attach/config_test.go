package attach

import (
	"testing"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/stretchr/testify/assert"
)

func TestConfiguredPolicy(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		lflag.Reset()
		p := ConfiguredPolicy()
		lflag.Parse(lflag.SourceStub{})
		assert.Equal(t, RetryPolicy{Delay: DefaultDelay}, *p)
	})

	t.Run("flags", func(t *testing.T) {
		lflag.Reset()
		p := ConfiguredPolicy()
		lflag.Parse(lflag.SourceStub{
			"attach-delay":        "250ms",
			"attach-max-attempts": "3",
		})
		assert.Equal(t, RetryPolicy{Delay: 250 * time.Millisecond, MaxAttempts: 3}, *p)
	})
}

func TestRetryPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultRetryPolicy().Validate())
	assert.NoError(t, RetryPolicy{Delay: time.Second, MaxAttempts: 1}.Validate())
	assert.Error(t, RetryPolicy{}.Validate())
	assert.Error(t, RetryPolicy{Delay: time.Second, MaxAttempts: -1}.Validate())
}
