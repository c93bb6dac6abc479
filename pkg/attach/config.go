package attach

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// ConfiguredPolicy registers the retry flags and returns the policy they
// describe.
func ConfiguredPolicy() *RetryPolicy {
	p := &RetryPolicy{}
	delay := lflag.Duration("attach-delay", DefaultDelay, "Delay between attempts to attach the configuration UI")
	maxAttempts := lflag.Int("attach-max-attempts", 0, "Maximum attempts to attach the configuration UI (0 retries forever)")

	lflag.Do(func() {
		p.Delay = *delay
		p.MaxAttempts = *maxAttempts
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("attach config failed: %v", err))
		}
	})
	return p
}

// Validate ensures the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.Delay <= 0 {
		return fmt.Errorf("attach-delay must be positive: %s", p.Delay)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("attach-max-attempts must not be negative: %d", p.MaxAttempts)
	}
	return nil
}
