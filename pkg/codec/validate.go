package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raterudder/evconf/pkg/types"
)

// Validator checks cross-field consistency of a decoded EVConfig before it
// is committed. Extraction itself never range-checks; callers opt in to the
// checks they want.
type Validator func(types.EVConfig) error

// ValidationError lists every violated constraint.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid ev configuration: " + strings.Join(e.Problems, "; ")
}

// UserMessage is the text to alert the user with.
func (e *ValidationError) UserMessage() string {
	return "Please check your configuration values: " + strings.Join(e.Problems, "; ") + "."
}

// ValidateBounds requires number_of_ev_loads to be between 0 and 5.
func ValidateBounds(c types.EVConfig) error {
	if c.NumberOfEVLoads < 0 || c.NumberOfEVLoads > types.MaxEVLoads {
		return &ValidationError{Problems: []string{
			fmt.Sprintf("%s must be between 0 and %d, got %d", types.KeyNumberOfEVLoads, types.MaxEVLoads, c.NumberOfEVLoads),
		}}
	}
	return nil
}

// ValidateLengths requires every sequence to have one entry per EV load when
// EV optimization is enabled.
func ValidateLengths(c types.EVConfig) error {
	if c.NumberOfEVLoads <= 0 {
		return nil
	}
	var problems []string
	for _, key := range types.SequenceKeys {
		if l := len(c.Sequence(key)); l != c.NumberOfEVLoads {
			problems = append(problems, fmt.Sprintf("%s has %d values, expected %d", key, l, c.NumberOfEVLoads))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateDomains checks every sequence entry against its physical domain:
// capacities, powers and consumption positive, efficiencies in (0,1], minimum
// power non-negative.
func ValidateDomains(c types.EVConfig) error {
	var problems []string
	check := func(key string, ok func(float64) bool, want string) {
		for i, v := range c.Sequence(key) {
			if !ok(v) {
				problems = append(problems, fmt.Sprintf("%s[%d] must be %s, got %v", key, i, want, v))
			}
		}
	}
	positive := func(v float64) bool { return v > 0 }
	check(types.KeyBatteryCapacity, positive, "positive")
	check(types.KeyChargingEfficiency, func(v float64) bool { return v > 0 && v <= 1 }, "in (0,1]")
	check(types.KeyNominalChargingPower, positive, "positive")
	check(types.KeyMinimumChargingPower, func(v float64) bool { return v >= 0 }, "non-negative")
	check(types.KeyConsumptionEfficiency, positive, "positive")
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Chain runs every validator and merges their problems. Nil validators are
// skipped. Errors that are not a *ValidationError are returned immediately.
func Chain(validators ...Validator) Validator {
	return func(c types.EVConfig) error {
		var problems []string
		for _, v := range validators {
			if v == nil {
				continue
			}
			err := v(c)
			if err == nil {
				continue
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return err
			}
			problems = append(problems, verr.Problems...)
		}
		if len(problems) > 0 {
			return &ValidationError{Problems: problems}
		}
		return nil
	}
}
