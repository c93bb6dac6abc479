package editor

import (
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/schema"
)

// Validation names accepted by ValidatorByName.
const (
	ValidationNone   = "none"
	ValidationBounds = "bounds"
	ValidationStrict = "strict"
	ValidationSchema = "schema"
)

// ValidatorByName resolves one of the Validation names. ValidationNone
// resolves to a nil Validator.
func ValidatorByName(name string) (codec.Validator, error) {
	switch name {
	case "", ValidationNone:
		return nil, nil
	case ValidationBounds:
		return codec.ValidateBounds, nil
	case ValidationStrict:
		return codec.Chain(codec.ValidateBounds, codec.ValidateLengths, codec.ValidateDomains), nil
	case ValidationSchema:
		s, err := schema.New()
		if err != nil {
			return nil, err
		}
		return s.Validator(), nil
	default:
		return nil, fmt.Errorf("unknown validation: %s", name)
	}
}

// Config holds the flag driven editor settings.
type Config struct {
	Validation string
	Validator  codec.Validator
}

// Configured registers the editor flags.
func Configured() *Config {
	c := &Config{}
	validation := lflag.String("validation", ValidationNone, "Checks run before saving (available: none, bounds, strict, schema)")

	lflag.Do(func() {
		v, err := ValidatorByName(*validation)
		if err != nil {
			panic(fmt.Sprintf("validation config failed: %v", err))
		}
		c.Validation = *validation
		c.Validator = v
	})
	return c
}

// Options returns the engine options c describes.
func (c *Config) Options() []Option {
	return []Option{WithValidator(c.Validator)}
}
