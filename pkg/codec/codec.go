package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/raterudder/evconf/pkg/types"
)

// Mode selects how Extract treats empty sequence inputs.
type Mode int

const (
	// ModeFallback substitutes the default array literal for an empty sequence
	// input. Used when merging into the host's own save.
	ModeFallback Mode = iota
	// ModeStrict requires every input to be filled in. Used when this module
	// commits the document itself.
	ModeStrict
)

func (m Mode) String() string {
	switch m {
	case ModeFallback:
		return "fallback"
	case ModeStrict:
		return "strict"
	}
	return "unknown"
}

// FormatHint is shown to the user whenever extraction fails.
const FormatHint = "Please check your configuration values. Arrays should be in JSON format like [75000]."

// FieldError describes one input that could not be decoded.
type FieldError struct {
	Key  string
	Text string
	Err  error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: invalid value %q: %v", e.Key, e.Text, e.Err)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

// ParseError aggregates every input that failed to decode during one Extract.
type ParseError struct {
	Fields []FieldError
}

func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "failed to parse ev configuration: " + strings.Join(msgs, "; ")
}

// UserMessage is the text to alert the user with.
func (e *ParseError) UserMessage() string {
	return FormatHint
}

// Keys returns the offending keys in input order.
func (e *ParseError) Keys() []string {
	keys := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		keys[i] = f.Key
	}
	return keys
}

var (
	errMissing  = errors.New("value is required")
	errNotArray = errors.New("expected a JSON array of numbers")
)

// Populate writes src into fields. Keys absent from src (or a nil src) get
// the default value. Sequences are written as canonical JSON arrays.
func Populate(fields Fields, src *types.PartialEVConfig) {
	def := types.DefaultEVConfig()

	n := def.NumberOfEVLoads
	if src != nil && src.NumberOfEVLoads != nil {
		n = *src.NumberOfEVLoads
	}
	fields.SetValue(types.KeyNumberOfEVLoads, strconv.Itoa(n))

	for _, key := range types.SequenceKeys {
		seq := def.Sequence(key)
		if src != nil {
			if v := src.Sequence(key); v != nil {
				seq = v
			}
		}
		text, err := FormatSequence(seq)
		if err != nil {
			text, _ = FormatSequence(def.Sequence(key))
		}
		fields.SetValue(key, text)
	}
}

// FormatSequence renders seq the way it is shown in an input, e.g. [75000,60000].
// NaN and infinities have no JSON form and are rejected.
func FormatSequence(seq []float64) (string, error) {
	if seq == nil {
		seq = []float64{}
	}
	b, err := json.Marshal(seq)
	if err != nil {
		return "", fmt.Errorf("failed to format sequence: %w", err)
	}
	return string(b), nil
}

// ParseSequence decodes the text of a sequence input. Anything other than a
// JSON array of numbers is rejected, including null entries.
func ParseSequence(text string) ([]float64, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, errNotArray
	}
	var raw []*float64
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, err
	}
	seq := make([]float64, len(raw))
	for i, v := range raw {
		if v == nil {
			return nil, fmt.Errorf("entry %d is null: %w", i, errNotArray)
		}
		seq[i] = *v
	}
	return seq, nil
}

// ParseCount decodes the text of the number_of_ev_loads input. The range is
// deliberately not checked here, see ValidateBounds.
func ParseCount(text string) (int, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, errMissing
	}
	return strconv.Atoi(trimmed)
}

// Extract decodes fields into an EVConfig. It is all-or-nothing: on failure a
// *ParseError naming every bad input is returned along with a zero EVConfig.
func Extract(fields Fields, mode Mode) (types.EVConfig, error) {
	var (
		cfg  types.EVConfig
		perr ParseError
	)

	text, _ := fields.Value(types.KeyNumberOfEVLoads)
	n, err := ParseCount(text)
	if err != nil {
		perr.Fields = append(perr.Fields, FieldError{Key: types.KeyNumberOfEVLoads, Text: text, Err: err})
	}
	cfg.NumberOfEVLoads = n

	for _, key := range types.SequenceKeys {
		text, ok := fields.Value(key)
		if strings.TrimSpace(text) == "" {
			if mode != ModeFallback {
				if !ok {
					err = fmt.Errorf("missing input: %w", errMissing)
				} else {
					err = errMissing
				}
				perr.Fields = append(perr.Fields, FieldError{Key: key, Text: text, Err: err})
				continue
			}
			text, _ = FormatSequence(types.DefaultSequence(key))
		}
		seq, err := ParseSequence(text)
		if err != nil {
			perr.Fields = append(perr.Fields, FieldError{Key: key, Text: text, Err: err})
			continue
		}
		cfg.SetSequence(key, seq)
	}

	if len(perr.Fields) > 0 {
		return types.EVConfig{}, &perr
	}
	return cfg, nil
}
