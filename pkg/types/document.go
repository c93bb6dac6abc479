package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

const paramsKey = "params"

// ConfigDocument is the full configuration document owned by the host
// application. Only params.ev_conf is interpreted; every other key, at the top
// level and inside params, is carried as raw JSON and written back untouched.
type ConfigDocument struct {
	// Params is nil when the document has no params object.
	Params *Params
	// Extra holds every top-level key other than params.
	Extra map[string]json.RawMessage
}

// Params is the params object of a ConfigDocument.
type Params struct {
	// EVConf is nil when ev_conf is absent or could not be decoded.
	EVConf *PartialEVConfig
	// Other holds every params key other than ev_conf.
	Other map[string]json.RawMessage

	// invalidEVConf keeps an undecodable ev_conf so it is written back as-is
	// until it is replaced.
	invalidEVConf json.RawMessage
	evConfErr     error
}

// ParseConfigDocument decodes a document.
func ParseConfigDocument(data []byte) (*ConfigDocument, error) {
	var doc ConfigDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *ConfigDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config document: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("config document: expected an object")
	}
	d.Params = nil
	if p, ok := raw[paramsKey]; ok {
		delete(raw, paramsKey)
		if !isNull(p) {
			var params Params
			if err := json.Unmarshal(p, &params); err != nil {
				return fmt.Errorf("config document params: %w", err)
			}
			d.Params = &params
		}
	}
	d.Extra = raw
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d ConfigDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Extra)+1)
	maps.Copy(out, d.Extra)
	if d.Params != nil {
		b, err := marshalRaw(d.Params)
		if err != nil {
			return nil, err
		}
		out[paramsKey] = b
	}
	return marshalRaw(out)
}

// Encode writes d without HTML escaping so opaque string values keep their
// exact bytes.
func (d *ConfigDocument) Encode() ([]byte, error) {
	return marshalRaw(d)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Params) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]json.RawMessage{}
	}
	*p = Params{}
	if ev, ok := raw[EVConfKey]; ok {
		delete(raw, EVConfKey)
		if !isNull(ev) {
			var conf PartialEVConfig
			if err := json.Unmarshal(ev, &conf); err != nil {
				p.invalidEVConf = ev
				p.evConfErr = fmt.Errorf("%s: %w", EVConfKey, err)
			} else {
				p.EVConf = &conf
			}
		}
	}
	p.Other = raw
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Params) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Other)+1)
	maps.Copy(out, p.Other)
	switch {
	case p.EVConf != nil:
		b, err := marshalRaw(p.EVConf)
		if err != nil {
			return nil, err
		}
		out[EVConfKey] = b
	case p.invalidEVConf != nil:
		out[EVConfKey] = p.invalidEVConf
	}
	return marshalRaw(out)
}

// EVConfErr reports why a stored ev_conf could not be decoded, if it could not.
func (p *Params) EVConfErr() error {
	return p.evConfErr
}

// EVConf returns the stored ev_conf, or nil when the document has none.
func (d *ConfigDocument) EVConf() *PartialEVConfig {
	if d == nil || d.Params == nil {
		return nil
	}
	return d.Params.EVConf
}

// SetEVConf replaces params.ev_conf with c, creating params when it is absent.
// No other key is touched.
func (d *ConfigDocument) SetEVConf(c EVConfig) {
	if d.Params == nil {
		d.Params = &Params{}
	}
	d.Params.EVConf = c.Partial()
	d.Params.invalidEVConf = nil
	d.Params.evConfErr = nil
}

// Clone returns a deep copy of d.
func (d *ConfigDocument) Clone() *ConfigDocument {
	if d == nil {
		return nil
	}
	c := &ConfigDocument{Extra: cloneRaw(d.Extra)}
	if d.Params != nil {
		p := *d.Params
		p.Other = cloneRaw(d.Params.Other)
		p.EVConf = d.Params.EVConf.Clone()
		c.Params = &p
	}
	return c
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return nil
	}
	c := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		c[k] = bytes.Clone(v)
	}
	return c
}

func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isNull(b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
