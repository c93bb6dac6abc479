package types

import (
	"encoding/json"
	"slices"
)

// Keys of the ev_conf sub-tree. They double as the form field IDs.
const (
	KeyNumberOfEVLoads       = "number_of_ev_loads"
	KeyBatteryCapacity       = "ev_battery_capacity"
	KeyChargingEfficiency    = "ev_charging_efficiency"
	KeyNominalChargingPower  = "ev_nominal_charging_power"
	KeyMinimumChargingPower  = "ev_minimum_charging_power"
	KeyConsumptionEfficiency = "ev_consumption_efficiency"

	// EVConfKey is the params entry this module owns.
	EVConfKey = "ev_conf"

	MaxEVLoads             = 5
	DefaultNumberOfEVLoads = 1
)

var defaultSequences = map[string]float64{
	KeyBatteryCapacity:       75000,
	KeyChargingEfficiency:    0.9,
	KeyNominalChargingPower:  11000,
	KeyMinimumChargingPower:  1380,
	KeyConsumptionEfficiency: 0.2,
}

// SequenceKeys lists the array-valued ev_conf keys in display order.
var SequenceKeys = []string{
	KeyBatteryCapacity,
	KeyChargingEfficiency,
	KeyNominalChargingPower,
	KeyMinimumChargingPower,
	KeyConsumptionEfficiency,
}

// FieldKeys lists every ev_conf key in display order.
var FieldKeys = append([]string{KeyNumberOfEVLoads}, SequenceKeys...)

// EVConfig is the fully decoded ev_conf sub-tree.
// Each sequence holds one entry per EV load.
type EVConfig struct {
	// 0 disables EV optimization
	NumberOfEVLoads int `json:"number_of_ev_loads"`
	// Wh
	BatteryCapacity []float64 `json:"ev_battery_capacity"`
	// (0,1]
	ChargingEfficiency []float64 `json:"ev_charging_efficiency"`
	// W
	NominalChargingPower []float64 `json:"ev_nominal_charging_power"`
	// W
	MinimumChargingPower []float64 `json:"ev_minimum_charging_power"`
	// kWh/km
	ConsumptionEfficiency []float64 `json:"ev_consumption_efficiency"`
}

// PartialEVConfig is an ev_conf sub-tree as found in a stored document where
// any key may be missing. A nil pointer or nil slice means the key was absent.
type PartialEVConfig struct {
	NumberOfEVLoads       *int      `json:"number_of_ev_loads"`
	BatteryCapacity       []float64 `json:"ev_battery_capacity"`
	ChargingEfficiency    []float64 `json:"ev_charging_efficiency"`
	NominalChargingPower  []float64 `json:"ev_nominal_charging_power"`
	MinimumChargingPower  []float64 `json:"ev_minimum_charging_power"`
	ConsumptionEfficiency []float64 `json:"ev_consumption_efficiency"`
}

// MarshalJSON writes only the keys that are present, so an empty but present
// sequence survives as [] while an absent one stays absent.
func (p PartialEVConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(FieldKeys))
	if p.NumberOfEVLoads != nil {
		out[KeyNumberOfEVLoads] = *p.NumberOfEVLoads
	}
	for _, key := range SequenceKeys {
		if seq := p.Sequence(key); seq != nil {
			out[key] = seq
		}
	}
	return json.Marshal(out)
}

// DefaultEVConfig returns the configuration shown when nothing is stored yet:
// one EV with a 75 kWh battery charging at up to 11 kW.
func DefaultEVConfig() EVConfig {
	c := EVConfig{NumberOfEVLoads: DefaultNumberOfEVLoads}
	for _, key := range SequenceKeys {
		c.SetSequence(key, DefaultSequence(key))
	}
	return c
}

// DefaultSequence returns the single-element default for a sequence key.
func DefaultSequence(key string) []float64 {
	v, ok := defaultSequences[key]
	if !ok {
		return nil
	}
	return []float64{v}
}

// Sequence returns the sequence stored under key, or nil for an unknown key.
func (c EVConfig) Sequence(key string) []float64 {
	switch key {
	case KeyBatteryCapacity:
		return c.BatteryCapacity
	case KeyChargingEfficiency:
		return c.ChargingEfficiency
	case KeyNominalChargingPower:
		return c.NominalChargingPower
	case KeyMinimumChargingPower:
		return c.MinimumChargingPower
	case KeyConsumptionEfficiency:
		return c.ConsumptionEfficiency
	}
	return nil
}

// SetSequence stores seq under key. Unknown keys are ignored.
func (c *EVConfig) SetSequence(key string, seq []float64) {
	switch key {
	case KeyBatteryCapacity:
		c.BatteryCapacity = seq
	case KeyChargingEfficiency:
		c.ChargingEfficiency = seq
	case KeyNominalChargingPower:
		c.NominalChargingPower = seq
	case KeyMinimumChargingPower:
		c.MinimumChargingPower = seq
	case KeyConsumptionEfficiency:
		c.ConsumptionEfficiency = seq
	}
}

// Sequence returns the sequence stored under key, nil when absent.
func (p PartialEVConfig) Sequence(key string) []float64 {
	return p.Full().Sequence(key)
}

// Full converts p without applying any defaults.
func (p PartialEVConfig) Full() EVConfig {
	c := EVConfig{
		BatteryCapacity:       p.BatteryCapacity,
		ChargingEfficiency:    p.ChargingEfficiency,
		NominalChargingPower:  p.NominalChargingPower,
		MinimumChargingPower:  p.MinimumChargingPower,
		ConsumptionEfficiency: p.ConsumptionEfficiency,
	}
	if p.NumberOfEVLoads != nil {
		c.NumberOfEVLoads = *p.NumberOfEVLoads
	}
	return c
}

// Partial returns c with every key marked present.
func (c EVConfig) Partial() *PartialEVConfig {
	n := c.NumberOfEVLoads
	return &PartialEVConfig{
		NumberOfEVLoads:       &n,
		BatteryCapacity:       slices.Clone(c.BatteryCapacity),
		ChargingEfficiency:    slices.Clone(c.ChargingEfficiency),
		NominalChargingPower:  slices.Clone(c.NominalChargingPower),
		MinimumChargingPower:  slices.Clone(c.MinimumChargingPower),
		ConsumptionEfficiency: slices.Clone(c.ConsumptionEfficiency),
	}
}

// Clone returns a deep copy of p, preserving which keys are absent.
func (p *PartialEVConfig) Clone() *PartialEVConfig {
	if p == nil {
		return nil
	}
	c := &PartialEVConfig{
		BatteryCapacity:       slices.Clone(p.BatteryCapacity),
		ChargingEfficiency:    slices.Clone(p.ChargingEfficiency),
		NominalChargingPower:  slices.Clone(p.NominalChargingPower),
		MinimumChargingPower:  slices.Clone(p.MinimumChargingPower),
		ConsumptionEfficiency: slices.Clone(p.ConsumptionEfficiency),
	}
	if p.NumberOfEVLoads != nil {
		n := *p.NumberOfEVLoads
		c.NumberOfEVLoads = &n
	}
	return c
}
