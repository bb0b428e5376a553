package aggregate

import (
	"maps"

	"github.com/shopspring/decimal"
)

// Mode is how a delta is applied to a field.
type Mode uint8

const (
	// Additive adds the delta to the current value.
	Additive Mode = iota
	// Replace overwrites the current value.
	Replace
)

// FieldSpec declares a metric field.
type FieldSpec struct {
	Name        string
	Mode        Mode
	NonNegative bool
}

// DerivedSpec declares a field computed from the full snapshot after every
// update.
type DerivedSpec struct {
	Name    string
	Compute func(Snapshot) decimal.Decimal
}

// Snapshot holds metric values by field name.
type Snapshot map[string]decimal.Decimal

// Get returns the value of name, zero when absent.
func (s Snapshot) Get(name string) decimal.Decimal {
	return s[name]
}

// Delta carries per-field updates. Fields not declared on the Metrics are
// ignored.
type Delta map[string]decimal.Decimal

// Ratio derives name as num/den rounded to places, zero when den is zero.
func Ratio(name, num, den string, places int32) DerivedSpec {
	return DerivedSpec{
		Name: name,
		Compute: func(s Snapshot) decimal.Decimal {
			d := s.Get(den)
			if d.IsZero() {
				return decimal.Zero
			}
			return s.Get(num).Div(d).Round(places)
		},
	}
}

// Metrics is a snapshot of named values updated by deltas.
type Metrics struct {
	fields  map[string]FieldSpec
	derived []DerivedSpec
	values  Snapshot
}

// NewMetrics creates a zeroed snapshot with the given fields.
func NewMetrics(fields []FieldSpec, derived ...DerivedSpec) *Metrics {
	m := &Metrics{
		fields:  make(map[string]FieldSpec, len(fields)),
		derived: derived,
		values:  make(Snapshot, len(fields)+len(derived)),
	}
	for _, f := range fields {
		m.fields[f.Name] = f
		m.values[f.Name] = decimal.Zero
	}
	m.recompute()
	return m
}

// Apply folds d into the snapshot, clamps non-negative fields at zero and
// recomputes derived fields. It returns the updated snapshot.
func (m *Metrics) Apply(d Delta) Snapshot {
	for name, v := range d {
		spec, ok := m.fields[name]
		if !ok {
			continue
		}
		next := v
		if spec.Mode == Additive {
			next = m.values[name].Add(v)
		}
		if spec.NonNegative && next.IsNegative() {
			next = decimal.Zero
		}
		m.values[name] = next
	}
	m.recompute()
	return m.Snapshot()
}

// Reset replaces every declared field with the value in s, or zero.
func (m *Metrics) Reset(s Snapshot) {
	for name, spec := range m.fields {
		v := s.Get(name)
		if spec.NonNegative && v.IsNegative() {
			v = decimal.Zero
		}
		m.values[name] = v
	}
	m.recompute()
}

func (m *Metrics) recompute() {
	for _, d := range m.derived {
		m.values[d.Name] = d.Compute(m.values)
	}
}

// Get returns the current value of name.
func (m *Metrics) Get(name string) decimal.Decimal {
	return m.values.Get(name)
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Snapshot {
	return maps.Clone(m.values)
}
