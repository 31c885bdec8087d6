package model

import "math"

// Generator is a supply unit attached to a bus. Several generators may
// share a bus; the bus-level injection is the sum of the in-service units.
type Generator struct {
	Index int
	Label string
	Bus   int // dense bus index

	InService bool

	// Output in per-unit.
	P float64
	Q float64

	// Setpoint is the regulated voltage magnitude while the host bus is PV.
	Setpoint float64

	PMin float64
	PMax float64
	// Q limits may be ±Inf for units with no declared capability curve.
	QMin float64
	QMax float64
}

// NewGenerator returns an in-service generator with open capability bounds
// and a 1.0 pu voltage setpoint.
func NewGenerator(label string, bus int) *Generator {
	return &Generator{
		Label:     label,
		Bus:       bus,
		InService: true,
		Setpoint:  1.0,
		PMin:      math.Inf(-1),
		PMax:      math.Inf(1),
		QMin:      math.Inf(-1),
		QMax:      math.Inf(1),
	}
}

// QSpan returns the width of the generator's reactive capability band.
func (g *Generator) QSpan() float64 { return g.QMax - g.QMin }

// GeneratorPatch is a partial update to a generator. Nil fields are left
// untouched.
type GeneratorPatch struct {
	Label     *string
	InService *bool
	P         *float64
	Q         *float64
	Setpoint  *float64
	QMin      *float64
	QMax      *float64
}
