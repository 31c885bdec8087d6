package model

import "math"

// BusType classifies how a bus enters the power-flow equations.
type BusType int

const (
	BusPQ    BusType = iota // fixed P and Q injection; voltage free
	BusPV                   // fixed P and voltage magnitude; Q free
	BusSlack                // fixed magnitude and angle; absorbs system imbalance
)

func (t BusType) String() string {
	switch t {
	case BusPQ:
		return "PQ"
	case BusPV:
		return "PV"
	case BusSlack:
		return "slack"
	default:
		return "unknown"
	}
}

// Bus is a network node. Indices are dense and 0-based; callers address
// buses by label, the dense index is an internal handle.
type Bus struct {
	Index int
	Label string
	Type  BusType

	// Demand and shunt, in per-unit on the system base.
	DemandP float64
	DemandQ float64
	ShuntG  float64
	ShuntB  float64

	// SupplyP/SupplyQ aggregate the output of in-service generators at
	// this bus. Maintained by reclassification, never set directly.
	SupplyP    float64
	SupplyQ    float64
	Generators []int // indices of generators hosted at this bus

	// VoltageMag/VoltageAng carry the initial guess before a solve and
	// the solution afterwards. Angle in radians.
	VoltageMag float64
	VoltageAng float64

	VMin float64
	VMax float64
}

// NewBus returns a bus with a flat 1.0 pu voltage guess and open
// magnitude bounds.
func NewBus(label string) *Bus {
	return &Bus{
		Label:      label,
		Type:       BusPQ,
		VoltageMag: 1.0,
		VMin:       0,
		VMax:       math.Inf(1),
	}
}

// BusPatch is a partial update to a bus. Nil fields are left untouched.
type BusPatch struct {
	Label   *string
	DemandP *float64
	DemandQ *float64
	ShuntG  *float64
	ShuntB  *float64
	VMin    *float64
	VMax    *float64
}
