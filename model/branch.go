package model

import "math"

// Branch is a transmission line or transformer between two buses,
// modelled with the unified pi/tap model: series impedance R+jX, total
// line-charging susceptance ChargingB, and an off-nominal complex tap
// τ·e^{jφ} on the from side.
type Branch struct {
	Index int
	Label string
	From  int // dense bus index
	To    int // dense bus index; always != From

	R         float64
	X         float64
	ChargingB float64

	// TapRatio is the off-nominal tap magnitude τ; zero means nominal (1.0).
	TapRatio float64
	// PhaseShift is the transformer phase shift φ in radians.
	PhaseShift float64

	InService bool

	// Angle-difference limits across the branch, radians.
	AngleDiffMin float64
	AngleDiffMax float64
}

// NewBranch returns an in-service branch with open angle limits.
func NewBranch(label string, from, to int) *Branch {
	return &Branch{
		Label:        label,
		From:         from,
		To:           to,
		InService:    true,
		AngleDiffMin: math.Inf(-1),
		AngleDiffMax: math.Inf(1),
	}
}

// BranchPatch is a partial update to a branch's electrical parameters.
// Nil fields are left untouched. Endpoint and status changes go through
// their own operations, not through a patch.
type BranchPatch struct {
	Label      *string
	R          *float64
	X          *float64
	ChargingB  *float64
	TapRatio   *float64
	PhaseShift *float64
}
