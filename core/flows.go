package core

import (
	"math"
	"math/cmplx"

	"github.com/signalsfoundry/gridflow/model"
)

// BranchFlow is the complex power entering a branch at each terminal,
// evaluated at the network's stored (solved) voltages. Signs follow the
// injection convention: positive means power flowing from the bus into the
// branch.
type BranchFlow struct {
	Branch int
	Label  string
	FromP  float64
	FromQ  float64
	ToP    float64
	ToQ    float64
}

// LossP returns the branch's active-power loss.
func (f BranchFlow) LossP() float64 { return f.FromP + f.ToP }

// GeneratorOutput is a generator's share of its bus's solved injection.
type GeneratorOutput struct {
	Generator int
	Label     string
	Bus       int
	P, Q      float64
}

// BranchFlows evaluates terminal flows for every branch at the stored bus
// voltages. Out-of-service branches report zero flow.
func (n *Network) BranchFlows() ([]BranchFlow, error) {
	adm, err := n.Admittance()
	if err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	flows := make([]BranchFlow, len(n.branches))
	for idx, br := range n.branches {
		flows[idx] = BranchFlow{Branch: idx, Label: br.Label}
		if !br.InService {
			continue
		}
		yff, yft, ytf, ytt := adm.BranchTerms(idx)

		vf := voltagePhasor(n.buses[br.From])
		vt := voltagePhasor(n.buses[br.To])

		sf := vf * cmplx.Conj(yff*vf+yft*vt)
		st := vt * cmplx.Conj(ytf*vf+ytt*vt)
		flows[idx].FromP, flows[idx].FromQ = real(sf), imag(sf)
		flows[idx].ToP, flows[idx].ToQ = real(st), imag(st)
	}
	return flows, nil
}

// GeneratorOutputs apportions each bus's solved injection over its
// in-service generators: reactive power proportionally to capability span
// (matching the limit-enforcement split) and active power as specified,
// with the slack bus's residual absorbed by its first in-service unit.
// Out-of-service generators report zero.
func (n *Network) GeneratorOutputs() ([]GeneratorOutput, error) {
	adm, err := n.Admittance()
	if err != nil {
		return nil, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	v := make([]complex128, len(n.buses))
	cur := make([]complex128, len(n.buses))
	for i, b := range n.buses {
		v[i] = voltagePhasor(b)
	}
	adm.CurrentInjections(v, cur)

	outs := make([]GeneratorOutput, len(n.generators))
	for gi, g := range n.generators {
		outs[gi] = GeneratorOutput{Generator: gi, Label: g.Label, Bus: g.Bus}
	}

	for idx, b := range n.buses {
		gens := inServiceGens(n, b)
		if len(gens) == 0 {
			continue
		}
		s := v[idx] * cmplx.Conj(cur[idx])
		requiredP := real(s) + b.DemandP
		requiredQ := imag(s) + b.DemandQ

		shadow := make([]*model.Generator, len(gens))
		for i, g := range gens {
			c := *g
			shadow[i] = &c
		}
		distributeReactive(shadow, requiredQ)

		residualP := requiredP
		for _, g := range gens {
			residualP -= g.P
		}
		for i, g := range gens {
			out := &outs[g.Index]
			out.P = g.P
			out.Q = shadow[i].Q
			if idx == n.slack && i == 0 {
				out.P += residualP
			}
		}
	}
	return outs, nil
}

// Losses sums active and reactive branch losses over the in-service
// network.
func (n *Network) Losses() (p, q float64, err error) {
	flows, err := n.BranchFlows()
	if err != nil {
		return 0, 0, err
	}
	for _, f := range flows {
		p += f.FromP + f.ToP
		q += f.FromQ + f.ToQ
	}
	return p, q, nil
}

func voltagePhasor(b *model.Bus) complex128 {
	mag := b.VoltageMag
	if mag == 0 {
		mag = 1.0
	}
	if math.IsNaN(mag) {
		mag = 1.0
	}
	return cmplx.Rect(mag, b.VoltageAng)
}
