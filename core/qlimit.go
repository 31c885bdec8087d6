package core

import (
	"context"
	"math"

	"github.com/signalsfoundry/gridflow/internal/logging"
	"github.com/signalsfoundry/gridflow/model"
)

// qLimitOutcome summarizes one application of the reactive-limit policy.
type qLimitOutcome struct {
	converted  []int // buses retyped PV → PQ this round
	slackMoved bool
	newSlack   int
}

// enforceGeneratorLimits applies the reactive-limit and slack-reassignment
// policy against the converged estimate in st. For every regulated bus
// whose aggregate reactive requirement violates the aggregate generator
// capability, the requirement is clamped to the violated bound,
// redistributed over the hosted generators, and the bus is retyped PQ so
// the next round lets its voltage magnitude float. A saturated slack bus
// hands the reference role to the lowest-indexed remaining PV bus; all
// angles are shifted uniformly so the relative solution is preserved.
func (n *Network) enforceGeneratorLimits(ctx context.Context, log logging.Logger, st *acState) qLimitOutcome {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out qLimitOutcome
	for idx, b := range n.buses {
		if b.Type != model.BusPV && b.Type != model.BusSlack {
			continue
		}
		gens := inServiceGens(n, b)
		if len(gens) == 0 {
			continue
		}

		// The reactive power the bus's generators must produce to hold
		// the converged voltages.
		required := st.busQ[idx] + b.DemandQ

		aggMin, aggMax := 0.0, 0.0
		for _, g := range gens {
			aggMin += g.QMin
			aggMax += g.QMax
		}

		// A violated aggregate bound is necessarily finite, so every
		// unit is pinned exactly on its own bound.
		var target float64
		switch {
		case required > aggMax:
			for _, g := range gens {
				g.Q = g.QMax
			}
			target = aggMax
		case required < aggMin:
			for _, g := range gens {
				g.Q = g.QMin
			}
			target = aggMin
		default:
			continue
		}

		b.SupplyQ = target
		st.qSpec[idx] = target - b.DemandQ

		if idx != n.slack {
			b.Type = model.BusPQ
			out.converted = append(out.converted, idx)
			log.Info(ctx, "reactive limit reached; bus converted to PQ",
				logging.String("bus", b.Label),
				logging.Any("clamped_q", target))
			continue
		}

		newSlack := n.pickSlackCandidate(idx)
		if newSlack < 0 {
			log.Warn(ctx, "slack generators saturated but no PV bus can take over; slack keeps regulating",
				logging.String("bus", b.Label))
			continue
		}

		b.Type = model.BusPQ
		n.slack = newSlack
		n.buses[newSlack].Type = model.BusSlack
		out.converted = append(out.converted, idx)
		out.slackMoved = true
		out.newSlack = newSlack

		// Shift so the new reference carries the old reference angle,
		// leaving every angle difference untouched.
		shift := st.va[idx] - st.va[newSlack]
		for i := range st.va {
			st.va[i] += shift
		}
		st.slack = newSlack

		log.Warn(ctx, "slack bus reassigned after reactive saturation",
			logging.String("old", b.Label),
			logging.String("new", n.buses[newSlack].Label))
	}
	return out
}

// pickSlackCandidate returns the lowest-indexed PV bus other than exclude,
// or -1 when none remains. Callers must hold n.mu.
func (n *Network) pickSlackCandidate(exclude int) int {
	for i, b := range n.buses {
		if i != exclude && b.Type == model.BusPV {
			return i
		}
	}
	return -1
}

// inServiceGens collects the in-service generators hosted at b. Callers
// must hold n.mu (read or write).
func inServiceGens(n *Network, b *model.Bus) []*model.Generator {
	var gens []*model.Generator
	for _, gi := range b.Generators {
		if g := n.generators[gi]; g.InService {
			gens = append(gens, g)
		}
	}
	return gens
}

// distributeReactive splits a bus-level reactive target over its
// generators in proportion to each unit's share of the aggregate
// capability span. Unbounded declared limits are replaced by finite
// surrogates before weighting, so the split is deterministic and never
// propagates an infinity into an output.
func distributeReactive(gens []*model.Generator, target float64) {
	mins := make([]float64, len(gens))
	spans := make([]float64, len(gens))

	// Surrogate scale: the finite capability present at the bus plus the
	// magnitude being placed. Degenerates to 1.0 only when both are zero.
	scale := math.Abs(target)
	for _, g := range gens {
		if !math.IsInf(g.QMin, 0) {
			scale += math.Abs(g.QMin)
		}
		if !math.IsInf(g.QMax, 0) {
			scale += math.Abs(g.QMax)
		}
	}
	if scale == 0 {
		scale = 1.0
	}

	total := 0.0
	for i, g := range gens {
		lo, hi := g.QMin, g.QMax
		if math.IsInf(lo, -1) {
			lo = -scale
		}
		if math.IsInf(hi, 1) {
			hi = scale
		}
		mins[i] = lo
		spans[i] = hi - lo
		total += spans[i]
	}

	if total == 0 {
		// Point capabilities: every unit sits at its (unique) bound and
		// any residual is split evenly.
		sum := 0.0
		for i, g := range gens {
			g.Q = mins[i]
			sum += mins[i]
		}
		residual := (target - sum) / float64(len(gens))
		for _, g := range gens {
			g.Q += residual
		}
		return
	}

	base := 0.0
	for i := range gens {
		base += mins[i]
	}
	for i, g := range gens {
		g.Q = mins[i] + (target-base)*spans[i]/total
	}
}
