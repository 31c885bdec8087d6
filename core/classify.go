package core

import (
	"context"

	"github.com/signalsfoundry/gridflow/internal/logging"
	"github.com/signalsfoundry/gridflow/model"
)

// reclassifyBus recomputes a bus's supply totals and type from its
// generator population. Slack designation wins; otherwise the bus is PV
// exactly while at least one hosted generator is in service.
//
// Callers must hold n.mu.
func (n *Network) reclassifyBus(idx int) {
	b := n.buses[idx]

	var p, q float64
	inService := 0
	for _, gi := range b.Generators {
		g := n.generators[gi]
		if !g.InService {
			continue
		}
		p += g.P
		q += g.Q
		inService++
	}
	b.SupplyP = p
	b.SupplyQ = q

	switch {
	case idx == n.slack:
		b.Type = model.BusSlack
	case inService > 0:
		b.Type = model.BusPV
	default:
		b.Type = model.BusPQ
	}
}

// EnsureSlack returns the slack bus index, designating the first bus when
// none was configured. The fallback is a policy condition, reported as a
// warning, not an error.
func (n *Network) EnsureSlack(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.buses) == 0 {
		return -1, ErrNoBuses
	}
	if n.slack < 0 {
		n.slack = 0
		n.log.Warn(ctx, "no slack bus designated; defaulting to first bus",
			logging.String("bus", n.buses[0].Label))
		n.reclassifyBus(0)
	}
	return n.slack, nil
}

// setpointVoltage returns the regulated magnitude for a PV or slack bus:
// the setpoint of its first in-service generator, falling back to the
// bus's own voltage guess.
//
// Callers must hold n.mu (read or write).
func (n *Network) setpointVoltage(idx int) float64 {
	b := n.buses[idx]
	for _, gi := range b.Generators {
		g := n.generators[gi]
		if g.InService && g.Setpoint > 0 {
			return g.Setpoint
		}
	}
	if b.VoltageMag > 0 {
		return b.VoltageMag
	}
	return 1.0
}

// busIndexSets partitions the buses for the AC solvers: pvpq carries every
// non-slack bus (angle unknowns), pq the load buses (magnitude unknowns).
//
// Callers must hold n.mu (read or write).
func (n *Network) busIndexSets() (pvpq, pq []int) {
	for i, b := range n.buses {
		if b.Type == model.BusSlack {
			continue
		}
		pvpq = append(pvpq, i)
		if b.Type == model.BusPQ {
			pq = append(pq, i)
		}
	}
	return pvpq, pq
}
