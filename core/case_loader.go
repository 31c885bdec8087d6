// core/case_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/signalsfoundry/gridflow/model"
)

// CaseSummary is a small summary of what was loaded from JSON. It's mainly
// useful for logging or debugging from main().
type CaseSummary struct {
	BusLabels       []string
	BranchLabels    []string
	GeneratorLabels []string
	Slack           string
}

// internal JSON shapes – keep them unexported so we're free to evolve them.
type caseJSON struct {
	Buses      []busJSON       `json:"buses"`
	Branches   []branchJSON    `json:"branches"`
	Generators []generatorJSON `json:"generators"`
	Slack      string          `json:"slack"`
}

type busJSON struct {
	Label      string  `json:"label"`
	DemandP    float64 `json:"demand_p"`
	DemandQ    float64 `json:"demand_q"`
	ShuntG     float64 `json:"shunt_g"`
	ShuntB     float64 `json:"shunt_b"`
	VoltageMag float64 `json:"voltage"` // optional; defaults to 1.0
	VoltageAng float64 `json:"angle"`   // radians
	VMin       float64 `json:"v_min"`
	VMax       float64 `json:"v_max"` // 0 means unbounded
}

type branchJSON struct {
	Label      string  `json:"label"`
	From       string  `json:"from"` // bus label
	To         string  `json:"to"`   // bus label
	R          float64 `json:"r"`
	X          float64 `json:"x"`
	ChargingB  float64 `json:"charging_b"`
	TapRatio   float64 `json:"tap"`         // 0 means nominal (1.0)
	PhaseShift float64 `json:"phase_shift"` // radians
	InService  *bool   `json:"in_service"`  // optional; defaults to true
}

type generatorJSON struct {
	Label     string   `json:"label"`
	Bus       string   `json:"bus"` // bus label
	P         float64  `json:"p"`
	Q         float64  `json:"q"`
	Setpoint  float64  `json:"setpoint"` // 0 means nominal (1.0)
	QMin      *float64 `json:"q_min"`    // absent means unbounded
	QMax      *float64 `json:"q_max"`
	PMin      *float64 `json:"p_min"`
	PMax      *float64 `json:"p_max"`
	InService *bool    `json:"in_service"` // optional; defaults to true
}

// LoadCase reads a JSON power-flow case from r, populates the Network via
// its regular mutation calls, and returns a summary of what was loaded.
//
// It fails on JSON/structural errors and on whatever the mutation surface
// itself rejects (duplicate labels, self-loop branches, zero impedance),
// rather than re-validating anything here.
func LoadCase(net *Network, r io.Reader) (*CaseSummary, error) {
	if net == nil {
		return nil, fmt.Errorf("LoadCase: network is nil")
	}

	var payload caseJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadCase: decode failed: %w", err)
	}

	result := &CaseSummary{
		BusLabels:       make([]string, 0, len(payload.Buses)),
		BranchLabels:    make([]string, 0, len(payload.Branches)),
		GeneratorLabels: make([]string, 0, len(payload.Generators)),
	}

	// 1) Buses
	for _, jb := range payload.Buses {
		b := model.NewBus(jb.Label)
		b.DemandP = jb.DemandP
		b.DemandQ = jb.DemandQ
		b.ShuntG = jb.ShuntG
		b.ShuntB = jb.ShuntB
		if jb.VoltageMag > 0 {
			b.VoltageMag = jb.VoltageMag
		}
		b.VoltageAng = jb.VoltageAng
		b.VMin = jb.VMin
		if jb.VMax > 0 {
			b.VMax = jb.VMax
		}
		if err := net.AddBus(b); err != nil {
			return nil, fmt.Errorf("LoadCase: bus %q: %w", jb.Label, err)
		}
		result.BusLabels = append(result.BusLabels, jb.Label)
	}

	// 2) Branches
	for _, jbr := range payload.Branches {
		from := net.Bus(jbr.From)
		to := net.Bus(jbr.To)
		if from == nil || to == nil {
			return nil, fmt.Errorf("LoadCase: branch %q: %w", jbr.Label, ErrBusNotFound)
		}
		br := model.NewBranch(jbr.Label, from.Index, to.Index)
		br.R = jbr.R
		br.X = jbr.X
		br.ChargingB = jbr.ChargingB
		br.TapRatio = jbr.TapRatio
		br.PhaseShift = jbr.PhaseShift
		if jbr.InService != nil {
			br.InService = *jbr.InService
		}
		if err := net.AddBranch(br); err != nil {
			return nil, fmt.Errorf("LoadCase: branch %q: %w", jbr.Label, err)
		}
		result.BranchLabels = append(result.BranchLabels, jbr.Label)
	}

	// 3) Generators
	for _, jg := range payload.Generators {
		host := net.Bus(jg.Bus)
		if host == nil {
			return nil, fmt.Errorf("LoadCase: generator %q: %w", jg.Label, ErrBusNotFound)
		}
		g := model.NewGenerator(jg.Label, host.Index)
		g.P = jg.P
		g.Q = jg.Q
		if jg.Setpoint > 0 {
			g.Setpoint = jg.Setpoint
		}
		g.QMin = boundOr(jg.QMin, math.Inf(-1))
		g.QMax = boundOr(jg.QMax, math.Inf(1))
		g.PMin = boundOr(jg.PMin, math.Inf(-1))
		g.PMax = boundOr(jg.PMax, math.Inf(1))
		if jg.InService != nil {
			g.InService = *jg.InService
		}
		if err := net.AddGenerator(g); err != nil {
			return nil, fmt.Errorf("LoadCase: generator %q: %w", jg.Label, err)
		}
		result.GeneratorLabels = append(result.GeneratorLabels, jg.Label)
	}

	// 4) Slack designation
	if payload.Slack != "" {
		if err := net.SetSlackBus(payload.Slack); err != nil {
			return nil, fmt.Errorf("LoadCase: slack %q: %w", payload.Slack, err)
		}
		result.Slack = payload.Slack
	}

	return result, nil
}

func boundOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
