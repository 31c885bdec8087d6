package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/gridflow/internal/logging"
	"github.com/signalsfoundry/gridflow/model"
)

var (
	ErrDuplicateLabel    = errors.New("duplicate label")
	ErrEmptyLabel        = errors.New("empty label")
	ErrBusNotFound       = errors.New("bus not found")
	ErrBranchNotFound    = errors.New("branch not found")
	ErrGeneratorNotFound = errors.New("generator not found")
	ErrSelfLoop          = errors.New("branch endpoints are the same bus")
	ErrZeroImpedance     = errors.New("branch has zero resistance and zero reactance")
	ErrSingularSystem    = errors.New("singular system")
	ErrNoBuses           = errors.New("network has no buses")
)

// Network stores buses, branches and generators as dense arenas with a
// label→index map, and owns the derived admittance model. All access goes
// through these methods; the arenas are never handed out for mutation.
//
// The store is guarded by an RWMutex so independent read-only solvers can
// share it, but the contract is solve-then-mutate: topology changes during
// an in-progress solve are the caller's bug, not something we detect.
type Network struct {
	mu sync.RWMutex

	buses      []*model.Bus
	branches   []*model.Branch
	generators []*model.Generator

	busIndex    map[string]int
	branchIndex map[string]int
	genIndex    map[string]int

	// slack is a dense bus index, or -1 while no slack is designated.
	slack int

	// adm is the derived nodal admittance model. It is built lazily on the
	// first solve and from then on maintained incrementally by the mutation
	// methods below. Adding a bus changes the matrix dimension and simply
	// invalidates it.
	adm *AdmittanceModel

	log logging.Logger
}

// NewNetwork constructs an empty network.
func NewNetwork() *Network {
	return &Network{
		busIndex:    make(map[string]int),
		branchIndex: make(map[string]int),
		genIndex:    make(map[string]int),
		slack:       -1,
		log:         logging.Noop(),
	}
}

// SetLogger replaces the network's logger. Passing nil restores the noop
// logger.
func (n *Network) SetLogger(l logging.Logger) {
	if l == nil {
		l = logging.Noop()
	}
	n.mu.Lock()
	n.log = l
	n.mu.Unlock()
}

//
// ---------- Buses ----------
//

// AddBus adds a bus. The bus keeps its initial-voltage fields; Index is
// assigned by the network.
func (n *Network) AddBus(b *model.Bus) error {
	if b == nil || b.Label == "" {
		return fmt.Errorf("%w: bus", ErrEmptyLabel)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.busIndex[b.Label]; exists {
		return fmt.Errorf("%w: bus %q", ErrDuplicateLabel, b.Label)
	}
	b.Index = len(n.buses)
	if b.VoltageMag == 0 {
		b.VoltageMag = 1.0
	}
	n.buses = append(n.buses, b)
	n.busIndex[b.Label] = b.Index

	// Dimension changed; the admittance model is rebuilt on next use.
	n.adm = nil
	return nil
}

// SetSlackBus designates the slack bus by label. The previous slack, if
// any, is reclassified from its generator population.
func (n *Network) SetSlackBus(label string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.busIndex[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBusNotFound, label)
	}
	prev := n.slack
	n.slack = idx
	if prev >= 0 && prev != idx {
		n.reclassifyBus(prev)
	}
	n.reclassifyBus(idx)
	return nil
}

// UpdateBus applies a partial update to a bus. Shunt changes are pushed
// into the admittance model incrementally.
func (n *Network) UpdateBus(label string, patch model.BusPatch) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.busIndex[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBusNotFound, label)
	}
	b := n.buses[idx]

	if patch.Label != nil && *patch.Label != b.Label {
		if _, exists := n.busIndex[*patch.Label]; exists {
			return fmt.Errorf("%w: bus %q", ErrDuplicateLabel, *patch.Label)
		}
		delete(n.busIndex, b.Label)
		b.Label = *patch.Label
		n.busIndex[b.Label] = idx
	}
	if patch.DemandP != nil {
		b.DemandP = *patch.DemandP
	}
	if patch.DemandQ != nil {
		b.DemandQ = *patch.DemandQ
	}
	if patch.VMin != nil {
		b.VMin = *patch.VMin
	}
	if patch.VMax != nil {
		b.VMax = *patch.VMax
	}
	if patch.ShuntG != nil || patch.ShuntB != nil {
		g, bb := b.ShuntG, b.ShuntB
		if patch.ShuntG != nil {
			g = *patch.ShuntG
		}
		if patch.ShuntB != nil {
			bb = *patch.ShuntB
		}
		return n.setBusShuntLocked(idx, g, bb)
	}
	return nil
}

// SetBusShunt replaces the shunt conductance/susceptance at a bus.
func (n *Network) SetBusShunt(label string, shuntG, shuntB float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.busIndex[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBusNotFound, label)
	}
	return n.setBusShuntLocked(idx, shuntG, shuntB)
}

func (n *Network) setBusShuntLocked(idx int, shuntG, shuntB float64) error {
	b := n.buses[idx]
	b.ShuntG = shuntG
	b.ShuntB = shuntB
	if n.adm != nil {
		n.adm.ShuntChanged(idx, shuntG, shuntB)
	}
	return nil
}

//
// ---------- Branches ----------
//

// AddBranch adds a branch. Endpoints are dense bus indices, resolved from
// labels by the caller; they are range-checked here.
func (n *Network) AddBranch(br *model.Branch) error {
	if br == nil || br.Label == "" {
		return fmt.Errorf("%w: branch", ErrEmptyLabel)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.branchIndex[br.Label]; exists {
		return fmt.Errorf("%w: branch %q", ErrDuplicateLabel, br.Label)
	}
	if br.From < 0 || br.From >= len(n.buses) || br.To < 0 || br.To >= len(n.buses) {
		return fmt.Errorf("%w: branch %q endpoints (%d,%d)", ErrBusNotFound, br.Label, br.From, br.To)
	}
	if br.From == br.To {
		return fmt.Errorf("%w: branch %q at bus %d", ErrSelfLoop, br.Label, br.From)
	}
	if br.R == 0 && br.X == 0 {
		return fmt.Errorf("%w: branch %q", ErrZeroImpedance, br.Label)
	}

	br.Index = len(n.branches)
	n.branches = append(n.branches, br)
	n.branchIndex[br.Label] = br.Index

	if n.adm != nil {
		return n.adm.BranchAdded(br)
	}
	return nil
}

// SetBranchStatus places a branch in or out of service. The admittance
// terms are reversed in place; nothing is rebuilt.
func (n *Network) SetBranchStatus(label string, inService bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.branchIndex[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBranchNotFound, label)
	}
	br := n.branches[idx]
	if br.InService == inService {
		return nil
	}
	br.InService = inService
	if n.adm != nil {
		n.adm.BranchStatusChanged(idx, inService)
	}
	return nil
}

// SetBranchParameters applies a partial electrical-parameter update to a
// branch and refreshes its cached admittance terms.
func (n *Network) SetBranchParameters(label string, patch model.BranchPatch) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.branchIndex[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBranchNotFound, label)
	}
	br := n.branches[idx]

	r, x := br.R, br.X
	if patch.R != nil {
		r = *patch.R
	}
	if patch.X != nil {
		x = *patch.X
	}
	if r == 0 && x == 0 {
		return fmt.Errorf("%w: branch %q", ErrZeroImpedance, label)
	}

	if patch.Label != nil && *patch.Label != br.Label {
		if _, exists := n.branchIndex[*patch.Label]; exists {
			return fmt.Errorf("%w: branch %q", ErrDuplicateLabel, *patch.Label)
		}
		delete(n.branchIndex, br.Label)
		br.Label = *patch.Label
		n.branchIndex[br.Label] = idx
	}
	br.R, br.X = r, x
	if patch.ChargingB != nil {
		br.ChargingB = *patch.ChargingB
	}
	if patch.TapRatio != nil {
		br.TapRatio = *patch.TapRatio
	}
	if patch.PhaseShift != nil {
		br.PhaseShift = *patch.PhaseShift
	}

	if n.adm != nil {
		return n.adm.BranchParametersChanged(idx)
	}
	return nil
}

//
// ---------- Generators ----------
//

// AddGenerator adds a generator and reclassifies its host bus.
func (n *Network) AddGenerator(g *model.Generator) error {
	if g == nil || g.Label == "" {
		return fmt.Errorf("%w: generator", ErrEmptyLabel)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.genIndex[g.Label]; exists {
		return fmt.Errorf("%w: generator %q", ErrDuplicateLabel, g.Label)
	}
	if g.Bus < 0 || g.Bus >= len(n.buses) {
		return fmt.Errorf("%w: generator %q at bus %d", ErrBusNotFound, g.Label, g.Bus)
	}
	g.Index = len(n.generators)
	n.generators = append(n.generators, g)
	n.genIndex[g.Label] = g.Index
	n.buses[g.Bus].Generators = append(n.buses[g.Bus].Generators, g.Index)

	n.reclassifyBus(g.Bus)
	return nil
}

// SetGeneratorOutput replaces a generator's P/Q output and refreshes the
// host bus's supply totals.
func (n *Network) SetGeneratorOutput(label string, p, q float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.genIndex[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrGeneratorNotFound, label)
	}
	g := n.generators[idx]
	g.P, g.Q = p, q
	n.reclassifyBus(g.Bus)
	return nil
}

// UpdateGenerator applies a partial update to a generator.
func (n *Network) UpdateGenerator(label string, patch model.GeneratorPatch) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	idx, ok := n.genIndex[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrGeneratorNotFound, label)
	}
	g := n.generators[idx]

	if patch.Label != nil && *patch.Label != g.Label {
		if _, exists := n.genIndex[*patch.Label]; exists {
			return fmt.Errorf("%w: generator %q", ErrDuplicateLabel, *patch.Label)
		}
		delete(n.genIndex, g.Label)
		g.Label = *patch.Label
		n.genIndex[g.Label] = idx
	}
	if patch.InService != nil {
		g.InService = *patch.InService
	}
	if patch.P != nil {
		g.P = *patch.P
	}
	if patch.Q != nil {
		g.Q = *patch.Q
	}
	if patch.Setpoint != nil {
		g.Setpoint = *patch.Setpoint
	}
	if patch.QMin != nil {
		g.QMin = *patch.QMin
	}
	if patch.QMax != nil {
		g.QMax = *patch.QMax
	}

	n.reclassifyBus(g.Bus)
	return nil
}

//
// ---------- Lookups ----------
//

// Bus returns a bus by label, or nil if not found.
func (n *Network) Bus(label string) *model.Bus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if idx, ok := n.busIndex[label]; ok {
		return n.buses[idx]
	}
	return nil
}

// BusByIndex returns a bus by dense index, or nil if out of range.
func (n *Network) BusByIndex(idx int) *model.Bus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if idx < 0 || idx >= len(n.buses) {
		return nil
	}
	return n.buses[idx]
}

// Branch returns a branch by label, or nil if not found.
func (n *Network) Branch(label string) *model.Branch {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if idx, ok := n.branchIndex[label]; ok {
		return n.branches[idx]
	}
	return nil
}

// Generator returns a generator by label, or nil if not found.
func (n *Network) Generator(label string) *model.Generator {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if idx, ok := n.genIndex[label]; ok {
		return n.generators[idx]
	}
	return nil
}

// NumBuses returns the bus count.
func (n *Network) NumBuses() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.buses)
}

// NumBranches returns the branch count.
func (n *Network) NumBranches() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.branches)
}

// NumGenerators returns the generator count.
func (n *Network) NumGenerators() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.generators)
}

// SlackBus returns the dense index of the slack bus, or -1 when none has
// been designated yet.
func (n *Network) SlackBus() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.slack
}

// Admittance returns the network's admittance model, building it on first
// use. Subsequent topology mutations keep it current incrementally.
func (n *Network) Admittance() (*AdmittanceModel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.admittanceLocked()
}

func (n *Network) admittanceLocked() (*AdmittanceModel, error) {
	if n.adm != nil {
		return n.adm, nil
	}
	if len(n.buses) == 0 {
		return nil, ErrNoBuses
	}
	adm, err := BuildAdmittanceModel(n.buses, n.branches)
	if err != nil {
		return nil, err
	}
	n.adm = adm
	return adm, nil
}
