package core

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"github.com/signalsfoundry/gridflow/internal/logging"
	"github.com/signalsfoundry/gridflow/model"
)

// SolveState is the solver's lifecycle state. A solve always ends in
// Converged or MaxIterationsExceeded; the latter is reported as data, not
// as an error, because retrying with different parameters or accepting the
// partial solution are both legitimate caller choices.
type SolveState int

const (
	StateInitialized SolveState = iota
	StateIterating
	StateConverged
	StateMaxIterationsExceeded
)

func (s SolveState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateMaxIterationsExceeded:
		return "max-iterations-exceeded"
	default:
		return "unknown"
	}
}

// SolveRecorder receives one observation per completed solve. The
// observability collector implements it; the zero value of SolveOptions
// records nothing.
type SolveRecorder interface {
	ObserveSolve(method string, converged bool, iterations int)
}

// SolveOptions selects the method and its operating parameters.
type SolveOptions struct {
	Method        model.Method
	Tolerance     float64 // per-unit mismatch bound; default 1e-8
	MaxIterations int     // default 20

	// WarmStart, when non-nil, seeds the iteration with an externally
	// supplied voltage vector (dense bus order) instead of the network's
	// stored voltages. FlatStart overrides both with 1.0∠0.
	WarmStart []complex128
	FlatStart bool

	// SlackAngleOffset is applied uniformly to all DC angles.
	SlackAngleOffset float64

	// EnforceQLimits runs the reactive-limit policy after each converged
	// solve and re-solves while violations remain, up to QLimitRounds
	// additional rounds (default 5).
	EnforceQLimits bool
	QLimitRounds   int

	Logger   logging.Logger
	Recorder SolveRecorder
}

func (o *SolveOptions) normalize() {
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-8
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 20
	}
	if o.QLimitRounds <= 0 {
		o.QLimitRounds = 5
	}
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
}

// ACSolution is the outcome of an iterative AC solve.
type ACSolution struct {
	State      SolveState
	Converged  bool
	Iterations int

	// MismatchHistory records the max-abs mismatch observed at the start
	// of each iteration, in order.
	MismatchHistory []float64

	VoltageMag []float64 // dense bus order
	VoltageAng []float64 // radians

	SlackBus        int
	SlackReassigned bool
	ConvertedBuses  []int // PV buses converted to PQ by the reactive-limit policy
}

// DCSolution is the outcome of the one-shot DC solve.
type DCSolution struct {
	Angles   []float64 // radians, dense bus order
	SlackBus int
}

// Result is a closed variant over the two solution kinds: exactly one of
// AC or DC is set, according to Method.
type Result struct {
	Method model.Method
	AC     *ACSolution
	DC     *DCSolution
}

// Converged reports whether the solve met its tolerance (DC solves are
// direct and always count as converged).
func (r *Result) Converged() bool {
	if r.AC != nil {
		return r.AC.Converged
	}
	return r.DC != nil
}

// Solve runs a power-flow solve against the network. The context is used
// for logging only; the sole timeout mechanism is the iteration bound.
//
// On success the solved voltages are written back into the bus records and
// generator outputs reflect any reactive-limit enforcement.
func Solve(ctx context.Context, net *Network, opts SolveOptions) (*Result, error) {
	opts.normalize()
	ctx, opts.Logger = logging.WithSolveLogger(ctx, opts.Logger)

	if _, err := net.EnsureSlack(ctx); err != nil {
		return nil, err
	}
	adm, err := net.Admittance()
	if err != nil {
		return nil, err
	}

	var res *Result
	if opts.Method == model.MethodDC {
		dc, err := solveDC(ctx, net, adm, opts)
		if err != nil {
			return nil, err
		}
		res = &Result{Method: opts.Method, DC: dc}
	} else {
		ac, err := solveAC(ctx, net, adm, opts)
		if err != nil {
			return nil, err
		}
		res = &Result{Method: opts.Method, AC: ac}
	}

	if opts.Recorder != nil {
		iters := 0
		if res.AC != nil {
			iters = res.AC.Iterations
		}
		opts.Recorder.ObserveSolve(opts.Method.String(), res.Converged(), iters)
	}
	return res, nil
}

// acMethod advances the voltage estimate by one iteration. The mismatch
// vectors passed in were evaluated against the state being advanced.
type acMethod interface {
	step(st *acState, dp, dq []float64) error
}

// acState is the mutable per-solve state shared by the AC methods.
type acState struct {
	net *Network
	adm *AdmittanceModel

	vm, va []float64    // current magnitude/angle estimate
	v      []complex128 // rect form, refreshed by mismatch()
	cur    []complex128 // scratch for Y·V

	busP, busQ []float64 // injections computed at the current estimate

	pSpec, qSpec []float64
	pvpq, pq     []int
	thetaCol     []int // bus → 1-based θ column, 0 when fixed
	vCol         []int // bus → 1-based V column, 0 when fixed

	slack int
}

func newACState(net *Network, adm *AdmittanceModel, opts SolveOptions) *acState {
	net.mu.RLock()
	defer net.mu.RUnlock()

	n := len(net.buses)
	st := &acState{
		net:      net,
		adm:      adm,
		vm:       make([]float64, n),
		va:       make([]float64, n),
		v:        make([]complex128, n),
		cur:      make([]complex128, n),
		busP:     make([]float64, n),
		busQ:     make([]float64, n),
		pSpec:    make([]float64, n),
		qSpec:    make([]float64, n),
		thetaCol: make([]int, n),
		vCol:     make([]int, n),
		slack:    net.slack,
	}

	for i, b := range net.buses {
		st.pSpec[i] = b.SupplyP - b.DemandP
		st.qSpec[i] = b.SupplyQ - b.DemandQ

		switch {
		case opts.FlatStart:
			st.vm[i], st.va[i] = 1.0, 0.0
		case opts.WarmStart != nil:
			st.vm[i] = cmplx.Abs(opts.WarmStart[i])
			st.va[i] = cmplx.Phase(opts.WarmStart[i])
		default:
			st.vm[i], st.va[i] = b.VoltageMag, b.VoltageAng
		}

		// Regulated buses hold their setpoint magnitude regardless of the
		// starting guess.
		if b.Type == model.BusPV || b.Type == model.BusSlack {
			st.vm[i] = net.setpointVoltage(i)
		}
		if st.vm[i] == 0 {
			st.vm[i] = 1.0
		}
	}

	st.rebuildIndexSetsLocked()
	return st
}

// rebuildIndexSets derives the unknown layout from current bus types.
// Called again after the reactive-limit policy retypes buses.
func (st *acState) rebuildIndexSets() {
	st.net.mu.RLock()
	defer st.net.mu.RUnlock()
	st.rebuildIndexSetsLocked()
}

// rebuildIndexSetsLocked is rebuildIndexSets for callers that already
// hold the network's read lock. RWMutex read locks do not nest: a writer
// queued between two RLock calls on the same goroutine deadlocks both.
func (st *acState) rebuildIndexSetsLocked() {
	st.slack = st.net.slack
	st.pvpq, st.pq = st.net.busIndexSets()
	for i := range st.thetaCol {
		st.thetaCol[i] = 0
		st.vCol[i] = 0
	}
	for k, bus := range st.pvpq {
		st.thetaCol[bus] = k + 1
	}
	for k, bus := range st.pq {
		st.vCol[bus] = len(st.pvpq) + k + 1
	}
}

// mismatch refreshes the injections at the current estimate and returns
// the mismatch vectors (aligned with pvpq and pq) plus the max-abs norm.
func (st *acState) mismatch() (dp, dq []float64, norm float64) {
	for i := range st.v {
		st.v[i] = cmplx.Rect(st.vm[i], st.va[i])
	}
	st.adm.CurrentInjections(st.v, st.cur)
	for i := range st.v {
		s := st.v[i] * cmplx.Conj(st.cur[i])
		st.busP[i] = real(s)
		st.busQ[i] = imag(s)
	}

	dp = make([]float64, len(st.pvpq))
	for k, bus := range st.pvpq {
		dp[k] = st.busP[bus] - st.pSpec[bus]
	}
	dq = make([]float64, len(st.pq))
	for k, bus := range st.pq {
		dq[k] = st.busQ[bus] - st.qSpec[bus]
	}

	norm = 0
	if len(dp) > 0 {
		norm = floats.Norm(dp, math.Inf(1))
	}
	if len(dq) > 0 {
		norm = math.Max(norm, floats.Norm(dq, math.Inf(1)))
	}
	return dp, dq, norm
}

// solveAC runs the iterative state machine for the selected method,
// wrapping it in the reactive-limit outer loop when enabled.
func solveAC(ctx context.Context, net *Network, adm *AdmittanceModel, opts SolveOptions) (*ACSolution, error) {
	st := newACState(net, adm, opts)

	var converted []int
	slackReassigned := false

	rounds := 1
	if opts.EnforceQLimits {
		rounds += opts.QLimitRounds
	}

	var sol *ACSolution
	for round := 0; round < rounds; round++ {
		method, err := newACMethod(st, opts)
		if err != nil {
			return nil, err
		}

		sol = &ACSolution{State: StateInitialized, SlackBus: st.slack}
		if err := iterate(st, method, opts, sol); err != nil {
			return nil, err
		}

		if !sol.Converged || !opts.EnforceQLimits {
			break
		}

		outcome := net.enforceGeneratorLimits(ctx, opts.Logger, st)
		if len(outcome.converted) == 0 {
			break
		}
		converted = append(converted, outcome.converted...)
		if outcome.slackMoved {
			slackReassigned = true
		}
		st.rebuildIndexSets()
	}

	sol.SlackBus = st.slack
	sol.SlackReassigned = slackReassigned
	sol.ConvertedBuses = converted
	sol.VoltageMag = append([]float64(nil), st.vm...)
	sol.VoltageAng = append([]float64(nil), st.va...)

	storeACSolution(net, sol)

	opts.Logger.Info(ctx, "power flow finished",
		logging.String("method", opts.Method.String()),
		logging.String("state", sol.State.String()),
		logging.Int("iterations", sol.Iterations))
	return sol, nil
}

// iterate runs the Initialized → Iterating → terminal-state machine: one
// mismatch evaluation, one convergence test, and one method step per
// iteration, fully sequential.
func iterate(st *acState, method acMethod, opts SolveOptions, sol *ACSolution) error {
	sol.State = StateIterating
	for iter := 0; iter < opts.MaxIterations; iter++ {
		dp, dq, norm := st.mismatch()
		sol.MismatchHistory = append(sol.MismatchHistory, norm)

		if norm < opts.Tolerance {
			sol.State = StateConverged
			sol.Converged = true
			sol.Iterations = iter
			return nil
		}

		if err := method.step(st, dp, dq); err != nil {
			return err
		}
		sol.Iterations = iter + 1
	}

	// Check whether the last step landed within tolerance.
	_, _, norm := st.mismatch()
	sol.MismatchHistory = append(sol.MismatchHistory, norm)
	if norm < opts.Tolerance {
		sol.State = StateConverged
		sol.Converged = true
		return nil
	}
	sol.State = StateMaxIterationsExceeded
	return nil
}

// noopMethod serves degenerate networks with no unknowns (slack only);
// the state machine still runs its mismatch evaluation and converges
// immediately.
type noopMethod struct{}

func (noopMethod) step(*acState, []float64, []float64) error { return nil }

func newACMethod(st *acState, opts SolveOptions) (acMethod, error) {
	if len(st.pvpq) == 0 && len(st.pq) == 0 {
		return noopMethod{}, nil
	}
	switch opts.Method {
	case model.MethodNewtonRaphson:
		return newNewtonSolver(st)
	case model.MethodFastDecoupledXB:
		return newFastDecoupled(st, variantXB)
	case model.MethodFastDecoupledBX:
		return newFastDecoupled(st, variantBX)
	case model.MethodGaussSeidel:
		return newGaussSeidel(st), nil
	default:
		return nil, fmt.Errorf("method %v is not an iterative AC method", opts.Method)
	}
}

// storeACSolution writes the solved voltages back into the bus records.
func storeACSolution(net *Network, sol *ACSolution) {
	net.mu.Lock()
	defer net.mu.Unlock()
	for i, b := range net.buses {
		b.VoltageMag = sol.VoltageMag[i]
		b.VoltageAng = sol.VoltageAng[i]
	}
}
