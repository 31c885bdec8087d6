package core

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/gridflow/model"
	"github.com/signalsfoundry/gridflow/timectrl"
)

// StudyEvent is a scheduled network change in a quasi-steady-state study.
// Events fire before the solve of the step they name (steps are 1-based).
// Exactly the non-nil mutations are applied, through the network's regular
// mutation surface.
type StudyEvent struct {
	Step int

	Branch          string
	BranchInService *bool
	BranchParams    *model.BranchPatch

	Bus      string
	BusPatch *model.BusPatch

	Generator      string
	GeneratorPatch *model.GeneratorPatch
}

// StudyStep is the outcome of one study step: the events applied and the
// solve that followed them.
type StudyStep struct {
	Step    int
	At      time.Time
	Applied int
	Result  *Result
}

// StudyEngine replays scheduled events against a network, re-solving after
// every step. It is the batch counterpart of the live loop in cmd/powerflow:
// wire OnTick to a timectrl.Controller for paced runs, or call Run for
// back-to-back steps.
type StudyEngine struct {
	net   *Network
	opts  SolveOptions
	clock timectrl.Clock

	events []StudyEvent
	step   int

	stepListeners []func(StudyStep)
}

// NewStudyEngine constructs an engine over net. A nil clock falls back to
// wall-clock time.
func NewStudyEngine(net *Network, opts SolveOptions, clock timectrl.Clock) *StudyEngine {
	if clock == nil {
		clock = systemClock{}
	}
	return &StudyEngine{net: net, opts: opts, clock: clock}
}

// Schedule queues an event. Events may be scheduled in any order; each step
// applies its due events in the order they were scheduled.
func (e *StudyEngine) Schedule(ev StudyEvent) {
	e.events = append(e.events, ev)
}

// RegisterStepListener registers a callback invoked after every completed
// step.
func (e *StudyEngine) RegisterStepListener(fn func(StudyStep)) {
	e.stepListeners = append(e.stepListeners, fn)
}

// OnTick advances the study by one step: apply the step's events, solve,
// notify listeners. Mutation and solve failures abort the step; an
// unconverged solve is a result, not an error.
func (e *StudyEngine) OnTick(ctx context.Context) (StudyStep, error) {
	e.step++
	out := StudyStep{Step: e.step, At: e.clock.Now()}

	for _, ev := range e.events {
		if ev.Step != e.step {
			continue
		}
		if err := e.apply(ev); err != nil {
			return out, fmt.Errorf("step %d: %w", e.step, err)
		}
		out.Applied++
	}

	res, err := Solve(ctx, e.net, e.opts)
	if err != nil {
		return out, fmt.Errorf("step %d: %w", e.step, err)
	}
	out.Result = res

	for _, fn := range e.stepListeners {
		fn(out)
	}
	return out, nil
}

// Run executes steps back to back and returns every step outcome.
func (e *StudyEngine) Run(ctx context.Context, steps int) ([]StudyStep, error) {
	out := make([]StudyStep, 0, steps)
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		st, err := e.OnTick(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (e *StudyEngine) apply(ev StudyEvent) error {
	if ev.Branch != "" {
		if ev.BranchInService != nil {
			if err := e.net.SetBranchStatus(ev.Branch, *ev.BranchInService); err != nil {
				return err
			}
		}
		if ev.BranchParams != nil {
			if err := e.net.SetBranchParameters(ev.Branch, *ev.BranchParams); err != nil {
				return err
			}
		}
	}
	if ev.Bus != "" && ev.BusPatch != nil {
		if err := e.net.UpdateBus(ev.Bus, *ev.BusPatch); err != nil {
			return err
		}
	}
	if ev.Generator != "" && ev.GeneratorPatch != nil {
		if err := e.net.UpdateGenerator(ev.Generator, *ev.GeneratorPatch); err != nil {
			return err
		}
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
