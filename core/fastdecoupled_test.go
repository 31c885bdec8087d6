package core

import (
	"context"
	"math"
	"testing"

	"github.com/signalsfoundry/gridflow/model"
)

// fdHarness wires an acState and decoupled solver over a network, flat
// started, the way solveAC would.
func fdHarness(t *testing.T, n *Network, variant fdVariant) (*acState, *fastDecoupled) {
	t.Helper()
	if _, err := n.EnsureSlack(context.Background()); err != nil {
		t.Fatalf("EnsureSlack: %v", err)
	}
	adm, err := n.Admittance()
	if err != nil {
		t.Fatalf("Admittance: %v", err)
	}
	st := newACState(n, adm, SolveOptions{FlatStart: true})
	fd, err := newFastDecoupled(st, variant)
	if err != nil {
		t.Fatalf("newFastDecoupled: %v", err)
	}
	return st, fd
}

// iterateFD drives the harness until the mismatch norm drops below tol,
// failing the test if maxIter sweeps are not enough.
func iterateFD(t *testing.T, st *acState, fd *fastDecoupled, tol float64, maxIter int) int {
	t.Helper()
	for it := 0; it < maxIter; it++ {
		dp, dq, norm := st.mismatch()
		if norm < tol {
			return it
		}
		if err := fd.step(st, dp, dq); err != nil {
			t.Fatalf("step %d: %v", it, err)
		}
	}
	_, _, norm := st.mismatch()
	t.Fatalf("no convergence in %d iterations, norm %v", maxIter, norm)
	return 0
}

func TestFastDecoupledFactorsEachMatrixOnce(t *testing.T) {
	for _, tc := range []struct {
		name    string
		variant fdVariant
	}{
		{"xb", variantXB},
		{"bx", variantBX},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st, fd := fdHarness(t, fourBusNetwork(t), tc.variant)
			if fd.factorCount != 2 {
				t.Fatalf("factorCount after construction = %d, want 2", fd.factorCount)
			}
			iterateFD(t, st, fd, 1e-8, 100)
			if fd.factorCount != 2 {
				t.Errorf("factorCount after iterating = %d, want still 2", fd.factorCount)
			}
		})
	}
}

func TestFastDecoupledMatchesNewton(t *testing.T) {
	ref := solveOrFatal(t, fourBusNetwork(t), SolveOptions{
		Method:    model.MethodNewtonRaphson,
		FlatStart: true,
	})
	if !ref.Converged() {
		t.Fatalf("reference solve did not converge")
	}

	for _, tc := range []struct {
		name    string
		variant fdVariant
	}{
		{"xb", variantXB},
		{"bx", variantBX},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st, fd := fdHarness(t, fourBusNetwork(t), tc.variant)
			iterateFD(t, st, fd, 1e-10, 200)
			for i := range st.vm {
				if d := math.Abs(st.vm[i] - ref.AC.VoltageMag[i]); d > 1e-6 {
					t.Errorf("bus %d magnitude: %v vs %v", i, st.vm[i], ref.AC.VoltageMag[i])
				}
				if d := math.Abs(st.va[i] - ref.AC.VoltageAng[i]); d > 1e-6 {
					t.Errorf("bus %d angle: %v vs %v", i, st.va[i], ref.AC.VoltageAng[i])
				}
			}
		})
	}
}

func TestFastDecoupledAnglesOnlyNetwork(t *testing.T) {
	// All buses regulated: no PQ bus, so only the P-θ matrix exists.
	n := pvExportNetwork(t, 5)
	if err := n.UpdateGenerator("pv-gen", model.GeneratorPatch{P: f(0.3)}); err != nil {
		t.Fatalf("UpdateGenerator: %v", err)
	}

	st, fd := fdHarness(t, n, variantXB)
	if fd.b2 != nil {
		t.Fatalf("B2 built for a network with no PQ bus")
	}
	if fd.factorCount != 1 {
		t.Fatalf("factorCount = %d, want 1", fd.factorCount)
	}

	iterateFD(t, st, fd, 1e-8, 100)

	// 0.3 pu transferred over x=0.1 between 1.0 and 1.05 pu terminals.
	wantTheta := math.Asin(0.3 * 0.1 / (1.0 * 1.05))
	if d := math.Abs(st.va[1] - wantTheta); d > 1e-6 {
		t.Errorf("PV bus angle = %v, want %v", st.va[1], wantTheta)
	}
}
