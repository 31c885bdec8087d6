package core

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/signalsfoundry/gridflow/model"
)

// fourBusNetwork builds the 1-slack / 1-PV / 2-PQ test network used
// throughout the solver tests.
func fourBusNetwork(t *testing.T) *Network {
	t.Helper()
	n := NewNetwork()

	for _, label := range []string{"bus1", "bus2", "bus3", "bus4"} {
		if err := n.AddBus(model.NewBus(label)); err != nil {
			t.Fatalf("AddBus(%s): %v", label, err)
		}
	}
	if err := n.UpdateBus("bus3", model.BusPatch{DemandP: f(0.45), DemandQ: f(0.15)}); err != nil {
		t.Fatalf("UpdateBus(bus3): %v", err)
	}
	if err := n.UpdateBus("bus4", model.BusPatch{DemandP: f(0.4), DemandQ: f(0.05)}); err != nil {
		t.Fatalf("UpdateBus(bus4): %v", err)
	}
	if err := n.SetBusShunt("bus4", 0, 0.02); err != nil {
		t.Fatalf("SetBusShunt(bus4): %v", err)
	}

	branches := []struct {
		label    string
		from, to int
		r, x, bc float64
	}{
		{"line1-2", 0, 1, 0.01, 0.05, 0},
		{"line1-3", 0, 2, 0.02, 0.1, 0.02},
		{"line2-4", 1, 3, 0.015, 0.08, 0},
		{"line3-4", 2, 3, 0.01, 0.06, 0},
	}
	for _, row := range branches {
		br := model.NewBranch(row.label, row.from, row.to)
		br.R, br.X, br.ChargingB = row.r, row.x, row.bc
		if err := n.AddBranch(br); err != nil {
			t.Fatalf("AddBranch(%s): %v", row.label, err)
		}
	}

	g1 := model.NewGenerator("gen1", 0)
	if err := n.AddGenerator(g1); err != nil {
		t.Fatalf("AddGenerator(gen1): %v", err)
	}
	g2 := model.NewGenerator("gen2", 1)
	g2.P = 0.5
	g2.Setpoint = 1.02
	g2.QMin, g2.QMax = -0.5, 0.5
	if err := n.AddGenerator(g2); err != nil {
		t.Fatalf("AddGenerator(gen2): %v", err)
	}

	if err := n.SetSlackBus("bus1"); err != nil {
		t.Fatalf("SetSlackBus: %v", err)
	}
	return n
}

func f(v float64) *float64 { return &v }

func snapshotAC(am *AdmittanceModel) map[[2]int]complex128 {
	snap := make(map[[2]int]complex128)
	am.ForEachACEntry(func(i, j int, y complex128) {
		snap[[2]int{i, j}] = y
	})
	return snap
}

func snapshotDC(am *AdmittanceModel) map[[2]int]float64 {
	snap := make(map[[2]int]float64)
	am.ForEachDCEntry(func(i, j int, v float64) {
		snap[[2]int{i, j}] = v
	})
	return snap
}

// compareAC checks two snapshots entry-wise. Entries absent on one side
// count as zero: the incremental path may keep structurally present zero
// entries that a fresh build never creates.
func compareAC(t *testing.T, got, want map[[2]int]complex128, tol float64) {
	t.Helper()
	keys := make(map[[2]int]bool)
	for k := range got {
		keys[k] = true
	}
	for k := range want {
		keys[k] = true
	}
	for k := range keys {
		if d := cmplx.Abs(got[k] - want[k]); d > tol {
			t.Errorf("entry (%d,%d): got %v, want %v (|Δ|=%g)", k[0], k[1], got[k], want[k], d)
		}
	}
}

func TestIncrementalUpdatesMatchRebuild(t *testing.T) {
	n := fourBusNetwork(t)
	adm, err := n.Admittance()
	if err != nil {
		t.Fatalf("Admittance: %v", err)
	}

	// A mutation sequence touching every incremental entry point.
	if err := n.SetBranchStatus("line2-4", false); err != nil {
		t.Fatalf("SetBranchStatus: %v", err)
	}
	if err := n.SetBranchParameters("line1-3", model.BranchPatch{X: f(0.12), TapRatio: f(1.05)}); err != nil {
		t.Fatalf("SetBranchParameters: %v", err)
	}
	if err := n.SetBusShunt("bus3", 0.01, -0.05); err != nil {
		t.Fatalf("SetBusShunt: %v", err)
	}
	if err := n.SetBranchStatus("line2-4", true); err != nil {
		t.Fatalf("SetBranchStatus: %v", err)
	}
	shifted := model.NewBranch("shifter2-3", 1, 2)
	shifted.R, shifted.X, shifted.PhaseShift = 0.005, 0.04, 0.05
	if err := n.AddBranch(shifted); err != nil {
		t.Fatalf("AddBranch: %v", err)
	}

	fresh, err := adm.Rebuild()
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	compareAC(t, snapshotAC(adm), snapshotAC(fresh), 1e-12)

	gotDC, wantDC := snapshotDC(adm), snapshotDC(fresh)
	for k, want := range wantDC {
		if d := math.Abs(gotDC[k] - want); d > 1e-12 {
			t.Errorf("dc entry (%d,%d): got %v, want %v", k[0], k[1], gotDC[k], want)
		}
	}
	for i := 0; i < adm.Size(); i++ {
		if d := math.Abs(adm.DCInjection(i) - fresh.DCInjection(i)); d > 1e-12 {
			t.Errorf("dc injection at bus %d: got %v, want %v", i, adm.DCInjection(i), fresh.DCInjection(i))
		}
	}
}

func TestPostBuildBranchIsFullyMutable(t *testing.T) {
	n := fourBusNetwork(t)
	adm, err := n.Admittance()
	if err != nil {
		t.Fatalf("Admittance: %v", err)
	}

	// A branch the model first sees after its initial build must support
	// the whole mutation surface, not just its own addition.
	late := model.NewBranch("late1-4", 0, 3)
	late.R, late.X = 0.02, 0.09
	if err := n.AddBranch(late); err != nil {
		t.Fatalf("AddBranch: %v", err)
	}

	if err := n.SetBranchStatus("late1-4", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := n.SetBranchStatus("late1-4", true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if err := n.SetBranchParameters("late1-4", model.BranchPatch{X: f(0.07), PhaseShift: f(0.02)}); err != nil {
		t.Fatalf("SetBranchParameters: %v", err)
	}

	fresh, err := adm.Rebuild()
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	compareAC(t, snapshotAC(adm), snapshotAC(fresh), 1e-12)

	gotDC, wantDC := snapshotDC(adm), snapshotDC(fresh)
	for k, want := range wantDC {
		if d := math.Abs(gotDC[k] - want); d > 1e-12 {
			t.Errorf("dc entry (%d,%d): got %v, want %v", k[0], k[1], gotDC[k], want)
		}
	}
	for i := 0; i < adm.Size(); i++ {
		if d := math.Abs(adm.DCInjection(i) - fresh.DCInjection(i)); d > 1e-12 {
			t.Errorf("dc injection at bus %d: got %v, want %v", i, adm.DCInjection(i), fresh.DCInjection(i))
		}
	}
}

func TestBranchOutageRestoreIsExact(t *testing.T) {
	n := fourBusNetwork(t)
	adm, err := n.Admittance()
	if err != nil {
		t.Fatalf("Admittance: %v", err)
	}

	before := snapshotAC(adm)
	beforeDC := snapshotDC(adm)

	if err := n.SetBranchStatus("line1-3", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := n.SetBranchStatus("line1-3", true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}

	after := snapshotAC(adm)
	for k, want := range before {
		if after[k] != want {
			t.Errorf("AC entry (%d,%d) not restored exactly: got %v, want %v", k[0], k[1], after[k], want)
		}
	}
	afterDC := snapshotDC(adm)
	for k, want := range beforeDC {
		if afterDC[k] != want {
			t.Errorf("DC entry (%d,%d) not restored exactly: got %v, want %v", k[0], k[1], afterDC[k], want)
		}
	}
}

func TestRedundantStatusChangeIsNoop(t *testing.T) {
	n := fourBusNetwork(t)
	adm, err := n.Admittance()
	if err != nil {
		t.Fatalf("Admittance: %v", err)
	}
	before := snapshotAC(adm)

	if err := n.SetBranchStatus("line1-2", true); err != nil {
		t.Fatalf("SetBranchStatus: %v", err)
	}
	after := snapshotAC(adm)
	for k, want := range before {
		if after[k] != want {
			t.Errorf("entry (%d,%d) changed by redundant status set", k[0], k[1])
		}
	}
}

func TestBranchTermsTapAndShift(t *testing.T) {
	n := NewNetwork()
	for _, label := range []string{"a", "b"} {
		if err := n.AddBus(model.NewBus(label)); err != nil {
			t.Fatalf("AddBus: %v", err)
		}
	}
	br := model.NewBranch("xfmr", 0, 1)
	br.R, br.X = 0.01, 0.1
	br.ChargingB = 0.04
	br.TapRatio = 1.05
	br.PhaseShift = 0.1
	if err := n.AddBranch(br); err != nil {
		t.Fatalf("AddBranch: %v", err)
	}

	adm, err := n.Admittance()
	if err != nil {
		t.Fatalf("Admittance: %v", err)
	}

	y := 1 / complex(0.01, 0.1)
	tap := cmplx.Rect(1.05, 0.1)
	ytt := y + complex(0, 0.02)
	yff := ytt / complex(1.05*1.05, 0)
	yft := -y / cmplx.Conj(tap)
	ytf := -y / tap

	checks := []struct {
		i, j int
		want complex128
	}{
		{0, 0, yff},
		{0, 1, yft},
		{1, 0, ytf},
		{1, 1, ytt},
	}
	for _, c := range checks {
		if d := cmplx.Abs(adm.Entry(c.i, c.j) - c.want); d > 1e-14 {
			t.Errorf("Y(%d,%d) = %v, want %v", c.i, c.j, adm.Entry(c.i, c.j), c.want)
		}
	}

	// DC: b = 1/x with the φ·b pair injected at to, withdrawn at from.
	b := 1 / 0.1
	if d := math.Abs(adm.DCInjection(1) - 0.1*b); d > 1e-14 {
		t.Errorf("DC injection at to = %v, want %v", adm.DCInjection(1), 0.1*b)
	}
	if d := math.Abs(adm.DCInjection(0) + 0.1*b); d > 1e-14 {
		t.Errorf("DC injection at from = %v, want %v", adm.DCInjection(0), -0.1*b)
	}
}

func TestShuntAccumulatesOnSelfTerm(t *testing.T) {
	n := fourBusNetwork(t)
	adm, err := n.Admittance()
	if err != nil {
		t.Fatalf("Admittance: %v", err)
	}

	before := adm.SelfAdmittance(2)
	if err := n.SetBusShunt("bus3", 0.02, 0.3); err != nil {
		t.Fatalf("SetBusShunt: %v", err)
	}
	got := adm.SelfAdmittance(2)
	want := before + complex(0.02, 0.3)
	if d := cmplx.Abs(got - want); d > 1e-14 {
		t.Errorf("self term after shunt = %v, want %v", got, want)
	}

	// Setting the same shunt again must not double-stamp.
	if err := n.SetBusShunt("bus3", 0.02, 0.3); err != nil {
		t.Fatalf("SetBusShunt: %v", err)
	}
	if adm.SelfAdmittance(2) != got {
		t.Errorf("repeated shunt set changed the self term")
	}
}

func TestZeroImpedanceBranchRejected(t *testing.T) {
	n := NewNetwork()
	for _, label := range []string{"a", "b"} {
		if err := n.AddBus(model.NewBus(label)); err != nil {
			t.Fatalf("AddBus: %v", err)
		}
	}
	br := model.NewBranch("bad", 0, 1)
	if err := n.AddBranch(br); !errors.Is(err, ErrZeroImpedance) {
		t.Fatalf("AddBranch zero impedance: got %v, want ErrZeroImpedance", err)
	}
}

func TestSelfLoopRejected(t *testing.T) {
	n := NewNetwork()
	if err := n.AddBus(model.NewBus("a")); err != nil {
		t.Fatalf("AddBus: %v", err)
	}
	br := model.NewBranch("loop", 0, 0)
	br.X = 0.1
	if err := n.AddBranch(br); !errors.Is(err, ErrSelfLoop) {
		t.Fatalf("AddBranch self loop: got %v, want ErrSelfLoop", err)
	}
}
