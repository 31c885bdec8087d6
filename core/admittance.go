package core

import (
	"fmt"
	"math/cmplx"

	"github.com/edp1096/sparse"

	"github.com/signalsfoundry/gridflow/model"
)

// branchQuad caches the four nodal terms a branch contributes to the AC
// matrix, the matching DC susceptance terms, and the stamp targets inside
// the sparse matrices. The element pointers stay valid for the life of the
// model because the owned matrices are never factored or reordered, which
// makes deactivation/reactivation a constant-time sign reversal.
type branchQuad struct {
	Yff, Yft, Ytf, Ytt complex128

	eff, eft, etf, ett *sparse.Element // AC stamp targets
	dff, dft, dtf, dtt *sparse.Element // DC stamp targets

	b     float64 // DC series susceptance 1/x (0 when x == 0)
	shift float64 // DC phase-shift injection φ·b at the to bus

	stamped bool // terms currently added into the matrices
}

// AdmittanceModel is the derived nodal admittance state: the complex AC
// Y-bus, the real DC susceptance matrix with its phase-shift injection
// vector, and the per-branch term caches that make incremental updates
// possible. It is owned by the network; solvers get read-only access.
//
// Both sparse matrices are storage only — they are never factored, so
// entry positions and element pointers are stable. Solvers that need a
// factorization copy the pattern into a working matrix first.
type AdmittanceModel struct {
	n int

	ac *sparse.Matrix
	dc *sparse.Matrix

	// dcInjection holds the accumulated phase-shift injections, one per
	// bus: +φ·b at the to bus, −φ·b at the from bus of every in-service
	// shifted branch.
	dcInjection []float64

	quads  []*branchQuad
	acDiag []*sparse.Element
	dcDiag []*sparse.Element

	// stampedG/stampedB track the shunt currently folded into each bus
	// self-term, so a shunt change is a delta, not a rebuild.
	stampedG []float64
	stampedB []float64

	buses []*model.Bus

	// branches is the model's own registry, grown by BranchAdded. It is
	// deliberately not the network's slice: append there can reallocate,
	// and the model must keep seeing branches added after the build.
	branches []*model.Branch
}

// BuildAdmittanceModel runs the one full pass over the branch set. After
// this, every mutation goes through the incremental entry points below and
// must leave the matrices equal to what a fresh build would produce.
func BuildAdmittanceModel(buses []*model.Bus, branches []*model.Branch) (*AdmittanceModel, error) {
	n := len(buses)
	if n == 0 {
		return nil, ErrNoBuses
	}

	acCfg := &sparse.Configuration{
		Real:           true,
		Complex:        true,
		Expandable:     true,
		Translate:      false,
		TiesMultiplier: 5,
		PrinterWidth:   80,
	}
	ac, err := sparse.Create(int64(n), acCfg)
	if err != nil {
		return nil, fmt.Errorf("creating AC matrix: %w", err)
	}

	dcCfg := &sparse.Configuration{
		Real:           true,
		Complex:        false,
		Expandable:     true,
		Translate:      false,
		TiesMultiplier: 5,
		PrinterWidth:   80,
	}
	dc, err := sparse.Create(int64(n), dcCfg)
	if err != nil {
		return nil, fmt.Errorf("creating DC matrix: %w", err)
	}

	am := &AdmittanceModel{
		n:           n,
		ac:          ac,
		dc:          dc,
		dcInjection: make([]float64, n),
		acDiag:      make([]*sparse.Element, n),
		dcDiag:      make([]*sparse.Element, n),
		stampedG:    make([]float64, n),
		stampedB:    make([]float64, n),
		buses:       buses,
	}

	// Diagonals exist for every bus even when nothing connects to it, so
	// shunt stamps and matrix-vector products always have a target.
	for i := 0; i < n; i++ {
		am.acDiag[i] = ac.GetElement(int64(i+1), int64(i+1))
		am.dcDiag[i] = dc.GetElement(int64(i+1), int64(i+1))
	}

	for _, br := range branches {
		if err := am.BranchAdded(br); err != nil {
			return nil, err
		}
	}

	for i, b := range buses {
		am.ShuntChanged(i, b.ShuntG, b.ShuntB)
	}

	// Row links let Gauss-Seidel sweep rows in place; elements created
	// later keep the links current.
	ac.LinkRows()

	return am, nil
}

// Size returns the bus count N of the N×N matrices.
func (am *AdmittanceModel) Size() int { return am.n }

// branchTerms computes the unified-model quad for a branch:
//
//	Ytt = y + j·bc/2, Yff = Ytt/(τ²), Yft = −y/conj(t), Ytf = −y/t
//
// with y = 1/(r+jx) and t = τ·e^{jφ} (τ defaults to 1). The DC terms use
// b = 1/x, ignoring resistance and charging.
func branchTerms(br *model.Branch) (yff, yft, ytf, ytt complex128, b, shift float64, err error) {
	if br.R == 0 && br.X == 0 {
		err = fmt.Errorf("%w: branch %q", ErrZeroImpedance, br.Label)
		return
	}
	y := 1 / complex(br.R, br.X)
	tau := br.TapRatio
	if tau == 0 {
		tau = 1
	}
	t := cmplx.Rect(tau, br.PhaseShift)

	ytt = y + complex(0, br.ChargingB/2)
	yff = ytt / complex(tau*tau, 0)
	yft = -y / cmplx.Conj(t)
	ytf = -y / t

	if br.X != 0 {
		b = 1 / br.X
	}
	shift = br.PhaseShift * b
	return
}

// BranchAdded registers a new branch with the model, creating its matrix
// entries and stamping it when in service. Branches must be registered in
// index order.
func (am *AdmittanceModel) BranchAdded(br *model.Branch) error {
	if br.Index != len(am.quads) {
		return fmt.Errorf("branch %q registered out of order (index %d, expected %d)",
			br.Label, br.Index, len(am.quads))
	}

	yff, yft, ytf, ytt, b, shift, err := branchTerms(br)
	if err != nil {
		return err
	}

	f, t := int64(br.From+1), int64(br.To+1)
	q := &branchQuad{
		Yff: yff, Yft: yft, Ytf: ytf, Ytt: ytt,
		b: b, shift: shift,

		eff: am.ac.GetElement(f, f),
		eft: am.ac.GetElement(f, t),
		etf: am.ac.GetElement(t, f),
		ett: am.ac.GetElement(t, t),

		dff: am.dc.GetElement(f, f),
		dft: am.dc.GetElement(f, t),
		dtf: am.dc.GetElement(t, f),
		dtt: am.dc.GetElement(t, t),
	}
	am.quads = append(am.quads, q)
	am.branches = append(am.branches, br)

	if br.InService {
		am.applyQuad(br, q, +1)
	}
	return nil
}

// BranchStatusChanged reverses (or restores) a branch's cached terms in
// place. Out-of-service terms are subtracted, not removed, so reactivation
// with unchanged parameters restores the matrices exactly.
func (am *AdmittanceModel) BranchStatusChanged(idx int, inService bool) {
	q := am.quads[idx]
	if q.stamped == inService {
		return
	}
	if inService {
		am.applyQuad(am.branches[idx], q, +1)
	} else {
		am.applyQuad(am.branches[idx], q, -1)
	}
}

// BranchParametersChanged recomputes a branch's cached terms after its
// electrical parameters changed. For an in-service branch the old terms
// are backed out first and the new ones stamped in.
func (am *AdmittanceModel) BranchParametersChanged(idx int) error {
	br := am.branches[idx]
	q := am.quads[idx]

	yff, yft, ytf, ytt, b, shift, err := branchTerms(br)
	if err != nil {
		return err
	}

	wasStamped := q.stamped
	if wasStamped {
		am.applyQuad(br, q, -1)
	}
	q.Yff, q.Yft, q.Ytf, q.Ytt = yff, yft, ytf, ytt
	q.b, q.shift = b, shift
	if wasStamped {
		am.applyQuad(br, q, +1)
	}
	return nil
}

// ShuntChanged folds the difference between the bus's new shunt and the
// currently stamped one into the bus self-term.
func (am *AdmittanceModel) ShuntChanged(idx int, shuntG, shuntB float64) {
	d := am.acDiag[idx]
	d.Real += shuntG - am.stampedG[idx]
	d.Imag += shuntB - am.stampedB[idx]
	am.stampedG[idx] = shuntG
	am.stampedB[idx] = shuntB
}

// applyQuad adds (sign=+1) or backs out (sign=−1) a branch's cached terms.
func (am *AdmittanceModel) applyQuad(br *model.Branch, q *branchQuad, sign float64) {
	q.eff.Real += sign * real(q.Yff)
	q.eff.Imag += sign * imag(q.Yff)
	q.eft.Real += sign * real(q.Yft)
	q.eft.Imag += sign * imag(q.Yft)
	q.etf.Real += sign * real(q.Ytf)
	q.etf.Imag += sign * imag(q.Ytf)
	q.ett.Real += sign * real(q.Ytt)
	q.ett.Imag += sign * imag(q.Ytt)

	q.dff.Real += sign * q.b
	q.dtt.Real += sign * q.b
	q.dft.Real -= sign * q.b
	q.dtf.Real -= sign * q.b

	am.dcInjection[br.To] += sign * q.shift
	am.dcInjection[br.From] -= sign * q.shift

	q.stamped = sign > 0
}

// Rebuild constructs a fresh model from the same bus/branch state. It is
// the reference the incremental path is measured against: after any
// mutation sequence the two must agree entry for entry.
func (am *AdmittanceModel) Rebuild() (*AdmittanceModel, error) {
	return BuildAdmittanceModel(am.buses, am.branches)
}

//
// ---------- Read access for solvers and tests ----------
//

// Entry returns the AC matrix entry at (i, j), or zero when no element
// exists there. It never creates fill.
func (am *AdmittanceModel) Entry(i, j int) complex128 {
	for e := am.ac.FirstInCol[j+1]; e != nil; e = e.NextInCol {
		if e.Row == int64(i+1) {
			return complex(e.Real, e.Imag)
		}
	}
	return 0
}

// SelfAdmittance returns the AC diagonal term Y_ii.
func (am *AdmittanceModel) SelfAdmittance(i int) complex128 {
	d := am.acDiag[i]
	return complex(d.Real, d.Imag)
}

// BranchTerms exposes a branch's cached quad (Yff, Yft, Ytf, Ytt) so flow
// calculations can reuse it without touching the matrix.
func (am *AdmittanceModel) BranchTerms(idx int) (yff, yft, ytf, ytt complex128) {
	q := am.quads[idx]
	return q.Yff, q.Yft, q.Ytf, q.Ytt
}

// CurrentInjections computes I = Y·V into out. Both slices are indexed by
// dense bus index and must have length Size().
func (am *AdmittanceModel) CurrentInjections(v []complex128, out []complex128) {
	for i := range out {
		out[i] = 0
	}
	for j := 1; j <= am.n; j++ {
		vj := v[j-1]
		if vj == 0 {
			continue
		}
		for e := am.ac.FirstInCol[int64(j)]; e != nil; e = e.NextInCol {
			out[e.Row-1] += complex(e.Real, e.Imag) * vj
		}
	}
}

// RowScan calls fn for every AC entry in row i, including the diagonal.
func (am *AdmittanceModel) RowScan(i int, fn func(j int, y complex128)) {
	for e := am.ac.FirstInRow[int64(i+1)]; e != nil; e = e.NextInRow {
		fn(int(e.Col)-1, complex(e.Real, e.Imag))
	}
}

// ForEachACEntry calls fn for every stored AC entry, in column order.
func (am *AdmittanceModel) ForEachACEntry(fn func(i, j int, y complex128)) {
	for j := 1; j <= am.n; j++ {
		for e := am.ac.FirstInCol[int64(j)]; e != nil; e = e.NextInCol {
			fn(int(e.Row)-1, j-1, complex(e.Real, e.Imag))
		}
	}
}

// ForEachDCEntry calls fn for every stored DC entry, in column order.
func (am *AdmittanceModel) ForEachDCEntry(fn func(i, j int, v float64)) {
	for j := 1; j <= am.n; j++ {
		for e := am.dc.FirstInCol[int64(j)]; e != nil; e = e.NextInCol {
			fn(int(e.Row)-1, j-1, e.Real)
		}
	}
}

// DCInjection returns the phase-shift injection at bus i.
func (am *AdmittanceModel) DCInjection(i int) float64 { return am.dcInjection[i] }
