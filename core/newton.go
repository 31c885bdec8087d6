package core

import (
	"fmt"
	"math"

	"github.com/edp1096/sparse"
)

// jacStamp ties one admittance entry (i,j) to its up to four Jacobian
// positions. Element pointers are resolved once, before the first
// factorization, and remain valid across pivot reordering, so each
// iteration is a Clear plus pointer writes.
type jacStamp struct {
	i, j int     // dense bus indices
	g, b float64 // admittance entry, fixed for the duration of a solve

	dPdT *sparse.Element // ∂P_i/∂θ_j
	dPdV *sparse.Element // ∂P_i/∂V_j
	dQdT *sparse.Element // ∂Q_i/∂θ_j
	dQdV *sparse.Element // ∂Q_i/∂V_j
}

// newtonSolver advances the estimate with full Newton-Raphson steps in
// polar coordinates. The Jacobian shares the admittance sparsity pattern;
// its working matrix is distinct from the owned admittance matrices, which
// are never factored.
type newtonSolver struct {
	mat    *sparse.Matrix
	stamps []jacStamp
	rhs    []float64
}

func newNewtonSolver(st *acState) (*newtonSolver, error) {
	size := len(st.pvpq) + len(st.pq)
	mat, err := sparse.Create(int64(size), realMatrixConfig())
	if err != nil {
		return nil, fmt.Errorf("create jacobian matrix: %w", err)
	}

	ns := &newtonSolver{mat: mat, rhs: make([]float64, size+1)}

	// The pattern is fixed for the whole solve. Resolving it up front also
	// guarantees every later write goes through a cached pointer.
	st.adm.ForEachACEntry(func(i, j int, y complex128) {
		s := jacStamp{i: i, j: j, g: real(y), b: imag(y)}
		pRow, qRow := st.thetaCol[i], st.vCol[i]
		tCol, vCol := st.thetaCol[j], st.vCol[j]
		if pRow != 0 && tCol != 0 {
			s.dPdT = mat.GetElement(int64(pRow), int64(tCol))
		}
		if pRow != 0 && vCol != 0 {
			s.dPdV = mat.GetElement(int64(pRow), int64(vCol))
		}
		if qRow != 0 && tCol != 0 {
			s.dQdT = mat.GetElement(int64(qRow), int64(tCol))
		}
		if qRow != 0 && vCol != 0 {
			s.dQdV = mat.GetElement(int64(qRow), int64(vCol))
		}
		ns.stamps = append(ns.stamps, s)
	})
	return ns, nil
}

func (ns *newtonSolver) step(st *acState, dp, dq []float64) error {
	ns.mat.Clear()

	for k := range ns.stamps {
		s := &ns.stamps[k]
		i, j := s.i, s.j
		g, b := s.g, s.b
		vi := st.vm[i]

		if i == j {
			if s.dPdT != nil {
				s.dPdT.Real += -st.busQ[i] - b*vi*vi
			}
			if s.dPdV != nil {
				s.dPdV.Real += st.busP[i]/vi + g*vi
			}
			if s.dQdT != nil {
				s.dQdT.Real += st.busP[i] - g*vi*vi
			}
			if s.dQdV != nil {
				s.dQdV.Real += st.busQ[i]/vi - b*vi
			}
			continue
		}

		vj := st.vm[j]
		theta := st.va[i] - st.va[j]
		sin, cos := math.Sincos(theta)
		gs, bc := g*sin, b*cos
		gc, bs := g*cos, b*sin

		if s.dPdT != nil {
			s.dPdT.Real += vi * vj * (gs - bc)
		}
		if s.dPdV != nil {
			s.dPdV.Real += vi * (gc + bs)
		}
		if s.dQdT != nil {
			s.dQdT.Real += -vi * vj * (gc + bs)
		}
		if s.dQdV != nil {
			s.dQdV.Real += vi * (gs - bc)
		}
	}

	for k, bus := range st.pvpq {
		ns.rhs[st.thetaCol[bus]] = -dp[k]
	}
	for k, bus := range st.pq {
		ns.rhs[st.vCol[bus]] = -dq[k]
	}

	if err := ns.mat.Factor(); err != nil {
		return fmt.Errorf("%w: jacobian: %v", ErrSingularSystem, err)
	}
	dx, err := ns.mat.Solve(ns.rhs)
	if err != nil {
		return fmt.Errorf("jacobian solve: %w", err)
	}

	for _, bus := range st.pvpq {
		st.va[bus] += dx[st.thetaCol[bus]]
	}
	for _, bus := range st.pq {
		st.vm[bus] += dx[st.vCol[bus]]
	}
	return nil
}
