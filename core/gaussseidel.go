package core

import "math/cmplx"

// gaussSeidel advances the estimate with one in-place sweep per iteration,
// consuming already-updated voltages within the same sweep through the
// admittance model's row links. No factorization is involved, so it
// tolerates networks the direct methods reject, at the cost of far more
// iterations.
type gaussSeidel struct{}

func newGaussSeidel(st *acState) *gaussSeidel { return &gaussSeidel{} }

func (gs *gaussSeidel) step(st *acState, dp, dq []float64) error {
	// st.v was refreshed by the mismatch evaluation immediately before
	// this step; the sweep keeps it current as voltages change.
	for i := range st.v {
		tCol, vCol := st.thetaCol[i], st.vCol[i]
		if tCol == 0 && vCol == 0 {
			continue // slack holds its voltage
		}

		var sum, yii complex128
		st.adm.RowScan(i, func(j int, y complex128) {
			if j == i {
				yii = y
				return
			}
			sum += y * st.v[j]
		})
		if yii == 0 {
			continue // isolated bus, nothing to update
		}

		q := st.qSpec[i]
		if vCol == 0 {
			// Regulated bus: reactive power floats, so use the value the
			// present voltages imply instead of a specified one.
			inj := st.v[i] * cmplx.Conj(sum+yii*st.v[i])
			q = imag(inj)
		}

		s := complex(st.pSpec[i], q)
		vnew := (cmplx.Conj(s/st.v[i]) - sum) / yii

		if vCol == 0 {
			// Rescale onto the setpoint magnitude, keeping the new angle.
			mag := cmplx.Abs(vnew)
			if mag == 0 {
				continue
			}
			vnew = vnew * complex(st.vm[i]/mag, 0)
		}

		st.v[i] = vnew
		st.vm[i] = cmplx.Abs(vnew)
		st.va[i] = cmplx.Phase(vnew)
	}
	return nil
}
