package core

import (
	"fmt"

	"github.com/edp1096/sparse"
)

// fdVariant selects which simplifications go into each decoupled matrix.
type fdVariant int

const (
	// variantXB builds B1 from series reactance alone (resistance, shunt
	// susceptance and tap magnitude ignored) and B2 from the full branch
	// model with phase shift ignored.
	variantXB fdVariant = iota
	// variantBX builds B1 from the series admittance with resistance
	// retained (shunt, tap and charging ignored) and B2 from reactances
	// with shunt, charging and tap retained.
	variantBX
)

// fastDecoupled advances the estimate with alternating P-θ and Q-V half
// iterations. Both matrices are assembled and factored exactly once per
// solve; every iteration reuses the factorization through Solve.
type fastDecoupled struct {
	variant fdVariant

	b1, b2     *sparse.Matrix
	rhs1, rhs2 []float64
	b2Col      []int // bus → 1-based B2 column, 0 when magnitude is fixed

	factorCount int
}

func newFastDecoupled(st *acState, variant fdVariant) (*fastDecoupled, error) {
	fd := &fastDecoupled{
		variant: variant,
		b2Col:   make([]int, len(st.vm)),
	}
	for k, bus := range st.pq {
		fd.b2Col[bus] = k + 1
	}

	if err := fd.assemble(st); err != nil {
		return nil, err
	}
	if fd.b1 != nil {
		if err := fd.b1.Factor(); err != nil {
			return nil, fmt.Errorf("%w: B1: %v", ErrSingularSystem, err)
		}
		fd.factorCount++
	}
	if fd.b2 != nil {
		if err := fd.b2.Factor(); err != nil {
			return nil, fmt.Errorf("%w: B2: %v", ErrSingularSystem, err)
		}
		fd.factorCount++
	}
	return fd, nil
}

func (fd *fastDecoupled) assemble(st *acState) error {
	st.net.mu.RLock()
	defer st.net.mu.RUnlock()

	n1, n2 := len(st.pvpq), len(st.pq)
	if n1 > 0 {
		m, err := sparse.Create(int64(n1), realMatrixConfig())
		if err != nil {
			return fmt.Errorf("create B1: %w", err)
		}
		fd.b1 = m
		fd.rhs1 = make([]float64, n1+1)
	}
	if n2 > 0 {
		m, err := sparse.Create(int64(n2), realMatrixConfig())
		if err != nil {
			return fmt.Errorf("create B2: %w", err)
		}
		fd.b2 = m
		fd.rhs2 = make([]float64, n2+1)
	}

	for _, br := range st.net.branches {
		if !br.InService {
			continue
		}
		f, t := br.From, br.To

		if fd.b1 != nil {
			var b1 float64
			switch fd.variant {
			case variantXB:
				if br.X != 0 {
					b1 = 1.0 / br.X
				}
			case variantBX:
				b1 = br.X / (br.R*br.R + br.X*br.X)
			}
			stampPair(fd.b1, st.thetaCol[f], st.thetaCol[t], b1)
		}

		if fd.b2 != nil {
			r := br.R
			if fd.variant == variantBX {
				r = 0
			}
			tap := br.TapRatio
			if tap == 0 {
				tap = 1.0
			}
			y := 1.0 / complex(r, br.X)
			ytt := y + complex(0, br.ChargingB/2)
			yff := ytt / complex(tap*tap, 0)
			yft := -y / complex(tap, 0)

			addReal(fd.b2, fd.b2Col[f], fd.b2Col[f], -imag(yff))
			addReal(fd.b2, fd.b2Col[t], fd.b2Col[t], -imag(ytt))
			addReal(fd.b2, fd.b2Col[f], fd.b2Col[t], -imag(yft))
			addReal(fd.b2, fd.b2Col[t], fd.b2Col[f], -imag(yft))
		}
	}

	if fd.b2 != nil {
		for i, b := range st.net.buses {
			addReal(fd.b2, fd.b2Col[i], fd.b2Col[i], -b.ShuntB)
		}
	}
	return nil
}

func (fd *fastDecoupled) step(st *acState, dp, dq []float64) error {
	if fd.b1 != nil && len(dp) > 0 {
		for k, bus := range st.pvpq {
			fd.rhs1[st.thetaCol[bus]] = -dp[k] / st.vm[bus]
		}
		dtheta, err := fd.b1.Solve(fd.rhs1)
		if err != nil {
			return fmt.Errorf("B1 solve: %w", err)
		}
		for _, bus := range st.pvpq {
			st.va[bus] += dtheta[st.thetaCol[bus]]
		}
	}

	if fd.b2 != nil && len(dq) > 0 {
		// The Q-V half works against the mismatch at the just-updated
		// angles, not the stale vector from the start of the iteration.
		_, dq, _ = st.mismatch()
		for k, bus := range st.pq {
			fd.rhs2[fd.b2Col[bus]] = -dq[k] / st.vm[bus]
		}
		dv, err := fd.b2.Solve(fd.rhs2)
		if err != nil {
			return fmt.Errorf("B2 solve: %w", err)
		}
		for _, bus := range st.pq {
			st.vm[bus] += dv[fd.b2Col[bus]]
		}
	}
	return nil
}

func realMatrixConfig() *sparse.Configuration {
	return &sparse.Configuration{
		Real:           true,
		Expandable:     true,
		Translate:      false,
		TiesMultiplier: 5,
		PrinterWidth:   80,
	}
}

// stampPair stamps a two-terminal susceptance: +b on both diagonals, -b on
// both off-diagonals. Positions equal to zero are fixed and dropped.
func stampPair(m *sparse.Matrix, pf, pt int, b float64) {
	addReal(m, pf, pf, b)
	addReal(m, pt, pt, b)
	addReal(m, pf, pt, -b)
	addReal(m, pt, pf, -b)
}

func addReal(m *sparse.Matrix, row, col int, v float64) {
	if row == 0 || col == 0 {
		return
	}
	m.GetElement(int64(row), int64(col)).Real += v
}
