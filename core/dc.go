package core

import (
	"context"
	"fmt"

	"github.com/edp1096/sparse"

	"github.com/signalsfoundry/gridflow/internal/logging"
)

// solveDC performs the one-shot linearized solve for voltage angles. The
// owned susceptance matrix is copied into a working matrix so that
// factorization never touches the incrementally maintained model; the
// slack row and column are replaced by a unit diagonal placeholder, which
// keeps the dimension stable and pins the slack angle at zero.
func solveDC(ctx context.Context, net *Network, adm *AdmittanceModel, opts SolveOptions) (*DCSolution, error) {
	net.mu.RLock()
	slack := net.slack
	n := len(net.buses)
	pSpec := make([]float64, n)
	for i, b := range net.buses {
		pSpec[i] = b.SupplyP - b.DemandP
	}
	net.mu.RUnlock()

	mat, err := sparse.Create(int64(n), realMatrixConfig())
	if err != nil {
		return nil, fmt.Errorf("create dc matrix: %w", err)
	}

	adm.ForEachDCEntry(func(i, j int, v float64) {
		if i == slack || j == slack {
			return
		}
		mat.GetElement(int64(i+1), int64(j+1)).Real += v
	})
	mat.GetElement(int64(slack+1), int64(slack+1)).Real = 1.0

	rhs := make([]float64, n+1)
	for i := 0; i < n; i++ {
		if i == slack {
			continue
		}
		rhs[i+1] = pSpec[i] - adm.DCInjection(i)
	}

	if err := mat.Factor(); err != nil {
		return nil, fmt.Errorf("%w: dc susceptance matrix: %v", ErrSingularSystem, err)
	}
	angles, err := mat.Solve(rhs)
	if err != nil {
		return nil, fmt.Errorf("dc solve: %w", err)
	}

	sol := &DCSolution{
		Angles:   make([]float64, n),
		SlackBus: slack,
	}
	for i := 0; i < n; i++ {
		sol.Angles[i] = angles[i+1] + opts.SlackAngleOffset
	}

	net.mu.Lock()
	for i, b := range net.buses {
		b.VoltageAng = sol.Angles[i]
	}
	net.mu.Unlock()

	opts.Logger.Info(ctx, "dc power flow finished",
		logging.Int("buses", n),
		logging.Int("slack_bus", slack))
	return sol, nil
}
