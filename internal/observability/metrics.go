package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SolverCollector bundles Prometheus metrics for the power-flow engine and
// provides a ready-to-use /metrics handler.
type SolverCollector struct {
	gatherer prometheus.Gatherer

	Solves     *prometheus.CounterVec
	Iterations *prometheus.HistogramVec

	NetworkBuses      prometheus.Gauge
	NetworkBranches   prometheus.Gauge
	NetworkGenerators prometheus.Gauge
}

// NewSolverCollector registers solver Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when
// nil.
func NewSolverCollector(reg prometheus.Registerer) (*SolverCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	solves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powerflow_solves_total",
		Help: "Total number of power-flow solves, labeled by method and outcome.",
	}, []string{"method", "outcome"})
	solves, err := registerCounterVec(reg, solves, "powerflow_solves_total")
	if err != nil {
		return nil, err
	}

	iterations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "powerflow_solve_iterations",
		Help:    "Iteration count per power-flow solve.",
		Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20, 50, 100, 500},
	}, []string{"method"})
	iterations, err = registerHistogramVec(reg, iterations, "powerflow_solve_iterations")
	if err != nil {
		return nil, err
	}

	buses, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "network_buses",
		Help: "Current number of buses in the network model.",
	}), "network_buses")
	if err != nil {
		return nil, err
	}
	branches, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "network_branches",
		Help: "Current number of branches in the network model.",
	}), "network_branches")
	if err != nil {
		return nil, err
	}
	generators, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "network_generators",
		Help: "Current number of generators in the network model.",
	}), "network_generators")
	if err != nil {
		return nil, err
	}

	return &SolverCollector{
		gatherer:          gatherer,
		Solves:            solves,
		Iterations:        iterations,
		NetworkBuses:      buses,
		NetworkBranches:   branches,
		NetworkGenerators: generators,
	}, nil
}

// ObserveSolve satisfies the solver's recorder interface so each completed
// solve lands in the counter and the iteration histogram.
func (c *SolverCollector) ObserveSolve(method string, converged bool, iterations int) {
	if c == nil {
		return
	}
	outcome := "converged"
	if !converged {
		outcome = "unconverged"
	}
	if c.Solves != nil {
		c.Solves.WithLabelValues(method, outcome).Inc()
	}
	if c.Iterations != nil {
		c.Iterations.WithLabelValues(method).Observe(float64(iterations))
	}
}

// SetNetworkCounts drives the model-size gauges; callers refresh them
// after mutating the network.
func (c *SolverCollector) SetNetworkCounts(buses, branches, generators int) {
	if c == nil {
		return
	}
	if c.NetworkBuses != nil {
		c.NetworkBuses.Set(float64(buses))
	}
	if c.NetworkBranches != nil {
		c.NetworkBranches.Set(float64(branches))
	}
	if c.NetworkGenerators != nil {
		c.NetworkGenerators.Set(float64(generators))
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SolverCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
