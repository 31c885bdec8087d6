package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveSolveRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSolverCollector(reg)
	if err != nil {
		t.Fatalf("NewSolverCollector: %v", err)
	}

	collector.ObserveSolve("newton-raphson", true, 4)
	collector.ObserveSolve("newton-raphson", true, 5)
	collector.ObserveSolve("gauss-seidel", false, 500)

	if got := testutil.ToFloat64(collector.Solves.WithLabelValues("newton-raphson", "converged")); got != 2 {
		t.Fatalf("powerflow_solves_total{newton-raphson,converged} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Solves.WithLabelValues("gauss-seidel", "unconverged")); got != 1 {
		t.Fatalf("powerflow_solves_total{gauss-seidel,unconverged} = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "powerflow_solve_iterations", map[string]string{
		"method": "newton-raphson",
	}); count != 2 {
		t.Fatalf("powerflow_solve_iterations sample_count = %d, want 2", count)
	}
}

func TestDuplicateRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSolverCollector(reg)
	if err != nil {
		t.Fatalf("NewSolverCollector: %v", err)
	}
	second, err := NewSolverCollector(reg)
	if err != nil {
		t.Fatalf("NewSolverCollector (second): %v", err)
	}

	first.ObserveSolve("dc", true, 0)
	second.ObserveSolve("dc", true, 0)

	if got := testutil.ToFloat64(first.Solves.WithLabelValues("dc", "converged")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestMetricsHandlerExposesNetworkGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSolverCollector(reg)
	if err != nil {
		t.Fatalf("NewSolverCollector: %v", err)
	}
	collector.SetNetworkCounts(14, 20, 5)
	collector.ObserveSolve("fast-decoupled-xb", true, 7)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"powerflow_solves_total",
		"powerflow_solve_iterations",
		"network_buses",
		"network_branches",
		"network_generators",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, "14") || !strings.Contains(body, "20") {
		t.Fatalf("/metrics output missing network gauge values: %s", body)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
