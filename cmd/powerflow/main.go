package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/gridflow/core"
	"github.com/signalsfoundry/gridflow/internal/logging"
	"github.com/signalsfoundry/gridflow/internal/observability"
	"github.com/signalsfoundry/gridflow/model"
	"github.com/signalsfoundry/gridflow/timectrl"
)

func main() {
	casePath := flag.String("case", "configs/case4.json", "path to a JSON power-flow case")
	methodName := flag.String("method", "newton-raphson", "solve method: newton-raphson|fast-decoupled-xb|fast-decoupled-bx|gauss-seidel|dc")
	tolerance := flag.Float64("tolerance", 1e-8, "convergence tolerance in per-unit mismatch")
	maxIter := flag.Int("max-iter", 20, "iteration bound before giving up")
	flatStart := flag.Bool("flat-start", false, "start from 1.0 pu / 0 rad instead of the case voltages")
	qLimits := flag.Bool("q-limits", false, "enforce generator reactive limits after convergence")
	interval := flag.Duration("interval", 0, "re-solve period; 0 solves once and exits")
	metricsListen := flag.String("metrics-listen", "", "address for a /metrics endpoint (e.g. :9090); empty disables")

	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	method, err := model.ParseMethod(*methodName)
	if err != nil {
		panic(err)
	}

	net := core.NewNetwork()
	net.SetLogger(log)

	f, err := os.Open(*casePath)
	if err != nil {
		panic(fmt.Errorf("failed to open case %q: %w", *casePath, err))
	}
	summary, err := core.LoadCase(net, f)
	f.Close()
	if err != nil {
		panic(fmt.Errorf("failed to load case: %w", err))
	}
	fmt.Printf("Loaded case: %d buses, %d branches, %d generators, slack=%q\n",
		len(summary.BusLabels), len(summary.BranchLabels), len(summary.GeneratorLabels), summary.Slack)

	collector, err := observability.NewSolverCollector(nil)
	if err != nil {
		panic(fmt.Errorf("failed to set up metrics: %w", err))
	}
	collector.SetNetworkCounts(net.NumBuses(), net.NumBranches(), net.NumGenerators())

	if *metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsListen, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
			}
		}()
		fmt.Printf("Serving metrics on %s/metrics\n", *metricsListen)
	}

	opts := core.SolveOptions{
		Method:         method,
		Tolerance:      *tolerance,
		MaxIterations:  *maxIter,
		FlatStart:      *flatStart,
		EnforceQLimits: *qLimits,
		Logger:         log,
		Recorder:       collector,
	}

	solveAndPrint(ctx, net, opts)

	if *interval <= 0 {
		return
	}

	// Quasi-steady-state mode: keep re-solving on a fixed period until
	// interrupted, picking up whatever mutations an operator applied.
	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl := timectrl.NewController(time.Now(), *interval, timectrl.RealTime)
	ctrl.AddListener(func(ts time.Time) {
		fmt.Printf("Re-solving at %s\n", ts.Format(time.RFC3339))
		solveAndPrint(runCtx, net, opts)
	})
	<-ctrl.Run(runCtx, 0)
	fmt.Println("Shutting down.")
}

func solveAndPrint(ctx context.Context, net *core.Network, opts core.SolveOptions) {
	res, err := core.Solve(ctx, net, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "solve failed: %v\n", err)
		return
	}

	switch {
	case res.DC != nil:
		fmt.Printf("DC solve complete (slack bus %d)\n", res.DC.SlackBus)
		for i, ang := range res.DC.Angles {
			fmt.Printf("↳ Bus %-12s θ=%9.5f rad\n", net.BusByIndex(i).Label, ang)
		}
	case res.AC != nil:
		ac := res.AC
		fmt.Printf("AC solve: state=%s iterations=%d", ac.State, ac.Iterations)
		if len(ac.MismatchHistory) > 0 {
			fmt.Printf(" final-mismatch=%.3e", ac.MismatchHistory[len(ac.MismatchHistory)-1])
		}
		fmt.Println()
		if ac.SlackReassigned {
			fmt.Printf("Slack reassigned to bus %d during reactive-limit enforcement\n", ac.SlackBus)
		}
		for i := range ac.VoltageMag {
			b := net.BusByIndex(i)
			fmt.Printf("↳ Bus %-12s %-5s V=%7.5f pu θ=%9.5f rad\n",
				b.Label, b.Type, ac.VoltageMag[i], ac.VoltageAng[i])
		}
	}

	flows, err := net.BranchFlows()
	if err != nil {
		fmt.Fprintf(os.Stderr, "branch flows: %v\n", err)
		return
	}
	for _, fl := range flows {
		fmt.Printf("↳ Branch %-12s from P=%8.4f Q=%8.4f | to P=%8.4f Q=%8.4f | loss=%7.4f\n",
			fl.Label, fl.FromP, fl.FromQ, fl.ToP, fl.ToQ, fl.LossP())
	}

	gens, err := net.GeneratorOutputs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generator outputs: %v\n", err)
		return
	}
	for _, g := range gens {
		fmt.Printf("↳ Gen %-12s bus=%d P=%8.4f Q=%8.4f\n", g.Label, g.Bus, g.P, g.Q)
	}
}
