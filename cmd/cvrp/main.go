// Command cvrp solves one instance file with branch-and-cut and prints the
// routes. It exits non-zero when loading, formulating or solving fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"cvrpbc/internal/config"
	"cvrpbc/internal/cvrp"
	"cvrpbc/internal/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.WithError(err).Error("solve failed")
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cvrp", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "YAML or TOML config file")
	instance := fs.String("instance", "", "instance file (default <instanceDir>/<defaultInstance>)")
	timeLimit := fs.Duration("time-limit", 0, "search time limit (default from config)")
	cutBound := fs.String("cut-bound", "", "capacity cut right-hand side: rounded or fractional")
	noLazy := fs.Bool("no-lazy", false, "do not separate capacity cuts lazily")
	noWarm := fs.Bool("no-warm-start", false, "skip the heuristic warm start")
	seed := fs.Int64("seed", 0, "warm start random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	closer, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	path := *instance
	if path == "" {
		path = cfg.InstancePath()
	}
	inst, err := cvrp.LoadFile(path)
	if err != nil {
		return err
	}

	sc := cvrp.DefaultSolveConfig()
	sc.TimeLimit = cfg.Solver.TimeLimit
	sc.LazyConstraints = cfg.Solver.LazyConstraints && !*noLazy
	sc.Options.SingleCustomerRoutes = cfg.Solver.SingleCustomerRoutes
	sc.WarmStart = cfg.Solver.WarmStart && !*noWarm
	sc.WarmStartBudget = cfg.Solver.WarmStartBudget
	sc.MaxNodes = cfg.Solver.MaxNodes
	sc.Seed = *seed
	if *timeLimit > 0 {
		sc.TimeLimit = *timeLimit
	}
	bound := cfg.Solver.CutBound
	if *cutBound != "" {
		bound = *cutBound
	}
	if sc.Options.CutBound, err = cvrp.ParseCutBound(bound); err != nil {
		return err
	}
	logger := log.WithField("instance", inst.Name)
	sc.Logger = logger
	sc.OnIncumbent = func(p cvrp.Progress) {
		logger.WithFields(log.Fields{"cost": p.TotalCost, "vehicles": p.Vehicles, "bound": p.Bound, "nodes": p.Nodes}).Info("incumbent")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.WithFields(log.Fields{"size": inst.Size, "capacity": inst.Capacity, "time_limit": sc.TimeLimit}).Info("solving")
	sol, err := cvrp.BuildAndSolve(ctx, inst, sc)
	if err != nil {
		return err
	}
	printSolution(out, inst, sol)
	return nil
}

func printSolution(w io.Writer, inst *cvrp.Instance, sol *cvrp.Solution) {
	fmt.Fprintf(w, "instance %s: %d customers, capacity %g\n", inst.Name, inst.Customers(), inst.Capacity)
	for i, r := range sol.Routes {
		stops := make([]string, 0, len(r.Customers)+2)
		stops = append(stops, "0")
		for _, c := range r.Customers {
			stops = append(stops, fmt.Sprint(c))
		}
		stops = append(stops, "0")
		fmt.Fprintf(w, "route %d: %s (demand %g, cost %g)\n", i+1, strings.Join(stops, " -> "), r.Demand, r.Cost)
	}
	fmt.Fprintf(w, "total cost: %g\n", sol.TotalCost)
	fmt.Fprintf(w, "vehicles: %d\n", sol.Vehicles)
	fmt.Fprintf(w, "status: %s (bound %g, %d nodes, %d lazy cuts, %s)\n",
		sol.Status, sol.Bound, sol.Stats.Nodes, sol.Stats.LazyCuts, sol.Stats.Runtime.Round(time.Millisecond))
}
