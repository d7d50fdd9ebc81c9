package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/config"
	"github.com/san-kum/tubempc/internal/experiment"
	"github.com/san-kum/tubempc/internal/mpc"
	"github.com/san-kum/tubempc/internal/optim"
	"github.com/san-kum/tubempc/internal/sim"
	"github.com/san-kum/tubempc/internal/solver"
	"github.com/san-kum/tubempc/internal/store"
	"github.com/san-kum/tubempc/internal/tui"
)

// setup loads the configuration and prepares a tube experiment reporting
// into reg.
func setup(cmd *cobra.Command, reg *prometheus.Registry, tubeOnly bool) (*experiment.Experiment, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if tubeOnly {
		cfg.Controller = "tube"
	}
	log, cleanup, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	exp := experiment.New(cfg,
		experiment.WithLogger(log),
		experiment.WithMetrics(solver.NewMetrics(reg)),
	)
	if err := exp.Setup(cmd.Context()); err != nil {
		cleanup()
		return nil, nil, err
	}
	return exp, cleanup, nil
}

func inspect(cmd *cobra.Command, args []string) error {
	exp, cleanup, err := setup(cmd, prometheus.NewRegistry(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	c := exp.Compiled()
	fmt.Printf("%s  horizon=%d tracking=%v soft=%v unconstrained=%v\n\n",
		exp.Config().Name, c.Horizon, c.Tracking, c.Soft, c.Unconstrained)

	fmt.Println("decay:")
	for i, d := range c.Decay {
		fmt.Printf("  %d  %.6g\n", i, d)
	}

	fmt.Println("\ncoefficients:")
	fmt.Printf("%v\n", mat.Formatted(c.Coefficients, mat.Prefix("  "), mat.Squeeze()))

	for row, f := range c.Tensor {
		fmt.Printf("\ntensor row %d:\n", row)
		fmt.Printf("%v\n", mat.Formatted(f, mat.Prefix("  "), mat.Squeeze()))
	}

	st := c.Problem.Stats()
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DECISIONS\tPARAMETERS\tEQUALITIES\tINEQUALITIES\tNORMS")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", st.Decisions, st.Parameters, st.Equalities, st.Inequalities, st.Norms)
	return w.Flush()
}

func solveOnce(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	exp, cleanup, err := setup(cmd, reg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	c := exp.Compiled()
	x0, err := exp.InitState()
	if err != nil {
		return err
	}

	var plan *mpc.Plan
	if c.Tracking {
		plan, err = c.PlanTracking(cmd.Context(), x0, constantReference(c, exp.SimConfig().Reference))
	} else {
		plan, err = c.Plan(cmd.Context(), x0)
	}
	if err != nil {
		return err
	}

	fmt.Printf("u0 = %s\n\n", formatVec(plan.U0))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := "K\tX\tV"
	if plan.Slack != nil {
		header += "\tSLACK"
	}
	fmt.Fprintln(w, header)
	for k, x := range plan.States {
		row := fmt.Sprintf("%d\t%s", k, formatVec(x))
		if k < len(plan.Perturbations) {
			row += "\t" + formatVec(plan.Perturbations[k])
			if plan.Slack != nil {
				row += "\t" + formatVec(plan.Slack[k])
			}
		}
		fmt.Fprintln(w, row)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return printSolverSummary(reg)
}

// constantReference repeats r over the horizon of c.
func constantReference(c *mpc.Controller, r []float64) *mat.Dense {
	nr := c.Dims().R
	ref := mat.NewDense(nr, c.Horizon, nil)
	for k := 0; k < c.Horizon; k++ {
		for i := 0; i < nr && i < len(r); i++ {
			ref.Set(i, k, r[i])
		}
	}
	return ref
}

func runSimulation(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	exp, cleanup, err := setup(cmd, reg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := exp.Config()
	st := store.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	fmt.Printf("running %s with %s controller...\n", cfg.Name, cfg.Controller)
	start := time.Now()

	var results []*sim.Result
	if cfg.Sim.Runs > 1 {
		results, err = exp.RunEnsemble(cmd.Context())
	} else {
		var res *sim.Result
		res, err = exp.Run(cmd.Context())
		results = []*sim.Result{res}
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("completed in %v\n\n", elapsed)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSEED\tSTEPS\tEFFORT\tVIOLATIONS\tPEAK\tCOST")
	for i, res := range results {
		meta := store.RunMetadata{
			Preset:     cfg.Name,
			Controller: cfg.Controller,
			Horizon:    cfg.Horizon,
			Soft:       cfg.Constraints != nil && cfg.Constraints.Soft,
			Seed:       cfg.Sim.Seed + int64(i),
			Dt:         cfg.Sim.Dt,
		}
		runID, err := st.Save(meta, res)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\t%.2f%%\t%+.4f\t%.4f\n",
			runID, meta.Seed, res.StepsTaken,
			res.Metrics["control_effort"],
			100*res.Metrics["violation_rate"],
			res.Metrics["peak_constraint"],
			res.Metrics["stage_cost"])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(results) > 1 {
		fmt.Printf("\nensemble of %d runs:\n", len(results))
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "METRIC\tMEAN\tSTDDEV\tMIN\tMAX")
		summary := sim.Summarize(results)
		names := make([]string, 0, len(summary))
		for name := range summary {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := summary[name]
			fmt.Fprintf(w, "%s\t%.4g\t%.4g\t%.4g\t%.4g\n", name, s.Mean, s.StdDev, s.Min, s.Max)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return printSolverSummary(reg)
}

func runLive(cmd *cobra.Command, args []string) error {
	if replayRun != "" {
		st := store.New(dataDir)
		meta, err := st.Load(replayRun)
		if err != nil {
			return err
		}
		tr, err := st.LoadStates(replayRun)
		if err != nil {
			return err
		}
		res := tr.Result(meta)
		return tui.Run(cmd.Context(), meta.ID, tui.Replay(res), len(res.Controls))
	}

	exp, cleanup, err := setup(cmd, prometheus.NewRegistry(), false)
	if err != nil {
		return err
	}
	defer cleanup()

	x0, err := exp.InitState()
	if err != nil {
		return err
	}
	cfg := exp.Config()
	source := tui.Live(cmd.Context(), exp.GetSimulator(), exp.Plant(), x0, exp.SimConfig())
	return tui.Run(cmd.Context(), fmt.Sprintf("%s/%s", cfg.Name, cfg.Controller), source, cfg.Sim.Steps)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if len(sweepSpecs) == 0 {
		return fmt.Errorf("at least one --param is required")
	}
	names := make([]string, 0, len(sweepSpecs))
	ranges := make([][]float64, 0, len(sweepSpecs))
	for _, spec := range sweepSpecs {
		name, vals, err := parseParam(spec)
		if err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, vals)
	}
	grid, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}

	base, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, cleanup, err := newLogger(base)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	m := solver.NewMetrics(reg)
	run := func(ctx context.Context, cfg *config.Config) (*sim.Result, error) {
		exp := experiment.New(cfg, experiment.WithLogger(log), experiment.WithMetrics(m))
		if err := exp.Setup(ctx); err != nil {
			return nil, err
		}
		return exp.Run(ctx)
	}

	fmt.Printf("sweeping %d configurations of %s...\n\n", grid.Size(), base.Name)
	best, trials, err := grid.Search(cmd.Context(), base, run, metricName)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(names, "\t"))+"\t"+strings.ToUpper(metricName))
	for _, t := range trials {
		cols := make([]string, 0, len(names)+1)
		for _, name := range names {
			cols = append(cols, strconv.FormatFloat(t.Params[name], 'g', -1, 64))
		}
		if t.Err != nil {
			cols = append(cols, "error: "+t.Err.Error())
		} else {
			cols = append(cols, fmt.Sprintf("%.6g", t.Metrics[metricName]))
		}
		fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if best == nil {
		fmt.Println("\nno configuration completed")
	} else {
		fmt.Printf("\nbest: %v  %s=%.6g\n", best.Params, metricName, best.Metrics[metricName])
	}
	return printSolverSummary(reg)
}

func parseParam(spec string) (string, []float64, error) {
	name, list, ok := strings.Cut(spec, "=")
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("invalid --param %q, want name=v1,v2", spec)
	}
	var vals []float64
	for _, s := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid --param %q: %w", spec, err)
		}
		vals = append(vals, v)
	}
	return name, vals, nil
}

// printSolverSummary prints the solve counters and latency gathered in reg.
func printSolverSummary(reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}

	fmt.Println("\nsolver:")
	for _, mf := range families {
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			for _, m := range mf.GetMetric() {
				fmt.Printf("  %s{%s} %.0f\n", mf.GetName(), labels(m), m.GetCounter().GetValue())
			}
		case dto.MetricType_HISTOGRAM:
			for _, m := range mf.GetMetric() {
				h := m.GetHistogram()
				mean := 0.0
				if n := h.GetSampleCount(); n > 0 {
					mean = h.GetSampleSum() / float64(n)
				}
				fmt.Printf("  %s count=%d mean=%s\n", mf.GetName(), h.GetSampleCount(),
					time.Duration(mean*float64(time.Second)).Round(time.Microsecond))
			}
		}
	}
	return nil
}

func labels(m *dto.Metric) string {
	parts := make([]string, 0, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return strings.Join(parts, ",")
}

func formatVec(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'f', 4, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
