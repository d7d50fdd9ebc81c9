package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Ensemble runs seeded copies of a simulation concurrently. Every run shares
// the base simulator's plant, controller and disturbance, so those must be
// safe for concurrent use. Metrics are created per run by the factory.
type Ensemble struct {
	base      *Simulator
	metrics   func() []Metric
	numRuns   int
	seedStart int64
}

func NewEnsemble(s *Simulator, numRuns int, seedStart int64, metrics func() []Metric) *Ensemble {
	return &Ensemble{base: s, metrics: metrics, numRuns: numRuns, seedStart: seedStart}
}

// Run executes the runs with seeds seedStart, seedStart+1, ... The first
// failing run cancels the rest.
func (e *Ensemble) Run(ctx context.Context, x0 State, cfg Config) ([]*Result, error) {
	if e.numRuns < 1 {
		return nil, fmt.Errorf("ensemble needs at least one run, got %d", e.numRuns)
	}
	if err := e.base.validateConfig(x0, cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Result, e.numRuns)
	errs := make([]error, e.numRuns)

	var wg sync.WaitGroup
	for i := 0; i < e.numRuns; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			runCfg := cfg
			runCfg.Seed = e.seedStart + int64(idx)

			sim := New(e.base.plant, e.base.controller, e.base.disturbance)
			if e.metrics != nil {
				for _, m := range e.metrics() {
					sim.AddMetric(m)
				}
			}

			res, err := sim.Run(ctx, x0, runCfg)
			results[idx] = res
			if err != nil {
				errs[idx] = fmt.Errorf("run %d (seed %d): %w", idx, runCfg.Seed, err)
				cancel()
			}
		}(i)
	}

	wg.Wait()

	// Runs canceled because another one failed only add noise.
	var failed []error
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		for _, err := range errs {
			if err != nil {
				failed = append(failed, err)
			}
		}
	}
	if len(failed) > 0 {
		return results, errors.Join(failed...)
	}
	return results, nil
}

// Summary describes one metric over an ensemble.
type Summary struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize aggregates every metric present in all results.
func Summarize(results []*Result) map[string]Summary {
	if len(results) == 0 {
		return nil
	}

	names := make([]string, 0, len(results[0].Metrics))
	for name := range results[0].Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]Summary, len(names))
	vals := make([]float64, 0, len(results))
	for _, name := range names {
		vals = vals[:0]
		for _, r := range results {
			v, ok := r.Metrics[name]
			if !ok {
				break
			}
			vals = append(vals, v)
		}
		if len(vals) != len(results) {
			continue
		}
		mean, std := stat.MeanStdDev(vals, nil)
		if len(vals) == 1 {
			std = 0
		}
		out[name] = Summary{Mean: mean, StdDev: std, Min: floats.Min(vals), Max: floats.Max(vals)}
	}
	return out
}
