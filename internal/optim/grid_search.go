// Package optim sweeps configuration parameters over a grid and ranks the
// closed-loop runs by a metric.
package optim

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/tubempc/internal/config"
	"github.com/san-kum/tubempc/internal/sim"
)

// Setters lists the parameters a grid may vary.
var Setters = map[string]func(*config.Config, float64) error{
	"horizon": func(c *config.Config, v float64) error {
		if v != math.Trunc(v) {
			return fmt.Errorf("horizon must be an integer, got %g", v)
		}
		c.Horizon = int(v)
		return nil
	},
	"slack_weight": func(c *config.Config, v float64) error {
		if c.Constraints == nil {
			return fmt.Errorf("slack_weight needs a constraint set")
		}
		c.Constraints.Soft = true
		c.Constraints.SlackWeight = v
		return nil
	},
	"disturbance_scale": func(c *config.Config, v float64) error {
		c.Sim.DisturbanceScale = v
		return nil
	},
	"seed": func(c *config.Config, v float64) error {
		c.Sim.Seed = int64(v)
		return nil
	},
}

// Runner executes one configured experiment.
type Runner func(ctx context.Context, cfg *config.Config) (*sim.Result, error)

// Trial is one grid point. Err is set when the run failed, for example
// because the tightened problem was infeasible.
type Trial struct {
	Params  map[string]float64
	Metrics map[string]float64
	Err     error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("optim: %d parameters but %d ranges", len(params), len(ranges))
	}
	for i, name := range params {
		if _, ok := Setters[name]; !ok {
			return nil, fmt.Errorf("optim: unknown parameter %q", name)
		}
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("optim: empty range for %q", name)
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Size is the number of grid points.
func (g *GridSearch) Size() int {
	n := 1
	for _, r := range g.ranges {
		n *= len(r)
	}
	return n
}

// Search runs every grid point on a copy of base and returns the point with
// the smallest value of metricName among the successful runs, together with
// all trials in grid order. best is nil when every run failed.
func (g *GridSearch) Search(
	ctx context.Context,
	base *config.Config,
	run Runner,
	metricName string,
) (best *Trial, trials []Trial, err error) {

	bestVal := math.Inf(1)
	err = g.searchRecursive(ctx, 0, make(map[string]float64), base, run, func(t Trial) {
		trials = append(trials, t)
		if t.Err != nil {
			return
		}
		val, ok := t.Metrics[metricName]
		if !ok {
			return
		}
		if best == nil || val < bestVal {
			bestVal = val
			tt := t
			best = &tt
		}
	})
	if err != nil {
		return nil, trials, err
	}
	return best, trials, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	base *config.Config,
	run Runner,
	record func(Trial),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if depth == len(g.paramNames) {
		cfg := base.Clone()
		params := make(map[string]float64, len(current))
		for k, v := range current {
			params[k] = v
		}

		names := make([]string, 0, len(params))
		for k := range params {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := Setters[name](cfg, params[name]); err != nil {
				record(Trial{Params: params, Err: err})
				return nil
			}
		}

		result, err := run(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			record(Trial{Params: params, Err: err})
			return nil
		}
		record(Trial{Params: params, Metrics: result.Metrics})
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[paramName] = val
		if err := g.searchRecursive(ctx, depth+1, current, base, run, record); err != nil {
			return err
		}
	}
	delete(current, paramName)
	return nil
}
