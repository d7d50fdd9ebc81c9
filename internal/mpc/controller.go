package mpc

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/expr"
	"github.com/san-kum/tubempc/internal/plant"
	"github.com/san-kum/tubempc/internal/tube"
)

// Vars holds the variables of a horizon problem.
type Vars struct {
	// X0 is the initial-state parameter (nx x 1).
	X0 *expr.Var
	// X holds the predicted states x_1 .. x_N (nx x N).
	X *expr.Var
	// V holds the perturbations v_0 .. v_{N-1} (nu x N).
	V *expr.Var
	// Ref is the reference trajectory parameter (nr x N), nil when not
	// tracking.
	Ref *expr.Var
	// Slack is nil unless constraints are soft (nc x N).
	Slack *expr.Var
}

// State returns x_k, k in [0, N]. x_0 is the initial-state parameter.
func (v *Vars) State(k int) expr.Vec {
	if k == 0 {
		return v.X0.Col(0)
	}
	return v.X.Col(k - 1)
}

// Input returns v_k.
func (v *Vars) Input(k int) expr.Vec { return v.V.Col(k) }

// Reference returns r_k, or nil when not tracking.
func (v *Vars) Reference(k int) expr.Vec {
	if v.Ref == nil {
		return nil
	}
	return v.Ref.Col(k)
}

// Controller is a compiled tube controller. The problem it holds is never
// modified after generation, so Solve and SolveTracking may be called
// concurrently when the underlying solver allows it.
type Controller struct {
	Horizon       int
	Tracking      bool
	Unconstrained bool
	Soft          bool

	Decay        []float64
	Coefficients *mat.TriDense
	Tensor       tube.Tensor
	// Phi holds the per-step sensitivity norms and Tightening the convex
	// bound per [constraint row][step]. Both are nil when unconstrained.
	Phi        []*expr.Norm
	Tightening [][]expr.Convex

	Objective   expr.Quadratic
	Dynamics    *expr.Equality
	Tightened   *expr.Inequality
	SlackBounds *expr.Inequality
	Vars        Vars
	Problem     *expr.Problem

	Primary plant.Primary

	dims     plant.Dims
	compiled *expr.Parametric
}

// Plan is the optimal predicted trajectory behind a control action.
type Plan struct {
	// U0 is the control action to apply.
	U0 []float64
	// States holds x_0 .. x_N.
	States [][]float64
	// Perturbations holds v_0 .. v_{N-1}.
	Perturbations [][]float64
	// Slack holds s_0 .. s_{N-1} for soft controllers.
	Slack [][]float64
}

// Solve returns the first control action for initial state x0.
func (c *Controller) Solve(ctx context.Context, x0 []float64) ([]float64, error) {
	if c.Tracking {
		return nil, ErrReferenceRequired
	}
	plan, err := c.plan(ctx, x0, nil)
	if err != nil {
		return nil, err
	}
	return plan.U0, nil
}

// SolveTracking returns the first control action for initial state x0 and a
// reference trajectory ref (nr x N, column k is r_k).
func (c *Controller) SolveTracking(ctx context.Context, x0 []float64, ref mat.Matrix) ([]float64, error) {
	plan, err := c.PlanTracking(ctx, x0, ref)
	if err != nil {
		return nil, err
	}
	return plan.U0, nil
}

// Plan solves without reference and returns the whole predicted trajectory.
func (c *Controller) Plan(ctx context.Context, x0 []float64) (*Plan, error) {
	if c.Tracking {
		return nil, ErrReferenceRequired
	}
	return c.plan(ctx, x0, nil)
}

// PlanTracking is Plan for tracking controllers.
func (c *Controller) PlanTracking(ctx context.Context, x0 []float64, ref mat.Matrix) (*Plan, error) {
	if !c.Tracking {
		return nil, ErrTrackingDisabled
	}
	r, cl := ref.Dims()
	if r != c.dims.R || cl != c.Horizon {
		return nil, &plant.DimensionError{Matrix: "reference", Rows: r, Cols: cl, WantRows: c.dims.R, WantCols: c.Horizon}
	}
	flat := make([]float64, 0, r*cl)
	for k := 0; k < cl; k++ {
		for i := 0; i < r; i++ {
			flat = append(flat, ref.At(i, k))
		}
	}
	return c.plan(ctx, x0, flat)
}

func (c *Controller) plan(ctx context.Context, x0, ref []float64) (*Plan, error) {
	if len(x0) != c.dims.X {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrStateDimension, len(x0), c.dims.X)
	}
	values := [][]float64{x0}
	if ref != nil {
		values = append(values, ref)
	}

	u, dec, err := c.compiled.SolveFull(ctx, values...)
	if err != nil {
		return nil, &SolveError{X0: append([]float64(nil), x0...), Err: err}
	}

	plan := &Plan{U0: u, States: [][]float64{append([]float64(nil), x0...)}}
	for k := 0; k < c.Horizon; k++ {
		plan.States = append(plan.States, c.Vars.X.Value(k, dec))
		plan.Perturbations = append(plan.Perturbations, c.Vars.V.Value(k, dec))
		if c.Vars.Slack != nil {
			plan.Slack = append(plan.Slack, c.Vars.Slack.Value(k, dec))
		}
	}
	return plan, nil
}

// Dims returns the plant dimensions the controller was generated for.
func (c *Controller) Dims() plant.Dims { return c.dims }
