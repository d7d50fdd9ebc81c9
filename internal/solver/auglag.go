// Package solver ships a general-purpose solver for the convex instances
// produced by the expr package: quadratic objectives with affine equalities
// and second-order-cone inequalities. It runs a Powell-Hestenes-Rockafellar
// augmented Lagrangian method whose inner unconstrained problems are solved
// with gonum's BFGS.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/tubempc/internal/expr"
)

var (
	// ErrInfeasible indicates no point satisfying the constraints was found.
	ErrInfeasible = errors.New("solver: problem infeasible")

	// ErrNotConverged indicates the iteration limit was reached first.
	ErrNotConverged = errors.New("solver: did not converge")
)

// Settings tunes the augmented Lagrangian iteration.
type Settings struct {
	// Tolerance bounds constraint violation and complementarity at the
	// returned point.
	Tolerance float64 `yaml:"tolerance"`
	// Acceptable is the violation still returned without error once MaxOuter
	// is exhausted.
	Acceptable float64 `yaml:"acceptable"`
	// MaxOuter caps multiplier updates.
	MaxOuter int `yaml:"max_outer"`
	// MaxInner caps BFGS iterations per outer step.
	MaxInner int `yaml:"max_inner"`
	// Penalty is the initial penalty parameter.
	Penalty float64 `yaml:"penalty"`
	// Smoothing replaces ‖a‖ by sqrt(‖a‖² + Smoothing²) inside the inner
	// problems.
	Smoothing float64 `yaml:"smoothing"`
}

const maxPenalty = 1e8

// DefaultSettings returns the settings used when none are supplied.
func DefaultSettings() Settings {
	return Settings{
		Tolerance:  1e-6,
		Acceptable: 1e-4,
		MaxOuter:   100,
		MaxInner:   1000,
		Penalty:    10,
		Smoothing:  1e-6,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Tolerance <= 0 {
		s.Tolerance = d.Tolerance
	}
	if s.Acceptable < s.Tolerance {
		s.Acceptable = math.Max(d.Acceptable, s.Tolerance)
	}
	if s.MaxOuter <= 0 {
		s.MaxOuter = d.MaxOuter
	}
	if s.MaxInner <= 0 {
		s.MaxInner = d.MaxInner
	}
	if s.Penalty <= 0 {
		s.Penalty = d.Penalty
	}
	if s.Smoothing <= 0 {
		s.Smoothing = d.Smoothing
	}
	return s
}

// Option customises an AugLag.
type Option func(*AugLag)

// WithSettings overrides the default settings. Zero fields keep defaults.
func WithSettings(s Settings) Option {
	return func(a *AugLag) { a.settings = s.withDefaults() }
}

// WithLogger sets the logger used for per-iteration detail at V(2).
func WithLogger(l logr.Logger) Option {
	return func(a *AugLag) { a.log = l }
}

// AugLag is an expr.Solver. It holds no per-solve state and is safe for
// concurrent use.
type AugLag struct {
	settings Settings
	log      logr.Logger
}

// New returns a solver with default settings.
func New(opts ...Option) *AugLag {
	a := &AugLag{settings: DefaultSettings(), log: logr.Discard()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Settings returns the effective settings.
func (a *AugLag) Settings() Settings { return a.settings }

// Solve implements expr.Solver.
func (a *AugLag) Solve(ctx context.Context, inst *expr.Instance) ([]float64, error) {
	st := a.settings
	eq, ineq, err := a.prune(inst)
	if err != nil {
		return nil, err
	}

	x := make([]float64, inst.Dim)
	if inst.Dim == 0 {
		return x, nil
	}

	l := &lagrangian{
		obj:    inst.Objective,
		eq:     eq,
		ineq:   ineq,
		lam:    make([]float64, len(eq)),
		mu:     make([]float64, len(ineq)),
		rho:    st.Penalty,
		delta2: st.Smoothing * st.Smoothing,
	}

	h := make([]float64, len(eq))
	g := make([]float64, len(ineq))
	prevViol := math.Inf(1)
	var viol float64

	for outer := 0; outer < st.MaxOuter; outer++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := optimize.Minimize(optimize.Problem{
			Func: l.value,
			Grad: l.grad,
			Status: func() (optimize.Status, error) {
				if err := ctx.Err(); err != nil {
					return optimize.Failure, err
				}
				return optimize.NotTerminated, nil
			},
		}, x, &optimize.Settings{
			GradientThreshold: 1e-10,
			MajorIterations:   st.MaxInner,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-14,
				Relative:   1e-14,
				Iterations: 25,
			},
		}, &optimize.BFGS{})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if res == nil {
			return nil, fmt.Errorf("solver: inner minimisation: %w", err)
		}
		if err != nil && !isLinesearch(err) && res.Status != optimize.IterationLimit {
			return nil, fmt.Errorf("solver: inner minimisation: %w", err)
		}
		copy(x, res.X)

		viol = 0
		for i, r := range eq {
			h[i] = r.Eval(x, nil)
			viol = math.Max(viol, math.Abs(h[i]))
		}
		for j, r := range ineq {
			g[j] = r.Eval(x, nil)
			viol = math.Max(viol, g[j])
		}

		var comp float64
		for i := range l.lam {
			l.lam[i] += l.rho * h[i]
		}
		for j := range l.mu {
			l.mu[j] = math.Max(0, l.mu[j]+l.rho*g[j])
			comp = math.Max(comp, math.Abs(math.Min(-g[j], l.mu[j])))
		}

		a.log.V(2).Info("augmented lagrangian step",
			"outer", outer, "violation", viol, "complementarity", comp,
			"penalty", l.rho, "inner", res.MajorIterations, "status", res.Status.String())

		if viol <= st.Tolerance && comp <= st.Tolerance {
			return x, nil
		}
		if viol > 0.25*prevViol && l.rho < maxPenalty {
			l.rho = math.Min(10*l.rho, maxPenalty)
		}
		prevViol = viol
	}

	switch {
	case viol <= st.Acceptable:
		return x, nil
	case l.rho >= maxPenalty:
		return nil, fmt.Errorf("%w: violation %.3g", ErrInfeasible, viol)
	default:
		return nil, fmt.Errorf("%w: violation %.3g after %d iterations", ErrNotConverged, viol, st.MaxOuter)
	}
}

// prune drops rows without decision terms, failing when one of them is
// violated.
func (a *AugLag) prune(inst *expr.Instance) ([]expr.Affine, []expr.Convex, error) {
	tol := a.settings.Tolerance
	var eq []expr.Affine
	for _, r := range inst.Eq {
		if r.IsConst() {
			if math.Abs(r.Const) > tol {
				return nil, nil, fmt.Errorf("%w: constant equality %.3g = 0", ErrInfeasible, r.Const)
			}
			continue
		}
		eq = append(eq, r)
	}
	var ineq []expr.Convex
	for _, r := range inst.Ineq {
		if constant(r) {
			if v := r.Eval(nil, nil); v > tol {
				return nil, nil, fmt.Errorf("%w: constant inequality %.3g <= 0", ErrInfeasible, v)
			}
			continue
		}
		ineq = append(ineq, r)
	}
	return eq, ineq, nil
}

func constant(c expr.Convex) bool {
	if !c.Aff.IsConst() {
		return false
	}
	for _, wn := range c.Norms {
		for _, a := range wn.Norm.Arg {
			if !a.IsConst() {
				return false
			}
		}
	}
	return true
}

func isLinesearch(err error) bool {
	return errors.Is(err, optimize.ErrLinesearcherFailure) ||
		errors.Is(err, optimize.ErrNoProgress) ||
		errors.Is(err, optimize.ErrNonDescentDirection)
}

// lagrangian is the PHR augmented Lagrangian
//
//	f + Σ λh + ρ/2 Σ h² + 1/(2ρ) Σ (max(0, μ + ρg)² - μ²)
//
// with smoothed norms inside g.
type lagrangian struct {
	obj    expr.Quadratic
	eq     []expr.Affine
	ineq   []expr.Convex
	lam    []float64
	mu     []float64
	rho    float64
	delta2 float64
}

func (l *lagrangian) value(x []float64) float64 {
	v := l.obj.Eval(x, nil)
	for i, r := range l.eq {
		h := r.Eval(x, nil)
		v += l.lam[i]*h + 0.5*l.rho*h*h
	}
	for j, r := range l.ineq {
		s := math.Max(0, l.mu[j]+l.rho*l.smooth(r, x))
		v += (s*s - l.mu[j]*l.mu[j]) / (2 * l.rho)
	}
	return v
}

func (l *lagrangian) grad(grad, x []float64) {
	for i := range grad {
		grad[i] = 0
	}
	l.obj.AccumGrad(grad, x, nil, 1)
	for i, r := range l.eq {
		r.AccumGrad(grad, l.lam[i]+l.rho*r.Eval(x, nil))
	}
	for j, r := range l.ineq {
		s := math.Max(0, l.mu[j]+l.rho*l.smooth(r, x))
		if s == 0 {
			continue
		}
		r.Aff.AccumGrad(grad, s)
		for _, wn := range r.Norms {
			arg := wn.Norm.Arg.Eval(x, nil)
			n := math.Sqrt(floats.Dot(arg, arg) + l.delta2)
			for k, ak := range arg {
				if ak != 0 {
					wn.Norm.Arg[k].AccumGrad(grad, s*wn.Weight*ak/n)
				}
			}
		}
	}
}

func (l *lagrangian) smooth(c expr.Convex, x []float64) float64 {
	v := c.Aff.Eval(x, nil)
	for _, wn := range c.Norms {
		arg := wn.Norm.Arg.Eval(x, nil)
		v += wn.Weight * math.Sqrt(floats.Dot(arg, arg)+l.delta2)
	}
	return v
}
