// Package mpc assembles the finite-horizon robust problem of a tube
// controller and compiles it into a Controller mapping the measured state,
// and optionally a reference trajectory, to the next control action.
//
// The predicted input is u_k = -K x_k + v_k - Kr r_k where K and Kr form the
// primary law and v_k are the decision perturbations. Constraints are
// tightened by the convex bounds from the tube package so that they hold for
// every admissible disturbance realisation.
package mpc

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/expr"
	"github.com/san-kum/tubempc/internal/linalg"
	"github.com/san-kum/tubempc/internal/plant"
	"github.com/san-kum/tubempc/internal/tube"
)

// Option customises a Generator.
type Option func(*Generator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// WithSynthesizer sets the synthesizer asked for feedback laws missing from
// a configuration.
func WithSynthesizer(s plant.Synthesizer) Option {
	return func(g *Generator) { g.synth = s }
}

// Generator builds compiled controllers.
type Generator struct {
	solver expr.Solver
	synth  plant.Synthesizer
	log    logr.Logger
}

// NewGenerator returns a generator whose controllers solve with s.
func NewGenerator(s expr.Solver, opts ...Option) *Generator {
	g := &Generator{solver: s, log: logr.Discard()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds the horizon problem for cfg and compiles it.
func (g *Generator) Generate(ctx context.Context, cfg *plant.Config, horizon int) (*Controller, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizon)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	primary, aux, err := cfg.Laws(ctx, g.synth, horizon)
	if err != nil {
		return nil, err
	}

	m := cfg.Model()
	dims := cfg.Dims()
	cons := cfg.Constraints()
	if cons == nil {
		g.log.Info("no constraint set configured, generating an unconstrained controller")
	}

	an := tube.Analyze(m, cfg.Disturbance(), primary, aux, cons, horizon)

	c := &Controller{
		Horizon:       horizon,
		Tracking:      cfg.Tracking(),
		Unconstrained: cons == nil,
		Soft:          cons != nil && cons.Soft,
		Decay:         an.Decay,
		Coefficients:  an.Coefficients,
		Tensor:        an.Tensor,
		Primary:       primary,
		dims:          dims,
	}

	p := expr.NewProblem()
	c.Problem = p
	c.Vars.X0 = p.Parameter("x0", dims.X, 1)
	c.Vars.X = p.Decision("x", dims.X, horizon)
	c.Vars.V = p.Decision("v", dims.U, horizon)
	if c.Tracking {
		c.Vars.Ref = p.Parameter("r", dims.R, horizon)
	}

	c.Objective = objective(c.Vars, primary, horizon)
	lhs, rhs := dynamics(cfg, primary, c.Vars, horizon)
	c.Dynamics = p.Equal("dynamics", lhs, rhs)

	if cons != nil {
		c.Phi, c.Tightening = an.Bound(m, primary, cfg.Reference(), &c.Vars)
		rows := tightened(cons, primary, c.Vars, c.Tightening, horizon)

		bound := expr.Zeros(len(rows))
		if c.Soft {
			c.Vars.Slack = p.Decision("s", dims.C, horizon)
			for k := 0; k < horizon; k++ {
				copy(bound[k*dims.C:(k+1)*dims.C], c.Vars.Slack.Col(k))
			}
			c.Objective = c.Objective.AddLinear(slackPenalty(c.Vars.Slack, cons.Weight()))
			c.SlackBounds = p.LessEq("slack", slackRows(c.Vars.Slack), expr.Zeros(dims.C*horizon))
		}
		c.Tightened = p.LessEq("tightened", rows, bound)
	}
	p.Minimize(c.Objective)

	params := []*expr.Var{c.Vars.X0}
	if c.Tracking {
		params = append(params, c.Vars.Ref)
	}
	c.compiled, err = p.Compile(params, firstInput(primary, c.Vars), g.solver)
	if err != nil {
		return nil, fmt.Errorf("mpc: compile: %w", err)
	}

	st := p.Stats()
	g.log.Info("generated tube controller",
		"horizon", horizon,
		"tracking", c.Tracking,
		"soft", c.Soft,
		"constraints", dims.C,
		"decisions", st.Decisions,
		"norms", st.Norms)
	g.log.V(1).Info("transition decay", "sequence", c.Decay)
	return c, nil
}

// objective is x_0ᵀ P x_0 + Σ v_kᵀ R v_k.
func objective(v Vars, p plant.Primary, horizon int) expr.Quadratic {
	q := expr.Quadratic{}.AddForm(v.State(0), p.P)
	for k := 0; k < horizon; k++ {
		q = q.AddForm(v.Input(k), p.R)
	}
	return q
}

// dynamics returns both sides of
// x_{k+1} = (A - B·K) x_k + B v_k + (Br - B·Kr) r_k for k = 0..horizon-1.
func dynamics(cfg *plant.Config, p plant.Primary, v Vars, horizon int) (lhs, rhs expr.Vec) {
	m := cfg.Model()
	acl := linalg.ClosedLoop(m.A, m.B, p.K)
	var bref *mat.Dense
	if ref := cfg.Reference(); ref != nil {
		bref = linalg.ClosedLoop(ref.Br, m.B, p.Kr)
	}

	for k := 0; k < horizon; k++ {
		next := expr.AddVec(expr.MulVec(acl, v.State(k)), expr.MulVec(m.B, v.Input(k)))
		if bref != nil {
			next = expr.AddVec(next, expr.MulVec(bref, v.Reference(k)))
		}
		lhs = append(lhs, v.State(k+1)...)
		rhs = append(rhs, next...)
	}
	return lhs, rhs
}

// tightened returns (F - G·K) x_k + G v_k + Offset + CapPhi(:, k), stacked
// step-major.
func tightened(cs *plant.ConstraintSet, p plant.Primary, v Vars, capPhi [][]expr.Convex, horizon int) []expr.Convex {
	fcl := linalg.ClosedLoop(cs.F, cs.G, p.K)
	offset := expr.ConstVec(cs.Offset)
	nc := cs.Rows()

	rows := make([]expr.Convex, 0, nc*horizon)
	for k := 0; k < horizon; k++ {
		nominal := expr.AddVec(expr.AddVec(expr.MulVec(fcl, v.State(k)), expr.MulVec(cs.G, v.Input(k))), offset)
		for c := 0; c < nc; c++ {
			rows = append(rows, capPhi[c][k].AddAffine(nominal[c]))
		}
	}
	return rows
}

func slackPenalty(s *expr.Var, w float64) expr.Affine {
	var sum expr.Affine
	for k := 0; k < s.Cols; k++ {
		for c := 0; c < s.Rows; c++ {
			sum = sum.Add(s.At(c, k))
		}
	}
	return sum.Scale(w)
}

// slackRows returns -s_ck, so that -s_ck <= 0, ordered like the tightened
// rows.
func slackRows(s *expr.Var) []expr.Convex {
	rows := make([]expr.Convex, 0, s.Size())
	for k := 0; k < s.Cols; k++ {
		for c := 0; c < s.Rows; c++ {
			rows = append(rows, expr.Convex{Aff: s.At(c, k).Scale(-1)})
		}
	}
	return rows
}

// firstInput is u_0 = -K x_0 + v_0 - Kr r_0.
func firstInput(p plant.Primary, v Vars) expr.Vec {
	u := expr.SubVec(v.Input(0), expr.MulVec(p.K, v.State(0)))
	if v.Ref != nil {
		u = expr.SubVec(u, expr.MulVec(p.Kr, v.Reference(0)))
	}
	return u
}
