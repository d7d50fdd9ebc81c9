package expr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoSolver indicates Compile was called without a solver.
	ErrNoSolver = errors.New("expr: no solver")

	// ErrNotParameter indicates a decision variable passed as a parameter.
	ErrNotParameter = errors.New("expr: variable is not a parameter")

	// ErrUnknownVar indicates a variable declared by another problem.
	ErrUnknownVar = errors.New("expr: variable not declared by this problem")

	// ErrParameterCount indicates the wrong number of parameter values.
	ErrParameterCount = errors.New("expr: wrong number of parameter values")
)

// Solver solves one numeric instance and returns the decision values.
type Solver interface {
	Solve(ctx context.Context, inst *Instance) ([]float64, error)
}

// Equality is a block of rows constrained to zero.
type Equality struct {
	Name string
	Expr Vec
}

// Eval returns the residual of every row.
func (e *Equality) Eval(dec, par []float64) []float64 { return e.Expr.Eval(dec, par) }

// Inequality is a block of rows constrained to be nonpositive.
type Inequality struct {
	Name string
	Expr []Convex
}

// Eval returns the value of every row.
func (q *Inequality) Eval(dec, par []float64) []float64 {
	out := make([]float64, len(q.Expr))
	for i, c := range q.Expr {
		out[i] = c.Eval(dec, par)
	}
	return out
}

// Problem registers variables, an objective and constraint blocks.
type Problem struct {
	vars      []*Var
	nDec      int
	nPar      int
	objective Quadratic
	eqs       []*Equality
	ineqs     []*Inequality
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{}
}

// Decision declares a rows×cols block of decision variables.
func (p *Problem) Decision(name string, rows, cols int) *Var {
	v := &Var{Name: name, Kind: Decision, Rows: rows, Cols: cols, base: p.nDec}
	p.nDec += rows * cols
	p.vars = append(p.vars, v)
	return v
}

// Parameter declares a rows×cols block of parameters.
func (p *Problem) Parameter(name string, rows, cols int) *Var {
	v := &Var{Name: name, Kind: Parameter, Rows: rows, Cols: cols, base: p.nPar}
	p.nPar += rows * cols
	p.vars = append(p.vars, v)
	return v
}

// Minimize sets the objective.
func (p *Problem) Minimize(q Quadratic) { p.objective = q }

// Objective returns the objective.
func (p *Problem) Objective() Quadratic { return p.objective }

// Equal adds the rows lhs = rhs.
func (p *Problem) Equal(name string, lhs, rhs Vec) *Equality {
	e := &Equality{Name: name, Expr: SubVec(lhs, rhs)}
	p.eqs = append(p.eqs, e)
	return e
}

// LessEq adds the rows lhs <= rhs.
func (p *Problem) LessEq(name string, lhs []Convex, rhs Vec) *Inequality {
	if len(lhs) != len(rhs) {
		panic(fmt.Sprintf("expr: %s has %d left rows and %d right rows", name, len(lhs), len(rhs)))
	}
	rows := make([]Convex, len(lhs))
	for i := range lhs {
		rows[i] = lhs[i].AddAffine(rhs[i].Scale(-1))
	}
	q := &Inequality{Name: name, Expr: rows}
	p.ineqs = append(p.ineqs, q)
	return q
}

// Equalities returns the registered equality blocks.
func (p *Problem) Equalities() []*Equality { return p.eqs }

// Inequalities returns the registered inequality blocks.
func (p *Problem) Inequalities() []*Inequality { return p.ineqs }

// Vars returns the declared variables in declaration order.
func (p *Problem) Vars() []*Var { return p.vars }

func (p *Problem) NumDecisions() int  { return p.nDec }
func (p *Problem) NumParameters() int { return p.nPar }

// Stats counts scalar rows per constraint class.
type Stats struct {
	Decisions    int
	Parameters   int
	Equalities   int
	Inequalities int
	Norms        int
}

// Stats summarises the problem size.
func (p *Problem) Stats() Stats {
	s := Stats{Decisions: p.nDec, Parameters: p.nPar}
	seen := map[*Norm]bool{}
	for _, e := range p.eqs {
		s.Equalities += len(e.Expr)
	}
	for _, q := range p.ineqs {
		s.Inequalities += len(q.Expr)
		for _, c := range q.Expr {
			for _, wn := range c.Norms {
				seen[wn.Norm] = true
			}
		}
	}
	s.Norms = len(seen)
	return s
}

func (p *Problem) owns(v *Var) bool {
	for _, w := range p.vars {
		if w == v {
			return true
		}
	}
	return false
}

// Compile freezes the problem into a parametric solver mapping values of
// params, in order, to the value of out at the optimum. Parameters not listed
// are bound to zero.
func (p *Problem) Compile(params []*Var, out Vec, s Solver) (*Parametric, error) {
	if s == nil {
		return nil, ErrNoSolver
	}
	for _, v := range params {
		if v.Kind != Parameter {
			return nil, fmt.Errorf("%w: %s", ErrNotParameter, v.Name)
		}
		if !p.owns(v) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVar, v.Name)
		}
	}
	return &Parametric{
		problem: p,
		params:  append([]*Var(nil), params...),
		out:     out,
		solver:  s,
	}, nil
}

// Instance is a problem with every parameter bound: minimise Objective over
// Dim decisions subject to Eq = 0 and Ineq <= 0.
type Instance struct {
	Dim       int
	Objective Quadratic
	Eq        []Affine
	Ineq      []Convex
}

// Parametric is a compiled problem. It is safe for concurrent use when its
// Solver is.
type Parametric struct {
	problem *Problem
	params  []*Var
	out     Vec
	solver  Solver
}

// Params returns the parameter order expected by Solve.
func (c *Parametric) Params() []*Var { return c.params }

// Instance binds values and returns the numeric instance together with the
// flat parameter vector.
func (c *Parametric) Instance(values ...[]float64) (*Instance, []float64, error) {
	if len(values) != len(c.params) {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrParameterCount, len(values), len(c.params))
	}
	par := make([]float64, c.problem.nPar)
	for i, v := range c.params {
		if len(values[i]) != v.Size() {
			return nil, nil, fmt.Errorf("%w: %s has %d values, want %d", ErrParameterCount, v.Name, len(values[i]), v.Size())
		}
		copy(par[v.base:v.base+v.Size()], values[i])
	}

	b := binder{par: par, norms: map[*Norm]*Norm{}}
	inst := &Instance{Dim: c.problem.nDec, Objective: b.quadratic(c.problem.objective)}
	for _, e := range c.problem.eqs {
		inst.Eq = append(inst.Eq, e.Expr.Bind(par)...)
	}
	for _, q := range c.problem.ineqs {
		for _, cv := range q.Expr {
			inst.Ineq = append(inst.Ineq, b.convex(cv))
		}
	}
	return inst, par, nil
}

// Solve binds values, solves and evaluates the output expression.
func (c *Parametric) Solve(ctx context.Context, values ...[]float64) ([]float64, error) {
	out, _, err := c.SolveFull(ctx, values...)
	return out, err
}

// SolveFull is Solve that also returns the decision vector.
func (c *Parametric) SolveFull(ctx context.Context, values ...[]float64) ([]float64, []float64, error) {
	inst, par, err := c.Instance(values...)
	if err != nil {
		return nil, nil, err
	}
	dec, err := c.solver.Solve(ctx, inst)
	if err != nil {
		return nil, nil, err
	}
	return c.out.Eval(dec, par), dec, nil
}

type binder struct {
	par   []float64
	norms map[*Norm]*Norm
}

func (b binder) norm(n *Norm) *Norm {
	if bn, ok := b.norms[n]; ok {
		return bn
	}
	bn := &Norm{Arg: n.Arg.Bind(b.par)}
	b.norms[n] = bn
	return bn
}

func (b binder) convex(c Convex) Convex {
	out := Convex{Aff: c.Aff.Bind(b.par)}
	for _, wn := range c.Norms {
		out.Norms = append(out.Norms, Weighted{Weight: wn.Weight, Norm: b.norm(wn.Norm)})
	}
	return out
}

func (b binder) quadratic(q Quadratic) Quadratic {
	out := Quadratic{Lin: q.Lin.Bind(b.par)}
	for _, f := range q.Forms {
		out.Forms = append(out.Forms, Form{Arg: f.Arg.Bind(b.par), M: f.M})
	}
	return out
}
