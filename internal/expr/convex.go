package expr

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Norm is the Euclidean norm of an affine vector. Norms are compared by
// identity, so a Norm shared between expressions is one symbolic quantity.
type Norm struct {
	Arg Vec
}

// NewNorm returns ‖arg‖₂.
func NewNorm(arg Vec) *Norm {
	return &Norm{Arg: arg}
}

// Eval evaluates the norm.
func (n *Norm) Eval(dec, par []float64) float64 {
	return floats.Norm(n.Arg.Eval(dec, par), 2)
}

// Weighted is a nonnegative multiple of a norm.
type Weighted struct {
	Weight float64
	Norm   *Norm
}

// Convex is Aff + Σ Weight·‖Norm‖ with nonnegative weights, kept in order of
// first appearance.
type Convex struct {
	Aff   Affine
	Norms []Weighted
}

// AddNorm returns c + w·n. Zero weights are dropped and repeated norms are
// merged into one entry.
func (c Convex) AddNorm(w float64, n *Norm) Convex {
	if w == 0 {
		return c
	}
	if w < 0 || math.IsNaN(w) {
		panic("expr: negative norm weight breaks convexity")
	}
	out := Convex{Aff: c.Aff, Norms: make([]Weighted, len(c.Norms), len(c.Norms)+1)}
	copy(out.Norms, c.Norms)
	for i := range out.Norms {
		if out.Norms[i].Norm == n {
			out.Norms[i].Weight += w
			return out
		}
	}
	out.Norms = append(out.Norms, Weighted{Weight: w, Norm: n})
	return out
}

// Add returns c + o.
func (c Convex) Add(o Convex) Convex {
	out := Convex{Aff: c.Aff.Add(o.Aff), Norms: c.Norms}
	for _, wn := range o.Norms {
		out = out.AddNorm(wn.Weight, wn.Norm)
	}
	return out
}

// AddAffine returns c + a.
func (c Convex) AddAffine(a Affine) Convex {
	return Convex{Aff: c.Aff.Add(a), Norms: c.Norms}
}

// Scale returns s·c for s >= 0.
func (c Convex) Scale(s float64) Convex {
	if s == 0 {
		return Convex{}
	}
	out := Convex{Aff: c.Aff.Scale(s)}
	for _, wn := range c.Norms {
		out = out.AddNorm(s*wn.Weight, wn.Norm)
	}
	return out
}

// IsAffine reports whether c carries no norm terms.
func (c Convex) IsAffine() bool { return len(c.Norms) == 0 }

// Weight returns the weight on n, or zero.
func (c Convex) Weight(n *Norm) float64 {
	for _, wn := range c.Norms {
		if wn.Norm == n {
			return wn.Weight
		}
	}
	return 0
}

// Eval evaluates c.
func (c Convex) Eval(dec, par []float64) float64 {
	v := c.Aff.Eval(dec, par)
	for _, wn := range c.Norms {
		v += wn.Weight * wn.Norm.Eval(dec, par)
	}
	return v
}

// Form is the quadratic form Argᵀ M Arg.
type Form struct {
	Arg Vec
	M   *mat.Dense
}

// Eval evaluates the form.
func (f Form) Eval(dec, par []float64) float64 {
	a := mat.NewVecDense(len(f.Arg), f.Arg.Eval(dec, par))
	return mat.Inner(a, f.M, a)
}

// AccumGrad adds s·∇(Argᵀ M Arg) into grad.
func (f Form) AccumGrad(grad, dec, par []float64, s float64) {
	n := len(f.Arg)
	a := mat.NewVecDense(n, f.Arg.Eval(dec, par))
	var ma, mta mat.VecDense
	ma.MulVec(f.M, a)
	mta.MulVec(f.M.T(), a)
	for i := 0; i < n; i++ {
		if d := ma.AtVec(i) + mta.AtVec(i); d != 0 {
			f.Arg[i].AccumGrad(grad, s*d)
		}
	}
}

// Quadratic is Σ forms + Lin.
type Quadratic struct {
	Forms []Form
	Lin   Affine
}

// AddForm returns q + argᵀ m arg.
func (q Quadratic) AddForm(arg Vec, m *mat.Dense) Quadratic {
	forms := make([]Form, len(q.Forms), len(q.Forms)+1)
	copy(forms, q.Forms)
	return Quadratic{Forms: append(forms, Form{Arg: arg, M: m}), Lin: q.Lin}
}

// AddLinear returns q + a.
func (q Quadratic) AddLinear(a Affine) Quadratic {
	return Quadratic{Forms: q.Forms, Lin: q.Lin.Add(a)}
}

// Eval evaluates q.
func (q Quadratic) Eval(dec, par []float64) float64 {
	v := q.Lin.Eval(dec, par)
	for _, f := range q.Forms {
		v += f.Eval(dec, par)
	}
	return v
}

// AccumGrad adds s·∇q into grad.
func (q Quadratic) AccumGrad(grad, dec, par []float64, s float64) {
	q.Lin.AccumGrad(grad, s)
	for _, f := range q.Forms {
		f.AccumGrad(grad, dec, par, s)
	}
}
