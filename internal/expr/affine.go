// Package expr is a small symbolic layer for convex horizon problems:
// matrix-shaped decision and parameter variables, affine expressions over
// them, Euclidean norms of affine vectors, nonnegative combinations of those
// norms and quadratic objectives. A Problem collects them and compiles into a
// Parametric solver that binds parameter values and hands one numeric
// Instance to a Solver.
package expr

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Kind tells decision variables from parameters.
type Kind int

const (
	Decision Kind = iota
	Parameter
)

func (k Kind) String() string {
	if k == Parameter {
		return "parameter"
	}
	return "decision"
}

// Term is a single coefficient on one scalar slot of a variable.
type Term struct {
	Kind  Kind
	Index int
	Coef  float64
}

// Affine is Σ Coef·slot + Const. Terms are kept sorted by (Kind, Index)
// without duplicates or exact zero coefficients.
type Affine struct {
	Terms []Term
	Const float64
}

// Const returns the constant affine expression c.
func Const(c float64) Affine {
	return Affine{Const: c}
}

// Add returns a + b.
func (a Affine) Add(b Affine) Affine {
	terms := make([]Term, 0, len(a.Terms)+len(b.Terms))
	terms = append(terms, a.Terms...)
	terms = append(terms, b.Terms...)
	return Affine{Terms: normalize(terms), Const: a.Const + b.Const}
}

// Sub returns a - b.
func (a Affine) Sub(b Affine) Affine {
	return a.Add(b.Scale(-1))
}

// Scale returns s·a.
func (a Affine) Scale(s float64) Affine {
	if s == 0 {
		return Affine{}
	}
	terms := make([]Term, len(a.Terms))
	for i, t := range a.Terms {
		terms[i] = Term{Kind: t.Kind, Index: t.Index, Coef: s * t.Coef}
	}
	return Affine{Terms: normalize(terms), Const: s * a.Const}
}

// Plus returns a + c.
func (a Affine) Plus(c float64) Affine {
	return Affine{Terms: a.Terms, Const: a.Const + c}
}

// IsZero reports whether a is identically zero.
func (a Affine) IsZero() bool {
	return len(a.Terms) == 0 && a.Const == 0
}

// IsConst reports whether a has no variable terms.
func (a Affine) IsConst() bool {
	return len(a.Terms) == 0
}

// Eval evaluates a. par may be nil when a has no parameter terms.
func (a Affine) Eval(dec, par []float64) float64 {
	v := a.Const
	for _, t := range a.Terms {
		switch t.Kind {
		case Decision:
			v += t.Coef * dec[t.Index]
		case Parameter:
			v += t.Coef * par[t.Index]
		}
	}
	return v
}

// Bind substitutes parameter values, leaving only decision terms.
func (a Affine) Bind(par []float64) Affine {
	out := Affine{Const: a.Const}
	for _, t := range a.Terms {
		if t.Kind == Parameter {
			out.Const += t.Coef * par[t.Index]
			continue
		}
		out.Terms = append(out.Terms, t)
	}
	return out
}

// AccumGrad adds s·∂a/∂dec into grad.
func (a Affine) AccumGrad(grad []float64, s float64) {
	for _, t := range a.Terms {
		if t.Kind == Decision {
			grad[t.Index] += s * t.Coef
		}
	}
}

func normalize(terms []Term) []Term {
	if len(terms) == 0 {
		return nil
	}
	slices.SortStableFunc(terms, func(x, y Term) int {
		if c := cmp.Compare(x.Kind, y.Kind); c != 0 {
			return c
		}
		return cmp.Compare(x.Index, y.Index)
	})
	out := terms[:0]
	for _, t := range terms {
		if n := len(out); n > 0 && out[n-1].Kind == t.Kind && out[n-1].Index == t.Index {
			out[n-1].Coef += t.Coef
			continue
		}
		out = append(out, t)
	}
	kept := out[:0]
	for _, t := range out {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// Vec is a column of affine expressions.
type Vec []Affine

// ConstVec lifts a numeric vector.
func ConstVec(v mat.Vector) Vec {
	out := make(Vec, v.Len())
	for i := range out {
		out[i] = Const(v.AtVec(i))
	}
	return out
}

// Zeros returns n zero expressions.
func Zeros(n int) Vec {
	return make(Vec, n)
}

// MulVec returns m·v. It panics with mat.ErrShape when the column count of m
// differs from len(v).
func MulVec(m mat.Matrix, v Vec) Vec {
	r, c := m.Dims()
	if c != len(v) {
		panic(mat.ErrShape)
	}
	out := make(Vec, r)
	for i := 0; i < r; i++ {
		var acc Affine
		for j := 0; j < c; j++ {
			if w := m.At(i, j); w != 0 {
				acc = acc.Add(v[j].Scale(w))
			}
		}
		out[i] = acc
	}
	return out
}

// AddVec returns a + b.
func AddVec(a, b Vec) Vec {
	if len(a) != len(b) {
		panic(mat.ErrShape)
	}
	out := make(Vec, len(a))
	for i := range a {
		out[i] = a[i].Add(b[i])
	}
	return out
}

// SubVec returns a - b.
func SubVec(a, b Vec) Vec {
	if len(a) != len(b) {
		panic(mat.ErrShape)
	}
	out := make(Vec, len(a))
	for i := range a {
		out[i] = a[i].Sub(b[i])
	}
	return out
}

// Eval evaluates every row.
func (v Vec) Eval(dec, par []float64) []float64 {
	out := make([]float64, len(v))
	for i, a := range v {
		out[i] = a.Eval(dec, par)
	}
	return out
}

// Bind substitutes parameter values in every row.
func (v Vec) Bind(par []float64) Vec {
	out := make(Vec, len(v))
	for i, a := range v {
		out[i] = a.Bind(par)
	}
	return out
}

// IsZero reports whether every row is identically zero.
func (v Vec) IsZero() bool {
	for _, a := range v {
		if !a.IsZero() {
			return false
		}
	}
	return true
}
