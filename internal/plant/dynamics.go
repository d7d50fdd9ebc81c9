package plant

import "gonum.org/v1/gonum/mat"

// Step advances the true plant one sample:
// x+ = A x + B u + Br r + Bw w. r is ignored when not tracking and w may be
// nil for a nominal step.
func (c *Config) Step(x, u, r, w []float64) []float64 {
	next := mat.NewVecDense(c.dims.X, nil)
	next.MulVec(c.model.A, mat.NewVecDense(c.dims.X, clone(x)))

	var tmp mat.VecDense
	tmp.MulVec(c.model.B, mat.NewVecDense(c.dims.U, clone(u)))
	next.AddVec(next, &tmp)

	if c.ref != nil && len(r) == c.dims.R && c.dims.R > 0 {
		tmp.Reset()
		tmp.MulVec(c.ref.Br, mat.NewVecDense(c.dims.R, clone(r)))
		next.AddVec(next, &tmp)
	}
	if len(w) == c.dims.W && c.dims.W > 0 {
		tmp.Reset()
		tmp.MulVec(c.dist.Bw, mat.NewVecDense(c.dims.W, clone(w)))
		next.AddVec(next, &tmp)
	}
	return next.RawVector().Data
}

// Output returns y = C x + D u + Dr r.
func (c *Config) Output(x, u, r []float64) []float64 {
	y := mat.NewVecDense(c.dims.Y, nil)
	y.MulVec(c.model.C, mat.NewVecDense(c.dims.X, clone(x)))

	var tmp mat.VecDense
	tmp.MulVec(c.model.D, mat.NewVecDense(c.dims.U, clone(u)))
	y.AddVec(y, &tmp)

	if c.ref != nil && len(r) == c.dims.R && c.dims.R > 0 {
		tmp.Reset()
		tmp.MulVec(c.ref.Dr, mat.NewVecDense(c.dims.R, clone(r)))
		y.AddVec(y, &tmp)
	}
	return y.RawVector().Data
}

// Constraint evaluates F x + G u + Offset row by row. It returns nil when
// the configuration is unconstrained.
func (c *Config) Constraint(x, u []float64) []float64 {
	if c.cons == nil {
		return nil
	}
	nc := c.cons.Rows()
	g := mat.NewVecDense(nc, nil)
	g.MulVec(c.cons.F, mat.NewVecDense(c.dims.X, clone(x)))

	var tmp mat.VecDense
	tmp.MulVec(c.cons.G, mat.NewVecDense(c.dims.U, clone(u)))
	g.AddVec(g, &tmp)
	g.AddVec(g, c.cons.Offset)
	return g.RawVector().Data
}

// Control evaluates u = -K x - Kr r + v. r is ignored when Kr is nil and v
// may be nil.
func (p Primary) Control(x, r, v []float64) []float64 {
	nu, nx := p.K.Dims()
	u := mat.NewVecDense(nu, nil)
	u.MulVec(p.K, mat.NewVecDense(nx, clone(x)))
	u.ScaleVec(-1, u)

	if p.Kr != nil {
		_, nr := p.Kr.Dims()
		if nr > 0 && len(r) == nr {
			var tmp mat.VecDense
			tmp.MulVec(p.Kr, mat.NewVecDense(nr, clone(r)))
			u.SubVec(u, &tmp)
		}
	}
	if len(v) == nu {
		u.AddVec(u, mat.NewVecDense(nu, clone(v)))
	}
	return u.RawVector().Data
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
