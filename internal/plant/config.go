package plant

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/linalg"
)

// Synthesizer computes feedback laws for a plant. Implementations live
// outside this module; the generator only calls them when a Config does not
// already carry the laws.
type Synthesizer interface {
	// Primary returns the stabilizing law. ref is non-nil when the tracking
	// variant, including a feedforward gain, is required.
	Primary(ctx context.Context, m Model, c Cost, ref *Reference) (Primary, error)
	// Auxiliary returns the finite-horizon gain used to model disturbance
	// decay over the given horizon.
	Auxiliary(ctx context.Context, m Model, c Cost, horizon int) (Auxiliary, error)
}

// Option customises a Config.
type Option func(*Config)

// WithReference enables reference tracking.
func WithReference(ref Reference) Option {
	return func(c *Config) { c.ref = &ref }
}

// WithConstraints attaches a constraint set. Without one the generated
// problem is unconstrained.
func WithConstraints(cs ConstraintSet) Option {
	return func(c *Config) { c.cons = &cs }
}

// WithPrimary supplies a precomputed primary law.
func WithPrimary(p Primary) Option {
	return func(c *Config) { c.primary = &p }
}

// WithAuxiliary supplies a precomputed auxiliary law.
func WithAuxiliary(a Auxiliary) Option {
	return func(c *Config) { c.aux = &a }
}

// Config is a validated plant configuration ready for controller
// generation. It is immutable apart from lazily synthesized feedback laws.
type Config struct {
	model Model
	dist  Disturbance
	cost  Cost
	ref   *Reference
	cons  *ConstraintSet
	dims  Dims

	mu      sync.Mutex
	primary *Primary
	aux     *Auxiliary
}

// NewConfig validates and copies the supplied matrices. The plant model,
// disturbance and cost are mandatory; D may be nil and defaults to zero.
func NewConfig(m Model, w Disturbance, c Cost, opts ...Option) (*Config, error) {
	if m.A == nil || m.B == nil || m.C == nil {
		return nil, ErrMissingModel
	}
	if w.Bw == nil {
		return nil, ErrMissingDisturbance
	}
	if c.Q == nil || c.R == nil {
		return nil, ErrMissingCost
	}

	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	nx, _ := m.A.Dims()
	_, nu := m.B.Dims()
	ny, _ := m.C.Dims()
	_, nw := w.Bw.Dims()
	cfg.dims = Dims{X: nx, U: nu, Y: ny, W: nw}

	if m.D == nil {
		m.D = mat.NewDense(ny, nu, nil)
	}
	cfg.model = Model{A: copyOf(m.A), B: copyOf(m.B), C: copyOf(m.C), D: copyOf(m.D)}
	cfg.dist = Disturbance{Bw: copyOf(w.Bw)}
	cfg.cost = Cost{Q: copyOf(c.Q), R: copyOf(c.R)}

	checks := []struct {
		name string
		m    *mat.Dense
		r, c int
	}{
		{"A", cfg.model.A, nx, nx},
		{"B", cfg.model.B, nx, nu},
		{"C", cfg.model.C, ny, nx},
		{"D", cfg.model.D, ny, nu},
		{"Bw", cfg.dist.Bw, nx, nw},
		{"Q", cfg.cost.Q, nx, nx},
		{"R", cfg.cost.R, nu, nu},
	}
	for _, ck := range checks {
		if err := checkShape(ck.name, ck.m, ck.r, ck.c); err != nil {
			return nil, err
		}
	}

	if cfg.ref != nil {
		if cfg.ref.Br == nil {
			return nil, fmt.Errorf("%w: reference model requires Br", ErrMissingModel)
		}
		_, nr := cfg.ref.Br.Dims()
		cfg.dims.R = nr
		dr := cfg.ref.Dr
		if dr == nil {
			dr = mat.NewDense(ny, nr, nil)
		}
		cfg.ref = &Reference{Br: copyOf(cfg.ref.Br), Dr: copyOf(dr)}
		if err := checkShape("Br", cfg.ref.Br, nx, nr); err != nil {
			return nil, err
		}
		if err := checkShape("Dr", cfg.ref.Dr, ny, nr); err != nil {
			return nil, err
		}
	}

	if cfg.cons != nil {
		cs, err := cfg.checkConstraints(*cfg.cons)
		if err != nil {
			return nil, err
		}
		cfg.cons = cs
		cfg.dims.C = cs.Rows()
	}

	if cfg.primary != nil {
		p, err := cfg.checkPrimary(*cfg.primary)
		if err != nil {
			return nil, err
		}
		cfg.primary = &p
	}
	if cfg.aux != nil {
		a, err := cfg.checkAuxiliary(*cfg.aux)
		if err != nil {
			return nil, err
		}
		cfg.aux = &a
	}

	return cfg, nil
}

func (c *Config) checkConstraints(cs ConstraintSet) (*ConstraintSet, error) {
	if cs.F == nil || cs.Offset == nil {
		return nil, fmt.Errorf("%w: constraint set requires F and Offset", ErrDimensionMismatch)
	}
	nc, _ := cs.F.Dims()
	g := cs.G
	if g == nil {
		g = mat.NewDense(nc, c.dims.U, nil)
	}
	out := &ConstraintSet{
		F:           copyOf(cs.F),
		G:           copyOf(g),
		Offset:      mat.VecDenseCopyOf(cs.Offset),
		Soft:        cs.Soft,
		SlackWeight: cs.SlackWeight,
	}
	if err := checkShape("F", out.F, nc, c.dims.X); err != nil {
		return nil, err
	}
	if err := checkShape("G", out.G, nc, c.dims.U); err != nil {
		return nil, err
	}
	if out.Offset.Len() != nc {
		return nil, &DimensionError{Matrix: "Offset", Rows: out.Offset.Len(), Cols: 1, WantRows: nc, WantCols: 1}
	}
	return out, nil
}

func (c *Config) checkPrimary(p Primary) (Primary, error) {
	if p.K == nil {
		return Primary{}, fmt.Errorf("%w: primary law requires K", ErrNoFeedbackLaw)
	}
	out := Primary{K: copyOf(p.K)}
	if err := checkShape("K", out.K, c.dims.U, c.dims.X); err != nil {
		return Primary{}, err
	}

	switch {
	case p.P != nil:
		out.P = copyOf(p.P)
	default:
		out.P = copyOf(c.cost.Q)
	}
	switch {
	case p.R != nil:
		out.R = copyOf(p.R)
	default:
		out.R = copyOf(c.cost.R)
	}
	if err := checkShape("P", out.P, c.dims.X, c.dims.X); err != nil {
		return Primary{}, err
	}
	if err := checkShape("R", out.R, c.dims.U, c.dims.U); err != nil {
		return Primary{}, err
	}

	if c.Tracking() {
		kr := p.Kr
		if kr == nil {
			kr = mat.NewDense(c.dims.U, c.dims.R, nil)
		}
		out.Kr = copyOf(kr)
		if err := checkShape("Kr", out.Kr, c.dims.U, c.dims.R); err != nil {
			return Primary{}, err
		}
	}
	return out, nil
}

func (c *Config) checkAuxiliary(a Auxiliary) (Auxiliary, error) {
	if a.K == nil {
		return Auxiliary{}, fmt.Errorf("%w: auxiliary law requires K", ErrNoFeedbackLaw)
	}
	out := Auxiliary{K: copyOf(a.K)}
	if err := checkShape("auxiliary K", out.K, c.dims.U, c.dims.X); err != nil {
		return Auxiliary{}, err
	}
	return out, nil
}

// Laws returns the primary and auxiliary feedback laws, asking s for any
// that were not supplied up front. Synthesized laws are kept for later
// calls. The tracking variant of the primary law is requested when a
// reference model is configured.
func (c *Config) Laws(ctx context.Context, s Synthesizer, horizon int) (Primary, Auxiliary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.primary == nil {
		if s == nil {
			return Primary{}, Auxiliary{}, ErrNoFeedbackLaw
		}
		p, err := s.Primary(ctx, c.model, c.cost, c.ref)
		if err != nil {
			return Primary{}, Auxiliary{}, fmt.Errorf("plant: synthesize primary law: %w", err)
		}
		p, err = c.checkPrimary(p)
		if err != nil {
			return Primary{}, Auxiliary{}, err
		}
		c.primary = &p
	}

	if c.aux == nil {
		if s == nil {
			return Primary{}, Auxiliary{}, ErrNoFeedbackLaw
		}
		a, err := s.Auxiliary(ctx, c.model, c.cost, horizon)
		if err != nil {
			return Primary{}, Auxiliary{}, fmt.Errorf("plant: synthesize auxiliary law: %w", err)
		}
		a, err = c.checkAuxiliary(a)
		if err != nil {
			return Primary{}, Auxiliary{}, err
		}
		c.aux = &a
	}

	return *c.primary, *c.aux, nil
}

// HasLaws reports whether both feedback laws are available without
// synthesis.
func (c *Config) HasLaws() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary != nil && c.aux != nil
}

func (c *Config) Model() Model             { return c.model }
func (c *Config) Disturbance() Disturbance { return c.dist }
func (c *Config) Cost() Cost               { return c.cost }
func (c *Config) Dims() Dims               { return c.dims }

// Reference returns the reference model, or nil when not tracking.
func (c *Config) Reference() *Reference { return c.ref }

// Constraints returns the constraint set, or nil when unconstrained.
func (c *Config) Constraints() *ConstraintSet { return c.cons }

// Tracking reports whether a reference model is configured.
func (c *Config) Tracking() bool { return c.ref != nil }

// Constrained reports whether a constraint set is configured.
func (c *Config) Constrained() bool { return c.cons != nil }

func checkShape(name string, m *mat.Dense, rows, cols int) error {
	r, cl := m.Dims()
	if r != rows || cl != cols {
		return &DimensionError{Matrix: name, Rows: r, Cols: cl, WantRows: rows, WantCols: cols}
	}
	if linalg.HasNaNOrInf(m) {
		return fmt.Errorf("%w: %s", ErrNonFinite, name)
	}
	return nil
}

func copyOf(m *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(m)
}
