package plant

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func scalar(v float64) *mat.Dense { return mat.NewDense(1, 1, []float64{v}) }

func scalarParts() (Model, Disturbance, Cost) {
	return Model{A: scalar(0.5), B: scalar(1), C: scalar(1), D: scalar(0)},
		Disturbance{Bw: scalar(1)},
		Cost{Q: scalar(1), R: scalar(1)}
}

type fakeSynth struct {
	calls   int
	tracked bool
	err     error
}

func (f *fakeSynth) Primary(_ context.Context, _ Model, _ Cost, ref *Reference) (Primary, error) {
	f.calls++
	f.tracked = ref != nil
	if f.err != nil {
		return Primary{}, f.err
	}
	p := Primary{K: scalar(0.5)}
	if ref != nil {
		p.Kr = scalar(-1)
	}
	return p, nil
}

func (f *fakeSynth) Auxiliary(_ context.Context, _ Model, _ Cost, _ int) (Auxiliary, error) {
	f.calls++
	return Auxiliary{K: scalar(0.5)}, f.err
}

func TestNewConfigMissing(t *testing.T) {
	m, w, c := scalarParts()
	tests := []struct {
		name string
		m    Model
		w    Disturbance
		c    Cost
		want error
	}{
		{"no A", Model{B: m.B, C: m.C}, w, c, ErrMissingModel},
		{"no disturbance", m, Disturbance{}, c, ErrMissingDisturbance},
		{"no R", m, w, Cost{Q: c.Q}, ErrMissingCost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.m, tt.w, tt.c)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewConfig() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewConfigDimensions(t *testing.T) {
	m, w, c := scalarParts()
	m.B = mat.NewDense(2, 1, nil)

	_, err := NewConfig(m, w, c)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("NewConfig() error = %v, want ErrDimensionMismatch", err)
	}
	var de *DimensionError
	if !errors.As(err, &de) || de.Matrix != "B" {
		t.Errorf("NewConfig() error = %v, want DimensionError for B", err)
	}
}

func TestNewConfigNonFinite(t *testing.T) {
	m, w, c := scalarParts()
	m.A = scalar(math.NaN())
	if _, err := NewConfig(m, w, c); !errors.Is(err, ErrNonFinite) {
		t.Errorf("NewConfig() error = %v, want ErrNonFinite", err)
	}
}

func TestNewConfigCopies(t *testing.T) {
	m, w, c := scalarParts()
	cfg, err := NewConfig(m, w, c)
	if err != nil {
		t.Fatal(err)
	}
	m.A.Set(0, 0, 9)
	if got := cfg.Model().A.At(0, 0); got != 0.5 {
		t.Errorf("Model().A = %v after caller mutation, want 0.5", got)
	}
}

func TestNewConfigDefaultsD(t *testing.T) {
	m, w, c := scalarParts()
	m.D = nil
	cfg, err := NewConfig(m, w, c)
	if err != nil {
		t.Fatal(err)
	}
	if r, cl := cfg.Model().D.Dims(); r != 1 || cl != 1 {
		t.Errorf("D dims = %dx%d, want 1x1", r, cl)
	}
}

func TestConstraintSet(t *testing.T) {
	m, w, c := scalarParts()
	cs := ConstraintSet{F: scalar(1), Offset: mat.NewVecDense(1, []float64{-5})}
	cfg, err := NewConfig(m, w, c, WithConstraints(cs))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Constrained() || cfg.Dims().C != 1 {
		t.Errorf("Constrained() = %v, Dims().C = %d", cfg.Constrained(), cfg.Dims().C)
	}
	if got := cfg.Constraints().Weight(); got != DefaultSlackWeight {
		t.Errorf("Weight() = %v, want %v", got, DefaultSlackWeight)
	}
	if got := cfg.Constraint([]float64{2}, []float64{0})[0]; got != -3 {
		t.Errorf("Constraint() = %v, want -3", got)
	}

	bad := ConstraintSet{F: scalar(1), Offset: mat.NewVecDense(2, nil)}
	if _, err := NewConfig(m, w, c, WithConstraints(bad)); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("NewConfig() error = %v, want ErrDimensionMismatch", err)
	}
}

func TestLaws(t *testing.T) {
	m, w, c := scalarParts()

	t.Run("no synthesizer", func(t *testing.T) {
		cfg, err := NewConfig(m, w, c)
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := cfg.Laws(context.Background(), nil, 3); !errors.Is(err, ErrNoFeedbackLaw) {
			t.Errorf("Laws() error = %v, want ErrNoFeedbackLaw", err)
		}
	})

	t.Run("supplied", func(t *testing.T) {
		cfg, err := NewConfig(m, w, c,
			WithPrimary(Primary{K: scalar(0.5)}),
			WithAuxiliary(Auxiliary{K: scalar(0.5)}))
		if err != nil {
			t.Fatal(err)
		}
		p, _, err := cfg.Laws(context.Background(), nil, 3)
		if err != nil {
			t.Fatal(err)
		}
		if p.P.At(0, 0) != 1 || p.R.At(0, 0) != 1 {
			t.Errorf("P, R = %v, %v, want cost fallbacks 1, 1", p.P.At(0, 0), p.R.At(0, 0))
		}
	})

	t.Run("synthesized once", func(t *testing.T) {
		ref := Reference{Br: scalar(0)}
		cfg, err := NewConfig(m, w, c, WithReference(ref))
		if err != nil {
			t.Fatal(err)
		}
		s := &fakeSynth{}
		for i := 0; i < 2; i++ {
			if _, _, err := cfg.Laws(context.Background(), s, 3); err != nil {
				t.Fatal(err)
			}
		}
		if s.calls != 2 {
			t.Errorf("synthesizer calls = %d, want 2", s.calls)
		}
		if !s.tracked {
			t.Error("tracking variant not requested")
		}
		if !cfg.HasLaws() {
			t.Error("HasLaws() = false after synthesis")
		}
	})

	t.Run("synthesis error", func(t *testing.T) {
		cfg, err := NewConfig(m, w, c)
		if err != nil {
			t.Fatal(err)
		}
		boom := errors.New("boom")
		if _, _, err := cfg.Laws(context.Background(), &fakeSynth{err: boom}, 3); !errors.Is(err, boom) {
			t.Errorf("Laws() error = %v, want wrapped boom", err)
		}
	})
}

func TestStepAndControl(t *testing.T) {
	m, w, c := scalarParts()
	cfg, err := NewConfig(m, w, c)
	if err != nil {
		t.Fatal(err)
	}
	p := Primary{K: scalar(0.5)}

	u := p.Control([]float64{2}, nil, []float64{1})
	if u[0] != 0 {
		t.Errorf("Control() = %v, want 0", u[0])
	}
	x := cfg.Step([]float64{2}, []float64{1}, nil, []float64{0.25})
	if x[0] != 2.25 {
		t.Errorf("Step() = %v, want 2.25", x[0])
	}
	y := cfg.Output([]float64{2}, []float64{1}, nil)
	if y[0] != 2 {
		t.Errorf("Output() = %v, want 2", y[0])
	}
}
