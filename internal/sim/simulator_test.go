package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/plant"
)

func scalar(v float64) *mat.Dense { return mat.NewDense(1, 1, []float64{v}) }

func testPlant(t *testing.T) *plant.Config {
	t.Helper()
	cfg, err := plant.NewConfig(
		plant.Model{A: scalar(0.5), B: scalar(1), C: scalar(1), D: scalar(0)},
		plant.Disturbance{Bw: scalar(1)},
		plant.Cost{Q: scalar(1), R: scalar(1)},
		plant.WithConstraints(plant.ConstraintSet{F: scalar(1), Offset: mat.NewVecDense(1, []float64{-5})}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

type gainController struct{ k float64 }

func (g gainController) Compute(_ context.Context, x State, _ int) (Control, error) {
	return Control{-g.k * x[0]}, nil
}

type failingController struct{}

func (failingController) Compute(context.Context, State, int) (Control, error) {
	return nil, errors.New("no solution")
}

type countMetric struct{ n int }

func (c *countMetric) Name() string { return "count" }

func (c *countMetric) Observe(_ State, _ Control, _ []float64, _ int) { c.n++ }

func (c *countMetric) Value() float64 { return float64(c.n) }

func (c *countMetric) Reset() { c.n = 0 }

func TestSimulatorRun(t *testing.T) {
	s := New(testPlant(t), gainController{k: 0.5}, nil)
	s.AddMetric(&countMetric{})

	result, err := s.Run(context.Background(), State{4}, Config{Steps: 5, Dt: 0.1})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(result.States) != 6 {
		t.Errorf("expected 6 states, got %d", len(result.States))
	}
	if len(result.Controls) != 5 || len(result.Constraints) != 5 {
		t.Errorf("expected 5 controls and constraint rows, got %d and %d", len(result.Controls), len(result.Constraints))
	}
	if got := result.States[1][0]; got != 0 {
		t.Errorf("deadbeat closed loop: x1 = %v, want 0", got)
	}
	if got := result.Constraints[0][0]; got != -1 {
		t.Errorf("constraint at x=4: %v, want -1", got)
	}
	if got := result.Times[5]; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("final time = %v, want 0.5", got)
	}
	if result.Metrics["count"] != 5 {
		t.Errorf("count metric = %v, want 5", result.Metrics["count"])
	}
}

func TestSimulatorInvalidConfig(t *testing.T) {
	s := New(testPlant(t), gainController{}, nil)

	tests := []struct {
		name string
		x0   State
		cfg  Config
	}{
		{"zero steps", State{1}, Config{Steps: 0}},
		{"negative steps", State{1}, Config{Steps: -1}},
		{"wrong state size", State{1, 2}, Config{Steps: 3}},
		{"unexpected reference", State{1}, Config{Steps: 3, Reference: []float64{1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Run(context.Background(), tt.x0, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSimulatorControllerError(t *testing.T) {
	s := New(testPlant(t), failingController{}, nil)
	result, err := s.Run(context.Background(), State{1}, Config{Steps: 3})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 recorded error, got %d", len(result.Errors))
	}
	var se SimError
	if !errors.As(result.Errors[0], &se) || se.Step != 0 {
		t.Errorf("recorded error = %v, want SimError at step 0", result.Errors[0])
	}
}

func TestSimulatorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(testPlant(t), gainController{}, nil)
	if _, err := s.Run(ctx, State{1}, Config{Steps: 3}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRunWithCallbackStops(t *testing.T) {
	s := New(testPlant(t), gainController{}, nil)
	calls := 0
	result, err := s.RunWithCallback(context.Background(), State{1}, Config{Steps: 10}, func(State, Control, int) bool {
		calls++
		return calls < 3
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.StepsTaken != 3 {
		t.Errorf("StepsTaken = %d, want 3", result.StepsTaken)
	}
}

func TestBoundedDisturbance(t *testing.T) {
	p := testPlant(t)
	rng := rand.New(rand.NewSource(1))
	x := State{2}
	u := Control{0}

	for i := 0; i < 100; i++ {
		w := Bounded{Scale: 0.5}.Sample(rng, p, x, u, nil, i)
		if got := State(w).Norm(); got > 1+1e-12 {
			t.Fatalf("‖w‖ = %v exceeds 0.5·‖y‖ = 1", got)
		}
	}
	w := Bounded{Scale: 0.5, Extreme: true}.Sample(rng, p, x, u, nil, 0)
	if got := State(w).Norm(); math.Abs(got-1) > 1e-12 {
		t.Errorf("extreme ‖w‖ = %v, want 1", got)
	}
	if w := (NoDisturbance{}).Sample(rng, p, x, u, nil, 0); w != nil {
		t.Errorf("NoDisturbance = %v, want nil", w)
	}
}

func TestSeedDeterminism(t *testing.T) {
	p := testPlant(t)
	run := func(seed int64) []State {
		s := New(p, gainController{k: 0.25}, Bounded{Scale: 1})
		r, err := s.Run(context.Background(), State{3}, Config{Steps: 20, Seed: seed})
		if err != nil {
			t.Fatal(err)
		}
		return r.States
	}

	if a, b := run(7), run(7); !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different trajectories")
	}
	if a, b := run(7), run(8); reflect.DeepEqual(a, b) {
		t.Error("different seeds produced identical trajectories")
	}
}

func TestEnsemble(t *testing.T) {
	p := testPlant(t)
	base := New(p, gainController{k: 0.25}, Bounded{Scale: 1})
	ens := NewEnsemble(base, 4, 100, func() []Metric { return []Metric{&countMetric{}} })

	results, err := ens.Run(context.Background(), State{3}, Config{Steps: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	single, err := New(p, gainController{k: 0.25}, Bounded{Scale: 1}).
		Run(context.Background(), State{3}, Config{Steps: 10, Seed: 102})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(results[2].States, single.States) {
		t.Error("ensemble run 2 differs from a single run with seed 102")
	}
	for i, r := range results {
		if r.Metrics["count"] != 10 {
			t.Errorf("run %d count = %v, want 10", i, r.Metrics["count"])
		}
	}
}

func TestEnsembleFailure(t *testing.T) {
	p := testPlant(t)
	ens := NewEnsemble(New(p, failingController{}, nil), 3, 0, nil)

	_, err := ens.Run(context.Background(), State{1}, Config{Steps: 5})
	if err == nil {
		t.Fatal("expected error from failing controller")
	}
	if !strings.Contains(err.Error(), "seed") {
		t.Errorf("error %q should name the failing seed", err)
	}

	if _, err := NewEnsemble(New(p, gainController{}, nil), 0, 0, nil).
		Run(context.Background(), State{1}, Config{Steps: 5}); err == nil {
		t.Error("expected error for zero runs")
	}
}

func TestSummarize(t *testing.T) {
	results := []*Result{
		{Metrics: map[string]float64{"a": 1, "b": 5}},
		{Metrics: map[string]float64{"a": 3}},
	}
	s := Summarize(results)
	if _, ok := s["b"]; ok {
		t.Error("metric missing from a run should be skipped")
	}
	a := s["a"]
	if a.Mean != 2 || a.Min != 1 || a.Max != 3 {
		t.Errorf("Summarize()[a] = %+v", a)
	}
	if math.Abs(a.StdDev-math.Sqrt2) > 1e-12 {
		t.Errorf("StdDev = %v, want sqrt(2)", a.StdDev)
	}

	single := Summarize(results[:1])
	if single["a"].StdDev != 0 {
		t.Errorf("single run StdDev = %v, want 0", single["a"].StdDev)
	}
	if Summarize(nil) != nil {
		t.Error("expected nil summary for no results")
	}
}
