package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/san-kum/tubempc/internal/plant"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

type Control []float64

// Plant is the true discrete-time system being controlled. *plant.Config
// implements it.
type Plant interface {
	Step(x, u, r, w []float64) []float64
	Output(x, u, r []float64) []float64
	Constraint(x, u []float64) []float64
	Dims() plant.Dims
}

// Controller maps the measured state at sample k to a control action.
type Controller interface {
	Compute(ctx context.Context, x State, k int) (Control, error)
}

// Disturbance draws the disturbance entering at sample k.
type Disturbance interface {
	Sample(rng *rand.Rand, p Plant, x State, u Control, r []float64, k int) []float64
}

// Metric accumulates a scalar over a run. g holds the constraint values
// F x + G u + Offset, nil when the plant is unconstrained.
type Metric interface {
	Name() string
	Observe(x State, u Control, g []float64, k int)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x State, u Control, k int)
}

type Config struct {
	// Steps is the number of control samples.
	Steps int
	// Dt is the sample period, used only to label times.
	Dt   float64
	Seed int64
	// Reference is held constant over the run; nil when not tracking.
	Reference     []float64
	ValidateState bool
}

type Result struct {
	States      []State
	Controls    []Control
	Disturbance [][]float64
	Constraints [][]float64
	Times       []float64
	Metrics     map[string]float64
	StepsTaken  int
	Errors      []error
}

type SimError struct {
	Step    int
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("sim: step %d: %s", e.Step, e.Message)
}
