// Package sim runs a controller in closed loop against a discrete-time
// linear plant with bounded, state-dependent disturbances.
package sim

import (
	"context"
	"fmt"
	"math/rand"
)

type Simulator struct {
	plant       Plant
	controller  Controller
	disturbance Disturbance
	metrics     []Metric
	observers   []Observer
}

func New(p Plant, controller Controller, dist Disturbance) *Simulator {
	if dist == nil {
		dist = NoDisturbance{}
	}
	return &Simulator{
		plant:       p,
		controller:  controller,
		disturbance: dist,
		metrics:     make([]Metric, 0),
		observers:   make([]Observer, 0),
	}
}

func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

func (s *Simulator) Run(ctx context.Context, x0 State, cfg Config) (*Result, error) {
	if err := s.validateConfig(x0, cfg); err != nil {
		return nil, err
	}
	result := &Result{Metrics: make(map[string]float64)}
	return result, s.run(ctx, x0, cfg, result, nil)
}

// RunWithCallback is Run that also calls callback after every step and stops
// early when it returns false.
func (s *Simulator) RunWithCallback(ctx context.Context, x0 State, cfg Config, callback func(x State, u Control, k int) bool) (*Result, error) {
	if err := s.validateConfig(x0, cfg); err != nil {
		return nil, err
	}
	result := &Result{Metrics: make(map[string]float64)}
	return result, s.run(ctx, x0, cfg, result, callback)
}

func (s *Simulator) run(ctx context.Context, x0 State, cfg Config, result *Result, callback func(State, Control, int) bool) error {
	dt := cfg.Dt
	if dt <= 0 {
		dt = 1
	}

	result.States = make([]State, 0, cfg.Steps+1)
	result.Controls = make([]Control, 0, cfg.Steps)
	result.Times = make([]float64, 0, cfg.Steps+1)

	for _, m := range s.metrics {
		m.Reset()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	x := x0.Clone()
	result.States = append(result.States, x.Clone())
	result.Times = append(result.Times, 0)

	for k := 0; k < cfg.Steps; k++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		u, err := s.controller.Compute(ctx, x, k)
		if err != nil {
			result.Errors = append(result.Errors, SimError{Step: k, Message: err.Error()})
			return fmt.Errorf("sim: controller at step %d: %w", k, err)
		}

		g := s.plant.Constraint(x, u)
		for _, m := range s.metrics {
			m.Observe(x, u, g, k)
		}
		for _, obs := range s.observers {
			obs.OnStep(x, u, k)
		}

		w := s.disturbance.Sample(rng, s.plant, x, u, cfg.Reference, k)
		next := State(s.plant.Step(x, u, cfg.Reference, w))

		if cfg.ValidateState && !next.IsValid() {
			result.Errors = append(result.Errors, SimError{Step: k, Message: "invalid state (NaN/Inf)"})
			break
		}

		x = next
		result.StepsTaken++
		result.States = append(result.States, x.Clone())
		result.Controls = append(result.Controls, u)
		result.Disturbance = append(result.Disturbance, w)
		result.Constraints = append(result.Constraints, g)
		result.Times = append(result.Times, float64(k+1)*dt)

		if callback != nil && !callback(x, u, k) {
			break
		}
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	return nil
}

func (s *Simulator) validateConfig(x0 State, cfg Config) error {
	if cfg.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", cfg.Steps)
	}
	dims := s.plant.Dims()
	if len(x0) != dims.X {
		return fmt.Errorf("initial state has %d entries, plant has %d states", len(x0), dims.X)
	}
	if cfg.Reference != nil && len(cfg.Reference) != dims.R {
		return fmt.Errorf("reference has %d entries, plant has %d reference inputs", len(cfg.Reference), dims.R)
	}
	return nil
}
