// Package experiment turns a configuration into a ready closed-loop run:
// plant, instrumented solver, compiled tube controller, disturbance and
// metrics.
package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/tubempc/internal/config"
	"github.com/san-kum/tubempc/internal/control"
	"github.com/san-kum/tubempc/internal/metrics"
	"github.com/san-kum/tubempc/internal/mpc"
	"github.com/san-kum/tubempc/internal/plant"
	"github.com/san-kum/tubempc/internal/sim"
	"github.com/san-kum/tubempc/internal/solver"
)

var ErrNotSetup = errors.New("experiment: not set up")

type Option func(*Experiment)

func WithLogger(l logr.Logger) Option {
	return func(e *Experiment) { e.log = l }
}

// WithMetrics reports solves into m instead of a private registry.
func WithMetrics(m *solver.Metrics) Option {
	return func(e *Experiment) { e.solverMetrics = m }
}

func WithSynthesizer(s plant.Synthesizer) Option {
	return func(e *Experiment) { e.synth = s }
}

type Experiment struct {
	cfg           *config.Config
	log           logr.Logger
	solverMetrics *solver.Metrics
	synth         plant.Synthesizer

	plant      *plant.Config
	solver     *solver.Instrumented
	compiled   *mpc.Controller
	controller sim.Controller
	simulator  *sim.Simulator
}

func New(cfg *config.Config, opts ...Option) *Experiment {
	e := &Experiment{cfg: cfg, log: logr.Discard()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Setup validates the configuration and builds everything Run needs. The
// tube controller is generated only when the configured controller needs it.
func (e *Experiment) Setup(ctx context.Context) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}
	p, err := e.cfg.ToPlant()
	if err != nil {
		return err
	}
	e.plant = p

	if e.solverMetrics == nil {
		e.solverMetrics = solver.NewMetrics(prometheus.NewRegistry())
	}
	base := solver.New(
		solver.WithSettings(e.cfg.Solver),
		solver.WithLogger(e.log.WithName("solver")),
	)
	e.solver = solver.InstrumentWith(base, e.solverMetrics)

	params := control.Params{Dims: p.Dims(), Reference: e.reference()}

	if e.cfg.Controller != "none" {
		law, _, err := p.Laws(ctx, e.synth, e.cfg.Horizon)
		if err != nil {
			return err
		}
		params.Law = law
	}

	if e.cfg.Controller == "tube" {
		gen := mpc.NewGenerator(e.solver,
			mpc.WithLogger(e.log.WithName("mpc")),
			mpc.WithSynthesizer(e.synth),
		)
		compiled, err := gen.Generate(ctx, p, e.cfg.Horizon)
		if err != nil {
			return err
		}
		e.compiled = compiled
		params.Compiled = compiled
	}

	ctrl, err := control.NewRegistry().Get(e.cfg.Controller, params)
	if err != nil {
		return err
	}
	e.controller = ctrl

	e.simulator = sim.New(p, ctrl, e.disturbance())
	for _, m := range e.metrics() {
		e.simulator.AddMetric(m)
	}
	return nil
}

func (e *Experiment) reference() []float64 {
	if !e.plant.Tracking() {
		return nil
	}
	ref := make([]float64, e.plant.Dims().R)
	copy(ref, e.cfg.Sim.Reference)
	return ref
}

func (e *Experiment) disturbance() sim.Disturbance {
	if e.cfg.Sim.DisturbanceScale == 0 {
		return sim.NoDisturbance{}
	}
	return sim.Bounded{Scale: e.cfg.Sim.DisturbanceScale, Extreme: e.cfg.Sim.Extreme}
}

func (e *Experiment) metrics() []sim.Metric {
	cost := e.plant.Cost()
	return metrics.Default(cost.Q, cost.R)
}

// SimConfig is the simulator configuration derived from the experiment.
func (e *Experiment) SimConfig() sim.Config {
	return sim.Config{
		Steps:         e.cfg.Sim.Steps,
		Dt:            e.cfg.Sim.Dt,
		Seed:          e.cfg.Sim.Seed,
		Reference:     e.reference(),
		ValidateState: true,
	}
}

// InitState returns the configured initial state, zero filled to the plant
// dimension.
func (e *Experiment) InitState() (sim.State, error) {
	nx := e.plant.Dims().X
	if len(e.cfg.Sim.InitState) > nx {
		return nil, fmt.Errorf("experiment: init_state has %d entries, plant has %d states", len(e.cfg.Sim.InitState), nx)
	}
	x0 := make(sim.State, nx)
	copy(x0, e.cfg.Sim.InitState)
	return x0, nil
}

func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.simulator == nil {
		return nil, ErrNotSetup
	}
	x0, err := e.InitState()
	if err != nil {
		return nil, err
	}
	e.log.V(1).Info("running closed loop", "controller", e.cfg.Controller, "steps", e.cfg.Sim.Steps, "seed", e.cfg.Sim.Seed)
	return e.simulator.Run(ctx, x0, e.SimConfig())
}

// RunEnsemble runs cfg.Sim.Runs seeded copies concurrently, seeds counting
// up from cfg.Sim.Seed.
func (e *Experiment) RunEnsemble(ctx context.Context) ([]*sim.Result, error) {
	if e.simulator == nil {
		return nil, ErrNotSetup
	}
	x0, err := e.InitState()
	if err != nil {
		return nil, err
	}
	ens := sim.NewEnsemble(e.simulator, e.cfg.Sim.Runs, e.cfg.Sim.Seed, e.metrics)
	return ens.Run(ctx, x0, e.SimConfig())
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) Plant() *plant.Config { return e.plant }

// Compiled is the generated tube controller, nil for other controllers.
func (e *Experiment) Compiled() *mpc.Controller { return e.compiled }

func (e *Experiment) Solver() *solver.Instrumented { return e.solver }

// GetSimulator returns the underlying simulator for adding observers
func (e *Experiment) GetSimulator() *sim.Simulator {
	return e.simulator
}
