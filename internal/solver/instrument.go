package solver

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/san-kum/tubempc/internal/expr"
)

// Outcome labels recorded by Instrumented.
const (
	OutcomeOK           = "ok"
	OutcomeInfeasible   = "infeasible"
	OutcomeNotConverged = "not_converged"
	OutcomeCanceled     = "canceled"
	OutcomeError        = "error"
)

// Metrics holds the solver collectors.
type Metrics struct {
	Solves   *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics creates the solver collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Solves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubempc_solves_total",
				Help: "Total number of horizon problem solves by outcome",
			},
			[]string{"outcome"},
		),
		Duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tubempc_solve_seconds",
				Help:    "Duration of horizon problem solves in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
			},
		),
	}
}

// Instrumented is an expr.Solver that records outcome counts and durations
// of the solver it wraps.
type Instrumented struct {
	next    expr.Solver
	metrics *Metrics
}

// Instrument wraps next, registering its collectors with reg.
func Instrument(next expr.Solver, reg prometheus.Registerer) *Instrumented {
	return &Instrumented{next: next, metrics: NewMetrics(reg)}
}

// InstrumentWith wraps next with collectors that are already registered, so
// several solvers can report into one set.
func InstrumentWith(next expr.Solver, m *Metrics) *Instrumented {
	return &Instrumented{next: next, metrics: m}
}

// Metrics returns the collectors.
func (s *Instrumented) Metrics() *Metrics { return s.metrics }

// Solve implements expr.Solver.
func (s *Instrumented) Solve(ctx context.Context, inst *expr.Instance) ([]float64, error) {
	start := time.Now()
	x, err := s.next.Solve(ctx, inst)
	s.metrics.Duration.Observe(time.Since(start).Seconds())
	s.metrics.Solves.WithLabelValues(outcome(err)).Inc()
	return x, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrInfeasible):
		return OutcomeInfeasible
	case errors.Is(err, ErrNotConverged):
		return OutcomeNotConverged
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}
