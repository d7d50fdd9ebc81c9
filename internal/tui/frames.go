package tui

import (
	"context"

	"github.com/san-kum/tubempc/internal/sim"
)

// Frame is one closed-loop sample: the state before the step, the applied
// control and the constraint values it produced.
type Frame struct {
	K          int
	Time       float64
	State      sim.State
	Control    sim.Control
	Constraint []float64
}

// Source streams frames. Done yields the run error once Frames is closed.
type Source struct {
	Frames <-chan Frame
	Done   <-chan error
	cancel context.CancelFunc
}

// Stop cancels the producing run, if any.
func (s Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Live runs s in the background. The simulation blocks on each frame until
// the view consumes it, so pausing the view pauses the run.
func Live(ctx context.Context, s *sim.Simulator, p sim.Plant, x0 sim.State, cfg sim.Config) Source {
	ctx, cancel := context.WithCancel(ctx)
	frames := make(chan Frame)
	done := make(chan error, 1)

	go func() {
		defer close(frames)
		prev := x0.Clone()
		_, err := s.RunWithCallback(ctx, x0, cfg, func(x sim.State, u sim.Control, k int) bool {
			f := Frame{
				K:          k,
				Time:       float64(k) * dt(cfg),
				State:      prev,
				Control:    u,
				Constraint: p.Constraint(prev, u),
			}
			prev = x.Clone()
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		})
		done <- err
	}()
	return Source{Frames: frames, Done: done, cancel: cancel}
}

// Replay streams a finished run.
func Replay(res *sim.Result) Source {
	frames := make(chan Frame)
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer close(frames)
		for k, u := range res.Controls {
			if k >= len(res.States) {
				break
			}
			if err := ctx.Err(); err != nil {
				done <- err
				return
			}
			f := Frame{K: k, State: res.States[k], Control: u}
			if k < len(res.Times) {
				f.Time = res.Times[k]
			}
			if k < len(res.Constraints) {
				f.Constraint = res.Constraints[k]
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
		done <- nil
	}()
	return Source{Frames: frames, Done: done, cancel: cancel}
}

func dt(cfg sim.Config) float64 {
	if cfg.Dt <= 0 {
		return 1
	}
	return cfg.Dt
}
