// Package control provides closed-loop controllers for the simulator.
//
// Controllers implement [sim.Controller]:
//
//   - [Tube]: the compiled robust controller, re-solved every sample
//   - [LQR]: the primary feedback law alone, u = -K x - Kr r
//   - [None]: zero control
//
// # Usage
//
//	ctrl, err := mpc.NewGenerator(solver.New()).Generate(ctx, cfg, 10)
//	s := sim.New(cfg, control.NewTube(ctrl, nil), sim.Bounded{Scale: 1})
//	// Compute is called once per sample
package control
