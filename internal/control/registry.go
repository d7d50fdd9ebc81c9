package control

import (
	"fmt"
	"sort"

	"github.com/san-kum/tubempc/internal/mpc"
	"github.com/san-kum/tubempc/internal/plant"
	"github.com/san-kum/tubempc/internal/sim"
)

// Params carries what a controller factory may need.
type Params struct {
	Dims      plant.Dims
	Law       plant.Primary
	Compiled  *mpc.Controller
	Reference []float64
}

// Registry maps controller names to factories.
type Registry struct {
	controllers map[string]func(Params) (sim.Controller, error)
}

func NewRegistry() *Registry {
	r := &Registry{controllers: make(map[string]func(Params) (sim.Controller, error))}

	r.controllers["none"] = func(p Params) (sim.Controller, error) {
		return NewNone(p.Dims.U), nil
	}
	r.controllers["lqr"] = func(p Params) (sim.Controller, error) {
		if p.Law.K == nil {
			return nil, plant.ErrNoFeedbackLaw
		}
		return NewLQR(p.Law, p.Reference), nil
	}
	r.controllers["tube"] = func(p Params) (sim.Controller, error) {
		if p.Compiled == nil {
			return nil, fmt.Errorf("tube controller requires a compiled controller")
		}
		return NewTube(p.Compiled, p.Reference), nil
	}

	return r
}

func (r *Registry) Get(name string, p Params) (sim.Controller, error) {
	fn, ok := r.controllers[name]
	if !ok {
		return nil, fmt.Errorf("unknown controller: %s", name)
	}
	return fn(p)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
