package config

import (
	"sort"

	"github.com/san-kum/tubempc/internal/logging"
	"github.com/san-kum/tubempc/internal/solver"
)

var Presets = map[string]*Config{
	"scalar": {
		Name: "scalar", Horizon: 2, Controller: "tube",
		Plant: PlantConfig{
			A: Matrix{{0.5}}, B: Matrix{{1}}, C: Matrix{{1}}, D: Matrix{{0}}, Bw: Matrix{{1}},
		},
		Cost:  CostConfig{Q: Matrix{{1}}, R: Matrix{{1}}},
		Gains: GainsConfig{K: Matrix{{0.5}}, P: Matrix{{1}}, R: Matrix{{1}}, Kaux: Matrix{{0.5}}},
		Constraints: &ConstraintConfig{
			F: Matrix{{1}}, G: Matrix{{0}}, Offset: []float64{-5},
		},
		Solver: solver.DefaultSettings(),
		Sim: SimConfig{
			Steps: 30, Dt: 1, Seed: 1, Runs: 1, DisturbanceScale: 1,
			InitState: []float64{3},
		},
		Log: logging.DefaultConfig(),
	},
	"double_integrator": {
		Name: "double_integrator", Horizon: 5, Controller: "tube",
		Plant: PlantConfig{
			A:  Matrix{{1, 1}, {0, 1}},
			B:  Matrix{{0.5}, {1}},
			C:  Matrix{{0.05, 0}, {0, 0.05}},
			D:  Matrix{{0}, {0}},
			Bw: Matrix{{1, 0}, {0, 1}},
		},
		Cost: CostConfig{Q: Matrix{{1, 0}, {0, 1}}, R: Matrix{{1}}},
		Gains: GainsConfig{
			K:    Matrix{{0.4, 1.0}},
			P:    Matrix{{2, 0.5}, {0.5, 1.5}},
			R:    Matrix{{1}},
			Kaux: Matrix{{1, 1.5}},
		},
		Constraints: &ConstraintConfig{
			F:      Matrix{{1, 0}, {-1, 0}, {0, 1}, {0, -1}, {0, 0}, {0, 0}},
			G:      Matrix{{0}, {0}, {0}, {0}, {1}, {-1}},
			Offset: []float64{-5, -5, -2, -2, -1, -1},
		},
		Solver: solver.DefaultSettings(),
		Sim: SimConfig{
			Steps: 40, Dt: 1, Seed: 1, Runs: 1, DisturbanceScale: 1,
			InitState: []float64{3, 0},
		},
		Log: logging.DefaultConfig(),
	},
	"tracking": {
		Name: "tracking", Horizon: 3, Controller: "tube",
		Plant: PlantConfig{
			A: Matrix{{0.5}}, B: Matrix{{1}}, C: Matrix{{1}}, D: Matrix{{0}}, Bw: Matrix{{1}},
		},
		Cost:      CostConfig{Q: Matrix{{1}}, R: Matrix{{1}}},
		Gains:     GainsConfig{K: Matrix{{0.5}}, Kr: Matrix{{-1}}, P: Matrix{{1}}, R: Matrix{{1}}, Kaux: Matrix{{0.5}}},
		Reference: &ReferenceConfig{Br: Matrix{{0}}, Dr: Matrix{{0}}},
		Constraints: &ConstraintConfig{
			F: Matrix{{1}}, G: Matrix{{0}}, Offset: []float64{-5}, Soft: true, SlackWeight: 1000,
		},
		Solver: solver.DefaultSettings(),
		Sim: SimConfig{
			Steps: 30, Dt: 1, Seed: 1, Runs: 1, DisturbanceScale: 1,
			InitState: []float64{0}, Reference: []float64{1},
		},
		Log: logging.DefaultConfig(),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	return p.Clone()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
