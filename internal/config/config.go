package config

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/tubempc/internal/logging"
	"github.com/san-kum/tubempc/internal/plant"
	"github.com/san-kum/tubempc/internal/solver"
)

const (
	DefaultHorizon          = 5
	DefaultSteps            = 50
	DefaultDt               = 1.0
	DefaultDisturbanceScale = 1.0
	DefaultRuns             = 1
)

type Config struct {
	Name        string            `yaml:"name"`
	Horizon     int               `yaml:"horizon"`
	Controller  string            `yaml:"controller"`
	Plant       PlantConfig       `yaml:"plant"`
	Cost        CostConfig        `yaml:"cost"`
	Gains       GainsConfig       `yaml:"gains"`
	Reference   *ReferenceConfig  `yaml:"reference,omitempty"`
	Constraints *ConstraintConfig `yaml:"constraints,omitempty"`
	Solver      solver.Settings   `yaml:"solver"`
	Sim         SimConfig         `yaml:"sim"`
	Log         logging.Config    `yaml:"log"`
}

// Matrix is a row-major matrix literal.
type Matrix [][]float64

type PlantConfig struct {
	A  Matrix `yaml:"a"`
	B  Matrix `yaml:"b"`
	C  Matrix `yaml:"c"`
	D  Matrix `yaml:"d,omitempty"`
	Bw Matrix `yaml:"bw"`
}

type CostConfig struct {
	Q Matrix `yaml:"q"`
	R Matrix `yaml:"r"`
}

// GainsConfig holds precomputed feedback laws. Without K and Kaux the
// generator needs a synthesizer.
type GainsConfig struct {
	K    Matrix `yaml:"k,omitempty"`
	Kr   Matrix `yaml:"kr,omitempty"`
	P    Matrix `yaml:"p,omitempty"`
	R    Matrix `yaml:"r,omitempty"`
	Kaux Matrix `yaml:"kaux,omitempty"`
}

type ReferenceConfig struct {
	Br Matrix `yaml:"br"`
	Dr Matrix `yaml:"dr,omitempty"`
}

type ConstraintConfig struct {
	F           Matrix    `yaml:"f"`
	G           Matrix    `yaml:"g,omitempty"`
	Offset      []float64 `yaml:"offset"`
	Soft        bool      `yaml:"soft"`
	SlackWeight float64   `yaml:"slack_weight,omitempty"`
}

type SimConfig struct {
	Steps            int       `yaml:"steps"`
	Dt               float64   `yaml:"dt"`
	Seed             int64     `yaml:"seed"`
	Runs             int       `yaml:"runs"`
	DisturbanceScale float64   `yaml:"disturbance_scale"`
	Extreme          bool      `yaml:"extreme"`
	InitState        []float64 `yaml:"init_state"`
	Reference        []float64 `yaml:"reference,omitempty"`
}

func DefaultConfig() *Config {
	cfg := GetPreset("scalar")
	cfg.Name = "default"
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Horizon:    DefaultHorizon,
		Controller: "tube",
		Solver:     solver.DefaultSettings(),
		Sim: SimConfig{
			Steps:            DefaultSteps,
			Dt:               DefaultDt,
			Runs:             DefaultRuns,
			DisturbanceScale: DefaultDisturbanceScale,
		},
		Log: logging.DefaultConfig(),
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("config: marshal: %v", err))
	}
	out := &Config{}
	if err := yaml.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("config: unmarshal: %v", err))
	}
	return out
}

// Dense converts m, returning nil for an empty literal.
func (m Matrix) Dense(name string) (*mat.Dense, error) {
	if len(m) == 0 {
		return nil, nil
	}
	cols := len(m[0])
	if cols == 0 {
		return nil, fmt.Errorf("config: %s has an empty row", name)
	}
	data := make([]float64, 0, len(m)*cols)
	for i, row := range m {
		if len(row) != cols {
			return nil, fmt.Errorf("config: %s row %d has %d entries, want %d", name, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(m), cols, data), nil
}

// ToPlant builds the validated plant configuration.
func (c *Config) ToPlant() (*plant.Config, error) {
	var m plant.Model
	var w plant.Disturbance
	var cost plant.Cost
	var err error

	dense := func(dst **mat.Dense, name string, src Matrix) {
		if err != nil {
			return
		}
		*dst, err = src.Dense(name)
	}
	dense(&m.A, "plant.a", c.Plant.A)
	dense(&m.B, "plant.b", c.Plant.B)
	dense(&m.C, "plant.c", c.Plant.C)
	dense(&m.D, "plant.d", c.Plant.D)
	dense(&w.Bw, "plant.bw", c.Plant.Bw)
	dense(&cost.Q, "cost.q", c.Cost.Q)
	dense(&cost.R, "cost.r", c.Cost.R)

	var opts []plant.Option
	var p plant.Primary
	var aux plant.Auxiliary
	dense(&p.K, "gains.k", c.Gains.K)
	dense(&p.Kr, "gains.kr", c.Gains.Kr)
	dense(&p.P, "gains.p", c.Gains.P)
	dense(&p.R, "gains.r", c.Gains.R)
	dense(&aux.K, "gains.kaux", c.Gains.Kaux)

	var ref plant.Reference
	if c.Reference != nil {
		dense(&ref.Br, "reference.br", c.Reference.Br)
		dense(&ref.Dr, "reference.dr", c.Reference.Dr)
	}

	var cs plant.ConstraintSet
	if c.Constraints != nil {
		dense(&cs.F, "constraints.f", c.Constraints.F)
		dense(&cs.G, "constraints.g", c.Constraints.G)
		if len(c.Constraints.Offset) > 0 {
			cs.Offset = mat.NewVecDense(len(c.Constraints.Offset), append([]float64(nil), c.Constraints.Offset...))
		}
		cs.Soft = c.Constraints.Soft
		cs.SlackWeight = c.Constraints.SlackWeight
	}
	if err != nil {
		return nil, err
	}

	if p.K != nil {
		opts = append(opts, plant.WithPrimary(p))
	}
	if aux.K != nil {
		opts = append(opts, plant.WithAuxiliary(aux))
	}
	if c.Reference != nil {
		opts = append(opts, plant.WithReference(ref))
	}
	if c.Constraints != nil {
		opts = append(opts, plant.WithConstraints(cs))
	}
	return plant.NewConfig(m, w, cost, opts...)
}

// Validate checks the settings that are not part of the plant model.
func (c *Config) Validate() error {
	if c.Horizon < 1 {
		return fmt.Errorf("config: horizon must be at least 1, got %d", c.Horizon)
	}
	if c.Sim.Steps < 1 {
		return fmt.Errorf("config: sim.steps must be positive, got %d", c.Sim.Steps)
	}
	if c.Sim.DisturbanceScale < 0 {
		return fmt.Errorf("config: sim.disturbance_scale must be nonnegative, got %g", c.Sim.DisturbanceScale)
	}
	if c.Sim.Runs < 1 {
		return fmt.Errorf("config: sim.runs must be positive, got %d", c.Sim.Runs)
	}
	return nil
}
