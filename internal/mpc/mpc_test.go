package mpc_test

import (
	"context"
	"strings"
	"sync"

	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/expr"
	"github.com/san-kum/tubempc/internal/mpc"
	"github.com/san-kum/tubempc/internal/plant"
	"github.com/san-kum/tubempc/internal/solver"
)

func scalar(v float64) *mat.Dense { return mat.NewDense(1, 1, []float64{v}) }

type scenario struct {
	a, k, kaux, bw float64
	soft           bool
	constrained    bool
	ref            *plant.Reference
	kr             *mat.Dense
}

func (s scenario) config() *plant.Config {
	opts := []plant.Option{
		plant.WithPrimary(plant.Primary{K: scalar(s.k), Kr: s.kr, P: scalar(1), R: scalar(1)}),
		plant.WithAuxiliary(plant.Auxiliary{K: scalar(s.kaux)}),
	}
	if s.constrained {
		opts = append(opts, plant.WithConstraints(plant.ConstraintSet{
			F:      scalar(1),
			G:      scalar(0),
			Offset: mat.NewVecDense(1, []float64{-5}),
			Soft:   s.soft,
		}))
	}
	if s.ref != nil {
		opts = append(opts, plant.WithReference(*s.ref))
	}
	cfg, err := plant.NewConfig(
		plant.Model{A: scalar(s.a), B: scalar(1), C: scalar(1), D: scalar(0)},
		plant.Disturbance{Bw: scalar(s.bw)},
		plant.Cost{Q: scalar(1), R: scalar(1)},
		opts...,
	)
	Expect(err).NotTo(HaveOccurred())
	return cfg
}

var baseline = scenario{a: 0.5, k: 0.5, kaux: 0.5, bw: 1, constrained: true}

var matrixEqual = cmp.Options{
	cmp.Comparer(func(a, b *mat.Dense) bool { return mat.Equal(a, b) }),
	cmp.Comparer(func(a, b *mat.TriDense) bool { return mat.Equal(a, b) }),
}

type fakeSynth struct {
	tracked bool
}

func (f *fakeSynth) Primary(_ context.Context, _ plant.Model, c plant.Cost, ref *plant.Reference) (plant.Primary, error) {
	f.tracked = ref != nil
	p := plant.Primary{K: scalar(0.5), P: c.Q, R: c.R}
	if ref != nil {
		p.Kr = scalar(0)
	}
	return p, nil
}

func (f *fakeSynth) Auxiliary(context.Context, plant.Model, plant.Cost, int) (plant.Auxiliary, error) {
	return plant.Auxiliary{K: scalar(0.5)}, nil
}

var _ = Describe("Generator", func() {
	var (
		ctx context.Context
		gen *mpc.Generator
	)

	BeforeEach(func() {
		ctx = context.Background()
		gen = mpc.NewGenerator(solver.New())
	})

	Describe("input validation", func() {
		It("rejects horizons below one", func() {
			_, err := gen.Generate(ctx, baseline.config(), 0)
			Expect(err).To(MatchError(mpc.ErrInvalidHorizon))
		})

		It("fails without feedback laws or a synthesizer", func() {
			cfg, err := plant.NewConfig(
				plant.Model{A: scalar(1), B: scalar(1), C: scalar(1)},
				plant.Disturbance{Bw: scalar(1)},
				plant.Cost{Q: scalar(1), R: scalar(1)},
			)
			Expect(err).NotTo(HaveOccurred())
			_, err = gen.Generate(ctx, cfg, 3)
			Expect(err).To(MatchError(plant.ErrNoFeedbackLaw))
		})

		It("asks the synthesizer for the tracking law when a reference model is set", func() {
			cfg, err := plant.NewConfig(
				plant.Model{A: scalar(1), B: scalar(1), C: scalar(1)},
				plant.Disturbance{Bw: scalar(1)},
				plant.Cost{Q: scalar(1), R: scalar(1)},
				plant.WithReference(plant.Reference{Br: scalar(0)}),
			)
			Expect(err).NotTo(HaveOccurred())
			s := &fakeSynth{}
			c, err := mpc.NewGenerator(solver.New(), mpc.WithSynthesizer(s)).Generate(ctx, cfg, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.tracked).To(BeTrue())
			Expect(c.Tracking).To(BeTrue())
		})

		It("warns and flags a controller generated without constraints", func() {
			var lines []string
			log := funcr.New(func(prefix, args string) { lines = append(lines, args) }, funcr.Options{})
			s := baseline
			s.constrained = false

			c, err := mpc.NewGenerator(solver.New(), mpc.WithLogger(log)).Generate(ctx, s.config(), 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Unconstrained).To(BeTrue())
			Expect(c.Tightened).To(BeNil())
			Expect(strings.Join(lines, "\n")).To(ContainSubstring("unconstrained"))

			u, err := c.Solve(ctx, []float64{2})
			Expect(err).NotTo(HaveOccurred())
			Expect(u[0]).To(BeNumerically("~", -1, 1e-3))
		})
	})

	Describe("coefficient structure", func() {
		It("is the 1x1 identity for a single step", func() {
			c, err := gen.Generate(ctx, baseline.config(), 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Decay).To(BeEmpty())
			Expect(mat.Equal(c.Coefficients, mat.NewDense(1, 1, []float64{1}))).To(BeTrue())
		})

		It("has a unit diagonal and empty upper triangle", func() {
			for n := 1; n <= 6; n++ {
				c, err := gen.Generate(ctx, baseline.config(), n)
				Expect(err).NotTo(HaveOccurred())
				for k := 0; k < n; k++ {
					Expect(c.Coefficients.At(k, k)).To(Equal(1.0))
					for i := k + 1; i < n; i++ {
						Expect(c.Coefficients.At(k, i)).To(BeZero())
					}
				}
			}
		})
	})

	Describe("zero disturbance", func() {
		It("leaves the nominal constraints untightened", func() {
			s := baseline
			s.bw = 0
			c, err := gen.Generate(ctx, s.config(), 4)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.Decay).To(HaveEach(BeZero()))
			for _, tri := range c.Tensor {
				Expect(mat.Equal(tri, mat.NewTriDense(4, mat.Lower, nil))).To(BeTrue())
			}
			for _, row := range c.Tightening {
				for _, cv := range row {
					Expect(cv.Norms).To(BeEmpty())
					Expect(cv.Aff.IsZero()).To(BeTrue())
				}
			}
			for _, row := range c.Tightened.Expr {
				Expect(row.IsAffine()).To(BeTrue())
			}
		})
	})

	Describe("scalar plant with horizon two", func() {
		var c *mpc.Controller

		BeforeEach(func() {
			var err error
			c, err = gen.Generate(ctx, baseline.config(), 2)
			Expect(err).NotTo(HaveOccurred())
		})

		It("does not tighten the first step", func() {
			Expect(c.Tightening[0][0].Norms).To(BeEmpty())
		})

		It("tightens the second step by the first sensitivity", func() {
			Expect(c.Tightening[0][1].Weight(c.Phi[0])).To(BeNumerically(">", 0))
			Expect(c.Tightening[0][1].Weight(c.Phi[0])).To(BeNumerically("~", 1, 1e-12))
			Expect(c.Tightening[0][1].Weight(c.Phi[1])).To(BeZero())
		})

		It("returns the primary law when constraints are slack", func() {
			u, err := c.Solve(ctx, []float64{2})
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(HaveLen(1))
			Expect(u[0]).To(BeNumerically("~", -1, 1e-3))
		})

		It("refuses a reference trajectory", func() {
			_, err := c.SolveTracking(ctx, []float64{2}, mat.NewDense(1, 2, nil))
			Expect(err).To(MatchError(mpc.ErrTrackingDisabled))
		})

		It("rejects states of the wrong length", func() {
			_, err := c.Solve(ctx, []float64{1, 2})
			Expect(err).To(MatchError(mpc.ErrStateDimension))
		})

		It("is safe for concurrent solves", func() {
			var wg sync.WaitGroup
			out := make([]float64, 8)
			errs := make([]error, 8)
			for i := range out {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					u, err := c.Solve(ctx, []float64{2})
					errs[i] = err
					if err == nil {
						out[i] = u[0]
					}
				}(i)
			}
			wg.Wait()
			for i := range out {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(out[i]).To(BeNumerically("~", -1, 1e-3))
			}
		})
	})

	Describe("active tightened constraint", func() {
		It("steers the perturbation to the tightened boundary", func() {
			s := baseline
			s.k, s.kaux = 0, 0
			c, err := gen.Generate(ctx, s.config(), 2)
			Expect(err).NotTo(HaveOccurred())

			plan, err := c.Plan(ctx, []float64{4})
			Expect(err).NotTo(HaveOccurred())
			// x_1 = 2 + v_0 must satisfy x_1 + |x_0| <= 5.
			Expect(plan.U0[0]).To(BeNumerically("~", -1, 1e-3))
			Expect(plan.States[1][0]).To(BeNumerically("~", 1, 1e-3))
		})

		It("reports an infeasible initial state", func() {
			c, err := gen.Generate(ctx, baseline.config(), 2)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Solve(ctx, []float64{6})
			Expect(err).To(MatchError(solver.ErrInfeasible))
			var se *mpc.SolveError
			Expect(err).To(BeAssignableToTypeOf(se))
		})
	})

	Describe("soft constraints", func() {
		It("agrees with the hard problem at zero slack", func() {
			hard, err := gen.Generate(ctx, baseline.config(), 3)
			Expect(err).NotTo(HaveOccurred())
			s := baseline
			s.soft = true
			soft, err := gen.Generate(ctx, s.config(), 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(soft.Soft).To(BeTrue())
			Expect(soft.SlackBounds).NotTo(BeNil())

			par := []float64{1.5}
			decHard := make([]float64, hard.Problem.NumDecisions())
			for i := range decHard {
				decHard[i] = 0.1 * float64(i+1)
			}
			decSoft := make([]float64, soft.Problem.NumDecisions())
			copy(decSoft, decHard)

			hardRows := hard.Tightened.Eval(decHard, par)
			softRows := soft.Tightened.Eval(decSoft, par)
			Expect(softRows).To(HaveLen(len(hardRows)))
			for i := range hardRows {
				Expect(softRows[i]).To(BeNumerically("~", hardRows[i], 1e-12))
			}
			Expect(soft.SlackBounds.Eval(decSoft, par)).To(HaveEach(BeNumerically("<=", 0)))
			Expect(soft.Objective.Eval(decSoft, par)).To(BeNumerically("~", hard.Objective.Eval(decHard, par), 1e-12))
		})

		It("relaxes an infeasible start into a penalised solution", func() {
			s := baseline
			s.soft = true
			c, err := gen.Generate(ctx, s.config(), 2)
			Expect(err).NotTo(HaveOccurred())

			plan, err := c.Plan(ctx, []float64{6})
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Slack).To(HaveLen(2))
			Expect(plan.Slack[0][0]).To(BeNumerically("~", 1, 1e-3))
		})
	})

	Describe("reference tracking", func() {
		It("matches the plain controller for a zero reference model", func() {
			plain, err := gen.Generate(ctx, baseline.config(), 3)
			Expect(err).NotTo(HaveOccurred())

			s := baseline
			s.ref = &plant.Reference{Br: scalar(0), Dr: scalar(0)}
			s.kr = scalar(0)
			tracking, err := gen.Generate(ctx, s.config(), 3)
			Expect(err).NotTo(HaveOccurred())

			Expect(tracking.Decay).To(BeComparableTo(plain.Decay))
			Expect(tracking.Coefficients).To(BeComparableTo(plain.Coefficients, matrixEqual))
			Expect(tracking.Tensor).To(BeComparableTo(plain.Tensor, matrixEqual))

			_, err = tracking.Solve(ctx, []float64{2})
			Expect(err).To(MatchError(mpc.ErrReferenceRequired))

			want, err := plain.Solve(ctx, []float64{2})
			Expect(err).NotTo(HaveOccurred())
			got, err := tracking.SolveTracking(ctx, []float64{2}, mat.NewDense(1, 3, nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(got[0]).To(BeNumerically("~", want[0], 1e-3))
		})

		It("applies the feedforward gain to the first input", func() {
			s := baseline
			s.ref = &plant.Reference{Br: scalar(0), Dr: scalar(0)}
			s.kr = scalar(-1)
			c, err := gen.Generate(ctx, s.config(), 2)
			Expect(err).NotTo(HaveOccurred())

			u, err := c.SolveTracking(ctx, []float64{0}, mat.NewDense(1, 2, []float64{0.5, 0.5}))
			Expect(err).NotTo(HaveOccurred())
			Expect(u[0]).To(BeNumerically("~", 0.5, 1e-3))

			_, err = c.SolveTracking(ctx, []float64{0}, mat.NewDense(1, 3, nil))
			Expect(err).To(MatchError(plant.ErrDimensionMismatch))
		})
	})

	Describe("generation", func() {
		It("is deterministic", func() {
			a, err := gen.Generate(ctx, baseline.config(), 4)
			Expect(err).NotTo(HaveOccurred())
			b, err := gen.Generate(ctx, baseline.config(), 4)
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Decay).To(BeComparableTo(a.Decay))
			Expect(b.Coefficients).To(BeComparableTo(a.Coefficients, matrixEqual))
			Expect(b.Tensor).To(BeComparableTo(a.Tensor, matrixEqual))
			Expect(b.Objective).To(BeComparableTo(a.Objective, matrixEqual))
			Expect(b.Dynamics).To(BeComparableTo(a.Dynamics))
			Expect(b.Tightened).To(BeComparableTo(a.Tightened))
			Expect(b.Problem.Stats()).To(Equal(a.Problem.Stats()))
		})

		It("keeps the tightening convex", func() {
			c, err := gen.Generate(ctx, baseline.config(), 5)
			Expect(err).NotTo(HaveOccurred())
			for _, row := range c.Tightening {
				for _, cv := range row {
					for _, wn := range cv.Norms {
						Expect(wn.Weight).To(BeNumerically(">", 0))
					}
				}
			}
			Expect(c.Problem.Stats()).To(Equal(expr.Stats{
				Decisions:    10,
				Parameters:   1,
				Equalities:   5,
				Inequalities: 5,
				Norms:        4,
			}))
		})
	})
})
