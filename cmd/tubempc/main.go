package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/san-kum/tubempc/internal/config"
	"github.com/san-kum/tubempc/internal/logging"
)

var (
	dataDir    string
	configFile string
	preset     string
	logLevel   string
	logFile    string

	horizon     int
	controller  string
	steps       int
	seed        int64
	runs        int
	initState   []float64
	reference   []float64
	disturbance float64
	extreme     bool
	soft        bool

	outPath    string
	metricName string
	sweepSpecs []string
	replayRun  string
)

// main registers the tubempc commands and executes the root command,
// exiting with status 1 on error.
func main() {
	rootCmd := &cobra.Command{
		Use:          "tubempc",
		Short:        "robust tube model-predictive controller generator",
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".tubempc", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotating file")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "generate a controller and print its tightening data",
		RunE:  inspect,
	}
	configFlags(inspectCmd)

	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "solve the horizon problem once for an initial state",
		RunE:  solveOnce,
	}
	configFlags(solveCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a closed-loop simulation and save it",
		RunE:  runSimulation,
	}
	configFlags(runCmd)
	simFlags(runCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot run results in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file, - for stdout")

	exportPNGCmd := &cobra.Command{
		Use:   "export-png [run_id]",
		Short: "render run plots to an image (png, svg or pdf by extension)",
		Args:  cobra.ExactArgs(1),
		RunE:  exportImage,
	}
	exportPNGCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default <run_id>.png)")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run a closed-loop simulation with live visualization",
		RunE:  runLive,
	}
	configFlags(liveCmd)
	simFlags(liveCmd)
	liveCmd.Flags().StringVar(&replayRun, "replay", "", "replay a saved run instead of simulating")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "grid search over horizon, slack weight, disturbance scale or seed",
		Example: "  tubempc sweep --preset double_integrator --param horizon=3,5,8 --param disturbance_scale=0.5,1",
		RunE:  runSweep,
	}
	configFlags(sweepCmd)
	simFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&sweepSpecs, "param", nil, "name=v1,v2,... (repeat flag)")
	sweepCmd.Flags().StringVar(&metricName, "metric", "stage_cost", "metric to minimize")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("presets:")
			for _, name := range config.ListPresets() {
				p := config.Presets[name]
				fmt.Printf("  %-18s horizon=%d controller=%s\n", name, p.Horizon, p.Controller)
			}
			return nil
		},
	}

	rootCmd.AddCommand(inspectCmd, solveCmd, runCmd, listCmd, plotCmd, exportJSONCmd, exportPNGCmd, liveCmd, sweepCmd, presetsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func configFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "scalar", "use preset configuration")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "prediction horizon (overrides config)")
	cmd.Flags().Float64SliceVar(&initState, "x0", nil, "initial state")
	cmd.Flags().Float64SliceVar(&reference, "ref", nil, "constant reference")
	cmd.Flags().BoolVar(&soft, "soft", false, "use soft constraints")
}

func simFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&controller, "controller", "", "controller (none, lqr, tube)")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of control samples")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	cmd.Flags().IntVar(&runs, "runs", 0, "number of seeded runs")
	cmd.Flags().Float64Var(&disturbance, "disturbance", 0, "disturbance scale relative to the output norm")
	cmd.Flags().BoolVar(&extreme, "extreme", false, "draw disturbances on the bound")
}

// loadConfig reads --config or --preset and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	flags := cmd.Flags()
	if flags.Changed("horizon") {
		cfg.Horizon = horizon
	}
	if flags.Changed("x0") {
		cfg.Sim.InitState = initState
	}
	if flags.Changed("ref") {
		cfg.Sim.Reference = reference
	}
	if flags.Changed("soft") && cfg.Constraints != nil {
		cfg.Constraints.Soft = soft
	}
	if flags.Changed("controller") {
		cfg.Controller = controller
	}
	if flags.Changed("steps") {
		cfg.Sim.Steps = steps
	}
	if flags.Changed("seed") {
		cfg.Sim.Seed = seed
	}
	if flags.Changed("runs") {
		cfg.Sim.Runs = runs
	}
	if flags.Changed("disturbance") {
		cfg.Sim.DisturbanceScale = disturbance
	}
	if flags.Changed("extreme") {
		cfg.Sim.Extreme = extreme
	}
	return cfg, cfg.Validate()
}

// newLogger builds the logger from the config, with --log-level and
// --log-file taking precedence.
func newLogger(cfg *config.Config) (logr.Logger, func(), error) {
	lc := cfg.Log
	if logLevel != "" {
		lc.Level = logLevel
	}
	if logFile != "" {
		lc.File = logFile
	}
	return logging.New(lc)
}
