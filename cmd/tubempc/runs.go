package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/tubempc/internal/export"
	"github.com/san-kum/tubempc/internal/sim"
	"github.com/san-kum/tubempc/internal/store"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := store.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRESET\tTIME\tCTRL\tN\tSTEPS\tSEED\tVIOLATIONS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%.2f%%\n",
			run.ID,
			run.Preset,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Controller,
			run.Horizon,
			run.Steps,
			run.Seed,
			100*run.Metrics["violation_rate"],
		)
	}

	return w.Flush()
}

func loadRun(runID string) (*store.RunMetadata, *sim.Result, error) {
	st := store.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	tr, err := st.LoadStates(runID)
	if err != nil {
		return nil, nil, err
	}
	return meta, tr.Result(meta), nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	meta, res, err := loadRun(args[0])
	if err != nil {
		return err
	}
	if len(res.States) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("preset: %s  controller: %s  horizon: %d\n", meta.Preset, meta.Controller, meta.Horizon)
	fmt.Printf("samples: %d\n\n", len(res.States))

	numVars := len(res.States[0])
	maxPlots := 6
	if numVars > maxPlots {
		numVars = maxPlots
	}

	for varIdx := 0; varIdx < numVars; varIdx++ {
		data := make([]float64, len(res.States))
		for i := range res.States {
			data[i] = res.States[i][varIdx]
		}
		plotSeries(data, fmt.Sprintf("x%d vs time", varIdx))
	}

	if len(res.Controls) > 1 {
		for j := range res.Controls[0] {
			data := make([]float64, len(res.Controls))
			for i := range res.Controls {
				data[i] = res.Controls[i][j]
			}
			plotSeries(data, fmt.Sprintf("u%d vs time", j))
		}
	}

	if len(res.Constraints) > 1 && len(res.Constraints[0]) > 0 {
		worst := make([]float64, len(res.Constraints))
		for i, g := range res.Constraints {
			worst[i] = g[0]
			for _, v := range g {
				if v > worst[i] {
					worst[i] = v
				}
			}
		}
		plotSeries(worst, "max constraint value (<= 0 is admissible)")
	}
	return nil
}

func plotSeries(data []float64, caption string) {
	graph := asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption(caption),
	)
	fmt.Println(graph)
	fmt.Println()
}

func exportJSON(cmd *cobra.Command, args []string) error {
	meta, res, err := loadRun(args[0])
	if err != nil {
		return err
	}
	if err := store.ExportJSON(outPath, *meta, res); err != nil {
		return err
	}
	if outPath != "-" {
		fmt.Printf("exported to %s\n", outPath)
	}
	return nil
}

func exportImage(cmd *cobra.Command, args []string) error {
	meta, res, err := loadRun(args[0])
	if err != nil {
		return err
	}
	path := outPath
	if path == "" {
		path = meta.ID + ".png"
	}
	title := fmt.Sprintf("%s (%s, N=%d)", meta.Preset, meta.Controller, meta.Horizon)
	if err := export.Save(path, res, title); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", path)
	return nil
}
