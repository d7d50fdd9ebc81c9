package store

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/tubempc/internal/sim"
)

type ExportData struct {
	Preset      string             `json:"preset"`
	Controller  string             `json:"controller"`
	Horizon     int                `json:"horizon"`
	Dt          float64            `json:"dt"`
	Steps       int                `json:"steps"`
	Times       []float64          `json:"times"`
	States      [][]float64        `json:"states"`
	Controls    [][]float64        `json:"controls"`
	Constraints [][]float64        `json:"constraints,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

func NewExportData(meta RunMetadata, result *sim.Result) ExportData {
	data := ExportData{
		Preset:      meta.Preset,
		Controller:  meta.Controller,
		Horizon:     meta.Horizon,
		Dt:          meta.Dt,
		Steps:       result.StepsTaken,
		Times:       result.Times,
		States:      make([][]float64, len(result.States)),
		Controls:    make([][]float64, len(result.Controls)),
		Constraints: result.Constraints,
		Metrics:     result.Metrics,
	}
	for i, s := range result.States {
		data.States[i] = s
	}
	for i, c := range result.Controls {
		data.Controls[i] = c
	}
	return data
}

func WriteJSON(w io.Writer, meta RunMetadata, result *sim.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewExportData(meta, result))
}

// ExportJSON writes the run to path, or to stdout when path is "-".
func ExportJSON(path string, meta RunMetadata, result *sim.Result) error {
	if path == "-" {
		return WriteJSON(os.Stdout, meta, result)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteJSON(f, meta, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
