// Package store persists simulation runs as a directory per run holding
// metadata.json and states.csv.
package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/tubempc/internal/sim"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Preset     string             `json:"preset"`
	Controller string             `json:"controller"`
	Horizon    int                `json:"horizon"`
	Soft       bool               `json:"soft"`
	Timestamp  time.Time          `json:"timestamp"`
	Seed       int64              `json:"seed"`
	Dt         float64            `json:"dt"`
	Steps      int                `json:"steps"`
	Metrics    map[string]float64 `json:"metrics"`
}

// Trajectory is a run read back from states.csv. Controls has one entry per
// transition; the zero padding of the final row is dropped.
type Trajectory struct {
	Times       []float64
	States      [][]float64
	Controls    [][]float64
	Constraints [][]float64
}

// Save writes result under a fresh run ID. ID, Timestamp, Steps and Metrics
// of meta are filled in from the run.
func (s *Store) Save(meta RunMetadata, result *sim.Result) (string, error) {
	name := meta.Preset
	if name == "" {
		name = "run"
	}
	now := time.Now()
	runID := fmt.Sprintf("%s_%d", name, now.UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta.ID = runID
	meta.Timestamp = now
	meta.Steps = result.StepsTaken
	meta.Metrics = result.Metrics

	if err := writeJSON(filepath.Join(runDir, "metadata.json"), meta); err != nil {
		return "", err
	}
	if err := writeStates(filepath.Join(runDir, "states.csv"), result); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeStates(path string, result *sim.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if len(result.States) == 0 {
		w.Flush()
		return w.Error()
	}

	nx := len(result.States[0])
	nu := 0
	if len(result.Controls) > 0 {
		nu = len(result.Controls[0])
	}
	nc := 0
	if len(result.Constraints) > 0 {
		nc = len(result.Constraints[0])
	}

	header := []string{"time"}
	for i := 0; i < nx; i++ {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	for i := 0; i < nu; i++ {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	for i := 0; i < nc; i++ {
		header = append(header, fmt.Sprintf("g%d", i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i := range result.States {
		row := []string{format(result.Times[i])}
		for _, v := range result.States[i] {
			row = append(row, format(v))
		}
		row = appendPadded(row, result.Controls, i, nu)
		row = appendPadded(row, result.Constraints, i, nc)
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func appendPadded[T ~[]float64](row []string, rows []T, i, width int) []string {
	if i < len(rows) && len(rows[i]) == width {
		for _, v := range rows[i] {
			row = append(row, format(v))
		}
		return row
	}
	for j := 0; j < width; j++ {
		row = append(row, "0")
	}
	return row
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// List returns the stored runs, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) LoadStates(runID string) (*Trajectory, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, "states.csv"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	tr := &Trajectory{}
	if len(records) < 2 {
		return tr, nil
	}

	kinds := make([]byte, len(records[0]))
	for j, name := range records[0] {
		if j > 0 && name != "" {
			kinds[j] = name[0]
		}
	}

	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("store: %s row %d: %w", runID, i, err)
		}

		var x, u, g []float64
		for j := 1; j < len(record) && j < len(kinds); j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("store: %s row %d col %d: %w", runID, i, j, err)
			}
			switch kinds[j] {
			case 'x':
				x = append(x, v)
			case 'u':
				u = append(u, v)
			case 'g':
				g = append(g, v)
			}
		}

		tr.Times = append(tr.Times, t)
		tr.States = append(tr.States, x)
		if i < len(records)-1 {
			if u != nil {
				tr.Controls = append(tr.Controls, u)
			}
			if g != nil {
				tr.Constraints = append(tr.Constraints, g)
			}
		}
	}
	return tr, nil
}

// Result rebuilds a sim.Result from a stored run for plotting and export.
func (tr *Trajectory) Result(meta *RunMetadata) *sim.Result {
	res := &sim.Result{
		Times:       tr.Times,
		Constraints: tr.Constraints,
		StepsTaken:  len(tr.States) - 1,
	}
	if meta != nil {
		res.Metrics = meta.Metrics
	}
	for _, x := range tr.States {
		res.States = append(res.States, sim.State(x))
	}
	for _, u := range tr.Controls {
		res.Controls = append(res.Controls, sim.Control(u))
	}
	if res.StepsTaken < 0 {
		res.StepsTaken = 0
	}
	return res
}
