package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/tubempc/internal/sim"
)

func testResult() *sim.Result {
	return &sim.Result{
		States:      []sim.State{{3, 0}, {2, -1}, {1, -0.5}},
		Controls:    []sim.Control{{-1}, {0.5}},
		Constraints: [][]float64{{-2, -8}, {-3, -7}},
		Times:       []float64{0, 1, 2},
		StepsTaken:  2,
	}
}

func TestNewPlot(t *testing.T) {
	for _, panel := range []Panel{States, Controls, Constraints} {
		p, err := NewPlot(testResult(), panel, "run")
		if err != nil {
			t.Fatalf("%s: %v", panel, err)
		}
		if p.Y.Label.Text == "" {
			t.Errorf("%s: expected a y label", panel)
		}
	}

	if _, err := NewPlot(testResult(), Panel("bogus"), ""); err == nil {
		t.Error("expected error for unknown panel")
	}
}

func TestEmptyRun(t *testing.T) {
	if _, err := NewPlot(&sim.Result{}, States, ""); !errors.Is(err, ErrEmptyRun) {
		t.Errorf("expected ErrEmptyRun, got %v", err)
	}
	if err := Write(&bytes.Buffer{}, nil, "", "png"); !errors.Is(err, ErrEmptyRun) {
		t.Errorf("expected ErrEmptyRun, got %v", err)
	}
}

func TestWriteFormats(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testResult(), "run", "png"); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("expected PNG signature")
	}

	buf.Reset()
	if err := Write(&buf, testResult(), "run", "svg"); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("<svg")) {
		t.Error("expected svg element")
	}

	if err := Write(&buf, testResult(), "run", "bmp-nope"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.png")
	if err := Save(path, testResult(), "run"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("expected non-empty file")
	}

	if err := Save(filepath.Join(dir, "run"), testResult(), "run"); err == nil {
		t.Error("expected error without extension")
	}
}

func TestUnconstrainedRunSkipsPanel(t *testing.T) {
	res := testResult()
	res.Constraints = [][]float64{nil, nil}
	plots, err := panels(res, "run")
	if err != nil {
		t.Fatal(err)
	}
	if len(plots) != 2 {
		t.Errorf("expected 2 panels, got %d", len(plots))
	}
}
