// Package export renders simulation runs as images with gonum/plot.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/san-kum/tubempc/internal/sim"
)

var ErrEmptyRun = errors.New("export: run has no samples")

const (
	DefaultWidth  = 18 * vg.Centimeter
	DefaultHeight = 10 * vg.Centimeter
)

// Panel names one of the plots drawn for a run.
type Panel string

const (
	States      Panel = "states"
	Controls    Panel = "controls"
	Constraints Panel = "constraints"
)

// NewPlot draws one panel of res. Constraints gets a dashed zero line
// marking the admissible boundary.
func NewPlot(res *sim.Result, panel Panel, title string) (*plot.Plot, error) {
	if res == nil || len(res.States) == 0 {
		return nil, ErrEmptyRun
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "t"
	p.Legend.Top = true

	var series [][]float64
	var prefix string
	switch panel {
	case States:
		p.Y.Label.Text = "x"
		prefix = "x"
		series = columns(asRows(res.States))
	case Controls:
		p.Y.Label.Text = "u"
		prefix = "u"
		series = columns(asRows(res.Controls))
	case Constraints:
		p.Y.Label.Text = "F x + G u + offset"
		prefix = "g"
		series = columns(res.Constraints)
	default:
		return nil, fmt.Errorf("export: unknown panel %q", panel)
	}

	for i, ys := range series {
		line, err := plotter.NewLine(plotterXY(res.Times, ys))
		if err != nil {
			return nil, fmt.Errorf("could not create line %s%d: %w", prefix, i, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1.5)
		if panel != States {
			line.StepStyle = plotter.PostStep
		}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s%d", prefix, i), line)
	}

	if panel == Constraints && len(series) > 0 {
		end := res.Times[len(series[0])-1]
		zero, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: end, Y: 0}})
		if err != nil {
			return nil, err
		}
		zero.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(zero)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// Save writes every non-empty panel of res stacked vertically. The format
// follows the extension of path: png, svg, pdf, jpg or tif.
func Save(path string, res *sim.Result, title string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return fmt.Errorf("export: %s has no file extension", path)
	}

	plots, err := panels(res, title)
	if err != nil {
		return err
	}

	w, err := write(plots, ext)
	if err != nil {
		return err
	}
	return save(path, w)
}

// Write renders the stacked panels to out in the given format.
func Write(out io.Writer, res *sim.Result, title, format string) error {
	plots, err := panels(res, title)
	if err != nil {
		return err
	}
	w, err := write(plots, format)
	if err != nil {
		return err
	}
	_, err = w.WriteTo(out)
	return err
}

func panels(res *sim.Result, title string) ([]*plot.Plot, error) {
	if res == nil || len(res.States) == 0 {
		return nil, ErrEmptyRun
	}
	plots := make([]*plot.Plot, 0, 3)
	for _, panel := range []Panel{States, Controls, Constraints} {
		if panel == Controls && len(res.Controls) == 0 {
			continue
		}
		if panel == Constraints && (len(res.Constraints) == 0 || len(res.Constraints[0]) == 0) {
			continue
		}
		name := title
		if len(plots) > 0 {
			name = ""
		}
		p, err := NewPlot(res, panel, name)
		if err != nil {
			return nil, err
		}
		plots = append(plots, p)
	}
	return plots, nil
}

func write(plots []*plot.Plot, format string) (vg.CanvasWriterTo, error) {
	height := DefaultHeight * vg.Length(len(plots))
	c, err := draw.NewFormattedCanvas(DefaultWidth, height, format)
	if err != nil {
		return nil, fmt.Errorf("could not create %s canvas: %w", format, err)
	}

	tiles := draw.Tiles{Rows: len(plots), Cols: 1}
	grid := make([][]*plot.Plot, len(plots))
	for i, p := range plots {
		grid[i] = []*plot.Plot{p}
	}
	canvases := plot.Align(grid, tiles, draw.New(c))
	for i, p := range plots {
		p.Draw(canvases[i][0])
	}
	return c, nil
}

func save(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("could not save plot: %w", err)
	}
	return f.Close()
}

func asRows[T ~[]float64](in []T) [][]float64 {
	out := make([][]float64, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}

// columns transposes rows into one series per component.
func columns(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]float64, len(rows[0]))
	for j := range out {
		out[j] = make([]float64, 0, len(rows))
		for _, r := range rows {
			if j < len(r) {
				out[j] = append(out[j], r[j])
			}
		}
	}
	return out
}

// plotterXY pairs ys with the leading entries of xs.
func plotterXY(xs, ys []float64) plotter.XYs {
	n := len(ys)
	if len(xs) < n {
		n = len(xs)
	}
	xy := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		xy[i].X = xs[i]
		xy[i].Y = ys[i]
	}
	return xy
}
