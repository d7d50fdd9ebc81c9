// Package tui draws a closed-loop run in the terminal as it happens.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

const (
	historyLen   = 60
	defaultDelay = 120 * time.Millisecond
	minDelay     = 10 * time.Millisecond
	maxDelay     = 2 * time.Second
)

type frameMsg Frame

type doneMsg struct{ err error }

type nextMsg struct{}

type Model struct {
	title  string
	source Source
	total  int

	paused   bool
	pending  bool
	finished bool
	err      error
	delay    time.Duration

	cur        Frame
	frames     int
	history    [][]float64
	controls   []float64
	violations int
	peak       float64

	width  int
	height int
}

// New returns a view over source. total is the expected number of frames,
// zero when unknown.
func New(title string, source Source, total int) Model {
	return Model{
		title:  title,
		source: source,
		total:  total,
		delay:  defaultDelay,
		peak:   math.Inf(-1),
		width:  80,
		height: 24,
	}
}

func (m Model) Init() tea.Cmd { return wait(m.source) }

func wait(s Source) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-s.Frames
		if !ok {
			return doneMsg{err: <-s.Done}
		}
		return frameMsg(f)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case frameMsg:
		m.record(Frame(msg))
		return m, tea.Tick(m.delay, func(time.Time) tea.Msg { return nextMsg{} })
	case nextMsg:
		if m.paused {
			m.pending = true
			return m, nil
		}
		return m, wait(m.source)
	case doneMsg:
		m.finished = true
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.err = msg.err
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.source.Stop()
		return m, tea.Quit
	case " ", "p":
		m.paused = !m.paused
		if !m.paused && m.pending {
			m.pending = false
			return m, wait(m.source)
		}
	case "+", "=":
		m.delay /= 2
		if m.delay < minDelay {
			m.delay = minDelay
		}
	case "-", "_":
		m.delay *= 2
		if m.delay > maxDelay {
			m.delay = maxDelay
		}
	}
	return m, nil
}

func (m *Model) record(f Frame) {
	m.cur = f
	m.frames++

	if len(m.history) < len(f.State) {
		m.history = make([][]float64, len(f.State))
	}
	for i, v := range f.State {
		m.history[i] = push(m.history[i], v)
	}
	if len(f.Control) > 0 {
		m.controls = push(m.controls, f.Control[0])
	}

	violated := false
	for _, g := range f.Constraint {
		if g > m.peak {
			m.peak = g
		}
		if g > 1e-6 {
			violated = true
		}
	}
	if violated {
		m.violations++
	}
}

func push(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > historyLen {
		s = s[len(s)-historyLen:]
	}
	return s
}

// Finished reports whether the source is exhausted.
func (m Model) Finished() bool { return m.finished }

// Err is the error the run ended with, if any.
func (m Model) Err() error { return m.err }

func (m Model) View() string {
	var b strings.Builder

	icon, status := green.Render("●"), green.Render("running")
	switch {
	case m.err != nil:
		icon, status = red.Render("✕"), red.Render("failed")
	case m.finished:
		icon, status = dim.Render("■"), dim.Render("done")
	case m.paused:
		icon, status = yellow.Render("○"), yellow.Render("paused")
	}
	b.WriteString(fmt.Sprintf("\n   %s %s  %s\n", icon, cyan.Render(m.title), status))
	b.WriteString(m.progress() + "\n\n")

	if m.frames == 0 {
		b.WriteString(dim.Render("   waiting for the first sample") + "\n")
	} else {
		b.WriteString(m.viewState())
		b.WriteString(m.viewConstraints())
		b.WriteString(m.viewGraph())
	}

	if m.err != nil {
		b.WriteString("\n   " + red.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + dim.Render("   space pause  ±speed  q quit") + "\n")
	return b.String()
}

func (m Model) progress() string {
	step := fmt.Sprintf("k=%d", m.cur.K)
	if m.total <= 0 {
		return "   " + dim.Render(step)
	}
	barWidth := 36
	filled := (m.cur.K + 1) * barWidth / m.total
	if m.frames == 0 {
		filled = 0
	}
	if filled > barWidth {
		filled = barWidth
	}
	bar := cyan.Render(strings.Repeat("━", filled)) + dimmer.Render(strings.Repeat("─", barWidth-filled))
	return fmt.Sprintf("   %s %s  %s", bar, dim.Render(fmt.Sprintf("%d/%d", m.cur.K+1, m.total)),
		dim.Render(fmt.Sprintf("%.0fms/step", float64(m.delay)/float64(time.Millisecond))))
}

func (m Model) viewState() string {
	var b strings.Builder
	b.WriteString("   ")
	for i, v := range m.cur.State {
		if i >= 6 {
			b.WriteString(dim.Render("…"))
			break
		}
		b.WriteString(dim.Render(fmt.Sprintf("x%d=", i)))
		b.WriteString(white.Render(fmt.Sprintf("%.3f", v)))
		b.WriteString("  ")
	}
	for i, v := range m.cur.Control {
		b.WriteString(dim.Render(fmt.Sprintf("u%d=", i)))
		b.WriteString(magenta.Render(fmt.Sprintf("%.3f", v)))
		b.WriteString("  ")
	}
	b.WriteString("\n")
	return b.String()
}

// viewConstraints draws one bar per row sized by its margin to zero.
func (m Model) viewConstraints() string {
	if len(m.cur.Constraint) == 0 {
		return "\n   " + dimmer.Render("unconstrained") + "\n"
	}

	scale := 0.0
	for _, g := range m.cur.Constraint {
		scale = math.Max(scale, math.Abs(g))
	}
	if scale == 0 {
		scale = 1
	}

	var b strings.Builder
	b.WriteString("\n")
	width := 30
	for i, g := range m.cur.Constraint {
		n := int(math.Abs(g) / scale * float64(width))
		style := green
		if g > 1e-6 {
			style = red
		} else if g > -0.1*scale {
			style = yellow
		}
		b.WriteString(fmt.Sprintf("   %s %s%s %s\n",
			dim.Render(fmt.Sprintf("g%-2d", i)),
			style.Render(strings.Repeat("█", n)),
			dimmer.Render(strings.Repeat("·", width-n)),
			style.Render(fmt.Sprintf("%+.3f", g))))
	}
	b.WriteString(fmt.Sprintf("   %s %s  %s %s\n",
		dim.Render("violations"), white.Render(fmt.Sprintf("%d/%d", m.violations, m.frames)),
		dim.Render("peak"), white.Render(fmt.Sprintf("%+.3f", m.peak))))
	return b.String()
}

func (m Model) viewGraph() string {
	var series [][]float64
	for _, h := range m.history {
		if len(h) > 1 {
			series = append(series, h)
		}
	}
	if len(series) == 0 {
		return ""
	}
	if len(series) > 4 {
		series = series[:4]
	}

	width := m.width - 16
	if width < 20 {
		width = 20
	}
	height := m.height - 16 - len(m.cur.Constraint)
	if height < 4 {
		height = 4
	}
	graph := asciigraph.PlotMany(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Precision(2),
		asciigraph.SeriesColors(asciigraph.Aqua, asciigraph.Yellow, asciigraph.Magenta, asciigraph.Green),
		asciigraph.Caption("state history"))

	var b strings.Builder
	b.WriteString("\n")
	for _, line := range strings.Split(graph, "\n") {
		b.WriteString("   " + line + "\n")
	}
	if len(m.controls) > 1 {
		b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("u0"), cyan.Render(sparkline(m.controls, 40))))
	}
	return b.String()
}

func sparkline(data []float64, width int) string {
	if len(data) == 0 {
		return ""
	}
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	minVal, maxVal := data[0], data[0]
	for _, v := range data {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	rang := maxVal - minVal
	if rang == 0 {
		rang = 1
	}
	step := len(data) / width
	if step < 1 {
		step = 1
	}
	var sb strings.Builder
	for i := 0; i < width && i*step < len(data); i++ {
		idx := int((data[i*step] - minVal) / rang * 7)
		if idx > 7 {
			idx = 7
		}
		if idx < 0 {
			idx = 0
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

// Run shows source full screen until it is exhausted and the user quits.
func Run(ctx context.Context, title string, source Source, total int) error {
	p := tea.NewProgram(New(title, source, total), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	source.Stop()
	if err != nil {
		return err
	}
	if m, ok := final.(Model); ok {
		return m.Err()
	}
	return nil
}
