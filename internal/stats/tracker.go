package stats

import (
	"fmt"
	"io"
	"strings"
	"time"

	"cfeagent/internal/model"
)

// DefaultTolerance is the Manhattan radius within which an end position
// counts as reaching the exit or a local minimum.
const DefaultTolerance = 1

// PerformanceTracker classifies where episodes end: at the exit (global),
// near one of the configured local minima, or elsewhere.
type PerformanceTracker struct {
	minima    []model.Cell
	tolerance int
	counts    model.OutcomeCounts
}

func NewPerformanceTracker(minima []model.Cell, tolerance int) *PerformanceTracker {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	t := &PerformanceTracker{
		minima:    append([]model.Cell(nil), minima...),
		tolerance: tolerance,
	}
	t.Reset()
	return t
}

func (t *PerformanceTracker) Reset() {
	t.counts = model.OutcomeCounts{Local: make([]int, len(t.minima))}
}

// Classify reports the outcome for an episode ending at final. When final is
// close to several local minima the last one listed wins. The returned index
// is 1-based and only meaningful for OutcomeLocal.
func (t *PerformanceTracker) Classify(final, exit model.Cell) (model.Outcome, int) {
	local := -1
	for i, m := range t.minima {
		if distance(final, m) <= t.tolerance {
			local = i
		}
	}
	switch {
	case distance(final, exit) <= t.tolerance:
		return model.OutcomeGlobal, 0
	case local >= 0:
		return model.OutcomeLocal, local + 1
	default:
		return model.OutcomeOther, 0
	}
}

// Track classifies and counts one episode.
func (t *PerformanceTracker) Track(final, exit model.Cell) (model.Outcome, int) {
	outcome, local := t.Classify(final, exit)
	t.Add(outcome, local)
	return outcome, local
}

// Add counts an already classified outcome.
func (t *PerformanceTracker) Add(outcome model.Outcome, local int) {
	switch outcome {
	case model.OutcomeGlobal:
		t.counts.Global++
	case model.OutcomeLocal:
		if local >= 1 && local <= len(t.counts.Local) {
			t.counts.Local[local-1]++
			return
		}
		t.counts.Other++
	default:
		t.counts.Other++
	}
}

func (t *PerformanceTracker) Counts() model.OutcomeCounts {
	out := t.counts
	out.Local = append([]int(nil), t.counts.Local...)
	return out
}

// Probabilities returns the empirical frequencies of each outcome; all zero
// when nothing was tracked.
func Probabilities(c model.OutcomeCounts) (global float64, local []float64, other float64) {
	local = make([]float64, len(c.Local))
	total := c.Total()
	if total == 0 {
		return 0, local, 0
	}
	n := float64(total)
	for i, v := range c.Local {
		local[i] = float64(v) / n
	}
	return float64(c.Global) / n, local, float64(c.Other) / n
}

func (t *PerformanceTracker) WriteTo(w io.Writer) (int64, error) {
	return writeString(w, performanceSection(t.counts))
}

func performanceSection(c model.OutcomeCounts) string {
	global, local, other := Probabilities(c)
	var sb strings.Builder
	sb.WriteString("========== MAZE PERFORMANCE TRACKER ==========\n")
	fmt.Fprintf(&sb, "P(global): %g\n", global)
	for i, p := range local {
		fmt.Fprintf(&sb, "P(local %d): %g\n", i+1, p)
	}
	fmt.Fprintf(&sb, "P(other): %g\n\n", other)
	return sb.String()
}

func distance(a, b model.Cell) int {
	return abs(a.Row-b.Row) + abs(a.Col-b.Col)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// TimeTracker measures wall-clock running time between Tic and Toc.
type TimeTracker struct {
	now   func() time.Time
	start time.Time
	stop  time.Time
}

func NewTimeTracker() *TimeTracker {
	return newTimeTracker(time.Now)
}

func newTimeTracker(now func() time.Time) *TimeTracker {
	t := now()
	return &TimeTracker{now: now, start: t, stop: t}
}

func (t *TimeTracker) Tic() { t.start = t.now() }
func (t *TimeTracker) Toc() { t.stop = t.now() }

func (t *TimeTracker) Elapsed() time.Duration { return t.stop.Sub(t.start) }

func (t *TimeTracker) WriteTo(w io.Writer) (int64, error) {
	return writeString(w, timeSection(t.Elapsed()))
}

func timeSection(d time.Duration) string {
	return "========== TIME TRACKER ==========\nRunning Time: " + d.String() + "\n"
}

func writeString(w io.Writer, s string) (int64, error) {
	n, err := io.WriteString(w, s)
	return int64(n), err
}
