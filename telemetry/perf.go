package telemetry

import (
	"log/slog"
	"strings"
	"time"

	"github.com/pthm-cable/algaeseek/search"
)

// StepTiming is the wall time spent on one kind of per-boat work.
type StepTiming struct {
	Count int
	Total time.Duration
}

// Mean returns the average duration of one unit of work.
func (t StepTiming) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

func (t *StepTiming) add(d time.Duration) {
	t.Count++
	t.Total += d
}

// PerfCollector measures where the wall time of a tick goes: field readings,
// controller steps split by the state the controller was in when stepped,
// and everything else the driver does. Totals cover one stats window and are
// reset by Flush.
//
// Each measurement covers the time since the previous one (or since Mark),
// so a boat's work is timed as Mark, Sensed, Stepped.
type PerfCollector struct {
	now func() time.Time

	ticks     int
	tickTotal time.Duration
	tickMax   time.Duration
	sense     StepTiming
	steps     map[search.State]*StepTiming

	tickStart time.Time
	mark      time.Time
}

// NewPerfCollector returns a collector using the wall clock.
func NewPerfCollector() *PerfCollector {
	return newPerfCollector(time.Now)
}

func newPerfCollector(now func() time.Time) *PerfCollector {
	p := &PerfCollector{now: now, steps: make(map[search.State]*StepTiming, len(search.States))}
	for _, s := range search.States {
		p.steps[s] = &StepTiming{}
	}
	return p
}

// BeginTick starts timing a tick.
func (p *PerfCollector) BeginTick() {
	p.tickStart = p.now()
	p.mark = p.tickStart
}

// Mark starts the next measurement without attributing the elapsed time.
func (p *PerfCollector) Mark() {
	p.mark = p.now()
}

// Sensed attributes the time since the last mark to one field reading.
func (p *PerfCollector) Sensed() {
	p.sense.add(p.lap())
}

// Stepped attributes the time since the last mark to one controller step
// taken in state.
func (p *PerfCollector) Stepped(state search.State) {
	d := p.lap()
	t, ok := p.steps[state]
	if !ok {
		t = &StepTiming{}
		p.steps[state] = t
	}
	t.add(d)
}

func (p *PerfCollector) lap() time.Duration {
	now := p.now()
	d := now.Sub(p.mark)
	p.mark = now
	return d
}

// EndTick finishes the tick started by BeginTick.
func (p *PerfCollector) EndTick() {
	d := p.now().Sub(p.tickStart)
	p.ticks++
	p.tickTotal += d
	p.tickMax = max(p.tickMax, d)
}

// Flush returns the window's timings and starts a new window.
func (p *PerfCollector) Flush() PerfStats {
	stats := PerfStats{
		Ticks:   p.ticks,
		MaxTick: p.tickMax,
		Sense:   p.sense,
		Steps:   make(map[search.State]StepTiming, len(p.steps)),
	}

	busy := p.sense.Total
	for s, t := range p.steps {
		stats.Steps[s] = *t
		busy += t.Total
		*t = StepTiming{}
	}
	if p.ticks > 0 {
		stats.AvgTick = p.tickTotal / time.Duration(p.ticks)
		stats.Overhead = max(p.tickTotal-busy, 0) / time.Duration(p.ticks)
	}
	if p.tickTotal > 0 {
		stats.TicksPerSecond = float64(p.ticks) / p.tickTotal.Seconds()
	}
	stats.total = p.tickTotal

	p.ticks = 0
	p.tickTotal = 0
	p.tickMax = 0
	p.sense = StepTiming{}
	return stats
}

// PerfStats holds the timings of one stats window.
type PerfStats struct {
	Ticks          int
	AvgTick        time.Duration
	MaxTick        time.Duration
	TicksPerSecond float64

	Sense    StepTiming                  // field readings
	Steps    map[search.State]StepTiming // controller steps by state at step time
	Overhead time.Duration               // per tick, not attributed to readings or steps

	total time.Duration
}

// Share returns the percentage of the window's tick time spent stepping
// controllers in state.
func (s PerfStats) Share(state search.State) float64 {
	if s.total <= 0 {
		return 0
	}
	return float64(s.Steps[state].Total) / float64(s.total) * 100
}

// stateKey is the log and CSV prefix for a state, e.g. "line_searching".
func stateKey(state search.State) string {
	return strings.ToLower(state.String())
}

// LogStats logs the window's timings.
func (s PerfStats) LogStats() {
	slog.Info("perf", "window", s)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("ticks", s.Ticks),
		slog.Int64("avg_tick_us", s.AvgTick.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTick.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
		slog.Int64("sense_ns", s.Sense.Mean().Nanoseconds()),
	}

	// Stopped boats are never stepped.
	for _, state := range search.States {
		if state.Terminal() {
			continue
		}
		t := s.Steps[state]
		attrs = append(attrs, slog.Group(stateKey(state),
			slog.Int("steps", t.Count),
			slog.Int64("mean_ns", t.Mean().Nanoseconds()),
			slog.Float64("pct", s.Share(state)),
		))
	}

	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
// It has one steps/ns/pct column group per active search state.
type PerfStatsCSV struct {
	WindowEnd   int     `csv:"window_end"`
	Ticks       int     `csv:"ticks"`
	AvgTickUS   int64   `csv:"avg_tick_us"`
	MaxTickUS   int64   `csv:"max_tick_us"`
	TicksPerSec float64 `csv:"ticks_per_sec"`
	SenseNS     int64   `csv:"sense_ns"`
	OverheadNS  int64   `csv:"overhead_ns"`

	EstimatingSteps int     `csv:"estimating_gradient_steps"`
	EstimatingNS    int64   `csv:"estimating_gradient_ns"`
	EstimatingPct   float64 `csv:"estimating_gradient_pct"`

	LineSteps int     `csv:"line_searching_steps"`
	LineNS    int64   `csv:"line_searching_ns"`
	LinePct   float64 `csv:"line_searching_pct"`

	FixedStepSteps int     `csv:"fixed_step_searching_steps"`
	FixedStepNS    int64   `csv:"fixed_step_searching_ns"`
	FixedStepPct   float64 `csv:"fixed_step_searching_pct"`
}

// stateColumns returns the column group for state, or nils for states
// without one.
func (row *PerfStatsCSV) stateColumns(state search.State) (*int, *int64, *float64) {
	switch state {
	case search.StateEstimatingGradient:
		return &row.EstimatingSteps, &row.EstimatingNS, &row.EstimatingPct
	case search.StateLineSearching:
		return &row.LineSteps, &row.LineNS, &row.LinePct
	case search.StateFixedStepSearching:
		return &row.FixedStepSteps, &row.FixedStepNS, &row.FixedStepPct
	}
	return nil, nil, nil
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(windowEnd int) PerfStatsCSV {
	row := PerfStatsCSV{
		WindowEnd:   windowEnd,
		Ticks:       s.Ticks,
		AvgTickUS:   s.AvgTick.Microseconds(),
		MaxTickUS:   s.MaxTick.Microseconds(),
		TicksPerSec: s.TicksPerSecond,
		SenseNS:     s.Sense.Mean().Nanoseconds(),
		OverheadNS:  s.Overhead.Nanoseconds(),
	}
	for _, state := range search.States {
		steps, ns, pct := row.stateColumns(state)
		if steps == nil {
			continue
		}
		t := s.Steps[state]
		*steps = t.Count
		*ns = t.Mean().Nanoseconds()
		*pct = s.Share(state)
	}
	return row
}
