package telemetry

import (
	"log/slog"
	"sort"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartTick int     `csv:"-"`
	WindowEndTick   int     `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Boat counts at window end
	ActiveBoats  int `csv:"active_boats"`
	StoppedBoats int `csv:"stopped_boats"`

	// Boat-ticks spent per state during the window
	EstimatingTicks int `csv:"estimating_ticks"`
	LineTicks       int `csv:"line_ticks"`
	FixedStepTicks  int `csv:"fixed_step_ticks"`

	// Events during window
	Transitions    int `csv:"transitions"`
	GradientCycles int `csv:"gradient_cycles"`
	Stops          int `csv:"stops"`

	// Mean reading over all boat-ticks in the window
	MeanConcentration float64 `csv:"mean_concentration"`

	// Distance of active boats to the field peak (sampled at window end)
	PeakDistMean float64 `csv:"peak_dist_mean"`
	PeakDistP10  float64 `csv:"peak_dist_p10"`
	PeakDistP50  float64 `csv:"peak_dist_p50"`
	PeakDistP90  float64 `csv:"peak_dist_p90"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeStats calculates mean and percentiles of values.
func ComputeStats(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	// Sort for percentiles
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStartTick),
		slog.Int("window_end", s.WindowEndTick),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("active_boats", s.ActiveBoats),
		slog.Int("stopped_boats", s.StoppedBoats),
		slog.Int("estimating_ticks", s.EstimatingTicks),
		slog.Int("line_ticks", s.LineTicks),
		slog.Int("fixed_step_ticks", s.FixedStepTicks),
		slog.Int("transitions", s.Transitions),
		slog.Int("gradient_cycles", s.GradientCycles),
		slog.Int("stops", s.Stops),
		slog.Float64("mean_concentration", s.MeanConcentration),
		slog.Float64("peak_dist_mean", s.PeakDistMean),
		slog.Float64("peak_dist_p50", s.PeakDistP50),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
