package telemetry

import "github.com/pthm-cable/algaeseek/search"

// Collector accumulates events within time windows and produces WindowStats.
type Collector struct {
	windowDurationSec   float64
	windowDurationTicks int
	dt                  float64

	// Current window tracking
	windowStartTick int

	// Counters for current window
	stateTicks    map[search.State]int
	transitions   int
	cycles        int
	stops         int
	concentration float64
	readings      int
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowDurationSec, dt float64) *Collector {
	ticksPerWindow := int(windowDurationSec / dt)
	if ticksPerWindow < 1 {
		ticksPerWindow = 1
	}

	return &Collector{
		windowDurationSec:   windowDurationSec,
		windowDurationTicks: ticksPerWindow,
		dt:                  dt,
		stateTicks:          make(map[search.State]int),
	}
}

// RecordTick records one boat spending a tick in state with the given reading.
func (c *Collector) RecordTick(state search.State, concentration float64) {
	c.stateTicks[state]++
	c.concentration += concentration
	c.readings++
}

// RecordTransition records a controller state change.
// Leaving EstimatingGradient completes a gradient cycle.
func (c *Collector) RecordTransition(tr search.Transition) {
	c.transitions++
	if tr.From == search.StateEstimatingGradient {
		c.cycles++
	}
	if tr.To == search.StateStopped {
		c.stops++
	}
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// Pending returns true if ticks have been recorded since the last flush.
func (c *Collector) Pending(currentTick int) bool {
	return currentTick > c.windowStartTick
}

// Flush produces a WindowStats and resets counters for the next window.
// distances are the current distances of the active boats to the field peak.
func (c *Collector) Flush(currentTick, activeBoats, stoppedBoats int, distances []float64) WindowStats {
	var meanConcentration float64
	if c.readings > 0 {
		meanConcentration = c.concentration / float64(c.readings)
	}

	distMean, distP10, distP50, distP90 := ComputeStats(distances)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) * c.dt,

		ActiveBoats:  activeBoats,
		StoppedBoats: stoppedBoats,

		EstimatingTicks: c.stateTicks[search.StateEstimatingGradient],
		LineTicks:       c.stateTicks[search.StateLineSearching],
		FixedStepTicks:  c.stateTicks[search.StateFixedStepSearching],

		Transitions:    c.transitions,
		GradientCycles: c.cycles,
		Stops:          c.stops,

		MeanConcentration: meanConcentration,

		PeakDistMean: distMean,
		PeakDistP10:  distP10,
		PeakDistP50:  distP50,
		PeakDistP90:  distP90,
	}

	// Reset for next window
	c.windowStartTick = currentTick
	clear(c.stateTicks)
	c.transitions = 0
	c.cycles = 0
	c.stops = 0
	c.concentration = 0
	c.readings = 0

	return stats
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int {
	return c.windowDurationTicks
}
