package telemetry

import (
	"math"

	"github.com/pthm-cable/algaeseek/search"
)

// BoatStats tracks per-boat statistics over a run.
type BoatStats struct {
	StartTick int
	StopTick  int // -1 while the boat is still searching

	// Ticks spent in each active state
	EstimatingTicks int
	LineTicks       int
	FixedStepTicks  int

	Transitions int

	Distance float64 // path length travelled

	// Range of the readings taken, zero before the first tick
	MinConcentration float64
	MaxConcentration float64
}

// Ticks returns the number of ticks the boat spent searching.
func (s *BoatStats) Ticks() int {
	return s.EstimatingTicks + s.LineTicks + s.FixedStepTicks
}

// LifetimeTracker manages per-boat statistics.
type LifetimeTracker struct {
	stats map[int]*BoatStats
}

// NewLifetimeTracker creates a new lifetime tracker.
func NewLifetimeTracker() *LifetimeTracker {
	return &LifetimeTracker{
		stats: make(map[int]*BoatStats),
	}
}

// Register creates stats for a boat starting at the given tick.
func (lt *LifetimeTracker) Register(boat, startTick int) {
	lt.stats[boat] = &BoatStats{
		StartTick: startTick,
		StopTick:  -1,
	}
}

// Get returns the stats for a boat, or nil if not found.
func (lt *LifetimeTracker) Get(boat int) *BoatStats {
	return lt.stats[boat]
}

// RecordTick records one tick in state with the reading taken at its start.
func (lt *LifetimeTracker) RecordTick(boat int, state search.State, concentration float64) {
	s := lt.stats[boat]
	if s == nil {
		return
	}
	if s.Ticks() == 0 {
		s.MinConcentration = concentration
		s.MaxConcentration = concentration
	}
	switch state {
	case search.StateEstimatingGradient:
		s.EstimatingTicks++
	case search.StateLineSearching:
		s.LineTicks++
	case search.StateFixedStepSearching:
		s.FixedStepTicks++
	}
	s.MinConcentration = math.Min(s.MinConcentration, concentration)
	s.MaxConcentration = math.Max(s.MaxConcentration, concentration)
}

// RecordMove adds travelled distance.
func (lt *LifetimeTracker) RecordMove(boat int, dist float64) {
	if s := lt.stats[boat]; s != nil {
		s.Distance += dist
	}
}

// RecordTransition records a state change. A stop records the stop tick.
func (lt *LifetimeTracker) RecordTransition(boat, tick int, tr search.Transition) {
	s := lt.stats[boat]
	if s == nil {
		return
	}
	s.Transitions++
	if tr.To == search.StateStopped {
		s.StopTick = tick
	}
}
