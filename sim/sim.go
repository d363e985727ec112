// Package sim drives the search controllers: it owns the tick loop, samples
// the field at each boat, steps the controllers and commits their proposed
// poses.
package sim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/algaeseek/components"
	"github.com/pthm-cable/algaeseek/config"
	"github.com/pthm-cable/algaeseek/field"
	"github.com/pthm-cable/algaeseek/kinematics"
	"github.com/pthm-cable/algaeseek/metrics"
	"github.com/pthm-cable/algaeseek/search"
	"github.com/pthm-cable/algaeseek/telemetry"
)

// Options configures optional outputs of a simulation.
type Options struct {
	RunID          string
	Output         *telemetry.OutputManager // nil disables CSV output
	Metrics        *metrics.Metrics         // nil disables Prometheus metrics
	LogStats       bool                     // log window and perf stats via slog
	KeepTrajectory bool                     // keep every committed pose for Trajectory()
}

// Sim is a simulation of one or more boats searching the same field.
type Sim struct {
	cfg   *config.Config
	scfg  search.Config
	field *field.Field
	opts  Options

	peakX, peakY float64

	world  *ecs.World
	mapper *ecs.Map3[components.Position, components.Vessel, components.Track]
	filter *ecs.Filter3[components.Position, components.Vessel, components.Track]

	tick     int
	boats    int
	active   int
	finished bool

	collector *telemetry.Collector
	perf      *telemetry.PerfCollector
	lifetime  *telemetry.LifetimeTracker

	trajectory []telemetry.TrajectoryPoint
	tickPoints []telemetry.TrajectoryPoint
}

// New builds a simulation with one boat per configured start pose. The field
// is passed separately so callers can re-parameterize it between runs.
func New(cfg *config.Config, f *field.Field, opts Options) (*Sim, error) {
	world := ecs.NewWorld()

	s := &Sim{
		cfg:       cfg,
		scfg:      cfg.SearchConfig(),
		field:     f,
		opts:      opts,
		world:     world,
		mapper:    ecs.NewMap3[components.Position, components.Vessel, components.Track](world),
		filter:    ecs.NewFilter3[components.Position, components.Vessel, components.Track](world),
		collector: telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Search.TickDuration),
		perf:      telemetry.NewPerfCollector(),
		lifetime:  telemetry.NewLifetimeTracker(),
	}

	px, py, err := f.Peak()
	if err != nil {
		// Fall back to the primary mean; the peak is only used for reporting.
		slog.Warn("locating field peak failed", "error", err)
		c := f.Components()[0]
		px, py = c.Mean[0], c.Mean[1]
	}
	s.peakX, s.peakY = px, py

	for i, start := range cfg.StartPoses() {
		if err := s.spawnBoat(i, start); err != nil {
			return nil, fmt.Errorf("boat %d: %w", i, err)
		}
	}
	s.opts.Metrics.SetActive(s.active)

	return s, nil
}

// spawnBoat creates a boat entity with a fresh controller.
func (s *Sim) spawnBoat(id int, start kinematics.Pose) error {
	ctrl, err := search.New(s.scfg, start, search.Options{
		OnTransition: func(tr search.Transition) { s.onTransition(id, tr) },
	})
	if err != nil {
		return err
	}

	pos := components.Position{Pose: ctrl.Pose()}
	vessel := components.Vessel{ID: id, Controller: ctrl, Start: ctrl.Pose()}
	track := components.Track{LastState: ctrl.State()}
	s.mapper.NewEntity(&pos, &vessel, &track)

	s.lifetime.Register(id, s.tick)
	s.boats++
	s.active++
	return nil
}

// read evaluates the field at p using the view matching the sign policy.
func (s *Sim) read(p kinematics.Pose) field.Reading {
	if s.scfg.Policy == search.Ascent {
		return s.field.Density(p.X, p.Y)
	}
	return s.field.Evaluate(p.X, p.Y)
}

func (s *Sim) onTransition(boat int, tr search.Transition) {
	s.collector.RecordTransition(tr)
	s.lifetime.RecordTransition(boat, s.tick, tr)
	s.opts.Metrics.ObserveTransition(tr)
	if err := s.opts.Output.WriteTransition(telemetry.NewTransitionEvent(s.tick, boat, tr)); err != nil {
		slog.Warn("writing transition failed", "error", err)
	}
}

// Step advances every searching boat by one tick.
//
// An ErrInvalidState from a controller is fatal: the run stops and the error
// is returned.
func (s *Sim) Step() error {
	s.tick++
	s.perf.BeginTick()
	s.tickPoints = s.tickPoints[:0]

	query := s.filter.Query()
	for query.Next() {
		pos, vessel, track := query.Get()
		if vessel.Finished {
			continue
		}
		ctrl := vessel.Controller

		s.perf.Mark()
		r := s.read(pos.Pose)
		s.perf.Sensed()

		state := ctrl.State()
		err := ctrl.Step(r)
		s.perf.Stepped(state)
		if err != nil {
			query.Close()
			s.perf.EndTick()
			return fmt.Errorf("boat %d at tick %d: %w", vessel.ID, s.tick, err)
		}

		moved := pos.DistanceTo(ctrl.Next())
		ctrl.Commit()
		pos.Pose = ctrl.Pose()

		track.LastConcentration = r.Value()
		track.LastState = ctrl.State()

		s.collector.RecordTick(state, r.Value())
		s.lifetime.RecordTick(vessel.ID, state, r.Value())
		s.lifetime.RecordMove(vessel.ID, moved)
		s.opts.Metrics.ObserveTick(s.scfg.Technique)

		s.tickPoints = append(s.tickPoints, telemetry.NewTrajectoryPoint(s.tick, vessel.ID, pos.Pose, ctrl.State(), r.Value()))

		if ctrl.State().Terminal() {
			vessel.Finished = true
			s.active--
			s.finishBoat(pos, vessel, track)
		}
	}

	if s.opts.KeepTrajectory {
		s.trajectory = append(s.trajectory, s.tickPoints...)
	}
	if err := s.opts.Output.WriteTrajectory(s.tickPoints); err != nil {
		slog.Warn("writing trajectory failed", "error", err)
	}
	s.opts.Metrics.SetActive(s.active)
	s.perf.EndTick()

	if s.collector.ShouldFlush(s.tick) {
		s.flushWindow()
	}

	return nil
}

// finishBoat reports a boat that will not be stepped again.
func (s *Sim) finishBoat(pos *components.Position, vessel *components.Vessel, track *components.Track) {
	d := s.peakDistance(pos.Pose)
	converged := s.converged(pos.Pose, track.LastState)
	s.opts.Metrics.ObserveFinish(track.LastState, vessel.Controller.Ticks(), d, converged)

	slog.Info("boat finished",
		"boat", vessel.ID,
		"tick", s.tick,
		"state", track.LastState.String(),
		"pose", pos.Pose,
		"peak_distance", d,
		"converged", converged,
	)
}

func (s *Sim) peakDistance(p kinematics.Pose) float64 {
	return kinematics.Distance(p.X, p.Y, s.peakX, s.peakY)
}

// converged reports whether a boat stopped within the convergence radius of
// the peak.
func (s *Sim) converged(p kinematics.Pose, state search.State) bool {
	r := s.cfg.Derived.ConvergenceRadius
	return state == search.StateStopped && kinematics.DistanceSq(p.X, p.Y, s.peakX, s.peakY) <= r*r
}

func (s *Sim) flushWindow() {
	var distances []float64
	query := s.filter.Query()
	for query.Next() {
		pos, vessel, _ := query.Get()
		if !vessel.Finished {
			distances = append(distances, s.peakDistance(pos.Pose))
		}
	}

	stats := s.collector.Flush(s.tick, s.active, s.Boats()-s.active, distances)
	perf := s.perf.Flush()

	if s.opts.LogStats {
		stats.LogStats()
		perf.LogStats()
	}
	if err := s.opts.Output.WriteTelemetry(stats); err != nil {
		slog.Warn("writing telemetry failed", "error", err)
	}
	if err := s.opts.Output.WritePerf(perf, s.tick); err != nil {
		slog.Warn("writing perf failed", "error", err)
	}
}

// Run steps the simulation until every boat has stopped, the configured tick
// cap is reached, or ctx is cancelled. Unfinished boats are reported when the
// run ends for any reason other than an error.
func (s *Sim) Run(ctx context.Context) error {
	maxTicks := s.cfg.Sim.MaxTicks
	for !s.Done() {
		if err := ctx.Err(); err != nil {
			s.finish()
			return err
		}
		if maxTicks > 0 && s.tick >= maxTicks {
			slog.Info("max ticks reached", "tick", s.tick, "active", s.active)
			break
		}
		if err := s.Step(); err != nil {
			return err
		}
	}
	s.finish()
	return nil
}

// finish flushes the last partial window and reports unfinished boats.
func (s *Sim) finish() {
	if s.finished {
		return
	}
	s.finished = true

	if s.collector.Pending(s.tick) {
		s.flushWindow()
	}

	query := s.filter.Query()
	for query.Next() {
		pos, vessel, track := query.Get()
		if !vessel.Finished {
			vessel.Finished = true
			s.finishBoat(pos, vessel, track)
		}
	}
}

// Done reports whether every boat has stopped.
func (s *Sim) Done() bool {
	return s.active == 0
}

// Tick returns the number of ticks simulated.
func (s *Sim) Tick() int {
	return s.tick
}

// Boats returns the number of boats.
func (s *Sim) Boats() int {
	return s.boats
}

// Active returns the number of boats still searching.
func (s *Sim) Active() int {
	return s.active
}

// Peak returns the field peak used for convergence reporting.
func (s *Sim) Peak() (float64, float64) {
	return s.peakX, s.peakY
}

// Trajectory returns every committed pose when Options.KeepTrajectory is set.
func (s *Sim) Trajectory() []telemetry.TrajectoryPoint {
	return s.trajectory
}

// Results returns one summary per boat ordered by boat ID.
func (s *Sim) Results() []telemetry.RunSummary {
	out := make([]telemetry.RunSummary, s.Boats())

	query := s.filter.Query()
	for query.Next() {
		pos, vessel, track := query.Get()
		ctrl := vessel.Controller
		d := s.peakDistance(pos.Pose)
		state := ctrl.State()

		// Stopped controllers are not stepped again, so this is the
		// number of ticks the boat searched.
		ticks := ctrl.Ticks()
		stats := s.lifetime.Get(vessel.ID)

		out[vessel.ID] = telemetry.RunSummary{
			RunID:              s.opts.RunID,
			Boat:               vessel.ID,
			Technique:          s.scfg.Technique.String(),
			Policy:             ctrl.Config().Policy.String(),
			StartX:             vessel.Start.X,
			StartY:             vessel.Start.Y,
			FinalX:             pos.X,
			FinalY:             pos.Y,
			FinalTheta:         pos.Theta,
			State:              state.String(),
			Ticks:              ticks,
			SimTimeSec:         float64(ticks) * s.scfg.TickDuration,
			Distance:           stats.Distance,
			Cycles:             ctrl.Cycles(),
			Transitions:        stats.Transitions,
			FinalConcentration: track.LastConcentration,
			MinConcentration:   stats.MinConcentration,
			MaxConcentration:   stats.MaxConcentration,
			PeakX:              s.peakX,
			PeakY:              s.peakY,
			PeakDistance:       d,
			Converged:          s.converged(pos.Pose, state),
		}
	}

	return out
}

// Snapshot captures the observable state of every boat.
func (s *Sim) Snapshot() *telemetry.Snapshot {
	snap := &telemetry.Snapshot{
		Version: telemetry.SnapshotVersion,
		RunID:   s.opts.RunID,
		Tick:    s.tick,
		Field:   s.field.Components(),
		Search:  s.scfg,
		Boats:   make([]telemetry.BoatState, s.Boats()),
	}

	query := s.filter.Query()
	for query.Next() {
		pos, vessel, track := query.Get()
		ctrl := vessel.Controller
		b := telemetry.BoatState{
			ID:            vessel.ID,
			Pose:          pos.Pose,
			State:         ctrl.State().String(),
			Heading:       ctrl.Heading(),
			Concentration: track.LastConcentration,
			Cycles:        ctrl.Cycles(),
		}
		if g, ok := ctrl.Progress(); ok {
			b.Progress = &g
		}
		snap.Boats[vessel.ID] = b
	}

	return snap
}
