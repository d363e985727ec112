package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/algaeseek/field"
	"github.com/pthm-cable/algaeseek/kinematics"
	"github.com/pthm-cable/algaeseek/search"
)

func TestSnapshotSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()

	snapshot := &Snapshot{
		Version: SnapshotVersion,
		RunID:   "run-1",
		Tick:    120,
		Field:   []field.Component{field.Isotropic(4, -4.6, 10)},
		Search:  search.DefaultConfig(),
		Boats: []BoatState{
			{
				ID:            0,
				Pose:          kinematics.Pose{X: 1, Y: 2, Theta: 0.5},
				State:         search.StateEstimatingGradient.String(),
				Heading:       0.5,
				Concentration: 0.99,
				Cycles:        3,
				Progress: &search.GradientCycle{
					Index:    2,
					Center:   kinematics.Pose{X: 1, Y: 2},
					Baseline: field.Reading{Offset: 1, Density: 0.01},
					Samples: []search.Sample{
						{X: 2.5, Y: 2, Angle: 0, Reading: field.Reading{Offset: 1, Density: 0.02}},
						{X: 1, Y: 3.5, Angle: 1.57, Reading: field.Reading{Offset: 1, Density: 0.005}},
					},
				},
			},
			{
				ID:    1,
				Pose:  kinematics.Pose{X: -3, Y: 4},
				State: search.StateStopped.String(),
			},
		},
	}

	path, err := SaveSnapshot(snapshot, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if filepath.Base(path) != "snapshot_run-1_120.json" {
		t.Errorf("file name = %s", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if loaded.Tick != 120 || loaded.RunID != "run-1" {
		t.Errorf("header = %d/%s", loaded.Tick, loaded.RunID)
	}
	if loaded.Search != snapshot.Search {
		t.Errorf("search config = %+v, want %+v", loaded.Search, snapshot.Search)
	}
	if len(loaded.Boats) != 2 {
		t.Fatalf("len(Boats) = %d, want 2", len(loaded.Boats))
	}

	p := loaded.Boats[0].Progress
	if p == nil {
		t.Fatal("progress not restored")
	}
	if err := p.Check(32); err != nil {
		t.Errorf("restored progress inconsistent: %v", err)
	}
	if p.Samples[1].Reading != snapshot.Boats[0].Progress.Samples[1].Reading {
		t.Errorf("sample reading = %+v", p.Samples[1].Reading)
	}
	if loaded.Boats[1].Progress != nil {
		t.Error("stopped boat gained progress")
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSummariesSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	in := []RunSummary{
		{RunID: "a", Boat: 0, State: "STOPPED", Ticks: 299, Converged: true, PeakDistance: 0.68},
		{RunID: "a", Boat: 1, State: "LINE_SEARCHING", Ticks: 5000},
	}
	if err := SaveSummaries(path, in); err != nil {
		t.Fatalf("SaveSummaries: %v", err)
	}
	out, err := LoadSummaries(path)
	if err != nil {
		t.Fatalf("LoadSummaries: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestLifetimeTracker(t *testing.T) {
	lt := NewLifetimeTracker()
	lt.Register(2, 0)
	lt.Register(1, 0)

	lt.RecordTick(1, search.StateEstimatingGradient, 0.9)
	lt.RecordTick(1, search.StateLineSearching, 0.7)
	lt.RecordMove(1, 0.5)
	lt.RecordMove(1, 0.25)
	lt.RecordTransition(1, 5, search.Transition{From: search.StateEstimatingGradient, To: search.StateStopped})

	// Unknown boats are ignored.
	lt.RecordTick(9, search.StateLineSearching, 1)

	s := lt.Get(1)
	if s.Ticks() != 2 || s.Distance != 0.75 {
		t.Errorf("ticks/distance = %d/%v", s.Ticks(), s.Distance)
	}
	if s.MinConcentration != 0.7 || s.MaxConcentration != 0.9 {
		t.Errorf("concentration range = [%v, %v]", s.MinConcentration, s.MaxConcentration)
	}
	if s.StopTick != 5 || s.Transitions != 1 {
		t.Errorf("stop/transitions = %d/%d", s.StopTick, s.Transitions)
	}

	// A boat that never ticked has an empty range, which must stay
	// encodable in runs.json.
	idle := lt.Get(2)
	if idle.StopTick != -1 {
		t.Error("running boat has a stop tick")
	}
	if idle.MinConcentration != 0 || idle.MaxConcentration != 0 {
		t.Errorf("idle range = [%v, %v], want zeros", idle.MinConcentration, idle.MaxConcentration)
	}
}

func TestLifetimeTrackerRangeStartsAtFirstReading(t *testing.T) {
	lt := NewLifetimeTracker()
	lt.Register(0, 0)

	// Both readings are above zero, so the range must not include the
	// zero value the stats start with.
	lt.RecordTick(0, search.StateEstimatingGradient, 1.5)
	lt.RecordTick(0, search.StateEstimatingGradient, 1.25)

	s := lt.Get(0)
	if s.MinConcentration != 1.25 || s.MaxConcentration != 1.5 {
		t.Errorf("range = [%v, %v], want [1.25, 1.5]", s.MinConcentration, s.MaxConcentration)
	}
}
