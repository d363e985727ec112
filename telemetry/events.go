// Package telemetry provides search progress tracking, run summaries and
// CSV/JSON output.
package telemetry

import (
	"github.com/pthm-cable/algaeseek/kinematics"
	"github.com/pthm-cable/algaeseek/search"
)

// TransitionEvent is a single controller state change, one row of
// transitions.csv.
type TransitionEvent struct {
	Tick          int     `csv:"tick"`
	Boat          int     `csv:"boat"`
	From          string  `csv:"from"`
	To            string  `csv:"to"`
	X             float64 `csv:"x"`
	Y             float64 `csv:"y"`
	Heading       float64 `csv:"heading"`
	Concentration float64 `csv:"concentration"`
}

// NewTransitionEvent converts a controller transition for boat id.
func NewTransitionEvent(tick, boat int, tr search.Transition) TransitionEvent {
	return TransitionEvent{
		Tick:          tick,
		Boat:          boat,
		From:          tr.From.String(),
		To:            tr.To.String(),
		X:             tr.Pose.X,
		Y:             tr.Pose.Y,
		Heading:       tr.Heading,
		Concentration: tr.Reading.Value(),
	}
}

// TrajectoryPoint is one committed pose of one boat, one row of
// trajectory.csv.
type TrajectoryPoint struct {
	Tick          int     `csv:"tick" db:"tick"`
	Boat          int     `csv:"boat" db:"boat"`
	X             float64 `csv:"x" db:"x"`
	Y             float64 `csv:"y" db:"y"`
	Theta         float64 `csv:"theta" db:"theta"`
	State         string  `csv:"state" db:"state"`
	Concentration float64 `csv:"concentration" db:"concentration"`
}

// NewTrajectoryPoint builds a trajectory row.
func NewTrajectoryPoint(tick, boat int, p kinematics.Pose, state search.State, concentration float64) TrajectoryPoint {
	return TrajectoryPoint{
		Tick:          tick,
		Boat:          boat,
		X:             p.X,
		Y:             p.Y,
		Theta:         p.Theta,
		State:         state.String(),
		Concentration: concentration,
	}
}
