// Package components defines ECS components for the simulation.
package components

import (
	"github.com/pthm-cable/algaeseek/kinematics"
	"github.com/pthm-cable/algaeseek/search"
)

// Position represents a boat's committed pose.
type Position struct {
	kinematics.Pose
}

// Vessel holds a boat's identity and its search controller.
type Vessel struct {
	ID         int
	Controller *search.Controller
	Start      kinematics.Pose
	Finished   bool // stopped, or abandoned after an error
}

// Track holds per-tick bookkeeping the driver keeps for each boat.
type Track struct {
	LastConcentration float64
	LastState         search.State
}
