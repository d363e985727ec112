package search

import (
	"fmt"
	"strings"
)

// State is the active behavior of the controller.
type State uint8

const (
	StateStopped State = iota + 1
	StateEstimatingGradient
	StateLineSearching
	StateFixedStepSearching
)

// States lists every valid state in declaration order.
var States = []State{
	StateStopped,
	StateEstimatingGradient,
	StateLineSearching,
	StateFixedStepSearching,
}

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateEstimatingGradient:
		return "ESTIMATING_GRADIENT"
	case StateLineSearching:
		return "LINE_SEARCHING"
	case StateFixedStepSearching:
		return "FIXED_STEP_SEARCHING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateStopped
}

// Technique selects how the controller descends after a gradient cycle.
type Technique uint8

const (
	SteepestDescent Technique = iota + 1
	FixedStep
)

func (t Technique) String() string {
	switch t {
	case SteepestDescent:
		return "steepest_descent"
	case FixedStep:
		return "fixed_step"
	default:
		return fmt.Sprintf("Technique(%d)", int(t))
	}
}

// ParseTechnique converts a technique name into a Technique.
func ParseTechnique(value string) (Technique, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case "steepest_descent", "line", "line_search":
		return SteepestDescent, nil
	case "fixed_step", "fixed":
		return FixedStep, nil
	default:
		return 0, fmt.Errorf("%w: unknown technique %q", ErrInvalidConfiguration, value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Technique) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Technique) UnmarshalText(b []byte) error {
	parsed, err := ParseTechnique(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Policy is the sign convention used to judge a reading as better.
//
// Descent treats lower readings as better and suits the inverted
// concentration field. Ascent treats higher readings as better and suits a
// plain density view.
type Policy uint8

const (
	Descent Policy = iota + 1
	Ascent
)

func (p Policy) String() string {
	switch p {
	case Descent:
		return "descent"
	case Ascent:
		return "ascent"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a policy name into a Policy.
func ParsePolicy(value string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "descent":
		return Descent, nil
	case "ascent":
		return Ascent, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidConfiguration, value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	parsed, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Improvement converts a reading change into a gain: positive means better.
func (p Policy) Improvement(delta float64) float64 {
	if p == Ascent {
		return delta
	}
	return -delta
}
