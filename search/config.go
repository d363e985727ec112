package search

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidConfiguration is returned when a controller cannot be built
	// from the given parameters.
	ErrInvalidConfiguration = errors.New("search: invalid configuration")

	// ErrInvalidState is returned by Step when the controller is in a state
	// with no behavior. It is a programming error and the run must stop.
	ErrInvalidState = errors.New("search: invalid state")
)

// Config holds the parameters fixed at construction.
type Config struct {
	TickDuration   float64   `json:"tick_duration"`   // seconds per tick
	Velocity       float64   `json:"velocity"`        // meters per second
	SamplingRadius float64   `json:"sampling_radius"` // distance of gradient samples from the center
	SampleCount    int       `json:"sample_count"`    // samples per gradient cycle
	FixedStep      float64   `json:"fixed_step"`      // distance covered per fixed-step leg
	Technique      Technique `json:"technique"`       // descent strategy after a gradient cycle
	Policy         Policy    `json:"policy"`          // sign convention; zero means Descent
}

// DefaultConfig returns the parameters of the reference scenario.
func DefaultConfig() Config {
	return Config{
		TickDuration:   0.5,
		Velocity:       1.0,
		SamplingRadius: 1.5,
		SampleCount:    32,
		FixedStep:      1.0,
		Technique:      SteepestDescent,
		Policy:         Descent,
	}
}

// MaxStep is the furthest the boat travels in one tick.
func (c Config) MaxStep() float64 {
	return c.Velocity * c.TickDuration
}

// AngleStep is the angular spacing between gradient samples.
func (c Config) AngleStep() float64 {
	return twoPi / float64(c.SampleCount)
}

// Validate checks every parameter eagerly.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"tick duration", c.TickDuration},
		{"velocity", c.Velocity},
		{"sampling radius", c.SamplingRadius},
		{"fixed step", c.FixedStep},
	}
	for _, p := range positive {
		if !(p.value > 0) || math.IsInf(p.value, 0) {
			return fmt.Errorf("%w: %s must be positive and finite, got %v", ErrInvalidConfiguration, p.name, p.value)
		}
	}

	if c.SampleCount <= 0 {
		return fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidConfiguration, c.SampleCount)
	}

	switch c.Technique {
	case SteepestDescent, FixedStep:
	default:
		return fmt.Errorf("%w: unknown technique %v", ErrInvalidConfiguration, c.Technique)
	}

	switch c.Policy {
	case 0, Descent, Ascent:
	default:
		return fmt.Errorf("%w: unknown policy %v", ErrInvalidConfiguration, c.Policy)
	}

	return nil
}
