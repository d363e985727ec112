// Package search implements the local search controller that steers the boat
// toward the extremum of a concentration field using point samples only.
//
// The controller is a finite-state machine advanced one tick at a time. It
// never blocks: gradient estimation, which needs the boat to visit every
// sample point, is kept as resumable progress between calls to Step.
package search

import (
	"fmt"

	"github.com/pthm-cable/algaeseek/field"
	"github.com/pthm-cable/algaeseek/kinematics"
)

// Transition describes a state change, reported to Options.OnTransition.
type Transition struct {
	From    State
	To      State
	Tick    int
	Pose    kinematics.Pose
	Reading field.Reading
	Heading float64 // search heading in effect after the transition
}

// Options configures optional controller hooks.
type Options struct {
	// OnTransition is called synchronously on every state change.
	OnTransition func(Transition)
}

// handler runs one state's behavior for the current tick and returns the
// state that should be active afterwards.
type handler func(r field.Reading) State

// Controller is the search state machine for a single boat.
type Controller struct {
	cfg  Config
	opts Options

	handlers map[State]handler

	state   State
	pose    kinematics.Pose
	next    kinematics.Pose
	heading float64 // direction chosen by the last gradient cycle

	reading field.Reading
	hasRead bool
	ticks   int
	cycles  int

	// Per-state progress. cycle is nil until EstimatingGradient runs its
	// first tick of a new cycle.
	cycle       *GradientCycle
	lineRef     field.Reading
	fixedTarget [2]float64
	fixedArrive bool
}

// New returns a controller at the start pose, about to estimate a gradient.
func New(cfg Config, start kinematics.Pose, opts Options) (*Controller, error) {
	if cfg.Policy == 0 {
		cfg.Policy = Descent
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start.Theta = kinematics.NormalizeHeading(start.Theta)
	c := &Controller{
		cfg:     cfg,
		opts:    opts,
		state:   StateEstimatingGradient,
		pose:    start,
		next:    start,
		heading: start.Theta,
	}
	c.handlers = map[State]handler{
		StateStopped:            c.stopped,
		StateEstimatingGradient: c.estimateGradient,
		StateLineSearching:      c.lineSearch,
		StateFixedStepSearching: c.fixedStepSearch,
	}
	for _, s := range States {
		if _, ok := c.handlers[s]; !ok {
			return nil, fmt.Errorf("%w: no behavior for %s", ErrInvalidState, s)
		}
	}

	return c, nil
}

// Step advances the controller by one tick given the reading at its current
// pose. The proposed pose is available from Next afterwards.
//
// ErrInvalidState is returned when the active state has no behavior or the
// gradient progress is inconsistent. The controller must not be stepped again
// after such an error.
//
// Stepping a stopped controller changes nothing.
func (c *Controller) Step(r field.Reading) error {
	if c.state.Terminal() {
		return c.stepHandler(r)
	}

	c.reading = r
	c.hasRead = true
	c.ticks++

	// A tick may chain through several states (for example, a finished
	// gradient cycle immediately starts a line search), but never revisit
	// more states than exist.
	for range len(States) + 1 {
		h, ok := c.handlers[c.state]
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
		}

		to := h(r)
		if to == c.state {
			if c.cycle != nil {
				return c.cycle.Check(c.cfg.SampleCount)
			}
			return nil
		}
		c.enter(to)
	}

	return fmt.Errorf("%w: %s did not settle within one tick", ErrInvalidState, c.state)
}

func (c *Controller) stepHandler(r field.Reading) error {
	h, ok := c.handlers[c.state]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.state)
	}
	h(r)
	return nil
}

// enter switches to a new state and resets that state's progress.
func (c *Controller) enter(to State) {
	from := c.state
	c.state = to

	switch to {
	case StateEstimatingGradient:
		c.cycle = nil
	case StateLineSearching:
		c.lineRef = c.reading
	case StateFixedStepSearching:
		x, y := kinematics.Project(c.pose.X, c.pose.Y, c.heading, c.cfg.FixedStep)
		c.fixedTarget = [2]float64{x, y}
		c.fixedArrive = false
	}

	if c.opts.OnTransition != nil {
		c.opts.OnTransition(Transition{
			From:    from,
			To:      to,
			Tick:    c.ticks,
			Pose:    c.pose,
			Reading: c.reading,
			Heading: c.heading,
		})
	}
}

func (c *Controller) stopped(field.Reading) State {
	c.next = c.pose
	return StateStopped
}

func (c *Controller) estimateGradient(r field.Reading) State {
	n := c.cfg.SampleCount

	g := c.cycle
	if g == nil {
		g = newGradientCycle(c.pose, r, n)
		c.cycle = g
	}

	if g.arrived {
		// The boat reached the point last tick, so r was read there.
		if g.Index < n {
			g.Samples = append(g.Samples, Sample{
				X:       c.pose.X,
				Y:       c.pose.Y,
				Angle:   g.Angle(g.Index, n),
				Reading: r,
			})
		}
		g.Index++
		g.arrived = false
	}

	if !g.Complete(n) {
		tx, ty := g.Target(c.cfg.SamplingRadius, n)
		m := kinematics.TravelToward(c.pose.X, c.pose.Y, tx, ty, c.cfg.MaxStep())
		g.arrived = m.Reached
		c.next = m.Pose()
		return StateEstimatingGradient
	}

	c.cycles++
	c.cycle = nil
	c.next = c.pose

	best, gain := g.Best(c.cfg.Policy)
	if best < 0 || gain <= 0 {
		return StateStopped
	}

	c.heading = g.Samples[best].Angle
	c.next.Theta = c.heading
	if c.cfg.Technique == FixedStep {
		return StateFixedStepSearching
	}
	return StateLineSearching
}

func (c *Controller) lineSearch(r field.Reading) State {
	worse := c.cfg.Policy.Improvement(r.Delta(c.lineRef)) < 0
	c.lineRef = r
	if worse {
		return StateEstimatingGradient
	}

	x, y := kinematics.Project(c.pose.X, c.pose.Y, c.heading, c.cfg.MaxStep())
	c.next = kinematics.Pose{X: x, Y: y, Theta: c.heading}
	return StateLineSearching
}

func (c *Controller) fixedStepSearch(field.Reading) State {
	if c.fixedArrive {
		return StateEstimatingGradient
	}

	m := kinematics.TravelToward(c.pose.X, c.pose.Y, c.fixedTarget[0], c.fixedTarget[1], c.cfg.MaxStep())
	c.fixedArrive = m.Reached
	c.next = m.Pose()
	return StateFixedStepSearching
}

// SetPose commits the pose the driver applied, normally Next().
func (c *Controller) SetPose(p kinematics.Pose) {
	p.Theta = kinematics.NormalizeHeading(p.Theta)
	c.pose = p
	c.next = p
}

// Commit applies the proposed pose as the current one.
func (c *Controller) Commit() {
	c.SetPose(c.next)
}

// Pose returns the current pose.
func (c *Controller) Pose() kinematics.Pose { return c.pose }

// Next returns the pose proposed by the last Step.
func (c *Controller) Next() kinematics.Pose { return c.next }

// State returns the active state.
func (c *Controller) State() State { return c.state }

// Heading returns the search direction chosen by the last gradient cycle.
func (c *Controller) Heading() float64 { return c.heading }

// Reading returns the last reading passed to Step.
func (c *Controller) Reading() (field.Reading, bool) { return c.reading, c.hasRead }

// Concentration returns the value of the last reading passed to Step.
func (c *Controller) Concentration() float64 { return c.reading.Value() }

// Ticks returns the number of Step calls so far.
func (c *Controller) Ticks() int { return c.ticks }

// Cycles returns the number of completed gradient cycles.
func (c *Controller) Cycles() int { return c.cycles }

// Config returns the construction parameters.
func (c *Controller) Config() Config { return c.cfg }

// Progress returns a copy of the gradient cycle in progress. ok is false
// outside EstimatingGradient or before the cycle's first tick.
func (c *Controller) Progress() (GradientCycle, bool) {
	if c.state != StateEstimatingGradient || c.cycle == nil {
		return GradientCycle{}, false
	}
	return c.cycle.clone(), true
}
