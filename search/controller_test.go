package search

import (
	"errors"
	"math"
	"testing"

	"github.com/pthm-cable/algaeseek/field"
	"github.com/pthm-cable/algaeseek/kinematics"
)

const eps = 1e-9

var scenarioComponent = field.Component{
	Mean:       [2]float64{4.0, -4.6},
	Covariance: [2][2]float64{{10, 15}, {15, 40}},
}

var scenarioStart = kinematics.Pose{X: -4.0, Y: 17.0, Theta: math.Pi}

// drive runs the tick loop until the controller stops or maxTicks is reached
// and returns every committed pose.
func drive(t *testing.T, f *field.Field, c *Controller, maxTicks int) []kinematics.Pose {
	t.Helper()

	var trajectory []kinematics.Pose
	for c.Ticks() < maxTicks && c.State() != StateStopped {
		p := c.Pose()
		if err := c.Step(f.Evaluate(p.X, p.Y)); err != nil {
			t.Fatalf("Step at tick %d: %v", c.Ticks(), err)
		}
		c.Commit()
		trajectory = append(trajectory, c.Pose())
	}
	return trajectory
}

func TestScenarioConvergesSteepestDescent(t *testing.T) {
	f := field.MustNew(scenarioComponent)
	c, err := New(DefaultConfig(), scenarioStart, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	drive(t, f, c, 500)

	if c.State() != StateStopped {
		t.Fatalf("state after %d ticks = %s, want STOPPED", c.Ticks(), c.State())
	}
	p := c.Pose()
	if d := kinematics.Distance(p.X, p.Y, 4.0, -4.6); d > 1.5 {
		t.Errorf("final pose (%.3f, %.3f) is %.3f from the mean, want <= 1.5", p.X, p.Y, d)
	}
	if c.Cycles() < 2 {
		t.Errorf("Cycles() = %d, want at least 2", c.Cycles())
	}
}

func TestScenarioConvergesFixedStep(t *testing.T) {
	f := field.MustNew(scenarioComponent)
	cfg := DefaultConfig()
	cfg.Technique = FixedStep

	var sawLine bool
	c, err := New(cfg, scenarioStart, Options{
		OnTransition: func(tr Transition) {
			if tr.To == StateLineSearching {
				sawLine = true
			}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	drive(t, f, c, 2000)

	if c.State() != StateStopped {
		t.Fatalf("state after %d ticks = %s, want STOPPED", c.Ticks(), c.State())
	}
	p := c.Pose()
	if d := kinematics.Distance(p.X, p.Y, 4.0, -4.6); d > 1.5 {
		t.Errorf("final pose is %.3f from the mean, want <= 1.5", d)
	}
	if sawLine {
		t.Error("fixed-step technique entered LINE_SEARCHING")
	}
}

func TestIsotropicConvergesFromGrid(t *testing.T) {
	mx, my := 2.0, -3.0
	f := field.MustNew(field.Isotropic(mx, my, 9))
	cfg := DefaultConfig()

	for _, technique := range []Technique{SteepestDescent, FixedStep} {
		cfg.Technique = technique
		for x := -10.0; x <= 10; x += 5 {
			for y := -10.0; y <= 10; y += 5 {
				c, err := New(cfg, kinematics.Pose{X: x, Y: y}, Options{})
				if err != nil {
					t.Fatalf("New: %v", err)
				}
				drive(t, f, c, 2000)

				if c.State() != StateStopped {
					t.Errorf("%s from (%v, %v): state %s after %d ticks", technique, x, y, c.State(), c.Ticks())
					continue
				}
				p := c.Pose()
				if d := kinematics.Distance(p.X, p.Y, mx, my); d > cfg.SamplingRadius {
					t.Errorf("%s from (%v, %v): stopped %.3f from the mean", technique, x, y, d)
				}
			}
		}
	}
}

func TestAscentOnDensityMatchesDescent(t *testing.T) {
	f := field.MustNew(scenarioComponent)

	descent, _ := New(DefaultConfig(), scenarioStart, Options{})
	drive(t, f, descent, 500)

	cfg := DefaultConfig()
	cfg.Policy = Ascent
	ascent, err := New(cfg, scenarioStart, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for ascent.Ticks() < 500 && ascent.State() != StateStopped {
		p := ascent.Pose()
		if err := ascent.Step(f.Density(p.X, p.Y)); err != nil {
			t.Fatalf("Step: %v", err)
		}
		ascent.Commit()
	}

	if ascent.State() != StateStopped {
		t.Fatalf("ascent did not stop")
	}
	if ascent.Ticks() != descent.Ticks() {
		t.Errorf("ascent took %d ticks, descent %d", ascent.Ticks(), descent.Ticks())
	}
	if d := ascent.Pose().DistanceTo(descent.Pose()); d > 1e-6 {
		t.Errorf("ascent and descent stopped %.3g apart", d)
	}
}

func TestDeterministicTrajectory(t *testing.T) {
	f := field.MustNew(scenarioComponent)

	run := func() ([]kinematics.Pose, State) {
		c, err := New(DefaultConfig(), scenarioStart, Options{})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return drive(t, f, c, 500), c.State()
	}

	a, sa := run()
	b, sb := run()

	if sa != sb {
		t.Fatalf("terminal states differ: %s vs %s", sa, sb)
	}
	if len(a) != len(b) {
		t.Fatalf("trajectory lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("trajectories diverge at tick %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestStepsNeverExceedMaxStep(t *testing.T) {
	f := field.MustNew(scenarioComponent)
	cfg := DefaultConfig()

	for _, technique := range []Technique{SteepestDescent, FixedStep} {
		cfg.Technique = technique
		c, _ := New(cfg, scenarioStart, Options{})

		prev := c.Pose()
		for _, p := range drive(t, f, c, 2000) {
			if d := prev.DistanceTo(p); d > cfg.MaxStep()+eps {
				t.Fatalf("%s: moved %.6f in one tick, max %.6f", technique, d, cfg.MaxStep())
			}
			prev = p
		}
	}
}

func TestGradientCycleVisitsSamplesAndReturns(t *testing.T) {
	f := field.MustNew(scenarioComponent)
	cfg := DefaultConfig()
	cfg.SampleCount = 8
	c, _ := New(cfg, scenarioStart, Options{})

	var last GradientCycle
	for c.State() == StateEstimatingGradient && c.Ticks() < 200 {
		p := c.Pose()
		if err := c.Step(f.Evaluate(p.X, p.Y)); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if g, ok := c.Progress(); ok {
			if err := g.Check(cfg.SampleCount); err != nil {
				t.Fatalf("tick %d: %v", c.Ticks(), err)
			}
			last = g
		}
		// The concluding tick already proposes the first line-search step;
		// keep the pose at which the decision was made.
		if c.State() == StateEstimatingGradient {
			c.Commit()
		}
	}

	if c.Cycles() != 1 {
		t.Fatalf("Cycles() = %d, want 1", c.Cycles())
	}
	if len(last.Samples) != cfg.SampleCount {
		t.Fatalf("collected %d samples, want %d", len(last.Samples), cfg.SampleCount)
	}
	if last.Center.X != scenarioStart.X || last.Center.Y != scenarioStart.Y {
		t.Errorf("center = %+v, want start pose", last.Center)
	}
	for i, s := range last.Samples {
		if d := kinematics.Distance(s.X, s.Y, last.Center.X, last.Center.Y); math.Abs(d-cfg.SamplingRadius) > eps {
			t.Errorf("sample %d is %.6f from the center, want %v", i, d, cfg.SamplingRadius)
		}
		want := kinematics.NormalizeHeading(math.Pi + float64(i)*2*math.Pi/float64(cfg.SampleCount))
		if math.Abs(s.Angle-want) > eps {
			t.Errorf("sample %d angle = %v, want %v", i, s.Angle, want)
		}
		if got := f.Evaluate(s.X, s.Y); got != s.Reading {
			t.Errorf("sample %d reading = %+v, want the field at its position %+v", i, s.Reading, got)
		}
	}

	// The decision is taken back at the center.
	if p := c.Pose(); p.DistanceTo(last.Center) > eps {
		t.Errorf("pose after the cycle = %+v, want the center %+v", p, last.Center)
	}
}

func TestGradientCycleReentrancy(t *testing.T) {
	f := field.MustNew(scenarioComponent)
	cfg := DefaultConfig()

	var restart *kinematics.Pose
	resumed, _ := New(cfg, scenarioStart, Options{
		OnTransition: func(tr Transition) {
			if tr.To == StateEstimatingGradient && restart == nil {
				p := tr.Pose
				restart = &p
			}
		},
	})

	for restart == nil && resumed.Ticks() < 500 {
		p := resumed.Pose()
		if err := resumed.Step(f.Evaluate(p.X, p.Y)); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if restart == nil {
			resumed.Commit()
		}
	}
	if restart == nil {
		t.Fatal("controller never started a second gradient cycle")
	}

	fresh, _ := New(cfg, *restart, Options{})
	p := fresh.Pose()
	if err := fresh.Step(f.Evaluate(p.X, p.Y)); err != nil {
		t.Fatalf("Step: %v", err)
	}

	// Both controllers have now run the first tick of a cycle from the same
	// center. From here on they must agree until the cycle concludes.
	for i := 0; i < 3*cfg.SampleCount; i++ {
		if resumed.Next() != fresh.Next() {
			t.Fatalf("tick %d of the cycle: resumed proposes %+v, fresh %+v", i, resumed.Next(), fresh.Next())
		}
		if resumed.State() != fresh.State() {
			t.Fatalf("tick %d of the cycle: resumed in %s, fresh in %s", i, resumed.State(), fresh.State())
		}
		if resumed.State() != StateEstimatingGradient {
			if resumed.Heading() != fresh.Heading() {
				t.Errorf("headings differ: %v vs %v", resumed.Heading(), fresh.Heading())
			}
			return
		}

		resumed.Commit()
		fresh.Commit()
		for _, c := range []*Controller{resumed, fresh} {
			p := c.Pose()
			if err := c.Step(f.Evaluate(p.X, p.Y)); err != nil {
				t.Fatalf("Step: %v", err)
			}
		}
	}
	t.Fatal("gradient cycle did not conclude")
}

func TestBestTieBreakKeepsFirst(t *testing.T) {
	base := field.Reading{Offset: 1, Density: 0.1}
	g := GradientCycle{
		Baseline: base,
		Samples: []Sample{
			{Angle: 0, Reading: field.Reading{Offset: 1, Density: 0.05}},
			{Angle: 1, Reading: field.Reading{Offset: 1, Density: 0.2}},
			{Angle: 2, Reading: field.Reading{Offset: 1, Density: 0.3}},
			{Angle: 3, Reading: field.Reading{Offset: 1, Density: 0.3 * (1 + 1e-14)}},
			{Angle: 4, Reading: field.Reading{Offset: 1, Density: 0.3}},
		},
	}

	best, gain := g.Best(Descent)
	if best != 2 {
		t.Errorf("Best(Descent) index = %d, want 2", best)
	}
	if math.Abs(gain-0.2) > eps {
		t.Errorf("Best(Descent) gain = %v, want 0.2", gain)
	}

	best, _ = g.Best(Ascent)
	if best != 0 {
		t.Errorf("Best(Ascent) index = %d, want 0", best)
	}
}

func TestTieBreakPicksLowerAngularIndex(t *testing.T) {
	// From the origin with four samples, the directions pi and 3*pi/2 are
	// equally close to a feature at (-5, -5).
	f := field.MustNew(field.Isotropic(-5, -5, 4))
	cfg := DefaultConfig()
	cfg.SampleCount = 4

	c, _ := New(cfg, kinematics.Pose{}, Options{})
	for c.Cycles() == 0 && c.Ticks() < 100 {
		p := c.Pose()
		if err := c.Step(f.Evaluate(p.X, p.Y)); err != nil {
			t.Fatalf("Step: %v", err)
		}
		c.Commit()
	}

	if c.State() != StateLineSearching {
		t.Fatalf("state = %s, want LINE_SEARCHING", c.State())
	}
	if math.Abs(c.Heading()-math.Pi) > eps {
		t.Errorf("Heading() = %v, want pi", c.Heading())
	}
}

func TestStopsAtPeak(t *testing.T) {
	f := field.MustNew(field.Isotropic(1, 1, 2))
	c, _ := New(DefaultConfig(), kinematics.Pose{X: 1, Y: 1}, Options{})

	var transitions []Transition
	c.opts.OnTransition = func(tr Transition) { transitions = append(transitions, tr) }

	drive(t, f, c, 200)

	if c.State() != StateStopped {
		t.Fatalf("state = %s, want STOPPED", c.State())
	}
	if c.Cycles() != 1 {
		t.Errorf("Cycles() = %d, want 1", c.Cycles())
	}
	if len(transitions) != 1 || transitions[0].From != StateEstimatingGradient || transitions[0].To != StateStopped {
		t.Errorf("transitions = %+v, want a single ESTIMATING_GRADIENT -> STOPPED", transitions)
	}
	if p := c.Pose(); p.X != 1 || p.Y != 1 {
		t.Errorf("stopped at %+v, want the start point", p)
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	f := field.MustNew(field.Isotropic(0, 0, 2))
	c, _ := New(DefaultConfig(), kinematics.Pose{}, Options{})
	drive(t, f, c, 200)
	if c.State() != StateStopped {
		t.Fatalf("state = %s, want STOPPED", c.State())
	}

	final := c.Pose()
	ticks := c.Ticks()
	last := c.Concentration()
	for i := 0; i < 5; i++ {
		if err := c.Step(field.Scalar(-100)); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if c.State() != StateStopped || c.Next() != final {
			t.Fatalf("stopped controller moved to %+v in %s", c.Next(), c.State())
		}
	}
	if c.Ticks() != ticks || c.Concentration() != last {
		t.Errorf("stopped controller counted ticks or readings: %d ticks, %v", c.Ticks(), c.Concentration())
	}
}

func TestLineSearchTurnsBackWhenWorse(t *testing.T) {
	c, _ := New(DefaultConfig(), kinematics.Pose{}, Options{})
	c.heading = 0
	c.reading = field.Scalar(1)
	c.enter(StateLineSearching)

	if err := c.Step(field.Scalar(0.9)); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != StateLineSearching {
		t.Fatalf("state after improvement = %s", c.State())
	}
	if n := c.Next(); math.Abs(n.X-0.5) > eps || math.Abs(n.Y) > eps {
		t.Errorf("Next() = %+v, want one step east", n)
	}
	c.Commit()

	if err := c.Step(field.Scalar(0.95)); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != StateEstimatingGradient {
		t.Fatalf("state after overshoot = %s, want ESTIMATING_GRADIENT", c.State())
	}
	g, ok := c.Progress()
	if !ok {
		t.Fatal("no gradient cycle after overshoot")
	}
	if g.Center != c.Pose() || g.Baseline != field.Scalar(0.95) {
		t.Errorf("cycle center %+v baseline %+v, want the overshoot pose and reading", g.Center, g.Baseline)
	}
}

func TestFixedStepReachesTargetThenEstimates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Technique = FixedStep
	cfg.FixedStep = 1.2
	c, _ := New(cfg, kinematics.Pose{X: 1, Y: 1}, Options{})
	c.heading = math.Pi / 2
	c.enter(StateFixedStepSearching)

	for i := 0; i < 3; i++ {
		if err := c.Step(field.Scalar(1)); err != nil {
			t.Fatalf("Step: %v", err)
		}
		if c.State() != StateFixedStepSearching {
			t.Fatalf("tick %d: state = %s", i, c.State())
		}
		c.Commit()
	}

	if p := c.Pose(); math.Abs(p.X-1) > eps || math.Abs(p.Y-2.2) > eps {
		t.Fatalf("pose after fixed step = %+v, want (1, 2.2)", p)
	}

	if err := c.Step(field.Scalar(1)); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if c.State() != StateEstimatingGradient {
		t.Errorf("state after reaching target = %s, want ESTIMATING_GRADIENT", c.State())
	}
}

func TestUnknownStateIsFatal(t *testing.T) {
	c, _ := New(DefaultConfig(), kinematics.Pose{}, Options{})
	c.state = State(99)

	err := c.Step(field.Scalar(1))
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Step() error = %v, want ErrInvalidState", err)
	}
}

func TestCorruptProgressIsFatal(t *testing.T) {
	c, _ := New(DefaultConfig(), kinematics.Pose{}, Options{})
	if err := c.Step(field.Scalar(1)); err != nil {
		t.Fatalf("Step: %v", err)
	}
	c.Commit()

	c.cycle.Samples = append(c.cycle.Samples, Sample{})
	if err := c.Step(field.Scalar(1)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Step() error = %v, want ErrInvalidState", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.TickDuration = 0 }},
		{"negative velocity", func(c *Config) { c.Velocity = -1 }},
		{"zero radius", func(c *Config) { c.SamplingRadius = 0 }},
		{"zero samples", func(c *Config) { c.SampleCount = 0 }},
		{"nan fixed step", func(c *Config) { c.FixedStep = math.NaN() }},
		{"unknown technique", func(c *Config) { c.Technique = Technique(9) }},
		{"unknown policy", func(c *Config) { c.Policy = Policy(9) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, kinematics.Pose{}, Options{}); !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("New() error = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestNewDefaultsPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = 0
	c, err := New(cfg, kinematics.Pose{Theta: -math.Pi / 2}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Config().Policy != Descent {
		t.Errorf("Policy = %s, want descent", c.Config().Policy)
	}
	if math.Abs(c.Pose().Theta-3*math.Pi/2) > eps {
		t.Errorf("start heading = %v, want 3pi/2", c.Pose().Theta)
	}
}

func TestParseTechnique(t *testing.T) {
	tests := []struct {
		in      string
		want    Technique
		wantErr bool
	}{
		{"steepest_descent", SteepestDescent, false},
		{"Steepest-Descent", SteepestDescent, false},
		{"fixed", FixedStep, false},
		{" fixed_step ", FixedStep, false},
		{"random", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseTechnique(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTechnique(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTechnique(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	for _, s := range States {
		if s.String() == "" {
			t.Errorf("state %d has no name", s)
		}
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("String() = %q", got)
	}
	if !StateStopped.Terminal() || StateLineSearching.Terminal() {
		t.Error("only STOPPED is terminal")
	}
}
