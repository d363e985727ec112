package search

import (
	"fmt"
	"math"

	"github.com/pthm-cable/algaeseek/field"
	"github.com/pthm-cable/algaeseek/kinematics"
)

const twoPi = 2 * math.Pi

// tieTolerance is the relative margin a later sample must beat the current
// best by before it replaces it.
const tieTolerance = 1e-9

// Sample is one measurement taken during a gradient cycle.
type Sample struct {
	X       float64       `json:"x"`
	Y       float64       `json:"y"`
	Angle   float64       `json:"angle"`
	Reading field.Reading `json:"reading"`
}

// Value returns the measured concentration.
func (s Sample) Value() float64 {
	return s.Reading.Value()
}

// GradientCycle is the resumable progress of one gradient estimation.
//
// Index counts the legs completed so far: 0..N-1 are the sample points and N
// is the return to the center. The cycle is complete once Index is N+1.
type GradientCycle struct {
	Index      int             `json:"index"`
	Samples    []Sample        `json:"samples"`
	Center     kinematics.Pose `json:"center"`
	Baseline   field.Reading   `json:"baseline"`
	StartAngle float64         `json:"start_angle"`

	// arrived is set when the last proposed move ends on the current target.
	// The reading for that target arrives on the following tick.
	arrived bool
}

func newGradientCycle(center kinematics.Pose, baseline field.Reading, sampleCount int) *GradientCycle {
	return &GradientCycle{
		Samples:    make([]Sample, 0, sampleCount),
		Center:     center,
		Baseline:   baseline,
		StartAngle: center.Theta,
	}
}

// Angle returns the sampling angle of sample i.
func (g *GradientCycle) Angle(i, sampleCount int) float64 {
	return kinematics.NormalizeHeading(g.StartAngle + float64(i)*twoPi/float64(sampleCount))
}

// Target returns the point the current leg heads to: a sample point while
// Index < N, the center once all samples are taken.
func (g *GradientCycle) Target(radius float64, sampleCount int) (float64, float64) {
	if g.Index >= sampleCount {
		return g.Center.X, g.Center.Y
	}
	return kinematics.Project(g.Center.X, g.Center.Y, g.Angle(g.Index, sampleCount), radius)
}

// Complete reports whether every sample and the return leg are done.
func (g *GradientCycle) Complete(sampleCount int) bool {
	return g.Index > sampleCount
}

// Check verifies the index bounds and that one sample exists per completed
// sample leg.
func (g *GradientCycle) Check(sampleCount int) error {
	if g.Index < 0 || g.Index > sampleCount+1 {
		return fmt.Errorf("%w: gradient index %d outside [0, %d]", ErrInvalidState, g.Index, sampleCount+1)
	}
	want := min(g.Index, sampleCount)
	if len(g.Samples) != want {
		return fmt.Errorf("%w: gradient index %d holds %d samples, want %d", ErrInvalidState, g.Index, len(g.Samples), want)
	}
	return nil
}

// clone returns a deep copy for observers.
func (g *GradientCycle) clone() GradientCycle {
	out := *g
	out.Samples = append([]Sample(nil), g.Samples...)
	return out
}

// Best returns the index of the sample with the largest gain over the
// baseline under the given policy, and that gain. An earlier sample is kept
// unless a later one is better by more than the tie tolerance.
func (g *GradientCycle) Best(policy Policy) (int, float64) {
	best := -1
	bestGain := math.Inf(-1)
	for i, s := range g.Samples {
		gain := policy.Improvement(s.Reading.Delta(g.Baseline))
		if best < 0 || gain-bestGain > tieTolerance*math.Max(math.Abs(gain), math.Abs(bestGain)) {
			best = i
			bestGain = gain
		}
	}
	return best, bestGain
}
