// Package kinematics provides the planar geometry used to move the boat:
// distances, bearings and bounded straight-line travel.
package kinematics

import (
	"log/slog"
	"math"
)

const twoPi = 2 * math.Pi

// Pose is a position and heading in the plane.
// Theta is in radians and kept in [0, 2*Pi).
type Pose struct {
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Theta float64 `json:"theta" yaml:"theta"`
}

// DistanceTo returns the Euclidean distance between two poses.
func (p Pose) DistanceTo(o Pose) float64 {
	return Distance(p.X, p.Y, o.X, o.Y)
}

// LogValue implements slog.LogValuer.
func (p Pose) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("x", p.X),
		slog.Float64("y", p.Y),
		slog.Float64("theta", p.Theta),
	)
}

// Move is a single bounded travel proposal.
type Move struct {
	X, Y    float64
	Heading float64
	Reached bool
}

// Pose returns the proposal as a pose.
func (m Move) Pose() Pose {
	return Pose{X: m.X, Y: m.Y, Theta: m.Heading}
}

// Angle normalization

// NormalizeHeading wraps a heading to [0, 2*Pi).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, twoPi)
	if h < 0 {
		h += twoPi
	}
	// math.Mod can return exactly twoPi after the correction for tiny negatives.
	if h >= twoPi {
		h = 0
	}
	return h
}

// Distance functions

// DistanceSq returns the squared distance between two points.
func DistanceSq(x1, y1, x2, y2 float64) float64 {
	dx := x1 - x2
	dy := y1 - y2
	return dx*dx + dy*dy
}

// Distance returns the Euclidean distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

// Bearing returns the angle of the displacement from (fromX, fromY) to (toX, toY).
// The result is in (-Pi, Pi] as returned by math.Atan2.
func Bearing(fromX, fromY, toX, toY float64) float64 {
	return math.Atan2(toY-fromY, toX-fromX)
}

// Travel

// Project returns the point dist ahead of (x, y) along heading.
func Project(x, y, heading, dist float64) (float64, float64) {
	return x + dist*math.Cos(heading), y + dist*math.Sin(heading)
}

// TravelToward moves from the current point toward the target by at most maxStep.
// When the target is within maxStep the result is exactly the target and Reached
// is true. The heading is always the bearing to the target, wrapped to [0, 2*Pi).
func TravelToward(currentX, currentY, targetX, targetY, maxStep float64) Move {
	d := Distance(currentX, currentY, targetX, targetY)
	heading := NormalizeHeading(Bearing(currentX, currentY, targetX, targetY))

	if d <= maxStep {
		return Move{X: targetX, Y: targetY, Heading: heading, Reached: true}
	}

	x, y := Project(currentX, currentY, heading, maxStep)
	return Move{X: x, Y: y, Heading: heading, Reached: false}
}
