// Package field models the scalar concentration field the boat samples.
//
// The field is built from one or more 2-D Gaussian density components. The
// concentration at a point is the component count minus the summed densities,
// so the minimum of the concentration sits on the peak of the density mixture
// and the searcher can always descend.
package field

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distmv"
)

// ErrInvalidConfiguration is returned when a component cannot define a density.
var ErrInvalidConfiguration = errors.New("field: invalid configuration")

// symmetryTolerance bounds |c01 - c10| relative to the covariance scale.
const symmetryTolerance = 1e-12

// Component is a single Gaussian density.
type Component struct {
	Mean       [2]float64    `json:"mean"`
	Covariance [2][2]float64 `json:"covariance"`
}

// Isotropic returns a component with covariance variance*I.
func Isotropic(meanX, meanY, variance float64) Component {
	return Component{
		Mean:       [2]float64{meanX, meanY},
		Covariance: [2][2]float64{{variance, 0}, {0, variance}},
	}
}

// Field is an immutable sum of Gaussian components.
// It is safe for concurrent reads.
type Field struct {
	components []Component
	dists      []*distmv.Normal
}

// New builds a field from the given components.
// Every covariance must be symmetric and positive-definite.
func New(components ...Component) (*Field, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: at least one component is required", ErrInvalidConfiguration)
	}

	f := &Field{
		components: make([]Component, len(components)),
		dists:      make([]*distmv.Normal, len(components)),
	}
	copy(f.components, components)

	for i, c := range f.components {
		d, err := newNormal(c)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		f.dists[i] = d
	}

	return f, nil
}

// MustNew is like New but panics on error.
func MustNew(components ...Component) *Field {
	f, err := New(components...)
	if err != nil {
		panic(err)
	}
	return f
}

// newNormal validates a component and builds its density.
func newNormal(c Component) (*distmv.Normal, error) {
	for _, m := range c.Mean {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, fmt.Errorf("%w: mean %v is not finite", ErrInvalidConfiguration, c.Mean)
		}
	}

	cov := c.Covariance
	scale := math.Max(math.Abs(cov[0][1]), math.Abs(cov[1][0]))
	if math.Abs(cov[0][1]-cov[1][0]) > symmetryTolerance*math.Max(1, scale) {
		return nil, fmt.Errorf("%w: covariance %v is not symmetric", ErrInvalidConfiguration, cov)
	}

	sigma := mat.NewSymDense(2, []float64{
		cov[0][0], cov[0][1],
		cov[1][0], cov[1][1],
	})

	// NewNormal fails when the Cholesky factorization does, which is exactly
	// when sigma is not positive-definite.
	d, ok := distmv.NewNormal([]float64{c.Mean[0], c.Mean[1]}, sigma, nil)
	if !ok {
		return nil, fmt.Errorf("%w: covariance %v is not positive-definite", ErrInvalidConfiguration, cov)
	}
	return d, nil
}

// Len returns the number of components.
func (f *Field) Len() int {
	return len(f.components)
}

// Offset returns the constant the densities are subtracted from.
func (f *Field) Offset() float64 {
	return float64(len(f.components))
}

// Components returns a copy of the configured components in insertion order.
func (f *Field) Components() []Component {
	out := make([]Component, len(f.components))
	copy(out, f.components)
	return out
}

// Evaluate returns the concentration reading at (x, y).
func (f *Field) Evaluate(x, y float64) Reading {
	return Reading{Offset: f.Offset(), Density: f.sum(x, y)}
}

// Concentration returns Evaluate(x, y).Value().
func (f *Field) Concentration(x, y float64) float64 {
	return f.Evaluate(x, y).Value()
}

// Density returns the non-inverted reading at (x, y), whose value is the
// summed density itself. Searchers climbing the density use this view.
func (f *Field) Density(x, y float64) Reading {
	return Reading{Offset: 0, Density: -f.sum(x, y)}
}

func (f *Field) sum(x, y float64) float64 {
	p := []float64{x, y}
	var total float64
	for _, d := range f.dists {
		total += d.Prob(p)
	}
	return total
}

// logDensity returns log(sum of densities) without underflowing far from the means.
func (f *Field) logDensity(x, y float64) float64 {
	p := []float64{x, y}
	logs := make([]float64, len(f.dists))
	for i, d := range f.dists {
		logs[i] = d.LogProb(p)
	}
	return floats.LogSumExp(logs)
}

// SetPrimaryComponent returns a new field whose first component is replaced.
// All other components are preserved and f itself is left unchanged.
func (f *Field) SetPrimaryComponent(meanX, meanY float64, covariance [2][2]float64) (*Field, error) {
	components := f.Components()
	components[0] = Component{
		Mean:       [2]float64{meanX, meanY},
		Covariance: covariance,
	}
	return New(components...)
}

// Peak returns the location of the concentration minimum, which is the peak of
// the density mixture. The search starts from every component mean and keeps
// the best local optimum.
func (f *Field) Peak() (float64, float64, error) {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return -f.logDensity(x[0], x[1])
		},
	}

	best := math.Inf(1)
	var bestX, bestY float64
	for i, c := range f.components {
		result, err := optimize.Minimize(problem, []float64{c.Mean[0], c.Mean[1]}, nil, &optimize.NelderMead{})
		if err != nil {
			return 0, 0, fmt.Errorf("locating peak from component %d: %w", i, err)
		}
		if result.F < best {
			best = result.F
			bestX, bestY = result.X[0], result.X[1]
		}
	}

	return bestX, bestY, nil
}

// GridPoint is a single sample of the field on a regular grid.
type GridPoint struct {
	X             float64 `csv:"x"`
	Y             float64 `csv:"y"`
	Concentration float64 `csv:"concentration"`
	Density       float64 `csv:"density"`
}

// Grid samples the field on the rectangle [minX, maxX) x [minY, maxY) with the
// given spacing, row by row.
func (f *Field) Grid(minX, maxX, minY, maxY, step float64) ([]GridPoint, error) {
	if step <= 0 || maxX <= minX || maxY <= minY {
		return nil, fmt.Errorf("%w: grid [%v,%v)x[%v,%v) step %v", ErrInvalidConfiguration, minX, maxX, minY, maxY, step)
	}

	cols := int(math.Ceil((maxX - minX) / step))
	rows := int(math.Ceil((maxY - minY) / step))
	points := make([]GridPoint, 0, cols*rows)

	for r := 0; r < rows; r++ {
		y := minY + float64(r)*step
		for c := 0; c < cols; c++ {
			x := minX + float64(c)*step
			reading := f.Evaluate(x, y)
			points = append(points, GridPoint{
				X:             x,
				Y:             y,
				Concentration: reading.Value(),
				Density:       reading.Density,
			})
		}
	}

	return points, nil
}
