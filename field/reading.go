package field

// Reading is a concentration measurement split into its two terms.
//
// The concentration value is Offset - Density. Keeping the terms apart lets two
// readings from the same field be compared without the density being absorbed
// by the offset: far from a feature the density is many orders of magnitude
// below the spacing of float64 values around the offset.
type Reading struct {
	Offset  float64 `json:"offset" csv:"offset"`
	Density float64 `json:"density" csv:"density"`
}

// Scalar wraps a plain concentration value as a Reading.
func Scalar(v float64) Reading {
	return Reading{Offset: v}
}

// Value returns the signed concentration.
func (r Reading) Value() float64 {
	return r.Offset - r.Density
}

// Delta returns r.Value() - from.Value(), computed term by term.
func (r Reading) Delta(from Reading) float64 {
	return (r.Offset - from.Offset) - (r.Density - from.Density)
}
