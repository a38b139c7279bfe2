package tiling

import "gonum.org/v1/gonum/mat"

// ValidateFullCoverage builds a coverage map over [0,height)x[0,width) and
// reports whether every pixel is covered by at least one window.
// This is a diagnostic for tests; it allocates a full-size map, so don't
// call it from the processing path.
func ValidateFullCoverage(height, width int, windows []Window) bool {
	coverage := mat.NewDense(height, width, nil)
	for _, w := range windows {
		r1 := max(0, w.Row)
		r2 := min(height, w.Row+w.Height)
		c1 := max(0, w.Col)
		c2 := min(width, w.Col+w.Width)
		for r := r1; r < r2; r++ {
			for c := c1; c < c2; c++ {
				coverage.Set(r, c, coverage.At(r, c)+1)
			}
		}
	}
	for r := 0; r < height; r++ {
		for c := 0; c < width; c++ {
			if coverage.At(r, c) == 0 {
				return false
			}
		}
	}
	return true
}
