package stitch

// Package stitch combines overlapping per-tile class scores into one seamless
// raster. Tiles are weighted with a separable window function so that at 50%
// overlap the weights of all tiles covering a pixel sum to 1, which removes
// the visible seams that plain averaging or last-write-wins stitching leaves
// at tile boundaries.

import (
	"math"

	"github.com/habmap/habmap/pkg/tiling"
	"gonum.org/v1/gonum/mat"
)

// Profile computes the 1-D weight profile of a window function.
// The 2D tile kernel is the outer product of the profile with itself.
type Profile func(size int) []float64

// BartlettHann is the default profile. Of the standard windows it has the
// best tradeoff between center weight and edge falloff for segmentation
// stitching (Pielawski & Wählby, PLOS ONE 2020).
func BartlettHann(size int) []float64 {
	wi := make([]float64, size)
	for i := range wi {
		x := math.Abs(float64(i)/float64(size) - 0.5)
		wi[i] = 0.62 - 0.48*x + 0.38*math.Cos(2*math.Pi*x)
	}
	return wi
}

// Hann is the classic raised-cosine window.
func Hann(size int) []float64 {
	if size == 1 {
		return []float64{1}
	}
	wi := make([]float64, size)
	for i := range wi {
		wi[i] = (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1))) / 2
	}
	return wi
}

// Triangular is a linear ramp up and down.
func Triangular(size int) []float64 {
	wi := make([]float64, size)
	for i := range wi {
		wi[i] = 1 - math.Abs(2*float64(i)/float64(size)-1)
	}
	return wi
}

// Blackman has the steepest falloff of the provided profiles.
func Blackman(size int) []float64 {
	wi := make([]float64, size)
	for i := range wi {
		t := 2 * math.Pi * float64(i) / float64(size)
		wi[i] = 0.42 - 0.5*math.Cos(t) + 0.08*math.Cos(2*t)
	}
	return wi
}

// Profiles maps config names to profiles, for CLI/config plumbing.
var Profiles = map[string]Profile{
	"bartlett-hann": BartlettHann,
	"hann":          Hann,
	"triangular":    Triangular,
	"blackman":      Blackman,
}

// Kernel produces per-tile weight matrices for one tile size.
// Tiles that touch an image edge get the corresponding half of their profile
// forced to 1.0: there is no neighbor on that side to make up the remaining
// weight, and without this edge pixels would be under-weighted.
type Kernel struct {
	Size  int
	wi    []float64
	cache map[tiling.Edges][]float32
}

// NewKernel builds a kernel for the given tile size. size must be at least
// 2; the weight-sum invariant additionally needs it even, which callers
// enforce (segment.NewPipeline rejects odd sizes).
func NewKernel(profile Profile, size int) *Kernel {
	return &Kernel{
		Size:  size,
		wi:    profile(size),
		cache: map[tiling.Edges][]float32{},
	}
}

// Weights returns the Size x Size weight matrix (row-major) for a tile with
// the given edge classification. Matrices are cached; treat them as read-only.
func (k *Kernel) Weights(edges tiling.Edges) []float32 {
	if w, ok := k.cache[edges]; ok {
		return w
	}
	half := k.Size / 2
	wi := make([]float64, k.Size)
	wj := make([]float64, k.Size)
	copy(wi, k.wi)
	copy(wj, k.wi)
	if edges.Top {
		for i := 0; i < half; i++ {
			wi[i] = 1
		}
	}
	if edges.Bottom {
		for i := half; i < k.Size; i++ {
			wi[i] = 1
		}
	}
	if edges.Left {
		for j := 0; j < half; j++ {
			wj[j] = 1
		}
	}
	if edges.Right {
		for j := half; j < k.Size; j++ {
			wj[j] = 1
		}
	}

	outer := mat.NewDense(k.Size, k.Size, nil)
	outer.Outer(1, mat.NewVecDense(k.Size, wi), mat.NewVecDense(k.Size, wj))

	w := make([]float32, k.Size*k.Size)
	for i, v := range outer.RawMatrix().Data {
		w[i] = float32(v)
	}
	k.cache[edges] = w
	return w
}

// Apply multiplies scores (depth x Size x Size, row-major) in place by the
// weight matrix for the given edges.
func (k *Kernel) Apply(scores []float32, depth int, edges tiling.Edges) {
	w := k.Weights(edges)
	plane := k.Size * k.Size
	for d := 0; d < depth; d++ {
		s := scores[d*plane : (d+1)*plane]
		for i := range s {
			s[i] *= w[i]
		}
	}
}
