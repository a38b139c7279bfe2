package stitch

import (
	"github.com/habmap/habmap/pkg/tiling"
)

// Register is the streaming accumulation buffer for overlap-weighted
// stitching. It holds one tile-row-height strip of weighted class scores
// (depth x size x stripWidth), so memory stays bounded by the image width
// rather than the full canvas.
//
// Tiles must be fed in the strictly row-major order produced by
// tiling.GenerateWindows, at 50% overlap (stride = size/2), with no revisits.
// Under that traversal the top-left quadrant of an accumulated tile is
// provably final once the tile itself has been added: same-row tiles only
// write columns to its right, and next-row tiles only arrive after every
// column of this row has been stepped. Step evicts exactly that
// information-complete rectangle on each call.
type Register struct {
	depth  int // Class count
	size   int // Tile size
	half   int // size/2, floored. Quadrant extent, and the expected stride.
	width  int // Strip width: ceil(imageWidth/size)*size + half
	kernel *Kernel
	buf    []float32
}

// NewRegister creates a register for an image of the given pixel width.
// depth is the number of classes, tileSize must match the kernel's size.
func NewRegister(imageWidth, depth, tileSize int, kernel *Kernel) *Register {
	half := tileSize / 2
	width := ((imageWidth+tileSize-1)/tileSize)*tileSize + half
	return &Register{
		depth:  depth,
		size:   tileSize,
		half:   half,
		width:  width,
		kernel: kernel,
		buf:    make([]float32, depth*tileSize*width),
	}
}

// Depth returns the class count the register was built with.
func (r *Register) Depth() int {
	return r.depth
}

// Step accumulates one tile of raw class scores (depth x size x size,
// row-major) and returns the rectangle that can no longer receive
// contributions, as a score slice (depth x h x w) plus its image window.
//
// win must be the tile window clipped to the true image bounds, and edges its
// classification against those bounds; emitted rectangles never include
// canvas padding. scores is weighted in place.
//
// Thinking of the accumulated tile as four quadrants a|b over c|d:
// an interior step emits a and rolls c up to start the next tile row;
// a right-edge step emits a+b and rolls the full strip width;
// a bottom-edge step emits a+c and leaves b|d for the next column;
// the bottom-right step emits the whole clipped tile.
func (r *Register) Step(scores []float32, win tiling.Window, edges tiling.Edges) ([]float32, tiling.Window) {
	r.kernel.Apply(scores, r.depth, edges)

	// Accumulate into the strip at this tile's columns.
	for d := 0; d < r.depth; d++ {
		for row := 0; row < r.size; row++ {
			dst := r.buf[r.at(d, row, win.Col) : r.at(d, row, win.Col)+r.size]
			src := scores[(d*r.size+row)*r.size : (d*r.size+row+1)*r.size]
			for i, v := range src {
				dst[i] += v
			}
		}
	}

	out := tiling.Window{Row: win.Row, Col: win.Col}
	switch {
	case edges.Bottom && edges.Right:
		// Last tile of the image: everything is final, nothing to roll.
		out.Height = min(r.size, win.Height)
		out.Width = min(r.size, win.Width)
	case edges.Right:
		out.Height = min(r.half, win.Height)
		out.Width = min(r.size, win.Width)
	case edges.Bottom:
		out.Height = min(r.size, win.Height)
		out.Width = min(r.half, win.Width)
	default:
		out.Height = min(r.half, win.Height)
		out.Width = min(r.half, win.Width)
	}
	emitted := r.copyOut(win.Col, out.Height, out.Width)

	switch {
	case edges.Bottom && edges.Right:
		// No roll needed.
	case edges.Right:
		// The whole top half of the strip at these columns has been emitted.
		// Move c|d up for the next tile row and zero beneath it.
		r.roll(win.Col, r.size)
	case edges.Bottom:
		// a and c are emitted; b|d stays to accumulate the next column.
		// The left half is dead (this is the last tile row), so leave it.
	default:
		// Only a is emitted. Roll c up in the left half; b|d already holds
		// this tile's contribution to the next column.
		r.roll(win.Col, r.half)
	}

	return emitted, out
}

func (r *Register) at(d, row, col int) int {
	return (d*r.size+row)*r.width + col
}

// copyOut copies the top-left h x w rectangle at column col out of the strip.
func (r *Register) copyOut(col, h, w int) []float32 {
	out := make([]float32, r.depth*h*w)
	for d := 0; d < r.depth; d++ {
		for row := 0; row < h; row++ {
			copy(out[(d*h+row)*w:(d*h+row+1)*w], r.buf[r.at(d, row, col):r.at(d, row, col)+w])
		}
	}
	return out
}

// roll moves the bottom half of the strip (rows half..size) up to the top at
// columns [col, col+cols) and zeroes the rows beneath it. With odd tile
// sizes the moved block is one row taller than half; the sizes still line up
// because it lands at row 0.
func (r *Register) roll(col, cols int) {
	moved := r.size - r.half
	for d := 0; d < r.depth; d++ {
		for row := 0; row < moved; row++ {
			copy(r.buf[r.at(d, row, col):r.at(d, row, col)+cols],
				r.buf[r.at(d, row+r.half, col):r.at(d, row+r.half, col)+cols])
		}
		for row := moved; row < r.size; row++ {
			clear(r.buf[r.at(d, row, col) : r.at(d, row, col)+cols])
		}
	}
}
