package tiling

// Package tiling computes the set of overlapping tile windows needed to run
// a fixed-size model over a raster of arbitrary size, and classifies each
// window against the true image edges.

import "fmt"

// Window is a rectangular region of a raster, in full-image pixel coordinates.
// Row and Col are always within the image bounds. Height and Width may extend
// beyond the image; readers are expected to fill out-of-bounds pixels with zero.
type Window struct {
	Row    int // Row offset (y) of the top edge
	Col    int // Column offset (x) of the left edge
	Height int
	Width  int
}

func (w Window) String() string {
	return fmt.Sprintf("Window(row=%v, col=%v, %vx%v)", w.Row, w.Col, w.Width, w.Height)
}

// Edges records which true image edges a window touches.
// The stitching kernel does not reweight tile halves that face an image edge,
// because there is no neighboring tile on that side to share weight with.
type Edges struct {
	Top    bool
	Bottom bool
	Left   bool
	Right  bool
}

// Edges classifies the window against an image of the given size.
// The window is expected to be clipped already, but classification is the
// same either way: anything reaching the last row/column counts as an edge.
func (w Window) Edges(imageHeight, imageWidth int) Edges {
	return Edges{
		Top:    w.Row == 0,
		Bottom: w.Row+w.Height >= imageHeight,
		Left:   w.Col == 0,
		Right:  w.Col+w.Width >= imageWidth,
	}
}

// Clip returns the window clipped to the image bounds.
// ok is false if the window lies entirely outside the image.
func (w Window) Clip(imageHeight, imageWidth int) (clipped Window, ok bool) {
	h := min(w.Height, imageHeight-w.Row)
	wd := min(w.Width, imageWidth-w.Col)
	if h <= 0 || wd <= 0 || w.Row >= imageHeight || w.Col >= imageWidth {
		return Window{}, false
	}
	return Window{Row: w.Row, Col: w.Col, Height: h, Width: wd}, true
}
