package raster

import (
	"fmt"

	"github.com/habmap/habmap/pkg/tiling"
)

// MemoryReader serves windows from a band-major float32 array held in memory.
// File-format readers decode into one of these; tests construct them directly.
type MemoryReader struct {
	height int
	width  int
	bands  int
	dtype  DType
	pixels []float32 // bands x height x width
}

// NewMemoryReader wraps pixels (bands x height x width, row-major planes).
// dtype describes the type the pixels originally had, so the pipeline can
// pick the right normalization constant.
func NewMemoryReader(pixels []float32, bands, height, width int, dtype DType) (*MemoryReader, error) {
	if len(pixels) != bands*height*width {
		return nil, fmt.Errorf("Pixel buffer has %v values, expected %v (%v bands of %vx%v)",
			len(pixels), bands*height*width, bands, width, height)
	}
	return &MemoryReader{
		height: height,
		width:  width,
		bands:  bands,
		dtype:  dtype,
		pixels: pixels,
	}, nil
}

func (r *MemoryReader) Height() int  { return r.height }
func (r *MemoryReader) Width() int   { return r.width }
func (r *MemoryReader) Bands() int   { return r.bands }
func (r *MemoryReader) DType() DType { return r.dtype }
func (r *MemoryReader) Close() error { return nil }

func (r *MemoryReader) ReadWindow(win tiling.Window, bandOrder []int) ([]float32, error) {
	if err := checkBandOrder(bandOrder, r.bands); err != nil {
		return nil, err
	}
	out := make([]float32, len(bandOrder)*win.Height*win.Width)
	// Rows/columns beyond the source stay zero (boundless read).
	copyH := min(win.Height, r.height-win.Row)
	copyW := min(win.Width, r.width-win.Col)
	for bi, b := range bandOrder {
		plane := (b - 1) * r.height * r.width
		for row := 0; row < copyH; row++ {
			src := plane + (win.Row+row)*r.width + win.Col
			dst := (bi*win.Height+row)*win.Width
			copy(out[dst:dst+copyW], r.pixels[src:src+copyW])
		}
	}
	return out, nil
}

// MemoryWriter accumulates the output label raster in memory.
// It backs both the file-format writers (which encode on Close) and tests.
type MemoryWriter struct {
	height int
	width  int
	pixels []uint8
}

func NewMemoryWriter(height, width int, nodata uint8) *MemoryWriter {
	pixels := make([]uint8, height*width)
	if nodata != 0 {
		for i := range pixels {
			pixels[i] = nodata
		}
	}
	return &MemoryWriter{height: height, width: width, pixels: pixels}
}

func (w *MemoryWriter) Height() int { return w.height }
func (w *MemoryWriter) Width() int  { return w.width }

// Pixels returns the backing canvas (height x width, row-major).
func (w *MemoryWriter) Pixels() []uint8 { return w.pixels }

func (w *MemoryWriter) Write(data []uint8, win tiling.Window) error {
	if err := checkWindowInside(win, w.height, w.width); err != nil {
		return err
	}
	if len(data) != win.Height*win.Width {
		return fmt.Errorf("Write of %v has %v values, expected %v", win, len(data), win.Height*win.Width)
	}
	for row := 0; row < win.Height; row++ {
		copy(w.pixels[(win.Row+row)*w.width+win.Col:], data[row*win.Width:(row+1)*win.Width])
	}
	return nil
}

func (w *MemoryWriter) Read(win tiling.Window) ([]uint8, error) {
	if err := checkWindowInside(win, w.height, w.width); err != nil {
		return nil, err
	}
	out := make([]uint8, win.Height*win.Width)
	for row := 0; row < win.Height; row++ {
		src := (win.Row+row)*w.width + win.Col
		copy(out[row*win.Width:(row+1)*win.Width], w.pixels[src:src+win.Width])
	}
	return out, nil
}

func (w *MemoryWriter) Close() error { return nil }
