package raster

// Package raster provides windowed access to source imagery and the output
// label raster. Readers are "boundless": windows may extend past the image
// and the out-of-bounds pixels come back as zero, which is what the tiling
// planner relies on for its padded canvas.

import (
	"fmt"

	"github.com/habmap/habmap/pkg/tiling"
)

// DType is the pixel data type of a source raster. It determines the
// max-pixel-value used to normalize inputs for inference.
type DType int

const (
	Uint8 DType = iota
	Uint16
	Float32
)

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// Reader is a windowed source raster.
type Reader interface {
	Height() int
	Width() int
	Bands() int
	DType() DType

	// ReadWindow returns the window's pixels as band-major float32
	// (len(bandOrder) x win.Height x win.Width, row-major planes).
	// bandOrder indexes source bands from 1, GDAL style, and both selects
	// and reorders them. Out-of-bounds pixels are filled with 0.
	// A band index outside [1, Bands()] is a configuration error.
	ReadWindow(win tiling.Window, bandOrder []int) ([]float32, error)

	Close() error
}

// Writer is the single-band uint8 output raster. Read exists so the cleanup
// pass can re-read what earlier tiles wrote.
type Writer interface {
	Height() int
	Width() int
	Write(data []uint8, win tiling.Window) error
	Read(win tiling.Window) ([]uint8, error)
	Close() error
}

func checkBandOrder(bandOrder []int, bands int) error {
	if len(bandOrder) == 0 {
		return fmt.Errorf("Band order is empty")
	}
	for _, b := range bandOrder {
		if b < 1 || b > bands {
			return fmt.Errorf("Band order index %v is invalid for image with %v bands", b, bands)
		}
	}
	return nil
}

func checkWindowInside(win tiling.Window, height, width int) error {
	if win.Row < 0 || win.Col < 0 || win.Height <= 0 || win.Width <= 0 ||
		win.Row+win.Height > height || win.Col+win.Width > width {
		return fmt.Errorf("%v is out of range for %vx%v raster", win, width, height)
	}
	return nil
}
