package raster

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmharper/cimg/v2"
	"golang.org/x/image/tiff"
)

// OpenReader opens a source raster file. TIFF is decoded with x/image/tiff
// and preserves 16-bit depth; JPEG goes through cimg; PNG through the stdlib.
// Everything is decoded up front and served from memory, which is fine for
// the source imagery we target. The bounded-memory guarantee of the stitch
// register is about class scores (K float32 planes), not source pixels.
func OpenReader(path string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, err := tiff.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("Failed to decode TIFF %v: %w", path, err)
		}
		return readerFromImage(img)
	case ".jpg", ".jpeg":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		img, err := cimg.Decompress(b)
		if err != nil {
			return nil, fmt.Errorf("Failed to decode JPEG %v: %w", path, err)
		}
		rgb := img.ToRGB()
		pixels := make([]float32, 3*rgb.Height*rgb.Width)
		plane := rgb.Height * rgb.Width
		for y := 0; y < rgb.Height; y++ {
			line := rgb.Pixels[y*rgb.Stride:]
			for x := 0; x < rgb.Width; x++ {
				pixels[0*plane+y*rgb.Width+x] = float32(line[x*3])
				pixels[1*plane+y*rgb.Width+x] = float32(line[x*3+1])
				pixels[2*plane+y*rgb.Width+x] = float32(line[x*3+2])
			}
		}
		return NewMemoryReader(pixels, 3, rgb.Height, rgb.Width, Uint8)
	case ".png":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, err := png.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("Failed to decode PNG %v: %w", path, err)
		}
		return readerFromImage(img)
	}
	return nil, fmt.Errorf("Unsupported input format %v", filepath.Ext(path))
}

// readerFromImage converts a decoded image to a band-major MemoryReader.
// Gray and Gray16 stay single-band; everything else becomes 3-band RGB.
func readerFromImage(img image.Image) (*MemoryReader, error) {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	switch m := img.(type) {
	case *image.Gray:
		pixels := make([]float32, h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pixels[y*w+x] = float32(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return NewMemoryReader(pixels, 1, h, w, Uint8)
	case *image.Gray16:
		pixels := make([]float32, h*w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pixels[y*w+x] = float32(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return NewMemoryReader(pixels, 1, h, w, Uint16)
	default:
		pixels := make([]float32, 3*h*w)
		plane := h * w
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				pixels[0*plane+y*w+x] = float32(r >> 8)
				pixels[1*plane+y*w+x] = float32(g >> 8)
				pixels[2*plane+y*w+x] = float32(bl >> 8)
			}
		}
		return NewMemoryReader(pixels, 3, h, w, Uint8)
	}
}

// FileWriter buffers the uint8 label canvas in memory and encodes it to disk
// on Close. Windows flushed before an interrupt are simply lost with the
// rest, which is acceptable for a batch tool.
type FileWriter struct {
	MemoryWriter
	path   string
	closed bool
}

// NewFileWriter creates the output raster. The format is chosen by the file
// extension: .tif/.tiff (deflate-compressed, single band) or .png.
func NewFileWriter(path string, height, width int, nodata uint8) (*FileWriter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff", ".png":
	default:
		return nil, fmt.Errorf("Unsupported output format %v", filepath.Ext(path))
	}
	// Fail on an unwritable destination before hours of inference, not after
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &FileWriter{
		MemoryWriter: *NewMemoryWriter(height, width, nodata),
		path:         path,
	}, nil
}

func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	img := &image.Gray{
		Pix:    w.Pixels(),
		Stride: w.Width(),
		Rect:   image.Rect(0, 0, w.Width(), w.Height()),
	}
	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(w.path)) {
	case ".png":
		err = png.Encode(f, img)
	default:
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("Failed to encode %v: %w", w.path, err)
	}
	return f.Close()
}
