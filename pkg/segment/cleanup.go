package segment

// The cleanup pass: a median blur to knock out salt-and-pepper label noise,
// then morphological open+close to remove specks and fill pinholes. It runs
// over the finished output raster in overlapping tiles so memory stays
// bounded, writing back only each tile's interior. The overlap margin equals
// the largest filter radius, so interior pixels see their full neighborhood.

import (
	"fmt"

	"github.com/habmap/habmap/pkg/raster"
	"github.com/habmap/habmap/pkg/tiling"
)

func (p *Pipeline) cleanup(dst raster.Writer) error {
	blurOverlap := 0
	if p.blurSize > 0 {
		blurOverlap = (p.blurSize - 1) / 2
	}
	morphOverlap := 0
	if p.morphSize > 0 {
		morphOverlap = (p.morphSize - 1) / 2
	}
	overlap := max(blurOverlap, morphOverlap)
	if overlap == 0 {
		return nil
	}

	height, width := dst.Height(), dst.Width()
	tileSize := min(512, p.tileSize)
	stride := tileSize - 2*overlap
	if stride < 1 {
		return fmt.Errorf("Cleanup kernels (blur %v, morph %v) are too large for %v pixel tiles", p.blurSize, p.morphSize, tileSize)
	}

	windows := tiling.GenerateWindows(height, width, tileSize, stride)
	p.log.Infof("Cleaning up output in %v tiles (blur %v, morph %v)", len(windows), p.blurSize, p.morphSize)
	for _, win := range windows {
		// Bounded windows this time: the output raster has no padding.
		clipped, ok := win.Clip(height, width)
		if !ok {
			continue
		}
		tile, err := dst.Read(clipped)
		if err != nil {
			return fmt.Errorf("Failed to read %v during cleanup: %w", clipped, err)
		}
		if p.blurSize > 0 {
			tile = medianBlur(tile, clipped.Height, clipped.Width, p.blurSize)
		}
		if p.morphSize > 0 {
			tile = morphOpen(tile, clipped.Height, clipped.Width, p.morphSize)
			tile = morphClose(tile, clipped.Height, clipped.Width, p.morphSize)
		}
		if err := placeInterior(dst, clipped, tile, overlap); err != nil {
			return err
		}
	}
	return nil
}

// placeInterior writes a filtered tile back, trimming the overlap margin on
// every side that is not a true image edge. Pixels inside the margin were
// filtered without their full neighborhood and will be written correctly by
// the adjacent tile instead.
func placeInterior(dst raster.Writer, win tiling.Window, tile []uint8, overlap int) error {
	rowStart, colStart := win.Row, win.Col
	rowEnd, colEnd := win.Row+win.Height, win.Col+win.Width
	if win.Row > 0 {
		rowStart += overlap
	}
	if win.Col > 0 {
		colStart += overlap
	}
	if rowEnd < dst.Height() {
		rowEnd -= overlap
	}
	if colEnd < dst.Width() {
		colEnd -= overlap
	}
	if rowStart >= rowEnd || colStart >= colEnd {
		return nil
	}

	out := tiling.Window{Row: rowStart, Col: colStart, Height: rowEnd - rowStart, Width: colEnd - colStart}
	cropped := make([]uint8, out.Height*out.Width)
	for row := 0; row < out.Height; row++ {
		srcOff := (rowStart - win.Row + row) * win.Width
		copy(cropped[row*out.Width:(row+1)*out.Width], tile[srcOff+colStart-win.Col:srcOff+colStart-win.Col+out.Width])
	}
	if err := dst.Write(cropped, out); err != nil {
		return fmt.Errorf("Failed to write %v during cleanup: %w", out, err)
	}
	return nil
}

func clampIdx(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

// medianBlur computes the k x k median at every pixel, replicating the edge
// rows/columns outside the tile. k must be odd. Labels are uint8, so a
// histogram walk finds the median without sorting.
func medianBlur(src []uint8, h, w, k int) []uint8 {
	r := (k - 1) / 2
	out := make([]uint8, len(src))
	target := (k*k)/2 + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var hist [256]int
			for dy := -r; dy <= r; dy++ {
				sy := clampIdx(y+dy, h-1)
				for dx := -r; dx <= r; dx++ {
					hist[src[sy*w+clampIdx(x+dx, w-1)]]++
				}
			}
			sum := 0
			for v := 0; v < 256; v++ {
				sum += hist[v]
				if sum >= target {
					out[y*w+x] = uint8(v)
					break
				}
			}
		}
	}
	return out
}

// erode and dilate take the neighborhood min/max with a square structuring
// element, replicating edges. On binary-ish label maps erode shrinks the
// foreground and dilate grows it.
func erode(src []uint8, h, w, k int) []uint8 {
	return morphApply(src, h, w, k, func(a, b uint8) uint8 { return min(a, b) })
}

func dilate(src []uint8, h, w, k int) []uint8 {
	return morphApply(src, h, w, k, func(a, b uint8) uint8 { return max(a, b) })
}

func morphApply(src []uint8, h, w, k int, pick func(a, b uint8) uint8) []uint8 {
	r := (k - 1) / 2
	out := make([]uint8, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			best := src[clampIdx(y-r, h-1)*w+clampIdx(x-r, w-1)]
			for dy := -r; dy <= r; dy++ {
				sy := clampIdx(y+dy, h-1)
				for dx := -r; dx <= r; dx++ {
					best = pick(best, src[sy*w+clampIdx(x+dx, w-1)])
				}
			}
			out[y*w+x] = best
		}
	}
	return out
}

// morphOpen removes specks smaller than the structuring element.
func morphOpen(src []uint8, h, w, k int) []uint8 {
	return dilate(erode(src, h, w, k), h, w, k)
}

// morphClose fills holes smaller than the structuring element.
func morphClose(src []uint8, h, w, k int) []uint8 {
	return erode(dilate(src, h, w, k), h, w, k)
}
