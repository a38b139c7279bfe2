package tiling

// NumTiles returns the number of tiles along one axis so that strided
// tiles of tileSize cover every pixel of [0, axisLen).
func NumTiles(axisLen, tileSize, stride int) int {
	if axisLen <= tileSize {
		return 1
	}
	// Ceiling division, so that a partial final stride still gets a tile
	return (axisLen-tileSize+stride-1)/stride + 1
}

// ExtendedDimensions returns the smallest canvas size >= (height, width) that
// is exactly covered by an integer number of strided tiles. Windows are
// generated over the extended canvas, and reads beyond the true image are
// zero-filled.
func ExtendedDimensions(height, width, tileSize, stride int) (int, int) {
	tilesY := NumTiles(height, tileSize, stride)
	tilesX := NumTiles(width, tileSize, stride)
	extH := (tilesY-1)*stride + tileSize
	extW := (tilesX-1)*stride + tileSize
	return max(extH, height), max(extW, width)
}

// GenerateWindows emits full-size (tileSize x tileSize) windows at offsets
// that are multiples of stride, covering every pixel of [0,height)x[0,width).
// Windows are never clipped here; boundary tiles extend past the image and
// rely on zero-filled boundless reads.
//
// The order is strictly row-major: all columns of tile-row 0, then tile-row 1,
// and so on, with no revisits. The stitch register depends on this order for
// its eviction logic, so do not reorder.
func GenerateWindows(height, width, tileSize, stride int) []Window {
	tilesY := NumTiles(height, tileSize, stride)
	tilesX := NumTiles(width, tileSize, stride)
	windows := make([]Window, 0, tilesY*tilesX)
	for y := 0; y < tilesY; y++ {
		for x := 0; x < tilesX; x++ {
			row := y * stride
			col := x * stride
			if row >= height || col >= width {
				continue
			}
			windows = append(windows, Window{Row: row, Col: col, Height: tileSize, Width: tileSize})
		}
	}
	return windows
}
