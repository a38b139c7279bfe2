package raster

import (
	"encoding/binary"
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func doubleBytes(vals ...float64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func shortBytes(vals ...uint16) []byte {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

func sampleGeoTags() []geoTag {
	return []geoTag{
		{id: tagModelPixelScale, typ: 12, count: 3, data: doubleBytes(0.25, 0.25, 0), little: true},
		{id: tagModelTiepoint, typ: 12, count: 6, data: doubleBytes(0, 0, 0, 550000, 5400000, 0), little: true},
		// Minimal GeoKeyDirectory header: version 1.1.0, one key (GTModelType=projected)
		{id: tagGeoKeyDirectory, typ: 3, count: 8, data: shortBytes(1, 1, 0, 1, 1024, 0, 1, 1), little: true},
		{id: tagGeoAsciiParams, typ: 2, count: 7, data: []byte("WGS 84\x00"), little: true},
	}
}

func writeGrayTIFF(t *testing.T, path string, fill uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, tiff.Encode(f, img, nil))
	return img
}

func requireTagsEqual(t *testing.T, want, got []geoTag) {
	require.Len(t, got, len(want))
	for i, w := range want {
		require.Equal(t, w.id, got[i].id)
		require.Equal(t, w.typ, got[i].typ)
		require.Equal(t, w.count, got[i].count)
		require.Equal(t, toOrder(w.data, w.typ, w.little, got[i].little), got[i].data)
	}
}

func TestGeoTagsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "georef.tif")
	img := writeGrayTIFF(t, path, 7)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	tags, err := readGeoTags(b)
	require.NoError(t, err)
	require.Empty(t, tags, "fresh encode carries no geo tags")

	patched, err := injectGeoTags(b, sampleGeoTags())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, patched, 0644))

	got, err := readGeoTags(patched)
	require.NoError(t, err)
	requireTagsEqual(t, sampleGeoTags(), got)

	// The patched file must still be a valid TIFF with intact pixels
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := tiff.Decode(f)
	require.NoError(t, err)
	gray, ok := decoded.(*image.Gray)
	require.True(t, ok)
	require.Equal(t, img.Pix, gray.Pix)
}

func TestCopyGeoTags(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tif")
	dst := filepath.Join(dir, "labels.tif")
	writeGrayTIFF(t, src, 7)
	dstImg := writeGrayTIFF(t, dst, 1)

	// Source without geo tags: destination stays byte-identical
	before, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.NoError(t, CopyGeoTags(src, dst))
	after, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, before, after)

	// Georeference the source, copy, and verify the destination
	b, err := os.ReadFile(src)
	require.NoError(t, err)
	patched, err := injectGeoTags(b, sampleGeoTags())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, patched, 0644))

	require.NoError(t, CopyGeoTags(src, dst))
	db, err := os.ReadFile(dst)
	require.NoError(t, err)
	got, err := readGeoTags(db)
	require.NoError(t, err)
	requireTagsEqual(t, sampleGeoTags(), got)

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := tiff.Decode(f)
	require.NoError(t, err)
	require.Equal(t, dstImg.Pix, decoded.(*image.Gray).Pix)

	// Non-TIFF participants are a no-op, not an error
	pngPath := filepath.Join(dir, "labels.png")
	require.NoError(t, os.WriteFile(pngPath, []byte("not a tiff"), 0644))
	require.NoError(t, CopyGeoTags(src, pngPath))
	require.NoError(t, CopyGeoTags(pngPath, dst))
}
