package raster

// GeoTIFF georeferencing rides in six ordinary TIFF tags. x/image/tiff
// neither reads nor writes them, so geo metadata is carried opaquely: lift
// the raw tag values out of the source file and splice them into the encoded
// output by appending a replacement IFD and repointing the header at it.
// The tag payloads are never interpreted; CRS semantics stay out of scope.

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoAsciiParams      = 34737
)

func isGeoTag(id uint16) bool {
	switch id {
	case tagModelPixelScale, tagModelTiepoint, tagModelTransformation,
		tagGeoKeyDirectory, tagGeoDoubleParams, tagGeoAsciiParams:
		return true
	}
	return false
}

type geoTag struct {
	id     uint16
	typ    uint16
	count  uint32
	data   []byte // raw values in the byte order of the file they came from
	little bool   // byte order of data
}

// typeSize returns the byte size of one value of a TIFF field type,
// or 0 for unknown types.
func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	}
	return 0
}

// swapWidth is the element width for byte-order conversion. Rationals are
// pairs of 4-byte integers, not single 8-byte values.
func swapWidth(typ uint16) int {
	switch typ {
	case 3, 8:
		return 2
	case 4, 9, 11, 5, 10:
		return 4
	case 12:
		return 8
	}
	return 1
}

func toOrder(data []byte, typ uint16, srcLittle, dstLittle bool) []byte {
	if srcLittle == dstLittle {
		return data
	}
	w := swapWidth(typ)
	out := make([]byte, len(data))
	for i := 0; i+w <= len(data); i += w {
		for j := 0; j < w; j++ {
			out[i+j] = data[i+w-1-j]
		}
	}
	return out
}

// parseHeader validates a classic TIFF header and returns the byte order and
// the offset of the first IFD. ok is false when the file is not a TIFF.
func parseHeader(b []byte) (bo binary.ByteOrder, little, ok bool) {
	if len(b) < 8 {
		return nil, false, false
	}
	switch {
	case b[0] == 'I' && b[1] == 'I':
		bo, little = binary.LittleEndian, true
	case b[0] == 'M' && b[1] == 'M':
		bo, little = binary.BigEndian, false
	default:
		return nil, false, false
	}
	if bo.Uint16(b[2:4]) != 42 {
		return nil, false, false
	}
	return bo, little, true
}

// readGeoTags extracts the raw georeferencing tags from a TIFF file's first
// IFD. A non-TIFF input returns nil tags and no error.
func readGeoTags(b []byte) ([]geoTag, error) {
	bo, little, ok := parseHeader(b)
	if !ok {
		return nil, nil
	}
	ifdOff := int(bo.Uint32(b[4:8]))
	if ifdOff+2 > len(b) {
		return nil, fmt.Errorf("TIFF IFD offset %v is out of range", ifdOff)
	}
	count := int(bo.Uint16(b[ifdOff:]))
	if ifdOff+2+count*12+4 > len(b) {
		return nil, fmt.Errorf("TIFF IFD at %v overruns the file", ifdOff)
	}
	tags := []geoTag{}
	for i := 0; i < count; i++ {
		e := b[ifdOff+2+i*12:]
		id := bo.Uint16(e[0:2])
		if !isGeoTag(id) {
			continue
		}
		typ := bo.Uint16(e[2:4])
		n := bo.Uint32(e[4:8])
		size := typeSize(typ) * int(n)
		if size == 0 {
			continue
		}
		var data []byte
		if size <= 4 {
			data = e[8 : 8+size]
		} else {
			off := int(bo.Uint32(e[8:12]))
			if off+size > len(b) {
				return nil, fmt.Errorf("TIFF tag %v data at %v overruns the file", id, off)
			}
			data = b[off : off+size]
		}
		tags = append(tags, geoTag{id: id, typ: typ, count: n, data: data, little: little})
	}
	return tags, nil
}

// injectGeoTags returns a copy of a TIFF file with the given tags added to
// its first IFD. The replacement IFD (and any out-of-line tag data) is
// appended at the end of the file and the header is repointed; existing
// entries keep their absolute offsets, so nothing else moves.
func injectGeoTags(b []byte, tags []geoTag) ([]byte, error) {
	bo, little, ok := parseHeader(b)
	if !ok {
		return nil, fmt.Errorf("Not a TIFF file")
	}
	ifdOff := int(bo.Uint32(b[4:8]))
	if ifdOff+2 > len(b) {
		return nil, fmt.Errorf("TIFF IFD offset %v is out of range", ifdOff)
	}
	count := int(bo.Uint16(b[ifdOff:]))
	if ifdOff+2+count*12+4 > len(b) {
		return nil, fmt.Errorf("TIFF IFD at %v overruns the file", ifdOff)
	}

	entries := [][]byte{}
	for i := 0; i < count; i++ {
		e := b[ifdOff+2+i*12 : ifdOff+2+(i+1)*12]
		if isGeoTag(bo.Uint16(e[0:2])) {
			continue // replaced below
		}
		entries = append(entries, e)
	}
	nextIFD := b[ifdOff+2+count*12 : ifdOff+2+count*12+4]

	out := append([]byte{}, b...)
	for _, tag := range tags {
		data := toOrder(tag.data, tag.typ, tag.little, little)
		e := make([]byte, 12)
		bo.PutUint16(e[0:2], tag.id)
		bo.PutUint16(e[2:4], tag.typ)
		bo.PutUint32(e[4:8], tag.count)
		if len(data) <= 4 {
			copy(e[8:], data)
		} else {
			if len(out)%2 == 1 {
				out = append(out, 0)
			}
			bo.PutUint32(e[8:12], uint32(len(out)))
			out = append(out, data...)
		}
		entries = append(entries, e)
	}
	// Entries must be sorted by tag per the TIFF spec
	sort.Slice(entries, func(i, j int) bool {
		return bo.Uint16(entries[i][0:2]) < bo.Uint16(entries[j][0:2])
	})

	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	newIFD := len(out)
	ifd := make([]byte, 2, 2+len(entries)*12+4)
	bo.PutUint16(ifd, uint16(len(entries)))
	for _, e := range entries {
		ifd = append(ifd, e...)
	}
	ifd = append(ifd, nextIFD...)
	out = append(out, ifd...)
	bo.PutUint32(out[4:8], uint32(newIFD))
	return out, nil
}

// CopyGeoTags copies the georeferencing tags of srcPath into dstPath, so a
// segmented output lines up with its source in GIS tools. It is a no-op when
// either file is not a TIFF or the source carries no geo tags.
func CopyGeoTags(srcPath, dstPath string) error {
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	tags, err := readGeoTags(src)
	if err != nil {
		return fmt.Errorf("Failed to read geo tags from %v: %w", srcPath, err)
	}
	if len(tags) == 0 {
		return nil
	}
	dst, err := os.ReadFile(dstPath)
	if err != nil {
		return err
	}
	if _, _, ok := parseHeader(dst); !ok {
		return nil
	}
	patched, err := injectGeoTags(dst, tags)
	if err != nil {
		return fmt.Errorf("Failed to write geo tags to %v: %w", dstPath, err)
	}
	return os.WriteFile(dstPath, patched, 0644)
}
