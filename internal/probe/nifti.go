package probe

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// HeaderSize is sizeof_hdr for NIfTI-1.
const HeaderSize = 348

// ErrNotNIfTI is returned when the first field is not 348 in either byte
// order.
var ErrNotNIfTI = errors.New("not a NIfTI-1 file")

// ReadHeader reads the header of the volume at path. Gzip-compressed files
// are detected by their magic bytes, not the extension.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}
	return h, nil
}

// Parse decodes a header from r, decompressing gzip input transparently.
func Parse(r io.Reader) (*Header, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return decode(zr)
	}
	return decode(br)
}

func decode(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short header", ErrNotNIfTI)
		}
		return nil, err
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(buf) == HeaderSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(buf) == HeaderSize:
		order = binary.BigEndian
	default:
		return nil, ErrNotNIfTI
	}

	h := new(Header)
	if err := binary.Read(bytes.NewReader(buf), order, h); err != nil {
		return nil, err
	}
	return h, nil
}

// IsRGB reports whether voxels are packed RGB triples (secondary-capture
// screenshots rather than MR intensities).
func (h *Header) IsRGB() bool {
	return h.DataType == DTRGB || h.DataType == DTRGBA
}

// NDim is dim[0], the number of dimensions in use.
func (h *Header) NDim() int { return int(h.Dim[0]) }

// Volumes is the length of the fourth dimension (1 for 3D images).
func (h *Header) Volumes() int {
	if h.NDim() < 4 || h.Dim[4] < 1 {
		return 1
	}
	return int(h.Dim[4])
}

// Is4D reports whether the image holds more than one volume.
func (h *Header) Is4D() bool { return h.Volumes() > 1 }

// VoxelSize returns pixdim[1..3] in mm.
func (h *Header) VoxelSize() [3]float32 {
	return [3]float32{h.PixDim[1], h.PixDim[2], h.PixDim[3]}
}
