package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Read loads a .nii or .nii.gz file.
func Read(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	v, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Decode parses an uncompressed single-file NIfTI-1 image.
func Decode(raw []byte) (*Volume, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrFormat, len(raw))
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw) == headerSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad sizeof_hdr", ErrFormat)
	}

	var h Header
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if h.Magic != magicSingle {
		return nil, fmt.Errorf("%w: unsupported magic %q", ErrFormat, h.Magic[:3])
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return nil, fmt.Errorf("%w: dim[0]=%d", ErrFormat, h.Dim[0])
	}

	v := &Volume{Header: h}
	width := bytesPerVoxel(h.Datatype)
	if width == 0 {
		return nil, fmt.Errorf("%w: unsupported datatype %d", ErrFormat, h.Datatype)
	}
	if !(h.VoxOffset <= float32(len(raw))) {
		return nil, fmt.Errorf("%w: vox_offset %g past end of file", ErrFormat, h.VoxOffset)
	}
	offset := int(h.VoxOffset)
	if offset < headerSize {
		offset = dataOffset
	}
	if offset > len(raw) {
		return nil, fmt.Errorf("%w: no voxel data", ErrFormat)
	}

	// every partial product stays within the bytes on hand, so n cannot overflow
	avail := (len(raw) - offset) / width
	n := 1
	for i := 1; i <= int(h.Dim[0]); i++ {
		d := int(h.Dim[i])
		if d <= 0 {
			continue
		}
		if n > avail/d {
			return nil, fmt.Errorf("%w: truncated data (dims %v, %d voxels available)", ErrFormat, h.Dim[1:h.Dim[0]+1], avail)
		}
		n *= d
	}
	if n > avail {
		return nil, fmt.Errorf("%w: truncated data (want %d voxels, have %d)", ErrFormat, n, avail)
	}

	v.Data = decodeVoxels(raw[offset:offset+n*width], h.Datatype, order, n)
	if s := h.SclSlope; s != 0 && !(s == 1 && h.SclInter == 0) {
		for i := range v.Data {
			v.Data[i] = v.Data[i]*s + h.SclInter
		}
	}
	v.Header.SclSlope, v.Header.SclInter = 1, 0

	switch {
	case h.SformCode > 0:
		v.Affine = Affine{
			{float64(h.SrowX[0]), float64(h.SrowX[1]), float64(h.SrowX[2]), float64(h.SrowX[3])},
			{float64(h.SrowY[0]), float64(h.SrowY[1]), float64(h.SrowY[2]), float64(h.SrowY[3])},
			{float64(h.SrowZ[0]), float64(h.SrowZ[1]), float64(h.SrowZ[2]), float64(h.SrowZ[3])},
			{0, 0, 0, 1},
		}
	case h.QformCode > 0:
		v.Affine = h.quaternToAffine()
	default:
		v.Affine = Identity()
		for i := 0; i < 3; i++ {
			if p := float64(h.Pixdim[i+1]); p > 0 {
				v.Affine[i][i] = p
			}
		}
	}
	return v, nil
}

func decodeVoxels(b []byte, dt int16, order binary.ByteOrder, n int) []float32 {
	out := make([]float32, n)
	switch dt {
	case DTUint8:
		for i := range out {
			out[i] = float32(b[i])
		}
	case DTInt8:
		for i := range out {
			out[i] = float32(int8(b[i]))
		}
	case DTInt16:
		for i := range out {
			out[i] = float32(int16(order.Uint16(b[2*i:])))
		}
	case DTUint16:
		for i := range out {
			out[i] = float32(order.Uint16(b[2*i:]))
		}
	case DTInt32:
		for i := range out {
			out[i] = float32(int32(order.Uint32(b[4*i:])))
		}
	case DTUint32:
		for i := range out {
			out[i] = float32(order.Uint32(b[4*i:]))
		}
	case DTFloat32:
		for i := range out {
			out[i] = math.Float32frombits(order.Uint32(b[4*i:]))
		}
	case DTFloat64:
		for i := range out {
			out[i] = float32(math.Float64frombits(order.Uint64(b[8*i:])))
		}
	}
	return out
}
