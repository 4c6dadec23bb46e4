package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Write stores v at path, gzip-compressed when path ends in ".gz". Values
// are rounded and clamped when the header datatype is an integer type.
func Write(path string, v *Volume) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	var w io.Writer = bw
	var gz *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz = gzip.NewWriter(bw)
		w = gz
	}

	if err := Encode(w, v); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream %s: %w", path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return nil
}

// Encode writes v as an uncompressed little-endian NIfTI-1 image.
func Encode(w io.Writer, v *Volume) error {
	width := bytesPerVoxel(v.Header.Datatype)
	if width == 0 {
		return fmt.Errorf("%w: unsupported datatype %d", ErrFormat, v.Header.Datatype)
	}
	dims := v.Dims()
	if want := dims[0] * dims[1] * dims[2] * v.Frames(); want != len(v.Data) {
		return fmt.Errorf("%w: header shape %v x %d does not match %d voxels", ErrFormat, dims, v.Frames(), len(v.Data))
	}

	h := v.Header
	h.SizeofHdr = headerSize
	h.Bitpix = int16(8 * width)
	h.VoxOffset = dataOffset
	h.SclSlope, h.SclInter = 1, 0
	h.Magic = magicSingle
	if h.XYZTUnits == 0 {
		h.XYZTUnits = 10
	}
	if h.SformCode == 0 {
		h.SformCode = 1
	}
	if h.QformCode == 0 {
		h.QformCode = h.SformCode
	}
	for i := 0; i < 4; i++ {
		h.SrowX[i] = float32(v.Affine[0][i])
		h.SrowY[i] = float32(v.Affine[1][i])
		h.SrowZ[i] = float32(v.Affine[2][i])
	}
	h.setQuatern(v.Affine)

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	buf := make([]byte, width*4096)
	for start := 0; start < len(v.Data); start += 4096 {
		end := min(start+4096, len(v.Data))
		chunk := buf[:width*(end-start)]
		encodeVoxels(chunk, v.Data[start:end], v.Header.Datatype)
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func encodeVoxels(b []byte, data []float32, dt int16) {
	le := binary.LittleEndian
	for i, x := range data {
		switch dt {
		case DTUint8:
			b[i] = uint8(clampRound(x, 0, math.MaxUint8))
		case DTInt8:
			b[i] = byte(int8(clampRound(x, math.MinInt8, math.MaxInt8)))
		case DTInt16:
			le.PutUint16(b[2*i:], uint16(int16(clampRound(x, math.MinInt16, math.MaxInt16))))
		case DTUint16:
			le.PutUint16(b[2*i:], uint16(clampRound(x, 0, math.MaxUint16)))
		case DTInt32:
			le.PutUint32(b[4*i:], uint32(int32(clampRound(x, math.MinInt32, math.MaxInt32))))
		case DTUint32:
			le.PutUint32(b[4*i:], uint32(clampRound(x, 0, math.MaxUint32)))
		case DTFloat32:
			le.PutUint32(b[4*i:], math.Float32bits(x))
		case DTFloat64:
			le.PutUint64(b[8*i:], math.Float64bits(float64(x)))
		}
	}
}

func clampRound(x float32, lo, hi float64) float64 {
	f := math.Round(float64(x))
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(lo, math.Min(hi, f))
}
