package nifti

import (
	"bytes"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func obliqueAffine() Affine {
	// 90 degree rotation about z, anisotropic voxels, LPS-like flips.
	return Affine{
		{0, -0.8, 0, 120.5},
		{-0.8, 0, 0, 99.25},
		{0, 0, 2.5, -40},
		{0, 0, 0, 1},
	}
}

func ramp(dims [3]int, dt int16, aff Affine) *Volume {
	v := New(dims, dt, aff)
	for i := range v.Data {
		v.Data[i] = float32(i % 97)
	}
	return v
}

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, dt := range []int16{DTUint8, DTInt8, DTInt16, DTUint16, DTInt32, DTUint32, DTFloat32, DTFloat64} {
		for _, name := range []string{"img.nii", "img.nii.gz"} {
			path := filepath.Join(t.TempDir(), name)
			in := ramp([3]int{5, 4, 3}, dt, obliqueAffine())

			require.NoError(t, Write(path, in))
			out, err := Read(path)
			require.NoError(t, err, "datatype %d %s", dt, name)

			require.Equal(t, [3]int{5, 4, 3}, out.Dims())
			require.Equal(t, 1, out.Frames())
			require.Equal(t, dt, out.Header.Datatype)
			require.Equal(t, in.Data, out.Data)
			require.True(t, out.Affine.ApproxEqual(in.Affine, 1e-4), "affine %v", out.Affine)
		}
	}
}

func TestEncode_QformMatchesSform(t *testing.T) {
	t.Parallel()

	for _, aff := range []Affine{
		Identity(),
		obliqueAffine(),
		{{-1.5, 0, 0, 10}, {0, -1.5, 0, 20}, {0, 0, 3, 30}, {0, 0, 0, 1}},
		{{0, 0, 2, 1}, {1, 0, 0, 2}, {0, 1, 0, 3}, {0, 0, 0, 1}},
	} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, New([3]int{2, 2, 2}, DTUint8, aff)))

		raw := buf.Bytes()
		// drop the sform so Decode falls back to the quaternion
		var h Header
		require.NoError(t, binary.Read(bytes.NewReader(raw[:headerSize]), binary.LittleEndian, &h))
		h.SformCode = 0
		var patched bytes.Buffer
		require.NoError(t, binary.Write(&patched, binary.LittleEndian, &h))
		patched.Write(raw[headerSize:])

		v, err := Decode(patched.Bytes())
		require.NoError(t, err)
		require.True(t, v.Affine.ApproxEqual(aff, 1e-5), "want %v got %v", aff, v.Affine)
	}
}

func TestDecode_BigEndianAndScaling(t *testing.T) {
	t.Parallel()

	h := Header{
		SizeofHdr: headerSize,
		Dim:       [8]int16{4, 2, 1, 1, 1, 1, 1, 1},
		Datatype:  DTInt16,
		Bitpix:    16,
		Pixdim:    [8]float32{1, 2, 3, 4},
		VoxOffset: dataOffset,
		SclSlope:  2,
		SclInter:  -1,
		Magic:     magicSingle,
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &h))
	buf.Write([]byte{0, 0, 0, 0})
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []int16{3, -5}))

	v, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, []float32{5, -11}, v.Data)
	require.Equal(t, [3]int{2, 1, 1}, v.Dims())
	require.Equal(t, 1, v.Frames())
	require.Equal(t, [3]float64{2, 3, 4}, v.Spacing())
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	_, err := Decode(make([]byte, 10))
	require.ErrorIs(t, err, ErrFormat)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, New([3]int{4, 4, 4}, DTFloat32, Identity())))
	_, err = Decode(buf.Bytes()[:dataOffset+8])
	require.ErrorIs(t, err, ErrFormat)

	raw := append([]byte(nil), buf.Bytes()...)
	copy(raw[344:], "ni1\x00")
	_, err = Decode(raw)
	require.ErrorIs(t, err, ErrFormat)

	// dim[] starts at byte 40; a voxel count far beyond the file must not wrap
	huge := append([]byte(nil), buf.Bytes()...)
	binary.LittleEndian.PutUint16(huge[40:], 7)
	for i := 1; i <= 7; i++ {
		binary.LittleEndian.PutUint16(huge[40+2*i:], 32767)
	}
	require.NotPanics(t, func() {
		_, err = Decode(huge)
	})
	require.ErrorIs(t, err, ErrFormat)

	past := append([]byte(nil), buf.Bytes()...)
	binary.LittleEndian.PutUint32(past[108:], math.Float32bits(1e9)) // vox_offset
	_, err = Decode(past)
	require.ErrorIs(t, err, ErrFormat)
}

func TestEncode_ShapeMismatch(t *testing.T) {
	v := New([3]int{2, 2, 2}, DTUint8, Identity())
	v.Data = v.Data[:3]
	require.ErrorIs(t, Encode(&bytes.Buffer{}, v), ErrFormat)
}

func TestEncode_ClampsIntegers(t *testing.T) {
	v := New([3]int{3, 1, 1}, DTUint8, Identity())
	v.Data = []float32{-4, 0.6, 300}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, v))
	out, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, []float32{0, 1, 255}, out.Data)
}

func TestVolume_Helpers(t *testing.T) {
	v := New([3]int{2, 2, 1}, DTFloat32, Identity())
	require.Equal(t, 1, v.Unique())

	v.Data = []float32{0, 1, 1, 3}
	require.Equal(t, 3, v.Unique())

	c := v.Clone()
	c.Data[0] = 9
	require.Equal(t, float32(0), v.Data[0])

	m := v.Like(make([]float32, 4), DTUint8)
	require.Equal(t, DTUint8, m.Header.Datatype)
	require.Equal(t, DTFloat32, v.Header.Datatype)

	v.SetDims([3]int{4, 1, 1})
	require.Equal(t, [3]int{4, 1, 1}, v.Dims())
}
