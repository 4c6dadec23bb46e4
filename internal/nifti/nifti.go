// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz). Voxel values are held as float32 in file order, x varying
// fastest; the on-disk datatype is kept in the header and used again on
// write.
package nifti

import (
	"errors"
	"math"
)

var ErrFormat = errors.New("invalid nifti file")

type Volume struct {
	Header Header
	Affine Affine
	Data   []float32
}

// New allocates a zeroed volume of the given spatial shape and datatype.
func New(dims [3]int, datatype int16, aff Affine) *Volume {
	v := &Volume{Affine: aff}
	v.Header.Dim = [8]int16{3, int16(dims[0]), int16(dims[1]), int16(dims[2]), 1, 1, 1, 1}
	v.Header.Datatype = datatype
	v.Header.SclSlope = 1
	v.Header.XYZTUnits = 10
	v.Header.SformCode = 1
	v.Header.QformCode = 1
	v.Data = make([]float32, dims[0]*dims[1]*dims[2])
	return v
}

// Dims returns the spatial shape. Missing dimensions count as 1.
func (v *Volume) Dims() [3]int {
	var d [3]int
	for i := 0; i < 3; i++ {
		d[i] = 1
		if int(v.Header.Dim[0]) > i && v.Header.Dim[i+1] > 0 {
			d[i] = int(v.Header.Dim[i+1])
		}
	}
	return d
}

// Frames returns the product of all non-spatial dimensions (1 for a 3D image
// or a 4D image with a singleton channel).
func (v *Volume) Frames() int {
	n := 1
	for i := 4; i <= int(v.Header.Dim[0]) && i < 8; i++ {
		if v.Header.Dim[i] > 0 {
			n *= int(v.Header.Dim[i])
		}
	}
	return n
}

// SetDims updates the header shape, keeping the frame dimensions.
func (v *Volume) SetDims(d [3]int) {
	if v.Header.Dim[0] < 3 {
		v.Header.Dim[0] = 3
	}
	for i := 0; i < 3; i++ {
		v.Header.Dim[i+1] = int16(d[i])
	}
}

// Spacing returns the voxel size in millimetres.
func (v *Volume) Spacing() [3]float64 {
	return v.Affine.Zooms()
}

// Like returns a volume sharing v's header and affine but holding data
// stored as datatype.
func (v *Volume) Like(data []float32, datatype int16) *Volume {
	out := &Volume{Header: v.Header, Affine: v.Affine, Data: data}
	out.Header.Datatype = datatype
	return out
}

// Clone deep-copies v.
func (v *Volume) Clone() *Volume {
	data := make([]float32, len(v.Data))
	copy(data, v.Data)
	return v.Like(data, v.Header.Datatype)
}

// Unique returns the number of distinct voxel values. All NaNs count as one.
func (v *Volume) Unique() int {
	seen := make(map[float32]struct{})
	nan := false
	for _, x := range v.Data {
		if math.IsNaN(float64(x)) {
			nan = true
			continue
		}
		seen[x] = struct{}{}
	}
	n := len(seen)
	if nan {
		n++
	}
	return n
}
