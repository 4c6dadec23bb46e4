// Package volume holds the voxel-level steps around inference: closest
// canonical (RAS+) reorientation and its inverse, resampling to a target
// spacing or shape, and degenerate-image detection.
package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/Brownie44l1/segmentator/internal/nifti"
)

// AxisCode says which world axis (0=R, 1=A, 2=S) a voxel axis runs along and
// whether it runs in the negative direction.
type AxisCode struct {
	Axis int
	Flip bool
}

// Orientation holds one AxisCode per voxel axis.
type Orientation [3]AxisCode

// Canonical is RAS+: voxel axes aligned with world axes, all increasing.
var Canonical = Orientation{{0, false}, {1, false}, {2, false}}

func (o Orientation) String() string {
	names := [3][2]byte{{'R', 'L'}, {'A', 'P'}, {'S', 'I'}}
	var b [3]byte
	for i, c := range o {
		if c.Flip {
			b[i] = names[c.Axis][1]
		} else {
			b[i] = names[c.Axis][0]
		}
	}
	return string(b[:])
}

// OrientationOf finds the closest world-axis alignment of each voxel axis.
// The rotation part of aff is first replaced by the nearest orthonormal
// matrix (U*Vt from its SVD), then each voxel axis greedily claims the world
// axis it has the largest component on.
func OrientationOf(aff nifti.Affine) (Orientation, error) {
	zooms := aff.Zooms()
	rs := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if zooms[j] > 0 {
				rs.Set(i, j, aff[i][j]/zooms[j])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(rs, mat.SVDFull) {
		return Orientation{}, fmt.Errorf("failed to factorize affine %v", aff)
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())

	var o Orientation
	claimed := [3]bool{}
	for in := 0; in < 3; in++ {
		best, bestAbs := -1, 0.0
		for out := 0; out < 3; out++ {
			if claimed[out] {
				continue
			}
			if a := math.Abs(r.At(out, in)); best < 0 || a > bestAbs {
				best, bestAbs = out, a
			}
		}
		if bestAbs < 1e-12 || zooms[in] == 0 {
			return Orientation{}, fmt.Errorf("voxel axis %d of affine %v has no direction", in, aff)
		}
		claimed[best] = true
		o[in] = AxisCode{Axis: best, Flip: r.At(best, in) < 0}
	}
	return o, nil
}

// Reorientation remembers what Canonicalize did so Undo can restore the
// original voxel order and affine exactly.
type Reorientation struct {
	Orig       Orientation
	OrigDims   [3]int
	OrigAffine nifti.Affine
}

// Canonicalize returns v with its voxel axes reordered and flipped to RAS+.
// The returned volume shares nothing with v unless v is already canonical,
// in which case v itself is returned.
func Canonicalize(v *nifti.Volume) (*nifti.Volume, Reorientation, error) {
	o, err := OrientationOf(v.Affine)
	if err != nil {
		return nil, Reorientation{}, err
	}
	rec := Reorientation{Orig: o, OrigDims: v.Dims(), OrigAffine: v.Affine}
	if o == Canonical {
		return v, rec, nil
	}

	dims := v.Dims()
	var canonDims [3]int
	var m [3]axisMap
	var t nifti.Affine
	t[3][3] = 1
	for i, c := range o {
		canonDims[c.Axis] = dims[i]
		m[c.Axis] = axisMap{src: i, flip: c.Flip}
		if c.Flip {
			t[i][c.Axis] = -1
			t[i][3] = float64(dims[i] - 1)
		} else {
			t[i][c.Axis] = 1
		}
	}

	out := v.Like(remap(v.Data, v.Frames(), dims, canonDims, m), v.Header.Datatype)
	out.SetDims(canonDims)
	out.Header.DimInfo = 0
	out.Affine = v.Affine.Mul(t)
	return out, rec, nil
}

// Undo maps a volume in canonical voxel order back to the orientation
// recorded by Canonicalize. The result carries the original affine; the
// datatype and frame count of canon are kept.
func (r Reorientation) Undo(canon *nifti.Volume) (*nifti.Volume, error) {
	var want [3]int
	var m [3]axisMap
	for i, c := range r.Orig {
		want[c.Axis] = r.OrigDims[i]
		m[i] = axisMap{src: c.Axis, flip: c.Flip}
	}
	if got := canon.Dims(); got != want {
		return nil, fmt.Errorf("canonical shape %v does not match recorded shape %v", got, want)
	}

	var data []float32
	if r.Orig == Canonical {
		data = make([]float32, len(canon.Data))
		copy(data, canon.Data)
	} else {
		data = remap(canon.Data, canon.Frames(), want, r.OrigDims, m)
	}
	out := canon.Like(data, canon.Header.Datatype)
	out.SetDims(r.OrigDims)
	out.Affine = r.OrigAffine
	return out, nil
}

// axisMap says which source axis feeds a destination axis and whether its
// index runs backwards.
type axisMap struct {
	src  int
	flip bool
}

func remap(data []float32, frames int, srcDims, dstDims [3]int, m [3]axisMap) []float32 {
	srcStride := [3]int{1, srcDims[0], srcDims[0] * srcDims[1]}
	frameLen := srcDims[0] * srcDims[1] * srcDims[2]
	out := make([]float32, len(data))

	// per destination axis: source offset of index 0 and step per index
	var start, step [3]int
	for d := 0; d < 3; d++ {
		s := m[d].src
		if m[d].flip {
			start[d] = (srcDims[s] - 1) * srcStride[s]
			step[d] = -srcStride[s]
		} else {
			step[d] = srcStride[s]
		}
	}

	idx := 0
	for f := 0; f < frames; f++ {
		base := f*frameLen + start[0] + start[1] + start[2]
		for z := 0; z < dstDims[2]; z++ {
			for y := 0; y < dstDims[1]; y++ {
				off := base + z*step[2] + y*step[1]
				for x := 0; x < dstDims[0]; x++ {
					out[idx] = data[off+x*step[0]]
					idx++
				}
			}
		}
	}
	return out
}
