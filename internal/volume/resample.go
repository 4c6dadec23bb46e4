package volume

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"

	"github.com/alitto/pond/v2"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/segmentator/internal/nifti"
)

// Interpolation orders, numbered like scipy.ndimage.
const (
	Nearest = 0
	Linear  = 1
	Cubic   = 3
)

// ChangeSpacing resamples v to the given voxel size in millimetres.
func ChangeSpacing(ctx context.Context, v *nifti.Volume, spacing [3]float64, order int) (*nifti.Volume, error) {
	cur := v.Spacing()
	dims := v.Dims()
	var shape [3]int
	for i := 0; i < 3; i++ {
		if spacing[i] <= 0 {
			return nil, fmt.Errorf("invalid target spacing %v", spacing)
		}
		shape[i] = max(1, int(math.Round(float64(dims[i])*cur[i]/spacing[i])))
	}
	return ResampleToShape(ctx, v, shape, order)
}

// ResampleToShape resamples v to shape. The affine columns are scaled so the
// volume keeps covering the same field of view. Order 0 only ever copies
// existing voxel values, which keeps label maps valid.
func ResampleToShape(ctx context.Context, v *nifti.Volume, shape [3]int, order int) (*nifti.Volume, error) {
	dims := v.Dims()
	for i := 0; i < 3; i++ {
		if shape[i] < 1 {
			return nil, fmt.Errorf("invalid target shape %v", shape)
		}
	}

	if shape == dims {
		return v.Clone(), nil
	}

	var data []float32
	var err error
	switch {
	case order == Nearest:
		data = resampleNearest(v.Data, v.Frames(), dims, shape)
	case order == Linear:
		data, err = resampleSlices(ctx, v.Data, v.Frames(), dims, shape, resize.Bilinear)
	case order == Cubic:
		data, err = resampleSlices(ctx, v.Data, v.Frames(), dims, shape, resize.Bicubic)
	default:
		return nil, fmt.Errorf("unsupported interpolation order %d", order)
	}
	if err != nil {
		return nil, err
	}

	out := v.Like(data, v.Header.Datatype)
	out.SetDims(shape)
	for j := 0; j < 3; j++ {
		scale := float64(dims[j]) / float64(shape[j])
		for i := 0; i < 3; i++ {
			out.Affine[i][j] *= scale
		}
	}
	return out, nil
}

// nearestIndex maps output index o onto an input axis of length n the way
// scipy's zoom does: first and last samples coincide.
func nearestIndex(o, n, m int) int {
	if m <= 1 || n <= 1 {
		return 0
	}
	i := int(math.Round(float64(o) * float64(n-1) / float64(m-1)))
	return min(max(i, 0), n-1)
}

func resampleNearest(data []float32, frames int, src, dst [3]int) []float32 {
	var lut [3][]int
	for a := 0; a < 3; a++ {
		lut[a] = make([]int, dst[a])
		for o := range lut[a] {
			lut[a][o] = nearestIndex(o, src[a], dst[a])
		}
	}

	srcLen := src[0] * src[1] * src[2]
	out := make([]float32, dst[0]*dst[1]*dst[2]*frames)
	idx := 0
	for f := 0; f < frames; f++ {
		for z := 0; z < dst[2]; z++ {
			for y := 0; y < dst[1]; y++ {
				row := f*srcLen + src[0]*(lut[1][y]+src[1]*lut[2][z])
				for x := 0; x < dst[0]; x++ {
					out[idx] = data[row+lut[0][x]]
					idx++
				}
			}
		}
	}
	return out
}

// resampleSlices resizes each frame in two passes of 2D resizing: first
// every axial (x,y) slice, then every (x,z) plane of the intermediate
// volume. Slices are processed on a pool sized to GOMAXPROCS.
func resampleSlices(ctx context.Context, data []float32, frames int, src, dst [3]int, interp resize.InterpolationFunction) ([]float32, error) {
	srcLen := src[0] * src[1] * src[2]
	dstLen := dst[0] * dst[1] * dst[2]
	out := make([]float32, dstLen*frames)
	mid := make([]float32, dst[0]*dst[1]*src[2])

	pool := pond.NewPool(runtime.GOMAXPROCS(0))
	defer pool.StopAndWait()

	for f := 0; f < frames; f++ {
		frame := data[f*srcLen : (f+1)*srcLen]
		q := newQuantizer(frame)

		group := pool.NewGroupContext(ctx)
		for z := 0; z < src[2]; z++ {
			group.Submit(func() {
				plane := q.plane(src[0], src[1], func(x, y int) float32 {
					return frame[x+src[0]*(y+src[1]*z)]
				})
				q.unplane(resize.Resize(uint(dst[0]), uint(dst[1]), plane, interp), func(x, y int, val float32) {
					mid[x+dst[0]*(y+dst[1]*z)] = val
				})
			})
		}
		if err := group.Wait(); err != nil {
			return nil, fmt.Errorf("failed to resample axial slices: %w", err)
		}

		dstFrame := out[f*dstLen : (f+1)*dstLen]
		group = pool.NewGroupContext(ctx)
		for y := 0; y < dst[1]; y++ {
			group.Submit(func() {
				plane := q.plane(dst[0], src[2], func(x, z int) float32 {
					return mid[x+dst[0]*(y+dst[1]*z)]
				})
				q.unplane(resize.Resize(uint(dst[0]), uint(dst[2]), plane, interp), func(x, z int, val float32) {
					dstFrame[x+dst[0]*(y+dst[1]*z)] = val
				})
			})
		}
		if err := group.Wait(); err != nil {
			return nil, fmt.Errorf("failed to resample coronal planes: %w", err)
		}
	}
	return out, nil
}

// quantizer maps float voxels onto the 16-bit grey range nfnt/resize works
// in. Narrow ranges are stretched over the full 16 bits; integer-valued images
// spanning at most 65535 levels round-trip exactly.
type quantizer struct {
	lo    float64
	scale float64
}

func newQuantizer(data []float32) quantizer {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range data {
		f := float64(x)
		if math.IsNaN(f) {
			continue
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	if math.IsInf(lo, 1) {
		return quantizer{scale: 1}
	}
	q := quantizer{lo: lo, scale: 1}
	switch span := hi - lo; {
	case span > math.MaxUint16:
		q.scale = math.MaxUint16 / span
	case span > 0:
		// whole-number stretch keeps integer images exact
		q.scale = math.Max(1, math.Floor(math.MaxUint16/span))
	}
	return q
}

func (q quantizer) plane(w, h int, at func(x, y int) float32) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u := math.Round((float64(at(x, y)) - q.lo) * q.scale)
			if math.IsNaN(u) {
				u = 0
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Max(0, math.Min(math.MaxUint16, u)))})
		}
	}
	return img
}

func (q quantizer) unplane(img image.Image, set func(x, y int, val float32)) {
	b := img.Bounds()
	g, _ := img.(*image.Gray16)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var u uint16
			if g != nil {
				u = g.Gray16At(x, y).Y
			} else {
				u = color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
			}
			set(x-b.Min.X, y-b.Min.Y, float32(float64(u)/q.scale+q.lo))
		}
	}
}
