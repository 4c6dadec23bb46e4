package nifti

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine maps voxel indices (i, j, k, 1) to world millimetres.
type Affine [4][4]float64

// Identity returns the unit affine.
func Identity() Affine {
	return Affine{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// Mul returns a*b.
func (a Affine) Mul(b Affine) Affine {
	var m mat.Dense
	m.Mul(a.Dense(), b.Dense())
	return FromDense(&m)
}

// Dense returns a as a 4x4 gonum matrix.
func (a Affine) Dense() *mat.Dense {
	data := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, a[i][:]...)
	}
	return mat.NewDense(4, 4, data)
}

// FromDense copies the top-left 4x4 block of m.
func FromDense(m mat.Matrix) Affine {
	var a Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] = m.At(i, j)
		}
	}
	return a
}

// Zooms returns the voxel size along each voxel axis (the column norms).
func (a Affine) Zooms() [3]float64 {
	var z [3]float64
	for j := 0; j < 3; j++ {
		z[j] = math.Sqrt(a[0][j]*a[0][j] + a[1][j]*a[1][j] + a[2][j]*a[2][j])
	}
	return z
}

// ApproxEqual reports whether every element of a and b differs by at most tol.
func (a Affine) ApproxEqual(b Affine, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(a[i][j]-b[i][j]) > tol {
				return false
			}
		}
	}
	return true
}
