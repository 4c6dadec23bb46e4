package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// slidingSteps returns the tile origins along one axis of length size for a
// patch of length patch, spaced at most step*patch apart, with the last tile
// flush against the end.
func slidingSteps(size, patch int, step float64) []int {
	if size <= patch {
		return []int{0}
	}
	target := step * float64(patch)
	n := int(math.Ceil(float64(size-patch)/target)) + 1
	spacing := float64(size-patch) / float64(n-1)
	steps := make([]int, n)
	for i := range steps {
		steps[i] = int(math.Round(spacing * float64(i)))
	}
	return steps
}

// gaussianWeights builds the importance map used to blend overlapping
// tiles: a separable Gaussian with sigma = patch/8 per axis, peak 1, and no
// zero entries. Layout matches the network tensor (last axis fastest).
func gaussianWeights(patch [3]int) []float32 {
	var axes [3][]float64
	for a := 0; a < 3; a++ {
		axes[a] = make([]float64, patch[a])
		sigma := float64(patch[a]) / 8
		center := float64(patch[a]-1) / 2
		for i := range axes[a] {
			d := float64(i) - center
			axes[a][i] = math.Exp(-d * d / (2 * sigma * sigma))
		}
	}

	w := make([]float32, patch[0]*patch[1]*patch[2])
	minPos := float32(math.Inf(1))
	idx := 0
	for i := 0; i < patch[0]; i++ {
		for j := 0; j < patch[1]; j++ {
			for k := 0; k < patch[2]; k++ {
				v := float32(axes[0][i] * axes[1][j] * axes[2][k])
				w[idx] = v
				if v > 0 && v < minPos {
					minPos = v
				}
				idx++
			}
		}
	}
	for i, v := range w {
		if v == 0 {
			w[i] = minPos
		}
	}
	return w
}

// normalize returns a normalised copy of data.
func normalize(data []float32, n Normalization) []float32 {
	out := make([]float32, len(data))
	switch n.Scheme {
	case "CT":
		for i, x := range data {
			f := math.Max(n.Lower, math.Min(n.Upper, float64(x)))
			out[i] = float32((f - n.Mean) / n.Std)
		}
	default:
		xs := make([]float64, len(data))
		for i, x := range data {
			xs[i] = float64(x)
		}
		mean, std := stat.MeanStdDev(xs, nil)
		if std < 1e-8 || math.IsNaN(std) {
			std = 1e-8
		}
		for i, x := range xs {
			out[i] = float32((x - mean) / std)
		}
	}
	return out
}

// softmaxInto adds weights[v] * softmax(logits) for every patch voxel v into
// acc at index at(v). logits is laid out [class][voxel]; acc holds one slice
// per class.
func softmaxInto(acc [][]float32, logits, weights []float32, at func(v int) int) {
	classes := len(acc)
	nvox := len(weights)
	probs := make([]float64, classes)
	for v := 0; v < nvox; v++ {
		maxL := math.Inf(-1)
		for c := 0; c < classes; c++ {
			maxL = math.Max(maxL, float64(logits[c*nvox+v]))
		}
		var sum float64
		for c := 0; c < classes; c++ {
			probs[c] = math.Exp(float64(logits[c*nvox+v]) - maxL)
			sum += probs[c]
		}
		dst := at(v)
		for c := 0; c < classes; c++ {
			acc[c][dst] += weights[v] * float32(probs[c]/sum)
		}
	}
}

// argmax picks the class with the highest accumulated score per voxel.
func argmax(acc [][]float32, n int) []float32 {
	out := make([]float32, n)
	for v := 0; v < n; v++ {
		best, bestC := acc[0][v], 0
		for c := 1; c < len(acc); c++ {
			if acc[c][v] > best {
				best, bestC = acc[c][v], c
			}
		}
		out[v] = float32(bestC)
	}
	return out
}

// mirrorAxes lists the flip combinations evaluated per tile: only the
// identity without TTA, all eight axis mirrors with it.
func mirrorAxes(tta bool) [][3]bool {
	if !tta {
		return [][3]bool{{false, false, false}}
	}
	var out [][3]bool
	for m := 0; m < 8; m++ {
		out = append(out, [3]bool{m&1 != 0, m&2 != 0, m&4 != 0})
	}
	return out
}
