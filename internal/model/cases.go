package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// channelSuffixes are the accepted names of a case's first (only) channel.
var channelSuffixes = []string{"_0000.nii.gz", "_0000.nii"}

type inputCase struct {
	name string
	path string
}

// findCases lists <case>_0000 images in dir, sorted by case name.
func findCases(dir string) ([]inputCase, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list input folder: %w", err)
	}
	var cases []inputCase
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, suffix := range channelSuffixes {
			if strings.HasSuffix(e.Name(), suffix) {
				cases = append(cases, inputCase{
					name: strings.TrimSuffix(e.Name(), suffix),
					path: filepath.Join(dir, e.Name()),
				})
				break
			}
		}
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].name < cases[j].name })
	return cases, nil
}

// partition keeps every numParts-th case starting at partID.
func partition(cases []inputCase, partID, numParts int) []inputCase {
	if numParts <= 1 {
		return cases
	}
	var out []inputCase
	for i, c := range cases {
		if i%numParts == partID {
			out = append(out, c)
		}
	}
	return out
}

// findFolds returns the requested folds, or every fold_<n> directory in
// modelDir when none were requested.
func findFolds(modelDir string, requested []int) ([]int, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list model directory: %w", err)
	}
	var folds []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "fold_") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "fold_"))
		if err != nil {
			continue
		}
		folds = append(folds, n)
	}
	if len(folds) == 0 {
		return nil, fmt.Errorf("no fold_* directories in %s", modelDir)
	}
	sort.Ints(folds)
	return folds, nil
}

func foldCheckpoint(modelDir string, fold int, checkpoint string) string {
	return filepath.Join(modelDir, "fold_"+strconv.Itoa(fold), checkpoint+".onnx")
}

// pad copies a volume of shape src into the corner of a zeroed volume of
// shape dst.
func pad(data []float32, src, dst [3]int) []float32 {
	if src == dst {
		return data
	}
	out := make([]float32, dst[0]*dst[1]*dst[2])
	for z := 0; z < src[2]; z++ {
		for y := 0; y < src[1]; y++ {
			copy(out[dst[0]*(y+dst[1]*z):], data[src[0]*(y+src[1]*z):src[0]*(y+src[1]*z)+src[0]])
		}
	}
	return out
}

// crop is the inverse of pad.
func crop(data []float32, src, dst [3]int) []float32 {
	if src == dst {
		return data
	}
	out := make([]float32, dst[0]*dst[1]*dst[2])
	for z := 0; z < dst[2]; z++ {
		for y := 0; y < dst[1]; y++ {
			copy(out[dst[0]*(y+dst[1]*z):dst[0]*(y+dst[1]*z)+dst[0]], data[src[0]*(y+src[1]*z):])
		}
	}
	return out
}
