package volume

import "github.com/Brownie44l1/segmentator/internal/nifti"

// ContainsEmptyImage reports whether every image in paths holds a single
// distinct value. An empty list is vacuously empty. Every file is loaded,
// so an unreadable path is reported even after a non-empty image was found.
func ContainsEmptyImage(paths []string) (bool, error) {
	empty := true
	for _, p := range paths {
		v, err := nifti.Read(p)
		if err != nil {
			return false, err
		}
		empty = empty && v.Unique() == 1
	}
	return empty, nil
}
