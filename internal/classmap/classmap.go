// Package classmap names the integer labels of a multilabel segmentation.
package classmap

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type Class struct {
	Label int
	Name  string
}

// Map is ordered by label.
type Map []Class

// Name returns the class name for label, if any.
func (m Map) Name(label int) (string, bool) {
	i := sort.Search(len(m), func(i int) bool { return m[i].Label >= label })
	if i < len(m) && m[i].Label == label {
		return m[i].Name, true
	}
	return "", false
}

// Validate checks labels are positive and labels and names are unique.
func (m Map) Validate() error {
	if len(m) == 0 {
		return errors.New("class map is empty")
	}
	labels := make(map[int]bool, len(m))
	names := make(map[string]bool, len(m))
	for _, c := range m {
		if c.Label <= 0 {
			return fmt.Errorf("class %q: label must be positive, got %d", c.Name, c.Label)
		}
		if c.Name == "" {
			return fmt.Errorf("label %d: empty class name", c.Label)
		}
		if labels[c.Label] {
			return fmt.Errorf("duplicate label %d", c.Label)
		}
		if names[c.Name] {
			return fmt.Errorf("duplicate class name %q", c.Name)
		}
		labels[c.Label], names[c.Name] = true, true
	}
	return nil
}

// FromLabels builds a sorted Map from a label -> name mapping.
func FromLabels(labels map[int]string) (Map, error) {
	m := make(Map, 0, len(labels))
	for label, name := range labels {
		m = append(m, Class{Label: label, Name: name})
	}
	sort.Slice(m, func(i, j int) bool { return m[i].Label < m[j].Label })
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads a YAML document of "label: name" pairs, e.g.
//
//	1: spleen
//	2: kidney_right
func Load(path string) (Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class map: %w", err)
	}
	var labels map[int]string
	if err := yaml.Unmarshal(raw, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse class map %s: %w", path, err)
	}
	m, err := FromLabels(labels)
	if err != nil {
		return nil, fmt.Errorf("invalid class map %s: %w", path, err)
	}
	return m, nil
}
