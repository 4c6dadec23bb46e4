// Package task maps numeric nnU-Net task ids to their on-disk directory names.
package task

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/segmentator/internal/config"
	"github.com/Brownie44l1/segmentator/internal/logging"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrRootNotConfigured = errors.New("root directory not configured")
)

// Source selects which nnU-Net tree a task is looked up in.
type Source int

const (
	Raw Source = iota
	Preprocessed
	Results
)

func (s Source) String() string {
	switch s {
	case Raw:
		return "raw"
	case Preprocessed:
		return "preprocessed"
	case Results:
		return "results"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// ParseSource converts "raw", "preprocessed" or "results".
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(s) {
	case "raw":
		return Raw, nil
	case "preprocessed":
		return Preprocessed, nil
	case "results":
		return Results, nil
	}
	return 0, fmt.Errorf("invalid source %q (use raw, preprocessed or results)", s)
}

// Token returns the directory name fragment for a task id, e.g. 5 -> "Task005".
func Token(id int) string {
	return fmt.Sprintf("Task%03d", id)
}

type Resolver struct {
	cfg *config.Config
	log *slog.Logger
}

func NewResolver(cfg *config.Config, log *slog.Logger) *Resolver {
	return &Resolver{cfg: cfg, log: logging.OrDiscard(log)}
}

// Resolve returns the name of the directory holding task id under src. For
// Results the 3d_fullres tree is searched first and the 2d tree second.
// When several directories carry the token, the lexically first one wins.
func (r *Resolver) Resolve(id int, src Source) (string, error) {
	dir, err := r.Dir(id, src)
	if err != nil {
		return "", err
	}
	return filepath.Base(dir), nil
}

// Dir returns the full path of the directory Resolve names.
func (r *Resolver) Dir(id int, src Source) (string, error) {
	bases, err := r.searchDirs(src)
	if err != nil {
		return "", err
	}
	token := Token(id)
	for _, base := range bases {
		name, err := r.match(base, token)
		if err != nil {
			return "", err
		}
		if name != "" {
			return filepath.Join(base, name), nil
		}
	}
	return "", fmt.Errorf("task_id %d not found in %s: %w", id, src, ErrTaskNotFound)
}

func (r *Resolver) searchDirs(src Source) ([]string, error) {
	switch src {
	case Raw:
		if r.cfg.RawRoot == "" {
			return nil, fmt.Errorf("%s: %w", config.EnvRawRoot, ErrRootNotConfigured)
		}
		return []string{filepath.Join(r.cfg.RawRoot, "nnUNet_raw_data")}, nil
	case Preprocessed:
		if r.cfg.PreprocessedRoot == "" {
			return nil, fmt.Errorf("%s: %w", config.EnvPreprocessedRoot, ErrRootNotConfigured)
		}
		return []string{r.cfg.PreprocessedRoot}, nil
	case Results:
		if r.cfg.ResultsRoot == "" {
			return nil, fmt.Errorf("%s: %w", config.EnvResultsRoot, ErrRootNotConfigured)
		}
		return []string{
			filepath.Join(r.cfg.ResultsRoot, "nnUNet", "3d_fullres"),
			filepath.Join(r.cfg.ResultsRoot, "nnUNet", "2d"),
		}, nil
	}
	return nil, fmt.Errorf("invalid source %v", src)
}

// match scans the immediate subdirectories of base. A missing base is not an
// error: it simply holds no tasks.
func (r *Resolver) match(base, token string) (string, error) {
	entries, err := os.ReadDir(base)
	if errors.Is(err, os.ErrNotExist) {
		r.log.Debug("Task search directory missing", "dir", base)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", base, err)
	}

	var matches []string
	for _, e := range entries {
		if e.IsDir() && strings.Contains(e.Name(), token) {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return "", nil
	}
	if len(matches) > 1 {
		r.log.Warn("Multiple task directories match, using the first", "token", token, "dir", base, "matches", matches)
	}
	return matches[0], nil
}
