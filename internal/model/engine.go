package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Brownie44l1/segmentator/internal/config"
)

var (
	ErrEngine        = errors.New("inference engine failed")
	ErrModelNotFound = errors.New("model directory not found")
)

// Engine runs a trained network over every case in a folder. Input files are
// named <case>_0000.nii.gz; predictions are written as <case>.nii.gz.
type Engine interface {
	Predict(ctx context.Context, req Request) error
	Close() error
}

// NewEngine builds the backend selected in cfg.
func NewEngine(cfg *config.Config, log *slog.Logger) (Engine, error) {
	switch cfg.Engine {
	case config.EngineNNUNet:
		return NewNNUNetEngine(cfg, log), nil
	case config.EngineONNX:
		return NewServer(cfg.ORTLibraryPath, log)
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}
