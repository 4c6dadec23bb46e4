package model

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Brownie44l1/segmentator/internal/config"
	"github.com/Brownie44l1/segmentator/internal/logging"
	"github.com/Brownie44l1/segmentator/internal/task"
)

// Invoker is the batch entry point: it locates a task's trained model and
// hands a folder of inputs to the engine.
type Invoker struct {
	cfg      *config.Config
	resolver *task.Resolver
	engine   Engine
	log      *slog.Logger
}

func NewInvoker(cfg *config.Config, engine Engine, log *slog.Logger) *Invoker {
	log = logging.OrDiscard(log)
	return &Invoker{
		cfg:      cfg,
		resolver: task.NewResolver(cfg, log),
		engine:   engine,
		log:      log,
	}
}

// ModelDir returns <results>/nnUNet/<model>/<task>/<trainer>__<plans>.
func (i *Invoker) ModelDir(taskID int, opts Options) (string, string, error) {
	opts = opts.withDefaults()
	taskName, err := i.resolver.Resolve(taskID, task.Results)
	if err != nil {
		return "", "", err
	}
	dir := filepath.Join(i.cfg.ResultsRoot, "nnUNet", opts.Model, taskName, opts.Trainer+"__"+DefaultPlansIdentifier)
	return dir, taskName, nil
}

// Predict segments every <case>_0000 image in inputDir into outputDir.
// Task lookup errors are returned unchanged; engine errors wrap ErrEngine.
func (i *Invoker) Predict(ctx context.Context, inputDir, outputDir string, taskID int, opts Options) error {
	modelDir, taskName, err := i.ModelDir(taskID, opts)
	if err != nil {
		return err
	}
	i.log.Info("using model stored in", "dir", modelDir)

	req := NewRequest(modelDir, taskName, inputDir, outputDir, opts)
	i.log.Debug("Prediction request",
		"folds", req.Folds, "tta", req.TTA, "mode", req.Mode, "step_size", req.StepSize,
		"checkpoint", req.Checkpoint, "mixed_precision", req.MixedPrecision)

	if err := i.engine.Predict(ctx, req); err != nil {
		return fmt.Errorf("%w: task %d: %w", ErrEngine, taskID, err)
	}
	return nil
}

func (i *Invoker) Close() error {
	return i.engine.Close()
}
