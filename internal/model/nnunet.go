package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/Brownie44l1/segmentator/internal/config"
	"github.com/Brownie44l1/segmentator/internal/logging"
	"github.com/Brownie44l1/segmentator/internal/quiet"
)

// stderrTail bounds how much engine output is quoted in an error.
const stderrTail = 2000

// NNUNetEngine runs the nnUNet_predict command line tool.
type NNUNetEngine struct {
	command string
	env     []string
	verbose bool
	log     *slog.Logger
}

func NewNNUNetEngine(cfg *config.Config, log *slog.Logger) *NNUNetEngine {
	return &NNUNetEngine{
		command: cfg.NNUNetCommand,
		env:     cfg.Env(),
		verbose: cfg.Verbose,
		log:     logging.OrDiscard(log),
	}
}

// Args builds the nnUNet_predict argument vector for req.
func Args(req Request) []string {
	args := []string{
		"-i", req.InputDir,
		"-o", req.OutputDir,
		"-t", req.TaskName,
		"-m", req.Model,
		"-tr", req.Trainer,
		"-p", req.Plans,
	}
	if len(req.Folds) > 0 {
		args = append(args, "-f")
		for _, f := range req.Folds {
			args = append(args, strconv.Itoa(f))
		}
	}
	if req.SaveNPZ {
		args = append(args, "-z")
	}
	args = append(args,
		"-chk", req.Checkpoint,
		"--num_threads_preprocessing", strconv.Itoa(req.NumThreadsPreprocessing),
		"--num_threads_nifti_save", strconv.Itoa(req.NumThreadsNiftiSave),
		"--part_id", strconv.Itoa(req.PartID),
		"--num_parts", strconv.Itoa(req.NumParts),
		"--mode", req.Mode,
		"--step_size", strconv.FormatFloat(req.StepSize, 'g', -1, 64),
	)
	if !req.TTA {
		args = append(args, "--disable_tta")
	}
	if req.OverwriteExisting {
		args = append(args, "--overwrite_existing")
	}
	if !req.MixedPrecision {
		args = append(args, "--disable_mixed_precision")
	}
	return args
}

// Predict runs nnUNet_predict and waits for it. Cancelling ctx kills the
// process. Stdout is dropped unless verbose; stderr is kept for the error.
func (e *NNUNetEngine) Predict(ctx context.Context, req Request) error {
	if fi, err := os.Stat(req.ModelDir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrModelNotFound, req.ModelDir)
	}

	args := Args(req)
	e.log.Debug("Running engine", "cmd", e.command, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Env = append(os.Environ(), e.env...)

	stdout, stderr := quiet.Writers(e.verbose)
	var stderrBuf bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(&stderrBuf, stderr)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d: %s", e.command, exitErr.ExitCode(), tail(stderrBuf.String(), stderrTail))
		}
		return fmt.Errorf("failed to run %s: %w", e.command, err)
	}
	return nil
}

func (e *NNUNetEngine) Close() error { return nil }

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
