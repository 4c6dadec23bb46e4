package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/segmentator/internal/config"
	"github.com/Brownie44l1/segmentator/internal/task"
)

type recordingEngine struct {
	reqs []Request
	err  error
}

func (e *recordingEngine) Predict(_ context.Context, req Request) error {
	e.reqs = append(e.reqs, req)
	return e.err
}

func (e *recordingEngine) Close() error { return nil }

func resultsTree(t *testing.T, dirs ...string) *config.Config {
	t.Helper()
	root := t.TempDir()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "nnUNet", d), 0o755))
	}
	cfg := config.DefaultConfig()
	cfg.ResultsRoot = root
	return &cfg
}

func TestNewRequest_FixedPolicy(t *testing.T) {
	req := NewRequest("/m", "Task251_x", "/in", "/out", Options{Folds: []int{0}, TTA: true})

	require.Equal(t, DefaultModel, req.Model)
	require.Equal(t, DefaultTrainer, req.Trainer)
	require.Equal(t, "nnUNetPlansv2.1", req.Plans)
	require.Equal(t, []int{0}, req.Folds)
	require.False(t, req.SaveNPZ)
	require.Equal(t, 6, req.NumThreadsPreprocessing)
	require.Equal(t, 2, req.NumThreadsNiftiSave)
	require.Equal(t, 0, req.PartID)
	require.Equal(t, 1, req.NumParts)
	require.True(t, req.TTA)
	require.False(t, req.OverwriteExisting)
	require.Equal(t, "fastest", req.Mode)
	require.Equal(t, 0.5, req.StepSize)
	require.Equal(t, "model_final_checkpoint", req.Checkpoint)
	require.True(t, req.MixedPrecision)
}

func TestInvoker_Predict(t *testing.T) {
	t.Parallel()

	cfg := resultsTree(t,
		"3d_fullres/Task251_TotalSegmentator_part1_organs_1139subj",
		"2d/Task256_TotalSegmentator_3mm_1139subj",
	)
	engine := &recordingEngine{}
	inv := NewInvoker(cfg, engine, nil)

	err := inv.Predict(context.Background(), "/ws", "/ws", 251, Options{})
	require.NoError(t, err)
	require.Len(t, engine.reqs, 1)
	req := engine.reqs[0]
	require.Equal(t,
		filepath.Join(cfg.ResultsRoot, "nnUNet", "3d_fullres", "Task251_TotalSegmentator_part1_organs_1139subj", "nnUNetTrainerV2__nnUNetPlansv2.1"),
		req.ModelDir)
	require.Equal(t, "/ws", req.InputDir)
	require.Equal(t, "/ws", req.OutputDir)
	require.False(t, req.TTA)
	require.Nil(t, req.Folds)

	// task found through the 2d fallback, model mode and trainer from options
	err = inv.Predict(context.Background(), "/a", "/b", 256, Options{Model: "3d_lowres", Trainer: "nnUNetTrainerV2_ep4000_nomirror", Folds: []int{0}})
	require.NoError(t, err)
	req = engine.reqs[1]
	require.Equal(t,
		filepath.Join(cfg.ResultsRoot, "nnUNet", "3d_lowres", "Task256_TotalSegmentator_3mm_1139subj", "nnUNetTrainerV2_ep4000_nomirror__nnUNetPlansv2.1"),
		req.ModelDir)
	require.Equal(t, []int{0}, req.Folds)
}

func TestInvoker_Errors(t *testing.T) {
	t.Parallel()

	cfg := resultsTree(t, "3d_fullres/Task251_organs")

	engine := &recordingEngine{}
	err := NewInvoker(cfg, engine, nil).Predict(context.Background(), "/in", "/out", 999, Options{})
	require.ErrorIs(t, err, task.ErrTaskNotFound)
	require.NotErrorIs(t, err, ErrEngine)
	require.Empty(t, engine.reqs)

	boom := errors.New("CUDA out of memory")
	engine = &recordingEngine{err: boom}
	err = NewInvoker(cfg, engine, nil).Predict(context.Background(), "/in", "/out", 251, Options{})
	require.ErrorIs(t, err, ErrEngine)
	require.ErrorIs(t, err, boom)
}

func TestArgs(t *testing.T) {
	req := NewRequest("/m", "Task251_organs", "/in", "/out", Options{Folds: []int{0, 3}})
	require.Equal(t, []string{
		"-i", "/in", "-o", "/out", "-t", "Task251_organs", "-m", "3d_fullres",
		"-tr", "nnUNetTrainerV2", "-p", "nnUNetPlansv2.1", "-f", "0", "3",
		"-chk", "model_final_checkpoint",
		"--num_threads_preprocessing", "6", "--num_threads_nifti_save", "2",
		"--part_id", "0", "--num_parts", "1",
		"--mode", "fastest", "--step_size", "0.5",
		"--disable_tta",
	}, Args(req))

	req = NewRequest("/m", "Task251_organs", "/in", "/out", Options{TTA: true})
	args := Args(req)
	require.NotContains(t, args, "--disable_tta")
	require.NotContains(t, args, "-f")
	require.NotContains(t, args, "--disable_mixed_precision")
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "nnUNet_predict")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestNNUNetEngine_Predict(t *testing.T) {
	t.Parallel()

	modelDir := t.TempDir()
	argsFile := filepath.Join(t.TempDir(), "args")
	script := writeScript(t, `echo "$@" > `+argsFile+`
echo "RESULTS_FOLDER=$RESULTS_FOLDER" >> `+argsFile+`
echo "noise on stdout"
`)

	cfg := config.DefaultConfig()
	cfg.NNUNetCommand = script
	cfg.ResultsRoot = "/results"
	e := NewNNUNetEngine(&cfg, nil)

	req := NewRequest(modelDir, "Task251_organs", "/in", "/out", Options{})
	require.NoError(t, e.Predict(context.Background(), req))

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Equal(t, strings.Join(Args(req), " "), lines[0])
	require.Equal(t, "RESULTS_FOLDER=/results", lines[1])
}

func TestNNUNetEngine_Failures(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "echo 'RuntimeError: checkpoint missing' >&2\nexit 3\n")
	cfg := config.DefaultConfig()
	cfg.NNUNetCommand = script
	e := NewNNUNetEngine(&cfg, nil)

	err := e.Predict(context.Background(), NewRequest(t.TempDir(), "Task1", "/in", "/out", Options{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "exited with code 3")
	require.Contains(t, err.Error(), "checkpoint missing")

	err = e.Predict(context.Background(), NewRequest(filepath.Join(t.TempDir(), "nope"), "Task1", "/in", "/out", Options{}))
	require.ErrorIs(t, err, ErrModelNotFound)

	cfg.NNUNetCommand = filepath.Join(t.TempDir(), "not-installed")
	err = NewNNUNetEngine(&cfg, nil).Predict(context.Background(), NewRequest(t.TempDir(), "Task1", "/in", "/out", Options{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to run")
}

func TestTail(t *testing.T) {
	require.Equal(t, "abc", tail("  abc \n", 5))
	require.Equal(t, "...def", tail("abcdef", 3))
}
