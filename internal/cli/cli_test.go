package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/segmentator/internal/cli"
	"github.com/Brownie44l1/segmentator/internal/config"
	"github.com/Brownie44l1/segmentator/internal/nifti"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

// setupResults points RESULTS_FOLDER at a tree holding one trained task and
// NNUNET_PREDICT_CMD at a stand-in that copies each input to its prediction.
func setupResults(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nnUNet", "3d_fullres", "Task251_organs", "nnUNetTrainerV2__nnUNetPlansv2.1"), 0o755))

	script := filepath.Join(t.TempDir(), "nnUNet_predict")
	body := "#!/bin/sh\n" +
		"for f in \"$2\"/*_0000.nii.gz; do b=$(basename \"$f\" _0000.nii.gz); cp \"$f\" \"$4/$b.nii.gz\"; done\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	t.Chdir(t.TempDir())
	t.Setenv(config.EnvResultsRoot, root)
	t.Setenv(config.EnvNNUNetCommand, script)
	t.Setenv(config.EnvEngine, "")
	return root
}

func writeImage(t *testing.T, path string, fill func(i int) float32) *nifti.Volume {
	t.Helper()
	aff := nifti.Identity()
	aff[0][0] = -1
	v := nifti.New([3]int{4, 3, 2}, nifti.DTInt16, aff)
	for i := range v.Data {
		v.Data[i] = fill(i)
	}
	require.NoError(t, nifti.Write(path, v))
	return v
}

func TestResolveTask(t *testing.T) {
	root := setupResults(t)
	raw := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(raw, "nnUNet_raw_data", "Task017_abdomen"), 0o755))
	t.Setenv(config.EnvRawRoot, raw)

	out, err := execute(t, "resolve-task", "251")
	require.NoError(t, err)
	require.Equal(t, "Task251_organs\n", out)

	out, err = execute(t, "resolve-task", "17", "--source", "raw")
	require.NoError(t, err)
	require.Equal(t, "Task017_abdomen\n", out)

	_, err = execute(t, "resolve-task", "300")
	require.Error(t, err)

	_, err = execute(t, "resolve-task", "251", "--source", "nowhere")
	require.Error(t, err)
	require.DirExists(t, root)
}

func TestCheckEmpty(t *testing.T) {
	setupResults(t)
	dir := t.TempDir()
	zero := filepath.Join(dir, "zero.nii.gz")
	ramp := filepath.Join(dir, "ramp.nii.gz")
	writeImage(t, zero, func(int) float32 { return 0 })
	writeImage(t, ramp, func(i int) float32 { return float32(i) })

	out, err := execute(t, "check-empty", zero)
	require.NoError(t, err)
	require.Equal(t, "true\n", out)

	out, err = execute(t, "check-empty", zero, ramp)
	require.NoError(t, err)
	require.Equal(t, "false\n", out)

	_, err = execute(t, "check-empty", filepath.Join(dir, "missing.nii.gz"))
	require.Error(t, err)
}

func TestPredict_Multilabel(t *testing.T) {
	setupResults(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "ct.nii.gz")
	orig := writeImage(t, in, func(i int) float32 { return float32(i % 3) })
	out := filepath.Join(dir, "seg.nii.gz")

	_, err := execute(t, "predict", in, out, "--task", "251", "--ml", "--fold", "0")
	require.NoError(t, err)

	got, err := nifti.Read(out)
	require.NoError(t, err)
	require.Equal(t, orig.Data, got.Data)
	require.True(t, got.Affine.ApproxEqual(orig.Affine, 1e-6))

	left, err := filepath.Glob(filepath.Join(dir, "nnunet_tmp_*"))
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestPredict_MasksWithClassMap(t *testing.T) {
	setupResults(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "ct.nii.gz")
	writeImage(t, in, func(i int) float32 { return float32(i % 3) })
	classes := filepath.Join(dir, "classes.yaml")
	require.NoError(t, os.WriteFile(classes, []byte("1: liver\n2: spleen\n"), 0o644))
	out := filepath.Join(dir, "masks")

	_, err := execute(t, "predict", in, out, "-t", "251", "--class-map", classes)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(out, "liver.nii.gz"))
	require.FileExists(t, filepath.Join(out, "spleen.nii.gz"))

	mask, err := nifti.Read(filepath.Join(out, "spleen.nii.gz"))
	require.NoError(t, err)
	for i, x := range mask.Data {
		require.Equal(t, i%3 == 2, x == 1, "voxel %d", i)
	}
}

func TestPredict_Errors(t *testing.T) {
	setupResults(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "ct.nii.gz")
	writeImage(t, in, func(int) float32 { return 1 })

	_, err := execute(t, "predict", in, filepath.Join(dir, "seg.nii.gz"), "--ml")
	require.Error(t, err, "task flag is required")

	_, err = execute(t, "predict", in, filepath.Join(dir, "seg.nii.gz"), "--ml", "--task", "999")
	require.Error(t, err)

	_, err = execute(t, "predict", in, filepath.Join(dir, "seg.nii.gz"), "--ml", "--task", "251", "--engine", "tensorflow")
	require.Error(t, err)

	left, err := filepath.Glob(filepath.Join(dir, "nnunet_tmp_*"))
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestPredictDir(t *testing.T) {
	setupResults(t)
	in := t.TempDir()
	writeImage(t, filepath.Join(in, "a_0000.nii.gz"), func(i int) float32 { return float32(i % 2) })
	writeImage(t, filepath.Join(in, "b_0000.nii.gz"), func(int) float32 { return 0 })
	out := filepath.Join(t.TempDir(), "pred")

	_, err := execute(t, "predict-dir", in, out, "--task", "251")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(out, "a.nii.gz"))
	require.FileExists(t, filepath.Join(out, "b.nii.gz"))
}

func TestPredictBatch(t *testing.T) {
	setupResults(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.nii.gz")
	b := filepath.Join(dir, "b.nii")
	writeImage(t, a, func(i int) float32 { return float32(i % 2) })
	writeImage(t, b, func(int) float32 { return 0 })
	out := filepath.Join(dir, "out")

	_, err := execute(t, "predict-batch", out, a, b, "--task", "251", "--ml", "-j", "2")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(out, "a.nii.gz"))
	require.FileExists(t, filepath.Join(out, "b.nii.gz"))

	missing := filepath.Join(dir, "missing.nii.gz")
	_, err = execute(t, "predict-batch", out, a, missing, "--task", "251", "--ml")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "missing.nii.gz"))
}

func TestPredictBatch_SameStem(t *testing.T) {
	setupResults(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "p1", "ct.nii.gz")
	b := filepath.Join(dir, "p2", "ct.nii.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(a), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0o755))
	writeImage(t, a, func(int) float32 { return 0 })
	writeImage(t, b, func(int) float32 { return 1 })
	out := filepath.Join(dir, "out")

	_, err := execute(t, "predict-batch", out, a, b, "--task", "251", "--ml", "-j", "2")
	require.ErrorContains(t, err, "both write")
	require.NoFileExists(t, filepath.Join(out, "ct.nii.gz"))
}
