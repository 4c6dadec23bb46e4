package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alitto/pond/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/segmentator/internal/logging"
	"github.com/Brownie44l1/segmentator/internal/nifti"
	"github.com/Brownie44l1/segmentator/internal/quiet"
)

// Server runs nnU-Net networks exported to ONNX in process. A model
// directory holds onnx.json and one fold_<n>/<checkpoint>.onnx per fold.
type Server struct {
	log *slog.Logger
}

func NewServer(libPath string, log *slog.Logger) (*Server, error) {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	// onnxruntime prints provider banners from C; keep them off the terminal
	err := quiet.Do(func() error { return ort.InitializeEnvironment() })
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return &Server{log: logging.OrDiscard(log)}, nil
}

// network maps one normalised patch to per-class logits laid out
// [class][voxel].
type network interface {
	run(patch []float32) ([]float32, error)
}

// foldSession is one fold's network bound to patch-sized tensors.
type foldSession struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newFoldSession(modelPath string, meta Metadata, threads int) (*foldSession, error) {
	p := meta.PatchSize
	inputShape := ort.NewShape(1, 1, p[0], p[1], p[2])
	outputShape := ort.NewShape(1, int64(len(meta.Classes)), p[0], p[1], p[2])

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}

	return &foldSession{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (f *foldSession) run(patch []float32) ([]float32, error) {
	copy(f.inputTensor.GetData(), patch)
	if err := f.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return f.outputTensor.GetData(), nil
}

func (f *foldSession) destroy() {
	if f.inputTensor != nil {
		f.inputTensor.Destroy()
	}
	if f.outputTensor != nil {
		f.outputTensor.Destroy()
	}
	if f.session != nil {
		f.session.Destroy()
	}
}

// Predict segments every case in req.InputDir. Predictions are written by a
// pool of req.NumThreadsNiftiSave writers while the next case is inferred.
func (s *Server) Predict(ctx context.Context, req Request) error {
	if req.SaveNPZ {
		return errors.New("onnx engine cannot export probability maps")
	}
	meta, err := loadMetadata(filepath.Join(req.ModelDir, "onnx.json"))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, req.ModelDir)
	}
	if err != nil {
		return err
	}
	folds, err := findFolds(req.ModelDir, req.Folds)
	if err != nil {
		return err
	}
	cases, err := findCases(req.InputDir)
	if err != nil {
		return err
	}
	cases = partition(cases, req.PartID, req.NumParts)
	if req.MixedPrecision {
		s.log.Debug("Mixed precision is decided by the ONNX export; running graph as stored")
	}

	sessions := make([]*foldSession, 0, len(folds))
	defer func() {
		for _, f := range sessions {
			f.destroy()
		}
	}()
	for _, fold := range folds {
		f, err := newFoldSession(foldCheckpoint(req.ModelDir, fold, req.Checkpoint), meta, req.NumThreadsPreprocessing)
		if err != nil {
			return err
		}
		sessions = append(sessions, f)
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	pool := pond.NewPool(max(1, req.NumThreadsNiftiSave))
	defer pool.StopAndWait()
	writes := pool.NewGroupContext(ctx)

	nets := make([]network, len(sessions))
	for i, f := range sessions {
		nets[i] = f
	}
	err = s.predictCases(ctx, req, meta, nets, cases, writes)
	if werr := writes.Wait(); err == nil && werr != nil {
		err = fmt.Errorf("failed to save prediction: %w", werr)
	}
	return err
}

func (s *Server) predictCases(ctx context.Context, req Request, meta Metadata, nets []network, cases []inputCase, writes pond.TaskGroup) error {
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := filepath.Join(req.OutputDir, c.name+".nii.gz")
		if !req.OverwriteExisting {
			if _, err := os.Stat(out); err == nil {
				s.log.Info("Prediction exists, skipping", "case", c.name)
				continue
			}
		}

		vol, err := nifti.Read(c.path)
		if err != nil {
			return err
		}
		s.log.Info("Predicting", "case", c.name, "shape", vol.Dims(), "folds", len(nets), "tta", req.TTA)

		labels, err := s.segment(ctx, vol, meta, nets, req)
		if err != nil {
			return fmt.Errorf("case %s: %w", c.name, err)
		}
		pred := vol.Like(labels, nifti.DTUint8)
		pred.Header.Dim[0] = 3
		writes.SubmitErr(func() error { return nifti.Write(out, pred) })
	}
	return nil
}

// segment runs sliding-window inference over the first frame of vol and
// returns the label of every voxel.
func (s *Server) segment(ctx context.Context, vol *nifti.Volume, meta Metadata, nets []network, req Request) ([]float32, error) {
	dims := vol.Dims()
	patch := [3]int{int(meta.PatchSize[0]), int(meta.PatchSize[1]), int(meta.PatchSize[2])}
	nvox := dims[0] * dims[1] * dims[2]

	var padded [3]int
	for a := 0; a < 3; a++ {
		padded[a] = max(dims[a], patch[a])
	}
	data := pad(normalize(vol.Data[:nvox], meta.Normalization), dims, padded)
	total := padded[0] * padded[1] * padded[2]

	acc := make([][]float32, len(meta.Classes))
	for c := range acc {
		acc[c] = make([]float32, total)
	}

	weights := gaussianWeights(patch)
	mirrors := mirrorAxes(req.TTA)
	steps := [3][]int{
		slidingSteps(padded[0], patch[0], req.StepSize),
		slidingSteps(padded[1], patch[1], req.StepSize),
		slidingSteps(padded[2], patch[2], req.StepSize),
	}
	s.log.Debug("Sliding window", "patch", patch, "tiles", len(steps[0])*len(steps[1])*len(steps[2]), "mirrors", len(mirrors))

	input := make([]float32, len(weights))
	src := make([]int, len(weights))
	at := func(v int) int { return src[v] }

	for _, ox := range steps[0] {
		for _, oy := range steps[1] {
			for _, oz := range steps[2] {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				for _, m := range mirrors {
					// network layout is [x][y][z], z fastest
					idx := 0
					for i := 0; i < patch[0]; i++ {
						x := ox + flipIndex(i, patch[0], m[0])
						for j := 0; j < patch[1]; j++ {
							y := oy + flipIndex(j, patch[1], m[1])
							for k := 0; k < patch[2]; k++ {
								z := oz + flipIndex(k, patch[2], m[2])
								src[idx] = x + padded[0]*(y+padded[1]*z)
								input[idx] = data[src[idx]]
								idx++
							}
						}
					}
					for _, net := range nets {
						logits, err := net.run(input)
						if err != nil {
							return nil, err
						}
						softmaxInto(acc, logits, weights, at)
					}
				}
			}
		}
	}

	return crop(argmax(acc, total), padded, dims), nil
}

func flipIndex(i, n int, flip bool) int {
	if flip {
		return n - 1 - i
	}
	return i
}

func (s *Server) Close() error {
	return ort.DestroyEnvironment()
}
