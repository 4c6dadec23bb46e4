// Package pipeline runs one segmentation end to end: it stages a single
// image in a scratch folder the engine understands, calls the engine, and
// turns the prediction back into the caller's geometry.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Brownie44l1/segmentator/internal/classmap"
	"github.com/Brownie44l1/segmentator/internal/logging"
	"github.com/Brownie44l1/segmentator/internal/model"
	"github.com/Brownie44l1/segmentator/internal/nifti"
	"github.com/Brownie44l1/segmentator/internal/volume"
)

// Workspace file names. The engine reads <case>_0000 and writes <case>.
const (
	workspacePrefix = "nnunet_tmp_"
	inputName       = "s01_0000.nii.gz"
	predictionName  = "s01.nii.gz"
)

// Predictor segments every <case>_0000 image in inputDir into outputDir.
type Predictor interface {
	Predict(ctx context.Context, inputDir, outputDir string, taskID int, opts model.Options) error
}

type Options struct {
	TaskID  int
	Model   string // Default: "3d_fullres".
	Folds   []int  // nil: all folds of the model.
	Trainer string // Default: "nnUNetTrainerV2".
	TTA     bool

	// Multilabel writes a single label volume to the output path. Otherwise
	// the output path is a directory receiving one binary mask per class.
	Multilabel bool
	// Resample is the isotropic spacing in mm the engine sees. 0 disables
	// resampling.
	Resample float64
	// Classes names the mask files. Default: classmap.Total.
	Classes classmap.Map
	// KeepWorkspace leaves the scratch folder on disk for debugging.
	KeepWorkspace bool
}

func (o Options) modelOptions() model.Options {
	return model.Options{Model: o.Model, Folds: o.Folds, Trainer: o.Trainer, TTA: o.TTA}
}

type Pipeline struct {
	predictor Predictor
	log       *slog.Logger
}

func New(predictor Predictor, log *slog.Logger) *Pipeline {
	return &Pipeline{predictor: predictor, log: logging.OrDiscard(log)}
}

// PredictImage segments the image at in and writes the result to out.
//
// The scratch folder is created next to in and removed on return, whether
// the run succeeded or not, unless opts.KeepWorkspace is set.
func (p *Pipeline) PredictImage(ctx context.Context, in, out string, opts Options) (err error) {
	if opts.Resample < 0 {
		return fmt.Errorf("invalid resample spacing %g", opts.Resample)
	}
	classes := opts.Classes
	if !opts.Multilabel {
		if classes == nil {
			classes = classmap.Total
		}
		if err := classes.Validate(); err != nil {
			return err
		}
	}

	ws, err := os.MkdirTemp(filepath.Dir(in), workspacePrefix)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	log := p.log.With("input", filepath.Base(in))
	if opts.KeepWorkspace {
		log.Info("Keeping workspace", "dir", ws)
	} else {
		defer func() {
			if rmErr := os.RemoveAll(ws); rmErr != nil {
				log.Warn("Failed to remove workspace", "dir", ws, "error", rmErr)
			}
		}()
	}

	img, err := nifti.Read(in)
	if err != nil {
		return err
	}
	canon, reo, err := volume.Canonicalize(img)
	if err != nil {
		return fmt.Errorf("failed to reorient %s: %w", in, err)
	}
	log.Debug("Reoriented input", "orientation", reo.Orig.String(), "shape", canon.Dims())

	staged := canon
	if opts.Resample > 0 {
		log.Info("Resampling", "spacing", opts.Resample)
		start := time.Now()
		staged, err = volume.ChangeSpacing(ctx, canon, [3]float64{opts.Resample, opts.Resample, opts.Resample}, volume.Cubic)
		if err != nil {
			return fmt.Errorf("failed to resample input: %w", err)
		}
		staged.Header.Datatype = nifti.DTInt32
		log.Debug("Resampled input", "shape", staged.Dims(), "took", time.Since(start))
	}
	if err := nifti.Write(filepath.Join(ws, inputName), staged); err != nil {
		return err
	}

	if err := p.predictor.Predict(ctx, ws, ws, opts.TaskID, opts.modelOptions()); err != nil {
		return err
	}

	pred, err := nifti.Read(filepath.Join(ws, predictionName))
	if err != nil {
		return fmt.Errorf("failed to load prediction: %w", err)
	}
	if opts.Resample > 0 {
		log.Info("Resampling back", "shape", canon.Dims())
		pred, err = volume.ResampleToShape(ctx, pred, canon.Dims(), volume.Nearest)
		if err != nil {
			return fmt.Errorf("failed to resample prediction: %w", err)
		}
		pred.Affine = canon.Affine
	}
	pred.Header.Datatype = nifti.DTUint8
	pred.Header.SclSlope, pred.Header.SclInter = 1, 0

	pred, err = reo.Undo(pred)
	if err != nil {
		return fmt.Errorf("failed to restore orientation: %w", err)
	}

	if opts.Multilabel {
		return nifti.Write(out, pred)
	}
	if unnamed := unnamedLabels(pred, classes); len(unnamed) > 0 {
		log.Warn("Prediction holds labels missing from the class map", "labels", unnamed)
	}
	return writeMasks(ctx, pred, out, classes)
}

// unnamedLabels lists the non-zero labels in pred that classes has no name
// for. Those voxels end up in no mask.
func unnamedLabels(pred *nifti.Volume, classes classmap.Map) []int {
	seen := map[int]bool{}
	var out []int
	for _, x := range pred.Data {
		label := int(x)
		if label == 0 || seen[label] {
			continue
		}
		seen[label] = true
		if _, ok := classes.Name(label); !ok {
			out = append(out, label)
		}
	}
	sort.Ints(out)
	return out
}

// writeMasks saves one 0/1 uint8 volume per class as <out>/<name>.nii.gz.
// Masks are written one at a time through a single buffer, so memory stays at
// one extra volume regardless of the number of classes.
func writeMasks(ctx context.Context, pred *nifti.Volume, out string, classes classmap.Map) error {
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	mask := pred.Like(make([]float32, len(pred.Data)), nifti.DTUint8)
	for _, c := range classes {
		if err := ctx.Err(); err != nil {
			return err
		}
		label := float32(c.Label)
		for i, x := range pred.Data {
			if x == label {
				mask.Data[i] = 1
			} else {
				mask.Data[i] = 0
			}
		}
		if err := nifti.Write(filepath.Join(out, c.Name+".nii.gz"), mask); err != nil {
			return fmt.Errorf("failed to write mask %s: %w", c.Name, err)
		}
	}
	return nil
}
