package model

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	DefaultModel           = "3d_fullres"
	DefaultTrainer         = "nnUNetTrainerV2"
	DefaultPlansIdentifier = "nnUNetPlansv2.1"
	DefaultCheckpoint      = "model_final_checkpoint"
)

// Options are the caller-facing knobs of a prediction.
type Options struct {
	Model   string // Default: "3d_fullres".
	Folds   []int  // nil: every fold found in the model directory.
	Trainer string // Default: "nnUNetTrainerV2".
	TTA     bool
}

func DefaultOptions() Options {
	return Options{Model: DefaultModel, Trainer: DefaultTrainer}
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.Trainer == "" {
		o.Trainer = DefaultTrainer
	}
	return o
}

// Request is everything an Engine needs for one predict-from-folder call.
// Apart from the paths, folds and TTA it is fixed by NewRequest.
type Request struct {
	ModelDir  string
	TaskName  string
	Model     string
	Trainer   string
	Plans     string
	InputDir  string
	OutputDir string
	Folds     []int

	SaveNPZ                 bool
	NumThreadsPreprocessing int
	NumThreadsNiftiSave     int
	PartID                  int
	NumParts                int
	TTA                     bool
	OverwriteExisting       bool
	Mode                    string
	StepSize                float64
	Checkpoint              string
	MixedPrecision          bool
}

// NewRequest applies the fixed inference policy: no probability maps, 6
// preprocessing and 2 saving threads, a single part, "fastest" mode, half
// patch overlap, the final checkpoint and mixed precision.
func NewRequest(modelDir, taskName, inputDir, outputDir string, opts Options) Request {
	opts = opts.withDefaults()
	return Request{
		ModelDir:  modelDir,
		TaskName:  taskName,
		Model:     opts.Model,
		Trainer:   opts.Trainer,
		Plans:     DefaultPlansIdentifier,
		InputDir:  inputDir,
		OutputDir: outputDir,
		Folds:     opts.Folds,

		SaveNPZ:                 false,
		NumThreadsPreprocessing: 6,
		NumThreadsNiftiSave:     2,
		PartID:                  0,
		NumParts:                1,
		TTA:                     opts.TTA,
		OverwriteExisting:       false,
		Mode:                    "fastest",
		StepSize:                0.5,
		Checkpoint:              DefaultCheckpoint,
		MixedPrecision:          true,
	}
}

// Metadata describes an nnU-Net network exported to ONNX. It is read from
// onnx.json next to the fold directories.
type Metadata struct {
	InputName     string        `json:"input_name"`
	OutputName    string        `json:"output_name"`
	PatchSize     []int64       `json:"patch_size"`
	Classes       []string      `json:"classes"`
	InputChannels int           `json:"input_channels"`
	Normalization Normalization `json:"normalization"`
}

// Normalization selects the intensity normalisation applied before tiling.
// Scheme "CT" clips to [Lower, Upper] and standardises with the dataset Mean
// and Std; "zscore" standardises with the image's own statistics.
type Normalization struct {
	Scheme string  `json:"scheme"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

func loadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}
	if meta.InputChannels == 0 {
		meta.InputChannels = 1
	}
	if meta.InputChannels != 1 {
		return Metadata{}, fmt.Errorf("only single-channel networks are supported, got %d channels", meta.InputChannels)
	}
	if len(meta.PatchSize) != 3 {
		return Metadata{}, fmt.Errorf("patch_size must have 3 entries, got %v", meta.PatchSize)
	}
	for _, p := range meta.PatchSize {
		if p < 1 {
			return Metadata{}, fmt.Errorf("invalid patch_size %v", meta.PatchSize)
		}
	}
	if len(meta.Classes) < 2 {
		return Metadata{}, fmt.Errorf("need at least background and one class, got %v", meta.Classes)
	}
	switch meta.Normalization.Scheme {
	case "", "zscore":
		meta.Normalization.Scheme = "zscore"
	case "CT", "ct":
		meta.Normalization.Scheme = "CT"
		if meta.Normalization.Std <= 0 {
			return Metadata{}, fmt.Errorf("CT normalization needs a positive std")
		}
	default:
		return Metadata{}, fmt.Errorf("unknown normalization scheme %q", meta.Normalization.Scheme)
	}
	return meta, nil
}
