package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/segmentator/internal/classmap"
	"github.com/Brownie44l1/segmentator/internal/model"
	"github.com/Brownie44l1/segmentator/internal/pipeline"
)

// modelFlags select the trained model and how it is applied.
type modelFlags struct {
	task    int
	model   string
	folds   []int
	trainer string
	tta     bool
}

func (m *modelFlags) register(cmd *cobra.Command) {
	def := model.DefaultOptions()
	cmd.Flags().IntVarP(&m.task, "task", "t", 0, "nnU-Net task id, e.g. 251")
	cmd.Flags().StringVarP(&m.model, "model", "m", def.Model, "model configuration")
	cmd.Flags().IntSliceVarP(&m.folds, "fold", "f", def.Folds, "folds to ensemble (default: all)")
	cmd.Flags().StringVar(&m.trainer, "trainer", def.Trainer, "trainer class the model was trained with")
	cmd.Flags().BoolVar(&m.tta, "tta", def.TTA, "enable mirroring test time augmentation")
	_ = cmd.MarkFlagRequired("task")
}

func (m *modelFlags) options() model.Options {
	return model.Options{Model: m.model, Folds: m.folds, Trainer: m.trainer, TTA: m.tta}
}

// imageFlags are the per-image pipeline settings on top of modelFlags.
type imageFlags struct {
	modelFlags
	multilabel bool
	resample   float64
	classMap   string
	keepTmp    bool
}

func (f *imageFlags) register(cmd *cobra.Command) {
	f.modelFlags.register(cmd)
	cmd.Flags().BoolVar(&f.multilabel, "ml", false, "write one multilabel volume instead of a mask per class")
	cmd.Flags().Float64Var(&f.resample, "resample", 0, "isotropic spacing in mm to run the model at (0: native)")
	cmd.Flags().StringVar(&f.classMap, "class-map", "", "YAML file of label: name pairs naming the masks (default: total)")
	cmd.Flags().BoolVar(&f.keepTmp, "keep-tmp", false, "keep the temporary workspace for debugging")
}

func (f *imageFlags) options() (pipeline.Options, error) {
	opts := pipeline.Options{
		TaskID:        f.task,
		Model:         f.model,
		Folds:         f.folds,
		Trainer:       f.trainer,
		TTA:           f.tta,
		Multilabel:    f.multilabel,
		Resample:      f.resample,
		KeepWorkspace: f.keepTmp,
	}
	if f.classMap != "" {
		classes, err := classmap.Load(f.classMap)
		if err != nil {
			return opts, err
		}
		opts.Classes = classes
	}
	return opts, nil
}

type PredictCmd struct {
	flags imageFlags
}

func NewPredictCmd() *PredictCmd {
	return &PredictCmd{}
}

func (c *PredictCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <input.nii.gz> <output>",
		Short: "Segment a single image",
		Long: "Segment a single image. The output is a directory of binary masks, one per class,\n" +
			"or with --ml a single multilabel .nii.gz file.",
		Args: cobra.ExactArgs(2),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			opts, err := c.flags.options()
			if err != nil {
				return err
			}
			inv, err := e.invoker()
			if err != nil {
				return err
			}
			defer inv.Close()

			if err := pipeline.New(inv, e.log).PredictImage(ctx, args[0], args[1], opts); err != nil {
				return err
			}
			e.log.Info("Segmentation written", "output", args[1])
			return nil
		}),
	}
	c.flags.register(cmd)
	return cmd
}

type PredictDirCmd struct {
	flags modelFlags
}

func NewPredictDirCmd() *PredictDirCmd {
	return &PredictDirCmd{}
}

func (c *PredictDirCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict-dir <input_dir> <output_dir>",
		Short: "Run the engine over a folder of <case>_0000.nii.gz images",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(args[1], 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			inv, err := e.invoker()
			if err != nil {
				return err
			}
			defer inv.Close()
			return inv.Predict(ctx, args[0], args[1], c.flags.task, c.flags.options())
		}),
	}
	c.flags.register(cmd)
	return cmd
}

type PredictBatchCmd struct {
	flags       imageFlags
	concurrency int
}

func NewPredictBatchCmd() *PredictBatchCmd {
	return &PredictBatchCmd{}
}

func (c *PredictBatchCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict-batch <output_dir> <input.nii.gz>...",
		Short: "Segment several images, each in its own workspace",
		Args:  cobra.MinimumNArgs(2),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			opts, err := c.flags.options()
			if err != nil {
				return err
			}
			outDir := args[0]
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			jobs := make([]pipeline.Job, 0, len(args)-1)
			for _, in := range args[1:] {
				jobs = append(jobs, pipeline.Job{Input: in, Output: batchOutput(outDir, in, opts.Multilabel)})
			}

			inv, err := e.invoker()
			if err != nil {
				return err
			}
			defer inv.Close()

			results, err := pipeline.New(inv, e.log).PredictImages(ctx, jobs, c.concurrency, opts)
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			e.log.Info("Batch finished", "images", len(jobs), "failed", failed)
			return err
		}),
	}
	c.flags.register(cmd)
	cmd.Flags().IntVarP(&c.concurrency, "concurrency", "j", 1, "images processed at once")
	return cmd
}

// batchOutput names a batch result after its input: <dir>/<stem>.nii.gz for
// multilabel output, otherwise a <dir>/<stem> mask directory.
func batchOutput(dir, in string, multilabel bool) string {
	stem := filepath.Base(in)
	stem = strings.TrimSuffix(stem, ".gz")
	stem = strings.TrimSuffix(stem, ".nii")
	if multilabel {
		return filepath.Join(dir, stem+".nii.gz")
	}
	return filepath.Join(dir, stem)
}
