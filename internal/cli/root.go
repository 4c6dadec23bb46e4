// Package cli implements the segmentator command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/segmentator/internal/config"
	"github.com/Brownie44l1/segmentator/internal/logging"
	"github.com/Brownie44l1/segmentator/internal/model"
)

type ExitCode int

const (
	exitCodeSuccess ExitCode = 0
	exitCodeError   ExitCode = 1
)

func Run() ExitCode {
	if err := NewRootCmd().Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "segmentator",
		Short:        "Segment 3D CT/MR volumes with trained nnU-Net models.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level and show engine output")
	rootCmd.PersistentFlags().String("engine", "", "inference engine: nnunet or onnx (env: "+config.EnvEngine+", default: nnunet)")

	rootCmd.AddCommand(
		NewPredictCmd().Command(),
		NewPredictDirCmd().Command(),
		NewPredictBatchCmd().Command(),
		NewCheckEmptyCmd().Command(),
		NewResolveTaskCmd().Command(),
	)
	return rootCmd
}

// env is what every command runs with: the configuration built from the
// environment and the root flags, and a logger.
type env struct {
	cfg config.Config
	log *slog.Logger
}

// invoker builds the configured engine. The caller closes it.
func (e *env) invoker() (*model.Invoker, error) {
	engine, err := model.NewEngine(&e.cfg, e.log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inference engine: %w", err)
	}
	return model.NewInvoker(&e.cfg, engine, e.log), nil
}

func withEnv(f func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return fmt.Errorf("failed to get verbose flag: %w", err)
		}
		engine, err := cmd.Root().PersistentFlags().GetString("engine")
		if err != nil {
			return fmt.Errorf("failed to get engine flag: %w", err)
		}

		cfg := config.FromEnv()
		cfg.Verbose = verbose
		if engine != "" {
			cfg.Engine = config.EngineKind(engine)
		}
		log := logging.New(os.Stderr, verbose)
		if err := cfg.Validate(); err != nil {
			log.Error("invalid configuration", "error", err)
			return err
		}

		err = f(ctx, &env{cfg: cfg, log: log}, cmd, args)
		if err != nil {
			log.Error("failed to run command", "error", err)
			return err
		}
		return nil
	}
}
