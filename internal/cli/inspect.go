package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/segmentator/internal/task"
	"github.com/Brownie44l1/segmentator/internal/volume"
)

type CheckEmptyCmd struct{}

func NewCheckEmptyCmd() *CheckEmptyCmd {
	return &CheckEmptyCmd{}
}

func (c *CheckEmptyCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "check-empty <image>...",
		Short: "Print true if every image holds a single value",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			empty, err := volume.ContainsEmptyImage(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), empty)
			return nil
		}),
	}
}

type ResolveTaskCmd struct {
	source string
}

func NewResolveTaskCmd() *ResolveTaskCmd {
	return &ResolveTaskCmd{}
}

func (c *ResolveTaskCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve-task <id>",
		Short: "Print the directory name of a task",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			src, err := task.ParseSource(c.source)
			if err != nil {
				return err
			}
			name, err := task.NewResolver(&e.cfg, e.log).Resolve(id, src)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&c.source, "source", "s", "results", "where to look: raw, preprocessed or results")
	return cmd
}
