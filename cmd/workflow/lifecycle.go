package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/pipewright/pipewright/internal/lifecycle"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/spf13/cobra"
)

func newDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <workflow>",
		Short: "Compile a workflow and register it with the scheduler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			b, err := connect(ctx)
			if err != nil {
				return err
			}
			wf, err := b.lookup(ctx, args[0])
			if err != nil {
				return err
			}

			wf, err = b.lifecycle.Deploy(ctx, wf.ID)
			if err != nil {
				return err
			}
			writeLine(cmd, cmd.OutOrStdout(), "deployed %s as %s (%s)\n", wf.Name, wf.DagID(), wf.DeployState)
			return nil
		},
	}
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <workflow>",
		Short: "Pause a deployed workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			b, err := connect(ctx)
			if err != nil {
				return err
			}
			wf, err := b.lookup(ctx, args[0])
			if err != nil {
				return err
			}

			wf, err = b.lifecycle.Pause(ctx, wf.ID)
			if err != nil {
				return err
			}
			writeLine(cmd, cmd.OutOrStdout(), "paused %s\n", wf.Name)
			return nil
		},
	}
}

func newUnpauseCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "unpause [workflow]",
		Short:   "Unpause a deployed workflow, or every active one with --all",
		Example: "pipewright workflow unpause nightly_etl\npipewright workflow unpause --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			b, err := connect(ctx)
			if err != nil {
				return err
			}

			if all {
				res, err := b.lifecycle.UnpauseAllActive(ctx)
				if err != nil {
					return err
				}
				printBatch(cmd, res)
				if len(res.Failed) > 0 {
					return fmt.Errorf("%d workflow(s) failed to unpause", len(res.Failed))
				}
				return nil
			}

			wf, err := b.lookup(ctx, args[0])
			if err != nil {
				return err
			}
			wf, err = b.lifecycle.Unpause(ctx, wf.ID)
			if err != nil {
				return err
			}
			writeLine(cmd, out, "unpaused %s\n", wf.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Unpause every active workflow")

	return cmd
}

func printBatch(cmd *cobra.Command, res *lifecycle.BatchResult) {
	out := cmd.OutOrStdout()
	writeLine(cmd, out, "Unpaused %d workflow(s)\n", len(res.Succeeded))
	if len(res.Failed) == 0 {
		return
	}
	writeLine(cmd, out, "Failed:\n")
	for _, f := range res.Failed {
		writeLine(cmd, out, "  - %s: %s\n", f.Name, f.Error)
	}
}

func newTriggerCmd() *cobra.Command {
	var (
		triggeredBy string
		conf        string
	)

	cmd := &cobra.Command{
		Use:     "trigger <workflow>",
		Short:   "Start a run of a deployed workflow",
		Example: `pipewright workflow trigger nightly_etl --conf '{"date":"2024-01-01"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			opts := lifecycle.TriggerOptions{TriggeredBy: triggeredBy}
			if conf != "" {
				if err := json.Unmarshal([]byte(conf), &opts.Conf); err != nil {
					return fmt.Errorf("parse --conf: %w", err)
				}
			}

			b, err := connect(ctx)
			if err != nil {
				return err
			}
			wf, err := b.lookup(ctx, args[0])
			if err != nil {
				return err
			}

			run, err := b.lifecycle.Trigger(ctx, wf.ID, opts)
			if err != nil {
				return err
			}
			writeLine(cmd, cmd.OutOrStdout(), "triggered %s: job run %s (dag run %s, %s)\n", wf.Name, run.ID, run.DagRunID, run.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&triggeredBy, "triggered-by", models.DefaultTriggeredBy, "Who or what started the run")
	cmd.Flags().StringVar(&conf, "conf", "", "JSON object passed to the run")

	return cmd
}
