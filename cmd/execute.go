package cmd

import (
	"github.com/pipewright/pipewright/cmd/start"
	"github.com/pipewright/pipewright/cmd/workflow"
	"github.com/spf13/cobra"
)

var cmds = []*cobra.Command{
	start.Cmd,
	workflow.Cmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use:           "pipewright",
		Short:         "Manage workflow DAGs and deploy them to Airflow",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
