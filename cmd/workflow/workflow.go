// Package workflow implements the workflow command group. Commands work
// directly against the configured database and scheduler.
package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/lifecycle"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/runtime"
	"github.com/pipewright/pipewright/internal/store"
	"github.com/pipewright/pipewright/pkg/db"
	"github.com/pipewright/pipewright/pkg/env"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Cmd is the workflow command group.
var Cmd = New()

// New builds the workflow command group.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Short:   "Manage workflow definitions and their deployment",
		Aliases: []string{"wf", "workflows"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	cmd.AddCommand(
		newImportCmd(),
		newExportCmd(),
		newLintCmd(),
		newDiffCmd(),
		newDeployCmd(),
		newPauseCmd(),
		newUnpauseCmd(),
		newTriggerCmd(),
	)

	return cmd
}

type backend struct {
	store     *store.Store
	lifecycle *lifecycle.Controller
}

// connect is replaced in tests.
var connect = func(ctx context.Context) (*backend, error) {
	if err := db.Migrate(); err != nil {
		return nil, err
	}

	svc, err := runtime.Build(ctx, env.Variables(), db.Connection())
	if err != nil {
		return nil, errors.Wrap(err, "configure services")
	}

	return &backend{store: svc.Store, lifecycle: svc.Lifecycle}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// lookup resolves a workflow by id, falling back to its name.
func (b *backend) lookup(ctx context.Context, ref string) (*models.Workflow, error) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return b.store.GetWorkflow(ctx, id)
	}
	return b.store.GetWorkflowByName(ctx, ref)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

func writeLine(cmd *cobra.Command, w io.Writer, format string, args ...any) {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		cmd.PrintErrf("write output: %v\n", err)
	}
}
