package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pipewright/pipewright/internal/definition"
	"github.com/pipewright/pipewright/internal/definition/diff"
	"github.com/pipewright/pipewright/internal/errdefs"
	schema "github.com/pipewright/pipewright/pkg/definition"
	"github.com/spf13/cobra"
)

type document struct {
	path string
	doc  *schema.Document
}

// collectDocuments reads every YAML document under paths, defaulting to
// the current directory.
func collectDocuments(paths []string) ([]document, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			if diff.IsYAML(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)

	var docs []document
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		parsed, err := schema.ParseAll(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for _, doc := range parsed {
			docs = append(docs, document{path: file, doc: doc})
		}
	}
	return docs, nil
}

func newImportCmd() *cobra.Command {
	var (
		paths        []string
		skipExisting bool
	)

	cmd := &cobra.Command{
		Use:     "import",
		Short:   "Import workflow definition documents into the database",
		Example: "pipewright workflow import -p workflows/",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			out := cmd.OutOrStdout()

			docs, err := collectDocuments(paths)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				writeLine(cmd, out, "No workflow definitions found.\n")
				return nil
			}

			b, err := connect(ctx)
			if err != nil {
				return err
			}

			imported, skipped := 0, 0
			for _, d := range docs {
				draft, err := definition.FromDocument(d.doc)
				if err != nil {
					return fmt.Errorf("%s: %w", d.path, err)
				}
				wf, err := b.store.ImportWorkflow(ctx, draft)
				if err != nil {
					if skipExisting && errors.Is(err, errdefs.ErrConflict) {
						writeLine(cmd, out, "skipped %s (already exists)\n", draft.Name)
						skipped++
						continue
					}
					return fmt.Errorf("%s: %w", d.path, err)
				}
				writeLine(cmd, out, "imported %s (%s)\n", wf.Name, wf.ID)
				imported++
			}

			writeLine(cmd, out, "Imported %d workflow(s), skipped %d\n", imported, skipped)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "Paths to workflow definition files or directories (default: current directory)")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Skip documents whose workflow name already exists instead of failing")

	return cmd
}

func newExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "export <workflow>",
		Short:   "Export a workflow as a definition document",
		Example: "pipewright workflow export nightly_etl -o nightly_etl.yaml",
		Args:    cobra.ExactArgs(1),
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

			data, err := definition.Export(wf)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write the document to (default: stdout)")

	return cmd
}

func newLintCmd() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate workflow definition documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := diff.LoadDefinitions(paths)
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				writeLine(cmd, cmd.OutOrStdout(), "No workflow definitions found.\n")
				return nil
			}
			writeLine(cmd, cmd.OutOrStdout(), "Validated %d workflow definition(s)\n", len(specs))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "Paths to workflow definition files or directories (default: current directory)")

	return cmd
}

func newDiffCmd() *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Show changes between workflow definitions and the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)

			desired, err := diff.LoadDefinitions(paths)
			if err != nil {
				return err
			}

			b, err := connect(ctx)
			if err != nil {
				return err
			}

			actual, err := diff.LoadStoreSpecs(ctx, b.store)
			if err != nil {
				return err
			}

			printDiff(cmd, diff.Compare(desired, actual))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "Paths to workflow definition files or directories (default: current directory)")

	return cmd
}

func printDiff(cmd *cobra.Command, d diff.Diff) {
	out := cmd.OutOrStdout()

	if d.Empty() {
		writeLine(cmd, out, "No changes detected.\n")
		return
	}

	if len(d.Creates) > 0 {
		writeLine(cmd, out, "Creates:\n")
		sort.Slice(d.Creates, func(i, j int) bool { return d.Creates[i].Name < d.Creates[j].Name })
		for _, spec := range d.Creates {
			writeLine(cmd, out, "  - %s\n", spec.Name)
		}
		writeLine(cmd, out, "\n")
	}

	if len(d.Updates) > 0 {
		writeLine(cmd, out, "Updates:\n")
		sort.Slice(d.Updates, func(i, j int) bool { return d.Updates[i].Name < d.Updates[j].Name })
		for _, upd := range d.Updates {
			writeLine(cmd, out, "  - %s\n", upd.Name)
			writeLine(cmd, out, "%s\n", indent(upd.Diff, "    "))
		}
		writeLine(cmd, out, "\n")
	}

	if len(d.Deletes) > 0 {
		writeLine(cmd, out, "Deletes:\n")
		sort.Slice(d.Deletes, func(i, j int) bool { return d.Deletes[i].Name < d.Deletes[j].Name })
		for _, spec := range d.Deletes {
			writeLine(cmd, out, "  - %s\n", spec.Name)
		}
	}
}
