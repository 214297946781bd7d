// Package gitsync imports workflow definition documents from Git
// repositories. Workflows whose name already exists are left untouched;
// edits to stored workflows go through the API or an explicit import.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/pipewright/pipewright/internal/definition"
	"github.com/pipewright/pipewright/internal/definition/diff"
	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/pipewright/pipewright/internal/metrics"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/secret"
	schema "github.com/pipewright/pipewright/pkg/definition"
	"github.com/pipewright/pipewright/pkg/log"
)

// Sync results recorded per document.
const (
	ResultImported = "imported"
	ResultSkipped  = "skipped"
	ResultInvalid  = "invalid"
)

// Importer persists workflow definitions.
type Importer interface {
	GetWorkflowByName(ctx context.Context, name string) (*models.Workflow, error)
	ImportWorkflow(ctx context.Context, draft *definition.Draft) (*models.Workflow, error)
}

// Source describes a repository of workflow definition documents.
type Source struct {
	URL      string
	Ref      string
	Path     string
	Globs    []string
	SourceID string
	LocalDir string
	Auth     *BasicAuth
	SSH      *SSHAuth
	Resolver secret.Resolver
}

// Result counts the documents seen by one sync.
type Result struct {
	Commit   string
	Imported int
	Skipped  int
	Invalid  int
}

func (s *Source) label() string {
	if id := strings.TrimSpace(s.SourceID); id != "" {
		return id
	}
	return s.URL
}

// Sync clones the repository into a temporary directory and imports its
// documents.
func (s *Source) Sync(ctx context.Context, importer Importer) (Result, error) {
	dir, err := os.MkdirTemp("", "pipewright-definitions-")
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Error("cleanup clone dir", "dir", dir, "error", err)
		}
	}()

	repo, err := s.checkout(ctx, dir, nil)
	if err != nil {
		return Result{}, err
	}
	commit, err := headHash(repo)
	if err != nil {
		return Result{}, err
	}
	return s.apply(ctx, importer, dir, commit)
}

// WatchOptions configure a recurring sync.
type WatchOptions struct {
	Source   Source
	Interval time.Duration
	Once     bool
}

// Watch syncs once, then again every interval whenever the head commit
// moves, until ctx is cancelled. Failed rounds are logged and retried on
// the next tick; only a failure of the first round is returned.
func Watch(ctx context.Context, importer Importer, opts WatchOptions) error {
	if importer == nil {
		return errors.New("importer is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}

	dir := strings.TrimSpace(opts.Source.LocalDir)
	if dir == "" {
		tmp, err := os.MkdirTemp("", "pipewright-definitions-watch-")
		if err != nil {
			return err
		}
		dir = tmp
		defer func() {
			if err := os.RemoveAll(tmp); err != nil {
				log.Error("cleanup watch clone", "dir", tmp, "error", err)
			}
		}()
	}

	var (
		repo *git.Repository
		last string
	)
	round := func() error {
		var err error
		if repo, err = opts.Source.checkout(ctx, dir, repo); err != nil {
			return err
		}
		commit, err := headHash(repo)
		if err != nil || commit == last {
			return err
		}
		res, err := opts.Source.apply(ctx, importer, dir, commit)
		if err != nil {
			return err
		}
		log.Info("definition sync", "source", opts.Source.label(), "commit", commit,
			"imported", res.Imported, "skipped", res.Skipped, "invalid", res.Invalid)
		last = commit
		return nil
	}

	if err := round(); err != nil {
		return err
	}
	if opts.Once {
		return nil
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
			if err := round(); err != nil {
				log.Warn("definition sync", "source", opts.Source.label(), "error", err)
			}
		}
	}
}

func (s *Source) apply(ctx context.Context, importer Importer, dir, commit string) (Result, error) {
	root := dir
	if p := strings.Trim(strings.TrimSpace(s.Path), "/"); p != "" {
		root = filepath.Join(dir, p)
	}
	if _, err := os.Stat(root); err != nil {
		return Result{}, err
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if s.include(rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	sort.Strings(files)

	res := Result{Commit: commit}
	for _, path := range files {
		rel, _ := filepath.Rel(dir, path)
		if err := s.applyFile(ctx, importer, path, filepath.ToSlash(rel), &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Source) applyFile(ctx context.Context, importer Importer, path, rel string, res *Result) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	record := func(result string, args ...any) {
		metrics.DefinitionSyncTotal.WithLabelValues(s.label(), result).Inc()
		log.Info("definition "+result, append([]any{"source", s.label(), "path", rel}, args...)...)
	}

	docs, err := schema.ParseAll(data)
	if err != nil {
		res.Invalid++
		record(ResultInvalid, "error", err)
		return nil
	}

	for _, doc := range docs {
		draft, err := definition.FromDocument(doc)
		if err != nil {
			res.Invalid++
			record(ResultInvalid, "error", err)
			continue
		}

		if _, err := importer.GetWorkflowByName(ctx, draft.Name); err == nil {
			res.Skipped++
			record(ResultSkipped, "workflow", draft.Name)
			continue
		} else if !errors.Is(err, errdefs.ErrNotFound) {
			return err
		}

		wf, err := importer.ImportWorkflow(ctx, draft)
		switch {
		case errors.Is(err, errdefs.ErrConflict):
			res.Skipped++
			record(ResultSkipped, "workflow", draft.Name)
		case errors.Is(err, errdefs.ErrValidation), errors.Is(err, errdefs.ErrGraph):
			res.Invalid++
			record(ResultInvalid, "workflow", draft.Name, "error", err)
		case err != nil:
			return fmt.Errorf("%s: %w", rel, err)
		default:
			res.Imported++
			record(ResultImported, "workflow", wf.Name, "workflow_id", wf.ID)
		}
	}
	return nil
}

func (s *Source) include(rel string) bool {
	if len(s.Globs) == 0 {
		return diff.IsYAML(rel)
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range s.Globs {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, err := doublestar.PathMatch(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// checkout clones into dir, or pulls when repo is an earlier clone of it.
func (s *Source) checkout(ctx context.Context, dir string, repo *git.Repository) (*git.Repository, error) {
	auth, cleanup, err := s.authMethod(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	branch := referenceName(s.Ref)
	clone := func() (*git.Repository, error) {
		_ = os.RemoveAll(dir)
		return git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           s.URL,
			Depth:         1,
			SingleBranch:  true,
			ReferenceName: branch,
			Auth:          auth,
		})
	}
	if repo == nil {
		return clone()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		ReferenceName: branch,
		Auth:          auth,
		SingleBranch:  true,
		Force:         true,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate), errors.Is(err, transport.ErrEmptyRemoteRepository):
		return repo, nil
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		ref, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch.Short()), true)
		if err != nil {
			return nil, err
		}
		if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: ref.Hash()}); err != nil {
			return nil, err
		}
		return repo, nil
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return clone()
	default:
		return nil, err
	}
}

func headHash(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func referenceName(ref string) plumbing.ReferenceName {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return plumbing.NewBranchReferenceName(models.DefaultGitBranch)
	case strings.HasPrefix(ref, "refs/"):
		return plumbing.ReferenceName(ref)
	default:
		return plumbing.NewBranchReferenceName(ref)
	}
}
