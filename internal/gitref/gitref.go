// Package gitref resolves the commit each git task of a run executes.
package gitref

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/task"
	"github.com/pipewright/pipewright/pkg/log"
)

// Resolver looks up branch heads on remote repositories.
type Resolver struct {
	timeout time.Duration
}

// New returns a resolver whose remote lookups are bounded by timeout. A
// zero timeout leaves lookups bounded only by the caller's context.
func New(timeout time.Duration) *Resolver {
	return &Resolver{timeout: timeout}
}

// Revisions maps every git task to the commit a run should execute. Pinned
// tasks use their commit without contacting the remote. Unpinned tasks use
// the current head of their branch; when the remote cannot be reached the
// task is left out and the run falls back to the branch itself.
func (r *Resolver) Revisions(ctx context.Context, tasks []*models.Task) map[string]string {
	revisions := make(map[string]string)
	heads := make(map[string]string)

	for _, t := range tasks {
		p, ok := task.PayloadOf(t).(task.Git)
		if !ok {
			continue
		}
		if p.Pinned() {
			revisions[t.Name] = p.CommitSHA
			continue
		}

		key := p.Repository + "#" + p.Branch
		head, seen := heads[key]
		if !seen {
			var err error
			head, err = r.Head(ctx, p.Repository, p.Branch)
			if err != nil {
				log.Warn("resolve branch head", "task", t.Name, "repository", p.Repository, "branch", p.Branch, "error", err)
			}
			heads[key] = head
		}
		if head != "" {
			revisions[t.Name] = head
		}
	}

	return revisions
}

// Head returns the commit a branch of repository currently points at.
func (r *Resolver) Head(ctx context.Context, repository, branch string) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repository},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", err
	}

	want := referenceName(branch)
	for _, ref := range refs {
		if ref.Name() == want {
			return ref.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("branch %q not found", branch)
}

func referenceName(branch string) plumbing.ReferenceName {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		branch = models.DefaultGitBranch
	}
	if strings.HasPrefix(branch, "refs/") {
		return plumbing.ReferenceName(branch)
	}
	return plumbing.NewBranchReferenceName(branch)
}
