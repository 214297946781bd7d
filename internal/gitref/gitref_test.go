package gitref

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/stretchr/testify/suite"
)

type GitRefSuite struct {
	suite.Suite
}

func TestGitRefSuite(t *testing.T) {
	suite.Run(t, new(GitRefSuite))
}

func (s *GitRefSuite) TestHeadFollowsBranch() {
	dir, first := s.initRepo()
	resolver := New(5 * time.Second)

	head, err := resolver.Head(context.Background(), dir, "main")
	s.Require().NoError(err)
	s.Equal(first, head)

	second := s.commit(dir, "v2")
	head, err = resolver.Head(context.Background(), dir, "main")
	s.Require().NoError(err)
	s.Equal(second, head)
}

func (s *GitRefSuite) TestPinnedCommitIgnoresBranchHead() {
	dir, first := s.initRepo()
	resolver := New(5 * time.Second)

	tasks := []*models.Task{
		gitTask("pinned", dir, "main", first),
		gitTask("floating", dir, "main", ""),
	}

	before := resolver.Revisions(context.Background(), tasks)
	s.Equal(first, before["pinned"])
	s.Equal(first, before["floating"])

	second := s.commit(dir, "v2")
	after := resolver.Revisions(context.Background(), tasks)
	s.Equal(first, after["pinned"])
	s.Equal(second, after["floating"])
}

func (s *GitRefSuite) TestPinnedCommitNeedsNoRemote() {
	sha := "0123456789abcdef0123456789abcdef01234567"
	tasks := []*models.Task{gitTask("pinned", "https://invalid.example/none.git", "main", sha)}

	revisions := New(time.Second).Revisions(context.Background(), tasks)
	s.Equal(map[string]string{"pinned": sha}, revisions)
}

func (s *GitRefSuite) TestUnreachableRemoteFallsBackToBranch() {
	missing := filepath.Join(s.T().TempDir(), "missing")
	tasks := []*models.Task{
		gitTask("floating", missing, "main", ""),
		inlineTask("inline"),
	}

	revisions := New(time.Second).Revisions(context.Background(), tasks)
	s.Empty(revisions)
}

func (s *GitRefSuite) TestUnknownBranch() {
	dir, _ := s.initRepo()

	_, err := New(time.Second).Head(context.Background(), dir, "release")
	s.Require().Error(err)
	s.Contains(err.Error(), "release")
}

func gitTask(name, repo, branch, sha string) *models.Task {
	t := &models.Task{
		Name:          name,
		ExecutionMode: models.ExecutionModeGit,
		GitRepository: &repo,
		ScriptPath:    strPtr("run.py"),
		FunctionName:  strPtr("main"),
	}
	if branch != "" {
		t.GitBranch = &branch
	}
	if sha != "" {
		t.GitCommitSHA = &sha
	}
	return t
}

func inlineTask(name string) *models.Task {
	return &models.Task{Name: name, ExecutionMode: models.ExecutionModeInline, PythonCallable: strPtr("pass")}
}

func strPtr(s string) *string { return &s }

func (s *GitRefSuite) initRepo() (string, string) {
	dir := s.T().TempDir()
	_, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	s.Require().NoError(err)

	return dir, s.commit(dir, "v1")
}

func (s *GitRefSuite) commit(dir, content string) string {
	repo, err := git.PlainOpen(dir)
	s.Require().NoError(err)

	wt, err := repo.Worktree()
	s.Require().NoError(err)

	s.Require().NoError(os.WriteFile(filepath.Join(dir, "run.py"), []byte("VERSION = \""+content+"\"\n"), 0o644))
	_, err = wt.Add("run.py")
	s.Require().NoError(err)

	hash, err := wt.Commit(content, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	s.Require().NoError(err)
	return hash.String()
}
