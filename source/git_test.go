package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// initFixtureRepo creates a repository with a single commit and returns its
// path and the commit hash.
func initFixtureRepo(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err = wt.Add(rel)
		require.NoError(t, err)
	}

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, hash.String()
}

func TestResolveBranch(t *testing.T) {
	repoDir, commit := initFixtureRepo(t, map[string]string{"README.md": "hi"})

	resolver := NewGitResolver()
	got, err := resolver.Resolve(context.Background(), repoDir, Reference{Branch: "master"})
	require.NoError(t, err)
	require.Equal(t, commit, got)
}

func TestResolveDefaultBranch(t *testing.T) {
	repoDir, commit := initFixtureRepo(t, map[string]string{"README.md": "hi"})

	resolver := NewGitResolver()
	got, err := resolver.Resolve(context.Background(), repoDir, Reference{})
	require.NoError(t, err)
	require.Equal(t, commit, got)
}

func TestResolvePinnedRevSkipsNetwork(t *testing.T) {
	const sha = "0123456789abcdef0123456789abcdef01234567"
	resolver := NewGitResolver()
	got, err := resolver.Resolve(context.Background(), "https://invalid.invalid/repo", Reference{Rev: sha})
	require.NoError(t, err)
	require.Equal(t, sha, got)
}

func TestCheckoutIdempotent(t *testing.T) {
	repoDir, commit := initFixtureRepo(t, map[string]string{"pkg/file.txt": "content"})

	svc := NewGitCheckoutService(t.TempDir(), nil)
	pinned := &PinnedGitSpec{URL: repoDir, Commit: commit}

	first, err := svc.Checkout(context.Background(), pinned)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(first.Path, "pkg", "file.txt"))

	second, err := svc.Checkout(context.Background(), pinned)
	require.NoError(t, err)
	require.Equal(t, first.Path, second.Path)
}

func TestPinAndCheckout(t *testing.T) {
	repoDir, commit := initFixtureRepo(t, map[string]string{"file.txt": "x"})

	svc := NewGitCheckoutService(t.TempDir(), nil)
	checkout, err := svc.PinAndCheckout(context.Background(), &GitSpec{URL: repoDir, Branch: "master"})
	require.NoError(t, err)
	require.NotNil(t, checkout.Pinned.Git)
	require.Equal(t, commit, checkout.Pinned.Git.Commit)
	require.Equal(t, "master", checkout.Pinned.Git.Reference.Branch)
	require.FileExists(t, filepath.Join(checkout.Path, "file.txt"))
}

func TestCheckoutSubdirectory(t *testing.T) {
	repoDir, commit := initFixtureRepo(t, map[string]string{"sub/file.txt": "x"})

	svc := NewGitCheckoutService(t.TempDir(), nil)
	checkout, err := svc.Checkout(context.Background(), &PinnedGitSpec{
		URL: repoDir, Commit: commit, Subdirectory: "sub",
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(checkout.Path, "file.txt"))

	_, err = svc.Checkout(context.Background(), &PinnedGitSpec{
		URL: repoDir, Commit: commit, Subdirectory: "../outside",
	})
	require.Error(t, err)
}

func TestAnchorResolve(t *testing.T) {
	parent := Pinned{Path: &PinnedPathSpec{Path: "pkgs/a"}}
	got := Anchor{Parent: parent}.Resolve(Spec{Path: &PathSpec{Path: "../b"}})
	require.NotNil(t, got.Path)
	require.Equal(t, "pkgs/b", got.Path.Path)

	gitParent := Pinned{Git: &PinnedGitSpec{URL: "https://example.com/r", Commit: "abc", Subdirectory: "a"}}
	got = Anchor{Parent: gitParent}.Resolve(Spec{Path: &PathSpec{Path: "../b"}})
	require.NotNil(t, got.Git)
	require.Equal(t, "b", got.Git.Subdirectory)
	require.Equal(t, "abc", got.Git.Rev)
}
