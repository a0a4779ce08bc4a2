package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/moby/locker"
	"github.com/opencontainers/go-digest"

	"github.com/prefix-dev/pixi-go/util/cachemap"
	"github.com/prefix-dev/pixi-go/util/slog"
)

// ErrURLNotSupported is returned for URL/archive sources, which are not
// implemented. The failure is immediate and explicit rather than a hang or a
// silent no-op.
var ErrURLNotSupported = errors.New("fetching URL sources is not supported")

// GitCheckoutService materializes git sources on disk. Each repository gets a
// bare mirror under <root>/db keyed by repository identity, and every pinned
// commit gets its own working copy under <root>/checkouts. Checkouts of the
// same pin are idempotent and deduplicated; mirror access is serialized per
// repository so concurrent checkouts of different refs never race, while
// different repositories proceed fully in parallel.
type GitCheckoutService struct {
	root      string
	resolver  *GitResolver
	locks     *locker.Locker
	checkouts *cachemap.CacheMap[digest.Digest, *Checkout]
}

func NewGitCheckoutService(root string, resolver *GitResolver) *GitCheckoutService {
	if resolver == nil {
		resolver = NewGitResolver()
	}
	return &GitCheckoutService{
		root:      root,
		resolver:  resolver,
		locks:     locker.New(),
		checkouts: cachemap.New[digest.Digest, *Checkout](),
	}
}

// Resolver returns the ref resolver the service pins with.
func (s *GitCheckoutService) Resolver() *GitResolver { return s.resolver }

// PinAndCheckout resolves the spec's reference to an exact commit and checks
// it out.
func (s *GitCheckoutService) PinAndCheckout(ctx context.Context, spec *GitSpec) (*Checkout, error) {
	commit, err := s.resolver.Resolve(ctx, spec.URL, spec.Reference())
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", spec.URL, err)
	}
	return s.Checkout(ctx, &PinnedGitSpec{
		URL:          spec.URL,
		Commit:       commit,
		Reference:    spec.Reference(),
		Subdirectory: spec.Subdirectory,
	})
}

// Checkout materializes an exact commit. Repeated calls with the same pin
// return the same path and perform network or disk work at most once.
func (s *GitCheckoutService) Checkout(ctx context.Context, pinned *PinnedGitSpec) (*Checkout, error) {
	key := Pinned{Git: pinned}.Identity()
	checkout, _, err := s.checkouts.GetOrInit(ctx, key, func(ctx context.Context) (*Checkout, error) {
		return s.materialize(ctx, pinned)
	})
	return checkout, err
}

func (s *GitCheckoutService) materialize(ctx context.Context, pinned *PinnedGitSpec) (*Checkout, error) {
	repoKey := repositoryDigest(pinned.URL)
	mirror := filepath.Join(s.root, "db", repoKey)
	workDir := filepath.Join(s.root, "checkouts", repoKey, pinned.Commit)

	if _, err := os.Stat(workDir); err == nil {
		return s.finish(workDir, pinned)
	}

	// One mirror per repository; fetch and clone under a per-repository lock
	// so concurrent checkouts of different commits do not corrupt it.
	s.locks.Lock(repoKey)
	defer s.locks.Unlock(repoKey)

	if err := s.ensureCommit(ctx, mirror, pinned); err != nil {
		return nil, err
	}

	if _, err := os.Stat(workDir); err == nil {
		return s.finish(workDir, pinned)
	}

	if err := os.MkdirAll(filepath.Dir(workDir), 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(workDir), ".tmp-"+pinned.Commit)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	wc, err := git.PlainCloneContext(ctx, tmp, false, &git.CloneOptions{
		URL:        mirror,
		NoCheckout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning %s from mirror: %w", pinned.URL, err)
	}
	wt, err := wc.Worktree()
	if err != nil {
		return nil, err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(pinned.Commit), Force: true}); err != nil {
		return nil, fmt.Errorf("checking out %s of %s: %w", pinned.Commit, pinned.URL, err)
	}

	if err := os.Rename(tmp, workDir); err != nil {
		// Another process may have completed the same checkout first.
		if _, statErr := os.Stat(workDir); statErr != nil {
			return nil, err
		}
	}
	slog.Default().DebugContext(ctx, "checked out git source",
		"url", pinned.URL, "commit", pinned.Commit, "path", workDir)
	return s.finish(workDir, pinned)
}

// ensureCommit clones or updates the mirror until it contains the commit.
func (s *GitCheckoutService) ensureCommit(ctx context.Context, mirror string, pinned *PinnedGitSpec) error {
	repo, err := git.PlainOpen(mirror)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainCloneContext(ctx, mirror, true, &git.CloneOptions{
			URL:    pinned.URL,
			Mirror: true,
		})
		if err != nil {
			os.RemoveAll(mirror)
			return fmt.Errorf("cloning %s: %w", pinned.URL, err)
		}
	} else if err != nil {
		return fmt.Errorf("opening mirror of %s: %w", pinned.URL, err)
	}

	if _, err := repo.CommitObject(plumbing.NewHash(pinned.Commit)); err == nil {
		return nil
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{"+refs/*:refs/*"},
		Force:      true,
		Tags:       git.AllTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching %s: %w", pinned.URL, err)
	}

	if _, err := repo.CommitObject(plumbing.NewHash(pinned.Commit)); err != nil {
		return fmt.Errorf("commit %s not found in %s: %w", pinned.Commit, pinned.URL, err)
	}
	return nil
}

func (s *GitCheckoutService) finish(workDir string, pinned *PinnedGitSpec) (*Checkout, error) {
	path := workDir
	if pinned.Subdirectory != "" {
		sub := filepath.Join(workDir, filepath.FromSlash(pinned.Subdirectory))
		if rel, err := filepath.Rel(workDir, sub); err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("subdirectory %q escapes the repository checkout", pinned.Subdirectory)
		}
		path = sub
	}
	return &Checkout{Path: path, Pinned: Pinned{Git: pinned}}, nil
}

// repositoryDigest derives the on-disk cache key of a repository from its
// canonicalized URL, so "https://x/y.git" and "https://x/y" share a mirror.
func repositoryDigest(url string) string {
	canon := strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(url), "/"), ".git")
	return digest.FromString(canon).Encoded()[:16]
}
