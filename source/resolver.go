package source

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Reference names a requested git ref. At most one field is set; the zero
// value means the remote's default branch.
type Reference struct {
	Branch string `json:"branch,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Rev    string `json:"rev,omitempty"`
}

// IsDefault reports whether the reference targets the remote default branch.
func (r Reference) IsDefault() bool {
	return r == Reference{}
}

func (r Reference) String() string {
	switch {
	case r.Branch != "":
		return r.Branch
	case r.Tag != "":
		return r.Tag
	case r.Rev != "":
		return r.Rev
	default:
		return "HEAD"
	}
}

var commitSHARe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// IsCommitSHA reports whether s is a full-length lowercase commit hash.
func IsCommitSHA(s string) bool {
	return commitSHARe.MatchString(s)
}

// RepositoryReference identifies one (repository, requested ref) pair.
type RepositoryReference struct {
	URL       string
	Reference Reference
}

// GitResolver resolves a requested reference of a remote repository to an
// exact commit. Resolutions are memoized so the same reference is only
// queried once per process; a pinned rev bypasses the network entirely.
type GitResolver struct {
	mu       sync.Mutex
	resolved map[RepositoryReference]string
}

func NewGitResolver() *GitResolver {
	return &GitResolver{resolved: map[RepositoryReference]string{}}
}

// Resolve returns the commit the reference points at.
func (g *GitResolver) Resolve(ctx context.Context, url string, ref Reference) (string, error) {
	if IsCommitSHA(ref.Rev) {
		return ref.Rev, nil
	}

	key := RepositoryReference{URL: url, Reference: ref}
	g.mu.Lock()
	if commit, ok := g.resolved[key]; ok {
		g.mu.Unlock()
		return commit, nil
	}
	g.mu.Unlock()

	commit, err := lsRemote(ctx, url, ref)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.resolved[key] = commit
	g.mu.Unlock()
	return commit, nil
}

// Insert seeds a resolution, e.g. from a lock file.
func (g *GitResolver) Insert(url string, ref Reference, commit string) {
	g.mu.Lock()
	g.resolved[RepositoryReference{URL: url, Reference: ref}] = commit
	g.mu.Unlock()
}

func lsRemote(ctx context.Context, url string, ref Reference) (string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("listing refs of %s: %w", url, err)
	}

	want := func(r *plumbing.Reference) bool {
		name := r.Name()
		switch {
		case ref.Branch != "":
			return name == plumbing.NewBranchReferenceName(ref.Branch)
		case ref.Tag != "":
			return name == plumbing.NewTagReferenceName(ref.Tag)
		case ref.Rev != "":
			// A short rev or an arbitrary ref name.
			return name.Short() == ref.Rev || name.String() == ref.Rev
		default:
			return name == plumbing.HEAD
		}
	}

	var head *plumbing.Reference
	for _, r := range refs {
		if r.Name() == plumbing.HEAD {
			head = r
		}
		if want(r) {
			if r.Type() == plumbing.SymbolicReference {
				continue
			}
			return r.Hash().String(), nil
		}
	}

	// HEAD is usually symbolic; chase its target.
	if ref.IsDefault() && head != nil {
		if head.Type() == plumbing.SymbolicReference {
			for _, r := range refs {
				if r.Name() == head.Target() {
					return r.Hash().String(), nil
				}
			}
		} else {
			return head.Hash().String(), nil
		}
	}

	return "", fmt.Errorf("reference %q not found in %s", ref, url)
}
