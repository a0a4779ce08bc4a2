// Package source models the lifecycle of a source dependency: a user-declared
// spec, the exact pin it resolves to, and the checkout on disk that
// materializes the pin.
package source

import (
	"fmt"
	"path"
	"strings"
)

// Spec is a user-declared source location. It may be underspecified: a git
// spec without a rev resolves to whatever the requested ref points at when it
// is pinned. Exactly one of the location fields is set.
type Spec struct {
	Path *PathSpec `json:"path,omitempty"`
	Git  *GitSpec  `json:"git,omitempty"`
	URL  *URLSpec  `json:"url,omitempty"`
}

// PathSpec points at a directory, relative to the workspace root unless
// absolute or home-relative.
type PathSpec struct {
	Path string `json:"path"`
}

// GitSpec points at a repository with at most one of branch, tag or rev.
// Without any, the remote default branch is used.
type GitSpec struct {
	URL          string `json:"url"`
	Branch       string `json:"branch,omitempty"`
	Tag          string `json:"tag,omitempty"`
	Rev          string `json:"rev,omitempty"`
	Subdirectory string `json:"subdirectory,omitempty"`
}

// Reference returns the requested ref of the spec.
func (g *GitSpec) Reference() Reference {
	switch {
	case g.Rev != "":
		return Reference{Rev: g.Rev}
	case g.Tag != "":
		return Reference{Tag: g.Tag}
	case g.Branch != "":
		return Reference{Branch: g.Branch}
	default:
		return Reference{}
	}
}

// URLSpec points at a remote archive. Fetching these is not implemented; see
// ErrURLNotSupported.
type URLSpec struct {
	URL    string `json:"url"`
	Sha256 string `json:"sha256,omitempty"`
}

func (s Spec) String() string {
	switch {
	case s.Path != nil:
		return s.Path.Path
	case s.Git != nil:
		ref := s.Git.Reference()
		if ref.IsDefault() {
			return s.Git.URL
		}
		return fmt.Sprintf("%s@%s", s.Git.URL, ref)
	case s.URL != nil:
		return s.URL.URL
	default:
		return "<empty source spec>"
	}
}

// Anchor resolves source specs that were declared inside another source
// package relative to that package's own location.
type Anchor struct {
	Parent Pinned
}

// Resolve rewrites a relative path spec against the anchor. Inside a path
// parent the child path is joined onto the parent's directory; inside a git
// parent it becomes a subdirectory of the same pinned repository. Absolute
// paths and non-path specs pass through unchanged.
func (a Anchor) Resolve(s Spec) Spec {
	if s.Path == nil || path.IsAbs(s.Path.Path) || strings.HasPrefix(s.Path.Path, "~/") {
		return s
	}
	switch {
	case a.Parent.Path != nil:
		return Spec{Path: &PathSpec{Path: path.Join(a.Parent.Path.Path, s.Path.Path)}}
	case a.Parent.Git != nil:
		g := *a.Parent.Git
		return Spec{Git: &GitSpec{
			URL:          g.URL,
			Rev:          g.Commit,
			Subdirectory: path.Join(g.Subdirectory, s.Path.Path),
		}}
	default:
		return s
	}
}
