package source

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Pinned is the fully concrete form of a Spec: an exact path, an exact git
// commit, or an exact content checksum. Exactly one field is set.
type Pinned struct {
	Path *PinnedPathSpec `json:"path,omitempty"`
	Git  *PinnedGitSpec  `json:"git,omitempty"`
	URL  *PinnedURLSpec  `json:"url,omitempty"`
}

// PinnedPathSpec retains the declared path verbatim; a path source is always
// already exact, its contents are just not immutable.
type PinnedPathSpec struct {
	Path string `json:"path"`
}

// PinnedGitSpec is an exact commit, together with the originally requested
// reference for display purposes.
type PinnedGitSpec struct {
	URL          string    `json:"url"`
	Commit       string    `json:"commit"`
	Reference    Reference `json:"reference,omitempty"`
	Subdirectory string    `json:"subdirectory,omitempty"`
}

// PinnedURLSpec is an archive pinned to a content checksum. Unused until URL
// sources are implemented.
type PinnedURLSpec struct {
	URL    string `json:"url"`
	Sha256 string `json:"sha256"`
}

// Immutable reports whether the pinned contents can never change. Path
// sources are mutable: the pin is exact but the directory it names is not.
func (p Pinned) Immutable() bool {
	return p.Path == nil
}

// Identity returns a stable digest uniquely identifying the pinned source.
// Two checkouts with equal identities must materialize at the same path.
func (p Pinned) Identity() digest.Digest {
	switch {
	case p.Path != nil:
		return digest.FromString("path\x00" + p.Path.Path)
	case p.Git != nil:
		return digest.FromString("git\x00" + p.Git.URL + "\x00" + p.Git.Commit + "\x00" + p.Git.Subdirectory)
	case p.URL != nil:
		return digest.FromString("url\x00" + p.URL.URL + "\x00" + p.URL.Sha256)
	default:
		return digest.FromString("empty")
	}
}

// Unpin converts the pin back into a spec that would resolve to it.
func (p Pinned) Unpin() Spec {
	switch {
	case p.Path != nil:
		return Spec{Path: &PathSpec{Path: p.Path.Path}}
	case p.Git != nil:
		return Spec{Git: &GitSpec{URL: p.Git.URL, Rev: p.Git.Commit, Subdirectory: p.Git.Subdirectory}}
	case p.URL != nil:
		return Spec{URL: &URLSpec{URL: p.URL.URL, Sha256: p.URL.Sha256}}
	default:
		return Spec{}
	}
}

func (p Pinned) String() string {
	switch {
	case p.Path != nil:
		return p.Path.Path
	case p.Git != nil:
		short := p.Git.Commit
		if len(short) > 9 {
			short = short[:9]
		}
		if p.Git.Reference.IsDefault() {
			return fmt.Sprintf("%s@%s", p.Git.URL, short)
		}
		return fmt.Sprintf("%s@%s (%s)", p.Git.URL, short, p.Git.Reference)
	case p.URL != nil:
		return p.URL.URL
	default:
		return "<empty pinned source>"
	}
}

// Checkout is a pinned source materialized on disk.
type Checkout struct {
	// Path is the absolute directory containing the source.
	Path string

	// Pinned identifies exactly what was checked out.
	Pinned Pinned
}
