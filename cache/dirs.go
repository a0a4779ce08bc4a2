// Package cache holds the on-disk cache layout and the source-metadata cache.
package cache

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Versioned suffix of the source metadata layout; bump when the entry format
// changes so stale caches are ignored rather than misread.
const sourceMetadataVersion = "v1"

// Dirs describes where the various caches live. All directories derive from
// the root unless overridden; workspace-scoped caches move under the
// workspace directory when one is set.
type Dirs struct {
	root      string
	workspace string

	git            string
	packages       string
	buildBackends  string
	sourceMetadata string
	workDirs       string
}

// DefaultDirs places the cache root in the user cache directory.
func DefaultDirs() *Dirs {
	return NewDirs(filepath.Join(xdg.CacheHome, "pixi"))
}

// NewDirs creates a layout rooted at the given directory.
func NewDirs(root string) *Dirs {
	return &Dirs{root: root}
}

// WithWorkspace scopes build-related caches to a workspace directory,
// typically "<project>/.pixi".
func (d *Dirs) WithWorkspace(dir string) *Dirs {
	out := *d
	out.workspace = dir
	return &out
}

func (d *Dirs) Root() string { return d.root }

// build returns the root for workspace-scoped caches.
func (d *Dirs) build() string {
	if d.workspace != "" {
		return filepath.Join(d.workspace, "cache")
	}
	return d.root
}

func (d *Dirs) Git() string {
	return d.orElse(d.git, filepath.Join(d.root, "git"))
}

func (d *Dirs) Packages() string {
	return d.orElse(d.packages, filepath.Join(d.root, "pkgs"))
}

func (d *Dirs) BuildBackends() string {
	return d.orElse(d.buildBackends, filepath.Join(d.root, "build-backends"))
}

func (d *Dirs) SourceMetadata() string {
	return d.orElse(d.sourceMetadata, filepath.Join(d.build(), "source-metadata-"+sourceMetadataVersion))
}

func (d *Dirs) WorkDirs() string {
	return d.orElse(d.workDirs, filepath.Join(d.build(), "work-dirs"))
}

func (d *Dirs) orElse(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
