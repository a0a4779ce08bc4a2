// Package record defines the resolved-record types produced by environment
// solves. A record is either a binary package that already exists in a
// channel, or a source package that has been pinned to an exact checkout.
package record

import (
	"github.com/prefix-dev/pixi-go/source"
)

// PackageRecord carries the fields shared by binary and source records. The
// dispatch core only interprets name, version and dependency edges; everything
// else is passed through to collaborators.
type PackageRecord struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Build   string   `json:"build,omitempty"`
	Subdir  string   `json:"subdir,omitempty"`
	Depends []string `json:"depends,omitempty"`
}

// Record is implemented by both BinaryRecord and SourceRecord.
type Record interface {
	Package() *PackageRecord
}

// BinaryRecord describes an already-built package available from a channel.
type BinaryRecord struct {
	PackageRecord

	Channel string `json:"channel,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (r *BinaryRecord) Package() *PackageRecord { return &r.PackageRecord }

// SourceRecord describes a package that is built from a pinned source
// checkout. Sources maps dependency names declared by the package to the
// source specs that provide them; dependencies not present in the map are
// binary requirements.
type SourceRecord struct {
	PackageRecord

	Source  source.Pinned          `json:"source"`
	Sources map[string]source.Spec `json:"sources,omitempty"`
}

func (r *SourceRecord) Package() *PackageRecord { return &r.PackageRecord }
