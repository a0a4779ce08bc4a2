// Package backend defines the build-backend collaborator: the component that
// inspects a source checkout and reports the packages it provides, together
// with their dependencies. The dispatch core talks to backends only through
// the interfaces here.
package backend

import (
	"context"

	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
	"github.com/prefix-dev/pixi-go/source"
)

// MetadataRequest describes one metadata query against a source checkout.
type MetadataRequest struct {
	// SourceDir is the absolute path of the checked-out source.
	SourceDir string

	// Prefix is the installed tool environment the backend runs in. Empty
	// when the backend needs no tools of its own.
	Prefix string

	// HostPlatform is the platform the package would be built for.
	HostPlatform platform.Platform

	// Variants constrains variant keys to the listed values.
	Variants map[string][]string

	// Channels are the channel URLs binary dependencies resolve against.
	Channels []string
}

// PackageOutput is one package a source checkout can produce.
type PackageOutput struct {
	Name    string
	Version string
	Build   string
	Subdir  string

	// Depends and BuildDepends are requirement strings in match-spec form.
	Depends      []string
	BuildDepends []string

	// Sources maps dependency names to the source specs providing them, as
	// declared by the package and not yet anchored to its own location.
	Sources map[string]source.Spec

	// InputGlobs name the files that influence this metadata; when they
	// change, cached metadata for mutable sources is invalid.
	InputGlobs []string
}

// Backend computes package metadata for source checkouts.
type Backend interface {
	Metadata(ctx context.Context, req MetadataRequest) ([]PackageOutput, error)
}

// Discovered is the result of probing a checkout for its build backend.
type Discovered struct {
	// Requirement selects the backend package to instantiate, e.g.
	// "pixi-build-rattler >=0.1". The name doubles as the tool cache key.
	Requirement record.MatchSpec

	// InputGlobs are the manifest files the discovery itself depended on.
	InputGlobs []string
}
