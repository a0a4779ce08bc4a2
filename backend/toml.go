package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml"

	"github.com/prefix-dev/pixi-go/record"
	"github.com/prefix-dev/pixi-go/source"
)

// ManifestName is the file probed for at the root of every source checkout.
const ManifestName = "pixi.toml"

// ErrNoManifest is returned when a checkout carries no package manifest.
var ErrNoManifest = errors.New("no package manifest found")

// manifest is the on-disk TOML schema.
//
//	[package]
//	name = "foo"
//	version = "1.0.0"
//
//	[dependencies]
//	python = ">=3.9"
//
//	[source-dependencies.bar]
//	path = "../bar"
//
//	[build-dependencies.tool]
//	git = "https://example.com/tool"
//	branch = "main"
//
//	[build]
//	backend = "pixi-build-rattler >=0.1"
//	input-globs = ["src/**", "pixi.toml"]
type manifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Build   string `toml:"build"`
		Subdir  string `toml:"subdir"`
	} `toml:"package"`

	Dependencies       map[string]string     `toml:"dependencies"`
	SourceDependencies map[string]sourceDecl `toml:"source-dependencies"`
	BuildDependencies  map[string]sourceDecl `toml:"build-dependencies"`

	Build struct {
		Backend    string   `toml:"backend"`
		InputGlobs []string `toml:"input-globs"`
	} `toml:"build"`
}

// sourceDecl is a source location in manifest form plus an optional version
// constraint on the package it provides.
type sourceDecl struct {
	Path         string `toml:"path"`
	Git          string `toml:"git"`
	Branch       string `toml:"branch"`
	Tag          string `toml:"tag"`
	Rev          string `toml:"rev"`
	Subdirectory string `toml:"subdirectory"`
	URL          string `toml:"url"`
	Sha256       string `toml:"sha256"`
	Version      string `toml:"version"`
}

func (d sourceDecl) spec() (source.Spec, error) {
	switch {
	case d.Path != "":
		return source.Spec{Path: &source.PathSpec{Path: d.Path}}, nil
	case d.Git != "":
		return source.Spec{Git: &source.GitSpec{
			URL:          d.Git,
			Branch:       d.Branch,
			Tag:          d.Tag,
			Rev:          d.Rev,
			Subdirectory: d.Subdirectory,
		}}, nil
	case d.URL != "":
		return source.Spec{URL: &source.URLSpec{URL: d.URL, Sha256: d.Sha256}}, nil
	default:
		return source.Spec{}, errors.New("source dependency needs one of path, git or url")
	}
}

func loadManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
	}
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Join(dir, ManifestName), err)
	}
	if m.Package.Name == "" {
		return nil, fmt.Errorf("%s: [package] name is required", filepath.Join(dir, ManifestName))
	}
	return &m, nil
}

// Discover probes a checkout for the build backend its manifest requests.
// A manifest without a [build] backend needs no external backend and yields
// nil; a checkout without a manifest is an error.
func Discover(checkoutPath string) (*Discovered, error) {
	m, err := loadManifest(checkoutPath)
	if err != nil {
		return nil, err
	}
	if m.Build.Backend == "" {
		return nil, nil
	}
	req, err := record.ParseMatchSpec(m.Build.Backend)
	if err != nil {
		return nil, fmt.Errorf("parsing [build] backend of %s: %w", checkoutPath, err)
	}
	return &Discovered{
		Requirement: req,
		InputGlobs:  []string{ManifestName},
	}, nil
}

// TOMLBackend derives package metadata directly from the checkout's manifest,
// without running any external tool. It is the default backend.
type TOMLBackend struct{}

var _ Backend = TOMLBackend{}

func (TOMLBackend) Metadata(_ context.Context, req MetadataRequest) ([]PackageOutput, error) {
	m, err := loadManifest(req.SourceDir)
	if err != nil {
		return nil, err
	}

	out := PackageOutput{
		Name:    m.Package.Name,
		Version: m.Package.Version,
		Build:   m.Package.Build,
		Subdir:  m.Package.Subdir,
	}
	if out.Version == "" {
		out.Version = "0.0.0"
	}
	if out.Build == "" {
		out.Build = "src_0"
	}
	if out.Subdir == "" {
		out.Subdir = string(req.HostPlatform)
	}

	for name, constraint := range m.Dependencies {
		out.Depends = append(out.Depends, record.MatchSpec{Name: name, Constraint: constraint}.String())
	}
	for name, decl := range m.SourceDependencies {
		spec, err := decl.spec()
		if err != nil {
			return nil, fmt.Errorf("source dependency %q of %s: %w", name, m.Package.Name, err)
		}
		if out.Sources == nil {
			out.Sources = map[string]source.Spec{}
		}
		out.Sources[name] = spec
		out.Depends = append(out.Depends, record.MatchSpec{Name: name, Constraint: decl.Version}.String())
	}
	for name, decl := range m.BuildDependencies {
		spec, err := decl.spec()
		if err != nil {
			return nil, fmt.Errorf("build dependency %q of %s: %w", name, m.Package.Name, err)
		}
		if out.Sources == nil {
			out.Sources = map[string]source.Spec{}
		}
		out.Sources[name] = spec
		out.BuildDepends = append(out.BuildDepends, record.MatchSpec{Name: name, Constraint: decl.Version}.String())
	}

	// Maps iterate in random order; keep the output deterministic so cached
	// metadata hashes are stable.
	sort.Strings(out.Depends)
	sort.Strings(out.BuildDepends)

	out.InputGlobs = m.Build.InputGlobs
	if len(out.InputGlobs) == 0 {
		out.InputGlobs = []string{ManifestName}
	}
	return []PackageOutput{out}, nil
}
