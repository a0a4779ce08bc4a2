package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/prefix-dev/pixi-go/backend"
	"github.com/prefix-dev/pixi-go/cache"
	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
	"github.com/prefix-dev/pixi-go/source"
)

// SourceMetadataSpec asks for the package metadata of a pinned source on a
// host platform under a variant configuration.
type SourceMetadataSpec struct {
	Source       source.Pinned
	HostPlatform platform.Platform
	Channels     []string
	Variants     map[string][]string
}

// SourceMetadata is the shared, immutable result of a metadata query. It is
// handed to every coalesced waiter by pointer; receivers must not mutate it.
type SourceMetadata struct {
	Source  source.Pinned
	Records []record.SourceRecord
}

// sourceMetadata checks the source out, consults the metadata cache, and
// otherwise queries the build backend — instantiating its tool environment
// first when the manifest requests one. Build-time source dependencies are
// resolved through a nested environment solve, which is what lets the
// processor detect cyclic source dependencies through the context chain.
func (d *Dispatcher) sourceMetadata(ctx context.Context, s SourceMetadataSpec) (*SourceMetadata, error) {
	checkout, err := d.CheckoutPinnedSource(ctx, s.Source)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.SourceMetadataKey{
		SourceIdentity: s.Source.Identity(),
		HostPlatform:   s.HostPlatform,
		Variants:       s.Variants,
	}
	if entry, ok := d.state.metaCache.Get(ctx, cacheKey, checkout.Path); ok {
		d.state.log.TraceContext(ctx, "source metadata cache hit", "source", s.Source.String())
		return &SourceMetadata{Source: s.Source, Records: entry.Records}, nil
	}

	bk := d.state.backend
	prefix := ""
	discovered, err := backend.Discover(checkout.Path)
	if err != nil {
		return nil, err
	}
	if discovered != nil {
		if override, ok := d.state.backendOverrides[discovered.Requirement.Name]; ok {
			bk = override
		} else {
			env, err := d.InstantiateToolEnvironment(ctx, ToolEnvironmentSpec{
				Requirement: discovered.Requirement,
				Channels:    s.Channels,
				Platform:    d.state.toolPlatform,
			})
			if err != nil {
				return nil, fmt.Errorf("instantiating build backend %q: %w", discovered.Requirement.Name, err)
			}
			prefix = env.Prefix
		}
	}

	outputs, err := bk.Metadata(ctx, backend.MetadataRequest{
		SourceDir:    checkout.Path,
		Prefix:       prefix,
		HostPlatform: s.HostPlatform,
		Variants:     s.Variants,
		Channels:     s.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("querying metadata of %s: %w", s.Source, err)
	}

	if err := d.solveBuildEnvironments(ctx, s, checkout, outputs); err != nil {
		return nil, err
	}

	anchor := source.Anchor{Parent: checkout.Pinned}
	records := make([]record.SourceRecord, 0, len(outputs))
	var globs []string
	for _, out := range outputs {
		rec, err := convertOutput(out, checkout.Pinned, anchor)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		globs = append(globs, out.InputGlobs...)
	}

	entry := &cache.SourceMetadataEntry{Records: records}
	if !s.Source.Immutable() {
		globs = dedupeSorted(globs)
		h, err := d.state.globCache.Compute(ctx, checkout.Path, globs)
		if err != nil {
			return nil, err
		}
		entry.InputGlobs = globs
		entry.InputHash = h.Digest
	}
	if err := d.state.metaCache.Store(cacheKey, entry); err != nil {
		d.state.log.Warn("failed to persist source metadata",
			"source", s.Source.String(), "error", err)
	}

	return &SourceMetadata{Source: s.Source, Records: records}, nil
}

// solveBuildEnvironments resolves each output's build-time dependencies as a
// nested environment solve. The records are not part of the metadata; only
// success matters here, and the recursion keeps the call-tree edge that the
// cycle check walks.
func (d *Dispatcher) solveBuildEnvironments(ctx context.Context, s SourceMetadataSpec, checkout *source.Checkout, outputs []backend.PackageOutput) error {
	anchor := source.Anchor{Parent: checkout.Pinned}
	for _, out := range outputs {
		if len(out.BuildDepends) == 0 {
			continue
		}
		deps := make([]Dependency, 0, len(out.BuildDepends))
		for _, depStr := range out.BuildDepends {
			m, err := record.ParseMatchSpec(depStr)
			if err != nil {
				return fmt.Errorf("build dependency %q of %q: %w", depStr, out.Name, err)
			}
			dep := Dependency{Spec: m}
			if spec, ok := out.Sources[m.Name]; ok {
				anchored := anchor.Resolve(spec)
				dep.Source = &anchored
			}
			deps = append(deps, dep)
		}
		_, err := d.SolveEnvironment(ctx, EnvironmentSpec{
			Name:         out.Name + "/build",
			Dependencies: deps,
			Channels:     s.Channels,
			Platform:     s.HostPlatform,
			Variants:     s.Variants,
		})
		if err != nil {
			return fmt.Errorf("solving build environment of %q: %w", out.Name, err)
		}
	}
	return nil
}

// convertOutput turns a backend output into a source record, anchoring the
// source specs of its runtime dependencies to the declaring checkout.
func convertOutput(out backend.PackageOutput, pinned source.Pinned, anchor source.Anchor) (record.SourceRecord, error) {
	rec := record.SourceRecord{
		PackageRecord: record.PackageRecord{
			Name:    out.Name,
			Version: out.Version,
			Build:   out.Build,
			Subdir:  out.Subdir,
			Depends: out.Depends,
		},
		Source: pinned,
	}

	runtime := map[string]bool{}
	for _, depStr := range out.Depends {
		m, err := record.ParseMatchSpec(depStr)
		if err != nil {
			return record.SourceRecord{}, fmt.Errorf("dependency %q of %q: %w", depStr, out.Name, err)
		}
		runtime[m.Name] = true
	}
	for name, spec := range out.Sources {
		if !runtime[name] {
			// build-time source, handled by the build environment solve
			continue
		}
		if rec.Sources == nil {
			rec.Sources = map[string]source.Spec{}
		}
		rec.Sources[name] = anchor.Resolve(spec)
	}
	return rec, nil
}

func dedupeSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, s := range in {
		if i == 0 || in[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}
