package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/prefix-dev/pixi-go/source"
	"github.com/prefix-dev/pixi-go/util/pathutil"
)

// gitCheckoutSpec is the internal task spec for materializing a pinned git
// source. Keying the task on the pinned spec's content makes concurrent
// checkouts of the same commit coalesce in the processor.
type gitCheckoutSpec struct {
	Pinned source.PinnedGitSpec
}

// PinAndCheckout resolves a source spec to an exact pin and materializes it
// on disk.
func (d *Dispatcher) PinAndCheckout(ctx context.Context, spec source.Spec) (*source.Checkout, error) {
	pinned, err := d.pinSource(ctx, spec)
	if err != nil {
		return nil, err
	}
	return d.CheckoutPinnedSource(ctx, pinned)
}

// CheckoutPinnedSource materializes an already-pinned source. Path sources
// resolve inline against the workspace root; git sources go through the
// processor so identical checkouts are deduplicated and retained.
func (d *Dispatcher) CheckoutPinnedSource(ctx context.Context, pinned source.Pinned) (*source.Checkout, error) {
	switch {
	case pinned.Path != nil:
		abs, err := pathutil.Resolve(pinned.Path.Path, d.state.root)
		if err != nil {
			return nil, err
		}
		return &source.Checkout{
			Path:   abs,
			Pinned: source.Pinned{Path: &source.PinnedPathSpec{Path: abs}},
		}, nil
	case pinned.Git != nil:
		v, err := d.executeTask(ctx, KindGitCheckout, gitCheckoutSpec{Pinned: *pinned.Git}, pinned.String())
		if err != nil {
			return nil, err
		}
		return v.(*source.Checkout), nil
	case pinned.URL != nil:
		return nil, fmt.Errorf("checking out %s: %w", pinned, source.ErrURLNotSupported)
	default:
		return nil, errors.New("empty pinned source spec")
	}
}

// pinSource turns a declared source spec into its exact form: an absolute
// path, or a git spec resolved to a commit. URL sources fail explicitly.
func (d *Dispatcher) pinSource(ctx context.Context, spec source.Spec) (source.Pinned, error) {
	switch {
	case spec.Path != nil:
		abs, err := pathutil.Resolve(spec.Path.Path, d.state.root)
		if err != nil {
			return source.Pinned{}, err
		}
		return source.Pinned{Path: &source.PinnedPathSpec{Path: abs}}, nil
	case spec.Git != nil:
		commit, err := d.state.resolver.Resolve(ctx, spec.Git.URL, spec.Git.Reference())
		if err != nil {
			return source.Pinned{}, fmt.Errorf("pinning %s: %w", spec, err)
		}
		return source.Pinned{Git: &source.PinnedGitSpec{
			URL:          spec.Git.URL,
			Commit:       commit,
			Reference:    spec.Git.Reference(),
			Subdirectory: spec.Git.Subdirectory,
		}}, nil
	case spec.URL != nil:
		return source.Pinned{}, fmt.Errorf("pinning %s: %w", spec, source.ErrURLNotSupported)
	default:
		return source.Pinned{}, errors.New("empty source spec")
	}
}

// gitCheckout executes a git checkout task under a download permit.
func (d *Dispatcher) gitCheckout(ctx context.Context, spec gitCheckoutSpec) (*source.Checkout, error) {
	release, err := d.state.limits.acquireDownload(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	pinned := spec.Pinned
	return d.state.gitService.Checkout(ctx, &pinned)
}
