// Package dispatch implements the orchestration core: a dispatcher handle
// fronting a single background processor that executes, deduplicates and
// cancels the resolution tasks of a package-environment manager — solving
// environments, fetching source metadata, checking out repositories and
// instantiating build-backend tool environments.
package dispatch

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/prefix-dev/pixi-go/backend"
	"github.com/prefix-dev/pixi-go/cache"
	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
	"github.com/prefix-dev/pixi-go/source"
	"github.com/prefix-dev/pixi-go/util/globhash"
	"github.com/prefix-dev/pixi-go/util/slog"
)

// dispatchChannel connects dispatcher handles to the processor. The closed
// channel is the liveness flag: once the strong handle closes it, sends from
// any handle fail and the processor shuts down.
type dispatchChannel struct {
	inbox     chan *task
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *dispatchChannel) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// sharedState is the reference-counted configuration bundle every handle
// clone shares. It is immutable after the builder finishes.
type sharedState struct {
	root             string
	dirs             *cache.Dirs
	client           *http.Client
	toolPlatform     platform.Platform
	virtualPackages  []platform.VirtualPackage
	gateway          Gateway
	solver           Solver
	installer        Installer
	backend          backend.Backend
	backendOverrides map[string]backend.Backend
	resolver         *source.GitResolver
	gitService       *source.GitCheckoutService
	metaCache        *cache.SourceMetadataCache
	globCache        *globhash.Cache
	limits           *limiter
	tracer           trace.Tracer
	log              *slog.Logger
}

// Dispatcher is the public front end of the processor. The instance returned
// by the builder holds the strong channel endpoint; handles minted by the
// processor for nested work are weak — their sends resolve to ErrCancelled
// once the strong endpoint is closed.
type Dispatcher struct {
	ch      *dispatchChannel
	strong  bool
	current *Context
	state   *sharedState
}

// Close shuts the dispatcher down. Pending requests resolve to ErrCancelled,
// in-flight work is aborted, and the background processor exits. Closing a
// weak handle is a no-op.
func (d *Dispatcher) Close() {
	if d.strong {
		d.ch.close()
	}
}

// executeTask is the single entry into the processor: every public operation
// is a thin wrapper over it. It sends the spec as a task carrying the
// handle's current context as parent and awaits the single-use response.
func (d *Dispatcher) executeTask(ctx context.Context, kind ContextKind, spec any, desc string) (any, error) {
	key, err := canonicalKey(kind, spec)
	if err != nil {
		return nil, err
	}
	t := &task{
		kind:   kind,
		key:    key,
		spec:   spec,
		desc:   desc,
		parent: d.current,
		ctx:    ctx,
		resp:   make(chan taskResult, 1),
	}

	select {
	case d.ch.inbox <- t:
	case <-d.ch.closed:
		return nil, ErrCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res, ok := <-t.resp:
		if !ok {
			return nil, ErrCancelled
		}
		return res.value, res.err
	case <-ctx.Done():
		// The processor notices the abandoned waiter through the task's
		// context and aborts the execution if nobody else is waiting.
		return nil, ctx.Err()
	case <-d.ch.closed:
		// A send can land in the inbox buffer while the processor is
		// already gone; never wait on a response that cannot come. A result
		// delivered just before the close still wins.
		select {
		case res, ok := <-t.resp:
			if ok {
				return res.value, res.err
			}
		default:
		}
		return nil, ErrCancelled
	}
}

// SolveEnvironment resolves a full environment specification, recursively
// discovering and pinning source dependencies, into the final record set.
func (d *Dispatcher) SolveEnvironment(ctx context.Context, spec EnvironmentSpec) ([]record.Record, error) {
	v, err := d.executeTask(ctx, KindSolveEnvironment, spec, spec.Name)
	if err != nil {
		return nil, err
	}
	return v.([]record.Record), nil
}

// SolveCondaEnvironment resolves an environment whose source requirements
// are already fully pinned; no recursive discovery happens.
func (d *Dispatcher) SolveCondaEnvironment(ctx context.Context, spec CondaEnvironmentSpec) ([]record.Record, error) {
	v, err := d.executeTask(ctx, KindSolveCondaEnvironment, spec, spec.Name)
	if err != nil {
		return nil, err
	}
	return v.([]record.Record), nil
}

// InstallEnvironment materializes a resolved record set at a prefix.
func (d *Dispatcher) InstallEnvironment(ctx context.Context, spec InstallSpec) error {
	_, err := d.executeTask(ctx, KindInstallEnvironment, spec, spec.Prefix)
	return err
}

// SourceMetadata returns the package metadata of a pinned source. Results
// are shared between concurrent identical requests and retained for the
// lifetime of the dispatcher.
func (d *Dispatcher) SourceMetadata(ctx context.Context, spec SourceMetadataSpec) (*SourceMetadata, error) {
	v, err := d.executeTask(ctx, KindSourceMetadata, spec, spec.Source.String())
	if err != nil {
		return nil, err
	}
	return v.(*SourceMetadata), nil
}

// InstantiateToolEnvironment returns an installed environment for a build
// backend requirement, reusing an existing prefix when one is ready.
func (d *Dispatcher) InstantiateToolEnvironment(ctx context.Context, spec ToolEnvironmentSpec) (*ToolEnvironment, error) {
	v, err := d.executeTask(ctx, KindInstantiateToolEnv, spec, spec.Requirement.Name)
	if err != nil {
		return nil, err
	}
	return v.(*ToolEnvironment), nil
}

// CacheDirs returns the cache layout the dispatcher operates on.
func (d *Dispatcher) CacheDirs() *cache.Dirs { return d.state.dirs }

// GitResolver returns the resolver used to pin git references.
func (d *Dispatcher) GitResolver() *source.GitResolver { return d.state.resolver }

// ToolPlatform returns the platform tool environments are installed for.
func (d *Dispatcher) ToolPlatform() platform.Platform { return d.state.toolPlatform }

// Gateway returns the repodata gateway.
func (d *Dispatcher) Gateway() Gateway { return d.state.gateway }

// HTTPClient returns the download client collaborators should use.
func (d *Dispatcher) HTTPClient() *http.Client { return d.state.client }
