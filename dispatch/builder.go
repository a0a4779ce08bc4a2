package dispatch

import (
	"net/http"
	"os"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/prefix-dev/pixi-go/backend"
	"github.com/prefix-dev/pixi-go/cache"
	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/source"
	"github.com/prefix-dev/pixi-go/util/globhash"
	"github.com/prefix-dev/pixi-go/util/slog"
)

// Builder assembles a dispatcher. Every field is optional; Finish fills
// sensible defaults for whatever is unset and spawns the background
// processor.
type Builder struct {
	root             string
	dirs             *cache.Dirs
	client           *http.Client
	gateway          Gateway
	solver           Solver
	installer        Installer
	backend          backend.Backend
	backendOverrides map[string]backend.Backend
	resolver         *source.GitResolver
	limits           Limits
	toolPlatform     platform.Platform
	virtualPackages  []platform.VirtualPackage
	tracer           trace.Tracer
	log              *slog.Logger
}

func NewBuilder() *Builder {
	return &Builder{}
}

// WithRoot sets the directory relative source paths resolve against.
func (b *Builder) WithRoot(dir string) *Builder {
	b.root = dir
	return b
}

// WithCacheDirs sets the cache layout.
func (b *Builder) WithCacheDirs(dirs *cache.Dirs) *Builder {
	b.dirs = dirs
	return b
}

// WithClient sets the HTTP client used for downloads.
func (b *Builder) WithClient(client *http.Client) *Builder {
	b.client = client
	return b
}

// WithGateway sets the repodata gateway collaborator.
func (b *Builder) WithGateway(g Gateway) *Builder {
	b.gateway = g
	return b
}

// WithSolver sets the conda solver collaborator.
func (b *Builder) WithSolver(s Solver) *Builder {
	b.solver = s
	return b
}

// WithInstaller sets the environment installer collaborator.
func (b *Builder) WithInstaller(i Installer) *Builder {
	b.installer = i
	return b
}

// WithBackend sets the default build backend.
func (b *Builder) WithBackend(bk backend.Backend) *Builder {
	b.backend = bk
	return b
}

// WithBackendOverride routes metadata queries for the named backend to an
// in-process implementation instead of instantiating its tool environment.
func (b *Builder) WithBackendOverride(name string, bk backend.Backend) *Builder {
	if b.backendOverrides == nil {
		b.backendOverrides = map[string]backend.Backend{}
	}
	b.backendOverrides[name] = bk
	return b
}

// WithGitResolver sets the git reference resolver, e.g. one pre-seeded from
// a lock file.
func (b *Builder) WithGitResolver(r *source.GitResolver) *Builder {
	b.resolver = r
	return b
}

// WithLimits bounds resource-bound concurrency.
func (b *Builder) WithLimits(l Limits) *Builder {
	b.limits = l
	return b
}

// WithToolPlatform overrides the platform and virtual packages that tool
// environments are solved for.
func (b *Builder) WithToolPlatform(p platform.Platform, virtual []platform.VirtualPackage) *Builder {
	b.toolPlatform = p
	b.virtualPackages = virtual
	return b
}

// WithTracer sets the tracer task executions are recorded on.
func (b *Builder) WithTracer(t trace.Tracer) *Builder {
	b.tracer = t
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

// Finish spawns the background processor and returns the dispatcher holding
// the strong channel endpoint. The caller owns the processor's lifetime
// through Close.
func (b *Builder) Finish() *Dispatcher {
	root := b.root
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		} else {
			root = "."
		}
	}
	dirs := b.dirs
	if dirs == nil {
		dirs = cache.DefaultDirs()
	}
	client := b.client
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	toolPlatform := b.toolPlatform
	virtual := b.virtualPackages
	if toolPlatform == "" {
		toolPlatform = platform.Current()
		if virtual == nil {
			virtual = platform.Detect()
		}
	}
	gateway := b.gateway
	if gateway == nil {
		gateway = emptyGateway{}
	}
	solver := b.solver
	if solver == nil {
		solver = naiveSolver{}
	}
	installer := b.installer
	if installer == nil {
		installer = condaMetaInstaller{}
	}
	bk := b.backend
	if bk == nil {
		bk = backend.TOMLBackend{}
	}
	resolver := b.resolver
	if resolver == nil {
		resolver = source.NewGitResolver()
	}
	log := b.log
	if log == nil {
		log = slog.Default()
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer("pixi-go/dispatch")
	}

	globCache := globhash.NewCache()
	state := &sharedState{
		root:             root,
		dirs:             dirs,
		client:           client,
		toolPlatform:     toolPlatform,
		virtualPackages:  virtual,
		gateway:          gateway,
		solver:           solver,
		installer:        installer,
		backend:          bk,
		backendOverrides: b.backendOverrides,
		resolver:         resolver,
		gitService:       source.NewGitCheckoutService(dirs.Git(), resolver),
		metaCache:        cache.NewSourceMetadataCache(dirs.SourceMetadata(), globCache),
		globCache:        globCache,
		limits:           newLimiter(b.limits),
		tracer:           tracer,
		log:              log,
	}

	ch := &dispatchChannel{
		inbox:  make(chan *task, 64),
		closed: make(chan struct{}),
	}
	go newProcessor(ch, state).loop()
	return &Dispatcher{ch: ch, strong: true, state: state}
}
