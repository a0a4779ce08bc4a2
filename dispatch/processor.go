package dispatch

import (
	"context"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/prefix-dev/pixi-go/util/slog"
)

// waiter is one caller awaiting an in-flight entry. done is closed when the
// waiter has been resolved or dropped, which stops its context watcher.
type waiter struct {
	key  digest.Digest
	ctx  context.Context
	resp chan taskResult
	done chan struct{}
}

// entry is one in-flight execution with the waiters coalesced onto it.
type entry struct {
	key     digest.Digest
	kind    ContextKind
	ctx     Context
	desc    string
	waiters []*waiter
	cancel  context.CancelFunc
}

// ctxInfo records, per live context, the parent edge of the call tree and
// the canonical key of the entry executing under it.
type ctxInfo struct {
	parent *Context
	key    digest.Digest
	kind   ContextKind
	desc   string
}

type completion struct {
	key digest.Digest
	res taskResult
}

// processor is the single owner of all orchestration state. Every mutation
// of the entry table, the call tree and the id arenas happens on its
// goroutine; executions run as separate goroutines and report back over the
// results channel.
type processor struct {
	ch         *dispatchChannel
	state      *sharedState
	results    chan completion
	waiterGone chan *waiter

	entries  map[digest.Digest]*entry
	contexts map[Context]ctxInfo
	cached   map[digest.Digest]taskResult
	arenas   map[ContextKind]*idArena
	log      *slog.Logger
}

func newProcessor(ch *dispatchChannel, state *sharedState) *processor {
	return &processor{
		ch:         ch,
		state:      state,
		results:    make(chan completion, 16),
		waiterGone: make(chan *waiter, 16),
		entries:    map[digest.Digest]*entry{},
		contexts:   map[Context]ctxInfo{},
		cached:     map[digest.Digest]taskResult{},
		arenas:     map[ContextKind]*idArena{},
		log:        state.log.With("component", "dispatch-processor"),
	}
}

func (p *processor) loop() {
	for {
		select {
		case t := <-p.ch.inbox:
			p.handle(t)
		case c := <-p.results:
			p.complete(c)
		case w := <-p.waiterGone:
			p.dropWaiter(w)
		case <-p.ch.closed:
			p.shutdown()
			return
		}
	}
}

func (p *processor) handle(t *task) {
	if res, ok := p.cached[t.key]; ok {
		p.log.Trace("request served from retained result", "kind", t.kind, "key", t.key)
		t.resp <- res
		return
	}

	if chain, ok := p.findCycle(t); ok {
		t.resp <- taskResult{err: &CycleError{Chain: chain}}
		return
	}

	w := &waiter{key: t.key, ctx: t.ctx, resp: t.resp, done: make(chan struct{})}
	if e, ok := p.entries[t.key]; ok {
		// Coalesce: same spec already executing, just join its waiters.
		e.waiters = append(e.waiters, w)
		p.watch(w)
		p.log.ExtraDebug("request coalesced", "kind", t.kind, "key", t.key, "waiters", len(e.waiters))
		return
	}

	e := &entry{key: t.key, kind: t.kind, desc: t.desc, waiters: []*waiter{w}}
	e.ctx = Context{Kind: t.kind, ID: p.arena(t.kind).alloc()}
	p.contexts[e.ctx] = ctxInfo{parent: t.parent, key: t.key, kind: t.kind, desc: t.desc}
	p.entries[t.key] = e
	p.watch(w)
	p.start(e, t.spec)
	p.log.ExtraDebug("request started", "kind", t.kind, "key", t.key, "desc", t.desc)
}

// findCycle reports whether executing t would wait on one of its own
// ancestors. Cycle detection is keyed by the full canonical key — pinned
// source identity, platform and variants together — so the same source
// requested for two platforms is not a cycle.
func (p *processor) findCycle(t *task) ([]string, bool) {
	if t.kind != KindSourceMetadata {
		return nil, false
	}
	chain := []string{t.desc}
	for c := t.parent; c != nil; {
		info, ok := p.contexts[*c]
		if !ok {
			break
		}
		if info.kind == KindSourceMetadata {
			chain = append(chain, info.desc)
			if info.key == t.key {
				for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
					chain[i], chain[j] = chain[j], chain[i]
				}
				return chain, true
			}
		}
		c = info.parent
	}
	return nil, false
}

// watch drops the waiter when its caller's context ends before the entry
// resolves. The watcher exits on resolution or dispatcher shutdown.
func (p *processor) watch(w *waiter) {
	go func() {
		select {
		case <-w.ctx.Done():
			select {
			case p.waiterGone <- w:
			case <-w.done:
			case <-p.ch.closed:
			}
		case <-w.done:
		case <-p.ch.closed:
		}
	}()
}

// start spawns the entry's execution. The execution context is detached from
// any individual caller; it is cancelled when the last waiter leaves or the
// dispatcher shuts down.
func (p *processor) start(e *entry, spec any) {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	d := &Dispatcher{ch: p.ch, current: &e.ctx, state: p.state}
	key := e.key
	kind := e.kind
	go func() {
		ctx, span := p.state.tracer.Start(ctx, "dispatch."+kind.String())
		v, err := p.run(ctx, d, kind, spec)
		span.End()
		// Always received: the loop is reading, or shutdown drains results
		// until every entry has reported back.
		p.results <- completion{key: key, res: taskResult{value: v, err: err}}
	}()
}

func (p *processor) run(ctx context.Context, d *Dispatcher, kind ContextKind, spec any) (any, error) {
	switch s := spec.(type) {
	case EnvironmentSpec:
		return d.solveEnvironment(ctx, s)
	case CondaEnvironmentSpec:
		return d.solveCondaEnvironment(ctx, s)
	case InstallSpec:
		return nil, d.installEnvironment(ctx, s)
	case SourceMetadataSpec:
		return d.sourceMetadata(ctx, s)
	case ToolEnvironmentSpec:
		return d.instantiateToolEnvironment(ctx, s)
	case gitCheckoutSpec:
		return d.gitCheckout(ctx, s)
	default:
		return nil, fmt.Errorf("unknown task spec type %T", spec)
	}
}

func (p *processor) complete(c completion) {
	e, ok := p.entries[c.key]
	if !ok {
		return
	}
	delete(p.entries, c.key)
	delete(p.contexts, e.ctx)
	p.arena(e.kind).release(e.ctx.ID)
	e.cancel()

	for _, w := range e.waiters {
		w.resp <- c.res
		close(w.done)
	}

	// Retain results that stay valid for the dispatcher's lifetime; failed
	// executions are always evicted so an identical later request retries.
	if c.res.err == nil && retained(e.kind) {
		p.cached[c.key] = c.res
	}
	p.log.ExtraDebug("request completed",
		"kind", e.kind, "key", e.key, "waiters", len(e.waiters), "failed", c.res.err != nil)
}

func retained(k ContextKind) bool {
	switch k {
	case KindSourceMetadata, KindInstantiateToolEnv, KindGitCheckout:
		return true
	default:
		return false
	}
}

func (p *processor) dropWaiter(w *waiter) {
	e, ok := p.entries[w.key]
	if !ok {
		return
	}
	for i, x := range e.waiters {
		if x == w {
			e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
			close(w.done)
			break
		}
	}
	if len(e.waiters) == 0 {
		// Nobody wants the result anymore; abort instead of running to
		// completion silently.
		p.log.ExtraDebug("aborting abandoned request", "kind", e.kind, "key", e.key)
		e.cancel()
	}
}

// shutdown resolves every pending waiter as cancelled, aborts in-flight
// executions and waits for them to report back before the processor exits.
func (p *processor) shutdown() {
	for {
		select {
		case t := <-p.ch.inbox:
			close(t.resp)
			continue
		default:
		}
		break
	}

	for _, e := range p.entries {
		e.cancel()
		for _, w := range e.waiters {
			close(w.resp)
			close(w.done)
		}
		e.waiters = nil
	}

	for len(p.entries) > 0 {
		select {
		case c := <-p.results:
			if e, ok := p.entries[c.key]; ok {
				delete(p.entries, c.key)
				delete(p.contexts, e.ctx)
				p.arena(e.kind).release(e.ctx.ID)
			}
		case t := <-p.ch.inbox:
			// nested dispatch from a dying execution
			close(t.resp)
		}
	}
	p.log.Debug("dispatch processor stopped")
}

func (p *processor) arena(k ContextKind) *idArena {
	a, ok := p.arenas[k]
	if !ok {
		a = &idArena{}
		p.arenas[k] = a
	}
	return a
}
