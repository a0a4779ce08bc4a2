package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
	"github.com/prefix-dev/pixi-go/source"
)

// Dependency is one requested package: a match spec, optionally backed by a
// source location. A nil Source means the package comes pre-built from a
// channel.
type Dependency struct {
	Spec   record.MatchSpec
	Source *source.Spec
}

// EnvironmentSpec is a full environment request: binary and source
// requirements together, with sources still to be discovered transitively.
type EnvironmentSpec struct {
	Name         string
	Dependencies []Dependency
	Channels     []string
	Platform     platform.Platform
	Variants     map[string][]string
}

// CondaEnvironmentSpec is an environment whose source requirements are
// already resolved to concrete records; solving it involves no recursion.
type CondaEnvironmentSpec struct {
	Name         string
	Requirements []record.MatchSpec
	Sources      []record.SourceRecord
	Channels     []string
	Platform     platform.Platform
}

// solveEnvironment drives the recursive solve pipeline: partition the
// requirements, compute the transitive closure of source packages, then hand
// the combined requirements to the conda solve.
func (d *Dispatcher) solveEnvironment(ctx context.Context, s EnvironmentSpec) ([]record.Record, error) {
	if s.Platform == "" {
		s.Platform = d.state.toolPlatform
	}

	binary, sourceDeps := partitionDependencies(s.Dependencies)
	sources, err := d.collectSources(ctx, s, sourceDeps)
	if err != nil {
		return nil, err
	}

	return d.SolveCondaEnvironment(ctx, CondaEnvironmentSpec{
		Name:         s.Name,
		Requirements: binary,
		Sources:      sources,
		Channels:     s.Channels,
		Platform:     s.Platform,
	})
}

func partitionDependencies(deps []Dependency) (binary []record.MatchSpec, sources []Dependency) {
	for _, dep := range deps {
		if dep.Source == nil {
			binary = append(binary, dep.Spec)
		} else {
			sources = append(sources, dep)
		}
	}
	return binary, sources
}

// sourceCollector computes the breadth-first closure over source packages:
// every source requirement is pinned and its metadata fetched; newly
// discovered source dependencies join the worklist until it is empty.
type sourceCollector struct {
	d   *Dispatcher
	env EnvironmentSpec
	eg  *errgroup.Group
	ctx context.Context

	mu      sync.Mutex
	seen    map[string]bool
	records []record.SourceRecord
}

func (d *Dispatcher) collectSources(ctx context.Context, env EnvironmentSpec, deps []Dependency) ([]record.SourceRecord, error) {
	if len(deps) == 0 {
		return nil, nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	c := &sourceCollector{d: d, env: env, eg: eg, ctx: ctx, seen: map[string]bool{}}
	for _, dep := range deps {
		c.enqueue(dep.Spec.Name, *dep.Source)
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(c.records, func(i, j int) bool { return c.records[i].Name < c.records[j].Name })
	return c.records, nil
}

func (c *sourceCollector) enqueue(name string, spec source.Spec) {
	c.eg.Go(func() error {
		return c.process(name, spec)
	})
}

func (c *sourceCollector) process(name string, spec source.Spec) error {
	pinned, err := c.d.pinSource(c.ctx, spec)
	if err != nil {
		return fmt.Errorf("pinning source of %q: %w", name, err)
	}

	key := string(pinned.Identity()) + "\x00" + name
	c.mu.Lock()
	if c.seen[key] {
		c.mu.Unlock()
		return nil
	}
	c.seen[key] = true
	c.mu.Unlock()

	meta, err := c.d.SourceMetadata(c.ctx, SourceMetadataSpec{
		Source:       pinned,
		HostPlatform: c.env.Platform,
		Channels:     c.env.Channels,
		Variants:     c.env.Variants,
	})
	if err != nil {
		return err
	}

	rec := findSourceRecord(meta.Records, name)
	if rec == nil {
		return missingPackageError(name, pinned, meta.Records)
	}

	c.mu.Lock()
	c.records = append(c.records, *rec)
	c.mu.Unlock()

	// Specs in rec.Sources are already anchored to the declaring package.
	for depName, depSpec := range rec.Sources {
		c.enqueue(depName, depSpec)
	}
	return nil
}

func findSourceRecord(records []record.SourceRecord, name string) *record.SourceRecord {
	for i := range records {
		if records[i].Name == name {
			return &records[i]
		}
	}
	return nil
}

func missingPackageError(name string, pinned source.Pinned, records []record.SourceRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("source %s does not provide any packages, but %q was requested", pinned, name)
	}
	names := make([]string, 0, len(records))
	for i := range records {
		names = append(names, records[i].Name)
	}
	sort.Strings(names)
	if closest := closestName(name, names); closest != "" {
		return fmt.Errorf("source %s does not provide package %q; did you mean %q?", pinned, name, closest)
	}
	return fmt.Errorf("source %s does not provide package %q, only: %s", pinned, name, strings.Join(names, ", "))
}

// closestName picks the candidate with the smallest edit distance, if any is
// close enough to plausibly be a typo.
func closestName(name string, candidates []string) string {
	best, bestDist := "", len(name)/2+1
	for _, c := range candidates {
		if d := editDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// solveCondaEnvironment fetches repodata candidates under a download permit
// and hands everything to the solver collaborator.
func (d *Dispatcher) solveCondaEnvironment(ctx context.Context, s CondaEnvironmentSpec) ([]record.Record, error) {
	release, err := d.state.limits.acquireDownload(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	names, err := queryNames(s)
	if err != nil {
		return nil, err
	}
	repodata, err := d.state.gateway.Query(ctx, s.Channels, []platform.Platform{s.Platform, platform.NoArch}, names)
	if err != nil {
		return nil, fmt.Errorf("querying repodata: %w", err)
	}

	return d.state.solver.Solve(ctx, SolveRequest{
		Requirements:    s.Requirements,
		SourceRecords:   s.Sources,
		Repodata:        repodata,
		VirtualPackages: d.state.virtualPackages,
		Platform:        s.Platform,
	})
}

// queryNames collects the package names the gateway is asked for: the binary
// requirements plus everything the source records depend on.
func queryNames(s CondaEnvironmentSpec) ([]string, error) {
	set := map[string]bool{}
	for _, m := range s.Requirements {
		set[m.Name] = true
	}
	for i := range s.Sources {
		for _, dep := range s.Sources[i].Depends {
			m, err := record.ParseMatchSpec(dep)
			if err != nil {
				return nil, fmt.Errorf("dependency %q of %q: %w", dep, s.Sources[i].Name, err)
			}
			set[m.Name] = true
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		if !strings.HasPrefix(name, "__") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
