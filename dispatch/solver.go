package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
)

// SolveRequest is the input to the conda solver collaborator: the binary
// requirements, the already-resolved source records that take part in the
// environment, and the repodata candidates fetched from the gateway.
type SolveRequest struct {
	Requirements    []record.MatchSpec
	SourceRecords   []record.SourceRecord
	Repodata        []record.BinaryRecord
	VirtualPackages []platform.VirtualPackage
	Platform        platform.Platform
}

// Solver resolves a SolveRequest into the final record set. The real
// implementation is an external collaborator; the default is naiveSolver.
type Solver interface {
	Solve(ctx context.Context, req SolveRequest) ([]record.Record, error)
}

// naiveSolver is a deliberately simple stand-in used when no real solver is
// injected: it matches requirements by name only, preferring source records
// over repodata and the highest version among repodata candidates, and walks
// dependency edges breadth-first. Version constraints are not evaluated.
type naiveSolver struct{}

func (naiveSolver) Solve(ctx context.Context, req SolveRequest) ([]record.Record, error) {
	bySource := make(map[string]*record.SourceRecord, len(req.SourceRecords))
	for i := range req.SourceRecords {
		r := &req.SourceRecords[i]
		bySource[r.Name] = r
	}
	byBinary := make(map[string]*record.BinaryRecord, len(req.Repodata))
	for i := range req.Repodata {
		r := &req.Repodata[i]
		if best, ok := byBinary[r.Name]; !ok || compareVersions(r.Version, best.Version) > 0 {
			byBinary[r.Name] = r
		}
	}
	virtual := make(map[string]bool, len(req.VirtualPackages))
	for _, v := range req.VirtualPackages {
		virtual[v.Name] = true
	}

	queue := make([]string, 0, len(req.Requirements))
	for _, m := range req.Requirements {
		queue = append(queue, m.Name)
	}
	for _, r := range req.SourceRecords {
		queue = append(queue, r.Name)
	}

	chosen := map[string]record.Record{}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := queue[0]
		queue = queue[1:]
		if _, done := chosen[name]; done {
			continue
		}
		if strings.HasPrefix(name, "__") {
			if !virtual[name] {
				return nil, fmt.Errorf("virtual package %q is not provided by the platform", name)
			}
			continue
		}

		var rec record.Record
		switch {
		case bySource[name] != nil:
			rec = bySource[name]
		case byBinary[name] != nil:
			rec = byBinary[name]
		default:
			return nil, fmt.Errorf("no candidate found for package %q", name)
		}
		chosen[name] = rec

		for _, dep := range rec.Package().Depends {
			m, err := record.ParseMatchSpec(dep)
			if err != nil {
				return nil, fmt.Errorf("dependency %q of %q: %w", dep, name, err)
			}
			queue = append(queue, m.Name)
		}
	}

	names := make([]string, 0, len(chosen))
	for name := range chosen {
		names = append(names, name)
	}
	sort.Strings(names)
	records := make([]record.Record, 0, len(names))
	for _, name := range names {
		records = append(records, chosen[name])
	}
	return records, nil
}

// compareVersions orders dotted version strings numerically where possible,
// falling back to string comparison for non-numeric segments.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		an, aerr := strconv.Atoi(av)
		bn, berr := strconv.Atoi(bv)
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		default:
			if av != bv {
				return strings.Compare(av, bv)
			}
		}
	}
	return 0
}
