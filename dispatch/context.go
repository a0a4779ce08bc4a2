package dispatch

// ContextKind names the kind of an in-flight request. Every request executed
// by the processor runs under a Context of one of these kinds.
type ContextKind int

const (
	KindSolveEnvironment ContextKind = iota
	KindSolveCondaEnvironment
	KindInstallEnvironment
	KindSourceMetadata
	KindInstantiateToolEnv
	KindGitCheckout
)

func (k ContextKind) String() string {
	switch k {
	case KindSolveEnvironment:
		return "solve-environment"
	case KindSolveCondaEnvironment:
		return "solve-conda-environment"
	case KindInstallEnvironment:
		return "install-environment"
	case KindSourceMetadata:
		return "source-metadata"
	case KindInstantiateToolEnv:
		return "instantiate-tool-environment"
	case KindGitCheckout:
		return "git-checkout"
	default:
		return "unknown"
	}
}

// GenID is a generational identifier: an arena slot plus the generation the
// slot was allocated under. A stale id never aliases a reused slot because
// the generation differs.
type GenID struct {
	Index      uint32
	Generation uint32
}

// Context identifies one in-flight request. It is attached to every nested
// task as its parent, forming the call tree rooted at the original external
// request.
type Context struct {
	Kind ContextKind
	ID   GenID
}

// idArena hands out generational ids. Slots are recycled through a free list;
// each reuse bumps the slot's generation.
type idArena struct {
	generations []uint32
	free        []uint32
}

func (a *idArena) alloc() GenID {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		return GenID{Index: idx, Generation: a.generations[idx]}
	}
	a.generations = append(a.generations, 0)
	return GenID{Index: uint32(len(a.generations) - 1)}
}

// release retires an id. A stale id (generation mismatch) is ignored.
func (a *idArena) release(id GenID) bool {
	if int(id.Index) >= len(a.generations) || a.generations[id.Index] != id.Generation {
		return false
	}
	a.generations[id.Index]++
	a.free = append(a.free, id.Index)
	return true
}
