package dispatch

import (
	"context"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/opencontainers/go-digest"
)

// taskResult carries a task's outcome to its waiters. The value is shared by
// every waiter of a coalesced request, so outputs must be cheap to share
// (pointers or small values), never mutated by receivers.
type taskResult struct {
	value any
	err   error
}

// task is the envelope sent to the processor: a spec, the context of the
// request that issued it, and a single-use response channel. The channel is
// resolved exactly once: a sent result, or closed without one, which the
// caller observes as cancelled.
type task struct {
	kind   ContextKind
	key    digest.Digest
	spec   any
	desc   string
	parent *Context

	// ctx is the issuing caller's context; the processor watches it to drop
	// the waiter when the caller gives up.
	ctx  context.Context
	resp chan taskResult
}

// canonicalKey derives the coalescing key of a spec from its content. Two
// specs with equal content always produce the same key regardless of object
// identity.
func canonicalKey(kind ContextKind, spec any) (digest.Digest, error) {
	h, err := hashstructure.Hash(spec, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing %s spec: %w", kind, err)
	}
	return digest.FromString(fmt.Sprintf("%s\x00%016x", kind, h)), nil
}
