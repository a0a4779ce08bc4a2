package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled reports that no result could be obtained because the
// dispatcher shut down before the request was resolved. It is strictly an
// infrastructure-level outcome; real task failures propagate as their own
// error values and are never masked by it.
var ErrCancelled = errors.New("dispatcher closed before the request completed")

// CycleError reports a cyclic source dependency: resolving a source package's
// metadata required, transitively, resolving that same metadata again.
type CycleError struct {
	// Chain lists the sources on the cycle, outermost first. The first and
	// last element name the same source.
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic source dependency: %s", strings.Join(e.Chain, " -> "))
}
