package dispatch

import (
	"context"

	"github.com/prefix-dev/pixi-go/platform"
	"github.com/prefix-dev/pixi-go/record"
)

// Gateway queries channels for the binary package records available for a set
// of package names. Implementations are expected to return the transitive
// closure: records for the named packages plus everything they depend on.
type Gateway interface {
	Query(ctx context.Context, channels []string, platforms []platform.Platform, names []string) ([]record.BinaryRecord, error)
}

// emptyGateway is the default when no gateway is injected: it knows no
// packages. Solves against it only succeed for pure source environments.
type emptyGateway struct{}

func (emptyGateway) Query(context.Context, []string, []platform.Platform, []string) ([]record.BinaryRecord, error) {
	return nil, nil
}
