// Package dispatch routes mapping requests across registered resource
// adapters in registry-ranked order, with per-adapter timeouts, sequential
// fallback, and operation logging.
package dispatch

import (
	"context"

	"github.com/arpanauts/biomapper/internal/types"
)

// OpMapEntity is the operation type recorded in the registry for adapter
// map calls.
const OpMapEntity = "map_entity"

// Request is one mapping request as seen by an adapter.
type Request struct {
	SourceID      string
	SourceType    string
	TargetType    string
	MinConfidence float64

	// Options carries adapter-specific parameters. Adapters must ignore
	// options they do not recognize.
	Options map[string]string
}

// Adapter is the uniform façade over one backend. Implementations are free
// to maintain their own caches, pools, and retry policies; the dispatcher
// treats them as black boxes apart from timing and status.
//
// MapEntity returns (nil, nil) when the backend answered but found no
// mapping; not-found is never an error.
type Adapter interface {
	Name() string
	MapEntity(ctx context.Context, req Request) (*types.MappingResult, error)
}
