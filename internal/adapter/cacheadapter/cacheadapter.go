// Package cacheadapter exposes the mapping cache as a dispatch resource.
package cacheadapter

import (
	"context"

	"github.com/arpanauts/biomapper/internal/cache"
	"github.com/arpanauts/biomapper/internal/dispatch"
	"github.com/arpanauts/biomapper/internal/types"
)

// DefaultName is the resource name the cache registers under.
const DefaultName = "cache"

// Adapter answers map requests from the persistent cache, derived rows
// included. Results are tagged "cache:<original source>" so provenance of
// the underlying evidence survives.
type Adapter struct {
	name    string
	manager *cache.Manager
}

var _ dispatch.Adapter = (*Adapter)(nil)

// New creates a cache adapter. An empty name uses DefaultName.
func New(name string, manager *cache.Manager) *Adapter {
	if name == "" {
		name = DefaultName
	}
	return &Adapter{name: name, manager: manager}
}

// Name implements dispatch.Adapter.
func (a *Adapter) Name() string { return a.name }

// MapEntity returns the best cached row for the request, or (nil, nil) when
// no suitable row exists.
func (a *Adapter) MapEntity(ctx context.Context, req dispatch.Request) (*types.MappingResult, error) {
	results, err := a.manager.Lookup(ctx, req.SourceID, req.SourceType, cache.LookupOptions{
		TargetType:    req.TargetType,
		MinConfidence: req.MinConfidence,
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	// Lookup orders by confidence descending; the first row is the best.
	best := results[0]
	if best.MappingSource != "" {
		best.MappingSource = "cache:" + best.MappingSource
	} else {
		best.MappingSource = "cache"
	}
	return best, nil
}
