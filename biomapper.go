// Package biomapper provides a minimal public API for embedding the mapping
// engine in other Go programs.
//
// Most integrations only need the storage layer plus the cache manager and
// dispatcher; this package re-exports the essential types and constructors.
// Everything else lives under internal/ and is reachable through these
// entry points.
package biomapper

import (
	"context"

	"github.com/arpanauts/biomapper/internal/cache"
	"github.com/arpanauts/biomapper/internal/dispatch"
	"github.com/arpanauts/biomapper/internal/monitor"
	"github.com/arpanauts/biomapper/internal/registry"
	"github.com/arpanauts/biomapper/internal/storage"
	"github.com/arpanauts/biomapper/internal/storage/sqlite"
	"github.com/arpanauts/biomapper/internal/types"
)

// Core types for working with mappings.
type (
	EntityMapping    = types.EntityMapping
	EntityRef        = types.EntityRef
	MappingResult    = types.MappingResult
	ResourceMetadata = types.ResourceMetadata
	CacheStats       = types.CacheStats
)

// Resource type constants.
const (
	ResourceCache   = types.ResourceCache
	ResourceGraph   = types.ResourceGraph
	ResourceAPI     = types.ResourceAPI
	ResourceDataset = types.ResourceDataset
)

// Support level constants.
const (
	SupportNone    = types.SupportNone
	SupportPartial = types.SupportPartial
	SupportFull    = types.SupportFull
)

// Store is the persistence interface shared by all engine components.
type Store = storage.Store

// Engine bundles the pieces most embedders need.
type Engine struct {
	Store      Store
	Cache      *cache.Manager
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Monitor    *monitor.Monitor
}

// NewStore opens (creating if needed) a biomapper SQLite database.
func NewStore(ctx context.Context, dbPath string) (Store, error) {
	return sqlite.New(ctx, dbPath)
}

// NewEngine assembles an engine over an open store. Adapters are registered
// by the caller on the returned dispatcher.
func NewEngine(store Store) *Engine {
	mon := monitor.New(monitor.DefaultCapacity)
	mgr := cache.NewManager(store, cache.WithMonitor(mon))
	reg := registry.New(store)
	return &Engine{
		Store:      store,
		Cache:      mgr,
		Registry:   reg,
		Dispatcher: dispatch.New(reg, mon),
		Monitor:    mon,
	}
}
