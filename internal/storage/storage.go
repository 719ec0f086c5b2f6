// Package storage provides the persistence contract for the biomapper engine.
//
// The concrete implementation lives in the sqlite sub-package. Consumers
// (cache manager, registry, transitivity builder) depend on these interfaces
// rather than on the concrete type so that mocks can be substituted in tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/arpanauts/biomapper/internal/types"
)

// ErrNotFound is returned when a requested row does not exist. Public API
// layers translate it into a nil result; it is never surfaced to callers as
// a failure.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates the mapping quad
// uniqueness constraint outside of the upsert path.
var ErrConflict = errors.New("conflict")

// StatsDelta holds atomic increments for one day's cache_stats row.
// Zero fields are ignored.
type StatsDelta struct {
	Hits                  int64
	Misses                int64
	DirectLookups         int64
	DerivedLookups        int64
	APICalls              int64
	TransitiveDerivations int64
}

// PerformanceFilter narrows GetPerformance results. Empty fields match all.
type PerformanceFilter struct {
	ResourceName  string
	OperationType string
	SourceType    string
	TargetType    string
}

// Store is the interface satisfied by *sqlite.Store.
type Store interface {
	// RunInTransaction executes fn within one database transaction.
	// On error or panic the transaction is rolled back; on nil return it
	// is committed.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Close() error
	Path() string
}

// Transaction exposes the row-level operations available inside a
// transaction. All methods observe read-your-writes within the transaction.
type Transaction interface {
	// Mapping schema.
	GetMapping(ctx context.Context, key types.MappingKey) (*types.EntityMapping, error)
	FindMappingsBySource(ctx context.Context, sourceID, sourceType, targetType string, includeDerived bool, minConfidence float64) ([]*types.EntityMapping, error)
	FindMappingsByTarget(ctx context.Context, targetID, targetType, sourceType string, includeDerived bool, minConfidence float64) ([]*types.EntityMapping, error)
	AllMappings(ctx context.Context, minConfidence float64) ([]*types.EntityMapping, error)
	InsertMapping(ctx context.Context, m *types.EntityMapping) (int64, error)
	UpdateMapping(ctx context.Context, m *types.EntityMapping) error
	ReplaceMappingMetadata(ctx context.Context, mappingID int64, metadata map[string]string) error
	TouchMappings(ctx context.Context, ids []int64, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Entity type config.
	GetEntityTypeConfig(ctx context.Context, sourceType, targetType string) (*types.EntityTypeConfig, error)
	SetEntityTypeConfig(ctx context.Context, cfg *types.EntityTypeConfig) error

	// Daily stats and job logs.
	IncrementStats(ctx context.Context, day string, delta StatsDelta) error
	GetCacheStats(ctx context.Context, startDay, endDay string) ([]*types.CacheStats, error)
	CreateJobLog(ctx context.Context, job *types.TransitiveJobLog) error
	UpdateJobLog(ctx context.Context, job *types.TransitiveJobLog) error
	GetJobLog(ctx context.Context, jobID string) (*types.TransitiveJobLog, error)

	// Metadata schema.
	UpsertResource(ctx context.Context, r *types.ResourceMetadata) error
	GetResource(ctx context.Context, name string) (*types.ResourceMetadata, error)
	ListResources(ctx context.Context, activeOnly bool) ([]*types.ResourceMetadata, error)
	UpsertCoverage(ctx context.Context, c *types.OntologyCoverage) error
	GetCoverage(ctx context.Context, resource, ontology string) (*types.OntologyCoverage, error)
	ListCoverage(ctx context.Context, resource string) ([]*types.OntologyCoverage, error)
	AppendOperationLog(ctx context.Context, entry *types.OperationLog) (int64, error)
	RecordPerformanceSample(ctx context.Context, resource, opType, sourceType, targetType string, responseMS int64, success bool) error
	GetPerformance(ctx context.Context, filter PerformanceFilter) ([]*types.PerformanceMetrics, error)
	ClearOperationLogs(ctx context.Context, olderThan *time.Time, resource string) (int64, error)
}
