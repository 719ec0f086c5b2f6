package types

import "time"

// EntityTypeConfig supplies per-(source_type, target_type) defaults used by
// the cache manager when an insert omits a TTL or confidence threshold.
type EntityTypeConfig struct {
	SourceType          string  `json:"source_type"`
	TargetType          string  `json:"target_type"`
	TTLDays             int     `json:"ttl_days"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// CacheStats is one calendar day (UTC) of cache counters. All increments are
// atomic in the store.
type CacheStats struct {
	Date                  string `json:"date"` // YYYY-MM-DD, UTC
	Hits                  int64  `json:"hits"`
	Misses                int64  `json:"misses"`
	DirectLookups         int64  `json:"direct_lookups"`
	DerivedLookups        int64  `json:"derived_lookups"`
	APICalls              int64  `json:"api_calls"`
	TransitiveDerivations int64  `json:"transitive_derivations"`
}

// Transitive job statuses. Error states are recorded as "error:<msg>".
const (
	JobRunning           = "running"
	JobCompleted         = "completed"
	JobCompletedExtended = "completed_extended"
)

// TransitiveJobLog records one run of the transitivity builder.
type TransitiveJobLog struct {
	JobID             string    `json:"job_id"`
	StartedAt         time.Time `json:"started_at"`
	Status            string    `json:"status"`
	MappingsProcessed int       `json:"mappings_processed"`
	NewMappings       int       `json:"new_mappings_created"`
	DurationSeconds   float64   `json:"duration_seconds"`
}
