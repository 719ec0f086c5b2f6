// Package types defines core data structures for the biomapper engine.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTTLDays is applied when neither the caller nor the entity type
// config supplies a TTL for a new mapping.
const DefaultTTLDays = 365

// EntityMapping is the central cache record: one directed identifier
// equivalence between two ontologies.
type EntityMapping struct {
	ID             int64             `json:"id"`
	SourceID       string            `json:"source_id"`
	SourceType     string            `json:"source_type"`
	TargetID       string            `json:"target_id"`
	TargetType     string            `json:"target_type"`
	Confidence     float64           `json:"confidence"`
	MappingSource  string            `json:"mapping_source"`
	IsDerived      bool              `json:"is_derived,omitempty"`
	DerivationPath []int64           `json:"derivation_path,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastUpdated    time.Time         `json:"last_updated"`
	ExpiresAt      time.Time         `json:"expires_at"`
	UsageCount     int               `json:"usage_count"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Key returns the unique quad identifying this mapping.
func (m *EntityMapping) Key() MappingKey {
	return MappingKey{
		SourceID:   m.SourceID,
		SourceType: m.SourceType,
		TargetID:   m.TargetID,
		TargetType: m.TargetType,
	}
}

// Validate checks invariants that must hold before the row is persisted.
func (m *EntityMapping) Validate() error {
	if m.SourceID == "" || m.SourceType == "" {
		return fmt.Errorf("source_id and source_type are required")
	}
	if m.TargetID == "" || m.TargetType == "" {
		return fmt.Errorf("target_id and target_type are required")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1] (got %g)", m.Confidence)
	}
	if m.IsDerived != (len(m.DerivationPath) > 0) {
		return fmt.Errorf("is_derived must match presence of derivation_path")
	}
	return nil
}

// MappingKey is the unique (source_id, source_type, target_id, target_type)
// quad. Usable as a map key for deduplication.
type MappingKey struct {
	SourceID   string
	SourceType string
	TargetID   string
	TargetType string
}

// Reversed returns the key with source and target roles swapped.
func (k MappingKey) Reversed() MappingKey {
	return MappingKey{
		SourceID:   k.TargetID,
		SourceType: k.TargetType,
		TargetID:   k.SourceID,
		TargetType: k.SourceType,
	}
}

// EntityRef names one endpoint of a mapping.
type EntityRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// MappingResult is the value returned to callers by lookups, adapters and
// the dispatcher. TargetID is empty when a resource answered but found no
// mapping. Metadata carries provenance strings only (resource name, timing,
// cache-hit flag, derivation path); machine-consumed fields have their own
// slots.
type MappingResult struct {
	SourceID      string            `json:"source_id"`
	TargetID      string            `json:"target_id,omitempty"`
	TargetType    string            `json:"target_type"`
	Confidence    float64           `json:"confidence"`
	MappingSource string            `json:"mapping_source,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SetMeta assigns a metadata key, allocating the map on first use.
func (r *MappingResult) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// ClampConfidence forces a score into [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ConfidenceFromLabel maps the categorical confidence vocabulary used by
// LLM responses to numeric scores. This is the single canonical table;
// unknown labels map to 0.
func ConfidenceFromLabel(label string) float64 {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "high":
		return 0.9
	case "medium":
		return 0.6
	case "low":
		return 0.3
	default:
		return 0.0
	}
}
