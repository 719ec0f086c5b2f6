package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceType classifies a registered backend.
type ResourceType string

const (
	ResourceCache   ResourceType = "cache"
	ResourceGraph   ResourceType = "graph"
	ResourceAPI     ResourceType = "api"
	ResourceDataset ResourceType = "dataset"
	ResourceOther   ResourceType = "other"
)

// IsValid reports whether t is a known resource type.
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceCache, ResourceGraph, ResourceAPI, ResourceDataset, ResourceOther:
		return true
	}
	return false
}

// SupportLevel describes how completely a resource covers an ontology.
// Ordering: none < partial < full.
type SupportLevel string

const (
	SupportNone    SupportLevel = "none"
	SupportPartial SupportLevel = "partial"
	SupportFull    SupportLevel = "full"
)

// Rank returns the ordinal used for support comparisons.
func (s SupportLevel) Rank() int {
	switch s {
	case SupportPartial:
		return 1
	case SupportFull:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s provides at least the given support level.
func (s SupportLevel) AtLeast(min SupportLevel) bool {
	return s.Rank() >= min.Rank()
}

// OperationStatus is the outcome recorded for a dispatched operation.
type OperationStatus string

const (
	StatusSuccess  OperationStatus = "success"
	StatusError    OperationStatus = "error"
	StatusTimeout  OperationStatus = "timeout"
	StatusNotFound OperationStatus = "not_found"
)

// ResourceMetadata is the registry's record of one backend.
type ResourceMetadata struct {
	Name           string          `json:"resource_name"`
	Type           ResourceType    `json:"resource_type"`
	ConnectionInfo json.RawMessage `json:"connection_info,omitempty"`
	Priority       int             `json:"priority"`
	IsActive       bool            `json:"is_active"`
	LastSync       *time.Time      `json:"last_sync,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks registration invariants.
func (r *ResourceMetadata) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("resource name is required")
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("invalid resource type %q", r.Type)
	}
	return nil
}

// OntologyCoverage records one resource's support for one ontology.
type OntologyCoverage struct {
	ResourceName string       `json:"resource_name"`
	OntologyType string       `json:"ontology_type"`
	Support      SupportLevel `json:"support_level"`
	EntityCount  *int64       `json:"entity_count,omitempty"`
}

// PerformanceMetrics holds the running aggregates for one
// (resource, operation, source_type, target_type) combination.
type PerformanceMetrics struct {
	ResourceName  string  `json:"resource_name"`
	OperationType string  `json:"operation_type"`
	SourceType    string  `json:"source_type,omitempty"`
	TargetType    string  `json:"target_type,omitempty"`
	AvgResponseMS float64 `json:"avg_response_time_ms"`
	SuccessRate   float64 `json:"success_rate"`
	SampleCount   int64   `json:"sample_count"`
}

// OperationLog is one appended record of an individual operation.
type OperationLog struct {
	ID            int64           `json:"id"`
	ResourceName  string          `json:"resource_name"`
	OperationType string          `json:"operation_type"`
	SourceType    string          `json:"source_type,omitempty"`
	TargetType    string          `json:"target_type,omitempty"`
	Query         string          `json:"query,omitempty"`
	ResponseMS    *int64          `json:"response_time_ms,omitempty"`
	Status        OperationStatus `json:"status"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ResourceCapability is a runtime-declared operation a resource claims to
// support, e.g. "chebi_to_pubchem". Not persisted.
type ResourceCapability struct {
	Name       string            `json:"name"`
	Confidence float64           `json:"confidence"`
	Params     map[string]string `json:"params,omitempty"`
}

// CapabilityName builds the canonical <source_type>_to_<target_type> name.
func CapabilityName(sourceType, targetType string) string {
	return sourceType + "_to_" + targetType
}
