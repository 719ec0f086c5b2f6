// Package graph exposes a knowledge graph (ArangoDB) as a dispatch resource.
// Nodes carry one property per ontology; a mapping request either reads the
// target property directly off the source node or hops one capability-defined
// relationship to a neighbor that carries it.
package graph

import (
	"context"
	"fmt"

	"github.com/arpanauts/biomapper/internal/dispatch"
	"github.com/arpanauts/biomapper/internal/types"
)

// DefaultName is the resource name the graph registers under.
const DefaultName = "graph"

// Querier runs one AQL query and returns the result rows. The production
// implementation wraps an ArangoDB database; tests substitute a fake.
type Querier interface {
	Query(ctx context.Context, aql string, bindVars map[string]interface{}) ([]map[string]interface{}, error)
}

// Config describes the graph layout the adapter operates on.
type Config struct {
	Name           string  `json:"name" yaml:"name" mapstructure:"name"`
	NodeCollection string  `json:"node_collection" yaml:"node_collection" mapstructure:"node_collection"`
	EdgeCollection string  `json:"edge_collection" yaml:"edge_collection" mapstructure:"edge_collection"`
	Confidence     float64 `json:"confidence" yaml:"confidence" mapstructure:"confidence"`
	// SampleSize bounds the schema-analysis scan. Zero means 100.
	SampleSize int `json:"sample_size" yaml:"sample_size" mapstructure:"sample_size"`
}

// Adapter implements dispatch.Adapter over a Querier.
type Adapter struct {
	cfg     Config
	querier Querier
}

var _ dispatch.Adapter = (*Adapter)(nil)

// New creates a graph adapter. An empty name uses DefaultName.
func New(cfg Config, q Querier) (*Adapter, error) {
	if cfg.NodeCollection == "" {
		return nil, fmt.Errorf("graph adapter: node_collection is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Confidence <= 0 || cfg.Confidence > 1 {
		cfg.Confidence = 0.85
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	return &Adapter{cfg: cfg, querier: q}, nil
}

// Name implements dispatch.Adapter.
func (a *Adapter) Name() string { return a.cfg.Name }

// MapEntity looks up the source node by its ontology property and reads the
// target property, falling back to a one-hop traversal when the node does
// not carry the target ontology itself.
func (a *Adapter) MapEntity(ctx context.Context, req dispatch.Request) (*types.MappingResult, error) {
	target, err := a.directLookup(ctx, req)
	if err != nil {
		return nil, err
	}
	hopped := false
	if target == "" && a.cfg.EdgeCollection != "" {
		target, err = a.traversalLookup(ctx, req)
		if err != nil {
			return nil, err
		}
		hopped = true
	}
	if target == "" {
		return nil, nil
	}

	res := &types.MappingResult{
		SourceID:      req.SourceID,
		TargetID:      target,
		TargetType:    req.TargetType,
		Confidence:    a.cfg.Confidence,
		MappingSource: "graph:" + a.cfg.Name,
	}
	if hopped {
		res.SetMeta("traversal", types.CapabilityName(req.SourceType, req.TargetType))
	}
	return res, nil
}

func (a *Adapter) directLookup(ctx context.Context, req dispatch.Request) (string, error) {
	rows, err := a.querier.Query(ctx, `
		FOR n IN @@nodes
			FILTER n.@src == @id AND n.@tgt != null
			LIMIT 1
			RETURN { value: n.@tgt }`,
		map[string]interface{}{
			"@nodes": a.cfg.NodeCollection,
			"src":    req.SourceType,
			"tgt":    req.TargetType,
			"id":     req.SourceID,
		})
	if err != nil {
		return "", fmt.Errorf("graph direct lookup: %w", err)
	}
	return firstValue(rows), nil
}

func (a *Adapter) traversalLookup(ctx context.Context, req dispatch.Request) (string, error) {
	rows, err := a.querier.Query(ctx, `
		FOR n IN @@nodes
			FILTER n.@src == @id
			LIMIT 1
			FOR v IN 1..1 ANY n @@edges
				FILTER v.@tgt != null
				LIMIT 1
				RETURN { value: v.@tgt }`,
		map[string]interface{}{
			"@nodes": a.cfg.NodeCollection,
			"@edges": a.cfg.EdgeCollection,
			"src":    req.SourceType,
			"tgt":    req.TargetType,
			"id":     req.SourceID,
		})
	if err != nil {
		return "", fmt.Errorf("graph traversal lookup: %w", err)
	}
	return firstValue(rows), nil
}

func firstValue(rows []map[string]interface{}) string {
	if len(rows) == 0 {
		return ""
	}
	switch v := rows[0]["value"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
