package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/arpanauts/biomapper/internal/registry"
	"github.com/arpanauts/biomapper/internal/types"
)

// reserved attributes never treated as ontology properties.
var reservedAttrs = map[string]bool{
	"_key": true, "_id": true, "_rev": true,
	"_from": true, "_to": true,
	"name": true, "label": true, "description": true,
}

// DiscoverCapabilities samples the node collection, treats every non-reserved
// string attribute as an ontology type, and registers one capability per
// ordered type pair. Run once at startup; re-running replaces the entries.
func (a *Adapter) DiscoverCapabilities(ctx context.Context, reg *registry.Registry) ([]types.ResourceCapability, error) {
	ontologies, err := a.sampleOntologies(ctx)
	if err != nil {
		return nil, err
	}

	var caps []types.ResourceCapability
	for _, src := range ontologies {
		for _, tgt := range ontologies {
			if src == tgt {
				continue
			}
			cap := types.ResourceCapability{
				Name:       types.CapabilityName(src, tgt),
				Confidence: a.cfg.Confidence,
			}
			reg.RegisterCapability(a.cfg.Name, cap)
			caps = append(caps, cap)
		}
	}
	return caps, nil
}

// sampleOntologies scans up to SampleSize nodes and returns the distinct
// ontology attribute names found, sorted.
func (a *Adapter) sampleOntologies(ctx context.Context) ([]string, error) {
	rows, err := a.querier.Query(ctx, `
		FOR n IN @@nodes
			LIMIT @limit
			RETURN { attrs: ATTRIBUTES(n, true) }`,
		map[string]interface{}{
			"@nodes": a.cfg.NodeCollection,
			"limit":  a.cfg.SampleSize,
		})
	if err != nil {
		return nil, fmt.Errorf("graph schema scan: %w", err)
	}

	seen := make(map[string]bool)
	for _, row := range rows {
		attrs, ok := row["attrs"].([]interface{})
		if !ok {
			continue
		}
		for _, raw := range attrs {
			attr, ok := raw.(string)
			if !ok {
				continue
			}
			if reservedAttrs[strings.ToLower(attr)] {
				continue
			}
			seen[attr] = true
		}
	}

	out := make([]string, 0, len(seen))
	for attr := range seen {
		out = append(out, attr)
	}
	sort.Strings(out)
	return out, nil
}
