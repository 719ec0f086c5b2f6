package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arpanauts/biomapper/internal/dispatch"
	"github.com/arpanauts/biomapper/internal/types"
)

// DefaultAdapterName is the resource name the pipeline registers under.
const DefaultAdapterName = "rag"

// Adapter exposes the pipeline as a dispatch resource mapping free-text
// names to PubChem CIDs.
type Adapter struct {
	name     string
	pipeline *Pipeline
}

var _ dispatch.Adapter = (*Adapter)(nil)

// NewAdapter wraps a pipeline. An empty name uses DefaultAdapterName.
func NewAdapter(name string, pipeline *Pipeline) *Adapter {
	if name == "" {
		name = DefaultAdapterName
	}
	return &Adapter{name: name, pipeline: pipeline}
}

// Name implements dispatch.Adapter.
func (a *Adapter) Name() string { return a.name }

// MapEntity treats the source ID as the name to resolve. Terminal no-match
// statuses map to (nil, nil); component failures surface as errors so the
// dispatcher can fall back.
func (a *Adapter) MapEntity(ctx context.Context, req dispatch.Request) (*types.MappingResult, error) {
	res, err := a.pipeline.MapName(ctx, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("rag pipeline (%s): %w", res.Status, err)
	}
	if !res.Status.Mapped() || res.SelectedCID == nil {
		return nil, nil
	}
	if req.MinConfidence > 0 && res.Confidence < req.MinConfidence {
		return nil, nil
	}

	out := &types.MappingResult{
		SourceID:      req.SourceID,
		TargetID:      strconv.FormatInt(*res.SelectedCID, 10),
		TargetType:    req.TargetType,
		Confidence:    res.Confidence,
		MappingSource: "rag:" + a.name,
	}
	out.SetMeta("status", string(res.Status))
	if res.Rationale != "" {
		out.SetMeta("rationale", res.Rationale)
	}
	return out, nil
}
