package strategy

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arpanauts/biomapper/internal/dispatch"
	"github.com/arpanauts/biomapper/internal/types"
)

// MapEntitiesAction maps the current identifiers to a target ontology through
// the dispatcher. Recognized params:
//
//	target_type (string, required): ontology to map into
//	resource (string):              pin to one resource
//	min_confidence (number):        confidence floor
//
// Unmapped identifiers are dropped; the mapping results are stored in the
// execution context under "mapped:<target_type>".
type MapEntitiesAction struct {
	dispatcher *dispatch.Dispatcher
}

// NewMapEntitiesAction wires the action to a dispatcher.
func NewMapEntitiesAction(d *dispatch.Dispatcher) *MapEntitiesAction {
	return &MapEntitiesAction{dispatcher: d}
}

// Execute implements Action.
func (a *MapEntitiesAction) Execute(ctx context.Context, in ActionInput) (*StepResult, error) {
	targetType, _ := in.Params["target_type"].(string)
	if targetType == "" {
		return nil, fmt.Errorf("map_entities: target_type param is required")
	}

	opts := dispatch.MapOptions{}
	if resource, ok := in.Params["resource"].(string); ok {
		opts.ResourceName = resource
	}
	if min, ok := in.Params["min_confidence"].(float64); ok {
		opts.MinConfidence = min
	}

	entities := make([]types.EntityRef, len(in.Identifiers))
	for i, id := range in.Identifiers {
		entities[i] = types.EntityRef{ID: id, Type: in.OntologyType}
	}

	batch, err := a.dispatcher.BatchMapEntities(ctx, entities, targetType, opts)
	if err != nil {
		return nil, err
	}

	var mapped []string
	var results []*types.MappingResult
	failed := 0
	for _, item := range batch {
		if item.Err != nil || item.Result == nil {
			failed++
			continue
		}
		mapped = append(mapped, item.Result.TargetID)
		results = append(results, item.Result)
	}
	in.Context.Set("mapped:"+targetType, results)

	return &StepResult{
		Identifiers:  mapped,
		OntologyType: targetType,
		Details: map[string]string{
			"input":    strconv.Itoa(len(in.Identifiers)),
			"mapped":   strconv.Itoa(len(mapped)),
			"unmapped": strconv.Itoa(failed),
		},
	}, nil
}

// RegisterBuiltins populates the registry with the stock actions.
func RegisterBuiltins(reg *Registry, d *dispatch.Dispatcher) {
	reg.Register("map_entities", NewMapEntitiesAction(d))
}
