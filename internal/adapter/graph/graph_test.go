package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper/internal/dispatch"
	"github.com/arpanauts/biomapper/internal/registry"
)

// fakeQuerier answers queries by substring match on the AQL text.
type fakeQuerier struct {
	direct    []map[string]interface{}
	traversal []map[string]interface{}
	attrs     []map[string]interface{}
	calls     []string
}

func (f *fakeQuerier) Query(_ context.Context, aql string, _ map[string]interface{}) ([]map[string]interface{}, error) {
	f.calls = append(f.calls, aql)
	switch {
	case strings.Contains(aql, "ATTRIBUTES"):
		return f.attrs, nil
	case strings.Contains(aql, "ANY n"):
		return f.traversal, nil
	default:
		return f.direct, nil
	}
}

func newTestAdapter(t *testing.T, q Querier) *Adapter {
	t.Helper()
	a, err := New(Config{NodeCollection: "nodes", EdgeCollection: "edges", Confidence: 0.85}, q)
	require.NoError(t, err)
	return a
}

func TestMapEntityDirectProperty(t *testing.T) {
	q := &fakeQuerier{direct: []map[string]interface{}{{"value": "CHEBI:15365"}}}
	a := newTestAdapter(t, q)

	res, err := a.MapEntity(context.Background(), dispatch.Request{
		SourceID: "2244", SourceType: "pubchem", TargetType: "chebi",
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "CHEBI:15365", res.TargetID)
	assert.Equal(t, "chebi", res.TargetType)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, "graph:graph", res.MappingSource)
	assert.Empty(t, res.Metadata["traversal"])
	assert.Len(t, q.calls, 1)
}

func TestMapEntityTraversalFallback(t *testing.T) {
	q := &fakeQuerier{traversal: []map[string]interface{}{{"value": "P35354"}}}
	a := newTestAdapter(t, q)

	res, err := a.MapEntity(context.Background(), dispatch.Request{
		SourceID: "2244", SourceType: "pubchem", TargetType: "uniprot",
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "P35354", res.TargetID)
	assert.Equal(t, "pubchem_to_uniprot", res.Metadata["traversal"])
	assert.Len(t, q.calls, 2)
}

func TestMapEntityNotFound(t *testing.T) {
	a := newTestAdapter(t, &fakeQuerier{})

	res, err := a.MapEntity(context.Background(), dispatch.Request{
		SourceID: "nope", SourceType: "pubchem", TargetType: "chebi",
	})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMapEntityNumericValue(t *testing.T) {
	// JSON numbers decode as float64; identifiers must come back intact.
	q := &fakeQuerier{direct: []map[string]interface{}{{"value": float64(2244)}}}
	a := newTestAdapter(t, q)

	res, err := a.MapEntity(context.Background(), dispatch.Request{
		SourceID: "CHEBI:15365", SourceType: "chebi", TargetType: "pubchem",
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "2244", res.TargetID)
}

func TestDiscoverCapabilities(t *testing.T) {
	q := &fakeQuerier{attrs: []map[string]interface{}{
		{"attrs": []interface{}{"_key", "name", "chebi", "pubchem"}},
		{"attrs": []interface{}{"_key", "pubchem", "hmdb"}},
	}}
	a := newTestAdapter(t, q)
	reg := registry.New(nil)

	caps, err := a.DiscoverCapabilities(context.Background(), reg)
	require.NoError(t, err)

	// Three ontologies give six ordered pairs.
	assert.Len(t, caps, 6)
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name
	}
	assert.Contains(t, names, "chebi_to_pubchem")
	assert.Contains(t, names, "hmdb_to_chebi")
	assert.NotContains(t, names, "name_to_chebi")

	assert.Equal(t, []string{"graph"}, reg.FindByCapability("pubchem_to_hmdb"))
}

func TestDiscoverCapabilitiesRerunReplaces(t *testing.T) {
	q := &fakeQuerier{attrs: []map[string]interface{}{
		{"attrs": []interface{}{"chebi", "pubchem"}},
	}}
	a := newTestAdapter(t, q)
	reg := registry.New(nil)

	_, err := a.DiscoverCapabilities(context.Background(), reg)
	require.NoError(t, err)
	_, err = a.DiscoverCapabilities(context.Background(), reg)
	require.NoError(t, err)

	assert.Len(t, reg.Capabilities("graph"), 2)
}
