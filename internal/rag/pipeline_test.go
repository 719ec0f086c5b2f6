package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper/internal/dispatch"
)

func mapRequest(sourceID, targetType string) dispatch.Request {
	return dispatch.Request{SourceID: sourceID, SourceType: "name", TargetType: targetType}
}

type fakeVector struct {
	hits []VectorHit
	err  error
}

func (f *fakeVector) Search(_ context.Context, _ string, _ int, _ float64) ([]VectorHit, error) {
	return f.hits, f.err
}

type fakeAnnotations struct {
	byCID map[int64]*Annotation
	err   map[int64]error
}

func (f *fakeAnnotations) Fetch(_ context.Context, cid int64) (*Annotation, error) {
	if err, ok := f.err[cid]; ok {
		return nil, err
	}
	ann, ok := f.byCID[cid]
	if !ok {
		return nil, fmt.Errorf("no annotation for CID %d", cid)
	}
	return ann, nil
}

type fakeArbiter struct {
	verdict *Arbitration
	err     error
	seen    []*Annotation
}

func (f *fakeArbiter) Arbitrate(_ context.Context, _ string, candidates []*Annotation) (*Arbitration, error) {
	f.seen = candidates
	return f.verdict, f.err
}

func validConfig() Config {
	return Config{
		VectorHost:       "localhost",
		VectorCollection: "compounds",
		LLMAPIKey:        "test-key",
	}
}

func newTestPipeline(t *testing.T, v VectorSearcher, a AnnotationClient, llm Arbiter) *Pipeline {
	t.Helper()
	p, err := New(validConfig(), v, a, llm)
	require.NoError(t, err)
	return p
}

func cidPtr(v int64) *int64 { return &v }

func TestMapNameSuccess(t *testing.T) {
	vector := &fakeVector{hits: []VectorHit{{CID: 5793, Score: 0.95}, {CID: 107526, Score: 0.88}}}
	annots := &fakeAnnotations{byCID: map[int64]*Annotation{
		5793:   {CID: 5793, Title: "Glucose"},
		107526: {CID: 107526, Title: "beta-D-Glucopyranose"},
	}}
	arbiter := &fakeArbiter{verdict: &Arbitration{
		SelectedCID: cidPtr(5793),
		Confidence:  0.9,
		Rationale:   "Direct title match",
	}}

	p := newTestPipeline(t, vector, annots, arbiter)
	res, err := p.MapName(context.Background(), "glucose")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	require.NotNil(t, res.SelectedCID)
	assert.Equal(t, int64(5793), *res.SelectedCID)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, "Direct title match", res.Rationale)
	assert.Len(t, arbiter.seen, 2)

	// Each stage records its latency.
	assert.Contains(t, res.Details, "vector_ms")
	assert.Contains(t, res.Details, "annotation_ms")
	assert.Contains(t, res.Details, "llm_ms")
}

func TestMapNameLLMNoMatch(t *testing.T) {
	vector := &fakeVector{hits: []VectorHit{{CID: 111, Score: 0.45}, {CID: 222, Score: 0.42}}}
	annots := &fakeAnnotations{byCID: map[int64]*Annotation{
		111: {CID: 111, Title: "Unrelated A"},
		222: {CID: 222, Title: "Unrelated B"},
	}}
	arbiter := &fakeArbiter{verdict: &Arbitration{
		SelectedCID: nil,
		Confidence:  0,
		Rationale:   "No candidate matches the query name",
	}}

	p := newTestPipeline(t, vector, annots, arbiter)
	res, err := p.MapName(context.Background(), "obscurine")
	require.NoError(t, err)

	assert.Equal(t, StatusLLMNoMatch, res.Status)
	assert.Nil(t, res.SelectedCID)
	assert.Equal(t, "No candidate matches the query name", res.Rationale)
}

func TestMapNameNoVectorHits(t *testing.T) {
	p := newTestPipeline(t, &fakeVector{}, &fakeAnnotations{}, &fakeArbiter{})
	res, err := p.MapName(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, StatusNoVectorHits, res.Status)
}

func TestMapNameInsufficientAnnotations(t *testing.T) {
	vector := &fakeVector{hits: []VectorHit{{CID: 1, Score: 0.9}}}
	annots := &fakeAnnotations{err: map[int64]error{1: errors.New("fetch failed")}}

	p := newTestPipeline(t, vector, annots, &fakeArbiter{})
	res, err := p.MapName(context.Background(), "glucose")
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientAnnotations, res.Status)
}

func TestMapNamePartialSuccess(t *testing.T) {
	// One of two annotation fetches fails; the verdict stands on partial
	// evidence.
	vector := &fakeVector{hits: []VectorHit{{CID: 1, Score: 0.9}, {CID: 2, Score: 0.8}}}
	annots := &fakeAnnotations{
		byCID: map[int64]*Annotation{1: {CID: 1, Title: "Glucose"}},
		err:   map[int64]error{2: errors.New("fetch failed")},
	}
	arbiter := &fakeArbiter{verdict: &Arbitration{SelectedCID: cidPtr(1), Confidence: 0.6}}

	p := newTestPipeline(t, vector, annots, arbiter)
	res, err := p.MapName(context.Background(), "glucose")
	require.NoError(t, err)

	assert.Equal(t, StatusPartialSuccess, res.Status)
	require.NotNil(t, res.SelectedCID)
	assert.Equal(t, int64(1), *res.SelectedCID)
	assert.Len(t, arbiter.seen, 1)
}

func TestMapNameComponentErrors(t *testing.T) {
	t.Run("vector", func(t *testing.T) {
		p := newTestPipeline(t, &fakeVector{err: errors.New("connection refused")}, &fakeAnnotations{}, &fakeArbiter{})
		res, err := p.MapName(context.Background(), "glucose")
		require.Error(t, err)
		assert.Equal(t, StatusComponentErrorVector, res.Status)
		assert.Contains(t, res.Error, "connection refused")
	})

	t.Run("llm", func(t *testing.T) {
		vector := &fakeVector{hits: []VectorHit{{CID: 1, Score: 0.9}}}
		annots := &fakeAnnotations{byCID: map[int64]*Annotation{1: {CID: 1, Title: "Glucose"}}}
		p := newTestPipeline(t, vector, annots, &fakeArbiter{err: errors.New("api unavailable")})
		res, err := p.MapName(context.Background(), "glucose")
		require.Error(t, err)
		assert.Equal(t, StatusComponentErrorLLM, res.Status)
	})
}

func TestBatchMapNames(t *testing.T) {
	vector := &fakeVector{hits: []VectorHit{{CID: 5793, Score: 0.95}}}
	annots := &fakeAnnotations{byCID: map[int64]*Annotation{5793: {CID: 5793, Title: "Glucose"}}}
	arbiter := &fakeArbiter{verdict: &Arbitration{SelectedCID: cidPtr(5793), Confidence: 0.9}}

	p := newTestPipeline(t, vector, annots, arbiter)
	report, err := p.BatchMapNames(context.Background(), []string{"glucose", "dextrose", "grape sugar"})
	require.NoError(t, err)

	assert.Len(t, report.Results, 3)
	assert.Equal(t, 1.0, report.SuccessRate)
	for _, r := range report.Results {
		assert.Equal(t, StatusSuccess, r.Status)
	}
}

func TestBatchMapNamesMixedOutcomes(t *testing.T) {
	vector := &fakeVector{hits: []VectorHit{{CID: 1, Score: 0.9}}}
	annots := &fakeAnnotations{byCID: map[int64]*Annotation{1: {CID: 1, Title: "Glucose"}}}
	arbiter := &fakeArbiter{verdict: &Arbitration{SelectedCID: nil, Rationale: "no match"}}

	p := newTestPipeline(t, vector, annots, arbiter)
	report, err := p.BatchMapNames(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, 0.0, report.SuccessRate)
	assert.Equal(t, StatusLLMNoMatch, report.Results[0].Status)
}

func TestBatchMapNamesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, &fakeVector{}, &fakeAnnotations{}, &fakeArbiter{})
	report, err := p.BatchMapNames(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
}

func TestConfigDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.normalize())

	assert.Equal(t, DefaultTopK, cfg.VectorTopK)
	assert.Equal(t, DefaultScoreThreshold, cfg.VectorScoreThreshold)
	assert.Equal(t, DefaultMaxConcurrent, cfg.AnnotationMaxConcurrent)
	assert.Equal(t, DefaultMaxTokens, cfg.LLMMaxTokens)
	assert.Equal(t, DefaultTemperature, cfg.LLMTemperature)
}

func TestConfigErrors(t *testing.T) {
	// The env var would otherwise satisfy the llm_api_key requirement.
	t.Setenv("ANTHROPIC_API_KEY", "")

	cases := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"missing vector host", func(c *Config) { c.VectorHost = "" }, "vector_host"},
		{"missing collection", func(c *Config) { c.VectorCollection = "" }, "vector_collection"},
		{"missing llm key", func(c *Config) { c.LLMAPIKey = "" }, "llm_api_key"},
		{"bad threshold", func(c *Config) { c.VectorScoreThreshold = 1.5 }, "vector_score_threshold"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			_, err := New(cfg, &fakeVector{}, &fakeAnnotations{}, &fakeArbiter{})
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.key, cfgErr.Key)
		})
	}
}

func TestAdapterMapEntity(t *testing.T) {
	vector := &fakeVector{hits: []VectorHit{{CID: 5793, Score: 0.95}}}
	annots := &fakeAnnotations{byCID: map[int64]*Annotation{5793: {CID: 5793, Title: "Glucose"}}}
	arbiter := &fakeArbiter{verdict: &Arbitration{SelectedCID: cidPtr(5793), Confidence: 0.9, Rationale: "match"}}

	adapter := NewAdapter("", newTestPipeline(t, vector, annots, arbiter))
	assert.Equal(t, "rag", adapter.Name())

	res, err := adapter.MapEntity(context.Background(), mapRequest("glucose", "pubchem"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "5793", res.TargetID)
	assert.Equal(t, "rag:rag", res.MappingSource)
	assert.Equal(t, "SUCCESS", res.Metadata["status"])
	assert.Equal(t, "match", res.Metadata["rationale"])
}

func TestAdapterMapEntityNoMatch(t *testing.T) {
	arbiter := &fakeArbiter{verdict: &Arbitration{SelectedCID: nil}}
	vector := &fakeVector{hits: []VectorHit{{CID: 1, Score: 0.9}}}
	annots := &fakeAnnotations{byCID: map[int64]*Annotation{1: {CID: 1, Title: "X"}}}

	adapter := NewAdapter("", newTestPipeline(t, vector, annots, arbiter))
	res, err := adapter.MapEntity(context.Background(), mapRequest("mystery", "pubchem"))
	require.NoError(t, err)
	assert.Nil(t, res)
}
