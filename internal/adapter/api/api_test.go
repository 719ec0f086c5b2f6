package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arpanauts/biomapper/internal/dispatch"
)

func testConfig(baseURL string) Config {
	return Config{
		Name:         "unichem",
		BaseURL:      baseURL,
		PathTemplate: "/map/{source_type}/{target_type}/{source_id}",
		ResultField:  "target_id",
		Confidence:   0.8,
	}
}

func request() dispatch.Request {
	return dispatch.Request{SourceID: "CHEBI:15365", SourceType: "chebi", TargetType: "pubchem"}
}

func TestMapEntitySuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"target_id": "2244", "score": 1.0}`))
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	res, err := a.MapEntity(context.Background(), request())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "/map/chebi/pubchem/CHEBI:15365", gotPath)
	assert.Equal(t, "2244", res.TargetID)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Equal(t, "api:unichem", res.MappingSource)
}

func TestMapEntityArrayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"target_id": 2244}, {"target_id": 9999}]`))
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	res, err := a.MapEntity(context.Background(), request())
	require.NoError(t, err)
	require.NotNil(t, res)
	// First element wins; numbers are stringified.
	assert.Equal(t, "2244", res.TargetID)
}

func TestMapEntityNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	res, err := a.MapEntity(context.Background(), request())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMapEntityMissingFieldIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"other": "value"}`))
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	res, err := a.MapEntity(context.Background(), request())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestMapEntityRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"target_id": "2244"}`))
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	res, err := a.MapEntity(context.Background(), request())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMapEntityClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = a.MapEntity(context.Background(), request())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMapEntitySendsHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"target_id": "x"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Headers = map[string]string{"Authorization": "Bearer tok"}
	a, err := New(cfg)
	require.NoError(t, err)

	_, err = a.MapEntity(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"name", func(c *Config) { c.Name = "" }},
		{"base url", func(c *Config) { c.BaseURL = "" }},
		{"path template", func(c *Config) { c.PathTemplate = "" }},
		{"result field", func(c *Config) { c.ResultField = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig("http://example.invalid")
			tc.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}
