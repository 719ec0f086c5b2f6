package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VectorHit is one candidate returned by the vector index.
type VectorHit struct {
	CID   int64   `json:"cid"`
	Score float64 `json:"score"`
}

// VectorSearcher retrieves the top-k nearest compound CIDs for a free-text
// name. Hits below the score threshold are excluded by the implementation.
type VectorSearcher interface {
	Search(ctx context.Context, name string, topK int, threshold float64) ([]VectorHit, error)
}

// qdrantSearcher queries a Qdrant collection over its HTTP API. Embedding of
// the query text happens server-side (Qdrant inference); point IDs are CIDs.
type qdrantSearcher struct {
	baseURL    string
	collection string
	apiKey     string
	client     *http.Client
}

// NewQdrantSearcher builds a VectorSearcher over a Qdrant endpoint.
func NewQdrantSearcher(host string, port int, collection, apiKey string) VectorSearcher {
	return &qdrantSearcher{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		collection: collection,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

type qdrantQuery struct {
	Query          map[string]string `json:"query"`
	Limit          int               `json:"limit"`
	ScoreThreshold float64           `json:"score_threshold"`
}

type qdrantResponse struct {
	Result struct {
		Points []struct {
			ID    int64   `json:"id"`
			Score float64 `json:"score"`
		} `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

func (q *qdrantSearcher) Search(ctx context.Context, name string, topK int, threshold float64) ([]VectorHit, error) {
	payload, err := json.Marshal(qdrantQuery{
		Query:          map[string]string{"text": name},
		Limit:          topK,
		ScoreThreshold: threshold,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", q.baseURL, q.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("vector search: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed qdrantResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("vector search: decode response: %w", err)
	}

	hits := make([]VectorHit, 0, len(parsed.Result.Points))
	for _, p := range parsed.Result.Points {
		hits = append(hits, VectorHit{CID: p.ID, Score: p.Score})
	}
	return hits, nil
}
