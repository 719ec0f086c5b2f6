package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Annotation is the structured record fetched for one candidate CID.
type Annotation struct {
	CID         int64    `json:"cid"`
	Title       string   `json:"title"`
	IUPACName   string   `json:"iupac_name,omitempty"`
	Formula     string   `json:"molecular_formula,omitempty"`
	Synonyms    []string `json:"synonyms,omitempty"`
	Description string   `json:"description,omitempty"`
}

// AnnotationClient fetches the annotation for a single CID.
type AnnotationClient interface {
	Fetch(ctx context.Context, cid int64) (*Annotation, error)
}

// subBatchSize bounds how many CIDs are in flight per wave; within a wave
// the semaphore caps concurrency.
const subBatchSize = 20

// fetchAnnotations fans out over the CIDs with bounded concurrency. CIDs
// whose fetch fails are skipped; the caller decides whether the survivors
// are enough. Results come back in CID order of the input.
func fetchAnnotations(ctx context.Context, client AnnotationClient, cids []int64, maxConcurrent int) []*Annotation {
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	byCID := make(map[int64]*Annotation, len(cids))
	var mu sync.Mutex

	for start := 0; start < len(cids); start += subBatchSize {
		end := start + subBatchSize
		if end > len(cids) {
			end = len(cids)
		}

		var wg sync.WaitGroup
		for _, cid := range cids[start:end] {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(cid int64) {
				defer wg.Done()
				defer sem.Release(1)
				ann, err := client.Fetch(ctx, cid)
				if err != nil {
					log.Printf("rag: annotation fetch for CID %d failed: %v", cid, err)
					return
				}
				mu.Lock()
				byCID[cid] = ann
				mu.Unlock()
			}(cid)
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	out := make([]*Annotation, 0, len(byCID))
	for _, cid := range cids {
		if ann, ok := byCID[cid]; ok {
			out = append(out, ann)
		}
	}
	return out
}

// pubchemClient fetches annotations from the PubChem PUG REST API.
type pubchemClient struct {
	baseURL string
	client  *http.Client
}

// NewPubChemClient builds an AnnotationClient over PubChem PUG REST.
// An empty baseURL uses the public endpoint.
func NewPubChemClient(baseURL string) AnnotationClient {
	if baseURL == "" {
		baseURL = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"
	}
	return &pubchemClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type pubchemProperties struct {
	PropertyTable struct {
		Properties []struct {
			CID              int64  `json:"CID"`
			Title            string `json:"Title"`
			IUPACName        string `json:"IUPACName"`
			MolecularFormula string `json:"MolecularFormula"`
		} `json:"Properties"`
	} `json:"PropertyTable"`
}

func (p *pubchemClient) Fetch(ctx context.Context, cid int64) (*Annotation, error) {
	url := fmt.Sprintf("%s/compound/cid/%d/property/Title,IUPACName,MolecularFormula/JSON", p.baseURL, cid)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			return err
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("pubchem returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("pubchem returned status %d", resp.StatusCode))
		}
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	var parsed pubchemProperties
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("pubchem: decode properties for CID %d: %w", cid, err)
	}
	if len(parsed.PropertyTable.Properties) == 0 {
		return nil, fmt.Errorf("pubchem: no properties for CID %d", cid)
	}

	prop := parsed.PropertyTable.Properties[0]
	return &Annotation{
		CID:       prop.CID,
		Title:     prop.Title,
		IUPACName: prop.IUPACName,
		Formula:   prop.MolecularFormula,
	}, nil
}
