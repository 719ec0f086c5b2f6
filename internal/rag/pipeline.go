package rag

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/arpanauts/biomapper/internal/monitor"
)

// Status is the terminal state of one pipeline request. Every request ends
// in exactly one status.
type Status string

const (
	StatusSuccess                 Status = "SUCCESS"
	StatusPartialSuccess          Status = "PARTIAL_SUCCESS"
	StatusNoVectorHits            Status = "NO_VECTOR_HITS"
	StatusInsufficientAnnotations Status = "INSUFFICIENT_ANNOTATIONS"
	StatusLLMNoMatch              Status = "LLM_NO_MATCH"
	StatusComponentErrorVector    Status = "COMPONENT_ERROR_VECTOR"
	StatusComponentErrorAnnot     Status = "COMPONENT_ERROR_ANNOTATION"
	StatusComponentErrorLLM       Status = "COMPONENT_ERROR_LLM"
	StatusConfigError             Status = "CONFIG_ERROR"
	StatusUnknownError            Status = "UNKNOWN_ERROR"
)

// Mapped reports whether the status carries a usable mapping.
func (s Status) Mapped() bool {
	return s == StatusSuccess || s == StatusPartialSuccess
}

// Result is the outcome of mapping one name.
type Result struct {
	Name        string  `json:"name"`
	Status      Status  `json:"status"`
	SelectedCID *int64  `json:"selected_cid,omitempty"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale,omitempty"`
	Error       string  `json:"error,omitempty"`
	// Details carries per-stage diagnostics, including stage latencies in
	// milliseconds under vector_ms, annotation_ms, and llm_ms.
	Details map[string]string `json:"processing_details,omitempty"`
}

func (r *Result) setDetail(key, value string) {
	if r.Details == nil {
		r.Details = make(map[string]string)
	}
	r.Details[key] = value
}

// Pipeline is the three-stage name resolver. Construct with New; all stages
// are pluggable for testing.
type Pipeline struct {
	cfg     Config
	vector  VectorSearcher
	annots  AnnotationClient
	arbiter Arbiter
	mon     *monitor.Monitor
	now     func() time.Time
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithMonitor attaches a monitor for pipeline events.
func WithMonitor(m *monitor.Monitor) Option {
	return func(p *Pipeline) { p.mon = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New validates the config and assembles the pipeline. A ConfigError here is
// fatal; no request should run against a misconfigured pipeline.
func New(cfg Config, vector VectorSearcher, annots AnnotationClient, arbiter Arbiter, opts ...Option) (*Pipeline, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		vector:  vector,
		annots:  annots,
		arbiter: arbiter,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// MapName resolves one biochemical name to a CID. The returned Result always
// carries a terminal status; the error is non-nil only alongside the
// component-error and unknown-error statuses, for callers that propagate.
func (p *Pipeline) MapName(ctx context.Context, name string) (*Result, error) {
	res := &Result{Name: name, Status: StatusUnknownError}

	// Stage 1: vector retrieval.
	t0 := p.now()
	hits, err := p.vector.Search(ctx, name, p.cfg.VectorTopK, p.cfg.VectorScoreThreshold)
	res.setDetail("vector_ms", strconv.FormatInt(p.now().Sub(t0).Milliseconds(), 10))
	if err != nil {
		res.Status = StatusComponentErrorVector
		res.Error = err.Error()
		return res, fmt.Errorf("vector stage: %w", err)
	}
	res.setDetail("vector_hits", strconv.Itoa(len(hits)))
	if len(hits) == 0 {
		res.Status = StatusNoVectorHits
		return res, nil
	}

	// Stage 2: annotation fetch, bounded fan-out. Failed CIDs are dropped.
	cids := make([]int64, len(hits))
	for i, h := range hits {
		cids[i] = h.CID
	}
	t1 := p.now()
	annotations := fetchAnnotations(ctx, p.annots, cids, p.cfg.AnnotationMaxConcurrent)
	res.setDetail("annotation_ms", strconv.FormatInt(p.now().Sub(t1).Milliseconds(), 10))
	res.setDetail("annotations_fetched", strconv.Itoa(len(annotations)))
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Status = StatusComponentErrorAnnot
		res.Error = ctxErr.Error()
		return res, fmt.Errorf("annotation stage: %w", ctxErr)
	}
	if len(annotations) == 0 {
		res.Status = StatusInsufficientAnnotations
		return res, nil
	}

	// Stage 3: LLM arbitration.
	t2 := p.now()
	verdict, err := p.arbiter.Arbitrate(ctx, name, annotations)
	res.setDetail("llm_ms", strconv.FormatInt(p.now().Sub(t2).Milliseconds(), 10))
	if err != nil {
		res.Status = StatusComponentErrorLLM
		res.Error = err.Error()
		return res, fmt.Errorf("llm stage: %w", err)
	}

	res.Rationale = verdict.Rationale
	if verdict.SelectedCID == nil {
		res.Status = StatusLLMNoMatch
		return res, nil
	}

	res.SelectedCID = verdict.SelectedCID
	res.Confidence = verdict.Confidence
	if len(annotations) < len(cids) {
		// Some candidates never reached the arbiter; the verdict stands on
		// partial evidence.
		res.Status = StatusPartialSuccess
	} else {
		res.Status = StatusSuccess
	}

	if p.mon != nil {
		p.mon.Record(ctx, monitor.Event{
			Type:       monitor.EventAPICall,
			EntityType: "name",
			Metadata: map[string]string{
				"resource": "rag",
				"status":   string(res.Status),
			},
		})
	}
	return res, nil
}

// BatchReport aggregates a sequential batch run.
type BatchReport struct {
	Results     []*Result     `json:"results"`
	SuccessRate float64       `json:"success_rate"`
	WallTime    time.Duration `json:"wall_time"`
}

// BatchMapNames maps names sequentially, each under the configured pipeline
// timeout. Per-name failures are recorded in the corresponding Result; only
// cancellation aborts the batch, returning the completed prefix.
func (p *Pipeline) BatchMapNames(ctx context.Context, names []string) (*BatchReport, error) {
	start := p.now()
	report := &BatchReport{Results: make([]*Result, 0, len(names))}
	timeout := time.Duration(p.cfg.PipelineTimeoutSeconds) * time.Second

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			report.WallTime = p.now().Sub(start)
			return report, err
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		res, _ := p.MapName(reqCtx, name)
		cancel()
		report.Results = append(report.Results, res)

		if n := len(report.Results); n%p.cfg.PipelineBatchSize == 0 && n < len(names) {
			log.Printf("rag: batch progress %d/%d", n, len(names))
		}
	}

	report.WallTime = p.now().Sub(start)
	if len(report.Results) > 0 {
		var mapped int
		for _, r := range report.Results {
			if r.Status.Mapped() {
				mapped++
			}
		}
		report.SuccessRate = float64(mapped) / float64(len(report.Results))
	}
	return report, nil
}
