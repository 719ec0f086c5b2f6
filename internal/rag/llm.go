package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/arpanauts/biomapper/internal/telemetry"
	"github.com/arpanauts/biomapper/internal/types"
)

const (
	llmMaxRetries     = 3
	llmInitialBackoff = 1 * time.Second
)

// Arbitration is the LLM's verdict over the candidate set. A nil SelectedCID
// means the model judged that none of the candidates match.
type Arbitration struct {
	SelectedCID *int64
	Confidence  float64
	Rationale   string
}

// Arbiter picks the best candidate CID for a name, or none.
type Arbiter interface {
	Arbitrate(ctx context.Context, name string, candidates []*Annotation) (*Arbitration, error)
}

const arbitrationPromptTemplate = `You are matching a biochemical name to PubChem compounds.

Name to match: {{.Name}}

Candidates:
{{range .Candidates}}- CID {{.CID}}: title={{.Title}}{{if .IUPACName}}, iupac={{.IUPACName}}{{end}}{{if .Formula}}, formula={{.Formula}}{{end}}
{{end}}
Respond with JSON only, no prose:
{"selected_cid": <int or null>, "confidence": <number 0-1 or "high"/"medium"/"low"/"none">, "rationale": "<one sentence>"}
Select null if no candidate is the same compound as the name.`

// anthropicArbiter calls the Anthropic Messages API with retry on transient
// failures.
type anthropicArbiter struct {
	client         anthropic.Client
	model          anthropic.Model
	maxTokens      int64
	temperature    float64
	promptTemplate *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// NewAnthropicArbiter builds the production Arbiter from the pipeline config.
func NewAnthropicArbiter(cfg Config) (Arbiter, error) {
	if cfg.LLMAPIKey == "" {
		return nil, &ConfigError{Key: "llm_api_key", Reason: "required"}
	}
	model := cfg.LLMModelName
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	tmpl, err := template.New("arbitration").Parse(arbitrationPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse arbitration template: %w", err)
	}

	llmMetricsOnce.Do(initLLMMetrics)

	return &anthropicArbiter{
		client:         anthropic.NewClient(option.WithAPIKey(cfg.LLMAPIKey)),
		model:          anthropic.Model(model),
		maxTokens:      int64(cfg.LLMMaxTokens),
		temperature:    cfg.LLMTemperature,
		promptTemplate: tmpl,
		maxRetries:     llmMaxRetries,
		initialBackoff: llmInitialBackoff,
	}, nil
}

// llmMetrics holds lazily-initialized OTel instruments for arbitration calls.
var llmMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var llmMetricsOnce sync.Once

func initLLMMetrics() {
	m := telemetry.Meter("github.com/arpanauts/biomapper/rag")
	llmMetrics.inputTokens, _ = m.Int64Counter("biomapper.rag.llm.input_tokens",
		metric.WithDescription("Arbitration input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	llmMetrics.outputTokens, _ = m.Int64Counter("biomapper.rag.llm.output_tokens",
		metric.WithDescription("Arbitration output tokens generated"),
		metric.WithUnit("{token}"),
	)
	llmMetrics.duration, _ = m.Float64Histogram("biomapper.rag.llm.request.duration",
		metric.WithDescription("Arbitration request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func (a *anthropicArbiter) Arbitrate(ctx context.Context, name string, candidates []*Annotation) (*Arbitration, error) {
	var sb strings.Builder
	err := a.promptTemplate.Execute(&sb, struct {
		Name       string
		Candidates []*Annotation
	}{Name: name, Candidates: candidates})
	if err != nil {
		return nil, fmt.Errorf("render arbitration prompt: %w", err)
	}

	raw, err := a.callWithRetry(ctx, sb.String())
	if err != nil {
		return nil, err
	}
	return parseArbitration(raw)
}

func (a *anthropicArbiter) callWithRetry(ctx context.Context, prompt string) (string, error) {
	tracer := telemetry.Tracer("github.com/arpanauts/biomapper/rag")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("biomapper.llm.model", string(a.model)),
		attribute.String("biomapper.llm.operation", "arbitrate"),
	)

	params := anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := a.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		t0 := time.Now()
		message, err := a.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())

		if err == nil {
			modelAttr := attribute.String("biomapper.llm.model", string(a.model))
			if llmMetrics.inputTokens != nil {
				llmMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
				llmMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
				llmMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
			}
			span.SetAttributes(attribute.Int("biomapper.llm.attempts", attempt+1))

			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryableLLMError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
	}
	return "", fmt.Errorf("failed after %d retries: %w", a.maxRetries+1, lastErr)
}

func isRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// rawArbitration mirrors the wire format. selected_cid may be null and
// confidence may be a number or a categorical label.
type rawArbitration struct {
	SelectedCID *int64          `json:"selected_cid"`
	Confidence  json.RawMessage `json:"confidence"`
	Rationale   string          `json:"rationale"`
}

// parseArbitration decodes the model's JSON verdict, tolerating a fenced
// code block around it.
func parseArbitration(raw string) (*Arbitration, error) {
	cleaned := stripCodeFence(raw)

	var parsed rawArbitration
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("parse arbitration response: %w", err)
	}

	out := &Arbitration{
		SelectedCID: parsed.SelectedCID,
		Rationale:   parsed.Rationale,
	}
	if len(parsed.Confidence) > 0 {
		var num float64
		if err := json.Unmarshal(parsed.Confidence, &num); err == nil {
			out.Confidence = types.ClampConfidence(num)
		} else {
			var label string
			if err := json.Unmarshal(parsed.Confidence, &label); err != nil {
				return nil, fmt.Errorf("parse arbitration confidence: %w", err)
			}
			out.Confidence = types.ConfidenceFromLabel(label)
		}
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
