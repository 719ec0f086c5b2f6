// Package api provides a generic REST mapping adapter. A deployment
// registers one instance per remote service (UniChem, PubChem, …) by
// describing the endpoint; no per-service code is needed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/arpanauts/biomapper/internal/dispatch"
	"github.com/arpanauts/biomapper/internal/types"
)

// Config describes one remote mapping endpoint.
type Config struct {
	// Name is the resource name the adapter registers under.
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	// BaseURL is the service root, e.g. "https://www.ebi.ac.uk/unichem".
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	// PathTemplate builds the request path. Placeholders {source_id},
	// {source_type}, {target_type} are substituted per request.
	PathTemplate string `json:"path_template" yaml:"path_template" mapstructure:"path_template"`
	// ResultField is the JSON field holding the mapped identifier in the
	// response body. Nested fields use dots ("results.0.id" is not
	// supported; responses are expected to be flat objects or arrays of
	// flat objects, in which case the first element is used).
	ResultField string `json:"result_field" yaml:"result_field" mapstructure:"result_field"`
	// Confidence assigned to results from this endpoint.
	Confidence float64 `json:"confidence" yaml:"confidence" mapstructure:"confidence"`
	// TimeoutSeconds bounds each HTTP attempt. Zero means 30.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	// MaxRetries bounds retry attempts on 429/5xx. Zero means 3.
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	// Headers are sent verbatim with every request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
}

// Validate checks construction-time invariants.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("api adapter: name is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("api adapter %s: base_url is required", c.Name)
	}
	if c.PathTemplate == "" {
		return fmt.Errorf("api adapter %s: path_template is required", c.Name)
	}
	if c.ResultField == "" {
		return fmt.Errorf("api adapter %s: result_field is required", c.Name)
	}
	return nil
}

// Adapter maps entities by calling a remote REST endpoint, retrying
// transient failures with exponential backoff.
type Adapter struct {
	cfg    Config
	client *http.Client
}

var _ dispatch.Adapter = (*Adapter)(nil)

// New creates an API adapter from the config.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Confidence <= 0 || cfg.Confidence > 1 {
		cfg.Confidence = 0.8
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

// Name implements dispatch.Adapter.
func (a *Adapter) Name() string { return a.cfg.Name }

// MapEntity implements dispatch.Adapter.
func (a *Adapter) MapEntity(ctx context.Context, req dispatch.Request) (*types.MappingResult, error) {
	reqURL, err := a.buildURL(req)
	if err != nil {
		return nil, err
	}

	var body []byte
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Accept", "application/json")
		for k, v := range a.cfg.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := a.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err // network errors are retryable
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			body = nil
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("%s returned status %d", a.cfg.Name, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("%s returned status %d", a.cfg.Name, resp.StatusCode))
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(a.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	targetID, err := extractField(body, a.cfg.ResultField)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.cfg.Name, err)
	}
	if targetID == "" {
		return nil, nil
	}

	return &types.MappingResult{
		SourceID:      req.SourceID,
		TargetID:      targetID,
		TargetType:    req.TargetType,
		Confidence:    a.cfg.Confidence,
		MappingSource: "api:" + a.cfg.Name,
	}, nil
}

func (a *Adapter) buildURL(req dispatch.Request) (string, error) {
	path := a.cfg.PathTemplate
	path = strings.ReplaceAll(path, "{source_id}", url.PathEscape(req.SourceID))
	path = strings.ReplaceAll(path, "{source_type}", url.PathEscape(req.SourceType))
	path = strings.ReplaceAll(path, "{target_type}", url.PathEscape(req.TargetType))
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

// extractField pulls a string (or number, stringified) field out of a JSON
// object, or out of the first element of a JSON array of objects.
func extractField(body []byte, field string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		return fieldValue(obj, field)
	}

	var arr []map[string]json.RawMessage
	if err := json.Unmarshal(body, &arr); err == nil {
		if len(arr) == 0 {
			return "", nil
		}
		return fieldValue(arr[0], field)
	}

	return "", fmt.Errorf("unexpected response shape")
}

func fieldValue(obj map[string]json.RawMessage, field string) (string, error) {
	raw, ok := obj[field]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("field %q is neither string nor number", field)
}
