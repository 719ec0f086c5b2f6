package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStrategies = `
strategies:
  - name: metabolite_to_pubchem
    description: normalize then map
    source_endpoint: hmdb
    target_endpoint: pubchem
    steps:
      - action: uppercase
      - action: suffix
        params:
          suffix: "!"
`

func newTestRunner(t *testing.T) (*Runner, *Registry) {
	t.Helper()
	reg := NewRegistry()
	runner := NewRunner(reg)
	require.NoError(t, runner.Load([]byte(testStrategies)))
	return runner, reg
}

func TestRunThreadsResultsThroughSteps(t *testing.T) {
	runner, reg := newTestRunner(t)

	var sawEndpoints []string
	reg.Register("uppercase", ActionFunc(func(_ context.Context, in ActionInput) (*StepResult, error) {
		sawEndpoints = append(sawEndpoints, in.SourceEndpoint, in.TargetEndpoint)
		out := make([]string, len(in.Identifiers))
		for i, id := range in.Identifiers {
			out[i] = "HMDB" + id
		}
		in.Context.Set("normalized", out)
		return &StepResult{Identifiers: out, OntologyType: "hmdb"}, nil
	}))
	reg.Register("suffix", ActionFunc(func(_ context.Context, in ActionInput) (*StepResult, error) {
		// Datasets written by earlier steps are visible.
		_, ok := in.Context.Get("normalized")
		require.True(t, ok)

		suffix, _ := in.Params["suffix"].(string)
		out := make([]string, len(in.Identifiers))
		for i, id := range in.Identifiers {
			out[i] = id + suffix
		}
		return &StepResult{Identifiers: out, Details: map[string]string{"count": "2"}}, nil
	}))

	report, err := runner.Run(context.Background(), "metabolite_to_pubchem", []string{"0001", "0002"}, "raw")
	require.NoError(t, err)

	assert.Equal(t, []string{"HMDB0001!", "HMDB0002!"}, report.Identifiers)
	assert.Equal(t, "hmdb", report.OntologyType)
	assert.Equal(t, []string{"hmdb", "pubchem"}, sawEndpoints)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, "uppercase", report.Steps[0].Action)
	assert.Equal(t, "2", report.Steps[1].Details["count"])
}

func TestRunUnknownStrategy(t *testing.T) {
	runner, _ := newTestRunner(t)
	_, err := runner.Run(context.Background(), "nope", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestRunUnknownAction(t *testing.T) {
	runner, _ := newTestRunner(t)
	_, err := runner.Run(context.Background(), "metabolite_to_pubchem", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action "uppercase"`)
}

func TestRunStepFailureAborts(t *testing.T) {
	runner, reg := newTestRunner(t)
	reg.Register("uppercase", ActionFunc(func(_ context.Context, _ ActionInput) (*StepResult, error) {
		return nil, errors.New("boom")
	}))
	secondRan := false
	reg.Register("suffix", ActionFunc(func(_ context.Context, _ ActionInput) (*StepResult, error) {
		secondRan = true
		return nil, nil
	}))

	_, err := runner.Run(context.Background(), "metabolite_to_pubchem", []string{"x"}, "raw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0 (uppercase): boom")
	assert.False(t, secondRan)
}

func TestLoadValidation(t *testing.T) {
	runner := NewRunner(NewRegistry())

	assert.Error(t, runner.Load([]byte("strategies:\n  - steps:\n      - action: a\n")))
	assert.Error(t, runner.Load([]byte("strategies:\n  - name: empty\n")))
	assert.Error(t, runner.Load([]byte("strategies:\n  - name: s\n    steps:\n      - params: {}\n")))
	assert.Error(t, runner.Load([]byte("not: [valid")))
}

func TestExecutionContext(t *testing.T) {
	c := NewExecutionContext()
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1)
	c.Set("a", 2)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, []string{"a"}, c.Keys())
}
