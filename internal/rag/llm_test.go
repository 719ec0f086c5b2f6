package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArbitration(t *testing.T) {
	t.Run("numeric confidence", func(t *testing.T) {
		out, err := parseArbitration(`{"selected_cid": 5793, "confidence": 0.92, "rationale": "title match"}`)
		require.NoError(t, err)
		require.NotNil(t, out.SelectedCID)
		assert.Equal(t, int64(5793), *out.SelectedCID)
		assert.Equal(t, 0.92, out.Confidence)
		assert.Equal(t, "title match", out.Rationale)
	})

	t.Run("categorical confidence", func(t *testing.T) {
		for label, want := range map[string]float64{
			"high": 0.9, "medium": 0.6, "low": 0.3, "none": 0.0,
		} {
			out, err := parseArbitration(`{"selected_cid": 1, "confidence": "` + label + `", "rationale": ""}`)
			require.NoError(t, err)
			assert.Equal(t, want, out.Confidence, "label %q", label)
		}
	})

	t.Run("null selection", func(t *testing.T) {
		out, err := parseArbitration(`{"selected_cid": null, "confidence": "none", "rationale": "no match"}`)
		require.NoError(t, err)
		assert.Nil(t, out.SelectedCID)
		assert.Equal(t, "no match", out.Rationale)
	})

	t.Run("fenced code block", func(t *testing.T) {
		raw := "```json\n{\"selected_cid\": 42, \"confidence\": \"high\", \"rationale\": \"ok\"}\n```"
		out, err := parseArbitration(raw)
		require.NoError(t, err)
		require.NotNil(t, out.SelectedCID)
		assert.Equal(t, int64(42), *out.SelectedCID)
	})

	t.Run("confidence clamped", func(t *testing.T) {
		out, err := parseArbitration(`{"selected_cid": 1, "confidence": 1.7, "rationale": ""}`)
		require.NoError(t, err)
		assert.Equal(t, 1.0, out.Confidence)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseArbitration("I think the answer is glucose.")
		require.Error(t, err)
	})
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
