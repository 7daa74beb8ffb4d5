package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"bare object",
			`{"a": 1}`,
			`{"a": 1}`,
		},
		{
			"markdown fence",
			"```json\n{\"a\": 1}\n```",
			`{"a": 1}`,
		},
		{
			"prose around object",
			`Here is the result: {"a": 1} hope that helps!`,
			`{"a": 1}`,
		},
		{
			"array",
			`The facts are: [{"content": "x"}, {"content": "y"}]`,
			`[{"content": "x"}, {"content": "y"}]`,
		},
		{
			"braces inside strings",
			`{"a": "closing } brace"}`,
			`{"a": "closing } brace"}`,
		},
		{
			"no json",
			`nothing structured here`,
			`nothing structured here`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestRepairJSON_TrailingComma(t *testing.T) {
	repaired := RepairJSON(`{"a": 1, "b": [1, 2,],}`)
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(repaired), &v))
}

func TestRepairJSON_TruncatedArray(t *testing.T) {
	truncated := `[{"content": "fact one"}, {"content": "fact two"}, {"cont`
	repaired := RepairJSON(truncated)

	var v []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(repaired), &v))
	assert.Len(t, v, 2)
	assert.Equal(t, "fact one", v[0]["content"])
}

func TestRepairJSON_TruncatedStringArray(t *testing.T) {
	repaired := RepairJSON(`["fact one", "fact two", "fact thr`)

	var v []string
	require.NoError(t, json.Unmarshal([]byte(repaired), &v))
	assert.Equal(t, []string{"fact one", "fact two"}, v)
}

func TestRepairJSON_UnclosedObject(t *testing.T) {
	repaired := RepairJSON(`{"summary": "partial output`)
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(repaired), &v))
	assert.Equal(t, "partial output", v["summary"])
}

func TestProfileParams(t *testing.T) {
	req := profileParams(CompletionRequest{Prompt: "p"}, ProfileExtraction)
	assert.Equal(t, 768, req.MaxTokens)
	assert.InDelta(t, 0.1, req.Temperature, 1e-9)

	// Explicit values win.
	req = profileParams(CompletionRequest{Prompt: "p", MaxTokens: 5, Temperature: 0.9}, ProfileExtraction)
	assert.Equal(t, 5, req.MaxTokens)
	assert.InDelta(t, 0.9, req.Temperature, 1e-9)
}
