package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/pkg/types"
)

func TestMapCategory(t *testing.T) {
	tests := []struct {
		category    string
		wantType    types.MemoryType
		wantSubtype types.MemorySubtype
	}{
		{"profile", types.TypeSemantic, types.SubtypeProfile},
		{"preferences", types.TypeSemantic, types.SubtypePreference},
		{"entities", types.TypeSemantic, types.SubtypeEntity},
		{"events", types.TypeEpisodic, types.SubtypeEvent},
		{"cases", types.TypeEpisodic, types.SubtypeCase},
		{"patterns", types.TypeProcedural, types.SubtypePattern},
		{" Patterns ", types.TypeProcedural, types.SubtypePattern},
		{"nonsense", types.TypeSemantic, types.MemorySubtype("")},
		{"", types.TypeSemantic, types.MemorySubtype("")},
	}
	for _, tt := range tests {
		memType, subtype := MapCategory(tt.category)
		assert.Equal(t, tt.wantType, memType, "category %q", tt.category)
		assert.Equal(t, tt.wantSubtype, subtype, "category %q", tt.category)
	}
}

func TestDecomposeToFacts(t *testing.T) {
	client := &llm.MockClient{Responses: []string{
		`["the API uses bearer tokens", "tokens expire after one hour"]`,
	}}
	e := NewExtractor(client)

	facts := e.DecomposeToFacts(context.Background(), "The API uses bearer tokens and they expire after one hour.")
	require.Len(t, facts, 2)
	assert.Equal(t, "the API uses bearer tokens", facts[0])
}

func TestDecomposeToFacts_FallsBackToWhole(t *testing.T) {
	content := "single statement"
	tests := []struct {
		name   string
		client *llm.MockClient
	}{
		{"llm error", &llm.MockClient{Err: llm.ErrLLMUnavailable}},
		{"garbage output", &llm.MockClient{Responses: []string{"no json here"}}},
		{"empty array", &llm.MockClient{Responses: []string{"[]"}}},
		{"whitespace facts", &llm.MockClient{Responses: []string{`["  ", ""]`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(tt.client)
			assert.Equal(t, []string{content}, e.DecomposeToFacts(context.Background(), content))
		})
	}

	var nilExtractor *Extractor
	assert.Equal(t, []string{content}, nilExtractor.DecomposeToFacts(context.Background(), content))
}

func TestDecomposeToFacts_RepairsTruncatedOutput(t *testing.T) {
	client := &llm.MockClient{Responses: []string{
		`["fact one", "fact two", "fact thr`,
	}}
	e := NewExtractor(client)

	facts := e.DecomposeToFacts(context.Background(), "whatever")
	assert.Equal(t, []string{"fact one", "fact two"}, facts)
}

func TestClassifyContent(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`{"category": "events"}`}}
	e := NewExtractor(client)

	memType, subtype := e.ClassifyContent(context.Background(), "the deploy finished at noon")
	assert.Equal(t, types.TypeEpisodic, memType)
	assert.Equal(t, types.SubtypeEvent, subtype)
}

func TestClassifyContent_FallsBackToSemantic(t *testing.T) {
	client := &llm.MockClient{Err: llm.ErrLLMUnavailable}
	e := NewExtractor(client)

	memType, subtype := e.ClassifyContent(context.Background(), "anything")
	assert.Equal(t, types.TypeSemantic, memType)
	assert.Empty(t, subtype)
}

func TestExtractFromSession(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`[
		{"content": "user prefers dark mode", "category": "preferences", "importance": 0.8},
		{"content": "lunch was pizza", "category": "events", "importance": 0.1},
		{"content": "user prefers dark mode", "category": "preferences", "importance": 0.8},
		{"content": "deploys go out on Fridays", "category": "patterns", "importance": 0.7}
	]`}}
	e := NewExtractor(client)

	got, err := e.ExtractFromSession(context.Background(), types.NewScope("", "ws"), "long transcript", SessionOptions{
		MinImportance: 0.5,
		DedupContent:  true,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "user prefers dark mode", first.Content)
	assert.Equal(t, types.TypeSemantic, first.Type)
	assert.Equal(t, types.SubtypePreference, first.Subtype)
	assert.Equal(t, 0.8, first.Importance)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, types.DefaultTenantID, first.TenantID)
	assert.Equal(t, "ws", first.WorkspaceID)
	assert.Equal(t, types.HashContent(first.Content), first.ContentHash)

	assert.Equal(t, types.TypeProcedural, got[1].Type)
}

func TestExtractFromSession_CapsBatch(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`[
		{"content": "a", "importance": 0.9},
		{"content": "b", "importance": 0.9},
		{"content": "c", "importance": 0.9}
	]`}}
	e := NewExtractor(client)

	got, err := e.ExtractFromSession(context.Background(), types.NewScope("", "ws"), "t", SessionOptions{MaxMemories: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExtractFromSession_EmptyTranscript(t *testing.T) {
	e := NewExtractor(&llm.MockClient{})
	got, err := e.ExtractFromSession(context.Background(), types.NewScope("", "ws"), "   ", SessionOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExtractFromSession_ErrorSurfaces(t *testing.T) {
	e := NewExtractor(&llm.MockClient{Err: llm.ErrLLMUnavailable})
	_, err := e.ExtractFromSession(context.Background(), types.NewScope("", "ws"), "t", SessionOptions{})
	assert.ErrorIs(t, err, llm.ErrLLMUnavailable)
}
