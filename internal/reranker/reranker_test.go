package reranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/llm"
)

func TestNoop_SortsByScore(t *testing.T) {
	docs := []Document{
		{Ref: "a", Score: 0.2},
		{Ref: "b", Score: 0.9},
		{Ref: "c", Score: 0.5},
	}

	out, err := Noop{}.Rerank(context.Background(), "q", docs, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Ref)
	assert.Equal(t, "c", out[1].Ref)

	// Input untouched.
	assert.Equal(t, "a", docs[0].Ref)
}

func TestAdaptiveK(t *testing.T) {
	assert.Equal(t, 10, AdaptiveK(5, 30))
	assert.Equal(t, 7, AdaptiveK(5, 7))
	assert.Equal(t, 5, AdaptiveK(5, 3))
	assert.Equal(t, 1, AdaptiveK(0, 0))
}

func TestLLMReranker_OrdersByModelRanking(t *testing.T) {
	client := &llm.MockClient{Responses: []string{"[2, 0, 1]"}}
	r := NewLLMReranker(client)

	docs := []Document{
		{Ref: "a", Content: "first"},
		{Ref: "b", Content: "second"},
		{Ref: "c", Content: "third"},
	}
	out, err := r.Rerank(context.Background(), "q", docs, 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{out[0].Ref, out[1].Ref, out[2].Ref})
}

func TestLLMReranker_DroppedDocsKeepOrder(t *testing.T) {
	client := &llm.MockClient{Responses: []string{"[1]"}}
	r := NewLLMReranker(client)

	docs := []Document{
		{Ref: "a"},
		{Ref: "b"},
		{Ref: "c"},
	}
	out, err := r.Rerank(context.Background(), "q", docs, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, []string{out[0].Ref, out[1].Ref, out[2].Ref})
}

func TestLLMReranker_FailureSurfaces(t *testing.T) {
	client := &llm.MockClient{Err: llm.ErrLLMUnavailable}
	r := NewLLMReranker(client)

	_, err := r.Rerank(context.Background(), "q", []Document{{Ref: "a"}}, 1)
	assert.ErrorIs(t, err, ErrRerankFailed)
}
