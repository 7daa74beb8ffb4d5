package ontology

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/llm"
)

func TestCatalogShape(t *testing.T) {
	assert.GreaterOrEqual(t, Count(), 60)

	for _, cat := range Categories {
		assert.NotEmpty(t, ByCategory(cat), "category %s has no labels", cat)
	}

	// Every entry's category is one of the declared categories.
	known := make(map[Category]bool, len(Categories))
	for _, cat := range Categories {
		known[cat] = true
	}
	for _, label := range All() {
		info, ok := Info(label)
		require.True(t, ok)
		assert.True(t, known[info.Category], "label %s has unknown category %s", label, info.Category)
		assert.NotEmpty(t, info.Description, "label %s has no description", label)
	}
}

func TestInversesAreConsistent(t *testing.T) {
	for _, label := range All() {
		info, _ := Info(label)
		if info.Inverse == "" {
			continue
		}
		inv, ok := Info(info.Inverse)
		require.True(t, ok, "label %s has unknown inverse %s", label, info.Inverse)
		assert.Equal(t, label, inv.Inverse, "inverse of %s does not point back", label)
		assert.False(t, info.Symmetric, "symmetric label %s should not declare an inverse", label)
	}
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate("part_of"))
	assert.True(t, Validate("contradicts"))
	assert.True(t, Validate(DefaultRelationship))
	assert.False(t, Validate("bogus_label"))
	assert.False(t, Validate(""))
}

func TestByCategory(t *testing.T) {
	labels := ByCategory(CategorySolution)
	assert.Contains(t, labels, "solves")
	assert.Contains(t, labels, "workaround_for")
	assert.NotContains(t, labels, "causes")
}

func TestClassifyRelationship(t *testing.T) {
	client := &llm.MockClient{Responses: []string{`{"relationship": "causes"}`}}
	c := NewClassifier(client)

	label := c.ClassifyRelationship(context.Background(), "deploy went out", "error rate spiked")
	assert.Equal(t, "causes", label)
}

func TestClassifyRelationship_FallsBackToDefault(t *testing.T) {
	tests := []struct {
		name   string
		client *llm.MockClient
	}{
		{"llm error", &llm.MockClient{Err: llm.ErrLLMUnavailable}},
		{"unknown label", &llm.MockClient{Responses: []string{`{"relationship": "frobnicates"}`}}},
		{"garbage output", &llm.MockClient{Responses: []string{"not json at all"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.client)
			assert.Equal(t, DefaultRelationship, c.ClassifyRelationship(context.Background(), "a", "b"))
		})
	}

	var nilClassifier *Classifier
	assert.Equal(t, DefaultRelationship, nilClassifier.ClassifyRelationship(context.Background(), "a", "b"))
}
