package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/pkg/types"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical unit vectors", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1, 0, 0}, []float32{1, 0}, 0},
		{"both empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.25, float32(math.Pi)}

	blob := SerializeVector(vec)
	require.Len(t, blob, 16)

	got, err := DeserializeVector(blob)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestDeserializeVector_BadLength(t *testing.T) {
	_, err := DeserializeVector([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeserializeVector_Empty(t *testing.T) {
	got, err := DeserializeVector(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProjectDetailLevel(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	m := &types.Memory{Content: string(long), Abstract: "short", Overview: ""}

	abs := ProjectDetailLevel(m, types.DetailAbstract)
	assert.Equal(t, "short", abs.Content)

	// No overview generated yet: fall back to a 500-char truncation.
	ov := ProjectDetailLevel(m, types.DetailOverview)
	assert.Equal(t, string(long[:500])+"...", ov.Content)

	full := ProjectDetailLevel(m, types.DetailFull)
	assert.Equal(t, string(long), full.Content)

	// Original is untouched.
	assert.Equal(t, string(long), m.Content)
}
