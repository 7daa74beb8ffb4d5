package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/engramdev/engram/pkg/types"
)

// Cosine computes cosine similarity between two equal-length vectors.
// Returns 0 if either vector has zero magnitude or lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector packs an embedding as little-endian float32 bytes, the
// on-disk format shared by the SQLite and in-memory backends.
func SerializeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DeserializeVector unpacks a little-endian float32 BLOB.
func DeserializeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%w: embedding blob length %d is not a multiple of 4", ErrInvalidInput, len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// MatchesOptions applies the non-vector SearchOptions filters to a memory.
// Backends that rank with in-process cosine share this post-filter.
func MatchesOptions(m *types.Memory, opts SearchOptions) bool {
	if m.Status == types.StatusDeleted {
		return false
	}
	if m.Status == types.StatusArchived && !opts.IncludeArchived {
		return false
	}

	if len(opts.Types) > 0 {
		found := false
		for _, t := range opts.Types {
			if m.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(opts.Subtypes) > 0 {
		found := false
		for _, st := range opts.Subtypes {
			if m.Subtype == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, want := range opts.Tags {
		want = strings.ToLower(strings.TrimSpace(want))
		found := false
		for _, tag := range m.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
