// Package llm provides text-generation clients used for classification, fact
// decomposition, relationship labeling, summarization, and recall query
// rewriting. Every consumer treats LLM failure as soft: it degrades to a
// heuristic or a passthrough, never fails the calling operation.
package llm

import (
	"context"
	"errors"
)

// ErrLLMUnavailable wraps any provider failure, including an open circuit.
var ErrLLMUnavailable = errors.New("llm unavailable")

// Profile selects generation parameters for a call.
type Profile string

const (
	// ProfileDefault is general-purpose completion.
	ProfileDefault Profile = "default"

	// ProfileReflection favors longer, lower-temperature synthesis.
	ProfileReflection Profile = "reflection"

	// ProfileExtraction favors deterministic structured output.
	ProfileExtraction Profile = "extraction"
)

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse carries the model output and token accounting.
type CompletionResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Client is the LLM contract.
type Client interface {
	// Complete runs a completion under the given profile.
	Complete(ctx context.Context, req CompletionRequest, profile Profile) (*CompletionResponse, error)

	// Synthesize is the convenience wrapper used by summarization and
	// query rewriting.
	Synthesize(ctx context.Context, prompt string, maxTokens int, profile Profile) (string, error)

	// Model returns the configured model name.
	Model() string
}

// profileParams resolves per-profile defaults for requests that leave
// MaxTokens or Temperature unset.
func profileParams(req CompletionRequest, profile Profile) CompletionRequest {
	if req.MaxTokens == 0 {
		switch profile {
		case ProfileReflection:
			req.MaxTokens = 1024
		case ProfileExtraction:
			req.MaxTokens = 768
		default:
			req.MaxTokens = 512
		}
	}
	if req.Temperature == 0 {
		switch profile {
		case ProfileExtraction:
			req.Temperature = 0.1
		case ProfileReflection:
			req.Temperature = 0.3
		default:
			req.Temperature = 0.7
		}
	}
	return req
}
