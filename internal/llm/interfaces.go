// Package llm holds the clients for the two external model services
// the memory engine consumes: text generation (consolidation and
// distillation prompts) and embedding generation (recall vectors).
//
// Both services sit behind small interfaces so the engine can run
// degraded without them: a nil generator means archive-only operation.
// Calls are rate limited, wrapped in a circuit breaker, and classified
// into transient and permanent failures so callers can decide between
// retrying with backoff and giving up for the request.
package llm

import "context"

// TextGenerator is the text completion contract. Prompts are
// single-string completion style, not chat histories.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Model() string
}

// EmbeddingGenerator produces the vector for one piece of text.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}
