// Package llm wraps the generative-text service used for replies and
// session summaries.
package llm

import "context"

// Generator produces text for a prompt. Implementations may fail or return
// empty output; callers are expected to degrade rather than abort.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float32) (string, error)
}
