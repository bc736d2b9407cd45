// Package translate batches block text, sends it through a chat model and
// maps the result back onto the blocks. A fallback model is consulted when
// the primary output looks structurally unreliable, and individual blocks
// degrade to their source text instead of failing the whole job.
package translate

import "context"

// Provider completes one chat exchange and returns the assistant content.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Name() string
}
