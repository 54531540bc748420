// Package llm wraps the generative capability behind a minimal text-in,
// text-out interface. The pipeline treats the model as an opaque
// collaborator: stage instructions plus a user message in, raw text out.
package llm

import "context"

// Client is the generative capability handle supplied to the orchestrator
// at construction.
type Client interface {
	// Complete sends stage instructions and a user message, returning the
	// raw model text. A failed call is fatal to the calling stage.
	Complete(ctx context.Context, system, user string) (string, error)
}
