package llm

import "context"

// Client is the interface the engine uses to reach a language model.
// The engine does not care how the call reaches the network; transports
// live behind this boundary.
type Client interface {
	// ChatStream sends a streaming chat request over the full history.
	// If callback is non-nil, tokens and tool-call signals are streamed
	// to it as they arrive; the final response is returned either way.
	ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
