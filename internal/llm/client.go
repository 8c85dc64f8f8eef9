package llm

import "context"

// Client is the interface the orchestrator drives. The backend is
// opaque: one Request in, one ChatResponse out. Transport or auth
// failures surface as errors; the orchestrator converts them to its
// fail-soft empty-response contract.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *Request) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
