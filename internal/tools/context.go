package tools

import (
	"context"

	"github.com/hlibko/vika-voice-agent/internal/order"
)

type contextKey string

const callIDKey contextKey = "call_id"
const stateKey contextKey = "order_state"

// WithCallID adds the call session ID to the context.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// CallIDFromContext extracts the call session ID from the context.
// Returns "default" if not set.
func CallIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(callIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}

// WithState attaches the call's business state so tool handlers can
// report stage transitions. Nil state is ignored.
func WithState(ctx context.Context, st *order.State) context.Context {
	if st == nil {
		return ctx
	}
	return context.WithValue(ctx, stateKey, st)
}

// StateFromContext extracts the call's business state. Returns nil if
// no state was attached; handlers must tolerate that (state updates
// are then skipped).
func StateFromContext(ctx context.Context) *order.State {
	if st, ok := ctx.Value(stateKey).(*order.State); ok {
		return st
	}
	return nil
}
