package auth

import "context"

type contextKey struct{}

// Operator identifies the caller of an operator-only endpoint. ID is the
// 1-based position of the matched token in the configured token list and is
// recorded as created_by on backups.
type Operator struct {
	ID        int64
	RequestID string
}

func WithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, contextKey{}, op)
}

func FromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(contextKey{}).(Operator)
	return op, ok
}

// ActorID returns the operator id for audit fields, or nil when the request
// was not authenticated.
func ActorID(ctx context.Context) *int64 {
	op, ok := FromContext(ctx)
	if !ok || op.ID == 0 {
		return nil
	}
	id := op.ID
	return &id
}
