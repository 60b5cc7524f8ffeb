// Package trace propagates request trace ids through contexts and the
// X-Trace-ID header.
package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Header is the wire header carrying the trace id between nodes.
const Header = "X-Trace-ID"

// New returns a fresh trace id.
func New() string { return uuid.NewString() }

// WithTraceID attaches id to ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the trace id attached to ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// FromRequest extracts the trace id from r, minting one if absent.
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(Header); id != "" {
		return id
	}
	return New()
}
