package api

import (
	"context"
	"time"
)

// QueryTimeout is the default deadline for a single database operation.
// Allocation runs several writes inside one request, so this stays well
// under the request timeout.
const QueryTimeout = 10 * time.Second

// WithQueryTimeout derives a context bounded by QueryTimeout.
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}
