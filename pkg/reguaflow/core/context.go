package core

import "context"

type ctxKey string

const (
	CtxKeyWorkerId  ctxKey = ctxKey("workerId")
	CtxKeyApiKeyTag ctxKey = ctxKey("apiKeyTag")
)

// WorkerID returns the resume worker that owns ctx, or -1 outside a worker.
func WorkerID(ctx context.Context) int {
	if id, ok := ctx.Value(CtxKeyWorkerId).(int); ok {
		return id
	}
	return -1
}
