package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one client's run in a batch. Err is nil on success.
type BatchResult struct {
	ClientID string
	Result   *RunResult
	Err      error
}

// RunBatch triggers workflowID for each client with at most concurrency runs in flight.
// A failing client does not stop the others; results keep the input order.
func RunBatch(ctx context.Context, runner Runner, workflowID string, clientIDs []string, opts RunOptions, concurrency int) []BatchResult {
	results := make([]BatchResult, len(clientIDs))
	g, gCtx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, clientID := range clientIDs {
		g.Go(func() error {
			res, err := runner.Run(gCtx, workflowID, clientID, RunOptions{
				TriggerType: opts.TriggerType,
				TriggerData: opts.TriggerData,
			})
			results[i] = BatchResult{ClientID: clientID, Result: res, Err: err}
			return nil
		})
	}

	_ = g.Wait() // per-client errors are carried in results
	return results
}
