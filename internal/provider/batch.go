package provider

import (
	"context"

	"golang.org/x/sync/errgroup"

	"llmorch/internal/domain"
)

// maxBatchConcurrency bounds how many Chat calls a ProcessBatch runs at
// once, so a large batch cannot exhaust a provider's own connection pool.
const maxBatchConcurrency = 8

// processBatch runs call over every request with bounded concurrency via
// errgroup, preserving input order in the result slice. The teacher ran
// batches sequentially, one request at a time; this generalizes that to
// concurrent fan-out since nothing about batch ordering requires serial
// execution.
func processBatch(ctx context.Context, reqs []domain.ChatRequest, call func(context.Context, domain.ChatRequest) (domain.ChatResponse, error)) ([]domain.ChatResponse, error) {
	out := make([]domain.ChatResponse, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchConcurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := call(gctx, req)
			if err != nil {
				return err
			}
			out[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
