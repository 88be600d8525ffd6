package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/resilience"
)

const defaultBatchSize = 50

// persist writes items in fixed-size batches, retrying each batch on
// transient store errors. It returns the number of batches written.
func (p *Pipeline) persist(ctx context.Context, items []model.ExtractedItem) (int, error) {
	size := p.cfg.Extraction.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}

	batches := 0
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batch := items[start:end]

		cfg := p.retry
		cfg.OnRetry = resilience.RetryLogger("pipeline.insert_items",
			zap.Int("batch", batches+1),
			zap.Int("items", len(batch)),
		)
		if err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
			return p.store.InsertItems(ctx, batch)
		}); err != nil {
			return batches, eris.Wrapf(err, "pipeline: insert batch %d", batches+1)
		}
		batches++
	}
	return batches, nil
}
