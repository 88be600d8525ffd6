package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/boq"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

const defaultSheetConcurrency = 4

// extractSheets runs the cascade over every sheet concurrently. Results are
// indexed like sheets; each goroutine writes only its own slot.
func (p *Pipeline) extractSheets(ctx context.Context, cascade boq.Cascade, sheets []model.SheetSegment) ([]boq.SheetResult, error) {
	limit := p.cfg.Extraction.SheetConcurrency
	if limit <= 0 {
		limit = defaultSheetConcurrency
	}

	results := make([]boq.SheetResult, len(sheets))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, sheet := range sheets {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			results[i] = cascade.Extract(gCtx, sheet)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: extract sheets")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: extract sheets")
	}
	return results, nil
}

// mergeResults concatenates sheet results in sheet order and assigns the
// global 1-based sequence. Per-method sheet item counts go into byMethod.
func mergeResults(results []boq.SheetResult, byMethod map[string]int) []model.ExtractedItem {
	total := 0
	for _, r := range results {
		total += len(r.Items)
	}

	items := make([]model.ExtractedItem, 0, total)
	for _, r := range results {
		if r.Method != "" {
			byMethod[r.Method] += len(r.Items)
		}
		items = append(items, r.Items...)
	}
	for i := range items {
		items[i].Sequence = i + 1
	}
	return items
}
