package boq

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// ErrDefer signals that a strategy could not handle a sheet and the next
// strategy in the cascade should run.
var ErrDefer = eris.New("defer to next strategy")

// Strategy extracts line items from one sheet.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, sheet model.SheetSegment) ([]model.ExtractedItem, error)
}

// Cascade runs strategies in order until one returns items. Any error from
// a strategy, including ErrDefer, moves on to the next one; a sheet-level
// failure never aborts the run.
type Cascade []Strategy

// SheetResult is the outcome of running the cascade on one sheet.
type SheetResult struct {
	Sheet  model.SheetSegment
	Items  []model.ExtractedItem
	Method string
}

// Extract returns the first non-deferred strategy result. When every
// strategy defers, the result is empty with no method.
func (c Cascade) Extract(ctx context.Context, sheet model.SheetSegment) SheetResult {
	log := zap.L().With(zap.String("sheet", sheet.Name), zap.Int("sheet_index", sheet.Index))
	for _, s := range c {
		items, err := s.Extract(ctx, sheet)
		if err != nil {
			if errors.Is(err, ErrDefer) {
				log.Debug("boq: strategy deferred", zap.String("strategy", s.Name()), zap.Error(err))
			} else {
				log.Warn("boq: strategy failed, falling back", zap.String("strategy", s.Name()), zap.Error(err))
			}
			continue
		}
		if len(items) == 0 {
			log.Debug("boq: strategy returned no items", zap.String("strategy", s.Name()))
			continue
		}
		return SheetResult{Sheet: sheet, Items: items, Method: s.Name()}
	}
	return SheetResult{Sheet: sheet}
}

// deferf wraps ErrDefer with a reason.
func deferf(format string, args ...any) error {
	return eris.Wrapf(ErrDefer, format, args...)
}
