package boq

import (
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// FinalizeItem enforces the item invariants and applies unit normalization
// and arithmetic validation. It is idempotent: running it twice produces the
// same item and does not duplicate annotations.
func FinalizeItem(it *model.ExtractedItem) {
	if it.IsRateOnly && it.Quantity != nil {
		it.Quantity = nil
	}

	if it.TotalRate == nil && (it.SupplyRate != nil || it.InstallRate != nil) {
		it.TotalRate = EffectiveRate(it.SupplyRate, it.InstallRate, nil)
	}

	if it.Unit != nil {
		original := *it.Unit
		it.Unit = NormalizeUnit(it.Unit)
		if it.Unit != nil && *it.Unit != original && !it.Validated() {
			setRaw(it, "unit_original", original)
		}
	}

	if it.ReviewStatus == "" {
		it.ReviewStatus = model.ReviewStatusPending
	}

	if it.Validated() {
		return
	}
	v := ValidateArithmetic(it.Quantity, EffectiveRate(it.SupplyRate, it.InstallRate, it.TotalRate), it.Amount)
	it.ArithmeticValid = v.Valid
	it.AddNote(v.Note)
	it.MarkValidated()
}

func setRaw(it *model.ExtractedItem, key string, value any) {
	if it.RawData == nil {
		it.RawData = make(map[string]any)
	}
	it.RawData[key] = value
}
