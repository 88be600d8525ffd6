package boq

import (
	"fmt"
	"math"
)

// ArithmeticTolerance is the relative difference above which
// quantity × rate and the stated amount are considered inconsistent.
const ArithmeticTolerance = 0.05

// Validation is the outcome of an arithmetic check. Expected and Actual are
// only set when a comparison was made.
type Validation struct {
	Valid      bool
	Expected   float64
	Actual     float64
	Difference float64
	Note       string
}

// EffectiveRate returns the rate used for arithmetic: the total rate when
// present, otherwise supply + install (nil treated as zero). Returns nil
// when no rate is present at all.
func EffectiveRate(supply, install, total *float64) *float64 {
	if total != nil {
		v := *total
		return &v
	}
	if supply == nil && install == nil {
		return nil
	}
	var sum float64
	if supply != nil {
		sum += *supply
	}
	if install != nil {
		sum += *install
	}
	return &sum
}

// ValidateArithmetic compares quantity × rate against amount. Missing
// operands and zero quantity or rate make no claim and are reported valid.
// Inputs are never modified.
func ValidateArithmetic(quantity, rate, amount *float64) Validation {
	if quantity == nil || rate == nil || amount == nil {
		return Validation{Valid: true}
	}
	if *quantity == 0 || *rate == 0 {
		return Validation{Valid: true}
	}

	expected := *quantity * *rate
	actual := *amount
	denom := math.Max(math.Abs(expected), math.Abs(actual))
	if denom == 0 {
		return Validation{Valid: true, Expected: expected, Actual: actual}
	}
	diff := math.Abs(expected-actual) / denom

	v := Validation{
		Valid:      diff <= ArithmeticTolerance,
		Expected:   expected,
		Actual:     actual,
		Difference: diff,
	}
	if !v.Valid {
		v.Note = fmt.Sprintf("arithmetic mismatch: qty × rate = %.2f, amount = %.2f (%.1f%% difference)",
			expected, actual, diff*100)
	}
	return v
}
