package model

import (
	"time"
)

// ReviewStatus is the human review state of an extracted item.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// Extraction methods recorded in ExtractedItem.RawData["method"].
const (
	MethodAI        = "ai"
	MethodHeuristic = "heuristic"
)

// ExtractedItem is one normalized bill-of-quantities line.
type ExtractedItem struct {
	ID              string         `json:"id"`
	JobID           string         `json:"job_id"`
	Sequence        int            `json:"sequence"`
	BillNumber      string         `json:"bill_number,omitempty"`
	BillName        string         `json:"bill_name,omitempty"`
	SectionCode     string         `json:"section_code,omitempty"`
	SectionName     string         `json:"section_name,omitempty"`
	ItemCode        string         `json:"item_code,omitempty"`
	Description     string         `json:"description"`
	Quantity        *float64       `json:"quantity"`
	Unit            *string        `json:"unit"`
	SupplyRate      *float64       `json:"supply_rate"`
	InstallRate     *float64       `json:"install_rate"`
	TotalRate       *float64       `json:"total_rate"`
	Amount          *float64       `json:"amount"`
	IsRateOnly      bool           `json:"is_rate_only"`
	CategoryID      string         `json:"category_id,omitempty"`
	CategoryName    string         `json:"category_name,omitempty"`
	CatalogID       *string        `json:"catalog_id"`
	MatchConfidence *float64       `json:"match_confidence"`
	ArithmeticValid bool           `json:"arithmetic_valid"`
	RawData         map[string]any `json:"raw_data,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	ReviewStatus    ReviewStatus   `json:"review_status"`
	CreatedAt       time.Time      `json:"created_at"`

	validated bool
}

// HasRate reports whether any rate field is populated.
func (it *ExtractedItem) HasRate() bool {
	return it.SupplyRate != nil || it.InstallRate != nil || it.TotalRate != nil
}

// Validated reports whether arithmetic validation has already run.
func (it *ExtractedItem) Validated() bool {
	return it.validated
}

// MarkValidated records that arithmetic validation has run.
func (it *ExtractedItem) MarkValidated() {
	it.validated = true
}

// AddNote appends an annotation, separated by "; ".
func (it *ExtractedItem) AddNote(note string) {
	if note == "" {
		return
	}
	if it.Notes == "" {
		it.Notes = note
		return
	}
	it.Notes += "; " + note
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}
