// Package store persists extraction jobs, extracted items and the read-only
// reference data used to classify and match them.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrJobNotPending is returned when a job cannot start because it is not pending.
	ErrJobNotPending = eris.New("store: job is not pending")
	// ErrJobNotProcessing is returned when completing or failing a job that is not running.
	ErrJobNotProcessing = eris.New("store: job is not processing")
)

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, id, source string) (*model.ExtractionJob, error)
	GetJob(ctx context.Context, id string) (*model.ExtractionJob, error)
	MarkJobProcessing(ctx context.Context, id string) (*model.ExtractionJob, error)
	CompleteJob(ctx context.Context, id string, total, matched int) error
	FailJob(ctx context.Context, id string, msg string) error

	// Items
	InsertItems(ctx context.Context, items []model.ExtractedItem) error
	ListItems(ctx context.Context, jobID string) ([]model.ExtractedItem, error)
	DeleteItems(ctx context.Context, jobID string) (int, error)

	// Reference data
	ListCategories(ctx context.Context) ([]model.CategoryEntry, error)
	ListCatalog(ctx context.Context) ([]model.CatalogEntry, error)
	SeedCategories(ctx context.Context, categories []model.CategoryEntry) (int, error)
	SeedCatalog(ctx context.Context, entries []model.CatalogEntry) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// LoadReferenceData snapshots categories and catalog in one call.
func LoadReferenceData(ctx context.Context, s Store) (model.ReferenceData, error) {
	cats, err := s.ListCategories(ctx)
	if err != nil {
		return model.ReferenceData{}, err
	}
	catalog, err := s.ListCatalog(ctx)
	if err != nil {
		return model.ReferenceData{}, err
	}
	return model.ReferenceData{Categories: cats, Catalog: catalog}, nil
}

var itemColumns = []string{
	"id", "job_id", "sequence", "bill_number", "bill_name", "section_code", "section_name",
	"item_code", "description", "quantity", "unit", "supply_rate", "install_rate", "total_rate",
	"amount", "is_rate_only", "category_id", "category_name", "catalog_id", "match_confidence",
	"arithmetic_valid", "raw_data", "notes", "review_status", "created_at",
}

var itemColumnList = strings.Join(itemColumns, ", ")

// itemRow flattens an item into column order. raw_data is JSON-encoded.
func itemRow(it model.ExtractedItem) ([]any, error) {
	raw, err := json.Marshal(it.RawData)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal raw data for item %d", it.Sequence)
	}
	return []any{
		it.ID, it.JobID, it.Sequence, nullable(it.BillNumber), nullable(it.BillName),
		nullable(it.SectionCode), nullable(it.SectionName), nullable(it.ItemCode), it.Description,
		it.Quantity, it.Unit, it.SupplyRate, it.InstallRate, it.TotalRate,
		it.Amount, it.IsRateOnly, nullable(it.CategoryID), nullable(it.CategoryName), it.CatalogID, it.MatchConfidence,
		it.ArithmeticValid, raw, nullable(it.Notes), string(it.ReviewStatus), it.CreatedAt,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type scannable interface {
	Scan(dest ...any) error
}

const jobColumns = `id, status, source, started_at, completed_at, total_items, matched_items, error, created_at, updated_at`

func scanJob(row scannable) (*model.ExtractionJob, error) {
	var j model.ExtractionJob
	var source, errMsg *string
	if err := row.Scan(&j.ID, &j.Status, &source, &j.StartedAt, &j.CompletedAt,
		&j.TotalItems, &j.MatchedItems, &errMsg, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Source = deref(source)
	j.Error = deref(errMsg)
	return &j, nil
}

func scanItem(row scannable) (model.ExtractedItem, error) {
	var it model.ExtractedItem
	var billNumber, billName, sectionCode, sectionName, itemCode, categoryID, categoryName, notes *string
	var raw []byte
	var review string
	err := row.Scan(
		&it.ID, &it.JobID, &it.Sequence, &billNumber, &billName, &sectionCode, &sectionName,
		&itemCode, &it.Description, &it.Quantity, &it.Unit, &it.SupplyRate, &it.InstallRate, &it.TotalRate,
		&it.Amount, &it.IsRateOnly, &categoryID, &categoryName, &it.CatalogID, &it.MatchConfidence,
		&it.ArithmeticValid, &raw, &notes, &review, &it.CreatedAt,
	)
	if err != nil {
		return it, eris.Wrap(err, "store: scan item")
	}
	it.BillNumber = deref(billNumber)
	it.BillName = deref(billName)
	it.SectionCode = deref(sectionCode)
	it.SectionName = deref(sectionName)
	it.ItemCode = deref(itemCode)
	it.CategoryID = deref(categoryID)
	it.CategoryName = deref(categoryName)
	it.Notes = deref(notes)
	it.ReviewStatus = model.ReviewStatus(review)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &it.RawData); err != nil {
			return it, eris.Wrap(err, "store: unmarshal raw data")
		}
	}
	return it, nil
}

func scanCategory(row scannable) (model.CategoryEntry, error) {
	var c model.CategoryEntry
	var desc *string
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &desc); err != nil {
		return c, eris.Wrap(err, "store: scan category")
	}
	c.Description = deref(desc)
	return c, nil
}

func scanCatalogEntry(row scannable) (model.CatalogEntry, error) {
	var e model.CatalogEntry
	var categoryID, unit *string
	if err := row.Scan(&e.ID, &e.Code, &e.Name, &categoryID, &unit, &e.SupplyCost, &e.InstallCost); err != nil {
		return e, eris.Wrap(err, "store: scan catalog entry")
	}
	e.CategoryID = deref(categoryID)
	e.Unit = deref(unit)
	return e, nil
}
