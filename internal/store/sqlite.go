package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_jobs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'pending',
	source        TEXT,
	started_at    DATETIME,
	completed_at  DATETIME,
	total_items   INTEGER NOT NULL DEFAULT 0,
	matched_items INTEGER NOT NULL DEFAULT 0,
	error         TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extracted_items (
	id               TEXT PRIMARY KEY,
	job_id           TEXT NOT NULL REFERENCES extraction_jobs(id) ON DELETE CASCADE,
	sequence         INTEGER NOT NULL,
	bill_number      TEXT,
	bill_name        TEXT,
	section_code     TEXT,
	section_name     TEXT,
	item_code        TEXT,
	description      TEXT NOT NULL,
	quantity         REAL,
	unit             TEXT,
	supply_rate      REAL,
	install_rate     REAL,
	total_rate       REAL,
	amount           REAL,
	is_rate_only     BOOLEAN NOT NULL DEFAULT 0,
	category_id      TEXT,
	category_name    TEXT,
	catalog_id       TEXT,
	match_confidence REAL,
	arithmetic_valid BOOLEAN NOT NULL DEFAULT 1,
	raw_data         BLOB,
	notes            TEXT,
	review_status    TEXT NOT NULL DEFAULT 'pending',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_extracted_items_job ON extracted_items(job_id, sequence);
CREATE INDEX IF NOT EXISTS idx_extraction_jobs_status ON extraction_jobs(status);

CREATE TABLE IF NOT EXISTS material_categories (
	id          TEXT PRIMARY KEY,
	code        TEXT NOT NULL UNIQUE,
	name        TEXT NOT NULL,
	description TEXT
);

CREATE TABLE IF NOT EXISTS master_materials (
	id           TEXT PRIMARY KEY,
	code         TEXT NOT NULL,
	name         TEXT NOT NULL,
	category_id  TEXT,
	unit         TEXT,
	supply_cost  REAL,
	install_cost REAL
);

CREATE INDEX IF NOT EXISTS idx_master_materials_code ON master_materials(code);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, id, source string) (*model.ExtractionJob, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_jobs (id, status, source, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.JobStatusPending), nullable(source), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert job %s", id)
	}

	return &model.ExtractionJob{
		ID:        id,
		Status:    model.JobStatusPending,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.ExtractionJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) MarkJobProcessing(ctx context.Context, id string) (*model.ExtractionJob, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusProcessing), now, now, id, string(model.JobStatusPending),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: mark job %s processing", id)
	}
	if err := s.checkTransition(ctx, res, id, ErrJobNotPending); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, total, matched int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = ?, total_items = ?, matched_items = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.JobStatusCompleted), total, matched, now, now, id, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return s.checkTransition(ctx, res, id, ErrJobNotProcessing)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, msg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_jobs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusFailed), msg, now, now, id, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return s.checkTransition(ctx, res, id, ErrJobNotProcessing)
}

// InsertItems writes one batch in a single transaction.
func (s *SQLiteStore) InsertItems(ctx context.Context, items []model.ExtractedItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert items")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO extracted_items (`+itemColumnList+`) VALUES (`+placeholders(len(itemColumns))+`)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert item")
	}
	defer stmt.Close()

	for _, it := range items {
		row, err := itemRow(it)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert item %d", it.Sequence)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert items")
}

func (s *SQLiteStore) ListItems(ctx context.Context, jobID string) ([]model.ExtractedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumnList+` FROM extracted_items WHERE job_id = ? ORDER BY sequence`, jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list items for job %s", jobID)
	}
	defer rows.Close()

	var items []model.ExtractedItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) DeleteItems(ctx context.Context, jobID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extracted_items WHERE job_id = ?`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete items for job %s", jobID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]model.CategoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name, description FROM material_categories ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	var out []model.CategoryEntry
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list categories iterate")
}

func (s *SQLiteStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, category_id, unit, supply_cost, install_cost FROM master_materials ORDER BY code, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list catalog")
	}
	defer rows.Close()

	var out []model.CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list catalog iterate")
}

func (s *SQLiteStore) SeedCategories(ctx context.Context, categories []model.CategoryEntry) (int, error) {
	rows := make([][]any, len(categories))
	for i, c := range categories {
		rows[i] = []any{c.ID, c.Code, c.Name, nullable(c.Description)}
	}
	return s.upsert(ctx, `INSERT INTO material_categories (id, code, name, description) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name, description = excluded.description`, rows)
}

func (s *SQLiteStore) SeedCatalog(ctx context.Context, entries []model.CatalogEntry) (int, error) {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.ID, e.Code, e.Name, nullable(e.CategoryID), nullable(e.Unit), e.SupplyCost, e.InstallCost}
	}
	return s.upsert(ctx, `INSERT INTO master_materials (id, code, name, category_id, unit, supply_cost, install_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, name = excluded.name, category_id = excluded.category_id,
		unit = excluded.unit, supply_cost = excluded.supply_cost, install_cost = excluded.install_cost`, rows)
}

func (s *SQLiteStore) upsert(ctx context.Context, query string, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin seed")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: seed %v", row[0])
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit seed")
	}
	return len(rows), nil
}

// checkTransition maps a guarded update that touched no rows to ErrNotFound
// or the given state sentinel.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, id string, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return eris.Wrapf(sentinel, "sqlite: job %s", id)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
