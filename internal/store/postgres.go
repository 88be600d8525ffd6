package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/db"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(10), int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_jobs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'pending',
	source        TEXT,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	total_items   INTEGER NOT NULL DEFAULT 0,
	matched_items INTEGER NOT NULL DEFAULT 0,
	error         TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
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
	quantity         DOUBLE PRECISION,
	unit             TEXT,
	supply_rate      DOUBLE PRECISION,
	install_rate     DOUBLE PRECISION,
	total_rate       DOUBLE PRECISION,
	amount           DOUBLE PRECISION,
	is_rate_only     BOOLEAN NOT NULL DEFAULT false,
	category_id      TEXT,
	category_name    TEXT,
	catalog_id       TEXT,
	match_confidence DOUBLE PRECISION,
	arithmetic_valid BOOLEAN NOT NULL DEFAULT true,
	raw_data         JSONB,
	notes            TEXT,
	review_status    TEXT NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
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
	supply_cost  DOUBLE PRECISION,
	install_cost DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_master_materials_code ON master_materials(code);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, id, source string) (*model.ExtractionJob, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO extraction_jobs (id, status, source, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.JobStatusPending), nullable(source), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert job %s", id)
	}

	return &model.ExtractionJob{
		ID:        id,
		Status:    model.JobStatusPending,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.ExtractionJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) MarkJobProcessing(ctx context.Context, id string) (*model.ExtractionJob, error) {
	now := time.Now().UTC()
	job, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE extraction_jobs SET status = $1, started_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4 RETURNING `+jobColumns,
		string(model.JobStatusProcessing), now, id, string(model.JobStatusPending),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.transitionError(ctx, id, ErrJobNotPending)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: mark job %s processing", id)
	}
	return job, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, total, matched int) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_jobs SET status = $1, total_items = $2, matched_items = $3, completed_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6`,
		string(model.JobStatusCompleted), total, matched, now, id, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, ErrJobNotProcessing)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, msg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_jobs SET status = $1, error = $2, completed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(model.JobStatusFailed), msg, now, id, string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, ErrJobNotProcessing)
	}
	return nil
}

// transitionError distinguishes a missing job from one in the wrong state.
func (s *PostgresStore) transitionError(ctx context.Context, id string, sentinel error) error {
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return eris.Wrapf(sentinel, "postgres: job %s", id)
}

// InsertItems writes one batch with COPY.
func (s *PostgresStore) InsertItems(ctx context.Context, items []model.ExtractedItem) error {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		row, err := itemRow(it)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	_, err := db.CopyFrom(ctx, s.pool, "extracted_items", itemColumns, rows)
	return eris.Wrap(err, "postgres: insert items")
}

func (s *PostgresStore) ListItems(ctx context.Context, jobID string) ([]model.ExtractedItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumnList+` FROM extracted_items WHERE job_id = $1 ORDER BY sequence`, jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list items for job %s", jobID)
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
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) DeleteItems(ctx context.Context, jobID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extracted_items WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete items for job %s", jobID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]model.CategoryEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, code, name, description FROM material_categories ORDER BY code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
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
	return out, eris.Wrap(rows.Err(), "postgres: list categories iterate")
}

func (s *PostgresStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, name, category_id, unit, supply_cost, install_cost FROM master_materials ORDER BY code, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list catalog")
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
	return out, eris.Wrap(rows.Err(), "postgres: list catalog iterate")
}

func (s *PostgresStore) SeedCategories(ctx context.Context, categories []model.CategoryEntry) (int, error) {
	rows := make([][]any, len(categories))
	for i, c := range categories {
		rows[i] = []any{c.ID, c.Code, c.Name, nullable(c.Description)}
	}
	n, err := db.Upsert(ctx, s.pool, db.UpsertConfig{
		Table:        "material_categories",
		Columns:      []string{"id", "code", "name", "description"},
		ConflictKeys: []string{"id"},
	}, rows)
	return int(n), eris.Wrap(err, "postgres: seed categories")
}

func (s *PostgresStore) SeedCatalog(ctx context.Context, entries []model.CatalogEntry) (int, error) {
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.ID, e.Code, e.Name, nullable(e.CategoryID), nullable(e.Unit), e.SupplyCost, e.InstallCost}
	}
	n, err := db.Upsert(ctx, s.pool, db.UpsertConfig{
		Table:        "master_materials",
		Columns:      []string{"id", "code", "name", "category_id", "unit", "supply_cost", "install_cost"},
		ConflictKeys: []string{"id"},
	}, rows)
	return int(n), eris.Wrap(err, "postgres: seed catalog")
}
