// Package postgres mirrors pricing databases and build outcomes into Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
	"github.com/JakeFAU/vm-pricedb/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var (
	recordColumns  = []string{"run_id", "region", "sku", "vcpu", "ram_gb", "price"}
	outcomeColumns = []string{"run_id", "region", "status", "records", "duration_ms", "reason", "recorded_at"}
)

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	RecordsTable    string
	RunsTable       string
	OutcomesTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, rows pgx.CopyFromSource) (int64, error)
	Close()
}

// Store implements pricedb.RecordStore and store.OutcomeRepository.
type Store struct {
	pool     pool
	records  string
	runs     string
	outcomes string
}

var (
	_ pricedb.RecordStore     = (*Store)(nil)
	_ store.OutcomeRepository = (*Store)(nil)
)

// Open connects a pgx pool using cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(p pool, cfg Config) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	s := &Store{
		pool:     p,
		records:  orDefault(cfg.RecordsTable, "vm_prices"),
		runs:     orDefault(cfg.RunsTable, "price_runs"),
		outcomes: orDefault(cfg.OutcomesTable, "region_outcomes"),
	}
	for _, table := range []string{s.records, s.runs, s.outcomes} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	regions       INTEGER NOT NULL DEFAULT 0,
	records       BIGINT NOT NULL DEFAULT 0,
	artifact_uri  TEXT,
	digest        TEXT,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id UUID NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	region TEXT NOT NULL,
	sku    TEXT NOT NULL,
	vcpu   DOUBLE PRECISION NOT NULL,
	ram_gb DOUBLE PRECISION NOT NULL,
	price  DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS %[4]s ON %[2]s (run_id, region, sku);
CREATE TABLE IF NOT EXISTS %[3]s (
	run_id      UUID NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	region      TEXT NOT NULL,
	status      TEXT NOT NULL,
	records     BIGINT NOT NULL,
	duration_ms BIGINT NOT NULL,
	reason      TEXT,
	recorded_at TIMESTAMPTZ NOT NULL
);`,
		s.ident(s.runs), s.ident(s.records), s.ident(s.outcomes), s.ident(s.records+"_lookup_idx"))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// WriteDatabase replaces the run's rows with db inside one transaction.
func (s *Store) WriteDatabase(ctx context.Context, run pricedb.Run, db pricedb.Database) error {
	runID, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("parse run id: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, status, regions, records, artifact_uri, digest)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET records = EXCLUDED.records, artifact_uri = EXCLUDED.artifact_uri, digest = EXCLUDED.digest;`,
		s.ident(s.runs))
	if _, err := tx.Exec(ctx, upsert,
		runID, run.StartedAt, string(run.Status), run.Regions, int64(len(db)), run.ArtifactURI, run.Digest,
	); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1;`, s.ident(s.records)), runID); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}

	rows := make([][]any, 0, len(db))
	for _, r := range db {
		rows = append(rows, []any{runID, r.Region, r.SKU, r.VCPU, r.RAM, r.Price})
	}
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{s.records}, recordColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	if copied != int64(len(db)) {
		return fmt.Errorf("copy records: wrote %d of %d rows", copied, len(db))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// StartRun inserts a running run row, refreshing it when it already exists.
func (s *Store) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, regions int) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, status, regions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, regions = EXCLUDED.regions;`,
		s.ident(s.runs))
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(pricedb.RunRunning), regions); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordRegions bulk-inserts region outcome rows.
func (s *Store) RecordRegions(ctx context.Context, rows []store.RegionRow) error {
	if len(rows) == 0 {
		return nil
	}
	src := make([][]any, 0, len(rows))
	for _, r := range rows {
		src = append(src, []any{
			r.RunID, r.Region, string(r.Status), r.Records, r.Duration.Milliseconds(), r.Reason, r.At,
		})
	}
	if _, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.outcomes}, outcomeColumns, pgx.CopyFromRows(src)); err != nil {
		return fmt.Errorf("record regions: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *Store) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status pricedb.RunStatus,
	records int64,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, records = $3, error_message = $4
		WHERE id = $5;`,
		s.ident(s.runs))
	if _, err := s.pool.Exec(ctx, query, finishedAt, string(status), records, errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (s *Store) ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
