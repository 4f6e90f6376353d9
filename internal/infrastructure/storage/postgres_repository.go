package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

const defaultBatchSize = 500

var identifierExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var recordColumns = []string{
	"province", "city", "site", "category", "page_url", "page_release_date", "page_source",
	"title", "content", "attachment_name", "record_path", "attachment_path", "created_time",
}

// PostgresRepository persists page records into Postgres with insert-or-ignore semantics.
type PostgresRepository struct {
	db        *sqlx.DB
	table     string
	builder   sq.StatementBuilderType
	batchSize int
}

var _ ports.RecordStore = (*PostgresRepository)(nil)

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", domain.ErrStoreUnavailable, err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewPostgresRepository wires a sqlx.DB; table may be schema-qualified ("public.data").
func NewPostgresRepository(db *sqlx.DB, table string) (*PostgresRepository, error) {
	if table == "" {
		table = "page_records"
	}
	if !identifierExpr.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	return &PostgresRepository{
		db:        db,
		table:     quoteTable(table),
		builder:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		batchSize: defaultBatchSize,
	}, nil
}

// Exists reports whether a record with pageURL is already stored.
func (r *PostgresRepository) Exists(ctx context.Context, pageURL string) (bool, error) {
	query, args, err := r.builder.
		Select("1").
		From(r.table).
		Where(sq.Eq{"page_url": pageURL}).
		Limit(1).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, storeError("exists query", err)
	}
	return exists, nil
}

// SaveBatch writes all records in one transaction. Rows whose page_url already
// exists are skipped by the database; the number of inserted rows is returned.
// An empty batch never touches the database.
func (r *PostgresRepository) SaveBatch(ctx context.Context, records []domain.PageRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for i, rec := range records {
		if strings.TrimSpace(rec.PageURL) == "" {
			return 0, fmt.Errorf("%w: record %d has empty page_url", domain.ErrContractViolation, i)
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storeError("begin batch", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	total := 0
	for start := 0; start < len(records); start += r.batchSize {
		end := min(start+r.batchSize, len(records))

		insert := r.builder.Insert(r.table).Columns(recordColumns...)
		for _, rec := range records[start:end] {
			insert = insert.Values(
				rec.Province, rec.City, rec.Site, rec.Category, rec.PageURL, rec.PageReleaseDate,
				rec.PageSource, rec.Title, rec.Content, rec.AttachmentName, rec.RecordPath,
				rec.AttachmentPath, rec.CreatedTime,
			)
		}
		query, args, err := insert.Suffix("ON CONFLICT (page_url) DO NOTHING").ToSql()
		if err != nil {
			return 0, fmt.Errorf("build batch insert: %w", err)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, storeError("insert batch", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storeError("commit batch", err)
	}
	committed = true
	return total, nil
}

// EnsureSchema creates the page table and its unique key when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id                BIGSERIAL PRIMARY KEY,
	province          TEXT,
	city              TEXT,
	site              TEXT,
	category          TEXT,
	page_url          TEXT NOT NULL,
	page_release_date TIMESTAMP NULL,
	page_source       TEXT NULL,
	title             TEXT NULL,
	content           TEXT NULL,
	attachment_name   TEXT NULL,
	record_path       TEXT NULL,
	attachment_path   TEXT NULL,
	created_time      TIMESTAMP NOT NULL DEFAULT NOW(),
	CONSTRAINT %s UNIQUE (page_url)
)`, r.table, pq.QuoteIdentifier(constraintName(r.table)))

	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return storeError("ensure schema", err)
	}
	return nil
}

func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

func constraintName(quotedTable string) string {
	name := strings.NewReplacer(`"`, "", ".", "_").Replace(quotedTable)
	return name + "_page_url_key"
}

func storeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w: %s: %s (%s): %w", domain.ErrStoreUnavailable, op, pqErr.Code.Name(), pqErr.Code, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
