package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-preserve/pkg/preserve"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements preserve.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) preserve.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) preserve.Repository {
	return &Repository{db: pool}
}

// handlePostgresError maps database errors to domain errors.
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			// The partial unique index on non-terminal staging keys is the
			// authoritative enforcement of the one-pending-per-key rule.
			if pgErr.ConstraintName == "ingest_record_pending_staging_key_idx" {
				return preserve.ErrIngestPending
			}
			return fmt.Errorf("duplicate entry")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record not found")
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Ingest record operations

const ingestRecordColumns = `
	id, operation, status, staging_key, target_key, medusa_key, medusa_uuid,
	error_text, owner_kind, owner_id, sent_at, response_time, created_at, updated_at`

func (r *Repository) CreateIngestRecord(ctx context.Context, record *preserve.IngestRecord) error {
	query := `
		INSERT INTO ingest_record (` + ingestRecordColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Exec(ctx, query,
		record.ID, record.Operation, record.Status, record.StagingKey,
		record.TargetKey, record.MedusaKey, record.MedusaUUID, record.ErrorText,
		record.Owner.Kind, record.Owner.ID, record.SentAt, record.ResponseTime,
		record.CreatedAt, record.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("create ingest record", err)
	}

	return nil
}

func (r *Repository) GetIngestRecord(ctx context.Context, id uuid.UUID) (*preserve.IngestRecord, error) {
	query := `SELECT ` + ingestRecordColumns + ` FROM ingest_record WHERE id = $1`

	record, err := scanIngestRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preserve.ErrIngestNotFound
		}
		return nil, err
	}
	return record, nil
}

func (r *Repository) UpdateIngestRecord(ctx context.Context, record *preserve.IngestRecord) error {
	query := `
		UPDATE ingest_record SET
			operation = $2, status = $3, staging_key = $4, target_key = $5,
			medusa_key = $6, medusa_uuid = $7, error_text = $8,
			owner_kind = $9, owner_id = $10, sent_at = $11,
			response_time = $12, updated_at = $13
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		record.ID, record.Operation, record.Status, record.StagingKey,
		record.TargetKey, record.MedusaKey, record.MedusaUUID, record.ErrorText,
		record.Owner.Kind, record.Owner.ID, record.SentAt, record.ResponseTime,
		record.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("update ingest record", err)
	}
	if tag.RowsAffected() == 0 {
		return preserve.ErrIngestNotFound
	}
	return nil
}

func (r *Repository) DeleteIngestRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM ingest_record WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete ingest record", err)
	}
	if tag.RowsAffected() == 0 {
		return preserve.ErrIngestNotFound
	}
	return nil
}

func (r *Repository) ListPendingByStagingKey(ctx context.Context, stagingKey string) ([]*preserve.IngestRecord, error) {
	query := `
		SELECT ` + ingestRecordColumns + `
		FROM ingest_record
		WHERE staging_key = $1 AND status IN ('pending', 'resent')
		ORDER BY updated_at DESC`

	return r.queryIngestRecords(ctx, query, stagingKey)
}

func (r *Repository) ListPendingByMedusaUUID(ctx context.Context, medusaUUID string) ([]*preserve.IngestRecord, error) {
	query := `
		SELECT ` + ingestRecordColumns + `
		FROM ingest_record
		WHERE operation = 'delete' AND medusa_uuid = $1 AND status IN ('pending', 'resent')
		ORDER BY updated_at DESC`

	return r.queryIngestRecords(ctx, query, medusaUUID)
}

func (r *Repository) ListStaleIngests(ctx context.Context, sentBefore time.Time) ([]*preserve.IngestRecord, error) {
	// Never-published records (sent_at NULL) are stale from creation.
	query := `
		SELECT ` + ingestRecordColumns + `
		FROM ingest_record
		WHERE status IN ('pending', 'resent') AND COALESCE(sent_at, created_at) < $1
		ORDER BY COALESCE(sent_at, created_at) ASC`

	return r.queryIngestRecords(ctx, query, sentBefore)
}

func (r *Repository) queryIngestRecords(ctx context.Context, query string, args ...interface{}) ([]*preserve.IngestRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*preserve.IngestRecord
	for rows.Next() {
		record, err := scanIngestRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanIngestRecord(row pgx.Row) (*preserve.IngestRecord, error) {
	var record preserve.IngestRecord
	err := row.Scan(
		&record.ID, &record.Operation, &record.Status, &record.StagingKey,
		&record.TargetKey, &record.MedusaKey, &record.MedusaUUID,
		&record.ErrorText, &record.Owner.Kind, &record.Owner.ID,
		&record.SentAt, &record.ResponseTime, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Bitstream operations

const bitstreamColumns = `
	id, item_id, institution_key, filename, length, content_type,
	staging_key, permanent_key, medusa_uuid, created_at, updated_at, deleted_at`

func (r *Repository) CreateBitstream(ctx context.Context, bitstream *preserve.Bitstream) error {
	query := `
		INSERT INTO bitstream (` + bitstreamColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		bitstream.ID, bitstream.ItemID, bitstream.InstitutionKey,
		bitstream.Filename, bitstream.Length, bitstream.ContentType,
		bitstream.StagingKey, bitstream.PermanentKey, bitstream.MedusaUUID,
		bitstream.CreatedAt, bitstream.UpdatedAt, bitstream.DeletedAt)

	if err != nil {
		return r.handlePostgresError("create bitstream", err)
	}

	return nil
}

func (r *Repository) GetBitstream(ctx context.Context, id uuid.UUID) (*preserve.Bitstream, error) {
	query := `SELECT ` + bitstreamColumns + ` FROM bitstream WHERE id = $1 AND deleted_at IS NULL`

	bitstream, err := scanBitstream(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preserve.ErrBitstreamNotFound
		}
		return nil, err
	}
	return bitstream, nil
}

func (r *Repository) GetBitstreamByMedusaUUID(ctx context.Context, medusaUUID string) (*preserve.Bitstream, error) {
	query := `SELECT ` + bitstreamColumns + ` FROM bitstream WHERE medusa_uuid = $1 AND deleted_at IS NULL`

	bitstream, err := scanBitstream(r.db.QueryRow(ctx, query, medusaUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, preserve.ErrBitstreamNotFound
		}
		return nil, err
	}
	return bitstream, nil
}

func (r *Repository) UpdateBitstream(ctx context.Context, bitstream *preserve.Bitstream) error {
	query := `
		UPDATE bitstream SET
			item_id = $2, institution_key = $3, filename = $4, length = $5,
			content_type = $6, staging_key = $7, permanent_key = $8,
			medusa_uuid = $9, updated_at = $10
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		bitstream.ID, bitstream.ItemID, bitstream.InstitutionKey,
		bitstream.Filename, bitstream.Length, bitstream.ContentType,
		bitstream.StagingKey, bitstream.PermanentKey, bitstream.MedusaUUID,
		bitstream.UpdatedAt)

	if err != nil {
		return r.handlePostgresError("update bitstream", err)
	}
	if tag.RowsAffected() == 0 {
		return preserve.ErrBitstreamNotFound
	}
	return nil
}

func (r *Repository) DeleteBitstream(ctx context.Context, id uuid.UUID) error {
	// Soft delete: the row is kept for correlation and reporting.
	query := `UPDATE bitstream SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return r.handlePostgresError("delete bitstream", err)
	}
	if tag.RowsAffected() == 0 {
		return preserve.ErrBitstreamNotFound
	}
	return nil
}

func scanBitstream(row pgx.Row) (*preserve.Bitstream, error) {
	var bitstream preserve.Bitstream
	err := row.Scan(
		&bitstream.ID, &bitstream.ItemID, &bitstream.InstitutionKey,
		&bitstream.Filename, &bitstream.Length, &bitstream.ContentType,
		&bitstream.StagingKey, &bitstream.PermanentKey, &bitstream.MedusaUUID,
		&bitstream.CreatedAt, &bitstream.UpdatedAt, &bitstream.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &bitstream, nil
}

// Audit trail operations

func (r *Repository) AppendAudit(ctx context.Context, entry *preserve.AuditEntry) error {
	query := `
		INSERT INTO inbound_message (id, queue, raw_body, received_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, entry.ID, entry.Queue, entry.RawBody, entry.ReceivedAt)
	if err != nil {
		return r.handlePostgresError("append audit entry", err)
	}
	return nil
}

func (r *Repository) ListAuditEntries(ctx context.Context, limit int) ([]*preserve.AuditEntry, error) {
	query := `
		SELECT id, queue, raw_body, received_at
		FROM inbound_message
		ORDER BY received_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*preserve.AuditEntry
	for rows.Next() {
		var entry preserve.AuditEntry
		if err := rows.Scan(&entry.ID, &entry.Queue, &entry.RawBody, &entry.ReceivedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Download count operations

func (r *Repository) IncrementDownloadCount(ctx context.Context, scope preserve.Scope, year, month int) error {
	// A database-native upsert; read-modify-write at the application
	// layer would lose increments under concurrent downloads.
	query := `
		INSERT INTO download_count (scope_kind, scope_id, year, month, count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (scope_kind, scope_id, year, month)
		DO UPDATE SET count = download_count.count + 1`

	_, err := r.db.Exec(ctx, query, scope.Kind, scope.ID, year, month)
	if err != nil {
		return r.handlePostgresError("increment download count", err)
	}
	return nil
}

func (r *Repository) ListDownloadCounts(ctx context.Context, scope preserve.Scope, from, to time.Time) ([]*preserve.DownloadCount, error) {
	query := `
		SELECT year, month, count
		FROM download_count
		WHERE scope_kind = $1 AND scope_id = $2
		  AND (year, month) >= ($3, $4) AND (year, month) <= ($5, $6)
		ORDER BY year, month`

	rows, err := r.db.Query(ctx, query,
		scope.Kind, scope.ID, from.Year(), int(from.Month()), to.Year(), int(to.Month()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*preserve.DownloadCount
	for rows.Next() {
		row := preserve.DownloadCount{Scope: scope}
		if err := rows.Scan(&row.Year, &row.Month, &row.Count); err != nil {
			return nil, err
		}
		counts = append(counts, &row)
	}
	return counts, rows.Err()
}

func (r *Repository) DeleteDownloadCounts(ctx context.Context, scope preserve.Scope) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM download_count WHERE scope_kind = $1 AND scope_id = $2`,
		scope.Kind, scope.ID)
	if err != nil {
		return r.handlePostgresError("delete download counts", err)
	}
	return nil
}
