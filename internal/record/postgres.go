package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// PostgresGateway implements Gateway on database/sql. The ready upsert is
// a single INSERT ... ON CONFLICT statement, so the existence check and
// the version increment happen atomically inside the store.
type PostgresGateway struct {
	db *sql.DB
}

// NewPostgresGateway wraps an open database handle.
func NewPostgresGateway(db *sql.DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

const recordColumns = `id, content_hash, crop_sig, s3_bucket, s3_key,
		width, height, mime, size_bytes, status, version, created_at, updated_at`

func scanRecord(row *sql.Row) (*Record, error) {
	var r Record
	var status string
	err := row.Scan(&r.ID, &r.Hash, &r.Sig, &r.Bucket, &r.Key,
		&r.Width, &r.Height, &r.MIME, &r.SizeBytes, &status, &r.Version,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = imagecache.Status(status)
	return &r, nil
}

func (g *PostgresGateway) FindByKey(ctx context.Context, hash, sig string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM image_records WHERE content_hash = $1 AND crop_sig = $2`, recordColumns)

	rec, err := scanRecord(g.db.QueryRowContext(ctx, query, hash, sig))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find image record: %w", err)
	}
	return rec, nil
}

func (g *PostgresGateway) MarkProcessing(ctx context.Context, hash, sig string) error {
	query := `
		INSERT INTO image_records (content_hash, crop_sig, s3_bucket, s3_key,
			width, height, mime, size_bytes, status, version, created_at, updated_at)
		VALUES ($1, $2, '', '', 0, 0, 'application/octet-stream', 0, 'processing', 0, NOW(), NOW())
		ON CONFLICT (content_hash, crop_sig) DO UPDATE
		SET status = 'processing',
		    updated_at = NOW()
	`

	if _, err := g.db.ExecContext(ctx, query, hash, sig); err != nil {
		return fmt.Errorf("failed to mark record processing: %w", err)
	}
	return nil
}

func (g *PostgresGateway) UpsertReady(ctx context.Context, hash, sig string, attrs ReadyAttrs) (*Record, error) {
	query := fmt.Sprintf(`
		INSERT INTO image_records (content_hash, crop_sig, s3_bucket, s3_key,
			width, height, mime, size_bytes, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'ready', 1, NOW(), NOW())
		ON CONFLICT (content_hash, crop_sig) DO UPDATE
		SET s3_bucket = EXCLUDED.s3_bucket,
		    s3_key = EXCLUDED.s3_key,
		    width = EXCLUDED.width,
		    height = EXCLUDED.height,
		    mime = EXCLUDED.mime,
		    size_bytes = EXCLUDED.size_bytes,
		    status = 'ready',
		    version = image_records.version + 1,
		    updated_at = NOW()
		RETURNING %s`, recordColumns)

	rec, err := scanRecord(g.db.QueryRowContext(ctx, query,
		hash, sig, attrs.Bucket, attrs.Key,
		attrs.Width, attrs.Height, attrs.MIME, attrs.SizeBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert image record: %w", err)
	}
	return rec, nil
}

func (g *PostgresGateway) Version(ctx context.Context, hash, sig string) (int, error) {
	query := `SELECT version FROM image_records WHERE content_hash = $1 AND crop_sig = $2`

	var version int
	err := g.db.QueryRowContext(ctx, query, hash, sig).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get record version: %w", err)
	}
	return version, nil
}
