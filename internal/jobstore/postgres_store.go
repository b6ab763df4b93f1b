package jobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists jobs and assets in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS nft_jobs (
    job_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    tx_hash TEXT NOT NULL DEFAULT '',
    receipt JSONB,
    explorer_url TEXT NOT NULL DEFAULT '',
    result JSONB,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS nft_assets (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    job_id TEXT NOT NULL UNIQUE,
    content_id TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS nft_assets_user_id_idx ON nft_assets (user_id);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Register(ctx context.Context, jobID string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO nft_jobs (job_id, status)
VALUES ($1, $2)
ON CONFLICT (job_id) DO NOTHING
`, jobID, string(StatusRegistered))
	return err
}

func (p *PostgresStore) GetStatus(ctx context.Context, jobID string) (Status, error) {
	var status string
	err := p.pool.QueryRow(ctx, `SELECT status FROM nft_jobs WHERE job_id = $1`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return "", err
	}
	return Status(status), nil
}

func (p *PostgresStore) SetStatus(ctx context.Context, jobID string, status Status) error {
	return p.exec(ctx, jobID, `UPDATE nft_jobs SET status = $2, updated_at = now() WHERE job_id = $1`, jobID, string(status))
}

func (p *PostgresStore) SetHash(ctx context.Context, jobID, txHash string) error {
	return p.exec(ctx, jobID, `UPDATE nft_jobs SET tx_hash = $2, updated_at = now() WHERE job_id = $1`, jobID, txHash)
}

func (p *PostgresStore) SetReceipt(ctx context.Context, jobID string, receipt []byte, explorerURL string) error {
	return p.exec(ctx, jobID, `
UPDATE nft_jobs SET receipt = $2, explorer_url = $3, updated_at = now() WHERE job_id = $1
`, jobID, receipt, explorerURL)
}

func (p *PostgresStore) SetResult(ctx context.Context, jobID string, result []byte) error {
	return p.exec(ctx, jobID, `UPDATE nft_jobs SET result = $2, updated_at = now() WHERE job_id = $1`, jobID, result)
}

func (p *PostgresStore) AddAsset(ctx context.Context, asset Asset) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO nft_assets (user_id, job_id, content_id, tx_hash, metadata)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO NOTHING
`, asset.UserID, asset.JobID, asset.ContentID, asset.TxHash, []byte(asset.Metadata))
	return err
}

func (p *PostgresStore) ListAssets(ctx context.Context, userID string) ([]Asset, error) {
	rows, err := p.pool.Query(ctx, `
SELECT user_id, job_id, content_id, tx_hash, metadata, created_at
FROM nft_assets
WHERE user_id = $1
ORDER BY created_at, id
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Asset, 0)
	for rows.Next() {
		var (
			a        Asset
			metadata []byte
		)
		if err := rows.Scan(&a.UserID, &a.JobID, &a.ContentID, &a.TxHash, &metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = metadata
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) exec(ctx context.Context, jobID, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}
