package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vodworks/pipeline/pkg/models"
)

const repoTimeout = 5 * time.Second

// VideoRepository provides access to video metadata in Postgres.
type VideoRepository struct {
	pool *pgxpool.Pool
}

// NewVideoRepository builds a repository over an existing pool.
func NewVideoRepository(pool *pgxpool.Pool) *VideoRepository {
	return &VideoRepository{pool: pool}
}

// Insert persists a new video row. This is the last step of the upload
// pipeline; failures here leave already-written objects behind.
func (r *VideoRepository) Insert(ctx context.Context, asset models.VideoAsset) (*models.VideoAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO videos (id, object_key, original_name, mime_type, size_bytes, owner_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, object_key, original_name, mime_type, size_bytes, owner_id, uploaded_at;`

	row := r.pool.QueryRow(ctx, query,
		asset.ID,
		asset.ObjectKey,
		asset.OriginalName,
		asset.MimeType,
		asset.SizeBytes,
		asset.OwnerID,
	)

	var stored models.VideoAsset
	if err := scanAsset(row, &stored); err != nil {
		return nil, fmt.Errorf("insert video: %w", err)
	}
	return &stored, nil
}

// ListByOwner returns all videos owned by ownerID, newest first.
func (r *VideoRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.VideoSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT id, object_key, original_name, mime_type, size_bytes, uploaded_at
FROM videos
WHERE owner_id = $1
ORDER BY uploaded_at DESC;`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	summaries := []models.VideoSummary{}
	for rows.Next() {
		var s models.VideoSummary
		if err := rows.Scan(&s.ID, &s.ObjectKey, &s.OriginalName, &s.MimeType, &s.SizeBytes, &s.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan video summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}
	return summaries, nil
}

// GetByID fetches one video scoped to its owner.
func (r *VideoRepository) GetByID(ctx context.Context, id, ownerID string) (*models.VideoAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT id, object_key, original_name, mime_type, size_bytes, owner_id, uploaded_at
FROM videos
WHERE id = $1 AND owner_id = $2;`

	var asset models.VideoAsset
	if err := scanAsset(r.pool.QueryRow(ctx, query, id, ownerID), &asset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrVideoNotFound
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return &asset, nil
}

// UpdateName renames a video, scoped to its owner.
func (r *VideoRepository) UpdateName(ctx context.Context, id, ownerID, name string) (*models.VideoAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE videos
SET original_name = $3
WHERE id = $1 AND owner_id = $2
RETURNING id, object_key, original_name, mime_type, size_bytes, owner_id, uploaded_at;`

	var asset models.VideoAsset
	if err := scanAsset(r.pool.QueryRow(ctx, query, id, ownerID, name), &asset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrVideoNotFound
		}
		return nil, fmt.Errorf("update video name: %w", err)
	}
	return &asset, nil
}

// Delete removes a video row and returns the deleted record so the
// caller can clean up its backing object.
func (r *VideoRepository) Delete(ctx context.Context, id, ownerID string) (*models.VideoAsset, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
DELETE FROM videos
WHERE id = $1 AND owner_id = $2
RETURNING id, object_key, original_name, mime_type, size_bytes, owner_id, uploaded_at;`

	var asset models.VideoAsset
	if err := scanAsset(r.pool.QueryRow(ctx, query, id, ownerID), &asset); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrVideoNotFound
		}
		return nil, fmt.Errorf("delete video: %w", err)
	}
	return &asset, nil
}

func scanAsset(row pgx.Row, asset *models.VideoAsset) error {
	return row.Scan(
		&asset.ID,
		&asset.ObjectKey,
		&asset.OriginalName,
		&asset.MimeType,
		&asset.SizeBytes,
		&asset.OwnerID,
		&asset.UploadedAt,
	)
}
