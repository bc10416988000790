package recordings

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ripplenote/backend/internal/models"
)

// Repository persists finished recordings so their metadata survives restarts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings archive repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an archive row when a recording stops.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (id, room_id, user_id, filename, filepath, status, started_at, stopped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, rec.ID, rec.RoomID, rec.UserID, rec.Filename, rec.Filepath, rec.Status, rec.StartedAt, rec.StoppedAt)
	return err
}

// GetByID returns the archived recording, or nil if unknown.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Recording, error) {
	const q = `SELECT id, room_id, user_id, filename, filepath, COALESCE(s3_url,''), COALESCE(s3_key,''), file_size, status, started_at, stopped_at, created_at, updated_at
		FROM recordings WHERE id = $1`
	var rec models.Recording
	err := r.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.RoomID, &rec.UserID, &rec.Filename, &rec.Filepath, &rec.S3URL, &rec.S3Key, &rec.FileSize, &rec.Status, &rec.StartedAt, &rec.StoppedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByRoom returns archived recordings for a room, newest first.
func (r *Repository) ListByRoom(ctx context.Context, roomID string) ([]models.Recording, error) {
	const q = `SELECT id, room_id, user_id, filename, filepath, COALESCE(s3_url,''), COALESCE(s3_key,''), file_size, status, started_at, stopped_at, created_at, updated_at
		FROM recordings WHERE room_id = $1 ORDER BY started_at DESC`
	rows, err := r.pool.Query(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		var rec models.Recording
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.UserID, &rec.Filename, &rec.Filepath, &rec.S3URL, &rec.S3Key, &rec.FileSize, &rec.Status, &rec.StartedAt, &rec.StoppedAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// MarkUploaded records the storage locator after a successful upload.
func (r *Repository) MarkUploaded(ctx context.Context, id, s3URL, s3Key string, fileSize int64) error {
	const q = `UPDATE recordings SET s3_url = $1, s3_key = $2, file_size = $3, status = $4, updated_at = NOW() WHERE id = $5`
	_, err := r.pool.Exec(ctx, q, s3URL, s3Key, fileSize, models.RecordingStatusUploaded, id)
	return err
}
