package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vidgen/backend/internal/db"
	"github.com/vidgen/backend/internal/models"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// GenerationRepository exposes data access for completed generations.
type GenerationRepository interface {
	Record(ctx context.Context, result models.GenerationResult) error
	Get(ctx context.Context, id string) (models.GenerationResult, error)
	ListRecent(ctx context.Context, limit int) ([]models.GenerationResult, error)
}

// PostgresGenerationRepository provides PostgreSQL-backed persistence for generations.
type PostgresGenerationRepository struct {
	pool db.Pool
}

// NewPostgresGenerationRepository constructs a generation repository backed by PostgreSQL.
func NewPostgresGenerationRepository(pool db.Pool) *PostgresGenerationRepository {
	return &PostgresGenerationRepository{pool: pool}
}

const selectGeneration = `
        SELECT id, prompt, reference_image_url, duration_seconds, resolution, audio, model_name,
               size_bytes, video_url, tags, source, created_by, status, created_at
        FROM generations`

// Record stores a completed generation.
func (r *PostgresGenerationRepository) Record(ctx context.Context, result models.GenerationResult) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tags := result.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO generations (id, prompt, reference_image_url, duration_seconds, resolution, audio,
            model_name, size_bytes, video_url, tags, source, created_by, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `, result.ID, result.Prompt, result.ReferenceImage, result.Duration, result.Resolution, result.Audio,
		result.ModelName, result.SizeBytes, result.URL, tags, result.Source, result.CreatedBy, result.Status, result.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert generation: %w", err)
	}

	return nil
}

// Get fetches a single generation by id.
func (r *PostgresGenerationRepository) Get(ctx context.Context, id string) (models.GenerationResult, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	result, err := scanGeneration(conn.QueryRow(ctx, selectGeneration+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.GenerationResult{}, ErrNotFound
		}
		return models.GenerationResult{}, fmt.Errorf("select generation: %w", err)
	}
	return result, nil
}

// ListRecent returns the newest generations first. The limit is clamped to
// [1, MaxListLimit] with DefaultListLimit for non-positive values.
func (r *PostgresGenerationRepository) ListRecent(ctx context.Context, limit int) ([]models.GenerationResult, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, selectGeneration+` ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	results := []models.GenerationResult{}
	for rows.Next() {
		result, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}

	return results, nil
}

func scanGeneration(row pgx.Row) (models.GenerationResult, error) {
	var result models.GenerationResult
	err := row.Scan(&result.ID, &result.Prompt, &result.ReferenceImage, &result.Duration, &result.Resolution,
		&result.Audio, &result.ModelName, &result.SizeBytes, &result.URL, &result.Tags, &result.Source,
		&result.CreatedBy, &result.Status, &result.CreatedAt)
	if err != nil {
		return models.GenerationResult{}, err
	}

	result.CreatedAt = result.CreatedAt.UTC()
	if result.Tags == nil {
		result.Tags = []string{}
	}
	// Only successful, stored videos are ever recorded.
	result.Downloaded = true
	result.Verified = true
	return result, nil
}

var _ GenerationRepository = (*PostgresGenerationRepository)(nil)
