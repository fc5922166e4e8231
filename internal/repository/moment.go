package repository

import (
	"context"
	"fmt"

	"joy-journal/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MomentRepository handles remote record store operations for moments.
// Every statement is scoped by the owning user id.
type MomentRepository struct {
	db *pgxpool.Pool
}

// NewMomentRepository creates a new moment repository
func NewMomentRepository(db *pgxpool.Pool) *MomentRepository {
	return &MomentRepository{db: db}
}

// ListByOwner retrieves all moments of a user, newest first
func (r *MomentRepository) ListByOwner(ctx context.Context, userID string) ([]*models.MomentRecord, error) {
	query := `
		SELECT id::text, user_id::text, content, to_char(date, 'YYYY-MM-DD'), color, image_url, created_at
		FROM joy_moments
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get moments: %w", err)
	}
	defer rows.Close()

	moments := make([]*models.MomentRecord, 0)
	for rows.Next() {
		var rec models.MomentRecord
		err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.Content, &rec.Date,
			&rec.Color, &rec.ImageURL, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan moment: %w", err)
		}
		moments = append(moments, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating moments: %w", err)
	}

	return moments, nil
}

// Create inserts a moment and returns the stored row with its generated id
func (r *MomentRepository) Create(ctx context.Context, rec *models.MomentRecord) (*models.MomentRecord, error) {
	query := `
		INSERT INTO joy_moments (user_id, content, date, color, image_url)
		VALUES ($1, $2, $3::date, $4, $5)
		RETURNING id::text, created_at
	`
	created := *rec
	err := r.db.QueryRow(ctx, query,
		rec.UserID, rec.Content, rec.Date, rec.Color, rec.ImageURL,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create moment: %w", err)
	}
	return &created, nil
}

// Delete deletes a user's moment by ID. Deleting a missing moment is not an error.
func (r *MomentRepository) Delete(ctx context.Context, userID, id string) error {
	// Ids minted by the local store are never valid row ids
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}

	query := `DELETE FROM joy_moments WHERE id = $1 AND user_id = $2`
	if _, err := r.db.Exec(ctx, query, id, userID); err != nil {
		return fmt.Errorf("failed to delete moment: %w", err)
	}
	return nil
}

// DeleteByOwner deletes every moment of a user
func (r *MomentRepository) DeleteByOwner(ctx context.Context, userID string) error {
	query := `DELETE FROM joy_moments WHERE user_id = $1`
	if _, err := r.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to delete moments: %w", err)
	}
	return nil
}
