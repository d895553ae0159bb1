package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

func (db *DB) FindOpenJoinRequest(ctx context.Context, userID string, communityID int64) (*model.JoinRequest, error) {
	var (
		r      model.JoinRequest
		status string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT request_id, community_id, user_id::text, status, requested_at
		 FROM community_join_requests
		 WHERE user_id = $1 AND community_id = $2 AND status IN ('pending', 'approved')
		 ORDER BY requested_at DESC
		 LIMIT 1`,
		userID, communityID,
	).Scan(&r.ID, &r.CommunityID, &r.UserID, &status, &r.RequestedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: finding join request (%s, %d): %w", userID, communityID, err)
	}
	r.Status = model.JoinStatus(status)
	return &r, nil
}

func (db *DB) CreateJoinRequest(ctx context.Context, r *model.JoinRequest) error {
	if r.Status == "" {
		r.Status = model.JoinPending
	}
	r.RequestedAt = time.Now()

	err := db.pool.QueryRow(ctx,
		`INSERT INTO community_join_requests (community_id, user_id, status, requested_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING request_id`,
		r.CommunityID, r.UserID, string(r.Status), r.RequestedAt,
	).Scan(&r.ID)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return apperror.Conflict("join request", r.UserID)
		}
		return fmt.Errorf("postgres: inserting join request (%s, %d): %w", r.UserID, r.CommunityID, err)
	}
	return nil
}

// AddTechnologyInterests sends the whole batch in one transaction.
func (db *DB) AddTechnologyInterests(ctx context.Context, userID string, techIDs []int64) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: beginning interests tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after Commit

	batch := &pgx.Batch{}
	now := time.Now()
	for _, id := range techIDs {
		batch.Queue(
			`INSERT INTO user_technologies (user_id, tech_id, created_at) VALUES ($1, $2, $3)`,
			userID, id, now,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, id := range techIDs {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if _, ok := isUniqueViolation(err); ok {
				return &apperror.AppError{
					Err:     apperror.ErrConflict,
					Message: fmt.Sprintf("duplicate key: technology %d already selected", id),
					Field:   "technology_ids",
				}
			}
			if isForeignKeyViolation(err) {
				return apperror.ValidationFailed("technology_ids", fmt.Sprintf("Technology %d does not exist", id))
			}
			return fmt.Errorf("postgres: inserting interest (%s, %d): %w", userID, id, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("postgres: closing interest batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing interests: %w", err)
	}
	return nil
}

func (db *DB) ListTechnologyInterests(ctx context.Context, userID string) ([]model.TechnologyInterest, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT user_id::text, tech_id, created_at FROM user_technologies
		 WHERE user_id = $1 ORDER BY created_at ASC, tech_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing interests for %s: %w", userID, err)
	}

	interests, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TechnologyInterest, error) {
		var ti model.TechnologyInterest
		err := row.Scan(&ti.UserID, &ti.TechID, &ti.CreatedAt)
		return ti, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning interests: %w", err)
	}
	if interests == nil {
		interests = []model.TechnologyInterest{}
	}
	return interests, nil
}
