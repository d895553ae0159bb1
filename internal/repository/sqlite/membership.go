package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

// FindOpenJoinRequest returns the pending or approved request of userID for
// communityID, or (nil, nil) when there is none.
func (db *DB) FindOpenJoinRequest(ctx context.Context, userID string, communityID int64) (*model.JoinRequest, error) {
	var r model.JoinRequest
	err := db.conn.QueryRowContext(ctx,
		`SELECT request_id, community_id, user_id, status, requested_at
		 FROM community_join_requests
		 WHERE user_id = ? AND community_id = ? AND status IN ('pending', 'approved')
		 ORDER BY requested_at DESC
		 LIMIT 1`,
		userID, communityID,
	).Scan(&r.ID, &r.CommunityID, &r.UserID, &r.Status, &r.RequestedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: finding join request (%s, %d): %w", userID, communityID, err)
	}
	return &r, nil
}

// CreateJoinRequest inserts a request and fills in its id. A second open
// request for the same pair violates idx_join_requests_open and is reported
// as apperror.ErrConflict.
func (db *DB) CreateJoinRequest(ctx context.Context, r *model.JoinRequest) error {
	if r.Status == "" {
		r.Status = model.JoinPending
	}
	r.RequestedAt = time.Now()

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO community_join_requests (community_id, user_id, status, requested_at)
		 VALUES (?, ?, ?, ?)
		 RETURNING request_id`,
		r.CommunityID, r.UserID, r.Status, r.RequestedAt,
	).Scan(&r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("join request", r.UserID)
		}
		return fmt.Errorf("sqlite: inserting join request (%s, %d): %w", r.UserID, r.CommunityID, err)
	}
	return nil
}

// AddTechnologyInterests inserts one row per tech id inside a single
// transaction. Any failure rolls back the whole batch.
func (db *DB) AddTechnologyInterests(ctx context.Context, userID string, techIDs []int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning interests tx: %w", err)
	}
	defer tx.Rollback() // no-op after Commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO user_technologies (user_id, tech_id, created_at) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("sqlite: preparing interest insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, id := range techIDs {
		if _, err := stmt.ExecContext(ctx, userID, id, now); err != nil {
			if isUniqueViolation(err) {
				return &apperror.AppError{
					Err:     apperror.ErrConflict,
					Message: fmt.Sprintf("duplicate key: technology %d already selected", id),
					Field:   "technology_ids",
				}
			}
			if isForeignKeyViolation(err) {
				return apperror.ValidationFailed("technology_ids", fmt.Sprintf("Technology %d does not exist", id))
			}
			return fmt.Errorf("sqlite: inserting interest (%s, %d): %w", userID, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing interests: %w", err)
	}
	return nil
}

// ListTechnologyInterests returns the user's interests, oldest first.
func (db *DB) ListTechnologyInterests(ctx context.Context, userID string) ([]model.TechnologyInterest, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id, tech_id, created_at FROM user_technologies
		 WHERE user_id = ? ORDER BY created_at ASC, tech_id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing interests for %s: %w", userID, err)
	}
	defer rows.Close()

	interests := []model.TechnologyInterest{}
	for rows.Next() {
		var ti model.TechnologyInterest
		if err := rows.Scan(&ti.UserID, &ti.TechID, &ti.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning interest row: %w", err)
		}
		interests = append(interests, ti)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating interest rows: %w", err)
	}
	return interests, nil
}
