package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

// ListActiveCommunities returns active communities, largest first.
func (db *DB) ListActiveCommunities(ctx context.Context) ([]model.Community, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT community_id, name, description, icon, color, member_count, is_active
		 FROM communities
		 WHERE is_active = 1
		 ORDER BY member_count DESC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing communities: %w", err)
	}
	defer rows.Close()

	// Non-nil so the JSON response is [] rather than null.
	communities := []model.Community{}
	for rows.Next() {
		var c model.Community
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.Color, &c.MemberCount, &c.IsActive); err != nil {
			return nil, fmt.Errorf("sqlite: scanning community row: %w", err)
		}
		communities = append(communities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating community rows: %w", err)
	}
	return communities, nil
}

// GetCommunity returns apperror.ErrNotFound for an unknown id.
func (db *DB) GetCommunity(ctx context.Context, id int64) (*model.Community, error) {
	var c model.Community
	err := db.conn.QueryRowContext(ctx,
		`SELECT community_id, name, description, icon, color, member_count, is_active
		 FROM communities WHERE community_id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.Color, &c.MemberCount, &c.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("community", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting community %d: %w", id, err)
	}
	return &c, nil
}

// ListActiveTechnologies returns the active technologies of one community,
// ordered by category then name.
func (db *DB) ListActiveTechnologies(ctx context.Context, communityID int64) ([]model.Technology, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT tech_id, name, category, community_id, is_active
		 FROM technologies
		 WHERE community_id = ? AND is_active = 1
		 ORDER BY category ASC, name ASC`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing technologies for %d: %w", communityID, err)
	}
	defer rows.Close()

	techs := []model.Technology{}
	for rows.Next() {
		var t model.Technology
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.CommunityID, &t.IsActive); err != nil {
			return nil, fmt.Errorf("sqlite: scanning technology row: %w", err)
		}
		techs = append(techs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating technology rows: %w", err)
	}
	return techs, nil
}

// UpsertCommunity inserts or updates a community keyed on name and fills in
// c.ID.
func (db *DB) UpsertCommunity(ctx context.Context, c *model.Community) error {
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO communities (name, description, icon, color, member_count, is_active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
			description  = excluded.description,
			icon         = excluded.icon,
			color        = excluded.color,
			member_count = excluded.member_count,
			is_active    = excluded.is_active
		 RETURNING community_id`,
		c.Name, c.Description, c.Icon, c.Color, c.MemberCount, boolInt(c.IsActive),
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("sqlite: upserting community %q: %w", c.Name, err)
	}
	return nil
}

// UpsertTechnology inserts or updates a technology keyed on
// (community_id, name) and fills in t.ID.
func (db *DB) UpsertTechnology(ctx context.Context, t *model.Technology) error {
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO technologies (name, category, community_id, is_active)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (community_id, name) DO UPDATE SET
			category  = excluded.category,
			is_active = excluded.is_active
		 RETURNING tech_id`,
		t.Name, t.Category, t.CommunityID, boolInt(t.IsActive),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("sqlite: upserting technology %q: %w", t.Name, err)
	}
	return nil
}
