package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

func (db *DB) ListActiveCommunities(ctx context.Context) ([]model.Community, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT community_id, name, description, icon, color, member_count, is_active
		 FROM communities
		 WHERE is_active
		 ORDER BY member_count DESC, name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing communities: %w", err)
	}

	communities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Community, error) {
		var c model.Community
		err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.Color, &c.MemberCount, &c.IsActive)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning communities: %w", err)
	}
	if communities == nil {
		communities = []model.Community{}
	}
	return communities, nil
}

func (db *DB) GetCommunity(ctx context.Context, id int64) (*model.Community, error) {
	var c model.Community
	err := db.pool.QueryRow(ctx,
		`SELECT community_id, name, description, icon, color, member_count, is_active
		 FROM communities WHERE community_id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.Color, &c.MemberCount, &c.IsActive)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("community", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("postgres: getting community %d: %w", id, err)
	}
	return &c, nil
}

func (db *DB) ListActiveTechnologies(ctx context.Context, communityID int64) ([]model.Technology, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT tech_id, name, category, community_id, is_active
		 FROM technologies
		 WHERE community_id = $1 AND is_active
		 ORDER BY category ASC, name ASC`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing technologies for %d: %w", communityID, err)
	}

	techs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Technology, error) {
		var t model.Technology
		err := row.Scan(&t.ID, &t.Name, &t.Category, &t.CommunityID, &t.IsActive)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning technologies: %w", err)
	}
	if techs == nil {
		techs = []model.Technology{}
	}
	return techs, nil
}

func (db *DB) UpsertCommunity(ctx context.Context, c *model.Community) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO communities (name, description, icon, color, member_count, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE SET
			description  = EXCLUDED.description,
			icon         = EXCLUDED.icon,
			color        = EXCLUDED.color,
			member_count = EXCLUDED.member_count,
			is_active    = EXCLUDED.is_active
		 RETURNING community_id`,
		c.Name, c.Description, c.Icon, c.Color, c.MemberCount, c.IsActive,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("postgres: upserting community %q: %w", c.Name, err)
	}
	return nil
}

func (db *DB) UpsertTechnology(ctx context.Context, t *model.Technology) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO technologies (name, category, community_id, is_active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (community_id, name) DO UPDATE SET
			category  = EXCLUDED.category,
			is_active = EXCLUDED.is_active
		 RETURNING tech_id`,
		t.Name, t.Category, t.CommunityID, t.IsActive,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("postgres: upserting technology %q: %w", t.Name, err)
	}
	return nil
}
