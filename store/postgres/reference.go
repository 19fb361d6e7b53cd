package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/reference"
)

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, userID int64) (*reference.User, error) {
	u := &reference.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, full_name, role FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Username, &u.Role)
	if err != nil {
		return nil, notFoundOr(err, "get user", "user", userID)
	}
	return u, nil
}

// GetShop returns a shop by ID.
func (s *Store) GetShop(ctx context.Context, shopID int64) (*reference.Shop, error) {
	sh := &reference.Shop{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, shop_name, COALESCE(owner_user_id, 0),
		       COALESCE(region_id, 0), COALESCE(township_id, 0)
		FROM shops WHERE id = $1`, shopID,
	).Scan(&sh.ID, &sh.Name, &sh.OwnerID, &sh.RegionID, &sh.TownshipID)
	if err != nil {
		return nil, notFoundOr(err, "get shop", "shop", shopID)
	}
	return sh, nil
}

// GetItem returns an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID int64) (*reference.Item, error) {
	it := &reference.Item{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(category_id, 0), default_unit
		FROM items WHERE id = $1`, itemID,
	).Scan(&it.ID, &it.Name, &it.CategoryID, &it.DefaultUnit)
	if err != nil {
		return nil, notFoundOr(err, "get item", "item", itemID)
	}
	return it, nil
}

// GetTownship returns a township by ID.
func (s *Store) GetTownship(ctx context.Context, townshipID int64) (*reference.Township, error) {
	tw := &reference.Township{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, region_id, COALESCE(latitude, 0), COALESCE(longitude, 0)
		FROM townships WHERE id = $1`, townshipID,
	).Scan(&tw.ID, &tw.Name, &tw.RegionID, &tw.Latitude, &tw.Longitude)
	if err != nil {
		return nil, notFoundOr(err, "get township", "township", townshipID)
	}
	return tw, nil
}

// GetRegion returns a region by ID.
func (s *Store) GetRegion(ctx context.Context, regionID int64) (*reference.Region, error) {
	rg := &reference.Region{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM regions WHERE id = $1`, regionID,
	).Scan(&rg.ID, &rg.Name)
	if err != nil {
		return nil, notFoundOr(err, "get region", "region", regionID)
	}
	return rg, nil
}

// IncrementShopStat adds delta to one counter of a shop. The dedupe marker
// and the counter update commit together, so a redelivered task reports
// applied=false and leaves the counter alone.
func (s *Store) IncrementShopStat(ctx context.Context, shopID int64, field reference.StatField, delta int64, dedupeKey string) (bool, error) {
	col, err := statColumn(field)
	if err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storemesh/postgres: begin stat tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM shops WHERE id = $1)`, shopID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("storemesh/postgres: check shop: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: shop %d", storemesh.ErrNotFound, shopID)
	}

	if dedupeKey != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO shop_stat_applied (dedupe_key, shop_id) VALUES ($1, $2)
			ON CONFLICT (dedupe_key) DO NOTHING`, dedupeKey, shopID)
		if err != nil {
			return false, fmt.Errorf("storemesh/postgres: mark stat applied: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
	}

	// col comes from a closed set of field names.
	query := fmt.Sprintf(`
		INSERT INTO shop_stats (shop_id, %[1]s, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (shop_id) DO UPDATE
		SET %[1]s = shop_stats.%[1]s + EXCLUDED.%[1]s, updated_at = NOW()`, col)
	if _, err := tx.Exec(ctx, query, shopID, delta); err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("%w: shop %d", storemesh.ErrNotFound, shopID)
		}
		return false, fmt.Errorf("storemesh/postgres: increment %s: %w", col, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storemesh/postgres: commit stat tx: %w", err)
	}
	return true, nil
}

// GetShopStats returns the counters of a shop. A shop without submissions
// reports zeros.
func (s *Store) GetShopStats(ctx context.Context, shopID int64) (*reference.ShopStats, error) {
	st := &reference.ShopStats{ShopID: shopID}
	var updated *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(st.total_submissions, 0),
		       COALESCE(st.retail_submissions, 0),
		       COALESCE(st.wholesale_submissions, 0),
		       st.updated_at
		FROM shops sh
		LEFT JOIN shop_stats st ON st.shop_id = sh.id
		WHERE sh.id = $1`, shopID,
	).Scan(&st.TotalSubmissions, &st.RetailSubmissions, &st.WholesaleSubmissions, &updated)
	if err != nil {
		return nil, notFoundOr(err, "get shop stats", "shop", shopID)
	}
	if updated != nil {
		st.UpdatedAt = updated.UTC()
	}
	return st, nil
}

// ListFavoritingUsers returns the IDs of users watching a shop, ascending.
func (s *Store) ListFavoritingUsers(ctx context.Context, shopID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM fav_watch WHERE shop_id = $1 ORDER BY user_id`, shopID)
	if err != nil {
		return nil, fmt.Errorf("storemesh/postgres: list favoriting users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("storemesh/postgres: list favoriting users: %w", err)
	}
	return users, nil
}
