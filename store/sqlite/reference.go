package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/reference"
)

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, userID int64) (*reference.User, error) {
	u := &reference.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, role FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Username, &u.Role)
	if err != nil {
		return nil, notFoundOr(err, "get user", "user", userID)
	}
	return u, nil
}

// GetShop returns a shop by ID.
func (s *Store) GetShop(ctx context.Context, shopID int64) (*reference.Shop, error) {
	sh := &reference.Shop{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_name, COALESCE(owner_user_id, 0),
		       COALESCE(region_id, 0), COALESCE(township_id, 0)
		FROM shops WHERE id = ?`, shopID,
	).Scan(&sh.ID, &sh.Name, &sh.OwnerID, &sh.RegionID, &sh.TownshipID)
	if err != nil {
		return nil, notFoundOr(err, "get shop", "shop", shopID)
	}
	return sh, nil
}

// GetItem returns an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID int64) (*reference.Item, error) {
	it := &reference.Item{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(category_id, 0), default_unit
		FROM items WHERE id = ?`, itemID,
	).Scan(&it.ID, &it.Name, &it.CategoryID, &it.DefaultUnit)
	if err != nil {
		return nil, notFoundOr(err, "get item", "item", itemID)
	}
	return it, nil
}

// GetTownship returns a township by ID.
func (s *Store) GetTownship(ctx context.Context, townshipID int64) (*reference.Township, error) {
	tw := &reference.Township{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, region_id, COALESCE(latitude, 0), COALESCE(longitude, 0)
		FROM townships WHERE id = ?`, townshipID,
	).Scan(&tw.ID, &tw.Name, &tw.RegionID, &tw.Latitude, &tw.Longitude)
	if err != nil {
		return nil, notFoundOr(err, "get township", "township", townshipID)
	}
	return tw, nil
}

// GetRegion returns a region by ID.
func (s *Store) GetRegion(ctx context.Context, regionID int64) (*reference.Region, error) {
	rg := &reference.Region{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM regions WHERE id = ?`, regionID,
	).Scan(&rg.ID, &rg.Name)
	if err != nil {
		return nil, notFoundOr(err, "get region", "region", regionID)
	}
	return rg, nil
}

// IncrementShopStat adds delta to one counter of a shop, at most once per
// dedupeKey.
func (s *Store) IncrementShopStat(ctx context.Context, shopID int64, field reference.StatField, delta int64, dedupeKey string) (bool, error) {
	if !field.Valid() {
		return false, storemesh.NewValidationError("field", "unknown stat %q", field)
	}
	col := string(field)
	now := time.Now().UTC().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("storemesh/sqlite: begin stat tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM shops WHERE id = ?)`, shopID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("storemesh/sqlite: check shop: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: shop %d", storemesh.ErrNotFound, shopID)
	}

	if dedupeKey != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO shop_stat_applied (dedupe_key, shop_id, applied_at) VALUES (?, ?, ?)
			ON CONFLICT (dedupe_key) DO NOTHING`, dedupeKey, shopID, now)
		if err != nil {
			return false, fmt.Errorf("storemesh/sqlite: mark stat applied: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}

	// col comes from a closed set of field names.
	query := fmt.Sprintf(`
		INSERT INTO shop_stats (shop_id, %[1]s, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (shop_id) DO UPDATE
		SET %[1]s = %[1]s + excluded.%[1]s, updated_at = excluded.updated_at`, col)
	if _, err := tx.ExecContext(ctx, query, shopID, delta, now); err != nil {
		return false, fmt.Errorf("storemesh/sqlite: increment %s: %w", col, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("storemesh/sqlite: commit stat tx: %w", err)
	}
	return true, nil
}

// GetShopStats returns the counters of a shop. A shop without submissions
// reports zeros.
func (s *Store) GetShopStats(ctx context.Context, shopID int64) (*reference.ShopStats, error) {
	st := &reference.ShopStats{ShopID: shopID}
	var updated sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(st.total_submissions, 0),
		       COALESCE(st.retail_submissions, 0),
		       COALESCE(st.wholesale_submissions, 0),
		       st.updated_at
		FROM shops sh
		LEFT JOIN shop_stats st ON st.shop_id = sh.id
		WHERE sh.id = ?`, shopID,
	).Scan(&st.TotalSubmissions, &st.RetailSubmissions, &st.WholesaleSubmissions, &updated)
	if err != nil {
		return nil, notFoundOr(err, "get shop stats", "shop", shopID)
	}
	if updated.Valid {
		st.UpdatedAt = time.Unix(0, updated.Int64).UTC()
	}
	return st, nil
}

// ListFavoritingUsers returns the IDs of users watching a shop, ascending.
func (s *Store) ListFavoritingUsers(ctx context.Context, shopID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM fav_watch WHERE shop_id = ? ORDER BY user_id`, shopID)
	if err != nil {
		return nil, fmt.Errorf("storemesh/sqlite: list favoriting users: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("storemesh/sqlite: scan favoriting user: %w", err)
		}
		users = append(users, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storemesh/sqlite: list favoriting users: %w", err)
	}
	return users, nil
}
