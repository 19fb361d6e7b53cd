// Package reference defines the relational reference entities that price
// records point at, and the store contract the orchestration layer uses to
// resolve and update them.
package reference

import (
	"context"
	"time"
)

// User is a registered account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Shop is a physical store that prices can be tied to.
type Shop struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	OwnerID    int64  `json:"owner_id,omitempty"`
	RegionID   int64  `json:"region_id"`
	TownshipID int64  `json:"township_id"`
}

// Item is a tracked product.
type Item struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	CategoryID  int64  `json:"category_id,omitempty"`
	DefaultUnit string `json:"default_unit,omitempty"`
}

// Category groups items.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Region is the top-level geographic unit.
type Region struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Township belongs to a region.
type Township struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	RegionID  int64   `json:"region_id"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

// StatField names a shop aggregate counter.
type StatField string

const (
	StatTotalSubmissions     StatField = "total_submissions"
	StatRetailSubmissions    StatField = "retail_submissions"
	StatWholesaleSubmissions StatField = "wholesale_submissions"
)

// Valid reports whether f is a known counter.
func (f StatField) Valid() bool {
	switch f {
	case StatTotalSubmissions, StatRetailSubmissions, StatWholesaleSubmissions:
		return true
	}
	return false
}

// ShopStats is the aggregate counter row for a shop.
type ShopStats struct {
	ShopID               int64     `json:"shop_id"`
	TotalSubmissions     int64     `json:"total_submissions"`
	RetailSubmissions    int64     `json:"retail_submissions"`
	WholesaleSubmissions int64     `json:"wholesale_submissions"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Add applies delta to the named counter.
func (s *ShopStats) Add(field StatField, delta int64) {
	switch field {
	case StatTotalSubmissions:
		s.TotalSubmissions += delta
	case StatRetailSubmissions:
		s.RetailSubmissions += delta
	case StatWholesaleSubmissions:
		s.WholesaleSubmissions += delta
	}
}

// FavWatch records that a user favorited a shop.
type FavWatch struct {
	UserID int64 `json:"user_id"`
	ShopID int64 `json:"shop_id"`
}

// Store is the reference store contract. Getters return
// storemesh.ErrNotFound for missing rows; every other error is treated as
// transient by callers.
type Store interface {
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetShop(ctx context.Context, shopID int64) (*Shop, error)
	GetItem(ctx context.Context, itemID int64) (*Item, error)
	GetTownship(ctx context.Context, townshipID int64) (*Township, error)
	GetRegion(ctx context.Context, regionID int64) (*Region, error)

	// IncrementShopStat adds delta to a shop counter once per dedupeKey.
	// It reports applied=false when the key was already used. A missing
	// shop returns storemesh.ErrNotFound.
	IncrementShopStat(ctx context.Context, shopID int64, field StatField, delta int64, dedupeKey string) (bool, error)

	// GetShopStats returns the counters of a shop, zeroed if none were
	// recorded yet.
	GetShopStats(ctx context.Context, shopID int64) (*ShopStats, error)

	// ListFavoritingUsers returns the IDs of users watching a shop.
	ListFavoritingUsers(ctx context.Context, shopID int64) ([]int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
