// Package memory provides in-process backends for every store contract of
// storemesh. They are safe for concurrent use and intended for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/notify"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/reference"
)

var (
	_ record.Store    = (*Store)(nil)
	_ reference.Store = (*Store)(nil)
	_ notify.Sink     = (*Store)(nil)
)

// Store holds records, reference data and delivered notifications.
type Store struct {
	mu sync.RWMutex

	records   map[string]*record.Record
	users     map[int64]*reference.User
	shops     map[int64]*reference.Shop
	items     map[int64]*reference.Item
	townships map[int64]*reference.Township
	regions   map[int64]*reference.Region
	stats     map[int64]*reference.ShopStats
	applied   map[string]struct{} // stat dedupe keys
	favorites map[int64]map[int64]struct{}

	notifications []notify.Notification
	sent          map[string]struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records:   make(map[string]*record.Record),
		users:     make(map[int64]*reference.User),
		shops:     make(map[int64]*reference.Shop),
		items:     make(map[int64]*reference.Item),
		townships: make(map[int64]*reference.Township),
		regions:   make(map[int64]*reference.Region),
		stats:     make(map[int64]*reference.ShopStats),
		applied:   make(map[string]struct{}),
		favorites: make(map[int64]map[int64]struct{}),
		sent:      make(map[string]struct{}),
	}
}

// Ping always succeeds.
func (m *Store) Ping(_ context.Context) error { return nil }

// ──────────────────────────────────────────────────
// Record Store
// ──────────────────────────────────────────────────

// Insert stores a copy of r.
func (m *Store) Insert(_ context.Context, r *record.Record) (id.RecordID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.records[key]; exists {
		return r.ID, fmt.Errorf("%w: record %s", storemesh.ErrDuplicate, key)
	}
	cp := *r
	m.records[key] = &cp
	return r.ID, nil
}

// Query returns copies of the matching records in canonical order.
func (m *Store) Query(_ context.Context, f record.Filter) ([]*record.Record, error) {
	m.mu.RLock()
	matched := make([]*record.Record, 0, len(m.records))
	for _, r := range m.records {
		if f.Matches(r) {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	record.Sort(matched)
	return page(matched, f.Offset, f.Limit), nil
}

func page(rs []*record.Record, offset, limit int) []*record.Record {
	if offset >= len(rs) {
		return []*record.Record{}
	}
	rs = rs[offset:]
	if limit > 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	return rs
}

// ──────────────────────────────────────────────────
// Reference Store
// ──────────────────────────────────────────────────

// PutUser seeds a user.
func (m *Store) PutUser(u reference.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// PutShop seeds a shop.
func (m *Store) PutShop(s reference.Shop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shops[s.ID] = &s
}

// PutItem seeds an item.
func (m *Store) PutItem(i reference.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[i.ID] = &i
}

// PutTownship seeds a township.
func (m *Store) PutTownship(t reference.Township) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.townships[t.ID] = &t
}

// PutRegion seeds a region.
func (m *Store) PutRegion(r reference.Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions[r.ID] = &r
}

// PutFavorite records that userID watches shopID.
func (m *Store) PutFavorite(userID, shopID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.favorites[shopID] == nil {
		m.favorites[shopID] = make(map[int64]struct{})
	}
	m.favorites[shopID][userID] = struct{}{}
}

func getCopy[T any](mu *sync.RWMutex, rows map[int64]*T, key int64, kind string) (*T, error) {
	mu.RLock()
	defer mu.RUnlock()
	row, ok := rows[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %d", storemesh.ErrNotFound, kind, key)
	}
	cp := *row
	return &cp, nil
}

// GetUser returns a user by ID.
func (m *Store) GetUser(_ context.Context, userID int64) (*reference.User, error) {
	return getCopy(&m.mu, m.users, userID, "user")
}

// GetShop returns a shop by ID.
func (m *Store) GetShop(_ context.Context, shopID int64) (*reference.Shop, error) {
	return getCopy(&m.mu, m.shops, shopID, "shop")
}

// GetItem returns an item by ID.
func (m *Store) GetItem(_ context.Context, itemID int64) (*reference.Item, error) {
	return getCopy(&m.mu, m.items, itemID, "item")
}

// GetTownship returns a township by ID.
func (m *Store) GetTownship(_ context.Context, townshipID int64) (*reference.Township, error) {
	return getCopy(&m.mu, m.townships, townshipID, "township")
}

// GetRegion returns a region by ID.
func (m *Store) GetRegion(_ context.Context, regionID int64) (*reference.Region, error) {
	return getCopy(&m.mu, m.regions, regionID, "region")
}

// IncrementShopStat applies delta once per dedupeKey.
func (m *Store) IncrementShopStat(_ context.Context, shopID int64, field reference.StatField, delta int64, dedupeKey string) (bool, error) {
	if !field.Valid() {
		return false, storemesh.NewValidationError("field", "unknown stat %q", field)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shops[shopID]; !ok {
		return false, fmt.Errorf("%w: shop %d", storemesh.ErrNotFound, shopID)
	}
	if dedupeKey != "" {
		if _, done := m.applied[dedupeKey]; done {
			return false, nil
		}
		m.applied[dedupeKey] = struct{}{}
	}
	st := m.stats[shopID]
	if st == nil {
		st = &reference.ShopStats{ShopID: shopID}
		m.stats[shopID] = st
	}
	st.Add(field, delta)
	st.UpdatedAt = time.Now().UTC()
	return true, nil
}

// GetShopStats returns the counters of a shop.
func (m *Store) GetShopStats(_ context.Context, shopID int64) (*reference.ShopStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.shops[shopID]; !ok {
		return nil, fmt.Errorf("%w: shop %d", storemesh.ErrNotFound, shopID)
	}
	if st, ok := m.stats[shopID]; ok {
		cp := *st
		return &cp, nil
	}
	return &reference.ShopStats{ShopID: shopID}, nil
}

// ListFavoritingUsers returns watcher IDs in ascending order.
func (m *Store) ListFavoritingUsers(_ context.Context, shopID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]int64, 0, len(m.favorites[shopID]))
	for u := range m.favorites[shopID] {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// ──────────────────────────────────────────────────
// Notification Sink
// ──────────────────────────────────────────────────

// Send records n. A repeated DedupeKey is dropped.
func (m *Store) Send(_ context.Context, n notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.DedupeKey != "" {
		if _, dup := m.sent[n.DedupeKey]; dup {
			return nil
		}
		m.sent[n.DedupeKey] = struct{}{}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	m.notifications = append(m.notifications, n)
	return nil
}

// Notifications returns the delivered notifications in send order.
func (m *Store) Notifications() []notify.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]notify.Notification(nil), m.notifications...)
}
