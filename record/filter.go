package record

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pricetrack/storemesh"
)

// Filter selects records. Zero-valued fields do not filter.
type Filter struct {
	ItemID   int64
	RegionID int64
	ShopID   int64
	// Since keeps only records at or after the given instant.
	Since time.Time
	// Offset and Limit select the page.
	Offset int
	Limit  int
}

// Normalize validates f and applies the page size bounds.
func (f Filter) Normalize(defaultLimit, maxLimit int) (Filter, error) {
	switch {
	case f.ItemID < 0:
		return f, storemesh.NewValidationError("item_id", "must not be negative")
	case f.RegionID < 0:
		return f, storemesh.NewValidationError("region_id", "must not be negative")
	case f.ShopID < 0:
		return f, storemesh.NewValidationError("shop_id", "must not be negative")
	case f.Offset < 0:
		return f, storemesh.NewValidationError("offset", "must not be negative")
	case f.Limit < 0:
		return f, storemesh.NewValidationError("limit", "must not be negative")
	}
	if f.Limit == 0 {
		f.Limit = defaultLimit
	}
	if maxLimit > 0 && f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if !f.Since.IsZero() {
		f.Since = f.Since.UTC()
	}
	return f, nil
}

// Window renders every field except the item/region scope as a canonical
// string. Equal filters always render equal windows.
func (f Filter) Window() string {
	var b strings.Builder
	b.WriteString("shop=")
	b.WriteString(strconv.FormatInt(f.ShopID, 10))
	b.WriteString(":since=")
	if !f.Since.IsZero() {
		b.WriteString(strconv.FormatInt(f.Since.UnixMilli(), 10))
	}
	fmt.Fprintf(&b, ":off=%d:lim=%d", f.Offset, f.Limit)
	return b.String()
}

// Matches reports whether r passes the filter, ignoring pagination.
func (f Filter) Matches(r *Record) bool {
	if f.ItemID != 0 && r.ItemID != f.ItemID {
		return false
	}
	if f.RegionID != 0 && r.Location.RegionID != f.RegionID {
		return false
	}
	if f.ShopID != 0 && r.ShopID != f.ShopID {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Less is the canonical result order: newest first, ties by ID ascending.
func Less(a, b *Record) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID.Compare(b.ID) < 0
}

// Sort orders records in place by Less.
func Sort(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool { return Less(records[i], records[j]) })
}
