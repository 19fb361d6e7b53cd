package record

import (
	"math"
	"strings"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/id"
)

// Type is the kind of price a record carries.
type Type string

const (
	TypeRetail    Type = "RETAIL"
	TypeWholesale Type = "WHOLESALE"
)

// Valid reports whether t is one of the enumerated kinds.
func (t Type) Valid() bool {
	return t == TypeRetail || t == TypeWholesale
}

// Role is the submitter's role at submission time.
type Role string

const (
	RoleUser        Role = "USER"
	RoleContributor Role = "CONTRIBUTOR"
	RoleRetailer    Role = "RETAILER"
	RoleAdmin       Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleContributor, RoleRetailer, RoleAdmin:
		return true
	}
	return false
}

// Location places a record geographically.
type Location struct {
	RegionID   int64 `json:"region_id"   bson:"region_id"`
	TownshipID int64 `json:"township_id" bson:"township_id"`
}

// Submitter identifies who submitted a record.
type Submitter struct {
	UserID int64 `json:"user_id" bson:"user_id"`
	Role   Role  `json:"role"    bson:"role"`
}

// Record is an immutable price observation.
type Record struct {
	ID        id.RecordID `json:"id"`
	ItemID    int64       `json:"item_id"`
	Price     float64     `json:"price"`
	Unit      string      `json:"unit"`
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Location  Location    `json:"location"`
	Submitter Submitter   `json:"submitter"`
	// ShopID is zero when the record is not tied to a shop.
	ShopID int64 `json:"shop_id,omitempty"`
}

// HasShop reports whether the record references a shop.
func (r *Record) HasShop() bool { return r.ShopID != 0 }

// Key is the serialization key of a write: one writer at a time per
// (item, shop) pair.
type Key struct {
	ItemID int64
	ShopID int64
}

// Key returns the write serialization key of the record.
func (r *Record) Key() Key { return Key{ItemID: r.ItemID, ShopID: r.ShopID} }

// Draft is what a client submits. Location may be partially filled or left
// empty when ShopID is set; the write coordinator resolves it against the
// reference store.
type Draft struct {
	ItemID    int64
	Price     float64
	Unit      string
	Type      Type
	Timestamp time.Time
	Location  Location
	Submitter Submitter
	ShopID    int64
}

// Validate checks the draft's own shape. Reference existence is checked by
// the write coordinator.
func (d Draft) Validate() error {
	switch {
	case d.ItemID <= 0:
		return storemesh.NewValidationError("item_id", "must be positive, got %d", d.ItemID)
	case d.ShopID < 0:
		return storemesh.NewValidationError("shop_id", "must not be negative, got %d", d.ShopID)
	case math.IsNaN(d.Price) || math.IsInf(d.Price, 0):
		return storemesh.NewValidationError("price", "must be a finite number, got %v", d.Price)
	case d.Price <= 0:
		return storemesh.NewValidationError("price", "must be positive, got %v", d.Price)
	case strings.TrimSpace(d.Unit) == "":
		return storemesh.NewValidationError("unit", "is required")
	case !d.Type.Valid():
		return storemesh.NewValidationError("type", "must be RETAIL or WHOLESALE, got %q", d.Type)
	case d.Submitter.UserID <= 0:
		return storemesh.NewValidationError("submitter.user_id", "must be positive, got %d", d.Submitter.UserID)
	case !d.Submitter.Role.Valid():
		return storemesh.NewValidationError("submitter.role", "unknown role %q", d.Submitter.Role)
	case d.Location.RegionID < 0 || d.Location.TownshipID < 0:
		return storemesh.NewValidationError("location", "ids must not be negative")
	case d.ShopID == 0 && d.Location.TownshipID == 0:
		return storemesh.NewValidationError("location", "township_id is required when no shop is given")
	}
	return nil
}

// Build turns a resolved draft into a record with a fresh ID. A zero
// timestamp is replaced by now. Timestamps are truncated to milliseconds,
// the precision every record store keeps.
func (d Draft) Build(now time.Time) *Record {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &Record{
		ID:        id.NewRecordID(),
		ItemID:    d.ItemID,
		Price:     d.Price,
		Unit:      strings.TrimSpace(d.Unit),
		Type:      d.Type,
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		Location:  d.Location,
		Submitter: d.Submitter,
		ShopID:    d.ShopID,
	}
}
