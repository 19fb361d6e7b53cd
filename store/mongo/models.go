package mongo

import (
	"fmt"
	"time"

	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/record"
)

type submitterModel struct {
	ID   int64  `bson:"id"`
	Role string `bson:"role"`
}

type locationModel struct {
	RegionID   int64 `bson:"region_id,omitempty"`
	TownshipID int64 `bson:"township_id,omitempty"`
}

type recordModel struct {
	ID          string         `bson:"_id"`
	ItemID      int64          `bson:"itemId"`
	Type        string         `bson:"type"`
	Price       float64        `bson:"price"`
	Unit        string         `bson:"unit"`
	ShopID      int64          `bson:"shopId,omitempty"`
	SubmittedBy submitterModel `bson:"submittedBy"`
	Timestamp   time.Time      `bson:"timestamp"`
	Location    locationModel  `bson:"location"`
}

func toRecordModel(r *record.Record) *recordModel {
	return &recordModel{
		ID:     r.ID.String(),
		ItemID: r.ItemID,
		Type:   string(r.Type),
		Price:  r.Price,
		Unit:   r.Unit,
		ShopID: r.ShopID,
		SubmittedBy: submitterModel{
			ID:   r.Submitter.UserID,
			Role: string(r.Submitter.Role),
		},
		Timestamp: r.Timestamp,
		Location: locationModel{
			RegionID:   r.Location.RegionID,
			TownshipID: r.Location.TownshipID,
		},
	}
}

func fromRecordModel(m *recordModel) (*record.Record, error) {
	rid, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("storemesh/mongo: parse record id %q: %w", m.ID, err)
	}
	return &record.Record{
		ID:        rid,
		ItemID:    m.ItemID,
		Price:     m.Price,
		Unit:      m.Unit,
		Type:      record.Type(m.Type),
		Timestamp: m.Timestamp.UTC(),
		Location: record.Location{
			RegionID:   m.Location.RegionID,
			TownshipID: m.Location.TownshipID,
		},
		Submitter: record.Submitter{
			UserID: m.SubmittedBy.ID,
			Role:   record.Role(m.SubmittedBy.Role),
		},
		ShopID: m.ShopID,
	}, nil
}
