package record_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/record"
)

func validDraft() record.Draft {
	return record.Draft{
		ItemID:    123,
		Price:     2500,
		Unit:      "viss",
		Type:      record.TypeRetail,
		Submitter: record.Submitter{UserID: 7, Role: record.RoleContributor},
		ShopID:    789,
	}
}

func TestDraft_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*record.Draft)
		field  string
	}{
		{"valid", func(*record.Draft) {}, ""},
		{"zero item", func(d *record.Draft) { d.ItemID = 0 }, "item_id"},
		{"negative shop", func(d *record.Draft) { d.ShopID = -1 }, "shop_id"},
		{"zero price", func(d *record.Draft) { d.Price = 0 }, "price"},
		{"NaN price", func(d *record.Draft) { d.Price = math.NaN() }, "price"},
		{"infinite price", func(d *record.Draft) { d.Price = math.Inf(1) }, "price"},
		{"negative infinite price", func(d *record.Draft) { d.Price = math.Inf(-1) }, "price"},
		{"blank unit", func(d *record.Draft) { d.Unit = "  " }, "unit"},
		{"bad type", func(d *record.Draft) { d.Type = "BARTER" }, "type"},
		{"no user", func(d *record.Draft) { d.Submitter.UserID = 0 }, "submitter.user_id"},
		{"bad role", func(d *record.Draft) { d.Submitter.Role = "GUEST" }, "submitter.role"},
		{"no shop no township", func(d *record.Draft) { d.ShopID = 0 }, "location"},
		{"no shop with township", func(d *record.Draft) {
			d.ShopID = 0
			d.Location.TownshipID = 4
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(&d)
			err := d.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, storemesh.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *storemesh.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestDraft_Build(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	d := validDraft()
	d.Unit = " viss "
	r := d.Build(now)

	if r.ID.IsNil() || r.ID.Prefix() != id.PrefixRecord {
		t.Fatalf("ID = %q, want a fresh rec ID", r.ID.String())
	}
	if !r.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, now)
	}
	if r.Unit != "viss" {
		t.Errorf("Unit = %q, want trimmed", r.Unit)
	}
	if !r.HasShop() {
		t.Error("expected HasShop")
	}

	client := now.Add(-time.Hour)
	d.Timestamp = client
	if got := d.Build(now).Timestamp; !got.Equal(client) {
		t.Errorf("client timestamp replaced: got %v, want %v", got, client)
	}

	d.Timestamp = client.Add(1234567 * time.Nanosecond)
	if got, want := d.Build(now).Timestamp, client.Add(time.Millisecond); !got.Equal(want) {
		t.Errorf("Timestamp = %v, want truncated to %v", got, want)
	}
}

func TestFilter_Normalize(t *testing.T) {
	f, err := record.Filter{ItemID: 1}.Normalize(50, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Limit != 50 {
		t.Errorf("Limit = %d, want default 50", f.Limit)
	}

	f, _ = record.Filter{Limit: 1000}.Normalize(50, 200)
	if f.Limit != 200 {
		t.Errorf("Limit = %d, want capped 200", f.Limit)
	}

	for _, bad := range []record.Filter{
		{ItemID: -1}, {RegionID: -1}, {ShopID: -1}, {Offset: -1}, {Limit: -1},
	} {
		if _, err := bad.Normalize(50, 200); !errors.Is(err, storemesh.ErrValidation) {
			t.Errorf("Normalize(%+v) = %v, want ErrValidation", bad, err)
		}
	}
}

func TestFilter_WindowDeterministic(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := record.Filter{ShopID: 5, Since: since, Offset: 10, Limit: 20}
	b := record.Filter{ShopID: 5, Since: since.In(time.FixedZone("MMT", 23400)), Offset: 10, Limit: 20}

	if a.Window() != b.Window() {
		t.Errorf("equal filters rendered different windows: %q vs %q", a.Window(), b.Window())
	}

	c := a
	c.Offset = 30
	if a.Window() == c.Window() {
		t.Error("different pages rendered the same window")
	}
}

func TestFilter_Matches(t *testing.T) {
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	r := &record.Record{
		ItemID:    1,
		ShopID:    2,
		Timestamp: base,
		Location:  record.Location{RegionID: 3, TownshipID: 4},
	}

	tests := []struct {
		name string
		f    record.Filter
		want bool
	}{
		{"empty", record.Filter{}, true},
		{"item", record.Filter{ItemID: 1}, true},
		{"other item", record.Filter{ItemID: 9}, false},
		{"region", record.Filter{RegionID: 3}, true},
		{"other region", record.Filter{RegionID: 9}, false},
		{"shop", record.Filter{ShopID: 2}, true},
		{"since before", record.Filter{Since: base.Add(-time.Hour)}, true},
		{"since equal", record.Filter{Since: base}, true},
		{"since after", record.Filter{Since: base.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Matches(r); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSort(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &record.Record{ID: id.NewRecordID(), Timestamp: t0}
	b := &record.Record{ID: id.NewRecordID(), Timestamp: t0}
	c := &record.Record{ID: id.NewRecordID(), Timestamp: t0.Add(time.Minute)}

	rs := []*record.Record{b, a, c}
	record.Sort(rs)

	if rs[0] != c {
		t.Errorf("rs[0] should be newest")
	}
	if rs[1].ID.Compare(rs[2].ID) >= 0 {
		t.Errorf("ties should be ordered by ID ascending: %q before %q", rs[1].ID, rs[2].ID)
	}
}
