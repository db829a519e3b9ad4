package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDiscountEffectivePrice(t *testing.T) {
	tests := []struct {
		name  string
		typ   DiscountType
		value string
		price int64
		want  int64
	}{
		{name: "percentage", typ: DiscountTypePercentage, value: "10", price: 100000, want: 90000},
		{name: "percentage rounds to nearest", typ: DiscountTypePercentage, value: "12.5", price: 1001, want: 876},
		{name: "percentage full", typ: DiscountTypePercentage, value: "100", price: 5000, want: 0},
		{name: "fixed amount", typ: DiscountTypeFixedAmount, value: "20000", price: 50000, want: 30000},
		{name: "fixed amount floors at zero", typ: DiscountTypeFixedAmount, value: "70000", price: 50000, want: 0},
		{name: "unknown type keeps price", typ: DiscountType("bogus"), value: "10", price: 50000, want: 50000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Discount{Type: tt.typ, Value: decimal.RequireFromString(tt.value)}
			if got := d.EffectivePrice(tt.price); got != tt.want {
				t.Fatalf("EffectivePrice(%d) = %d, want %d", tt.price, got, tt.want)
			}
		})
	}
}

func TestDiscountActiveAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	d := Discount{Status: DiscountStatusActive, StartDate: start, EndDate: end}

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "before start", now: start.Add(-time.Second), want: false},
		{name: "at start", now: start, want: true},
		{name: "inside", now: start.Add(time.Hour), want: true},
		{name: "at end", now: end, want: true},
		{name: "after end", now: end.Add(time.Second), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.ActiveAt(tc.now); got != tc.want {
				t.Fatalf("ActiveAt = %v, want %v", got, tc.want)
			}
		})
	}

	d.Status = 0
	if d.ActiveAt(start.Add(time.Hour)) {
		t.Fatal("disabled discount must not be active")
	}
}

func TestBestPrice(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := func(d Discount) Discount {
		d.Status = DiscountStatusActive
		d.StartDate = now.Add(-time.Hour)
		d.EndDate = now.Add(time.Hour)
		return d
	}

	discounts := []Discount{
		window(Discount{ID: "pct", Type: DiscountTypePercentage, Value: decimal.NewFromInt(10)}),
		window(Discount{ID: "fixed", Type: DiscountTypeFixedAmount, Value: decimal.NewFromInt(15000)}),
		{ID: "expired", Type: DiscountTypePercentage, Value: decimal.NewFromInt(90), Status: DiscountStatusActive,
			StartDate: now.Add(-48 * time.Hour), EndDate: now.Add(-24 * time.Hour)},
	}

	price, applied := BestPrice(100000, discounts, now)
	if price != 85000 || applied == nil || applied.ID != "fixed" {
		t.Fatalf("expected fixed discount 85000, got %d (%+v)", price, applied)
	}

	price, applied = BestPrice(100000, discounts[2:], now)
	if price != 100000 || applied != nil {
		t.Fatalf("expected list price without discount, got %d (%+v)", price, applied)
	}
}

func TestDiscountValidate(t *testing.T) {
	now := time.Now()
	ok := Discount{Type: DiscountTypePercentage, Value: decimal.NewFromInt(20), StartDate: now, EndDate: now.Add(time.Hour)}
	if errs := ok.Validate(); len(errs) != 0 {
		t.Fatalf("expected valid discount, got %v", errs)
	}

	bad := Discount{Type: DiscountTypePercentage, Value: decimal.NewFromInt(120), StartDate: now, EndDate: now.Add(-time.Hour)}
	if errs := bad.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}
