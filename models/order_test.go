package models

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   time.Time
		wantOK bool
	}{
		{name: "padded", input: "05.03.25", want: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), wantOK: true},
		{name: "with time", input: "31.12.24 23:59", want: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), wantOK: true},
		{name: "unpadded", input: "1.2.25", want: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), wantOK: true},
		{name: "four digit year", input: "05.03.2025", wantOK: false},
		{name: "garbage", input: "yesterday", wantOK: false},
		{name: "empty", input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestListingKindOrderType(t *testing.T) {
	if Purchases.OrderType() != Purchase {
		t.Fatalf("purchases should produce Purchase records")
	}
	if Sales.OrderType() != Sale {
		t.Fatalf("sales should produce Sale records")
	}
	if ListingKind("refunds").Valid() {
		t.Fatalf("unknown listing should be invalid")
	}
}

func TestParseOrderType(t *testing.T) {
	if got, ok := ParseOrderType(" Sale "); !ok || got != Sale {
		t.Fatalf("ParseOrderType(Sale) = %q, %v", got, ok)
	}
	if _, ok := ParseOrderType("purchase"); ok {
		t.Fatalf("type matching is case sensitive")
	}
}
