// Package models defines data structures for the exporter.
package models

import (
	"strings"
	"time"
)

// OrderType tags a record with the listing that produced it.
type OrderType string

const (
	Purchase OrderType = "Purchase"
	Sale     OrderType = "Sale"
)

// ParseOrderType maps the stored Type column back to an OrderType.
func ParseOrderType(s string) (OrderType, bool) {
	switch OrderType(strings.TrimSpace(s)) {
	case Purchase:
		return Purchase, true
	case Sale:
		return Sale, true
	default:
		return "", false
	}
}

// ListingKind identifies one paginated order listing on the marketplace.
type ListingKind string

const (
	Purchases ListingKind = "purchases"
	Sales     ListingKind = "sales"
)

// OrderType returns the record type produced by the listing.
func (k ListingKind) OrderType() OrderType {
	if k == Sales {
		return Sale
	}
	return Purchase
}

// Valid reports whether k is a known listing.
func (k ListingKind) Valid() bool {
	return k == Purchases || k == Sales
}

// DateLayout is the marketplace's day.month.2-digit-year format.
const DateLayout = "2.1.06"

// Order represents one marketplace transaction.
type Order struct {
	OrderID      string    `csv:"Order ID" json:"order_id"`
	Date         string    `csv:"Date" json:"date"`
	Counterparty string    `csv:"User" json:"counterparty"`
	Status       string    `csv:"Status" json:"status"`
	Total        string    `csv:"Total" json:"total"`
	Type         OrderType `csv:"Type" json:"type"`
}

// ParsedDate interprets Date, ignoring any trailing time component.
// The second return value is false when the date is missing or malformed.
func (o *Order) ParsedDate() (time.Time, bool) {
	return ParseDate(o.Date)
}

// ParseDate parses a raw listing date such as "05.03.25" or "05.03.25 14:22".
func ParseDate(raw string) (time.Time, bool) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, fields[0])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// StopReason explains why a listing walk ended.
type StopReason string

const (
	StopEndOfData      StopReason = "end_of_data"
	StopNoMorePages    StopReason = "no_more_pages"
	StopDuplicate      StopReason = "duplicate"
	StopDateCutoff     StopReason = "date_cutoff"
	StopSessionLost    StopReason = "session_lost"
	StopTransportError StopReason = "transport_error"
	StopCancelled      StopReason = "cancelled"
	StopPageLimit      StopReason = "page_limit"
	StopRepeatedPage   StopReason = "repeated_page"
)

// WalkResult holds the outcome of walking one listing.
type WalkResult struct {
	Kind       ListingKind
	Orders     []*Order
	Pages      int
	Duplicates int
	Undated    int
	Reason     StopReason
	Err        error
	StartTime  time.Time
	EndTime    time.Time
}

// RunSummary holds the overall result of an export run.
type RunSummary struct {
	RunID       string
	Listings    []*WalkResult
	NewOrders   int
	TotalOrders int
	Persisted   bool
	Err         error
	StartTime   time.Time
	EndTime     time.Time
}

// Failed returns the listings that ended on an error.
func (s *RunSummary) Failed() []*WalkResult {
	var failed []*WalkResult
	for _, l := range s.Listings {
		if l.Err != nil {
			failed = append(failed, l)
		}
	}
	return failed
}
