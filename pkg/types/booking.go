package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of RangeStart and RangeEnd.
const DateLayout = "2006-01-02"

// Booking is one reservation record. Every field except Status is immutable
// once the record is accepted.
type Booking struct {
	// ID is unique across all partitions. Generated when empty on submit.
	ID string `json:"id"`

	// SubjectID identifies who made the booking (user, account).
	SubjectID string `json:"subject_id"`

	// ResourceID identifies what was booked (property, room, seat).
	ResourceID string `json:"resource_id"`

	// RangeStart is the first booked day and the partitioning key.
	RangeStart time.Time `json:"range_start"`

	// RangeEnd is the day after the last booked day. Always after RangeStart.
	RangeEnd time.Time `json:"range_end"`

	// Amount is the non-negative price of the booking.
	Amount decimal.Decimal `json:"amount"`

	Status Status `json:"status"`

	// CreatedAt is assigned by the store and strictly increases per insert.
	CreatedAt time.Time `json:"created_at"`

	// Attributes holds free-form payload that is stored but never indexed.
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string, falling back to RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return Date(t), nil
}

// Clone returns a copy that shares no mutable state with b.
func (b *Booking) Clone() Booking {
	cp := *b
	if b.Attributes != nil {
		cp.Attributes = make(map[string]interface{}, len(b.Attributes))
		for k, v := range b.Attributes {
			cp.Attributes[k] = v
		}
	}
	return cp
}

// Contributes reports whether the booking counts toward summaries.
func (b *Booking) Contributes() bool {
	return b.Status.Contributes()
}

// SizeBytes estimates the in-memory footprint of the record.
func (b *Booking) SizeBytes() int64 {
	// three timestamps, the decimal and the status tag
	size := int64(3*24 + 32 + 16)
	size += int64(len(b.ID) + len(b.SubjectID) + len(b.ResourceID))
	for k, v := range b.Attributes {
		size += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			size += int64(len(s))
		}
	}
	return size
}
