package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field names a booking attribute that predicates, sort keys and indexes
// may reference.
type Field string

const (
	FieldID         Field = "id"
	FieldSubjectID  Field = "subject_id"
	FieldResourceID Field = "resource_id"
	FieldRangeStart Field = "range_start"
	FieldRangeEnd   Field = "range_end"
	FieldAmount     Field = "amount"
	FieldStatus     Field = "status"
	FieldCreatedAt  Field = "created_at"
)

var fieldKinds = map[Field]Kind{
	FieldID:         KindString,
	FieldSubjectID:  KindString,
	FieldResourceID: KindString,
	FieldStatus:     KindString,
	FieldRangeStart: KindTime,
	FieldRangeEnd:   KindTime,
	FieldCreatedAt:  KindTime,
	FieldAmount:     KindDecimal,
}

// ParseField validates a field name.
func ParseField(s string) (Field, error) {
	f := Field(strings.TrimSpace(s))
	if _, ok := fieldKinds[f]; !ok {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}

// Kind returns the value kind stored under the field.
func (f Field) Kind() Kind {
	return fieldKinds[f]
}

// Fields is an ordered field tuple, the identity of a composite index.
type Fields []Field

// ParseFields parses a comma separated tuple such as "status,range_start".
func ParseFields(s string) (Fields, error) {
	parts := strings.Split(s, ",")
	out := make(Fields, 0, len(parts))
	seen := make(map[Field]bool, len(parts))
	for _, p := range parts {
		f, err := ParseField(p)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			return nil, fmt.Errorf("field %q repeated in %q", f, s)
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// String renders the tuple in its canonical comma separated form.
func (fs Fields) String() string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

// Equal reports whether two tuples name the same fields in the same order.
func (fs Fields) Equal(other Fields) bool {
	if len(fs) != len(other) {
		return false
	}
	for i := range fs {
		if fs[i] != other[i] {
			return false
		}
	}
	return true
}

// Kind tags the representation held by a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindTime
	KindDecimal
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindDecimal:
		return "decimal"
	}
	return "unknown"
}

// Value is a typed, comparable field value used in index keys and predicates.
type Value struct {
	Kind Kind
	Str  string
	Time time.Time
	Dec  decimal.Decimal
}

func StringValue(s string) Value           { return Value{Kind: KindString, Str: s} }
func TimeValue(t time.Time) Value          { return Value{Kind: KindTime, Time: t} }
func DecimalValue(d decimal.Decimal) Value { return Value{Kind: KindDecimal, Dec: d} }

// Compare orders two values. Values of different kinds order by kind.
func (v Value) Compare(o Value) int {
	if v.Kind != o.Kind {
		if v.Kind < o.Kind {
			return -1
		}
		return 1
	}
	switch v.Kind {
	case KindString:
		return strings.Compare(v.Str, o.Str)
	case KindTime:
		return v.Time.Compare(o.Time)
	case KindDecimal:
		return v.Dec.Cmp(o.Dec)
	}
	return 0
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindTime:
		if v.Time.Equal(Date(v.Time)) {
			return v.Time.Format(DateLayout)
		}
		return v.Time.Format(time.RFC3339Nano)
	case KindDecimal:
		return v.Dec.String()
	}
	return ""
}

// ParseValue parses raw into the kind stored under f.
func ParseValue(f Field, raw string) (Value, error) {
	switch f.Kind() {
	case KindString:
		return StringValue(raw), nil
	case KindTime:
		if f == FieldCreatedAt {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return Value{}, fmt.Errorf("field %s: %w", f, err)
			}
			return TimeValue(t.UTC()), nil
		}
		t, err := ParseDate(raw)
		if err != nil {
			return Value{}, fmt.Errorf("field %s: %w", f, err)
		}
		return TimeValue(t), nil
	case KindDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return Value{}, fmt.Errorf("field %s: %w", f, err)
		}
		return DecimalValue(d), nil
	}
	return Value{}, fmt.Errorf("unknown field %q", f)
}

// Value returns the booking's value for f.
func (b *Booking) Value(f Field) Value {
	switch f {
	case FieldID:
		return StringValue(b.ID)
	case FieldSubjectID:
		return StringValue(b.SubjectID)
	case FieldResourceID:
		return StringValue(b.ResourceID)
	case FieldStatus:
		return StringValue(string(b.Status))
	case FieldRangeStart:
		return TimeValue(b.RangeStart)
	case FieldRangeEnd:
		return TimeValue(b.RangeEnd)
	case FieldCreatedAt:
		return TimeValue(b.CreatedAt)
	case FieldAmount:
		return DecimalValue(b.Amount)
	}
	return Value{}
}
