package planner

import (
	"fmt"
	"strings"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/internal/index"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Operator is a comparison operator in a condition.
type Operator string

const (
	OpEq Operator = "="
	OpNe Operator = "!="
	OpLt Operator = "<"
	OpLe Operator = "<="
	OpGt Operator = ">"
	OpGe Operator = ">="
)

// ParseOperator accepts the operator spellings clients commonly send.
func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "=", "==", "eq":
		return OpEq, nil
	case "!=", "<>", "ne":
		return OpNe, nil
	case "<", "lt":
		return OpLt, nil
	case "<=", "le", "lte":
		return OpLe, nil
	case ">", "gt":
		return OpGt, nil
	case ">=", "ge", "gte":
		return OpGe, nil
	}
	return "", errors.NewQueryError(errors.CodeInvalidQuery, fmt.Sprintf("unknown operator %q", s))
}

func (op Operator) isRange() bool {
	return op == OpLt || op == OpLe || op == OpGt || op == OpGe
}

// Condition compares one record field with a constant.
type Condition struct {
	Field types.Field
	Op    Operator
	Value types.Value
}

// NewCondition parses a condition from its textual parts.
func NewCondition(field, op, raw string) (Condition, error) {
	f, err := types.ParseField(field)
	if err != nil {
		return Condition{}, errors.NewQueryError(errors.CodeInvalidQuery, err.Error())
	}
	o, err := ParseOperator(op)
	if err != nil {
		return Condition{}, err
	}
	v, err := types.ParseValue(f, raw)
	if err != nil {
		return Condition{}, errors.NewQueryError(errors.CodeInvalidQuery, err.Error())
	}
	return Condition{Field: f, Op: o, Value: v}, nil
}

// Matches reports whether b satisfies the condition.
func (c Condition) Matches(b *types.Booking) bool {
	cmp := b.Value(c.Field).Compare(c.Value)
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Value)
}

// SortKey orders query results by one field. Ties are broken by record id
// in the same direction.
type SortKey struct {
	Field types.Field
	Desc  bool
}

// Query is a conjunction of conditions with an optional sort key, offset
// and limit. A zero Limit returns every match.
type Query struct {
	Where  []Condition
	Sort   *SortKey
	Offset int
	Limit  int
}

// Validate checks the query is well formed.
func (q Query) Validate() error {
	for _, c := range q.Where {
		if c.Field.Kind() != c.Value.Kind {
			return errors.NewQueryError(errors.CodeInvalidQuery,
				fmt.Sprintf("condition on %s expects a %s value", c.Field, c.Field.Kind()))
		}
		switch c.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		default:
			return errors.NewQueryError(errors.CodeInvalidQuery, fmt.Sprintf("unknown operator %q", c.Op))
		}
	}
	if q.Sort != nil {
		if _, err := types.ParseField(string(q.Sort.Field)); err != nil {
			return errors.NewQueryError(errors.CodeInvalidQuery, err.Error())
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return errors.NewQueryError(errors.CodeInvalidQuery, "limit and offset must not be negative")
	}
	return nil
}

// Matches reports whether b satisfies every condition.
func (q Query) Matches(b *types.Booking) bool {
	for _, c := range q.Where {
		if !c.Matches(b) {
			return false
		}
	}
	return true
}

// Equalities returns the constant each equality condition pins a field
// to, keeping the first one per field.
func (q Query) Equalities() map[types.Field]types.Value {
	eq := make(map[types.Field]types.Value)
	for _, c := range q.Where {
		if c.Op != OpEq {
			continue
		}
		if _, ok := eq[c.Field]; !ok {
			eq[c.Field] = c.Value
		}
	}
	return eq
}

// dateRange derives the bounds the conditions put on range_start.
func (q Query) dateRange() types.DateRange {
	var r types.DateRange
	for _, c := range q.Where {
		if c.Field != types.FieldRangeStart {
			continue
		}
		at := c.Value.Time
		switch c.Op {
		case OpEq:
			r = r.Tighten(&types.RangeBound{At: at, Inclusive: true}, &types.RangeBound{At: at, Inclusive: true})
		case OpGt:
			r = r.Tighten(&types.RangeBound{At: at}, nil)
		case OpGe:
			r = r.Tighten(&types.RangeBound{At: at, Inclusive: true}, nil)
		case OpLt:
			r = r.Tighten(nil, &types.RangeBound{At: at})
		case OpLe:
			r = r.Tighten(nil, &types.RangeBound{At: at, Inclusive: true})
		}
	}
	return r
}

// rangeOn returns the tightest bounds the conditions put on f.
func (q Query) rangeOn(f types.Field) (lower, upper *index.Bound) {
	for _, c := range q.Where {
		if c.Field != f || !c.Op.isRange() {
			continue
		}
		b := &index.Bound{Value: c.Value, Inclusive: c.Op == OpLe || c.Op == OpGe}
		if c.Op == OpGt || c.Op == OpGe {
			if lower == nil || tighterLower(b, lower) {
				lower = b
			}
			continue
		}
		if upper == nil || tighterUpper(b, upper) {
			upper = b
		}
	}
	return lower, upper
}

func tighterLower(a, b *index.Bound) bool {
	c := a.Value.Compare(b.Value)
	return c > 0 || (c == 0 && !a.Inclusive)
}

func tighterUpper(a, b *index.Bound) bool {
	c := a.Value.Compare(b.Value)
	return c < 0 || (c == 0 && !a.Inclusive)
}

// predicateFor builds the index predicate a query can push into an index
// over fields: equalities on the longest key prefix, then an optional
// range on the next component.
func (q Query) predicateFor(fields types.Fields, eq map[types.Field]types.Value) index.Predicate {
	var pred index.Predicate
	for _, f := range fields {
		if v, ok := eq[f]; ok {
			pred.Equal = append(pred.Equal, v)
			continue
		}
		pred.Lower, pred.Upper = q.rangeOn(f)
		break
	}
	return pred
}

// scanTuple names the fields a query filtered on in the order an index
// serving it would need them: equality fields first, then range fields.
// range_start is left out since the clustered order already serves it.
func (q Query) scanTuple() string {
	seen := make(map[types.Field]bool)
	var eqs, ranges types.Fields
	for _, c := range q.Where {
		if c.Field == types.FieldRangeStart || c.Op == OpNe || seen[c.Field] {
			continue
		}
		seen[c.Field] = true
		if c.Op == OpEq {
			eqs = append(eqs, c.Field)
		} else {
			ranges = append(ranges, c.Field)
		}
	}
	if len(ranges) > 0 {
		eqs = append(eqs, ranges[0])
	}
	return eqs.String()
}
