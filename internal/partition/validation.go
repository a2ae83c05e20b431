package partition

import (
	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Validate checks the invariants a booking must satisfy before it is
// stored. Violations are reported as InvariantViolation errors naming the
// record and the offending field.
func Validate(b *types.Booking) error {
	switch {
	case b.ID == "":
		return errors.NewInvariantViolation("id is required", b.ID, string(types.FieldID))
	case b.SubjectID == "":
		return errors.NewInvariantViolation("subject_id is required", b.ID, string(types.FieldSubjectID))
	case b.ResourceID == "":
		return errors.NewInvariantViolation("resource_id is required", b.ID, string(types.FieldResourceID))
	case b.RangeStart.IsZero():
		return errors.NewInvariantViolation("range_start is required", b.ID, string(types.FieldRangeStart))
	case b.RangeEnd.IsZero():
		return errors.NewInvariantViolation("range_end is required", b.ID, string(types.FieldRangeEnd))
	case !b.RangeStart.Before(b.RangeEnd):
		return errors.NewInvariantViolation("range_start must be before range_end", b.ID, string(types.FieldRangeEnd))
	case b.Amount.IsNegative():
		return errors.NewInvariantViolation("amount must not be negative", b.ID, string(types.FieldAmount))
	case !b.Status.Valid():
		return errors.NewInvariantViolation("unknown status "+string(b.Status), b.ID, string(types.FieldStatus))
	}
	return nil
}
