package http

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/internal/query/planner"
	"github.com/arkilian/bookingstore/pkg/types"
)

// BookingRequest is the body of POST /v1/bookings. Dates are YYYY-MM-DD.
type BookingRequest struct {
	ID         string                 `json:"id" validate:"omitempty,max=128"`
	SubjectID  string                 `json:"subject_id" validate:"required,max=128"`
	ResourceID string                 `json:"resource_id" validate:"required,max=128"`
	RangeStart string                 `json:"range_start" validate:"required"`
	RangeEnd   string                 `json:"range_end" validate:"required"`
	Amount     decimal.Decimal        `json:"amount"`
	Status     string                 `json:"status" validate:"omitempty,oneof=pending confirmed canceled"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Booking converts the request into a booking.
func (r BookingRequest) Booking() (types.Booking, error) {
	start, err := types.ParseDate(r.RangeStart)
	if err != nil {
		return types.Booking{}, fmt.Errorf("range_start: %w", err)
	}
	end, err := types.ParseDate(r.RangeEnd)
	if err != nil {
		return types.Booking{}, fmt.Errorf("range_end: %w", err)
	}
	return types.Booking{
		ID:         r.ID,
		SubjectID:  r.SubjectID,
		ResourceID: r.ResourceID,
		RangeStart: start,
		RangeEnd:   end,
		Amount:     r.Amount,
		Status:     types.Status(r.Status),
		Attributes: r.Attributes,
	}, nil
}

// SubmitResponse is returned for an accepted booking.
type SubmitResponse struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id,omitempty"`
}

// TransitionRequest is the body of POST /v1/bookings/{id}/transition.
type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed canceled"`
}

// RatingRequest is the body of POST /v1/ratings.
type RatingRequest struct {
	ResourceID string  `json:"resource_id" validate:"required,max=128"`
	Value      float64 `json:"value"`
}

// ConditionRequest is one condition of a query.
type ConditionRequest struct {
	Field string `json:"field" validate:"required"`
	Op    string `json:"op" validate:"required"`
	Value string `json:"value"`
}

// SortRequest orders query results.
type SortRequest struct {
	Field     string `json:"field" validate:"required"`
	Direction string `json:"direction" validate:"omitempty,oneof=asc desc ASC DESC"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Where  []ConditionRequest `json:"where" validate:"dive"`
	Sort   *SortRequest       `json:"sort"`
	Offset int                `json:"offset" validate:"gte=0"`
	Limit  int                `json:"limit" validate:"gte=0"`
}

// Query converts the request into a planner query.
func (r QueryRequest) Query() (planner.Query, error) {
	q := planner.Query{Offset: r.Offset, Limit: r.Limit}
	for _, c := range r.Where {
		cond, err := planner.NewCondition(c.Field, c.Op, c.Value)
		if err != nil {
			return planner.Query{}, err
		}
		q.Where = append(q.Where, cond)
	}
	if r.Sort != nil {
		f, err := types.ParseField(r.Sort.Field)
		if err != nil {
			return planner.Query{}, errors.NewQueryError(errors.CodeInvalidQuery, "sort: "+err.Error())
		}
		q.Sort = &planner.SortKey{Field: f, Desc: strings.EqualFold(r.Sort.Direction, "desc")}
	}
	return q, nil
}

// QueryResponse is the body returned by POST /v1/query.
type QueryResponse struct {
	QueryID   string          `json:"query_id"`
	Records   []types.Booking `json:"records"`
	Stats     QueryStats      `json:"stats"`
	RequestID string          `json:"request_id,omitempty"`
}

// QueryStats contains execution statistics.
type QueryStats struct {
	Plan              string `json:"plan"`
	PartitionsScanned int    `json:"partitions_scanned"`
	PartitionsPruned  int    `json:"partitions_pruned"`
	PartitionsSkipped int    `json:"partitions_skipped"`
	RowsExamined      int64  `json:"rows_examined"`
	ExecutionTimeMs   int64  `json:"execution_time_ms"`
}

// ExplainResponse describes a plan without executing it.
type ExplainResponse struct {
	Plan       string   `json:"plan"`
	Partitions []string `json:"partitions"`
	Access     []string `json:"access"`
}

// PartitionRequest is the body of POST /v1/partitions.
type PartitionRequest struct {
	Year int `json:"year" validate:"required,gte=1,lte=9999"`
}

// IndexRequest is the body of POST /v1/indexes.
type IndexRequest struct {
	Fields []string `json:"fields" validate:"required,min=1,dive,required"`
}

// Tuple parses the requested field tuple.
func (r IndexRequest) Tuple() (types.Fields, error) {
	return types.ParseFields(strings.Join(r.Fields, ","))
}
