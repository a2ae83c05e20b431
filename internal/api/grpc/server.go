package grpc

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arkilian/bookingstore/internal/aggregate"
	"github.com/arkilian/bookingstore/internal/errors"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Store is the part of the booking store the ingest service writes to.
type Store interface {
	Submit(ctx context.Context, b types.Booking) (string, error)
	Get(ctx context.Context, id string) (types.Booking, error)
	Transition(ctx context.Context, id string, status types.Status) error
	RecordRating(ctx context.Context, resourceID string, value float64) error
	ResourceSummary(id string) (aggregate.ResourceSummary, error)
}

// IngestServer implements IngestService on top of a Store.
type IngestServer struct {
	store Store
}

// NewIngestServer creates a new gRPC ingest server.
func NewIngestServer(store Store) *IngestServer {
	return &IngestServer{store: store}
}

// NewServer returns a gRPC server with the ingest service registered and
// the request id and recovery interceptors installed.
func NewServer(store Store, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(recoveryInterceptor, requestIDInterceptor))
	s := grpc.NewServer(opts...)
	RegisterIngestService(s, NewIngestServer(store))
	return s
}

// Submit validates and stores one booking.
func (s *IngestServer) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	start, err := types.ParseDate(req.RangeStart)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "range_start: %v", err)
	}
	end, err := types.ParseDate(req.RangeEnd)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "range_end: %v", err)
	}
	id, err := s.store.Submit(ctx, types.Booking{
		ID:         req.ID,
		SubjectID:  req.SubjectID,
		ResourceID: req.ResourceID,
		RangeStart: start,
		RangeEnd:   end,
		Amount:     req.Amount,
		Status:     types.Status(req.Status),
		Attributes: req.Attributes,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitResponse{ID: id, RequestID: extractRequestID(ctx)}, nil
}

// Get returns one booking.
func (s *IngestServer) Get(ctx context.Context, req *GetRequest) (*BookingResponse, error) {
	b, err := s.store.Get(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BookingResponse{Booking: b}, nil
}

// Transition moves a booking to a new status and returns it.
func (s *IngestServer) Transition(ctx context.Context, req *TransitionRequest) (*BookingResponse, error) {
	if err := s.store.Transition(ctx, req.ID, types.Status(req.Status)); err != nil {
		return nil, toStatus(err)
	}
	return s.Get(ctx, &GetRequest{ID: req.ID})
}

// RecordRating folds a rating into the resource summary.
func (s *IngestServer) RecordRating(ctx context.Context, req *RatingRequest) (*RatingResponse, error) {
	if err := s.store.RecordRating(ctx, req.ResourceID, req.Value); err != nil {
		return nil, toStatus(err)
	}
	sum, err := s.store.ResourceSummary(req.ResourceID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RatingResponse{
		ResourceID:    sum.ResourceID,
		RatingCount:   sum.RatingCount,
		RatingAverage: sum.RatingAverage,
	}, nil
}

// toStatus maps a store error onto a gRPC status.
func toStatus(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		if errors.GetCode(err) == "" {
			return status.FromContextError(err).Err()
		}
	}
	var c codes.Code
	switch errors.GetCode(err) {
	case errors.CodeInvariantViolation, errors.CodeInvalidQuery:
		c = codes.InvalidArgument
	case errors.CodeConflict:
		c = codes.AlreadyExists
		if errors.GetDetails(err)[errors.DetailField] == string(types.FieldStatus) {
			c = codes.FailedPrecondition
		}
	case errors.CodeNotFound, errors.CodeNoSuchIndex:
		c = codes.NotFound
	case errors.CodeBusy:
		c = codes.Unavailable
	default:
		c = codes.Internal
	}
	return status.Error(c, err.Error())
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

func requestIDInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	id := extractRequestID(ctx)
	md, _ := metadata.FromIncomingContext(ctx)
	md = md.Copy()
	md.Set("x-request-id", id)
	ctx = metadata.NewIncomingContext(ctx, md)
	if err := grpc.SetHeader(ctx, metadata.Pairs("x-request-id", id)); err != nil {
		log.Printf("grpc: failed to set request id header: %v", err)
	}
	return handler(ctx, req)
}

func recoveryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("grpc: panic in %s: %v\n%s", info.FullMethod, r, debug.Stack())
			err = status.Error(codes.Internal, fmt.Sprintf("internal error in %s", info.FullMethod))
		}
	}()
	return handler(ctx, req)
}
