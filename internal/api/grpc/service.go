// Package grpc provides the gRPC ingest service of the booking store.
package grpc

import (
	"context"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	"github.com/arkilian/bookingstore/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bookingstore.v1.Ingest"

// SubmitRequest carries one booking. Dates are YYYY-MM-DD.
type SubmitRequest struct {
	ID         string                 `json:"id,omitempty"`
	SubjectID  string                 `json:"subject_id"`
	ResourceID string                 `json:"resource_id"`
	RangeStart string                 `json:"range_start"`
	RangeEnd   string                 `json:"range_end"`
	Amount     decimal.Decimal        `json:"amount"`
	Status     string                 `json:"status,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// SubmitResponse names the stored booking.
type SubmitResponse struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
}

// GetRequest asks for one booking.
type GetRequest struct {
	ID string `json:"id"`
}

// TransitionRequest moves a booking to a new status.
type TransitionRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// BookingResponse returns a booking.
type BookingResponse struct {
	Booking types.Booking `json:"booking"`
}

// RatingRequest records a rating for a resource.
type RatingRequest struct {
	ResourceID string  `json:"resource_id"`
	Value      float64 `json:"value"`
}

// RatingResponse reports the resource's rating state after the update.
type RatingResponse struct {
	ResourceID    string  `json:"resource_id"`
	RatingCount   int64   `json:"rating_count"`
	RatingAverage float64 `json:"rating_average"`
}

// IngestService is the server side of bookingstore.v1.Ingest.
type IngestService interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	Get(context.Context, *GetRequest) (*BookingResponse, error)
	Transition(context.Context, *TransitionRequest) (*BookingResponse, error)
	RecordRating(context.Context, *RatingRequest) (*RatingResponse, error)
}

// RegisterIngestService registers srv on s.
func RegisterIngestService(s grpc.ServiceRegistrar, srv IngestService) {
	s.RegisterService(&ingestServiceDesc, srv)
}

func unaryHandler[Req any](call func(IngestService, context.Context, *Req) (interface{}, error), method string) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IngestService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(IngestService), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler: unaryHandler(func(s IngestService, ctx context.Context, in *SubmitRequest) (interface{}, error) {
				return s.Submit(ctx, in)
			}, "Submit"),
		},
		{
			MethodName: "Get",
			Handler: unaryHandler(func(s IngestService, ctx context.Context, in *GetRequest) (interface{}, error) {
				return s.Get(ctx, in)
			}, "Get"),
		},
		{
			MethodName: "Transition",
			Handler: unaryHandler(func(s IngestService, ctx context.Context, in *TransitionRequest) (interface{}, error) {
				return s.Transition(ctx, in)
			}, "Transition"),
		},
		{
			MethodName: "RecordRating",
			Handler: unaryHandler(func(s IngestService, ctx context.Context, in *RatingRequest) (interface{}, error) {
				return s.RecordRating(ctx, in)
			}, "RecordRating"),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bookingstore/v1/ingest",
}

// IngestClient calls bookingstore.v1.Ingest over a connection.
type IngestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient wraps cc. Calls always use the JSON codec.
func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

func (c *IngestClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

// Submit stores a booking.
func (c *IngestClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.invoke(ctx, "Submit", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches a booking.
func (c *IngestClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*BookingResponse, error) {
	out := new(BookingResponse)
	if err := c.invoke(ctx, "Get", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Transition changes a booking's status.
func (c *IngestClient) Transition(ctx context.Context, in *TransitionRequest, opts ...grpc.CallOption) (*BookingResponse, error) {
	out := new(BookingResponse)
	if err := c.invoke(ctx, "Transition", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordRating records a rating.
func (c *IngestClient) RecordRating(ctx context.Context, in *RatingRequest, opts ...grpc.CallOption) (*RatingResponse, error) {
	out := new(RatingResponse)
	if err := c.invoke(ctx, "RecordRating", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
