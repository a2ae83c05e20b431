package events

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/arkilian/bookingstore/internal/aggregate"
	"github.com/arkilian/bookingstore/internal/config"
	"github.com/arkilian/bookingstore/internal/errors"
)

type fakeSink struct {
	err   error
	calls []RatingRecorded
}

func (f *fakeSink) RecordRating(_ context.Context, resourceID string, value float64) error {
	f.calls = append(f.calls, RatingRecorded{ResourceID: resourceID, Value: value})
	return f.err
}

func TestNewConsumerDefaults(t *testing.T) {
	c := NewConsumer(config.EventsConfig{Queue: "q"}, &fakeSink{})
	if c.cfg.RoutingKey != RKRatingRecorded {
		t.Errorf("routing key = %q, want %q", c.cfg.RoutingKey, RKRatingRecorded)
	}
	if c.cfg.Prefetch != 8 {
		t.Errorf("prefetch = %d, want 8", c.cfg.Prefetch)
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		sinkErr     error
		wantErr     bool
		wantRequeue bool
		wantCalls   int
	}{
		{name: "applied", body: `{"resource_id":"r1","value":4}`, wantCalls: 1},
		{name: "malformed", body: `{"resource_id":`, wantErr: true},
		{
			name:      "invalid rating dropped",
			body:      `{"resource_id":"r1","value":11}`,
			sinkErr:   errors.NewInvariantViolation("rating 11 outside [1, 5]", "", "value"),
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:        "busy requeued",
			body:        `{"resource_id":"r1","value":3}`,
			sinkErr:     errors.NewBusy("p2024", time.Second),
			wantErr:     true,
			wantRequeue: true,
			wantCalls:   1,
		},
		{
			name:        "persist failure requeued",
			body:        `{"resource_id":"r1","value":3}`,
			sinkErr:     errors.New(errors.ErrCategoryCatalog, errors.CodePersistFailed, "disk full"),
			wantErr:     true,
			wantRequeue: true,
			wantCalls:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{err: tt.sinkErr}
			c := NewConsumer(config.EventsConfig{}, sink)

			requeue, err := c.Handle(context.Background(), []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle error = %v, wantErr %v", err, tt.wantErr)
			}
			if requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", requeue, tt.wantRequeue)
			}
			if len(sink.calls) != tt.wantCalls {
				t.Errorf("sink calls = %d, want %d", len(sink.calls), tt.wantCalls)
			}
		})
	}
}

func TestHandleFeedsMaintainer(t *testing.T) {
	m := aggregate.NewMaintainer(aggregate.DefaultConfig(), nil, nil)
	c := NewConsumer(config.EventsConfig{}, maintainerSink{m})

	for _, body := range []string{
		`{"resource_id":"r1","value":5}`,
		`{"resource_id":"r1","value":3}`,
		`{"resource_id":"r1","value":0}`,
	} {
		_, _ = c.Handle(context.Background(), []byte(body))
	}

	sum, ok := m.Resource("r1")
	if !ok {
		t.Fatal("expected a summary for r1")
	}
	if sum.RatingCount != 2 || sum.RatingAverage != 4 {
		t.Errorf("got count=%d avg=%v, want count=2 avg=4", sum.RatingCount, sum.RatingAverage)
	}
}

type maintainerSink struct{ m *aggregate.Maintainer }

func (s maintainerSink) RecordRating(_ context.Context, resourceID string, value float64) error {
	return s.m.RecordRating(resourceID, value, nil)
}

type ackRecorder struct {
	acked, nacked int
}

func (a *ackRecorder) Ack(uint64, bool) error        { a.acked++; return nil }
func (a *ackRecorder) Nack(uint64, bool, bool) error { a.nacked++; return nil }
func (a *ackRecorder) Reject(uint64, bool) error     { return nil }

func TestConsumeReportsClosedChannel(t *testing.T) {
	sink := &fakeSink{}
	c := NewConsumer(config.EventsConfig{}, sink)
	acks := &ackRecorder{}

	msgs := make(chan amqp.Delivery, 2)
	msgs <- amqp.Delivery{Acknowledger: acks, Body: []byte(`{"resource_id":"r1","value":4}`)}
	msgs <- amqp.Delivery{Acknowledger: acks, Body: []byte(`not json`)}
	close(msgs)

	err := c.consume(context.Background(), msgs)
	if !stderrors.Is(err, amqp.ErrClosed) {
		t.Fatalf("consume error = %v, want amqp.ErrClosed", err)
	}
	if acks.acked != 1 || acks.nacked != 1 || len(sink.calls) != 1 {
		t.Errorf("acked=%d nacked=%d calls=%d", acks.acked, acks.nacked, len(sink.calls))
	}
}

func TestConsumeStopsQuietlyOnCancel(t *testing.T) {
	c := NewConsumer(config.EventsConfig{}, &fakeSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msgs := make(chan amqp.Delivery)
	close(msgs)
	if err := c.consume(ctx, msgs); err != nil {
		t.Errorf("consume after cancel = %v, want nil", err)
	}
}
