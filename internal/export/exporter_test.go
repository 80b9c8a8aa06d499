package export

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/Iron-Ham/sprintfleet/internal/bus"
	"github.com/Iron-Ham/sprintfleet/internal/errors"
)

type record struct {
	key   string
	value []byte
}

type memorySink struct {
	mu      sync.Mutex
	records []record
	fail    error
	closed  bool
}

func (s *memorySink) Write(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.records = append(s.records, record{key: key, value: value})
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) snapshot() []record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New()
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNew_Validation(t *testing.T) {
	b := newTestBus(t)
	sink := &memorySink{}

	if _, err := New(nil, sink, []string{"team"}); err == nil {
		t.Error("New() without bus should fail")
	}
	if _, err := New(b, nil, []string{"team"}); err == nil {
		t.Error("New() without sink should fail")
	}
	if _, err := New(b, sink, nil); err == nil {
		t.Error("New() without topics should fail")
	}

	e, err := New(b, sink, []string{"team", "budget", "team"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := e.Topics(); !slices.Equal(got, []string{"budget", "team"}) {
		t.Errorf("Topics() = %v, want sorted and deduplicated", got)
	}
}

func TestExporter_ForwardsWireMessages(t *testing.T) {
	b := newTestBus(t)
	sink := &memorySink{}
	e, err := New(b, sink, []string{"coordination", "team"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx := context.Background()

	sent, err := b.Publish(ctx, "coordinator", "coordination", bus.Content{"sprint": 2})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, err := b.Publish(ctx, "kanban", "kanban", bus.Content{"card_id": "c1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	records := sink.snapshot()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (kanban is not exported)", len(records))
	}
	if records[0].key != "coordination" {
		t.Errorf("record key = %q, want coordination", records[0].key)
	}
	decoded, err := bus.Decode(records[0].value)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.ID != sent.ID || decoded.Sender != "coordinator" || decoded.Channel != "coordination" {
		t.Errorf("decoded = %+v", decoded)
	}
	if got := e.Stats(); got.Exported != 1 || got.Failed != 0 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestExporter_SinkFailureIsNotFatal(t *testing.T) {
	b := newTestBus(t)
	sink := &memorySink{fail: errors.New("broker down")}
	e, err := New(b, sink, []string{"team"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := b.Publish(context.Background(), "orchestrator", "team", bus.Content{"event": "x"}); err != nil {
		t.Fatalf("Publish() should not see export failures, got %v", err)
	}
	if got := e.Stats(); got.Failed != 1 || got.Exported != 0 {
		t.Errorf("Stats() = %+v, want one failure", got)
	}
}

func TestExporter_Stop(t *testing.T) {
	b := newTestBus(t)
	sink := &memorySink{}
	e, err := New(b, sink, []string{"team"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if n := b.SubscriberCount("team"); n != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", n)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n := b.SubscriberCount("team"); n != 0 {
		t.Errorf("SubscriberCount() after Stop = %d, want 0", n)
	}
	if !sink.closed {
		t.Error("Stop() should close the sink")
	}

	if _, err := b.Publish(context.Background(), "orchestrator", "team", bus.Content{}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n := len(sink.snapshot()); n != 0 {
		t.Errorf("got %d records after Stop, want 0", n)
	}
}

func TestExporter_StartOnClosedBus(t *testing.T) {
	b := bus.New()
	_ = b.Close()

	e, err := New(b, &memorySink{}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(); !errors.Is(err, errors.ErrBusClosed) {
		t.Errorf("Start() error = %v, want ErrBusClosed", err)
	}
}

func TestNewKafkaSink_Validation(t *testing.T) {
	if _, err := NewKafkaSink(nil, "events"); err == nil {
		t.Error("NewKafkaSink() without brokers should fail")
	}
	if _, err := NewKafkaSink([]string{"localhost:9092"}, ""); err == nil {
		t.Error("NewKafkaSink() without topic should fail")
	}
}

func TestKafkaSink_WriteAfterClose(t *testing.T) {
	// kgo connects lazily, so building a client needs no broker.
	sink, err := NewKafkaSink([]string{"127.0.0.1:1"}, "events")
	if err != nil {
		t.Fatalf("NewKafkaSink() error = %v", err)
	}
	if sink.Topic() != "events" {
		t.Errorf("Topic() = %q", sink.Topic())
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := sink.Write(context.Background(), "k", []byte("v")); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Write() after Close error = %v, want ErrSinkClosed", err)
	}
}
