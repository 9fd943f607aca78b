package eventing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type deviceSeen struct {
	EventID    string    `json:"event_id"`
	DeviceSN   string    `json:"device_sn"`
	OccurredAt time.Time `json:"occurred_at"`
}

type memoryProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *memoryProcessed) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[eventID+"/"+consumerName], nil
}

func (s *memoryProcessed) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.seen[eventID+"/"+consumerName] = true
	return nil
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	var got []deviceSeen
	bus.Subscribe(EventTypeOf[deviceSeen](), func(ctx context.Context, event any) error {
		evt, ok := event.(deviceSeen)
		if !ok {
			return ErrInvalidEventType
		}
		got = append(got, evt)
		return nil
	})

	if err := bus.Publish(context.Background(), deviceSeen{EventID: "evt-1", DeviceSN: "SN100"}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if len(got) != 1 || got[0].DeviceSN != "SN100" {
		t.Fatalf("unexpected events: %+v", got)
	}

	if err := bus.Publish(context.Background(), nil); !errors.Is(err, ErrNilEvent) {
		t.Fatalf("expected ErrNilEvent, got %v", err)
	}
}

func TestBuildEnvelopeExtractsDeviceSN(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	env, err := BuildEnvelope(deviceSeen{EventID: "evt-1", DeviceSN: "SN100", OccurredAt: occurred}, Meta{})
	if err != nil {
		t.Fatalf("BuildEnvelope error: %v", err)
	}
	if env.DeviceSN != "SN100" {
		t.Fatalf("device sn = %q, want SN100", env.DeviceSN)
	}
	if !env.OccurredAt.Equal(occurred) {
		t.Fatalf("occurred at = %s, want %s", env.OccurredAt, occurred)
	}
	if env.EventID == "" || env.CorrelationID != env.EventID {
		t.Fatalf("unexpected ids: %+v", env)
	}
	if env.SchemaVersion != 1 {
		t.Fatalf("schema version = %d, want 1", env.SchemaVersion)
	}
}

func TestPublishUsesContextMeta(t *testing.T) {
	bus := NewInMemoryBus()
	publisher := NewPublisher(nil, nil, bus, bus)
	var env Envelope
	bus.Subscribe(EventTypeOf[deviceSeen](), func(ctx context.Context, event any) error {
		var ok bool
		env, ok = EnvelopeFromContext(ctx)
		if !ok {
			return errors.New("no envelope in context")
		}
		return nil
	})

	ctx := WithDeviceSN(context.Background(), "SN200")
	ctx = WithCorrelationID(ctx, "corr-7")
	if err := publisher.Publish(ctx, deviceSeen{EventID: "evt-1"}); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if env.DeviceSN != "SN200" {
		t.Fatalf("device sn = %q, want SN200", env.DeviceSN)
	}
	if env.CorrelationID != "corr-7" {
		t.Fatalf("correlation id = %q, want corr-7", env.CorrelationID)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	registry := NewRegistry()
	registry.Register(deviceSeen{})

	env, err := BuildEnvelope(deviceSeen{EventID: "evt-1", DeviceSN: "SN100"}, Meta{})
	if err != nil {
		t.Fatalf("BuildEnvelope error: %v", err)
	}
	decoded, err := registry.DecodePayload(env)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}
	evt, ok := decoded.(deviceSeen)
	if !ok {
		t.Fatalf("decoded type %T", decoded)
	}
	if evt.DeviceSN != "SN100" {
		t.Fatalf("device sn = %q, want SN100", evt.DeviceSN)
	}

	if _, err := registry.DecodePayload(Envelope{EventType: "nope"}); err == nil {
		t.Fatal("expected unknown type error")
	}
}

func TestSubscribeIdempotency(t *testing.T) {
	bus := NewInMemoryBus()
	store := &memoryProcessed{}
	var calls int
	Subscribe(bus, EventTypeOf[deviceSeen](), "test.consumer", func(ctx context.Context, event any) error {
		calls++
		return nil
	}, store)

	env, err := BuildEnvelope(deviceSeen{EventID: "evt-1", DeviceSN: "SN100"}, Meta{EventID: "evt-1"})
	if err != nil {
		t.Fatalf("BuildEnvelope error: %v", err)
	}
	ctx := WithEnvelope(context.Background(), env)
	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, deviceSeen{EventID: "evt-1", DeviceSN: "SN100"}); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
}
