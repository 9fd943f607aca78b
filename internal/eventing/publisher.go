package eventing

import "context"

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher builds envelopes and delivers events. With an outbox configured
// the event is written durably first and drained by the dispatcher; without
// one it is published straight onto the bus.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	bus      EventBus
	sub      Subscriber
}

// NewPublisher constructs a publisher. outbox and dispatch may be nil for
// direct in-memory delivery.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher, bus EventBus, sub Subscriber) *Publisher {
	return &Publisher{outbox: outbox, dispatch: dispatch, bus: bus, sub: sub}
}

// Publish envelopes the event and delivers it.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil {
		return nil
	}
	meta := MetaFromContext(ctx)
	env, err := BuildEnvelope(event, meta)
	if err != nil {
		return err
	}
	if p.outbox != nil {
		if _, err := p.outbox.Insert(ctx, env); err != nil {
			return err
		}
		if p.dispatch != nil {
			_ = p.dispatch.Dispatch(ctx, 1)
		}
		return nil
	}
	if p.bus == nil {
		return nil
	}
	return p.bus.Publish(WithEnvelope(ctx, env), event)
}

// Subscribe delegates to the underlying subscriber when available.
func (p *Publisher) Subscribe(eventType string, handler EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
