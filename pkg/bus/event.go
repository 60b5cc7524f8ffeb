package bus

import (
	"context"
)

type Kind string

const (
	// KindRound is published when a threshold proving round reaches a
	// terminal state (combined or aborted).
	KindRound Kind = "round"
	// KindBatch is published when a batch proving run completes.
	KindBatch Kind = "batch"
	// KindHealth carries node registry liveness transitions.
	KindHealth Kind = "health"
)

type Event struct {
	Kind      Kind
	SessionID string
	BatchID   string
	Result    string
	Body      any
	TraceID   string
}

type Subscriber chan Event

type Bus struct {
	pub chan Event
}

func New(size int) *Bus {
	if size <= 0 { size = 128 }
	return &Bus{pub: make(chan Event, size)}
}

func (b *Bus) Publish(_ context.Context, ev Event) {
	select { case b.pub <- ev: default: /* drop on backpressure */ }
}

func (b *Bus) Subscribe() Subscriber { return b.pub }
