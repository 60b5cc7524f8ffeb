package monitoring

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/proofmesh/proofmesh-network/pkg/bus"
	"github.com/proofmesh/proofmesh-network/pkg/metrics"
)

func TestConsumeCountsEvents(t *testing.T) {
	metrics.Reset()
	s := New("127.0.0.1:0")
	s.consume(bus.Event{Kind: bus.KindRound, SessionID: "s1", Result: "ok"})
	s.consume(bus.Event{Kind: bus.KindRound, SessionID: "s1", Result: "ok"})
	s.consume(bus.Event{Kind: bus.KindBatch, BatchID: "b1", Result: "failed"})

	out := metrics.DumpProm()
	if !strings.Contains(out, `bus_events_total{kind="round",result="ok"} 2`) {
		t.Fatalf("round events not counted:\n%s", out)
	}
	if !strings.Contains(out, `bus_events_total{kind="batch",result="failed"} 1`) {
		t.Fatalf("batch event not counted:\n%s", out)
	}
}

func TestDrainConsumesPublishedEvents(t *testing.T) {
	metrics.Reset()
	b := bus.New(8)
	s := NewWithSub("127.0.0.1:0", b.Subscribe())

	ctx, cancel := context.WithCancel(context.Background())
	s.done = make(chan struct{})
	go s.drain(ctx)

	b.Publish(ctx, bus.Event{Kind: bus.KindHealth, Result: "online"})

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(metrics.DumpProm(), `kind="health"`) {
		if time.Now().After(deadline) {
			t.Fatal("published event never consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("drain did not stop on cancel")
	}
}
