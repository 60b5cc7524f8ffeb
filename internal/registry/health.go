package registry

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/proofmesh/proofmesh-network/pkg/bus"
	"github.com/proofmesh/proofmesh-network/pkg/lifecycle"
	"github.com/proofmesh/proofmesh-network/pkg/logger"
	"github.com/proofmesh/proofmesh-network/pkg/metrics"
)

// Prober checks one worker's liveness endpoint.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HealthChecker probes every registered node on a fixed interval and feeds
// the outcomes back into the registry. The clock is injectable so tests
// drive probes without sleeping.
type HealthChecker struct {
	reg      *Registry
	probe    Prober
	interval time.Duration
	timeout  time.Duration
	clk      clock.Clock
	b        *bus.Bus

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthChecker(reg *Registry, probe Prober, interval time.Duration, clk clock.Clock, b *bus.Bus) *HealthChecker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &HealthChecker{reg: reg, probe: probe, interval: interval, timeout: interval, clk: clk, b: b}
}

func (h *HealthChecker) Name() string { return "health" }

func (h *HealthChecker) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go h.loop(ctx)
	return nil
}

func (h *HealthChecker) Stop(context.Context) error {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	return nil
}

func (h *HealthChecker) loop(ctx context.Context) {
	defer close(h.done)
	t := h.clk.Ticker(h.interval)
	defer t.Stop()
	h.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep probes all nodes concurrently and applies the outcomes.
func (h *HealthChecker) Sweep(ctx context.Context) {
	nodes := h.reg.Snapshot()
	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(n Node) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			err := h.probe.Probe(pctx, n.URL)
			online := err == nil
			if h.reg.SetOnline(n.ID, online) {
				result := "online"
				if !online {
					result = "offline"
				}
				logger.InfoJ("node_health", map[string]any{"node": n.ID, "url": n.URL, "result": result})
				metrics.Inc("node_health_transitions_total", map[string]string{"result": result})
				if h.b != nil {
					h.b.Publish(ctx, bus.Event{Kind: bus.KindHealth, Result: result, Body: n.ID})
				}
			}
		}(n)
	}
	wg.Wait()
	metrics.SetGauge("nodes_online", nil, float64(len(h.reg.Online())))
	metrics.SetGauge("nodes_ready", nil, float64(len(h.reg.Ready())))
}

var _ lifecycle.Service = (*HealthChecker)(nil)
