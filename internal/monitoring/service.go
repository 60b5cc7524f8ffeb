// Package monitoring serves the operational endpoints on a listener
// separate from the API: Prometheus metrics and a liveness probe. When
// given a bus subscription it also drains round, batch and health events
// into the log and the event counter.
package monitoring

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proofmesh/proofmesh-network/pkg/bus"
	"github.com/proofmesh/proofmesh-network/pkg/lifecycle"
	"github.com/proofmesh/proofmesh-network/pkg/logger"
	"github.com/proofmesh/proofmesh-network/pkg/metrics"
)

type Service struct {
	addr string
	sub  bus.Subscriber
	srv  *http.Server

	cancel context.CancelFunc
	done   chan struct{}
}

func New(addr string) *Service { return &Service{addr: addr} }

// NewWithSub additionally consumes the event bus.
func NewWithSub(addr string, sub bus.Subscriber) *Service {
	return &Service{addr: addr, sub: sub}
}

func (s *Service) Name() string { return "monitoring" }

var _ lifecycle.Service = (*Service)(nil)

func (s *Service) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.srv = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorJ("monitoring_listen", map[string]any{"addr": s.addr, "err": err.Error()})
		}
	}()
	if s.sub != nil {
		ctx, s.cancel = context.WithCancel(ctx)
		s.done = make(chan struct{})
		go s.drain(ctx)
	}
	logger.InfoJ("service_op", map[string]any{"service": "monitoring", "op": "start", "addr": s.addr})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Service) drain(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.sub:
			s.consume(ev)
		}
	}
}

func (s *Service) consume(ev bus.Event) {
	metrics.Inc("bus_events_total", map[string]string{"kind": string(ev.Kind), "result": ev.Result})
	logger.InfoJ("bus_event", map[string]any{
		"kind": string(ev.Kind), "session_id": ev.SessionID,
		"batch_id": ev.BatchID, "result": ev.Result, "trace_id": ev.TraceID,
	})
}
