// Package lifecycle manages ordered service startup and reverse-order
// shutdown for node binaries.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/proofmesh/proofmesh-network/pkg/logger"
)

// Service is a long-running component owned by a node process.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	svcs    []Service
	started int
}

func New() *Manager { return &Manager{} }

func (m *Manager) Add(s Service) { m.svcs = append(m.svcs, s) }

// StartAll starts every registered service. On the first failure it stops
// the services already started, in reverse order, and returns the error.
func (m *Manager) StartAll(ctx context.Context) error {
	for i, s := range m.svcs {
		if err := s.Start(ctx); err != nil {
			logger.ErrorJ("service_op", map[string]any{"service": s.Name(), "op": "start", "result": "error", "err": err.Error()})
			m.started = i
			_ = m.StopAll(context.Background())
			return fmt.Errorf("start %s: %w", s.Name(), err)
		}
	}
	m.started = len(m.svcs)
	return nil
}

// StopAll stops started services in reverse order, keeping the first error.
func (m *Manager) StopAll(ctx context.Context) error {
	var first error
	for i := m.started - 1; i >= 0; i-- {
		s := m.svcs[i]
		if err := s.Stop(ctx); err != nil && first == nil {
			first = fmt.Errorf("stop %s: %w", s.Name(), err)
		}
	}
	m.started = 0
	return first
}
