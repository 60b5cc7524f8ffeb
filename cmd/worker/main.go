package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	group "github.com/bytemare/crypto"
	"github.com/google/uuid"

	"github.com/proofmesh/proofmesh-network/internal/circuit"
	"github.com/proofmesh/proofmesh-network/internal/monitoring"
	"github.com/proofmesh/proofmesh-network/internal/worker"
	"github.com/proofmesh/proofmesh-network/pkg/lifecycle"
	"github.com/proofmesh/proofmesh-network/pkg/logger"
)

func main() {
	var (
		apiAddr string
		monAddr string
		id      string
	)
	flag.StringVar(&apiAddr, "api", "127.0.0.1:4800", "Worker API listen address")
	flag.StringVar(&monAddr, "monitoring", "127.0.0.1:4820", "Monitoring listen address")
	flag.StringVar(&id, "id", "", "Worker identifier (random if empty)")
	flag.Parse()

	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := lifecycle.New()
	m.Add(worker.New(id, apiAddr, group.Ristretto255Sha512, circuit.NewRegistry(circuit.RollupV1{})))
	m.Add(monitoring.New(monAddr))

	if err := m.StartAll(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	<-ctx.Done()
	_ = m.StopAll(context.Background())
}
