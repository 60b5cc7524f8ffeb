package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	group "github.com/bytemare/crypto"

	"github.com/proofmesh/proofmesh-network/internal/circuit"
	"github.com/proofmesh/proofmesh-network/internal/coordinator"
	"github.com/proofmesh/proofmesh-network/internal/monitoring"
	"github.com/proofmesh/proofmesh-network/internal/registry"
	"github.com/proofmesh/proofmesh-network/pkg/bus"
	"github.com/proofmesh/proofmesh-network/pkg/lifecycle"
	"github.com/proofmesh/proofmesh-network/pkg/logger"
)

func main() {
	var (
		apiAddr       string
		monAddr       string
		workers       string
		threshold     int
		probeInterval time.Duration
		sessionTTL    time.Duration
		roundTimeout  time.Duration
		chunkSize     int
		dataDir       string
	)
	flag.StringVar(&apiAddr, "api", "127.0.0.1:4700", "Coordinator API listen address")
	flag.StringVar(&monAddr, "monitoring", "127.0.0.1:4720", "Monitoring listen address")
	flag.StringVar(&workers, "workers", "", "Comma-separated worker base URLs")
	flag.IntVar(&threshold, "threshold", 3, "Reconstruction threshold k")
	flag.DurationVar(&probeInterval, "probe-interval", 5*time.Second, "Worker health probe interval")
	flag.DurationVar(&sessionTTL, "session-ttl", 15*time.Minute, "Proving session lifetime")
	flag.DurationVar(&roundTimeout, "round-timeout", 10*time.Second, "Per-round deadline")
	flag.IntVar(&chunkSize, "chunk-size", 100, "Batch chunk size in transactions")
	flag.StringVar(&dataDir, "data-dir", "", "Session snapshot directory (empty disables persistence)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New()
	for i, u := range strings.Split(workers, ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		reg.Register(fmt.Sprintf("worker-%d", i+1), u)
	}
	if reg.Len() < threshold {
		logger.Warn(fmt.Sprintf("starting with %d of %d workers; waiting for registrations", reg.Len(), threshold))
	}

	b := bus.New(256)
	client := coordinator.NewClient(5 * time.Second)

	m := lifecycle.New()
	m.Add(registry.NewHealthChecker(reg, client, probeInterval, clock.New(), b))
	m.Add(coordinator.New(coordinator.Config{
		Addr:         apiAddr,
		Threshold:    threshold,
		SessionTTL:   sessionTTL,
		RoundTimeout: roundTimeout,
		ChunkSize:    chunkSize,
		DataDir:      dataDir,
	}, group.Ristretto255Sha512, reg, client, circuit.NewRegistry(circuit.RollupV1{}), b))
	m.Add(monitoring.NewWithSub(monAddr, b.Subscribe()))

	if err := m.StartAll(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	<-ctx.Done()
	_ = m.StopAll(context.Background())
}
