package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/speedrun-hq/speedrun-settlement/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-settlement/pkg/config"
	"github.com/speedrun-hq/speedrun-settlement/pkg/health"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/network"
	"github.com/speedrun-hq/speedrun-settlement/pkg/relayer"
	"github.com/speedrun-hq/speedrun-settlement/pkg/solver"
)

func newLogger(cfg config.LoggerConfig) *logger.StdLogger {
	if cfg.File != "" {
		return logger.NewFileLogger(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups, cfg.Level)
	}
	return logger.NewStdLogger(cfg.Coloring, cfg.Level)
}

func main() {
	// Load configuration from .env, environment variables and the network file
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	lg := newLogger(cfg.LoggerConfig)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No Groth16 verifier is linked in, so pools must accept all proofs
	net, err := network.Build(ctx, cfg, nil, lg)
	if err != nil {
		log.Fatalf("Failed to build network: %v", err)
	}
	defer net.Close()

	var (
		wg       sync.WaitGroup
		sv       *solver.Solver
		breakers = map[uint64]*circuitbreaker.CircuitBreaker{}
	)
	if cfg.Solver.Enabled {
		sv = solver.New(cfg, net.Chains(), lg)
		breakers = sv.CircuitBreakers()
	}
	healthServer := health.NewServer(cfg.MetricsPort, cfg.MetricsAPIKey, net.Chains(), breakers, lg)

	if sv != nil {
		healthServer.SetSolver(sv.Account(), sv.InFlight)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sv.Start(ctx)
		}()
	}
	if cfg.Relayer.Enabled {
		r := relayer.New(net.Chains(), relayer.Config{
			Account:      cfg.Relayer.Address,
			PollInterval: cfg.PollingInterval,
		}, lg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start(ctx)
		}()
	}
	if !cfg.Solver.Enabled && !cfg.Relayer.Enabled {
		lg.Notice("Solver and relayer are disabled, serving chains only")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := healthServer.Start(ctx); err != nil {
			lg.Error("Health server stopped: %v", err)
		}
	}()
	healthServer.SetReady(true)

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	lg.Notice("Received termination signal, shutting down gracefully...")
	cancel()
	wg.Wait()
}
