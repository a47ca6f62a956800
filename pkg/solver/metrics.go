package solver

import (
	"context"
	"math/big"
	"time"

	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
)

const metricsInterval = 15 * time.Second

// startMetricsUpdater updates metrics periodically
func (s *Solver) startMetricsUpdater(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateMetrics()
		}
	}
}

// updateMetrics refreshes balances, breaker states and queue sizes
func (s *Solver) updateMetrics() {
	for _, id := range s.order {
		label := metrics.ChainLabel(id)
		balance, _ := new(big.Float).SetInt(s.chains[id].Balance(s.cfg.Address)).Float64()
		metrics.SolverBalance.WithLabelValues(label).Set(balance)

		open := 0.0
		if cb, ok := s.circuitBreakers[id]; ok && cb.IsOpen() {
			open = 1
		}
		metrics.CircuitOpen.WithLabelValues(label).Set(open)
	}
	metrics.PendingIntents.Set(float64(len(s.pendingJobs)))
	metrics.RetryQueueSize.Set(float64(s.retryQueueLen.Load()))
}
