package solver

import (
	"math/big"

	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/withdrawal"
)

// filterViableIntents keeps the jobs worth filling and tracks them
func (s *Solver) filterViableIntents(jobs []models.SolverJob) []models.SolverJob {
	var viable []models.SolverJob
	for _, job := range jobs {
		if reason := s.skipReason(job); reason != "" {
			s.logger.DebugWithChain(job.Intent.OriginChainID, "Skipping intent %s: %s", job.OrderID.Hex(), reason)
			metrics.IntentsSkipped.WithLabelValues(metrics.ChainLabel(job.DestinationChainID()), reason).Inc()
			continue
		}
		s.track(job)
		viable = append(viable, job)
	}
	return viable
}

// skipReason returns why a job should not be filled, or "" when it should
func (s *Solver) skipReason(job models.SolverJob) string {
	intent := job.Intent
	if len(intent.Outputs) == 0 {
		return "no_outputs"
	}
	destID := job.DestinationChainID()
	for _, out := range intent.Outputs {
		if out.ChainID != destID {
			return "multi_destination"
		}
		if out.Token != models.NativeToken {
			return "unsupported_token"
		}
		// the output settler refuses callbacks it cannot authenticate
		if len(out.Call) > 0 && intent.Optimistic() {
			return "ungated_callback"
		}
	}

	if _, ok := s.chains[intent.OriginChainID]; !ok {
		return "unknown_chain"
	}
	dest, ok := s.chains[destID]
	if !ok {
		return "unknown_chain"
	}
	if intent.OriginChainID == destID {
		return "same_chain"
	}

	if breaker, exists := s.circuitBreakers[destID]; exists && breaker.IsOpen() {
		return "circuit_open"
	}

	// a fill lands on the destination clock, so the margin is measured there
	if dest.Now()+s.cfg.MinDeadlineMargin >= intent.FillDeadline {
		return "deadline"
	}

	input, output := intent.InputTotal(), intent.OutputTotal()
	if !hasMargin(input, output, s.cfg.MinMarginBPS) {
		return "margin"
	}

	if dest.Balance(s.cfg.Address).Cmp(output) < 0 {
		return "insufficient_balance"
	}
	return ""
}

// hasMargin reports whether input exceeds output by at least bps of output
func hasMargin(input, output *big.Int, bps uint32) bool {
	margin := new(big.Int).Sub(input, output)
	if margin.Sign() <= 0 {
		return false
	}
	required := new(big.Int).Mul(output, big.NewInt(int64(bps)))
	required.Quo(required, big.NewInt(withdrawal.BPSDenominator))
	return margin.Cmp(required) >= 0
}
