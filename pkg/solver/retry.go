package solver

import (
	"context"
	"sort"
	"time"

	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

// calculateBackoff returns initial * 2^retryCount, capped at the maximum
func (s *Solver) calculateBackoff(retryCount int) time.Duration {
	backoff := s.initialBackoff
	for i := 0; i < retryCount && backoff < s.maxBackoff; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

// scheduleRetry hands job to the retry handler, or gives up once the
// retry budget is spent
func (s *Solver) scheduleRetry(ctx context.Context, rj models.RetryJob, errorType string) {
	label := metrics.ChainLabel(stageChainID(rj.Job))
	if rj.RetryCount >= s.cfg.MaxRetries {
		s.logger.NoticeWithChain(stageChainID(rj.Job), "Max retries reached for job %s (order %s), giving up (error: %s)",
			rj.Job.ID, rj.Job.OrderID.Hex(), errorType)
		metrics.MaxRetriesReached.WithLabelValues(label, errorType).Inc()
		s.untrack(rj.Job)
		return
	}

	backoff := s.calculateBackoff(rj.RetryCount)
	next := models.RetryJob{
		Job:         rj.Job,
		RetryCount:  rj.RetryCount + 1,
		NextAttempt: time.Now().Add(backoff),
		ErrorType:   errorType,
	}
	metrics.RetryCount.WithLabelValues(label).Inc()
	s.logger.DebugWithChain(stageChainID(rj.Job), "Scheduling retry for job %s in %v (error: %s)", rj.Job.ID, backoff, errorType)

	select {
	case s.retryJobs <- next:
	case <-ctx.Done():
	}
}

// retryHandler manages the retry queue
func (s *Solver) retryHandler(ctx context.Context) {
	defer s.wg.Done()

	idle := s.initialBackoff
	if idle > 10*time.Second {
		idle = 10 * time.Second
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	var retryQueue []models.RetryJob
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.retryJobs:
			if len(retryQueue) >= s.cfg.RetryQueueSize {
				s.logger.Error("Retry queue at capacity (%d jobs), dropping retry for job %s", s.cfg.RetryQueueSize, job.Job.ID)
				metrics.DroppedRetries.WithLabelValues(metrics.ChainLabel(stageChainID(job.Job))).Inc()
				s.untrack(job.Job)
				continue
			}
			retryQueue = append(retryQueue, job)
			sort.Slice(retryQueue, func(i, j int) bool {
				return retryQueue[i].NextAttempt.Before(retryQueue[j].NextAttempt)
			})
			s.retryQueueLen.Store(int64(len(retryQueue)))
		case <-ticker.C:
			retryQueue = s.processRetryQueue(retryQueue, time.Now())
			s.retryQueueLen.Store(int64(len(retryQueue)))

			metrics.RetryQueueSize.Set(float64(len(retryQueue)))
			if len(retryQueue) == 0 {
				ticker.Reset(idle)
				continue
			}
			wait := time.Until(retryQueue[0].NextAttempt)
			metrics.NextRetryIn.Set(max(wait.Seconds(), 0))
			switch {
			case wait <= 0:
				// more jobs are due, check again soon
				ticker.Reset(10 * time.Millisecond)
			case wait > idle:
				ticker.Reset(idle)
			default:
				ticker.Reset(wait)
			}
		}
	}
}

// processRetryQueue re-queues the due jobs whose orders are still open and
// returns the jobs left waiting
func (s *Solver) processRetryQueue(queue []models.RetryJob, now time.Time) []models.RetryJob {
	var remaining []models.RetryJob
	processed := 0
	for _, job := range queue {
		if job.NextAttempt.After(now) || processed >= maxProcessPerTick {
			remaining = append(remaining, job)
			continue
		}

		chainID := stageChainID(job.Job)
		if cb, ok := s.circuitBreakers[chainID]; ok && cb.IsOpen() {
			remaining = append(remaining, job)
			continue
		}
		if !s.stillDeposited(job.Job) {
			s.logger.InfoWithChain(job.Job.Intent.OriginChainID, "Order %s is no longer open, removing job %s from retry queue",
				job.Job.OrderID.Hex(), job.Job.ID)
			metrics.IntentsSkipped.WithLabelValues(metrics.ChainLabel(chainID), "not_pending").Inc()
			s.untrack(job.Job)
			continue
		}

		select {
		case s.pendingJobs <- job:
			processed++
			metrics.RetriesExecuted.WithLabelValues(metrics.ChainLabel(chainID), job.ErrorType).Inc()
		default:
			// workers are saturated, keep the job for the next tick
			remaining = append(remaining, job)
		}
	}
	return remaining
}

// stillDeposited reports whether the order of job is escrowed on its
// origin chain
func (s *Solver) stillDeposited(job models.SolverJob) bool {
	origin, ok := s.chains[job.Intent.OriginChainID]
	if !ok {
		return false
	}
	status := models.StatusNone
	err := origin.View(context.Background(), func(env *chain.Env) error {
		finaliser, err := s.finaliser(env, job.InputSettler)
		if err != nil {
			return err
		}
		status = finaliser.Status(env, job.OrderID)
		return nil
	})
	if err != nil {
		s.logger.ErrorWithChain(origin.ID(), "Failed to read status of order %s: %v", job.OrderID.Hex(), err)
		// keep retrying, the claim attempt reports the real error
		return true
	}
	return status == models.StatusDeposited
}
