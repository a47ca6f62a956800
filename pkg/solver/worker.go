package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settler"
)

var (
	ErrUnknownChain  = errors.New("solver: unknown chain")
	ErrNotSettler    = errors.New("solver: contract is not a settler")
	ErrMissingParams = errors.New("solver: finalise job has no solve params")
)

// Filler is the destination side of the protocol
type Filler interface {
	Fill(env *chain.Env, intent models.Intent) (common.Hash, error)
}

// Finaliser is the origin side of the protocol
type Finaliser interface {
	Finalise(env *chain.Env, intent models.Intent, params []models.SolveParams, destination common.Address) error
	Status(env *chain.Env, orderID common.Hash) models.OrderStatus
}

// worker processes jobs from the queue
func (s *Solver) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	s.logger.Debug("Starting worker %d", id)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker %d shutting down", id)
			return
		case job := <-s.pendingJobs:
			s.handleJob(ctx, id, job)
		}
	}
}

// stageChainID is where the next step of job runs
func stageChainID(job models.SolverJob) uint64 {
	if job.Stage == models.StageFinalise {
		return job.Intent.OriginChainID
	}
	return job.DestinationChainID()
}

func (s *Solver) handleJob(ctx context.Context, workerID int, rj models.RetryJob) {
	job := rj.Job
	chainID := stageChainID(job)
	label := metrics.ChainLabel(chainID)

	if cb, ok := s.circuitBreakers[chainID]; ok && cb.IsOpen() {
		state := cb.GetState()
		if job.Stage == models.StageFill {
			s.logger.InfoWithChain(chainID, "Worker %d: circuit breaker open (failures: %d, last: %v), skipping job %s",
				workerID, state.FailureCount, state.LastFailure, job.ID)
			metrics.IntentsSkipped.WithLabelValues(label, "circuit_open").Inc()
			s.untrack(job)
			return
		}
		// the fill is already paid for, keep trying to claim
		s.scheduleRetry(ctx, rj, "circuit_open")
		return
	}

	s.logger.DebugWithChain(chainID, "Worker %d processing job %s (order %s, stage %s, attempt %d)",
		workerID, job.ID, job.OrderID.Hex(), job.Stage, rj.RetryCount)

	err := s.process(ctx, &job)
	rj.Job = job
	if err == nil {
		s.logger.InfoWithChain(job.Intent.OriginChainID, "Worker %d claimed order %s (job %s)", workerID, job.OrderID.Hex(), job.ID)
		metrics.IntentProcessingTime.WithLabelValues(metrics.ChainLabel(job.DestinationChainID())).Observe(time.Since(job.CreatedAt).Seconds())
		if cb, ok := s.circuitBreakers[chainID]; ok {
			cb.RecordSuccess()
		}
		s.untrack(job)
		return
	}

	chainID = stageChainID(job)
	label = metrics.ChainLabel(chainID)
	shouldRetry, errorType := classifyError(err)
	metrics.FillErrors.WithLabelValues(label, errorType).Inc()

	switch errorType {
	case "already_processed":
		s.logger.InfoWithChain(chainID, "Order %s is already settled or filled (job %s, stage %s)", job.OrderID.Hex(), job.ID, job.Stage)
		s.untrack(job)
		return
	case "not_attested":
		s.logger.DebugWithChain(chainID, "Order %s awaiting attestation (job %s, stage %s)", job.OrderID.Hex(), job.ID, job.Stage)
		s.scheduleRetry(ctx, rj, errorType)
		return
	}

	s.logger.ErrorWithChain(chainID, "Worker %d error processing job %s (order %s, stage %s): %v (type: %s, retry: %v)",
		workerID, job.ID, job.OrderID.Hex(), job.Stage, err, errorType, shouldRetry)

	circuitTripped := false
	if cb, ok := s.circuitBreakers[chainID]; ok {
		circuitTripped = cb.RecordFailure()
	}
	if job.Stage == models.StageFill {
		metrics.FailedIntents.WithLabelValues(label).Inc()
	}

	switch {
	case shouldRetry && (!circuitTripped || job.Stage == models.StageFinalise):
		s.scheduleRetry(ctx, rj, errorType)
	case !shouldRetry:
		s.logger.NoticeWithChain(chainID, "Not retrying job %s due to permanent error type: %s", job.ID, errorType)
		metrics.PermanentErrors.WithLabelValues(label, errorType).Inc()
		s.untrack(job)
	default:
		s.logger.NoticeWithChain(chainID, "Skipping retry for job %s due to tripped circuit breaker", job.ID)
		s.untrack(job)
	}
}

// process runs the remaining stages of job. A successful fill advances the
// job to the finalise stage before the claim is attempted.
func (s *Solver) process(ctx context.Context, job *models.SolverJob) error {
	if job.Stage == models.StageFill {
		params, err := s.fill(ctx, *job)
		if err != nil {
			return err
		}
		job.Params = params
		job.Stage = models.StageFinalise
		metrics.FilledIntents.WithLabelValues(metrics.ChainLabel(job.DestinationChainID())).Inc()
		s.logger.InfoWithChain(job.DestinationChainID(), "Filled order %s (job %s)", job.OrderID.Hex(), job.ID)
	}
	return s.finalise(ctx, *job)
}

// fill delivers every output of the job on its destination chain
func (s *Solver) fill(ctx context.Context, job models.SolverJob) ([]models.SolveParams, error) {
	destID := job.DestinationChainID()
	dest, err := s.chainByID(destID)
	if err != nil {
		return nil, err
	}
	if err := s.limiters[destID].Wait(ctx); err != nil {
		return nil, err
	}

	settlerAddr := models.IDToAddress(job.Intent.Outputs[0].Settler)
	var fillTime uint64
	_, err = dest.Transact(ctx, s.cfg.Address, settlerAddr, job.Intent.OutputTotal(), func(env *chain.Env) error {
		contract, ok := env.Contract(settlerAddr)
		if !ok {
			return fmt.Errorf("%w: no contract at %s", ErrNotSettler, settlerAddr.Hex())
		}
		filler, ok := contract.(Filler)
		if !ok {
			return fmt.Errorf("%w: %s cannot fill", ErrNotSettler, settlerAddr.Hex())
		}
		fillTime = env.Now()
		_, err := filler.Fill(env, job.Intent)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fill order %s: %w", job.OrderID.Hex(), err)
	}

	params := make([]models.SolveParams, len(job.Intent.Outputs))
	for i := range params {
		params[i] = models.SolveParams{Solver: s.cfg.Address, Timestamp: fillTime}
	}
	return params, nil
}

// finalise claims the escrow of a filled job on its origin chain
func (s *Solver) finalise(ctx context.Context, job models.SolverJob) error {
	if len(job.Params) == 0 {
		return ErrMissingParams
	}
	origin, err := s.chainByID(job.Intent.OriginChainID)
	if err != nil {
		return err
	}
	_, err = origin.Transact(ctx, s.cfg.Address, job.InputSettler, nil, func(env *chain.Env) error {
		finaliser, err := s.finaliser(env, job.InputSettler)
		if err != nil {
			return err
		}
		return finaliser.Finalise(env, job.Intent, job.Params, s.cfg.Address)
	})
	if err != nil {
		return fmt.Errorf("failed to finalise order %s: %w", job.OrderID.Hex(), err)
	}
	metrics.ClaimedIntents.WithLabelValues(metrics.ChainLabel(origin.ID())).Inc()
	return nil
}

func (s *Solver) finaliser(env *chain.Env, addr common.Address) (Finaliser, error) {
	contract, ok := env.Contract(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no contract at %s", ErrNotSettler, addr.Hex())
	}
	finaliser, ok := contract.(Finaliser)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot finalise", ErrNotSettler, addr.Hex())
	}
	return finaliser, nil
}

// classifyError decides whether a failed stage is worth retrying.
// Returns (shouldRetry, errorType)
func classifyError(err error) (bool, string) {
	switch {
	case errors.Is(err, settler.ErrAlreadyFilled), errors.Is(err, settler.ErrInvalidOrderStatus):
		return false, "already_processed"
	case errors.Is(err, oracle.ErrNotProven), errors.Is(err, settler.ErrIntentNotProven):
		return true, "not_attested"
	case errors.Is(err, chain.ErrInsufficientBalance):
		return false, "insufficient_balance"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true, "timeout"
	case errors.Is(err, ErrUnknownChain), errors.Is(err, ErrNotSettler), errors.Is(err, ErrMissingParams):
		return false, "configuration_error"
	}

	kind := models.KindOf(err)
	if !models.IsRetryable(kind) {
		return false, kind.String()
	}
	// storage and other infrastructure failures
	return true, "unknown_error"
}
