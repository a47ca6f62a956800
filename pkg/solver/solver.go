// Package solver discovers open intents, fills them on their destination
// chain and claims the escrow on the origin chain once the fill is attested.
package solver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-settlement/pkg/config"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settler"
)

const (
	// DefaultInitialBackoff is the delay before the first retry
	DefaultInitialBackoff = 10 * time.Second
	// DefaultMaxBackoff caps the exponential retry delay
	DefaultMaxBackoff = 2 * time.Minute

	logBatchSize      = 256
	jobBufferSize     = 100
	maxProcessPerTick = 10
)

// Solver handles the intent fill and claim process
type Solver struct {
	cfg             config.SolverConfig
	pollingInterval time.Duration
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	chains          map[uint64]*chain.Chain
	order           []uint64
	mu              sync.Mutex
	cursors         map[uint64]uint64
	inFlight        map[common.Hash]string
	pendingJobs     chan models.RetryJob
	retryJobs       chan models.RetryJob
	retryQueueLen   atomic.Int64
	wg              sync.WaitGroup
	circuitBreakers map[uint64]*circuitbreaker.CircuitBreaker
	limiters        map[uint64]*rate.Limiter
	logger          logger.Logger
}

// New creates a solver over chains
func New(cfg *config.Config, chains []*chain.Chain, log logger.Logger) *Solver {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	solverCfg := cfg.Solver
	if solverCfg.WorkerCount <= 0 {
		solverCfg.WorkerCount = config.DefaultWorkerCount
	}
	if solverCfg.RetryQueueSize <= 0 {
		solverCfg.RetryQueueSize = config.DefaultRetryQueueSize
	}
	if solverCfg.FillRateLimit <= 0 {
		solverCfg.FillRateLimit = config.DefaultFillRateLimit
	}
	interval := cfg.PollingInterval
	if interval <= 0 {
		interval = config.DefaultPollingInterval * time.Second
	}

	s := &Solver{
		cfg:             solverCfg,
		pollingInterval: interval,
		initialBackoff:  DefaultInitialBackoff,
		maxBackoff:      DefaultMaxBackoff,
		chains:          make(map[uint64]*chain.Chain, len(chains)),
		cursors:         make(map[uint64]uint64, len(chains)),
		inFlight:        make(map[common.Hash]string),
		pendingJobs:     make(chan models.RetryJob, jobBufferSize),
		retryJobs:       make(chan models.RetryJob, jobBufferSize),
		circuitBreakers: make(map[uint64]*circuitbreaker.CircuitBreaker, len(chains)),
		limiters:        make(map[uint64]*rate.Limiter, len(chains)),
		logger:          log,
	}
	burst := int(solverCfg.FillRateLimit)
	if burst < 1 {
		burst = 1
	}
	for _, c := range chains {
		s.chains[c.ID()] = c
		s.order = append(s.order, c.ID())
		s.circuitBreakers[c.ID()] = circuitbreaker.NewCircuitBreaker(
			c.Name(),
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
			log,
		)
		s.limiters[c.ID()] = rate.NewLimiter(rate.Limit(solverCfg.FillRateLimit), burst)
	}
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	return s
}

// SetBackoff replaces the retry delays
func (s *Solver) SetBackoff(initial, maxDelay time.Duration) {
	s.initialBackoff = initial
	s.maxBackoff = maxDelay
}

// Account is the solver address on every chain
func (s *Solver) Account() common.Address { return s.cfg.Address }

// CircuitBreakers returns the per-chain circuit breakers
func (s *Solver) CircuitBreakers() map[uint64]*circuitbreaker.CircuitBreaker {
	return s.circuitBreakers
}

// InFlight returns the number of orders between discovery and claim
func (s *Solver) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Start begins the solver service and blocks until ctx is cancelled
func (s *Solver) Start(ctx context.Context) {
	s.logger.Notice("Starting worker pool with %d workers", s.cfg.WorkerCount)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(2)
	go s.retryHandler(ctx)
	go s.startMetricsUpdater(ctx)

	s.logger.Info("Starting solver %s with polling interval %v", s.cfg.Address.Hex(), s.pollingInterval)
	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Notice("Context cancelled, shutting down solver")
			s.wg.Wait()
			return
		case <-ticker.C:
			jobs := s.discover()
			s.logger.Debug("Found %d opened intents", len(jobs))

			viable := s.filterViableIntents(jobs)
			if len(viable) > 0 {
				s.logger.Info("Found %d viable intents for processing", len(viable))
			}
			for _, job := range viable {
				if !s.enqueue(ctx, models.RetryJob{Job: job}) {
					break
				}
			}
			metrics.PendingIntents.Set(float64(len(s.pendingJobs)))
		}
	}
}

func (s *Solver) enqueue(ctx context.Context, job models.RetryJob) bool {
	select {
	case s.pendingJobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// discover reads new Opened logs on every chain
func (s *Solver) discover() []models.SolverJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []models.SolverJob
	for _, id := range s.order {
		logs, next := s.chains[id].LogsSince(s.cursors[id], logBatchSize)
		s.cursors[id] = next
		for _, l := range logs {
			opened, ok := l.Event.(settler.Opened)
			if !ok {
				continue
			}
			if _, tracked := s.inFlight[opened.OrderID]; tracked {
				continue
			}
			jobs = append(jobs, models.SolverJob{
				ID:           uuid.NewString(),
				OrderID:      opened.OrderID,
				Intent:       opened.Intent,
				InputSettler: l.Address,
				Stage:        models.StageFill,
				CreatedAt:    time.Now(),
			})
		}
	}
	return jobs
}

func (s *Solver) track(job models.SolverJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[job.OrderID] = job.ID
}

func (s *Solver) untrack(job models.SolverJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, job.OrderID)
}

func (s *Solver) chainByID(id uint64) (*chain.Chain, error) {
	c, ok := s.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, id)
	}
	return c, nil
}
