// Package relayer carries facts between chains: fills observed on a
// destination chain are attested on the origin chain's fill oracle, and
// gated intents opened on an origin chain are attested on the destination.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settler"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 256
)

var (
	// ErrUnknownChain is returned when a log references a chain the relayer
	// is not connected to
	ErrUnknownChain = errors.New("relayer: unknown chain")
	ErrNotAttester  = errors.New("relayer: contract does not accept attestations")
	ErrNoFillRecord = errors.New("relayer: fill record not found")
)

// Submitter is an oracle that accepts attestations
type Submitter interface {
	Submit(env *chain.Env, records []oracle.Record) error
}

// FillReader exposes the fill records of an output settler
type FillReader interface {
	FilledOutput(env *chain.Env, orderID, outputHash common.Hash) (models.FillRecord, bool)
}

// Config controls the relayer loop
type Config struct {
	// Account must be an authorized relayer on every attester
	Account      common.Address
	PollInterval time.Duration
	BatchSize    int
}

// Relayer watches every connected chain and submits attestations
type Relayer struct {
	chains  map[uint64]*chain.Chain
	order   []uint64
	cfg     Config
	mu      sync.Mutex
	cursors map[uint64]uint64
	logger  logger.Logger
}

// New creates a relayer over chains
func New(chains []*chain.Chain, cfg Config, log logger.Logger) *Relayer {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	r := &Relayer{
		chains:  make(map[uint64]*chain.Chain, len(chains)),
		cfg:     cfg,
		cursors: make(map[uint64]uint64, len(chains)),
		logger:  log,
	}
	for _, c := range chains {
		r.chains[c.ID()] = c
		r.order = append(r.order, c.ID())
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return r
}

// Start polls until ctx is cancelled
func (r *Relayer) Start(ctx context.Context) {
	r.logger.Notice("Starting relayer for %d chains with polling interval %v", len(r.order), r.cfg.PollInterval)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Notice("Relayer shutting down")
			return
		case <-ticker.C:
			if _, err := r.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("Relayer poll failed: %v", err)
			}
		}
	}
}

// Poll processes new logs on every chain once and returns the number of
// attestations submitted
func (r *Relayer) Poll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	submitted := 0
	var errs []error
	for _, id := range r.order {
		n, err := r.pollChain(ctx, r.chains[id])
		submitted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("chain %d: %w", id, err))
		}
	}
	return submitted, errors.Join(errs...)
}

// Cursor returns the next log index the relayer will read on chainID
func (r *Relayer) Cursor(chainID uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[chainID]
}

func (r *Relayer) pollChain(ctx context.Context, c *chain.Chain) (int, error) {
	from := r.cursors[c.ID()]
	logs, next := c.LogsSince(from, r.cfg.BatchSize)
	submitted := 0
	for _, l := range logs {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		n, err := r.handle(ctx, l)
		submitted += n
		if err != nil {
			if retryable(err) {
				// resume from this log on the next poll
				return submitted, err
			}
			r.logger.ErrorWithChain(c.ID(), "Dropping log %d: %v", l.Index, err)
			metrics.RelayErrors.WithLabelValues(metrics.ChainLabel(c.ID()), errorKind(err)).Inc()
		}
		r.cursors[c.ID()] = l.Index + 1
	}
	r.cursors[c.ID()] = next
	return submitted, nil
}

func (r *Relayer) handle(ctx context.Context, l chain.Log) (int, error) {
	switch ev := l.Event.(type) {
	case settler.OutputFilled:
		return r.relayFill(ctx, l, ev)
	case settler.Opened:
		if ev.Intent.Optimistic() {
			return 0, nil
		}
		return r.relayIntent(ctx, ev)
	default:
		return 0, nil
	}
}

// relayFill re-reads the fill record from the destination state and attests
// its payload on the origin chain's fill oracle
func (r *Relayer) relayFill(ctx context.Context, l chain.Log, ev settler.OutputFilled) (int, error) {
	dest := r.chains[l.ChainID]
	var (
		record models.FillRecord
		found  bool
	)
	err := dest.View(ctx, func(env *chain.Env) error {
		contract, ok := env.Contract(l.Address)
		if !ok {
			return chain.ErrNoContract
		}
		reader, ok := contract.(FillReader)
		if !ok {
			return fmt.Errorf("%w: %s has no fill records", ErrNoFillRecord, l.Address.Hex())
		}
		record, found = reader.FilledOutput(env, ev.OrderID, ev.OutputHash)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: order %s output %s", ErrNoFillRecord, ev.OrderID.Hex(), ev.OutputHash.Hex())
	}

	origin, ok := r.chains[ev.Intent.OriginChainID]
	if !ok {
		return 0, fmt.Errorf("%w: origin %d of order %s", ErrUnknownChain, ev.Intent.OriginChainID, ev.OrderID.Hex())
	}
	rec := oracle.Record{
		RemoteChainID: l.ChainID,
		RemoteOracle:  ev.Output.Oracle,
		Application:   models.AddressToID(l.Address),
		DataHash:      models.FillPayloadHash(record.Solver, ev.OrderID, record.Timestamp, ev.OutputHash),
	}
	if err := r.submit(ctx, origin, ev.Intent.FillOracle, []oracle.Record{rec}); err != nil {
		return 0, fmt.Errorf("failed to attest fill of order %s: %w", ev.OrderID.Hex(), err)
	}
	metrics.AttestationsSubmitted.WithLabelValues(metrics.ChainLabel(origin.ID()), "fill").Inc()
	r.logger.InfoWithChain(origin.ID(), "Attested fill of order %s output %d by %s", ev.OrderID.Hex(), ev.Index, record.Solver.Hex())
	return 1, nil
}

// relayIntent attests a gated intent on each destination chain's intent
// oracle, once per output settler
func (r *Relayer) relayIntent(ctx context.Context, ev settler.Opened) (int, error) {
	type target struct {
		chainID uint64
		settler common.Hash
	}
	seen := make(map[target]struct{})
	submitted := 0
	for _, out := range ev.Intent.Outputs {
		t := target{out.ChainID, out.Settler}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}

		dest, ok := r.chains[out.ChainID]
		if !ok {
			return submitted, fmt.Errorf("%w: destination %d of order %s", ErrUnknownChain, out.ChainID, ev.OrderID.Hex())
		}
		rec := oracle.Record{
			RemoteChainID: ev.Intent.OriginChainID,
			RemoteOracle:  models.AddressToID(ev.Intent.IntentOracle),
			Application:   out.Settler,
			DataHash:      ev.OrderID,
		}
		if err := r.submit(ctx, dest, ev.Intent.IntentOracle, []oracle.Record{rec}); err != nil {
			return submitted, fmt.Errorf("failed to attest intent %s: %w", ev.OrderID.Hex(), err)
		}
		submitted++
		metrics.AttestationsSubmitted.WithLabelValues(metrics.ChainLabel(dest.ID()), "intent").Inc()
		r.logger.InfoWithChain(dest.ID(), "Attested intent %s from chain %d", ev.OrderID.Hex(), ev.Intent.OriginChainID)
	}
	return submitted, nil
}

func (r *Relayer) submit(ctx context.Context, c *chain.Chain, oracleAddr common.Address, records []oracle.Record) error {
	_, err := c.Transact(ctx, r.cfg.Account, oracleAddr, nil, func(env *chain.Env) error {
		contract, ok := env.Contract(oracleAddr)
		if !ok {
			return fmt.Errorf("%w: oracle %s", chain.ErrNoContract, oracleAddr.Hex())
		}
		oracleContract, ok := contract.(Submitter)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotAttester, oracleAddr.Hex())
		}
		return oracleContract.Submit(env, records)
	})
	return err
}

// retryable reports whether the same log may succeed on a later poll.
// Protocol errors and missing chains or contracts never do.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, ErrUnknownChain), errors.Is(err, ErrNotAttester),
		errors.Is(err, ErrNoFillRecord), errors.Is(err, chain.ErrNoContract):
		return false
	}
	return models.IsRetryable(models.KindOf(err))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownChain):
		return "unknown_chain"
	case errors.Is(err, ErrNotAttester), errors.Is(err, chain.ErrNoContract):
		return "no_attester"
	case errors.Is(err, ErrNoFillRecord):
		return "no_fill_record"
	}
	return models.KindOf(err).String()
}
