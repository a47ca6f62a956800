package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/storage"
)

// Contract receives raw calldata sent with Env.Call or Chain.Send
type Contract interface {
	Receive(env *Env, data []byte) error
}

// Message is a value-bearing call with raw calldata
type Message struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Log is an event emitted by a committed transaction
type Log struct {
	Index   uint64
	ChainID uint64
	Height  uint64
	Time    uint64
	Address common.Address
	Event   any
}

// Receipt describes a committed transaction
type Receipt struct {
	ChainID uint64
	Height  uint64
	Time    uint64
	Logs    []Log
}

// Chain is a single-sequencer chain: transactions are applied one at a time
// against a journaled state and committed to its database on success.
type Chain struct {
	id     uint64
	name   string
	logger logger.Logger

	mu        sync.Mutex
	state     *State
	contracts map[common.Address]Contract
	nowFn     func() uint64
	height    uint64

	logsMu sync.RWMutex
	logs   []Log
}

// New creates a chain backed by db
func New(id uint64, name string, db storage.Database, log logger.Logger) *Chain {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Chain{
		id:        id,
		name:      name,
		logger:    log,
		state:     NewState(db),
		contracts: make(map[common.Address]Contract),
		nowFn:     func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// ID returns the chain id
func (c *Chain) ID() uint64 { return c.id }

// Name returns the chain name
func (c *Chain) Name() string { return c.name }

// SetNowFunc replaces the block clock, in unix seconds
func (c *Chain) SetNowFunc(now func() uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFn = now
}

// Now returns the current block time
func (c *Chain) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn()
}

// Height returns the number of committed transactions
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Register deploys a contract at addr
func (c *Chain) Register(addr common.Address, contract Contract) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contracts[addr]; ok {
		return fmt.Errorf("%w at %s", ErrContractExists, addr.Hex())
	}
	c.contracts[addr] = contract
	return nil
}

// Balance returns the committed native balance of addr
func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.GetBalance(addr)
}

// Mint credits addr outside of any contract, for genesis allocations
func (c *Chain) Mint(ctx context.Context, addr common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AddBalance(addr, amount)
	_, err := c.commit()
	return err
}

func (c *Chain) rootEnv(from common.Address) *Env {
	return &Env{
		chain:  c,
		now:    c.nowFn(),
		sender: from,
		self:   from,
		value:  new(big.Int),
	}
}

// Transact runs fn as a call from `from` to `to` carrying value. The call
// is committed if fn succeeds or fails with a KeepState error, and reverted
// otherwise.
func (c *Chain) Transact(ctx context.Context, from, to common.Address, value *big.Int, fn func(*Env) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	env := c.rootEnv(from)
	err := env.Invoke(to, value, fn)
	return c.finish(env, err)
}

// Send delivers a raw calldata message
func (c *Chain) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	env := c.rootEnv(msg.From)
	err := env.Call(msg.To, msg.Value, msg.Data)
	return c.finish(env, err)
}

// View runs fn against the current state and discards every change
func (c *Chain) View(ctx context.Context, fn func(*Env) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.state.Snapshot()
	defer c.state.RevertToSnapshot(snap)
	return fn(c.rootEnv(common.Address{}))
}

func (c *Chain) finish(env *Env, err error) (*Receipt, error) {
	if err != nil && !StateKept(err) {
		c.state.RevertToSnapshot(0)
		return nil, err
	}
	receipt, cerr := c.commit()
	if cerr != nil {
		c.logger.ErrorWithChain(c.id, "failed to commit transaction: %v", cerr)
		return nil, cerr
	}
	receipt.Time = env.now
	return receipt, err
}

// commit must be called with mu held
func (c *Chain) commit() (*Receipt, error) {
	pending, err := c.state.Commit()
	if err != nil {
		return nil, err
	}
	c.height++
	now := c.nowFn()

	c.logsMu.Lock()
	for i := range pending {
		pending[i].Index = uint64(len(c.logs))
		pending[i].ChainID = c.id
		pending[i].Height = c.height
		pending[i].Time = now
		c.logs = append(c.logs, pending[i])
	}
	c.logsMu.Unlock()

	return &Receipt{ChainID: c.id, Height: c.height, Time: now, Logs: pending}, nil
}

// LogsSince returns up to limit logs starting at index from, and the cursor
// to resume from. A non-positive limit returns everything available.
func (c *Chain) LogsSince(from uint64, limit int) ([]Log, uint64) {
	c.logsMu.RLock()
	defer c.logsMu.RUnlock()

	total := uint64(len(c.logs))
	if from >= total {
		return nil, from
	}
	end := total
	if limit > 0 && from+uint64(limit) < end {
		end = from + uint64(limit)
	}
	out := make([]Log, end-from)
	copy(out, c.logs[from:end])
	return out, end
}

// LogCount returns the number of committed logs
func (c *Chain) LogCount() uint64 {
	c.logsMu.RLock()
	defer c.logsMu.RUnlock()
	return uint64(len(c.logs))
}
