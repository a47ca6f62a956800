package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxCallDepth bounds nested calls
const MaxCallDepth = 64

// Env is the execution context of one call frame
type Env struct {
	chain  *Chain
	now    uint64
	sender common.Address
	self   common.Address
	value  *big.Int
	depth  int
}

// ChainID returns the id of the executing chain
func (e *Env) ChainID() uint64 { return e.chain.id }

// Now returns the block time of the transaction
func (e *Env) Now() uint64 { return e.now }

// Sender is the caller of the current frame
func (e *Env) Sender() common.Address { return e.sender }

// Self is the account executing the current frame
func (e *Env) Self() common.Address { return e.self }

// Value is the native value attached to the current frame
func (e *Env) Value() *big.Int { return new(big.Int).Set(e.value) }

// Balance returns the native balance of addr
func (e *Env) Balance(addr common.Address) *big.Int {
	return e.chain.state.GetBalance(addr)
}

// GetState reads a storage slot of owner
func (e *Env) GetState(owner common.Address, key []byte) ([]byte, bool) {
	return e.chain.state.GetState(owner, key)
}

// SetState writes a storage slot of owner
func (e *Env) SetState(owner common.Address, key, value []byte) {
	e.chain.state.SetState(owner, key, value)
}

// DeleteState clears a storage slot of owner
func (e *Env) DeleteState(owner common.Address, key []byte) {
	e.chain.state.DeleteState(owner, key)
}

// Emit records an event from Self. It becomes a Log if the transaction commits.
func (e *Env) Emit(event any) {
	e.chain.state.addLog(Log{Address: e.self, Event: event})
}

// Contract returns the contract deployed at addr
func (e *Env) Contract(addr common.Address) (Contract, bool) {
	c, ok := e.chain.contracts[addr]
	return c, ok
}

// Transfer moves native value from Self to addr without executing code
func (e *Env) Transfer(to common.Address, amount *big.Int) error {
	return e.chain.state.Transfer(e.self, to, amount)
}

// Invoke runs fn as a frame of `to`, called by Self with value attached.
// The frame's changes are reverted if fn fails, unless the error was
// wrapped with KeepState.
func (e *Env) Invoke(to common.Address, value *big.Int, fn func(*Env) error) error {
	if e.depth >= MaxCallDepth {
		return ErrCallDepth
	}
	if value == nil {
		value = new(big.Int)
	}
	state := e.chain.state
	snap := state.Snapshot()

	if err := state.Transfer(e.self, to, value); err != nil {
		state.RevertToSnapshot(snap)
		return err
	}

	inner := &Env{
		chain:  e.chain,
		now:    e.now,
		sender: e.self,
		self:   to,
		value:  new(big.Int).Set(value),
		depth:  e.depth + 1,
	}
	if err := fn(inner); err != nil {
		if !StateKept(err) {
			state.RevertToSnapshot(snap)
		}
		return err
	}
	return nil
}

// Call sends value and raw calldata from Self to `to`. Calls to an address
// without a contract are plain transfers and must carry no calldata.
func (e *Env) Call(to common.Address, value *big.Int, data []byte) error {
	return e.Invoke(to, value, func(inner *Env) error {
		contract, ok := inner.Contract(to)
		if !ok {
			if len(data) > 0 {
				return ErrNoContract
			}
			return nil
		}
		return contract.Receive(inner, data)
	})
}
