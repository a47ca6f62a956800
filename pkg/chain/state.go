package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/storage"
)

var (
	balancePrefix = []byte("b")
	storagePrefix = []byte("s")
)

func balanceKey(addr common.Address) string {
	return string(append(append([]byte{}, balancePrefix...), addr.Bytes()...))
}

func storageKey(addr common.Address, key []byte) string {
	k := append(append([]byte{}, storagePrefix...), addr.Bytes()...)
	return string(append(k, key...))
}

type cacheEntry struct {
	value  []byte
	exists bool
}

// journalEntry undoes one modification
type journalEntry interface {
	revert(*State)
}

type valueChange struct {
	key  string
	prev cacheEntry
}

func (ch valueChange) revert(s *State) {
	s.cache[ch.key] = ch.prev
}

type logChange struct{}

func (logChange) revert(s *State) {
	s.logs = s.logs[:len(s.logs)-1]
}

// State is a journaled cache over a Database. Modifications are kept in
// memory and flushed in a single batch by Commit. Snapshot ids are
// journal positions.
type State struct {
	db      storage.Database
	cache   map[string]cacheEntry
	dirty   map[string]struct{}
	journal []journalEntry
	logs    []Log

	// first database error seen while reading; Commit refuses to run past it
	dbErr error
}

// NewState wraps db
func NewState(db storage.Database) *State {
	return &State{
		db:    db,
		cache: make(map[string]cacheEntry),
		dirty: make(map[string]struct{}),
	}
}

func (s *State) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

// Error returns the first database error observed
func (s *State) Error() error {
	return s.dbErr
}

func (s *State) load(key string) cacheEntry {
	if entry, ok := s.cache[key]; ok {
		return entry
	}
	value, err := s.db.Get([]byte(key))
	entry := cacheEntry{}
	switch {
	case err == nil:
		entry = cacheEntry{value: value, exists: true}
	case errors.Is(err, storage.ErrNotFound):
	default:
		s.setError(fmt.Errorf("failed to read state key %x: %w", key, err))
	}
	s.cache[key] = entry
	return entry
}

func (s *State) store(key string, value []byte, exists bool) {
	prev := s.load(key)
	s.journal = append(s.journal, valueChange{key: key, prev: prev})
	s.cache[key] = cacheEntry{value: value, exists: exists}
	s.dirty[key] = struct{}{}
}

// GetState returns a copy of the value stored under key by addr
func (s *State) GetState(addr common.Address, key []byte) ([]byte, bool) {
	entry := s.load(storageKey(addr, key))
	if !entry.exists {
		return nil, false
	}
	return append([]byte(nil), entry.value...), true
}

// SetState stores value under key for addr
func (s *State) SetState(addr common.Address, key, value []byte) {
	s.store(storageKey(addr, key), append([]byte(nil), value...), true)
}

// DeleteState removes key for addr
func (s *State) DeleteState(addr common.Address, key []byte) {
	s.store(storageKey(addr, key), nil, false)
}

// GetBalance returns the native balance of addr
func (s *State) GetBalance(addr common.Address) *big.Int {
	entry := s.load(balanceKey(addr))
	if !entry.exists {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(entry.value)
}

func (s *State) setBalance(addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		s.store(balanceKey(addr), nil, false)
		return
	}
	s.store(balanceKey(addr), amount.Bytes(), true)
}

// AddBalance credits addr
func (s *State) AddBalance(addr common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	s.setBalance(addr, new(big.Int).Add(s.GetBalance(addr), amount))
}

// SubBalance debits addr, failing when the balance is short
func (s *State) SubBalance(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance := s.GetBalance(addr)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, addr.Hex(), balance, amount)
	}
	s.setBalance(addr, balance.Sub(balance, amount))
	return nil
}

// Transfer moves amount from one account to another
func (s *State) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	if err := s.SubBalance(from, amount); err != nil {
		return err
	}
	s.AddBalance(to, amount)
	return nil
}

func (s *State) addLog(log Log) {
	s.logs = append(s.logs, log)
	s.journal = append(s.journal, logChange{})
}

// Snapshot returns an id for RevertToSnapshot
func (s *State) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot undoes every modification made after the snapshot
func (s *State) RevertToSnapshot(id int) {
	if id < 0 || id > len(s.journal) {
		panic(fmt.Sprintf("invalid snapshot id %d, journal length %d", id, len(s.journal)))
	}
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:id]
}

// Commit flushes dirty keys to the database and returns the logs emitted
// since the last commit. On failure every pending change is reverted.
func (s *State) Commit() ([]Log, error) {
	if s.dbErr != nil {
		err := s.dbErr
		s.discard()
		return nil, err
	}

	batch := s.db.NewBatch()
	for key := range s.dirty {
		entry := s.cache[key]
		if entry.exists {
			batch.Put([]byte(key), entry.value)
		} else {
			batch.Delete([]byte(key))
		}
	}
	if err := batch.Write(); err != nil {
		s.discard()
		return nil, fmt.Errorf("failed to write state batch: %w", err)
	}

	logs := s.logs
	s.logs = nil
	s.journal = s.journal[:0]
	s.dirty = make(map[string]struct{})
	return logs, nil
}

func (s *State) discard() {
	s.RevertToSnapshot(0)
	s.dirty = make(map[string]struct{})
	s.logs = nil
	// cached reads may reflect a failing backend, start clean
	s.cache = make(map[string]cacheEntry)
	s.dbErr = nil
}
