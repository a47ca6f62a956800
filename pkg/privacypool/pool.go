// Package privacypool is a bookkeeping privacy pool for devnets and tests.
// Roots form a hash chain over inserted commitments rather than a Merkle
// tree; the pool tracks roots, nullifiers and custody the way the
// entrypoint expects.
package privacypool

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/signals"
)

const (
	// DefaultRootHistory is how many recent roots stay valid for proofs
	DefaultRootHistory = 64
	// MaxTreeDepth bounds the depth a proof may claim
	MaxTreeDepth = 32
)

var (
	ErrNotEntrypoint     = errors.New("privacypool: caller is not the entrypoint")
	ErrNullifierSpent    = errors.New("privacypool: nullifier already spent")
	ErrInvalidCommitment = errors.New("privacypool: commitment must be a non-zero field element")
	ErrTreeFull          = errors.New("privacypool: tree is full")
	ErrZeroDeposit       = errors.New("privacypool: deposit carries no value")
)

var (
	countKey     = []byte("count")
	rootKey      = []byte("root")
	nonceKey     = []byte("nonce")
	rootPrefix   = []byte("roots")
	spentPrefix  = []byte("spent")
	leafPrefix   = []byte("leaf")
	maxLeafCount = uint64(1) << MaxTreeDepth
)

// LeafInserted is emitted for every commitment added to the pool
type LeafInserted struct {
	Index      uint64
	Commitment *uint256.Int
	Root       *uint256.Int
}

// Deposited is emitted when value enters the pool
type Deposited struct {
	Depositor     common.Address
	Commitment    *uint256.Int
	Label         *uint256.Int
	Value         *big.Int
	Precommitment *uint256.Int
}

// Pool holds native value against commitments
type Pool struct {
	address     common.Address
	entrypoint  common.Address
	scope       *uint256.Int
	rootHistory uint64
}

// New creates a pool at address on chainID, mutable only by entrypoint
func New(address, entrypoint common.Address, chainID uint64, rootHistory uint64) *Pool {
	if rootHistory == 0 {
		rootHistory = DefaultRootHistory
	}
	scope := fieldHash(address.Bytes(), new(big.Int).SetUint64(chainID).Bytes())
	return &Pool{address: address, entrypoint: entrypoint, scope: scope, rootHistory: rootHistory}
}

func fieldHash(parts ...[]byte) *uint256.Int {
	h := new(uint256.Int).SetBytes(crypto.Keccak256(parts...))
	return h.Mod(h, signals.SnarkScalarField)
}

func indexedKey(prefix []byte, n uint64) []byte {
	return append(append([]byte{}, prefix...), new(big.Int).SetUint64(n).Bytes()...)
}

func fieldKey(prefix []byte, v *uint256.Int) []byte {
	b := v.Bytes32()
	return append(append([]byte{}, prefix...), b[:]...)
}

func (p *Pool) Address() common.Address { return p.address }

// Scope identifies this pool in withdrawal contexts
func (p *Pool) Scope() *uint256.Int { return new(uint256.Int).Set(p.scope) }

func (p *Pool) MaxTreeDepth() uint64 { return MaxTreeDepth }

func (p *Pool) getUint(env *chain.Env, key []byte) uint64 {
	value, ok := env.GetState(p.address, key)
	if !ok {
		return 0
	}
	return new(big.Int).SetBytes(value).Uint64()
}

func (p *Pool) setUint(env *chain.Env, key []byte, v uint64) {
	env.SetState(p.address, key, new(big.Int).SetUint64(v).Bytes())
}

// Size returns the number of inserted commitments
func (p *Pool) Size(env *chain.Env) uint64 {
	return p.getUint(env, countKey)
}

// TreeDepth is the depth a tree holding Size leaves would have
func (p *Pool) TreeDepth(env *chain.Env) uint64 {
	return uint64(bits.Len64(p.Size(env)))
}

// CurrentRoot returns the latest root, zero for an empty pool
func (p *Pool) CurrentRoot(env *chain.Env) *uint256.Int {
	value, ok := env.GetState(p.address, rootKey)
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).SetBytes(value)
}

// IsKnownRoot reports whether root is one of the recent roots
func (p *Pool) IsKnownRoot(env *chain.Env, root *uint256.Int) bool {
	if root == nil || root.IsZero() {
		return false
	}
	size := p.Size(env)
	for i := uint64(0); i < p.rootHistory && i < size; i++ {
		value, ok := env.GetState(p.address, indexedKey(rootPrefix, (size-i)%p.rootHistory))
		if ok && new(uint256.Int).SetBytes(value).Eq(root) {
			return true
		}
	}
	return false
}

func (p *Pool) IsSpent(env *chain.Env, nullifier *uint256.Int) bool {
	_, ok := env.GetState(p.address, fieldKey(spentPrefix, nullifier))
	return ok
}

func (p *Pool) onlyEntrypoint(env *chain.Env) error {
	if env.Sender() != p.entrypoint {
		return fmt.Errorf("%w: %s", ErrNotEntrypoint, env.Sender().Hex())
	}
	return nil
}

// Spend marks a nullifier as used
func (p *Pool) Spend(env *chain.Env, nullifier *uint256.Int) error {
	if err := p.onlyEntrypoint(env); err != nil {
		return err
	}
	if p.IsSpent(env, nullifier) {
		return ErrNullifierSpent
	}
	env.SetState(p.address, fieldKey(spentPrefix, nullifier), []byte{1})
	return nil
}

// Insert appends a commitment and advances the root
func (p *Pool) Insert(env *chain.Env, commitment *uint256.Int) error {
	if err := p.onlyEntrypoint(env); err != nil {
		return err
	}
	return p.insert(env, commitment)
}

func (p *Pool) insert(env *chain.Env, commitment *uint256.Int) error {
	if commitment == nil || commitment.IsZero() || commitment.Cmp(signals.SnarkScalarField) >= 0 {
		return ErrInvalidCommitment
	}
	size := p.Size(env)
	if size >= maxLeafCount {
		return ErrTreeFull
	}

	prev := p.CurrentRoot(env).Bytes32()
	leaf := commitment.Bytes32()
	root := fieldHash(prev[:], leaf[:])
	root32 := root.Bytes32()

	size++
	p.setUint(env, countKey, size)
	env.SetState(p.address, rootKey, root32[:])
	env.SetState(p.address, indexedKey(rootPrefix, size%p.rootHistory), root32[:])
	env.SetState(p.address, indexedKey(leafPrefix, size-1), leaf[:])
	env.Emit(LeafInserted{Index: size - 1, Commitment: new(uint256.Int).Set(commitment), Root: root})
	return nil
}

// Release pays out withdrawn value
func (p *Pool) Release(env *chain.Env, to common.Address, amount *big.Int) error {
	if err := p.onlyEntrypoint(env); err != nil {
		return err
	}
	return env.Transfer(to, amount)
}

// Deposit takes the attached value and inserts its commitment
func (p *Pool) Deposit(env *chain.Env, depositor common.Address, precommitment *uint256.Int) (*uint256.Int, error) {
	if err := p.onlyEntrypoint(env); err != nil {
		return nil, err
	}
	value := env.Value()
	if value.Sign() == 0 {
		return nil, ErrZeroDeposit
	}

	nonce := p.getUint(env, nonceKey) + 1
	p.setUint(env, nonceKey, nonce)

	scope := p.scope.Bytes32()
	label := fieldHash(scope[:], new(big.Int).SetUint64(nonce).Bytes())
	label32 := label.Bytes32()
	pre := precommitment.Bytes32()
	commitment := fieldHash(common.BigToHash(value).Bytes(), label32[:], pre[:])

	if err := p.insert(env, commitment); err != nil {
		return nil, err
	}
	env.Emit(Deposited{
		Depositor:     depositor,
		Commitment:    commitment,
		Label:         label,
		Value:         value,
		Precommitment: new(uint256.Int).Set(precommitment),
	})
	return commitment, nil
}

// Receive rejects raw calls, the pool is driven by its entrypoint
func (p *Pool) Receive(_ *chain.Env, _ []byte) error {
	return chain.ErrUnknownMethod
}
