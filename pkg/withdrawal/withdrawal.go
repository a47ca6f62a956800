// Package withdrawal turns a privacy-pool withdrawal proof into a
// cross-chain intent: the proof is validated against the pool, the pool
// state is updated and the released value is escrowed as an intent whose
// refund route re-deposits into the pool.
package withdrawal

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/signals"
)

// Withdrawal is the public part of a withdrawal request. Data carries the
// ABI-encoded RelayData.
type Withdrawal struct {
	Processor common.Address
	Data      []byte
}

// RelayData describes where and how the withdrawn value is delivered
type RelayData struct {
	Recipient          common.Address
	FeeRecipient       common.Address
	RelayFeeBPS        uint32
	SolverFeeBPS       uint32
	DestinationChainID uint64
	OutputOracle       common.Hash
	OutputSettler      common.Hash
	FillOracle         common.Address
}

// Proof is a Groth16 proof with its public signals
type Proof struct {
	PA      [2]*big.Int
	PB      [2][2]*big.Int
	PC      [2]*big.Int
	Signals signals.Signals
}

// Verifier checks a Groth16 withdrawal proof
type Verifier interface {
	VerifyProof(pA [2]*big.Int, pB [2][2]*big.Int, pC [2]*big.Int, pubSignals [signals.Count]*big.Int) bool
}

// VerifierFunc adapts a function to Verifier
type VerifierFunc func(pA [2]*big.Int, pB [2][2]*big.Int, pC [2]*big.Int, pubSignals [signals.Count]*big.Int) bool

func (f VerifierFunc) VerifyProof(pA [2]*big.Int, pB [2][2]*big.Int, pC [2]*big.Int, pubSignals [signals.Count]*big.Int) bool {
	return f(pA, pB, pC, pubSignals)
}

// PrivacyPool is the pool the entrypoint withdraws from. Mutating calls
// must come from the entrypoint.
type PrivacyPool interface {
	Address() common.Address
	Scope() *uint256.Int
	MaxTreeDepth() uint64
	IsKnownRoot(env *chain.Env, root *uint256.Int) bool
	IsSpent(env *chain.Env, nullifier *uint256.Int) bool
	Spend(env *chain.Env, nullifier *uint256.Int) error
	Insert(env *chain.Env, commitment *uint256.Int) error
	Release(env *chain.Env, to common.Address, amount *big.Int) error
	Deposit(env *chain.Env, depositor common.Address, precommitment *uint256.Int) (*uint256.Int, error)
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid abi type %s: %v", t, err))
	}
	return typ
}

var (
	relayDataArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("address")},
		{Type: mustType("uint32")},
		{Type: mustType("uint32")},
		{Type: mustType("uint64")},
		{Type: mustType("bytes32")},
		{Type: mustType("bytes32")},
		{Type: mustType("address")},
	}

	contextArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("bytes")},
		{Type: mustType("uint256")},
	}
)

// Encode ABI-encodes the relay data for Withdrawal.Data
func (r RelayData) Encode() ([]byte, error) {
	return relayDataArgs.Pack(
		r.Recipient,
		r.FeeRecipient,
		r.RelayFeeBPS,
		r.SolverFeeBPS,
		r.DestinationChainID,
		[32]byte(r.OutputOracle),
		[32]byte(r.OutputSettler),
		r.FillOracle,
	)
}

// DecodeRelayData parses Withdrawal.Data
func DecodeRelayData(data []byte) (RelayData, error) {
	values, err := relayDataArgs.Unpack(data)
	if err != nil {
		return RelayData{}, fmt.Errorf("%w: %v", ErrInvalidRelayData, err)
	}
	var (
		r  RelayData
		ok [8]bool
	)
	r.Recipient, ok[0] = values[0].(common.Address)
	r.FeeRecipient, ok[1] = values[1].(common.Address)
	r.RelayFeeBPS, ok[2] = values[2].(uint32)
	r.SolverFeeBPS, ok[3] = values[3].(uint32)
	r.DestinationChainID, ok[4] = values[4].(uint64)
	var oracleID, settlerID [32]byte
	oracleID, ok[5] = values[5].([32]byte)
	settlerID, ok[6] = values[6].([32]byte)
	r.FillOracle, ok[7] = values[7].(common.Address)
	for i, good := range ok {
		if !good {
			return RelayData{}, fmt.Errorf("%w: field %d has type %T", ErrInvalidRelayData, i, values[i])
		}
	}
	r.OutputOracle = common.Hash(oracleID)
	r.OutputSettler = common.Hash(settlerID)
	return r, nil
}

// ContextHash binds a withdrawal to a pool scope. The circuit exposes the
// same value as its context signal.
func ContextHash(w Withdrawal, scope *uint256.Int) *uint256.Int {
	data := w.Data
	if data == nil {
		data = []byte{}
	}
	encoded, err := contextArgs.Pack(w.Processor, data, scope.ToBig())
	if err != nil {
		panic(fmt.Sprintf("failed to pack withdrawal context: %v", err))
	}
	h := new(uint256.Int).SetBytes(crypto.Keccak256(encoded))
	return h.Mod(h, signals.SnarkScalarField)
}
