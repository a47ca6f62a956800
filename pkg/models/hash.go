package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid abi type %s: %v", t, err))
	}
	return typ
}

var (
	outputArgs = abi.Arguments{
		{Type: mustType("bytes32")}, // oracle
		{Type: mustType("bytes32")}, // settler
		{Type: mustType("uint256")}, // chain id
		{Type: mustType("bytes32")}, // token
		{Type: mustType("uint256")}, // amount
		{Type: mustType("bytes32")}, // recipient
		{Type: mustType("bytes")},   // call
		{Type: mustType("bytes")},   // context
	}

	intentArgs = abi.Arguments{
		{Type: mustType("address")},      // originator
		{Type: mustType("uint256")},      // nonce
		{Type: mustType("uint256")},      // origin chain id
		{Type: mustType("uint64")},       // expires
		{Type: mustType("uint64")},       // fill deadline
		{Type: mustType("address")},      // fill oracle
		{Type: mustType("address")},      // intent oracle
		{Type: mustType("uint256[2][]")}, // inputs
		{Type: mustType("bytes32")},      // outputs digest
		{Type: mustType("bytes")},        // refund calldata
	}

	payloadArgs = abi.Arguments{
		{Type: mustType("bytes32")}, // solver
		{Type: mustType("bytes32")}, // order id
		{Type: mustType("uint64")},  // fill timestamp
		{Type: mustType("bytes32")}, // output hash
	}
)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// OutputHash commits to every field of an output
func OutputHash(out Output) common.Hash {
	encoded, err := outputArgs.Pack(
		[32]byte(out.Oracle),
		[32]byte(out.Settler),
		new(big.Int).SetUint64(out.ChainID),
		[32]byte(out.Token),
		orZero(out.Amount),
		[32]byte(out.Recipient),
		orEmpty(out.Call),
		orEmpty(out.Context),
	)
	if err != nil {
		// every argument is statically typed, packing cannot fail
		panic(fmt.Sprintf("failed to pack output: %v", err))
	}
	return crypto.Keccak256Hash(encoded)
}

// OrderID derives the deterministic identifier of an intent. Every field
// participates, so any change yields a different id.
func OrderID(intent Intent) (common.Hash, error) {
	inputs := make([][2]*big.Int, len(intent.Inputs))
	for i, in := range intent.Inputs {
		inputs[i] = [2]*big.Int{orZero(in.AssetID), orZero(in.Amount)}
	}

	outputHashes := make([]byte, 0, len(intent.Outputs)*common.HashLength)
	for _, out := range intent.Outputs {
		h := OutputHash(out)
		outputHashes = append(outputHashes, h.Bytes()...)
	}

	refund, err := intent.Refund.Encode()
	if err != nil {
		return common.Hash{}, err
	}

	encoded, err := intentArgs.Pack(
		intent.Originator,
		orZero(intent.Nonce),
		new(big.Int).SetUint64(intent.OriginChainID),
		intent.Expires,
		intent.FillDeadline,
		intent.FillOracle,
		intent.IntentOracle,
		inputs,
		[32]byte(crypto.Keccak256Hash(outputHashes)),
		refund,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack intent: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// FillPayloadHash is the fact an oracle attests for a filled output
func FillPayloadHash(solver common.Address, orderID common.Hash, timestamp uint64, outputHash common.Hash) common.Hash {
	encoded, err := payloadArgs.Pack(
		[32]byte(AddressToID(solver)),
		[32]byte(orderID),
		timestamp,
		[32]byte(outputHash),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to pack fill payload: %v", err))
	}
	return crypto.Keccak256Hash(encoded)
}
