package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAssetID is the input asset id of the chain's native value
var NativeAssetID = big.NewInt(0)

// NativeToken is the output token id of the chain's native value
var NativeToken = common.Hash{}

// Input is an asset escrowed on the origin chain
type Input struct {
	AssetID *big.Int `json:"asset_id"`
	Amount  *big.Int `json:"amount"`
}

// Output is a delivery the solver must make on a destination chain.
// Oracle, Settler, Token and Recipient are 32-byte cross-chain identifiers.
type Output struct {
	Oracle    common.Hash `json:"oracle"`
	Settler   common.Hash `json:"settler"`
	ChainID   uint64      `json:"chain_id"`
	Token     common.Hash `json:"token"`
	Amount    *big.Int    `json:"amount"`
	Recipient common.Hash `json:"recipient"`
	Call      []byte      `json:"call,omitempty"`
	Context   []byte      `json:"context,omitempty"`
}

// Intent is a signed-off request to move value from the origin chain to one
// or more outputs on destination chains
type Intent struct {
	Originator    common.Address `json:"originator"`
	Nonce         *big.Int       `json:"nonce"`
	OriginChainID uint64         `json:"origin_chain_id"`
	Expires       uint64         `json:"expires"`
	FillDeadline  uint64         `json:"fill_deadline"`
	FillOracle    common.Address `json:"fill_oracle"`
	IntentOracle  common.Address `json:"intent_oracle,omitempty"`
	Inputs        []Input        `json:"inputs"`
	Outputs       []Output       `json:"outputs"`
	Refund        Refund         `json:"refund"`
}

// SolveParams is what a solver presents per output when claiming
type SolveParams struct {
	Solver    common.Address `json:"solver"`
	Timestamp uint64         `json:"timestamp"`
}

// FillRecord is written once per (orderId, outputHash) on the destination chain
type FillRecord struct {
	Solver    common.Address `json:"solver"`
	Timestamp uint64         `json:"timestamp"`
}

// Optimistic reports whether the intent can be filled without an
// authenticity attestation
func (i *Intent) Optimistic() bool {
	return i.IntentOracle == (common.Address{})
}

// InputTotal sums every input amount
func (i *Intent) InputTotal() *big.Int {
	total := new(big.Int)
	for _, in := range i.Inputs {
		if in.Amount != nil {
			total.Add(total, in.Amount)
		}
	}
	return total
}

// OutputTotal sums every output amount
func (i *Intent) OutputTotal() *big.Int {
	total := new(big.Int)
	for _, out := range i.Outputs {
		if out.Amount != nil {
			total.Add(total, out.Amount)
		}
	}
	return total
}

// DestinationChainID returns the chain of the first output, or 0
func (i *Intent) DestinationChainID() uint64 {
	if len(i.Outputs) == 0 {
		return 0
	}
	return i.Outputs[0].ChainID
}

// AddressToID left-pads an address into a 32-byte identifier
func AddressToID(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// IDToAddress takes the low 20 bytes of an identifier
func IDToAddress(id common.Hash) common.Address {
	return common.BytesToAddress(id.Bytes())
}
