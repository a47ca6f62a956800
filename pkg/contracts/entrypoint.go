package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// EntrypointABI is the calldata surface of the privacy-pool entrypoint
// reachable through refund routes and fill callbacks
const EntrypointABI = `[
	{
		"inputs": [
			{
				"internalType": "uint256",
				"name": "refundCommitment",
				"type": "uint256"
			}
		],
		"name": "recoverRefund",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{
				"internalType": "address",
				"name": "depositor",
				"type": "address"
			},
			{
				"internalType": "uint256",
				"name": "precommitment",
				"type": "uint256"
			}
		],
		"name": "depositFor",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`

const (
	MethodRecoverRefund = "recoverRefund"
	MethodDepositFor    = "depositFor"
)

// ErrShortCalldata is returned for calldata without a selector
var ErrShortCalldata = errors.New("contracts: calldata shorter than a selector")

var entrypointABI = mustParse(EntrypointABI)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// PackRecoverRefund encodes recoverRefund(refundCommitment)
func PackRecoverRefund(refundCommitment *big.Int) ([]byte, error) {
	return entrypointABI.Pack(MethodRecoverRefund, refundCommitment)
}

// PackDepositFor encodes depositFor(depositor, precommitment)
func PackDepositFor(depositor common.Address, precommitment *big.Int) ([]byte, error) {
	return entrypointABI.Pack(MethodDepositFor, depositor, precommitment)
}

// EntrypointCall is decoded entrypoint calldata
type EntrypointCall struct {
	Method           string
	RefundCommitment *big.Int
	Depositor        common.Address
	Precommitment    *big.Int
}

// UnpackEntrypointCall decodes calldata built by the Pack helpers
func UnpackEntrypointCall(data []byte) (*EntrypointCall, error) {
	if len(data) < 4 {
		return nil, ErrShortCalldata
	}
	method, err := entrypointABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve selector: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s arguments: %w", method.Name, err)
	}

	call := &EntrypointCall{Method: method.Name}
	switch method.Name {
	case MethodRecoverRefund:
		commitment, ok := args[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("refundCommitment has type %T", args[0])
		}
		call.RefundCommitment = commitment
	case MethodDepositFor:
		depositor, ok := args[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("depositor has type %T", args[0])
		}
		precommitment, ok := args[1].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("precommitment has type %T", args[1])
		}
		call.Depositor = depositor
		call.Precommitment = precommitment
	}
	return call, nil
}
