package models

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// RefundKind selects how escrowed value is returned after expiry
type RefundKind uint8

const (
	// RefundSimple transfers the escrow back to the originator
	RefundSimple RefundKind = iota
	// RefundCustom invokes Target with Payload, carrying the escrow as value
	RefundCustom
)

// Refund is the recovery route of an intent
type Refund struct {
	Kind    RefundKind     `json:"kind"`
	Target  common.Address `json:"target,omitempty"`
	Payload []byte         `json:"payload,omitempty"`
}

// CustomRefund builds a refund route that calls target with payload
func CustomRefund(target common.Address, payload []byte) Refund {
	return Refund{Kind: RefundCustom, Target: target, Payload: payload}
}

var refundArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("bytes")},
}

// Encode returns the calldata form of the refund: empty for simple refunds,
// abi.encode(target, payload) otherwise
func (r Refund) Encode() ([]byte, error) {
	switch r.Kind {
	case RefundSimple:
		return []byte{}, nil
	case RefundCustom:
		payload := r.Payload
		if payload == nil {
			payload = []byte{}
		}
		return refundArgs.Pack(r.Target, payload)
	default:
		return nil, fmt.Errorf("unknown refund kind %d", r.Kind)
	}
}

// Equal compares two refund routes
func (r Refund) Equal(o Refund) bool {
	return r.Kind == o.Kind && r.Target == o.Target && bytes.Equal(r.Payload, o.Payload)
}

// DecodeRefund parses refund calldata produced by Encode
func DecodeRefund(data []byte) (Refund, error) {
	if len(data) == 0 {
		return Refund{Kind: RefundSimple}, nil
	}
	values, err := refundArgs.Unpack(data)
	if err != nil {
		return Refund{}, fmt.Errorf("failed to decode refund calldata: %w", err)
	}
	target, ok := values[0].(common.Address)
	if !ok {
		return Refund{}, fmt.Errorf("refund target has type %T", values[0])
	}
	payload, ok := values[1].([]byte)
	if !ok {
		return Refund{}, fmt.Errorf("refund payload has type %T", values[1])
	}
	return CustomRefund(target, payload), nil
}
