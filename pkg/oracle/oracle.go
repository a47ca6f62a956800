// Package oracle defines how settlers ask whether a remote fact was attested,
// and the attester contract that records those facts.
package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

// RecordSize is the packed size of one proof-series record
const RecordSize = 4 * common.HashLength

var (
	ErrNotProven       = models.NewError(models.KindAuthentication, "oracle: fact not proven")
	ErrBadProofSeries  = models.NewError(models.KindMalformed, "oracle: proof series length is not a positive multiple of 128")
	ErrUnauthorized    = models.NewError(models.KindAuthentication, "oracle: caller is not an authorized relayer")
	ErrChainIDOverflow = models.NewError(models.KindMalformed, "oracle: remote chain id does not fit 64 bits")
)

// Oracle answers whether (remoteChain, remoteOracle, application, dataHash)
// was attested on this chain
type Oracle interface {
	IsProven(env *chain.Env, remoteChainID uint64, remoteOracle, application, dataHash common.Hash) bool
	RequireProven(env *chain.Env, proofSeries []byte) error
}

// Record is one attested fact
type Record struct {
	RemoteChainID uint64
	RemoteOracle  common.Hash
	Application   common.Hash
	DataHash      common.Hash
}

// EncodeProofSeries packs records into 128-byte words
func EncodeProofSeries(records []Record) []byte {
	out := make([]byte, 0, len(records)*RecordSize)
	for _, r := range records {
		out = append(out, common.BigToHash(new(big.Int).SetUint64(r.RemoteChainID)).Bytes()...)
		out = append(out, r.RemoteOracle.Bytes()...)
		out = append(out, r.Application.Bytes()...)
		out = append(out, r.DataHash.Bytes()...)
	}
	return out
}

// DecodeProofSeries unpacks a series produced by EncodeProofSeries
func DecodeProofSeries(series []byte) ([]Record, error) {
	if len(series) == 0 || len(series)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrBadProofSeries, len(series))
	}
	records := make([]Record, 0, len(series)/RecordSize)
	for off := 0; off < len(series); off += RecordSize {
		word := series[off : off+RecordSize]
		chainID := new(big.Int).SetBytes(word[:32])
		if !chainID.IsUint64() {
			return nil, ErrChainIDOverflow
		}
		records = append(records, Record{
			RemoteChainID: chainID.Uint64(),
			RemoteOracle:  common.BytesToHash(word[32:64]),
			Application:   common.BytesToHash(word[64:96]),
			DataHash:      common.BytesToHash(word[96:128]),
		})
	}
	return records, nil
}
