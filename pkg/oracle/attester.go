package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
)

// FactProven is emitted for every newly attested record
type FactProven struct {
	Record  Record
	Relayer common.Address
}

// Attester records facts submitted by trusted relayers and serves them to
// settlers. The same attester is deployed at the same address on every chain.
type Attester struct {
	address  common.Address
	relayers map[common.Address]struct{}
}

var _ Oracle = (*Attester)(nil)

// NewAttester creates an attester at address accepting the given relayers
func NewAttester(address common.Address, relayers ...common.Address) *Attester {
	a := &Attester{address: address, relayers: make(map[common.Address]struct{})}
	for _, r := range relayers {
		a.relayers[r] = struct{}{}
	}
	return a
}

// Address returns where the attester is deployed
func (a *Attester) Address() common.Address { return a.address }

func factKey(remoteChainID uint64, remoteOracle, application, dataHash common.Hash) []byte {
	return crypto.Keccak256(
		common.BigToHash(new(big.Int).SetUint64(remoteChainID)).Bytes(),
		remoteOracle.Bytes(),
		application.Bytes(),
		dataHash.Bytes(),
	)
}

// Submit attests records. Only configured relayers may call it.
func (a *Attester) Submit(env *chain.Env, records []Record) error {
	if _, ok := a.relayers[env.Sender()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnauthorized, env.Sender().Hex())
	}
	for _, r := range records {
		key := factKey(r.RemoteChainID, r.RemoteOracle, r.Application, r.DataHash)
		if _, exists := env.GetState(a.address, key); exists {
			continue
		}
		env.SetState(a.address, key, []byte{1})
		env.Emit(FactProven{Record: r, Relayer: env.Sender()})
	}
	return nil
}

func (a *Attester) IsProven(env *chain.Env, remoteChainID uint64, remoteOracle, application, dataHash common.Hash) bool {
	_, ok := env.GetState(a.address, factKey(remoteChainID, remoteOracle, application, dataHash))
	return ok
}

// RequireProven fails unless every record of the series is attested
func (a *Attester) RequireProven(env *chain.Env, proofSeries []byte) error {
	records, err := DecodeProofSeries(proofSeries)
	if err != nil {
		return err
	}
	for i, r := range records {
		if !a.IsProven(env, r.RemoteChainID, r.RemoteOracle, r.Application, r.DataHash) {
			return fmt.Errorf("%w: record %d from chain %d", ErrNotProven, i, r.RemoteChainID)
		}
	}
	return nil
}

// Receive rejects raw calls, the attester is driven through Submit
func (a *Attester) Receive(_ *chain.Env, _ []byte) error {
	return chain.ErrUnknownMethod
}
