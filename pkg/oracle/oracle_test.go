package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	attesterAddr = common.HexToAddress("0x0a")
	relayer      = common.HexToAddress("0x0b")
	stranger     = common.HexToAddress("0x0c")
)

func sampleRecords() []Record {
	return []Record{
		{RemoteChainID: 2, RemoteOracle: common.HexToHash("0x01"), Application: common.HexToHash("0x02"), DataHash: common.HexToHash("0x03")},
		{RemoteChainID: 3, RemoteOracle: common.HexToHash("0x04"), Application: common.HexToHash("0x05"), DataHash: common.HexToHash("0x06")},
	}
}

func TestProofSeriesCodec(t *testing.T) {
	series := EncodeProofSeries(sampleRecords())
	assert.Len(t, series, 2*RecordSize)

	decoded, err := DecodeProofSeries(series)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), decoded)

	for _, n := range []int{0, 127, 129} {
		_, err := DecodeProofSeries(make([]byte, n))
		assert.ErrorIs(t, err, ErrBadProofSeries, "length %d", n)
	}
}

func newAttesterChain(t *testing.T) (*chain.Chain, *Attester) {
	t.Helper()
	c := chain.New(1, "origin", storage.NewMemDB(), nil)
	a := NewAttester(attesterAddr, relayer)
	require.NoError(t, c.Register(attesterAddr, a))
	return c, a
}

func TestAttesterSubmitAndRequire(t *testing.T) {
	c, a := newAttesterChain(t)
	ctx := context.Background()
	records := sampleRecords()
	series := EncodeProofSeries(records)

	require.NoError(t, c.View(ctx, func(env *chain.Env) error {
		err := a.RequireProven(env, series)
		assert.ErrorIs(t, err, ErrNotProven)
		assert.Equal(t, models.KindAuthentication, models.KindOf(err))
		return nil
	}))

	_, err := c.Transact(ctx, relayer, attesterAddr, big.NewInt(0), func(env *chain.Env) error {
		return a.Submit(env, records[:1])
	})
	require.NoError(t, err)

	require.NoError(t, c.View(ctx, func(env *chain.Env) error {
		r := records[0]
		assert.True(t, a.IsProven(env, r.RemoteChainID, r.RemoteOracle, r.Application, r.DataHash))
		assert.False(t, a.IsProven(env, r.RemoteChainID+1, r.RemoteOracle, r.Application, r.DataHash))
		// one missing record fails the whole series
		assert.ErrorIs(t, a.RequireProven(env, series), ErrNotProven)
		return nil
	}))

	_, err = c.Transact(ctx, relayer, attesterAddr, big.NewInt(0), func(env *chain.Env) error {
		return a.Submit(env, records)
	})
	require.NoError(t, err)

	require.NoError(t, c.View(ctx, func(env *chain.Env) error {
		assert.NoError(t, a.RequireProven(env, series))
		return nil
	}))

	// the duplicate submission only emitted the new record
	logs, _ := c.LogsSince(0, 0)
	assert.Len(t, logs, 2)
}

func TestAttesterRejectsStranger(t *testing.T) {
	c, a := newAttesterChain(t)
	_, err := c.Transact(context.Background(), stranger, attesterAddr, big.NewInt(0), func(env *chain.Env) error {
		return a.Submit(env, sampleRecords())
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
}
