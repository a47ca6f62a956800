// Package network assembles the configured chains and deploys the protocol
// contracts on each of them.
package network

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/config"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
	"github.com/speedrun-hq/speedrun-settlement/pkg/privacypool"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settler"
	"github.com/speedrun-hq/speedrun-settlement/pkg/signals"
	"github.com/speedrun-hq/speedrun-settlement/pkg/storage"
	"github.com/speedrun-hq/speedrun-settlement/pkg/withdrawal"
)

// ErrNoVerifier is returned when a pool is configured without a proof verifier
var ErrNoVerifier = errors.New("network: privacy pool requires a proof verifier")

// genesisKey marks a database whose genesis allocations were applied
var genesisKey = []byte("g/genesis")

// Addresses is where the protocol contracts live on every chain
type Addresses struct {
	Attester      common.Address
	InputSettler  common.Address
	OutputSettler common.Address
	PrivacyPool   common.Address
	Entrypoint    common.Address
}

// deterministicAddress derives a contract address from its role
func deterministicAddress(role string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("speedrun-settlement/" + role))[12:])
}

// DefaultAddresses returns the deterministic deployment addresses
func DefaultAddresses() Addresses {
	return Addresses{
		Attester:      deterministicAddress("attester"),
		InputSettler:  deterministicAddress("input-settler"),
		OutputSettler: deterministicAddress("output-settler"),
		PrivacyPool:   deterministicAddress("privacy-pool"),
		Entrypoint:    deterministicAddress("entrypoint"),
	}
}

// ResolveAddresses applies the configured overrides to the defaults
func ResolveAddresses(cfg config.ContractsConfig) Addresses {
	addrs := DefaultAddresses()
	override := func(dst *common.Address, hex string) {
		if hex != "" {
			*dst = common.HexToAddress(hex)
		}
	}
	override(&addrs.Attester, cfg.Attester)
	override(&addrs.InputSettler, cfg.InputSettler)
	override(&addrs.OutputSettler, cfg.OutputSettler)
	override(&addrs.PrivacyPool, cfg.PrivacyPool)
	override(&addrs.Entrypoint, cfg.Entrypoint)
	return addrs
}

// chainRegistrar is implemented by loggers that prefix messages per chain
type chainRegistrar interface {
	RegisterChain(chainID uint64, name string)
}

// Network is the set of running chains and their deployed contracts
type Network struct {
	Addresses Addresses

	chains      []*chain.Chain
	byID        map[uint64]*chain.Chain
	dbs         []storage.Database
	pools       map[uint64]*privacypool.Pool
	entrypoints map[uint64]*withdrawal.Entrypoint
	logger      logger.Logger
}

// AcceptAllVerifier accepts every proof. Devnets only.
var AcceptAllVerifier = withdrawal.VerifierFunc(func(_ [2]*big.Int, _ [2][2]*big.Int, _ [2]*big.Int, _ [signals.Count]*big.Int) bool {
	return true
})

// Build opens the storage of every configured chain, deploys the contracts
// and applies the genesis allocations. verifier checks withdrawal proofs on
// chains whose pool does not accept every proof; it may be nil when no such
// pool is configured.
func Build(ctx context.Context, cfg *config.Config, verifier withdrawal.Verifier, log logger.Logger) (*Network, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if cfg.Network == nil {
		return nil, errors.New("network config is not loaded")
	}
	netCfg := cfg.Network

	relayers := make([]common.Address, 0, len(netCfg.Relayers)+1)
	for _, r := range netCfg.Relayers {
		relayers = append(relayers, common.HexToAddress(r))
	}
	if cfg.Relayer.Enabled {
		relayers = append(relayers, cfg.Relayer.Address)
	}

	n := &Network{
		Addresses:   ResolveAddresses(netCfg.Contracts),
		byID:        make(map[uint64]*chain.Chain, len(netCfg.Chains)),
		pools:       make(map[uint64]*privacypool.Pool),
		entrypoints: make(map[uint64]*withdrawal.Entrypoint),
		logger:      log,
	}

	for _, chainCfg := range netCfg.Chains {
		if registrar, ok := log.(chainRegistrar); ok {
			registrar.RegisterChain(chainCfg.ChainID, chainCfg.Name)
		}

		db, err := openDatabase(ctx, netCfg.Storage, chainCfg.ChainID)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to open storage for chain %d: %w", chainCfg.ChainID, err)
		}
		n.dbs = append(n.dbs, db)

		c := chain.New(chainCfg.ChainID, chainCfg.Name, db, log)
		if err := n.deploy(c, chainCfg, relayers, verifier); err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to deploy contracts on chain %d: %w", chainCfg.ChainID, err)
		}
		if err := applyGenesis(ctx, c, db, chainCfg.Genesis); err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to apply genesis on chain %d: %w", chainCfg.ChainID, err)
		}

		n.chains = append(n.chains, c)
		n.byID[c.ID()] = c
		log.InfoWithChain(c.ID(), "Chain %s (%d) ready on %s storage", c.Name(), c.ID(), netCfg.Storage.Backend)
	}
	return n, nil
}

func openDatabase(ctx context.Context, cfg config.StorageConfig, chainID uint64) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return storage.NewMemDB(), nil
	case config.BackendLevelDB:
		db, err := storage.NewLevelDB(filepath.Join(cfg.Dir, fmt.Sprintf("chain-%d", chainID)))
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.BackendPostgres:
		db, err := storage.NewPostgresDB(ctx, cfg.PostgresDSN, fmt.Sprintf("chain_%d", chainID))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// deploy registers the attester and both settlers, plus the pool and its
// entrypoint when the chain configures one
func (n *Network) deploy(c *chain.Chain, chainCfg config.NetworkChain, relayers []common.Address, verifier withdrawal.Verifier) error {
	addrs := n.Addresses
	if err := c.Register(addrs.Attester, oracle.NewAttester(addrs.Attester, relayers...)); err != nil {
		return err
	}
	if err := c.Register(addrs.OutputSettler, settler.NewOutputSettler(addrs.OutputSettler, n.logger)); err != nil {
		return err
	}

	if chainCfg.Pool == nil {
		return c.Register(addrs.InputSettler, settler.NewInputSettler(addrs.InputSettler, common.Address{}, n.logger))
	}

	poolCfg := chainCfg.Pool
	if poolCfg.AcceptAllProofs {
		verifier = AcceptAllVerifier
	}
	if verifier == nil {
		return ErrNoVerifier
	}
	minWithdrawal := new(big.Int)
	if poolCfg.MinWithdrawal != "" {
		amount, err := config.ParseAmount(poolCfg.MinWithdrawal)
		if err != nil {
			return fmt.Errorf("invalid min_withdrawal: %w", err)
		}
		minWithdrawal = amount
	}

	// withdrawals are the only intents opened on a pool chain
	input := settler.NewInputSettler(addrs.InputSettler, addrs.Entrypoint, n.logger)
	pool := privacypool.New(addrs.PrivacyPool, addrs.Entrypoint, c.ID(), poolCfg.RootHistory)
	entry := withdrawal.NewEntrypoint(withdrawal.Config{
		Address:         addrs.Entrypoint,
		InputSettler:    addrs.InputSettler,
		OutputSettler:   addrs.OutputSettler,
		Postman:         common.HexToAddress(poolCfg.Postman),
		MaxRelayFeeBPS:  poolCfg.MaxRelayFeeBPS,
		MaxSolverFeeBPS: poolCfg.MaxSolverFeeBPS,
		MinWithdrawal:   minWithdrawal,
		FillWindow:      poolCfg.FillWindow,
		ExpiryWindow:    poolCfg.ExpiryWindow,
	}, pool, verifier, n.logger)

	for addr, contract := range map[common.Address]chain.Contract{
		addrs.InputSettler: input,
		addrs.PrivacyPool:  pool,
		addrs.Entrypoint:   entry,
	} {
		if err := c.Register(addr, contract); err != nil {
			return err
		}
	}
	n.pools[c.ID()] = pool
	n.entrypoints[c.ID()] = entry
	return nil
}

// applyGenesis credits the allocations once per database
func applyGenesis(ctx context.Context, c *chain.Chain, db storage.Database, allocs []config.GenesisAlloc) error {
	if _, err := db.Get(genesisKey); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	for _, alloc := range allocs {
		amount, err := config.ParseAmount(alloc.Amount)
		if err != nil {
			return err
		}
		if err := c.Mint(ctx, common.HexToAddress(alloc.Address), amount); err != nil {
			return err
		}
	}
	return db.Put(genesisKey, []byte{1})
}

// Chains returns the chains in configuration order
func (n *Network) Chains() []*chain.Chain { return n.chains }

// Chain returns the chain with id
func (n *Network) Chain(id uint64) (*chain.Chain, bool) {
	c, ok := n.byID[id]
	return c, ok
}

// Pool returns the privacy pool deployed on chain id
func (n *Network) Pool(id uint64) (*privacypool.Pool, bool) {
	p, ok := n.pools[id]
	return p, ok
}

// Entrypoint returns the withdrawal entrypoint deployed on chain id
func (n *Network) Entrypoint(id uint64) (*withdrawal.Entrypoint, bool) {
	e, ok := n.entrypoints[id]
	return e, ok
}

// Close releases the storage of every chain
func (n *Network) Close() {
	for _, db := range n.dbs {
		db.Close()
	}
	n.dbs = nil
}
