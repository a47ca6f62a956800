package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Storage backends of a chain
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

// NetworkConfig is the chain topology decoded from the network TOML file
type NetworkConfig struct {
	Storage StorageConfig `toml:"storage"`
	// Relayers may submit attestations to every attester
	Relayers  []string        `toml:"relayers"`
	Contracts ContractsConfig `toml:"contracts"`
	Chains    []NetworkChain  `toml:"chains"`
}

// StorageConfig selects where chain state is kept
type StorageConfig struct {
	Backend string `toml:"backend"`
	// Dir holds one LevelDB directory per chain
	Dir string `toml:"dir"`
	// PostgresDSN is shared by every chain, each in its own namespace
	PostgresDSN string `toml:"postgres_dsn"`
}

// ContractsConfig overrides the deterministic deployment addresses
type ContractsConfig struct {
	Attester      string `toml:"attester"`
	InputSettler  string `toml:"input_settler"`
	OutputSettler string `toml:"output_settler"`
	PrivacyPool   string `toml:"privacy_pool"`
	Entrypoint    string `toml:"entrypoint"`
}

// NetworkChain is one chain of the topology
type NetworkChain struct {
	ChainID uint64         `toml:"chain_id"`
	Name    string         `toml:"name"`
	Genesis []GenesisAlloc `toml:"genesis"`
	Pool    *PoolConfig    `toml:"pool"`
}

// GenesisAlloc credits an account when the chain is first created
type GenesisAlloc struct {
	Address string `toml:"address"`
	Amount  string `toml:"amount"`
}

// PoolConfig deploys a privacy pool and its entrypoint on a chain
type PoolConfig struct {
	Postman         string `toml:"postman"`
	MaxRelayFeeBPS  uint32 `toml:"max_relay_fee_bps"`
	MaxSolverFeeBPS uint32 `toml:"max_solver_fee_bps"`
	MinWithdrawal   string `toml:"min_withdrawal"`
	FillWindow      uint64 `toml:"fill_window"`
	ExpiryWindow    uint64 `toml:"expiry_window"`
	RootHistory     uint64 `toml:"root_history"`
	// AcceptAllProofs installs a verifier that accepts every proof. Devnets only.
	AcceptAllProofs bool `toml:"accept_all_proofs"`
}

// LoadNetwork decodes and validates the topology file at path. Unknown keys
// are rejected.
func LoadNetwork(path string) (*NetworkConfig, error) {
	cfg := &NetworkConfig{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode network config %s: %w", path, err)
	}
	return finishNetwork(cfg, meta)
}

// ParseNetwork decodes a topology from TOML text
func ParseNetwork(data string) (*NetworkConfig, error) {
	cfg := &NetworkConfig{}
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode network config: %w", err)
	}
	return finishNetwork(cfg, meta)
}

func finishNetwork(cfg *NetworkConfig, meta toml.MetaData) (*NetworkConfig, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("unknown network config keys: %s", strings.Join(keys, ", "))
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the topology for unusable values
func (n *NetworkConfig) Validate() error {
	switch n.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if n.Storage.Dir == "" {
			return errors.New("storage.dir is required for the leveldb backend")
		}
	case BackendPostgres:
		if n.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage.backend value: %s, must be memory, leveldb or postgres", n.Storage.Backend)
	}

	if len(n.Chains) == 0 {
		return errors.New("at least one chain configuration is required")
	}
	for _, r := range n.Relayers {
		if !common.IsHexAddress(r) {
			return fmt.Errorf("invalid relayer address: %s", r)
		}
	}
	for key, addr := range map[string]string{
		"contracts.attester":       n.Contracts.Attester,
		"contracts.input_settler":  n.Contracts.InputSettler,
		"contracts.output_settler": n.Contracts.OutputSettler,
		"contracts.privacy_pool":   n.Contracts.PrivacyPool,
		"contracts.entrypoint":     n.Contracts.Entrypoint,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address: %s", key, addr)
		}
	}

	ids := make(map[uint64]struct{}, len(n.Chains))
	names := make(map[string]struct{}, len(n.Chains))
	for _, c := range n.Chains {
		if c.ChainID == 0 {
			return fmt.Errorf("chain %q has no chain_id", c.Name)
		}
		if _, dup := ids[c.ChainID]; dup {
			return fmt.Errorf("duplicate chain_id %d", c.ChainID)
		}
		ids[c.ChainID] = struct{}{}
		if c.Name == "" {
			return fmt.Errorf("chain %d has no name", c.ChainID)
		}
		if _, dup := names[c.Name]; dup {
			return fmt.Errorf("duplicate chain name %s", c.Name)
		}
		names[c.Name] = struct{}{}

		for _, alloc := range c.Genesis {
			if !common.IsHexAddress(alloc.Address) {
				return fmt.Errorf("chain %d: invalid genesis address %s", c.ChainID, alloc.Address)
			}
			if _, err := ParseAmount(alloc.Amount); err != nil {
				return fmt.Errorf("chain %d: genesis %s: %w", c.ChainID, alloc.Address, err)
			}
		}
		if c.Pool != nil {
			if err := c.Pool.validate(); err != nil {
				return fmt.Errorf("chain %d pool: %w", c.ChainID, err)
			}
		}
	}
	return nil
}

func (p *PoolConfig) validate() error {
	if !common.IsHexAddress(p.Postman) {
		return fmt.Errorf("invalid postman address: %s", p.Postman)
	}
	if p.MaxRelayFeeBPS > 10_000 || p.MaxSolverFeeBPS > 10_000 {
		return errors.New("fee caps must not exceed 10000 bps")
	}
	if p.MinWithdrawal != "" {
		if _, err := ParseAmount(p.MinWithdrawal); err != nil {
			return fmt.Errorf("min_withdrawal: %w", err)
		}
	}
	if p.ExpiryWindow != 0 && p.ExpiryWindow <= p.FillWindow {
		return errors.New("expiry_window must exceed fill_window")
	}
	return nil
}

// ParseAmount parses a non-negative decimal amount
func ParseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q, must be a non-negative decimal integer", s)
	}
	return amount, nil
}

// Chain returns the configuration of chainID
func (n *NetworkConfig) Chain(chainID uint64) (NetworkChain, bool) {
	for _, c := range n.Chains {
		if c.ChainID == chainID {
			return c, true
		}
	}
	return NetworkChain{}, false
}
