package config

import (
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
)

// Config holds the configuration of the settlement node
type Config struct {
	NetworkConfigPath string
	Network           *NetworkConfig
	PollingInterval   time.Duration
	MetricsPort       string
	MetricsAPIKey     string
	Solver            SolverConfig
	Relayer           RelayerConfig
	CircuitBreaker    CircuitBreakerConfig
	LoggerConfig      LoggerConfig
}

// SolverConfig holds the solver policy
type SolverConfig struct {
	Enabled           bool
	Address           common.Address
	WorkerCount       int
	MaxRetries        int
	RetryQueueSize    int
	MinDeadlineMargin uint64
	MinMarginBPS      uint32
	FillRateLimit     float64
}

// RelayerConfig holds the relayer account
type RelayerConfig struct {
	Enabled bool
	Address common.Address
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level      logger.Level
	Coloring   bool
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// LoadConfig loads the configuration from environment variables and the
// network topology file
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg, err := LoadEnv()
	if err != nil {
		return nil, err
	}

	network, err := LoadNetwork(cfg.NetworkConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.Network = network
	return cfg, nil
}

// LoadEnv reads every environment setting, leaving Network unset
func LoadEnv() (*Config, error) {
	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	solver, err := loadSolverConfig()
	if err != nil {
		return nil, err
	}

	relayerEnabled, err := GetEnvRelayerEnabled()
	if err != nil {
		return nil, err
	}

	relayerAddress, err := GetEnvRelayerAddress()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	loggerConfig, err := loadLoggerConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		NetworkConfigPath: GetEnvNetworkConfig(),
		PollingInterval:   pollingInterval,
		MetricsPort:       metricsPort,
		MetricsAPIKey:     GetEnvMetricsAPIKey(),
		Solver:            solver,
		Relayer: RelayerConfig{
			Enabled: relayerEnabled,
			Address: relayerAddress,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: loggerConfig,
	}, nil
}

func loadSolverConfig() (SolverConfig, error) {
	var (
		cfg SolverConfig
		err error
	)
	if cfg.Enabled, err = GetEnvSolverEnabled(); err != nil {
		return cfg, err
	}
	if cfg.Address, err = GetEnvSolverAddress(); err != nil {
		return cfg, err
	}
	if cfg.WorkerCount, err = GetEnvWorkerCount(); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = GetEnvMaxRetries(); err != nil {
		return cfg, err
	}
	if cfg.RetryQueueSize, err = GetEnvRetryQueueSize(); err != nil {
		return cfg, err
	}
	if cfg.MinDeadlineMargin, err = GetEnvMinDeadlineMargin(); err != nil {
		return cfg, err
	}
	if cfg.MinMarginBPS, err = GetEnvMinMarginBPS(); err != nil {
		return cfg, err
	}
	if cfg.FillRateLimit, err = GetEnvFillRateLimit(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadLoggerConfig() (LoggerConfig, error) {
	level, err := GetEnvLogLevel()
	if err != nil {
		return LoggerConfig{}, err
	}
	coloring, err := GetEnvLogColoring()
	if err != nil {
		return LoggerConfig{}, err
	}
	maxSize, err := GetEnvLogMaxSizeMB()
	if err != nil {
		return LoggerConfig{}, err
	}
	maxBackups, err := GetEnvLogMaxBackups()
	if err != nil {
		return LoggerConfig{}, err
	}
	return LoggerConfig{
		Level:      level,
		Coloring:   coloring,
		File:       GetEnvLogFile(),
		MaxSizeMB:  maxSize,
		MaxBackups: maxBackups,
	}, nil
}
