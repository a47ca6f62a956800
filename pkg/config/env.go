package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
)

const (
	// DefaultNetworkConfig is the path of the network topology file
	DefaultNetworkConfig = "network.toml"

	// DefaultPollingInterval defines the default polling interval in seconds
	DefaultPollingInterval = 2

	// DefaultWorkerCount defines the default number of workers to process intents
	DefaultWorkerCount = 5

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultSolverAddress defines the default solver account
	DefaultSolverAddress = "0x00000000000000000000000000000000005017e2"

	// DefaultRelayerAddress defines the default relayer account
	DefaultRelayerAddress = "0x0000000000000000000000000000000000e1a7e2"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultMaxRetries defines the maximum number of retries for failed operations
	DefaultMaxRetries = 10

	// DefaultRetryQueueSize bounds the number of jobs waiting for a retry
	DefaultRetryQueueSize = 1000

	// DefaultMinDeadlineMargin is how many seconds must be left before the
	// fill deadline for an intent to be picked up
	DefaultMinDeadlineMargin = 30

	// DefaultMinMarginBPS is the minimum solver margin between escrowed
	// input and delivered outputs
	DefaultMinMarginBPS = 10

	// DefaultFillRateLimit is the number of fills per second per destination chain
	DefaultFillRateLimit = 5.0

	// DefaultLogLevel is the log level used when LOG_LEVEL is unset
	DefaultLogLevel = "info"

	// DefaultLogMaxSizeMB is the size at which the log file is rotated
	DefaultLogMaxSizeMB = 100

	// DefaultLogMaxBackups is the number of rotated log files kept
	DefaultLogMaxBackups = 5
)

// GetEnvNetworkConfig returns the path of the network topology file
func GetEnvNetworkConfig() string {
	path := os.Getenv("NETWORK_CONFIG")
	if path == "" {
		return DefaultNetworkConfig
	}
	return path
}

// GetEnvPollingInterval returns the polling interval in seconds from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	pollingInterval := os.Getenv("POLLING_INTERVAL")
	if pollingInterval == "" {
		return time.Duration(DefaultPollingInterval) * time.Second, nil
	}

	interval, err := strconv.Atoi(pollingInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid POLLING_INTERVAL value: %s, must be an integer", pollingInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLLING_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	return getEnvPositiveInt("WORKER_COUNT", DefaultWorkerCount)
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvMetricsAPIKey returns the bearer key protecting /metrics, empty when open
func GetEnvMetricsAPIKey() string {
	return os.Getenv("METRICS_API_KEY")
}

// GetEnvSolverAddress returns the solver account from environment variables
func GetEnvSolverAddress() (common.Address, error) {
	return getEnvAddress("SOLVER_ADDRESS", DefaultSolverAddress)
}

// GetEnvRelayerAddress returns the relayer account from environment variables
func GetEnvRelayerAddress() (common.Address, error) {
	return getEnvAddress("RELAYER_ADDRESS", DefaultRelayerAddress)
}

// GetEnvSolverEnabled returns whether the solver runs in this process
func GetEnvSolverEnabled() (bool, error) {
	return getEnvBool("SOLVER_ENABLED", true)
}

// GetEnvRelayerEnabled returns whether the relayer runs in this process
func GetEnvRelayerEnabled() (bool, error) {
	return getEnvBool("RELAYER_ENABLED", true)
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow*time.Minute)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset*time.Minute)
}

// GetEnvMaxRetries returns the maximum number of retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	maxRetriesInt, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if maxRetriesInt < 0 {
		return 0, fmt.Errorf("MAX_RETRIES must be greater than or equal to 0")
	}
	return maxRetriesInt, nil
}

// GetEnvRetryQueueSize returns the retry queue capacity
func GetEnvRetryQueueSize() (int, error) {
	return getEnvPositiveInt("RETRY_QUEUE_SIZE", DefaultRetryQueueSize)
}

// GetEnvMinDeadlineMargin returns the minimum seconds left before a fill deadline
func GetEnvMinDeadlineMargin() (uint64, error) {
	margin := os.Getenv("MIN_DEADLINE_MARGIN")
	if margin == "" {
		return DefaultMinDeadlineMargin, nil
	}
	value, err := strconv.ParseUint(margin, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid MIN_DEADLINE_MARGIN value: %s, must be a non-negative integer", margin)
	}
	return value, nil
}

// GetEnvMinMarginBPS returns the minimum solver margin in basis points
func GetEnvMinMarginBPS() (uint32, error) {
	bps := os.Getenv("MIN_MARGIN_BPS")
	if bps == "" {
		return DefaultMinMarginBPS, nil
	}
	value, err := strconv.ParseUint(bps, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid MIN_MARGIN_BPS value: %s, must be a non-negative integer", bps)
	}
	if value > 10_000 {
		return 0, fmt.Errorf("MIN_MARGIN_BPS must not exceed 10000")
	}
	return uint32(value), nil
}

// GetEnvFillRateLimit returns the fills per second allowed per destination chain
func GetEnvFillRateLimit() (float64, error) {
	limit := os.Getenv("FILL_RATE_LIMIT")
	if limit == "" {
		return DefaultFillRateLimit, nil
	}
	value, err := strconv.ParseFloat(limit, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid FILL_RATE_LIMIT value: %s, must be a number", limit)
	}
	if value <= 0 {
		return 0, fmt.Errorf("FILL_RATE_LIMIT must be greater than 0")
	}
	return value, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = DefaultLogLevel
	}
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s: %w", level, err)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether log prefixes are colored
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", true)
}

// GetEnvLogFile returns the rotated log file path, empty for stdout
func GetEnvLogFile() string {
	return os.Getenv("LOG_FILE")
}

// GetEnvLogMaxSizeMB returns the size in megabytes at which the log file rotates
func GetEnvLogMaxSizeMB() (int, error) {
	return getEnvPositiveInt("LOG_MAX_SIZE_MB", DefaultLogMaxSizeMB)
}

// GetEnvLogMaxBackups returns how many rotated log files are kept
func GetEnvLogMaxBackups() (int, error) {
	return getEnvPositiveInt("LOG_MAX_BACKUPS", DefaultLogMaxBackups)
}

func getEnvPositiveInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, raw)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return value, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	switch raw := os.Getenv(key); raw {
	case "":
		return def, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", key, raw)
	}
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, raw)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

func getEnvAddress(key, def string) (common.Address, error) {
	raw := os.Getenv(key)
	if raw == "" {
		raw = def
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", key, raw)
	}
	return common.HexToAddress(raw), nil
}
