package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Server represents a health check HTTP server
type Server struct {
	port            string
	metricsAPIKey   string
	chains          []*chain.Chain
	circuitBreakers map[uint64]*circuitbreaker.CircuitBreaker
	solver          common.Address
	inFlight        func() int
	ready           atomic.Bool
	logger          logger.Logger
}

// NewServer creates a new health check server
func NewServer(port, metricsAPIKey string, chains []*chain.Chain, circuitBreakers map[uint64]*circuitbreaker.CircuitBreaker, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Server{
		port:            port,
		metricsAPIKey:   metricsAPIKey,
		chains:          chains,
		circuitBreakers: circuitBreakers,
		logger:          log,
	}
}

// SetSolver reports the solver balance and in-flight orders on /status
func (s *Server) SetSolver(account common.Address, inFlight func() int) {
	s.solver = account
	s.inFlight = inFlight
}

// SetReady flips the readiness probe
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Router builds the health, status and metrics routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", s.handleReady)
	r.Get("/status", s.handleStatus)
	r.Post("/circuit/reset", s.handleCircuitReset)
	r.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	return r
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Starting"))
		return
	}
	if len(s.chains) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("No chains configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

// ChainStatus is one chain of the /status response
type ChainStatus struct {
	Name          string `json:"name"`
	Time          uint64 `json:"time"`
	Height        uint64 `json:"height"`
	Logs          uint64 `json:"logs"`
	Circuit       string `json:"circuit"`
	FailureCount  int    `json:"failure_count"`
	SolverBalance string `json:"solver_balance,omitempty"`
}

// Status is the /status response
type Status struct {
	Chains   map[string]ChainStatus `json:"chains"`
	InFlight *int                   `json:"in_flight,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := Status{Chains: make(map[string]ChainStatus, len(s.chains))}

	for _, c := range s.chains {
		cs := ChainStatus{
			Name:    c.Name(),
			Time:    c.Now(),
			Height:  c.Height(),
			Logs:    c.LogCount(),
			Circuit: "closed",
		}
		if cb, ok := s.circuitBreakers[c.ID()]; ok {
			state := cb.GetState()
			if state.Open {
				cs.Circuit = "open"
			}
			cs.FailureCount = state.FailureCount
		}
		if s.solver != (common.Address{}) {
			cs.SolverBalance = c.Balance(s.solver).String()
		}
		status.Chains[strconv.FormatUint(c.ID(), 10)] = cs
	}
	if s.inFlight != nil {
		n := s.inFlight()
		status.InFlight = &n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	chainIDStr := r.URL.Query().Get("chain")
	if chainIDStr == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing chain parameter"))
		return
	}

	chainID, err := strconv.ParseUint(chainIDStr, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid chain ID"))
		return
	}

	cb, ok := s.circuitBreakers[chainID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for chain %d", chainID)))
		return
	}

	cb.Reset()
	s.logger.NoticeWithChain(chainID, "Circuit breaker reset through the health API")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for chain %d reset", chainID)))
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting health and metrics server on port %s", s.port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("health server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
