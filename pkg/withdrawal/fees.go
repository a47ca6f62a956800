package withdrawal

import (
	"fmt"
	"math/big"
)

// BPSDenominator is one hundred percent in basis points
const BPSDenominator = 10_000

// Fees splits a withdrawn amount. Relay + Solver + Net always equals the amount.
type Fees struct {
	Relay  *big.Int
	Solver *big.Int
	Net    *big.Int
}

// ComputeFees applies the relay and solver fee rates to amount, rejecting
// rates above their caps
func ComputeFees(amount *big.Int, relayBPS, solverBPS, maxRelayBPS, maxSolverBPS uint32) (Fees, error) {
	if relayBPS > maxRelayBPS {
		return Fees{}, fmt.Errorf("%w: %d > %d bps", ErrRelayFeeTooHigh, relayBPS, maxRelayBPS)
	}
	if solverBPS > maxSolverBPS {
		return Fees{}, fmt.Errorf("%w: %d > %d bps", ErrSolverFeeTooHigh, solverBPS, maxSolverBPS)
	}

	relay := bpsOf(amount, relayBPS)
	solver := bpsOf(amount, solverBPS)
	net := new(big.Int).Sub(amount, relay)
	net.Sub(net, solver)
	if net.Sign() <= 0 {
		return Fees{}, fmt.Errorf("%w: amount %s", ErrNoNetAmount, amount)
	}
	return Fees{Relay: relay, Solver: solver, Net: net}, nil
}

func bpsOf(amount *big.Int, bps uint32) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return fee.Quo(fee, big.NewInt(BPSDenominator))
}
