package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// JobStage is how far a solver job has progressed
type JobStage int

const (
	StageFill JobStage = iota
	StageFinalise
)

func (s JobStage) String() string {
	if s == StageFinalise {
		return "finalise"
	}
	return "fill"
}

// SolverJob is one intent tracked by the solver from fill to claim
type SolverJob struct {
	ID      string
	OrderID common.Hash
	Intent  Intent
	// InputSettler is the escrow that opened the intent on the origin chain
	InputSettler common.Address
	Stage        JobStage
	// Params are the solve params recorded by the fill, one per output
	Params    []SolveParams
	CreatedAt time.Time
}

// DestinationChainID is the chain every output of the job is delivered on
func (j *SolverJob) DestinationChainID() uint64 {
	return j.Intent.DestinationChainID()
}

// RetryJob represents a job that needs to be retried
type RetryJob struct {
	Job         SolverJob
	RetryCount  int
	NextAttempt time.Time
	ErrorType   string // Type of error that caused the retry
}
