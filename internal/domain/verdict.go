package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Stage es hasta dónde llegó la inspección de una settlement.
type Stage int

const (
	StageNotStarted Stage = iota
	StageSolverChecked
	StageOrdersChecked
	StageScoreChecked
	StageHooksChecked
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageNotStarted:
		return "not_started"
	case StageSolverChecked:
		return "solver_checked"
	case StageOrdersChecked:
		return "orders_checked"
	case StageScoreChecked:
		return "score_checked"
	case StageHooksChecked:
		return "hooks_checked"
	case StageDone:
		return "done"
	}
	return "unknown"
}

// Outcome es el estado final de una inspección.
type Outcome string

const (
	OutcomePassed  Outcome = "PASSED"
	OutcomeFailed  Outcome = "FAILED"  // InvalidSettlement, solver a la blacklist
	OutcomeSkipped Outcome = "SKIPPED" // solver en la whitelist
	OutcomeError   Outcome = "ERROR"   // datos inaccesibles o mal formados
)

// VerdictRecord es lo que el monitor guarda de cada tx inspeccionada.
type VerdictRecord struct {
	ID        string
	TxHash    common.Hash
	AuctionID int64
	Solver    common.Address
	Outcome   Outcome
	Stage     Stage
	Rule      Rule
	Reason    string
	Attempts  int
	CheckedAt time.Time

	// Recheck marca un ERROR por un fetch reintentable. No se persiste; Watch
	// lo usa para volver a intentar la tx en otra pasada.
	Recheck bool
}

// BlacklistEntry guarda la settlement que llevó al solver a la blacklist.
type BlacklistEntry struct {
	Solver        common.Address
	TxHash        common.Hash
	Reason        string
	BlacklistedAt time.Time
}
