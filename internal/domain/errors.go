package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidSettlement envuelve toda violación de una regla. Siempre lleva
	// a bloquear al solver.
	ErrInvalidSettlement = errors.New("invalid settlement")

	// ErrWhitelistedSolver indica que los checks se saltaron a propósito.
	ErrWhitelistedSolver = errors.New("whitelisted solver")

	// ErrMissingOnchainData: el nodo aún no tiene la tx; recheck más tarde.
	ErrMissingOnchainData = errors.New("missing onchain data")

	ErrInvalidOrderKind   = errors.New("invalid order kind")
	ErrMissingNativePrice = errors.New("missing native price")
)

// Rule nombra uno de los checks de una settlement.
type Rule string

const (
	RuleSolver Rule = "solver"
	RuleOrders Rule = "orders"
	RuleScore  Rule = "score"
	RuleHooks  Rule = "hooks"
)

// Sub-checks de RuleOrders, en el orden en que se ejecutan.
const (
	SubCheckMapping = 1 // mismos order uids en ambos lados
	SubCheckAmounts = 2 // cantidades ejecutadas = propuestas
	SubCheckSurplus = 3 // surplus solo para órdenes de la subasta u owners JIT
)

// InvalidSettlementError describe qué regla falló y con qué evidencia.
type InvalidSettlementError struct {
	AuctionID int64
	TxHash    common.Hash
	Solver    common.Address

	Rule     Rule
	SubCheck int
	Reason   string

	OrderUIDs []OrderUID

	// diferencia de cantidades
	Field    string
	Onchain  *big.Int
	Offchain *big.Int

	// límites del score
	ComputedScore *big.Int
	ReportedScore *big.Int
	Delta         *big.Int // computado - reportado
}

func (e *InvalidSettlementError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid settlement: auction %d tx %s solver %s: %s check",
		e.AuctionID, e.TxHash.Hex(), e.Solver.Hex(), e.Rule)
	if e.SubCheck > 0 {
		fmt.Fprintf(&sb, " %d", e.SubCheck)
	}
	fmt.Fprintf(&sb, ": %s", e.Reason)
	if len(e.OrderUIDs) > 0 {
		uids := make([]string, len(e.OrderUIDs))
		for i, uid := range e.OrderUIDs {
			uids[i] = uid.String()
		}
		fmt.Fprintf(&sb, " orders=[%s]", strings.Join(uids, ","))
	}
	if e.Field != "" {
		fmt.Fprintf(&sb, " field=%s onchain=%s offchain=%s", e.Field, e.Onchain, e.Offchain)
	}
	if e.ComputedScore != nil {
		fmt.Fprintf(&sb, " computed=%s reported=%s delta=%s", e.ComputedScore, e.ReportedScore, e.Delta)
	}
	return sb.String()
}

func (e *InvalidSettlementError) Unwrap() error { return ErrInvalidSettlement }

// WhitelistedSolverError es una señal de control, no un fallo.
type WhitelistedSolverError struct {
	TxHash common.Hash
	Solver common.Address
}

func (e *WhitelistedSolverError) Error() string {
	return fmt.Sprintf("whitelisted solver %s: skipping checks for tx %s", e.Solver.Hex(), e.TxHash.Hex())
}

func (e *WhitelistedSolverError) Unwrap() error { return ErrWhitelistedSolver }

// NoncriticalDataFetchingError: si Recheck está activo, se reintenta más tarde.
type NoncriticalDataFetchingError struct {
	Msg     string
	Recheck bool
	Err     error
}

func (e *NoncriticalDataFetchingError) Error() string {
	msg := fmt.Sprintf("%s [recheck=%t]", e.Msg, e.Recheck)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NoncriticalDataFetchingError) Unwrap() error { return e.Err }

// CriticalDataFetchingError requiere atención inmediata; nunca se reintenta.
type CriticalDataFetchingError struct {
	Msg    string
	Solver common.Address
	Err    error
}

func (e *CriticalDataFetchingError) Error() string {
	msg := fmt.Sprintf("%s [solver=%s]", e.Msg, e.Solver.Hex())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CriticalDataFetchingError) Unwrap() error { return e.Err }

// Retryable indica si un error de fetch se debe reintentar antes de inspeccionar.
func Retryable(err error) bool {
	if errors.Is(err, ErrMissingOnchainData) {
		return true
	}
	var nc *NoncriticalDataFetchingError
	return errors.As(err, &nc) && nc.Recheck
}
