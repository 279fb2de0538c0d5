// Package inspector contrasta una settlement tal como se ejecutó onchain con la
// solución ganadora registrada offchain.
//
// Los checks corren en orden fijo (solver, orders, score, hooks) y se detienen
// en el primero que no pasa. Cada check también se puede llamar por separado.
package inspector

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

// TeamMultisig liquida en nombre del equipo del protocolo y está exento de los checks.
var TeamMultisig = common.HexToAddress("0x423cec87f19f0778f549846e0801ee267a917935")

// Tolerancias del score en átomos nativos, delta = computed - reported.
var (
	ScoreUpperThreshold = big.NewInt(1_000_000_000_000) // 10^12
	ScoreLowerThreshold = big.NewInt(100_000_000_000)   // 10^11
)

// Inspector ejecuta los checks. Es seguro para uso concurrente.
type Inspector struct {
	whitelist mapset.Set[common.Address]
	logger    *slog.Logger
}

// Option configura un Inspector.
type Option func(*Inspector)

// WithWhitelist reemplaza la whitelist por defecto (TeamMultisig).
func WithWhitelist(solvers ...common.Address) Option {
	return func(i *Inspector) {
		i.whitelist = mapset.NewSet(solvers...)
	}
}

// WithLogger fija el logger; si no, slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Inspector) {
		i.logger = l
	}
}

// New crea un Inspector.
func New(opts ...Option) *Inspector {
	i := &Inspector{
		whitelist: mapset.NewSet(TeamMultisig),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Verdict es el estado final de una inspección.
type Verdict struct {
	Stage   domain.Stage   // última etapa alcanzada
	Outcome domain.Outcome
	Err     error // nil si pasó
}

type step struct {
	rule  domain.Rule
	next  domain.Stage
	check func(domain.OnchainSettlementData, domain.OffchainSettlementData) error
}

// Evaluate ejecuta todos los checks e informa dónde y por qué se detuvo.
// Un solver de la whitelist se salta antes de mirar los snapshots.
func (i *Inspector) Evaluate(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) Verdict {
	i.logger.Info("checking auction", "auction_id", onchain.AuctionID, "tx_hash", onchain.TxHash.Hex())

	v := Verdict{Stage: domain.StageNotStarted}
	if err := i.whitelisted(onchain); err != nil {
		v.Outcome, v.Err = domain.OutcomeSkipped, err
		return v
	}
	if err := validate(onchain, offchain); err != nil {
		v.Outcome, v.Err = domain.OutcomeError, fmt.Errorf("inspector: %w", err)
		return v
	}

	steps := []step{
		{domain.RuleSolver, domain.StageSolverChecked, i.CheckSolver},
		{domain.RuleOrders, domain.StageOrdersChecked, i.checkOrders},
		{domain.RuleScore, domain.StageScoreChecked, i.checkScore},
		{domain.RuleHooks, domain.StageHooksChecked, i.CheckHooks},
	}
	for _, s := range steps {
		if err := s.check(onchain, offchain); err != nil {
			v.Err = err
			switch {
			case errors.Is(err, domain.ErrWhitelistedSolver):
				v.Outcome = domain.OutcomeSkipped
			case errors.Is(err, domain.ErrInvalidSettlement):
				v.Outcome = domain.OutcomeFailed
			default:
				v.Outcome = domain.OutcomeError
				v.Err = fmt.Errorf("inspector: %s check: %w", s.rule, err)
			}
			return v
		}
		v.Stage = s.next
	}

	v.Stage, v.Outcome = domain.StageDone, domain.OutcomePassed
	i.logger.Info("auction passed all checks", "auction_id", onchain.AuctionID)
	return v
}

// IsWhitelisted indica si solver está exento de los checks. Solo depende del
// dato onchain, así que el monitor puede consultarlo antes de pedir el offchain.
func (i *Inspector) IsWhitelisted(solver common.Address) bool {
	return i.whitelist.Contains(solver)
}

func (i *Inspector) whitelisted(onchain domain.OnchainSettlementData) error {
	if !i.IsWhitelisted(onchain.Solver) {
		return nil
	}
	i.logger.Info("whitelisted solver, skipping checks",
		"tx_hash", onchain.TxHash.Hex(),
		"solver", onchain.Solver.Hex(),
	)
	return &domain.WhitelistedSolverError{TxHash: onchain.TxHash, Solver: onchain.Solver}
}

func validate(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) error {
	if err := onchain.Validate(); err != nil {
		return fmt.Errorf("malformed onchain data: %w", err)
	}
	if err := offchain.Validate(); err != nil {
		return fmt.Errorf("malformed offchain data: %w", err)
	}
	return nil
}

// Inspect devuelve nil si la settlement pasa, *domain.InvalidSettlementError si
// falla una regla, *domain.WhitelistedSolverError si se saltaron los checks, o
// un error normal si los datos están mal formados.
func (i *Inspector) Inspect(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) error {
	return i.Evaluate(onchain, offchain).Err
}

func invalid(onchain domain.OnchainSettlementData, rule domain.Rule, subCheck int, reason string) *domain.InvalidSettlementError {
	return &domain.InvalidSettlementError{
		AuctionID: onchain.AuctionID,
		TxHash:    onchain.TxHash,
		Solver:    onchain.Solver,
		Rule:      rule,
		SubCheck:  subCheck,
		Reason:    reason,
	}
}
