package inspector

import (
	"bytes"
	"fmt"
	"maps"
	"math/big"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

// CheckSolver verifica que la settlement la envió el solver ganador.
// Un solver de la whitelist corta con *domain.WhitelistedSolverError.
func (i *Inspector) CheckSolver(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) error {
	if err := i.whitelisted(onchain); err != nil {
		return err
	}
	if onchain.Solver != offchain.Solver {
		i.logger.Error("settlement not executed by winning solver",
			"tx_hash", onchain.TxHash.Hex(),
			"solver_onchain", onchain.Solver.Hex(),
			"solver_offchain", offchain.Solver.Hex(),
		)
		return invalid(onchain, domain.RuleSolver, 0,
			fmt.Sprintf("settlement not executed by winning solver %s", offchain.Solver.Hex()))
	}
	return nil
}

// CheckOrders verifica, en este orden:
//  1. trades ejecutados y propuestos tienen los mismos order uids, JIT incluidas
//  2. las cantidades ejecutadas son las propuestas
//  3. los trades con surplus positivo son de la subasta o de un owner JIT
//
// Los snapshots se validan primero; un dato incompleto es un error normal,
// nunca un *domain.InvalidSettlementError.
func (i *Inspector) CheckOrders(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) error {
	if err := validate(onchain, offchain); err != nil {
		return fmt.Errorf("inspector: %w", err)
	}
	return i.checkOrders(onchain, offchain)
}

func (i *Inspector) checkOrders(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) error {
	executed := make(map[domain.OrderUID]domain.OnchainTrade, len(onchain.Trades))
	executedUIDs := mapset.NewThreadUnsafeSet[domain.OrderUID]()
	var duplicates []domain.OrderUID
	for _, t := range onchain.Trades {
		if !executedUIDs.Add(t.OrderUID) {
			duplicates = append(duplicates, t.OrderUID)
		}
		executed[t.OrderUID] = t
	}
	proposedUIDs := mapset.NewThreadUnsafeSet[domain.OrderUID]()
	for _, t := range offchain.Trades {
		if !proposedUIDs.Add(t.OrderUID) {
			duplicates = append(duplicates, t.OrderUID)
		}
	}

	// 1. mapeo uno a uno
	if len(duplicates) > 0 {
		i.logger.Error("duplicate trades", "tx_hash", onchain.TxHash.Hex(), "orders", len(duplicates))
		err := invalid(onchain, domain.RuleOrders, domain.SubCheckMapping, "order executed or proposed more than once")
		err.OrderUIDs = domain.SortOrderUIDs(duplicates)
		return err
	}
	if !executedUIDs.Equal(proposedUIDs) {
		undisclosed := domain.SortOrderUIDs(executedUIDs.Difference(proposedUIDs).ToSlice())
		dropped := domain.SortOrderUIDs(proposedUIDs.Difference(executedUIDs).ToSlice())
		i.logger.Error("trades mismatch",
			"tx_hash", onchain.TxHash.Hex(),
			"onchain", executedUIDs.Cardinality(),
			"offchain", proposedUIDs.Cardinality(),
			"undisclosed", len(undisclosed),
			"dropped", len(dropped),
		)
		err := invalid(onchain, domain.RuleOrders, domain.SubCheckMapping,
			fmt.Sprintf("trades mismatch: %d executed but not proposed, %d proposed but not executed",
				len(undisclosed), len(dropped)))
		err.OrderUIDs = append(undisclosed, dropped...)
		return err
	}

	// 2. cantidades
	for _, proposed := range offchain.Trades {
		exec := executed[proposed.OrderUID]
		var (
			field   string
			on, off *big.Int
		)
		switch {
		case exec.SellAmount.Cmp(proposed.SellAmount) != 0:
			field, on, off = "sell_amount", exec.SellAmount, proposed.SellAmount
		case exec.BuyAmount.Cmp(proposed.BuyAmount) != 0:
			field, on, off = "buy_amount", exec.BuyAmount, proposed.BuyAmount
		default:
			continue
		}
		i.logger.Error("executed trade does not match revealed trade",
			"tx_hash", onchain.TxHash.Hex(),
			"order_uid", proposed.OrderUID.String(),
			"field", field,
			"onchain", on.String(),
			"offchain", off.String(),
		)
		err := invalid(onchain, domain.RuleOrders, domain.SubCheckAmounts,
			fmt.Sprintf("%s differs by %s", field, new(big.Int).Sub(on, off)))
		err.OrderUIDs = []domain.OrderUID{proposed.OrderUID}
		err.Field, err.Onchain, err.Offchain = field, on, off
		return err
	}

	// 3. quién puede tener surplus
	for _, t := range onchain.Trades {
		surplus, err := t.Surplus()
		if err != nil {
			return fmt.Errorf("surplus of %s: %w", t.OrderUID, err)
		}
		if surplus.Sign() <= 0 || offchain.IsValidOrder(t.OrderUID) || offchain.IsJITOwner(t.Owner) {
			continue
		}
		i.logger.Error("surplus for order outside auction and JIT whitelist",
			"tx_hash", onchain.TxHash.Hex(),
			"order_uid", t.OrderUID.String(),
			"owner", t.Owner.Hex(),
			"surplus", surplus.String(),
		)
		invalidErr := invalid(onchain, domain.RuleOrders, domain.SubCheckSurplus,
			fmt.Sprintf("surplus %s for order neither in auction nor owned by JIT whitelist", surplus))
		invalidErr.OrderUIDs = []domain.OrderUID{t.OrderUID}
		return invalidErr
	}
	return nil
}

// CheckScore recalcula el score con los trades ejecutados y falla salvo que
// reported - ScoreLowerThreshold <= computed <= reported + ScoreUpperThreshold.
// Valida los snapshots igual que CheckOrders.
func (i *Inspector) CheckScore(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) error {
	if err := validate(onchain, offchain); err != nil {
		return fmt.Errorf("inspector: %w", err)
	}
	return i.checkScore(onchain, offchain)
}

func (i *Inspector) checkScore(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) error {
	computed, err := domain.ComputeScore(onchain, offchain)
	if err != nil {
		return err
	}
	reported := offchain.Score
	delta := new(big.Int).Sub(computed, reported)

	i.logger.Debug("score check",
		"tx_hash", onchain.TxHash.Hex(),
		"reported", reported.String(),
		"computed", computed.String(),
		"delta", delta.String(),
	)

	var reason string
	switch {
	case delta.Cmp(ScoreUpperThreshold) > 0:
		reason = "computed score exceeds reported score beyond tolerance"
	case new(big.Int).Neg(delta).Cmp(ScoreLowerThreshold) > 0:
		reason = "computed score smaller than score reported in competition"
	default:
		return nil
	}

	i.logger.Error(reason,
		"tx_hash", onchain.TxHash.Hex(),
		"reported", reported.String(),
		"computed", computed.String(),
		"delta", delta.String(),
	)
	invalidErr := invalid(onchain, domain.RuleScore, 0, reason)
	invalidErr.ComputedScore, invalidErr.ReportedScore, invalidErr.Delta = computed, reported, delta
	return invalidErr
}

// CheckHooks verifica que cada pre- y post-hook de una orden se intentó con el
// target y calldata prometidos, y con al menos el gas prometido cuando se
// conoce el gas reenviado. Sin hooks en alguno de los lados, pasa.
func (i *Inspector) CheckHooks(onchain domain.OnchainSettlementData, offchain domain.OffchainSettlementData) error {
	if len(offchain.OrderHooks) == 0 || len(onchain.ExecutedHooks) == 0 {
		return nil
	}

	uids := domain.SortOrderUIDs(slices.Collect(maps.Keys(offchain.OrderHooks)))
	for _, uid := range uids {
		hooks := offchain.OrderHooks[uid]
		for _, phase := range []struct {
			phase domain.HookPhase
			hooks []domain.Hook
		}{
			{domain.HookPre, hooks.Pre},
			{domain.HookPost, hooks.Post},
		} {
			for _, required := range phase.hooks {
				if err := i.checkHook(onchain, uid, phase.phase, required); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (i *Inspector) checkHook(onchain domain.OnchainSettlementData, uid domain.OrderUID, phase domain.HookPhase, required domain.Hook) error {
	for _, executed := range onchain.ExecutedHooks {
		if executed.Phase != phase || executed.Target != required.Target || !bytes.Equal(executed.CallData, required.CallData) {
			continue
		}
		if executed.GasLimit != 0 && executed.GasLimit < required.GasLimit {
			i.logger.Error("hook executed with insufficient gas",
				"tx_hash", onchain.TxHash.Hex(),
				"order_uid", uid.String(),
				"phase", string(phase),
				"target", required.Target.Hex(),
				"required_gas", required.GasLimit,
				"provided_gas", executed.GasLimit,
			)
			err := invalid(onchain, domain.RuleHooks, 0,
				fmt.Sprintf("%s-hook to %s has insufficient gas: required %d, provided %d",
					phase, required.Target.Hex(), required.GasLimit, executed.GasLimit))
			err.OrderUIDs = []domain.OrderUID{uid}
			return err
		}
		return nil
	}

	i.logger.Error("hook not executed",
		"tx_hash", onchain.TxHash.Hex(),
		"order_uid", uid.String(),
		"phase", string(phase),
		"target", required.Target.Hex(),
	)
	err := invalid(onchain, domain.RuleHooks, 0,
		fmt.Sprintf("%s-hook to %s not executed", phase, required.Target.Hex()))
	err.OrderUIDs = []domain.OrderUID{uid}
	return err
}
