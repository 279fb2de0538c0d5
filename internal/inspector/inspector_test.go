package inspector_test

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
	"github.com/alejandrodnm/circuitbreaker/internal/inspector"
)

var (
	solver    = common.HexToAddress("0x5010e7")
	otherOne  = common.HexToAddress("0x0badd1")
	owner     = common.HexToAddress("0x12")
	jitOwner  = common.HexToAddress("0x11")
	sellToken = common.HexToAddress("0xaa")
	buyToken  = common.HexToAddress("0xbb")
	txHash    = common.HexToHash("0xfeed")
)

func uid(b byte) domain.OrderUID { return domain.BytesToOrderUID([]byte{b}) }

func bi(v int64) *big.Int { return big.NewInt(v) }

func pow10(n int64) *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil) }

func quietInspector(opts ...inspector.Option) *inspector.Inspector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return inspector.New(append([]inspector.Option{inspector.WithLogger(logger)}, opts...)...)
}

// executedTrade is a sell order whose limit equals the executed sell amount,
// so surplus is exactly buy - limitBuy.
func executedTrade(id byte, who common.Address, sell, buy, surplus *big.Int) domain.OnchainTrade {
	return domain.OnchainTrade{
		OrderUID:        uid(id),
		SellAmount:      sell,
		BuyAmount:       buy,
		Owner:           who,
		SellToken:       sellToken,
		BuyToken:        buyToken,
		LimitSellAmount: sell,
		LimitBuyAmount:  new(big.Int).Sub(buy, surplus),
		Kind:            domain.KindSell,
	}
}

func proposed(t domain.OnchainTrade) domain.OffchainTrade {
	return domain.OffchainTrade{OrderUID: t.OrderUID, SellAmount: t.SellAmount, BuyAmount: t.BuyAmount}
}

// settlement builds a consistent pair: one trade with the given surplus, native
// price 1:1 so the computed score equals the surplus, reported score = score.
func settlement(surplus, score *big.Int) (domain.OnchainSettlementData, domain.OffchainSettlementData) {
	trade := executedTrade(1, owner, pow10(18), new(big.Int).Add(pow10(18), surplus), surplus)
	onchain := domain.OnchainSettlementData{
		AuctionID: 7,
		TxHash:    txHash,
		Solver:    solver,
		Trades:    []domain.OnchainTrade{trade},
	}
	offchain := domain.OffchainSettlementData{
		AuctionID:         7,
		Solver:            solver,
		Trades:            []domain.OffchainTrade{proposed(trade)},
		Score:             score,
		ValidOrders:       mapset.NewSet(trade.OrderUID),
		JITOrderAddresses: mapset.NewSet[common.Address](),
		NativePrices:      map[common.Address]*big.Int{buyToken: domain.NativeTokenPrice},
	}
	return onchain, offchain
}

func requireInvalid(t *testing.T, err error, rule domain.Rule, subCheck int) *domain.InvalidSettlementError {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidSettlement)
	var invalid *domain.InvalidSettlementError
	require.True(t, errors.As(err, &invalid), "want *InvalidSettlementError, got %T", err)
	assert.Equal(t, rule, invalid.Rule)
	assert.Equal(t, subCheck, invalid.SubCheck)
	assert.Equal(t, txHash, invalid.TxHash)
	return invalid
}

// --- solver ---

func TestCheckSolver(t *testing.T) {
	insp := quietInspector()

	onchain, offchain := settlement(bi(0), bi(0))
	assert.NoError(t, insp.CheckSolver(onchain, offchain))

	offchain.Solver = otherOne
	err := insp.CheckSolver(onchain, offchain)
	invalid := requireInvalid(t, err, domain.RuleSolver, 0)
	assert.Equal(t, solver, invalid.Solver)
	assert.Contains(t, err.Error(), otherOne.Hex())
}

func TestCheckSolver_Whitelisted(t *testing.T) {
	onchain, offchain := settlement(bi(0), bi(0))
	onchain.Solver = inspector.TeamMultisig
	offchain.Solver = otherOne

	err := quietInspector().CheckSolver(onchain, offchain)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrWhitelistedSolver)
	assert.NotErrorIs(t, err, domain.ErrInvalidSettlement)

	var wl *domain.WhitelistedSolverError
	require.ErrorAs(t, err, &wl)
	assert.Equal(t, inspector.TeamMultisig, wl.Solver)
}

func TestCheckSolver_CustomWhitelist(t *testing.T) {
	onchain, offchain := settlement(bi(0), bi(0))
	insp := quietInspector(inspector.WithWhitelist(solver))
	assert.ErrorIs(t, insp.CheckSolver(onchain, offchain), domain.ErrWhitelistedSolver)

	onchain.Solver = inspector.TeamMultisig
	offchain.Solver = inspector.TeamMultisig
	assert.NoError(t, insp.CheckSolver(onchain, offchain), "default whitelist replaced")
}

func TestIsWhitelisted(t *testing.T) {
	assert.True(t, quietInspector().IsWhitelisted(inspector.TeamMultisig))
	assert.False(t, quietInspector().IsWhitelisted(solver))
	assert.True(t, quietInspector(inspector.WithWhitelist(solver)).IsWhitelisted(solver))
}

// --- orders ---

func TestCheckOrders(t *testing.T) {
	sell, buy := pow10(25), new(big.Int).Mul(bi(99), pow10(25))
	regular := func(id byte, surplus int64) domain.OnchainTrade {
		return executedTrade(id, owner, sell, buy, bi(surplus))
	}
	jit := func(id byte, who common.Address, surplus int64) domain.OnchainTrade {
		return executedTrade(id, who, sell, buy, bi(surplus))
	}
	withBuy := func(t domain.OffchainTrade, delta int64) domain.OffchainTrade {
		t.BuyAmount = new(big.Int).Add(t.BuyAmount, bi(delta))
		return t
	}
	withSell := func(t domain.OffchainTrade, delta int64) domain.OffchainTrade {
		t.SellAmount = new(big.Int).Add(t.SellAmount, bi(delta))
		return t
	}
	threeTrades := []domain.OnchainTrade{regular(1, 100), regular(2, 200), regular(3, 50)}

	tests := []struct {
		name     string
		onchain  []domain.OnchainTrade
		offchain []domain.OffchainTrade
		valid    []domain.OrderUID
		subCheck int // 0 = pass
	}{
		{"jit order zero surplus not revealed", []domain.OnchainTrade{jit(1, owner, 0)}, nil, nil, domain.SubCheckMapping},
		{"jit order zero surplus revealed", []domain.OnchainTrade{jit(1, owner, 0)}, []domain.OffchainTrade{proposed(jit(1, owner, 0))}, nil, 0},
		{"jit order nonzero surplus not revealed", []domain.OnchainTrade{jit(1, owner, 1)}, nil, nil, domain.SubCheckMapping},
		{"whitelisted jit owner with surplus", []domain.OnchainTrade{jit(1, jitOwner, 1)}, []domain.OffchainTrade{proposed(jit(1, jitOwner, 1))}, nil, 0},
		{"regular order matching amounts", []domain.OnchainTrade{regular(1, 1)}, []domain.OffchainTrade{proposed(regular(1, 1))}, []domain.OrderUID{uid(1)}, 0},
		{"mismatched buy amount", []domain.OnchainTrade{regular(1, 1)}, []domain.OffchainTrade{withBuy(proposed(regular(1, 1)), 1)}, []domain.OrderUID{uid(1)}, domain.SubCheckAmounts},
		{"mismatched sell amount", []domain.OnchainTrade{regular(1, 1)}, []domain.OffchainTrade{withSell(proposed(regular(1, 1)), 1)}, []domain.OrderUID{uid(1)}, domain.SubCheckAmounts},
		{"more executed than proposed", []domain.OnchainTrade{regular(1, 0), regular(2, 0)}, []domain.OffchainTrade{proposed(regular(1, 0))}, []domain.OrderUID{uid(1)}, domain.SubCheckMapping},
		{"more proposed than executed", []domain.OnchainTrade{regular(1, 0)}, []domain.OffchainTrade{proposed(regular(1, 0)), proposed(regular(2, 0))}, []domain.OrderUID{uid(1)}, domain.SubCheckMapping},
		{"executed not in proposed", []domain.OnchainTrade{regular(2, 0)}, []domain.OffchainTrade{proposed(regular(1, 0))}, []domain.OrderUID{uid(1)}, domain.SubCheckMapping},
		{"proposed not in executed", []domain.OnchainTrade{regular(1, 0)}, []domain.OffchainTrade{proposed(regular(2, 0))}, []domain.OrderUID{uid(1)}, domain.SubCheckMapping},
		{"multiple trades matching", threeTrades, []domain.OffchainTrade{proposed(threeTrades[2]), proposed(threeTrades[0]), proposed(threeTrades[1])}, []domain.OrderUID{uid(1), uid(2), uid(3)}, 0},
		{"empty trades both sides", nil, nil, nil, 0},
		{"surplus outside auction", []domain.OnchainTrade{regular(1, 1)}, []domain.OffchainTrade{proposed(regular(1, 1))}, nil, domain.SubCheckSurplus},
		{"negative surplus outside auction", []domain.OnchainTrade{regular(1, -1)}, []domain.OffchainTrade{proposed(regular(1, -1))}, nil, 0},
		{"duplicate executed order", []domain.OnchainTrade{regular(1, 0), regular(1, 0)}, []domain.OffchainTrade{proposed(regular(1, 0))}, []domain.OrderUID{uid(1)}, domain.SubCheckMapping},
	}
	insp := quietInspector()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			onchain := domain.OnchainSettlementData{TxHash: txHash, Solver: solver, Trades: tc.onchain}
			offchain := domain.OffchainSettlementData{
				Solver:            solver,
				Trades:            tc.offchain,
				ValidOrders:       mapset.NewSet(tc.valid...),
				JITOrderAddresses: mapset.NewSet(jitOwner),
			}
			err := insp.CheckOrders(onchain, offchain)
			if tc.subCheck == 0 {
				assert.NoError(t, err)
				return
			}
			requireInvalid(t, err, domain.RuleOrders, tc.subCheck)
		})
	}
}

func TestCheckOrders_AmountMismatchEvidence(t *testing.T) {
	trade := executedTrade(9, owner, bi(1_000_000), bi(2_000_000), bi(0))
	offTrade := proposed(trade)
	offTrade.BuyAmount = bi(1_999_999)

	onchain := domain.OnchainSettlementData{TxHash: txHash, Trades: []domain.OnchainTrade{trade}}
	offchain := domain.OffchainSettlementData{Trades: []domain.OffchainTrade{offTrade}}

	err := quietInspector().CheckOrders(onchain, offchain)
	invalid := requireInvalid(t, err, domain.RuleOrders, domain.SubCheckAmounts)
	assert.Equal(t, "buy_amount", invalid.Field)
	assert.Equal(t, []domain.OrderUID{uid(9)}, invalid.OrderUIDs)
	assert.Equal(t, "2000000", invalid.Onchain.String())
	assert.Equal(t, "1999999", invalid.Offchain.String())
	assert.Equal(t, "1", new(big.Int).Sub(invalid.Onchain, invalid.Offchain).String())
	assert.Contains(t, err.Error(), "field=buy_amount")
}

func TestCheckOrders_MappingEvidence(t *testing.T) {
	undisclosed := executedTrade(2, owner, bi(10), bi(10), bi(0))
	promised := executedTrade(3, owner, bi(10), bi(10), bi(0))

	onchain := domain.OnchainSettlementData{TxHash: txHash, Trades: []domain.OnchainTrade{undisclosed}}
	offchain := domain.OffchainSettlementData{Trades: []domain.OffchainTrade{proposed(promised)}}

	err := quietInspector().CheckOrders(onchain, offchain)
	invalid := requireInvalid(t, err, domain.RuleOrders, domain.SubCheckMapping)
	assert.Equal(t, []domain.OrderUID{uid(2), uid(3)}, invalid.OrderUIDs)
}

func TestCheckOrders_NilSetsTreatedAsEmpty(t *testing.T) {
	trade := executedTrade(1, owner, bi(10), bi(11), bi(1))
	onchain := domain.OnchainSettlementData{TxHash: txHash, Trades: []domain.OnchainTrade{trade}}
	offchain := domain.OffchainSettlementData{Trades: []domain.OffchainTrade{proposed(trade)}}

	requireInvalid(t, quietInspector().CheckOrders(onchain, offchain), domain.RuleOrders, domain.SubCheckSurplus)
}

// --- score ---

func TestCheckScore_Thresholds(t *testing.T) {
	reported := new(big.Int).Mul(bi(100), pow10(15)) // 100_000_000_000_000_000

	tests := []struct {
		name  string
		delta *big.Int
		pass  bool
	}{
		{"equal", bi(0), true},
		{"one above", bi(1), true},
		{"one below", bi(-1), true},
		{"upper boundary", pow10(12), true},
		{"one past upper boundary", new(big.Int).Add(pow10(12), bi(1)), false},
		{"lower boundary", new(big.Int).Neg(pow10(11)), true},
		{"one past lower boundary", new(big.Int).Neg(new(big.Int).Add(pow10(11), bi(1))), false},
		{"far below", new(big.Int).Neg(pow10(16)), false},
	}
	insp := quietInspector()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			computed := new(big.Int).Add(reported, tc.delta)
			onchain, offchain := settlement(computed, reported)

			err := insp.CheckScore(onchain, offchain)
			if tc.pass {
				assert.NoError(t, err)
				return
			}
			invalid := requireInvalid(t, err, domain.RuleScore, 0)
			assert.Equal(t, computed.String(), invalid.ComputedScore.String())
			assert.Equal(t, reported.String(), invalid.ReportedScore.String())
			assert.Equal(t, tc.delta.String(), invalid.Delta.String())
		})
	}
}

func TestChecks_MalformedInputIsAnError(t *testing.T) {
	insp := quietInspector()

	onchain, offchain := settlement(bi(5), bi(5))
	offchain.Score = nil
	var err error
	require.NotPanics(t, func() { err = insp.CheckScore(onchain, offchain) })
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidSettlement)
	assert.ErrorContains(t, err, "missing score")

	onchain, offchain = settlement(bi(5), bi(5))
	onchain.Trades[0].SellAmount = nil
	require.NotPanics(t, func() { err = insp.CheckOrders(onchain, offchain) })
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrInvalidSettlement)
	assert.ErrorContains(t, err, "malformed onchain data")

	onchain, offchain = settlement(bi(5), bi(5))
	offchain.Trades[0].BuyAmount = nil
	require.NotPanics(t, func() { err = insp.CheckOrders(onchain, offchain) })
	assert.ErrorContains(t, err, "malformed offchain data")
}

func TestCheckScore_MissingNativePrice(t *testing.T) {
	onchain, offchain := settlement(bi(5), bi(5))
	offchain.NativePrices = nil

	err := quietInspector().CheckScore(onchain, offchain)
	assert.ErrorIs(t, err, domain.ErrMissingNativePrice)
	assert.NotErrorIs(t, err, domain.ErrInvalidSettlement)
}

// --- hooks ---

func TestCheckHooks(t *testing.T) {
	target := common.HexToAddress("0x4004")
	required := domain.Hook{Target: target, CallData: []byte{0xde, 0xad}, GasLimit: 50_000}
	executed := func(phase domain.HookPhase, gas uint64, data ...byte) domain.ExecutedHook {
		return domain.ExecutedHook{Phase: phase, Hook: domain.Hook{Target: target, CallData: data, GasLimit: gas}}
	}

	tests := []struct {
		name     string
		hooks    domain.OrderHooks
		executed []domain.ExecutedHook
		pass     bool
	}{
		{"pre-hook executed", domain.OrderHooks{Pre: []domain.Hook{required}}, []domain.ExecutedHook{executed(domain.HookPre, 60_000, 0xde, 0xad)}, true},
		{"post-hook executed with unknown gas", domain.OrderHooks{Post: []domain.Hook{required}}, []domain.ExecutedHook{executed(domain.HookPost, 0, 0xde, 0xad)}, true},
		{"pre-hook insufficient gas", domain.OrderHooks{Pre: []domain.Hook{required}}, []domain.ExecutedHook{executed(domain.HookPre, 49_999, 0xde, 0xad)}, false},
		{"pre-hook wrong phase", domain.OrderHooks{Pre: []domain.Hook{required}}, []domain.ExecutedHook{executed(domain.HookPost, 60_000, 0xde, 0xad)}, false},
		{"post-hook wrong calldata", domain.OrderHooks{Post: []domain.Hook{required}}, []domain.ExecutedHook{executed(domain.HookPost, 60_000, 0xbe, 0xef)}, false},
		{"no executed hooks", domain.OrderHooks{Pre: []domain.Hook{required}}, nil, true},
	}
	insp := quietInspector()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			onchain, offchain := settlement(bi(0), bi(0))
			onchain.ExecutedHooks = tc.executed
			offchain.OrderHooks = map[domain.OrderUID]domain.OrderHooks{uid(1): tc.hooks}

			err := insp.CheckHooks(onchain, offchain)
			if tc.pass {
				assert.NoError(t, err)
				return
			}
			invalid := requireInvalid(t, err, domain.RuleHooks, 0)
			assert.Equal(t, []domain.OrderUID{uid(1)}, invalid.OrderUIDs)
		})
	}
}

// --- orchestration ---

func TestEvaluate(t *testing.T) {
	score := new(big.Int).Mul(bi(3), pow10(16))

	tests := []struct {
		name    string
		mutate  func(*domain.OnchainSettlementData, *domain.OffchainSettlementData)
		outcome domain.Outcome
		stage   domain.Stage
		rule    domain.Rule
	}{
		{"consistent settlement", func(*domain.OnchainSettlementData, *domain.OffchainSettlementData) {}, domain.OutcomePassed, domain.StageDone, ""},
		{"wrong solver", func(_ *domain.OnchainSettlementData, off *domain.OffchainSettlementData) {
			off.Solver = otherOne
		}, domain.OutcomeFailed, domain.StageNotStarted, domain.RuleSolver},
		{"whitelisted solver", func(on *domain.OnchainSettlementData, _ *domain.OffchainSettlementData) {
			on.Solver = inspector.TeamMultisig
		}, domain.OutcomeSkipped, domain.StageNotStarted, ""},
		{"undisclosed order", func(_ *domain.OnchainSettlementData, off *domain.OffchainSettlementData) {
			off.Trades = nil
		}, domain.OutcomeFailed, domain.StageSolverChecked, domain.RuleOrders},
		{"over-reported score", func(_ *domain.OnchainSettlementData, off *domain.OffchainSettlementData) {
			off.Score = new(big.Int).Add(score, pow10(15))
		}, domain.OutcomeFailed, domain.StageOrdersChecked, domain.RuleScore},
		{"missing native price", func(_ *domain.OnchainSettlementData, off *domain.OffchainSettlementData) {
			off.NativePrices = map[common.Address]*big.Int{}
		}, domain.OutcomeError, domain.StageOrdersChecked, ""},
		{"malformed trade", func(on *domain.OnchainSettlementData, _ *domain.OffchainSettlementData) {
			on.Trades[0].Kind = "limit"
		}, domain.OutcomeError, domain.StageNotStarted, ""},
		{"missing score", func(_ *domain.OnchainSettlementData, off *domain.OffchainSettlementData) {
			off.Score = nil
		}, domain.OutcomeError, domain.StageNotStarted, ""},
	}
	insp := quietInspector()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			onchain, offchain := settlement(score, score)
			tc.mutate(&onchain, &offchain)

			v := insp.Evaluate(onchain, offchain)
			assert.Equal(t, tc.outcome, v.Outcome)
			assert.Equal(t, tc.stage, v.Stage)
			if tc.outcome == domain.OutcomePassed {
				assert.NoError(t, v.Err)
				return
			}
			require.Error(t, v.Err)
			if tc.rule != "" {
				var invalid *domain.InvalidSettlementError
				require.ErrorAs(t, v.Err, &invalid)
				assert.Equal(t, tc.rule, invalid.Rule)
			}
		})
	}
}

func TestEvaluate_WhitelistedBeforeValidation(t *testing.T) {
	onchain, offchain := settlement(bi(0), bi(0))
	onchain.Solver = inspector.TeamMultisig
	offchain.Score = nil
	offchain.Solver = common.Address{}
	offchain.Trades = nil

	v := quietInspector().Evaluate(onchain, offchain)
	assert.Equal(t, domain.OutcomeSkipped, v.Outcome)
	assert.Equal(t, domain.StageNotStarted, v.Stage)
	assert.ErrorIs(t, v.Err, domain.ErrWhitelistedSolver)

	onchain.Trades[0].Kind = "limit"
	assert.Equal(t, domain.OutcomeSkipped, quietInspector().Evaluate(onchain, offchain).Outcome)
}

func TestEvaluate_FailedHookAfterScore(t *testing.T) {
	onchain, offchain := settlement(bi(0), bi(0))
	onchain.ExecutedHooks = []domain.ExecutedHook{{Phase: domain.HookPost, Hook: domain.Hook{Target: otherOne}}}
	offchain.OrderHooks = map[domain.OrderUID]domain.OrderHooks{uid(1): {Pre: []domain.Hook{{Target: otherOne}}}}

	v := quietInspector().Evaluate(onchain, offchain)
	assert.Equal(t, domain.OutcomeFailed, v.Outcome)
	assert.Equal(t, domain.StageScoreChecked, v.Stage)
}

func TestInspect(t *testing.T) {
	onchain, offchain := settlement(pow10(17), pow10(17))
	assert.NoError(t, quietInspector().Inspect(onchain, offchain))

	offchain.Solver = otherOne
	assert.ErrorIs(t, quietInspector().Inspect(onchain, offchain), domain.ErrInvalidSettlement)
}

func TestEvaluate_ConcurrentCalls(t *testing.T) {
	insp := quietInspector()
	var wg sync.WaitGroup
	results := make([]domain.Outcome, 32)
	for n := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			onchain, offchain := settlement(bi(int64(n)), bi(int64(n)))
			if n%2 == 1 {
				offchain.Solver = otherOne
			}
			results[n] = insp.Evaluate(onchain, offchain).Outcome
		}()
	}
	wg.Wait()

	for n, outcome := range results {
		if n%2 == 1 {
			assert.Equal(t, domain.OutcomeFailed, outcome, "settlement %d", n)
		} else {
			assert.Equal(t, domain.OutcomePassed, outcome, "settlement %d", n)
		}
	}
}
