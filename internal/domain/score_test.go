package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeScore(t *testing.T) {
	price := bs("3000000000000000000")

	tests := []struct {
		name  string
		trade OnchainTrade
		want  *big.Int
	}{
		{
			// raw surplus 2e19 buy token atoms * 3
			name: "sell order surplus in buy token",
			trade: makeTrade(KindSell, bs("100000000000000000000"), bs("20000000010000000000"),
				bs("100000000000000000000"), bi(10_000_000_000)),
			want: bs("60000000000000000000"),
		},
		{
			// raw surplus 2e19 sell token atoms -> 2e9 buy token atoms at the limit price, * 3
			name: "buy order surplus in sell token",
			trade: makeTrade(KindBuy, bs("80000000000000000000"), bi(10_000_000_000),
				bs("100000000000000000000"), bi(10_000_000_000)),
			want: bi(6_000_000_000),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			onchain := OnchainSettlementData{Trades: []OnchainTrade{tc.trade}}
			offchain := OffchainSettlementData{
				NativePrices: map[common.Address]*big.Int{tc.trade.BuyToken: price},
			}
			got, err := ComputeScore(onchain, offchain)
			require.NoError(t, err)
			assertBig(t, tc.want, got)
		})
	}
}

func TestComputeScore_AddsBackProtocolFees(t *testing.T) {
	trade := makeTrade(KindSell, bi(100), bi(5400), bi(100), bi(5000))
	onchain := OnchainSettlementData{Trades: []OnchainTrade{trade}}
	offchain := OffchainSettlementData{
		TradeFeePolicies: map[OrderUID][]FeePolicy{
			trade.OrderUID: {NewVolumeFeePolicy(big.NewRat(1, 10))},
		},
		NativePrices: map[common.Address]*big.Int{trade.BuyToken: NativeTokenPrice},
	}

	got, err := ComputeScore(onchain, offchain)
	require.NoError(t, err)
	assertBig(t, bi(1000), got)
}

func TestComputeScore_UsesTradeQuoteForPriceImprovement(t *testing.T) {
	trade := makeTrade(KindSell, bi(50), bi(5100), bi(100), bi(10000))
	onchain := OnchainSettlementData{Trades: []OnchainTrade{trade}}
	offchain := OffchainSettlementData{
		Trades: []OffchainTrade{{
			OrderUID:   trade.OrderUID,
			SellAmount: bi(50),
			BuyAmount:  bi(5100),
			Quote:      &Quote{SellAmount: bi(100), BuyAmount: bi(10000), FeeAmount: bi(0)},
		}},
		TradeFeePolicies: map[OrderUID][]FeePolicy{
			trade.OrderUID: {NewPriceImprovementFeePolicy(big.NewRat(1, 2), big.NewRat(9, 10), nil)},
		},
		NativePrices: map[common.Address]*big.Int{trade.BuyToken: NativeTokenPrice},
	}

	got, err := ComputeScore(onchain, offchain)
	require.NoError(t, err)
	assertBig(t, bi(200), got)
	assert.Nil(t, offchain.TradeFeePolicies[trade.OrderUID][0].Quote, "policies must not be mutated")
}

func TestComputeScore_Deterministic(t *testing.T) {
	trade := makeTrade(KindBuy, bs("123456789123456789"), bs("987654321987"),
		bs("200000000000000000"), bs("987654321987"))
	onchain := OnchainSettlementData{Trades: []OnchainTrade{trade, trade}}
	offchain := OffchainSettlementData{
		TradeFeePolicies: map[OrderUID][]FeePolicy{
			trade.OrderUID: {NewSurplusFeePolicy(big.NewRat(1, 3), big.NewRat(1, 7))},
		},
		NativePrices: map[common.Address]*big.Int{trade.BuyToken: bs("333333333333333333")},
	}

	first, err := ComputeScore(onchain, offchain)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ComputeScore(onchain, offchain)
		require.NoError(t, err)
		assertBig(t, first, again)
	}
}

func TestComputeScore_MissingNativePrice(t *testing.T) {
	trade := makeTrade(KindSell, bi(1), bi(2), bi(1), bi(1))
	_, err := ComputeScore(OnchainSettlementData{Trades: []OnchainTrade{trade}}, OffchainSettlementData{})
	assert.ErrorIs(t, err, ErrMissingNativePrice)
}

func TestComputeScore_NoTrades(t *testing.T) {
	got, err := ComputeScore(OnchainSettlementData{}, OffchainSettlementData{})
	require.NoError(t, err)
	assert.Zero(t, got.Sign())
}

func TestComputeScore_InvalidKind(t *testing.T) {
	trade := makeTrade(KindSell, bi(1), bi(2), bi(1), bi(1))
	trade.Kind = "limit"
	offchain := OffchainSettlementData{NativePrices: map[common.Address]*big.Int{trade.BuyToken: NativeTokenPrice}}

	_, err := ComputeScore(OnchainSettlementData{Trades: []OnchainTrade{trade}}, offchain)
	assert.ErrorIs(t, err, ErrInvalidOrderKind)
}
