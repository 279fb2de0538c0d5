package domain

import (
	"fmt"
	"math/big"
)

// NativeTokenPrice es la escala de punto fijo de los precios nativos (10^18).
var NativeTokenPrice = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ComputeScore suma el raw surplus de cada trade ejecutado, en átomos del
// token nativo.
//
// Por trade: raw surplus según sus fee policies; si el surplus está en el sell
// token se pasa al buy token al precio límite; luego a átomos nativos con el
// precio nativo del buy token, redondeando half to even.
func ComputeScore(onchain OnchainSettlementData, offchain OffchainSettlementData) (*big.Int, error) {
	quotes := make(map[OrderUID]*Quote, len(offchain.Trades))
	for _, t := range offchain.Trades {
		if t.Quote != nil {
			quotes[t.OrderUID] = t.Quote
		}
	}

	score := new(big.Int)
	for _, trade := range onchain.Trades {
		policies := withQuote(offchain.TradeFeePolicies[trade.OrderUID], quotes[trade.OrderUID])
		raw, err := trade.RawSurplus(policies)
		if err != nil {
			return nil, fmt.Errorf("domain.ComputeScore: trade %s: %w", trade.OrderUID, err)
		}

		surplusToken, err := trade.SurplusToken()
		if err != nil {
			return nil, fmt.Errorf("domain.ComputeScore: trade %s: %w", trade.OrderUID, err)
		}
		value := new(big.Rat).SetInt(raw)
		if surplusToken == trade.SellToken {
			value.Mul(value, new(big.Rat).SetFrac(trade.LimitBuyAmount, trade.LimitSellAmount))
		}

		price, ok := offchain.NativePrices[trade.BuyToken]
		if !ok || price == nil {
			return nil, fmt.Errorf("domain.ComputeScore: trade %s: %w for %s",
				trade.OrderUID, ErrMissingNativePrice, trade.BuyToken.Hex())
		}
		value.Mul(value, new(big.Rat).SetFrac(price, NativeTokenPrice))

		score.Add(score, roundHalfEven(value))
	}
	return score, nil
}

// withQuote rellena la quote del trade en las políticas de price improvement
// que se publicaron sin ella.
func withQuote(policies []FeePolicy, quote *Quote) []FeePolicy {
	if quote == nil {
		return policies
	}
	var out []FeePolicy
	for i, p := range policies {
		if p.Kind != PriceImprovementFee || p.Quote != nil {
			continue
		}
		if out == nil {
			out = append([]FeePolicy(nil), policies...)
		}
		out[i].Quote = quote
	}
	if out == nil {
		return policies
	}
	return out
}
