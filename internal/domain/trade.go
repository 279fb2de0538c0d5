package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Volume es la cantidad negociada en el surplus token.
func (t OnchainTrade) Volume() (*big.Int, error) {
	switch t.Kind {
	case KindSell:
		return t.BuyAmount, nil
	case KindBuy:
		return t.SellAmount, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidOrderKind, t.Kind)
}

// SurplusToken es el buy token en sell orders y el sell token en buy orders.
func (t OnchainTrade) SurplusToken() (common.Address, error) {
	switch t.Kind {
	case KindSell:
		return t.BuyToken, nil
	case KindBuy:
		return t.SellToken, nil
	}
	return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidOrderKind, t.Kind)
}

// Surplus es cuánto mejor que su precio límite se ejecutó el trade, en el
// surplus token. El límite se escala a la cantidad ejecutada y se redondea al
// peor precio que el contrato todavía acepta: hacia arriba en el lado buy de
// las sell orders, hacia abajo en el lado sell de las buy orders.
func (t OnchainTrade) Surplus() (*big.Int, error) {
	switch t.Kind {
	case KindSell:
		if t.LimitSellAmount.Sign() == 0 {
			return nil, fmt.Errorf("trade %s: zero limit sell amount", t.OrderUID)
		}
		limitBuy := ceilRat(mulRatio(t.LimitBuyAmount, t.SellAmount, t.LimitSellAmount))
		return new(big.Int).Sub(t.BuyAmount, limitBuy), nil
	case KindBuy:
		if t.LimitBuyAmount.Sign() == 0 {
			return nil, fmt.Errorf("trade %s: zero limit buy amount", t.OrderUID)
		}
		limitSell := truncRat(mulRatio(t.LimitSellAmount, t.BuyAmount, t.LimitBuyAmount))
		return new(big.Int).Sub(limitSell, t.SellAmount), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidOrderKind, t.Kind)
}

// PriceImprovement es la mejora sobre el mejor entre quote y precio límite,
// es decir, el menor entre la mejora sobre la quote y el surplus.
func (t OnchainTrade) PriceImprovement(q Quote) (*big.Int, error) {
	effSell, err := q.EffectiveSellAmount(t.Kind)
	if err != nil {
		return nil, err
	}
	effBuy, err := q.EffectiveBuyAmount(t.Kind)
	if err != nil {
		return nil, err
	}

	var quoteImprovement *big.Int
	switch t.Kind {
	case KindSell:
		if effSell.Sign() == 0 {
			return nil, fmt.Errorf("trade %s: quote with zero effective sell amount", t.OrderUID)
		}
		quoteBuy := ceilRat(mulRatio(effBuy, t.SellAmount, effSell))
		quoteImprovement = new(big.Int).Sub(t.BuyAmount, quoteBuy)
	case KindBuy:
		if effBuy.Sign() == 0 {
			return nil, fmt.Errorf("trade %s: quote with zero effective buy amount", t.OrderUID)
		}
		quoteSell := truncRat(mulRatio(effSell, t.BuyAmount, effBuy))
		quoteImprovement = new(big.Int).Sub(quoteSell, t.SellAmount)
	}

	surplus, err := t.Surplus()
	if err != nil {
		return nil, err
	}
	return minBig(quoteImprovement, surplus), nil
}

// RawSurplus es el surplus que habría tenido el trade sin protocol fees.
// Las políticas se revierten de la última a la primera.
func (t OnchainTrade) RawSurplus(policies []FeePolicy) (*big.Int, error) {
	raw := t
	for i := len(policies) - 1; i >= 0; i-- {
		var err error
		raw, err = policies[i].ReverseProtocolFee(raw)
		if err != nil {
			return nil, fmt.Errorf("reverse %s fee: %w", policies[i].Kind, err)
		}
	}
	return raw.Surplus()
}

// ProtocolFee es el fee cobrado por las políticas, en el surplus token.
func (t OnchainTrade) ProtocolFee(policies []FeePolicy) (*big.Int, error) {
	raw, err := t.RawSurplus(policies)
	if err != nil {
		return nil, err
	}
	surplus, err := t.Surplus()
	if err != nil {
		return nil, err
	}
	return raw.Sub(raw, surplus), nil
}
