package domain

import (
	"fmt"
	"math/big"
)

// Quote es el precio de referencia de una orden; fee en átomos del sell token.
type Quote struct {
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
}

// EffectiveSellAmount es lo que envía el usuario al precio cotizado (con fee en buy orders).
func (q Quote) EffectiveSellAmount(kind OrderKind) (*big.Int, error) {
	switch kind {
	case KindSell:
		return q.SellAmount, nil
	case KindBuy:
		return new(big.Int).Add(q.SellAmount, q.FeeAmount), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidOrderKind, kind)
}

// EffectiveBuyAmount es lo que recibe el usuario al precio cotizado. En sell
// orders el fee sale primero del lado sell y el resto se convierte al precio
// cotizado, redondeando hacia arriba.
func (q Quote) EffectiveBuyAmount(kind OrderKind) (*big.Int, error) {
	switch kind {
	case KindSell:
		if q.SellAmount.Sign() == 0 {
			return nil, fmt.Errorf("quote with zero sell amount")
		}
		net := new(big.Int).Sub(q.SellAmount, q.FeeAmount)
		return ceilRat(mulRatio(net, q.BuyAmount, q.SellAmount)), nil
	case KindBuy:
		return q.BuyAmount, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidOrderKind, kind)
}

func (q Quote) validate() error {
	for _, a := range []struct {
		name string
		v    *big.Int
	}{
		{"quote sell_amount", q.SellAmount},
		{"quote buy_amount", q.BuyAmount},
		{"quote fee", q.FeeAmount},
	} {
		if err := nonNegative(a.name, a.v); err != nil {
			return err
		}
	}
	return nil
}
