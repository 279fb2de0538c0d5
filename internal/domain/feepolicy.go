package domain

import (
	"fmt"
	"math/big"
)

// FeePolicyKind es el conjunto cerrado de políticas de protocol fee.
type FeePolicyKind int

const (
	VolumeFee FeePolicyKind = iota + 1
	SurplusFee
	PriceImprovementFee
)

func (k FeePolicyKind) String() string {
	switch k {
	case VolumeFee:
		return "volume"
	case SurplusFee:
		return "surplus"
	case PriceImprovementFee:
		return "priceImprovement"
	}
	return fmt.Sprintf("FeePolicyKind(%d)", int(k))
}

// ParseFeePolicyKind acepta los nombres que devuelve String.
func ParseFeePolicyKind(s string) (FeePolicyKind, error) {
	switch s {
	case "volume":
		return VolumeFee, nil
	case "surplus":
		return SurplusFee, nil
	case "priceImprovement", "price_improvement":
		return PriceImprovementFee, nil
	}
	return 0, fmt.Errorf("unknown fee policy %q", s)
}

// FeePolicy es un protocol fee aplicado a un trade.
//
//	VolumeFee:           Factor
//	SurplusFee:          Factor, MaxVolumeFactor
//	PriceImprovementFee: Factor, MaxVolumeFactor, Quote
type FeePolicy struct {
	Kind            FeePolicyKind
	Factor          *big.Rat
	MaxVolumeFactor *big.Rat
	Quote           *Quote
}

func NewVolumeFeePolicy(factor *big.Rat) FeePolicy {
	return FeePolicy{Kind: VolumeFee, Factor: factor}
}

func NewSurplusFeePolicy(factor, maxVolumeFactor *big.Rat) FeePolicy {
	return FeePolicy{Kind: SurplusFee, Factor: factor, MaxVolumeFactor: maxVolumeFactor}
}

func NewPriceImprovementFeePolicy(factor, maxVolumeFactor *big.Rat, quote *Quote) FeePolicy {
	return FeePolicy{Kind: PriceImprovementFee, Factor: factor, MaxVolumeFactor: maxVolumeFactor, Quote: quote}
}

// Validate comprueba que la política trae los parámetros de su tipo y que
// cada factor está en [0, 1).
func (p FeePolicy) Validate() error {
	switch p.Kind {
	case VolumeFee:
		return validFactor("factor", p.Factor)
	case SurplusFee, PriceImprovementFee:
		if err := validFactor("factor", p.Factor); err != nil {
			return err
		}
		if err := validFactor("max_volume_factor", p.MaxVolumeFactor); err != nil {
			return err
		}
		if p.Quote != nil {
			return p.Quote.validate()
		}
		return nil
	}
	return fmt.Errorf("unknown fee policy kind %d", int(p.Kind))
}

// ReverseProtocolFee devuelve el trade tal como se habría ejecutado sin este
// fee: en sell orders el fee vuelve al buy amount, en buy orders se resta del
// sell amount.
func (p FeePolicy) ReverseProtocolFee(t OnchainTrade) (OnchainTrade, error) {
	volume, err := t.Volume()
	if err != nil {
		return t, err
	}

	var fee *big.Int
	switch p.Kind {
	case VolumeFee:
		fee = volumeFee(volume, p.Factor, t.Kind)
	case SurplusFee:
		surplus, err := t.Surplus()
		if err != nil {
			return t, err
		}
		fee = minBig(grossUp(surplus, p.Factor), volumeFee(volume, p.MaxVolumeFactor, t.Kind))
	case PriceImprovementFee:
		if p.Quote == nil {
			return t, fmt.Errorf("price improvement policy for %s without quote", t.OrderUID)
		}
		improvement, err := t.PriceImprovement(*p.Quote)
		if err != nil {
			return t, err
		}
		improvementFee := grossUp(improvement, p.Factor)
		if improvementFee.Sign() < 0 {
			improvementFee.SetInt64(0)
		}
		fee = minBig(improvementFee, volumeFee(volume, p.MaxVolumeFactor, t.Kind))
	default:
		return t, fmt.Errorf("unknown fee policy kind %d", int(p.Kind))
	}

	raw := t
	if t.Kind == KindSell {
		raw.BuyAmount = new(big.Int).Add(t.BuyAmount, fee)
	} else {
		raw.SellAmount = new(big.Int).Sub(t.SellAmount, fee)
	}
	return raw, nil
}

// grossUp devuelve round(amount * f / (1 - f)): el fee que, descontado de la
// cantidad sin fee, deja amount.
func grossUp(amount *big.Int, f *big.Rat) *big.Int {
	denom := new(big.Rat).Sub(ratOne, f)
	r := new(big.Rat).SetInt(amount)
	r.Mul(r, f)
	r.Quo(r, denom)
	return roundHalfEven(r)
}

// volumeFee es el fee sobre el volumen con factor f. En buy orders el fee se
// suma en el lado sell, de ahí el denominador (1 + f).
func volumeFee(volume *big.Int, f *big.Rat, kind OrderKind) *big.Int {
	if kind == KindSell {
		return grossUp(volume, f)
	}
	denom := new(big.Rat).Add(ratOne, f)
	r := new(big.Rat).SetInt(volume)
	r.Mul(r, f)
	r.Quo(r, denom)
	return roundHalfEven(r)
}

func validFactor(name string, f *big.Rat) error {
	if f == nil {
		return fmt.Errorf("missing %s", name)
	}
	if f.Sign() < 0 || f.Cmp(ratOne) >= 0 {
		return fmt.Errorf("%s %s outside [0, 1)", name, f.RatString())
	}
	return nil
}
