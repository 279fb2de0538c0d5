package domain

import "math/big"

// Redondeos exactos. Toda cantidad del paquete es un entero de átomos; los
// precios intermedios van en big.Rat y solo se redondea donde el protocolo lo hace.

var (
	bigOne = big.NewInt(1)
	ratOne = big.NewRat(1, 1)
)

// ceilRat devuelve el menor entero >= r.
func ceilRat(r *big.Rat) *big.Int {
	q, m := new(big.Int).DivMod(r.Num(), r.Denom(), new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, bigOne)
	}
	return q
}

// truncRat redondea hacia cero.
func truncRat(r *big.Rat) *big.Int {
	return new(big.Int).Quo(r.Num(), r.Denom())
}

// roundHalfEven redondea al entero más cercano, empates al par.
func roundHalfEven(r *big.Rat) *big.Int {
	// Denom siempre es positivo: DivMod da el floor y 0 <= m < den.
	q, m := new(big.Int).DivMod(r.Num(), r.Denom(), new(big.Int))
	switch new(big.Int).Lsh(m, 1).Cmp(r.Denom()) {
	case 1:
		q.Add(q, bigOne)
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, bigOne)
		}
	}
	return q
}

// mulRatio devuelve a * num / den exacto.
func mulRatio(a, num, den *big.Int) *big.Rat {
	return new(big.Rat).SetFrac(new(big.Int).Mul(a, num), den)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
