package domain

import (
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

// OrderKind decide qué lado del trade es exacto y cuál lleva el surplus.
type OrderKind string

const (
	KindSell OrderKind = "sell"
	KindBuy  OrderKind = "buy"
)

// Valid indica si k es un kind conocido.
func (k OrderKind) Valid() bool {
	return k == KindSell || k == KindBuy
}

// ParseOrderKind acepta "sell" o "buy".
func ParseOrderKind(s string) (OrderKind, error) {
	k := OrderKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderKind, s)
	}
	return k, nil
}

// OnchainTrade es un trade tal como lo ejecutó el contrato de settlement,
// decodificado del calldata y de los eventos Trade de la tx.
type OnchainTrade struct {
	OrderUID        OrderUID
	SellAmount      *big.Int
	BuyAmount       *big.Int
	Owner           common.Address
	SellToken       common.Address
	BuyToken        common.Address
	LimitSellAmount *big.Int // límites firmados de la orden
	LimitBuyAmount  *big.Int
	Kind            OrderKind
}

// OffchainTrade es un trade tal como lo propuso la solución ganadora.
type OffchainTrade struct {
	OrderUID   OrderUID
	SellAmount *big.Int
	BuyAmount  *big.Int
	Quote      *Quote // opcional, para price improvement sin quote propia
}

// HookPhase indica si el hook corre antes o después de mover los fondos.
type HookPhase string

const (
	HookPre  HookPhase = "pre"
	HookPost HookPhase = "post"
)

// Hook es una llamada que la orden pide al solver alrededor de su trade.
type Hook struct {
	Target   common.Address
	CallData []byte
	GasLimit uint64
}

// OrderHooks son los hooks de una orden.
type OrderHooks struct {
	Pre  []Hook
	Post []Hook
}

// ExecutedHook es una llamada interna observada en la tx de settlement.
// GasLimit es el gas reenviado, 0 si no se conoce.
type ExecutedHook struct {
	Phase HookPhase
	Hook
}

// OnchainSettlementData es lo reconstruido a partir de la tx de settlement.
type OnchainSettlementData struct {
	AuctionID     int64
	TxHash        common.Hash
	Solver        common.Address
	Trades        []OnchainTrade
	ExecutedHooks []ExecutedHook
}

// OffchainSettlementData es la solución ganadora más la subasta en la que compitió.
type OffchainSettlementData struct {
	AuctionID int64

	// solución
	Solver common.Address
	Trades []OffchainTrade
	Score  *big.Int

	// subasta
	TradeFeePolicies  map[OrderUID][]FeePolicy
	ValidOrders       mapset.Set[OrderUID]
	JITOrderAddresses mapset.Set[common.Address]
	NativePrices      map[common.Address]*big.Int // átomos nativos por 10^18 átomos del token
	OrderHooks        map[OrderUID]OrderHooks
}

// IsValidOrder indica si uid participó en la subasta.
func (d OffchainSettlementData) IsValidOrder(uid OrderUID) bool {
	return d.ValidOrders != nil && d.ValidOrders.Contains(uid)
}

// IsJITOwner indica si owner puede colocar órdenes JIT con surplus.
func (d OffchainSettlementData) IsJITOwner(owner common.Address) bool {
	return d.JITOrderAddresses != nil && d.JITOrderAddresses.Contains(owner)
}

// Validate comprueba la estructura del snapshot onchain.
func (d OnchainSettlementData) Validate() error {
	for i, t := range d.Trades {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("trade %d (%s): %w", i, t.OrderUID, err)
		}
	}
	return nil
}

// Validate comprueba la estructura del snapshot offchain.
func (d OffchainSettlementData) Validate() error {
	if d.Score == nil {
		return fmt.Errorf("missing score")
	}
	for i, t := range d.Trades {
		if err := nonNegative("sell_amount", t.SellAmount); err != nil {
			return fmt.Errorf("trade %d (%s): %w", i, t.OrderUID, err)
		}
		if err := nonNegative("buy_amount", t.BuyAmount); err != nil {
			return fmt.Errorf("trade %d (%s): %w", i, t.OrderUID, err)
		}
	}
	for uid, policies := range d.TradeFeePolicies {
		for i, p := range policies {
			if err := p.Validate(); err != nil {
				return fmt.Errorf("fee policy %d of %s: %w", i, uid, err)
			}
		}
	}
	for token, price := range d.NativePrices {
		if err := nonNegative("native price of "+token.Hex(), price); err != nil {
			return err
		}
	}
	return nil
}

// Validate comprueba kind y cantidades de un trade.
func (t OnchainTrade) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOrderKind, t.Kind)
	}
	for _, a := range []struct {
		name string
		v    *big.Int
	}{
		{"sell_amount", t.SellAmount},
		{"buy_amount", t.BuyAmount},
		{"limit_sell_amount", t.LimitSellAmount},
		{"limit_buy_amount", t.LimitBuyAmount},
	} {
		if err := nonNegative(a.name, a.v); err != nil {
			return err
		}
	}
	if t.LimitSellAmount.Sign() == 0 || t.LimitBuyAmount.Sign() == 0 {
		return fmt.Errorf("zero limit amount")
	}
	return nil
}

func nonNegative(name string, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("missing %s", name)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative %s: %s", name, v)
	}
	return nil
}
