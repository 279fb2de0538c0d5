package fixture

import (
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

func (d *onchainDoc) decode(txHash common.Hash) (domain.OnchainSettlementData, error) {
	data := domain.OnchainSettlementData{AuctionID: d.AuctionID, TxHash: txHash}
	if d.TxHash != "" {
		h, err := parseHash("tx_hash", d.TxHash)
		if err != nil {
			return data, err
		}
		if h != txHash {
			return data, fmt.Errorf("tx_hash: %s does not match file name %s", h.Hex(), txHash.Hex())
		}
	}

	var err error
	if data.Solver, err = parseAddress("solver", d.Solver); err != nil {
		return data, err
	}

	data.Trades = make([]domain.OnchainTrade, 0, len(d.Trades))
	for i, t := range d.Trades {
		trade, err := t.decode()
		if err != nil {
			return data, fmt.Errorf("trades[%d].%w", i, err)
		}
		data.Trades = append(data.Trades, trade)
	}

	for i, h := range d.ExecutedHooks {
		hook, err := h.hookDoc.decode()
		if err != nil {
			return data, fmt.Errorf("executed_hooks[%d].%w", i, err)
		}
		phase := domain.HookPhase(h.Phase)
		if phase != domain.HookPre && phase != domain.HookPost {
			return data, fmt.Errorf("executed_hooks[%d].phase: unknown phase %q", i, h.Phase)
		}
		data.ExecutedHooks = append(data.ExecutedHooks, domain.ExecutedHook{Phase: phase, Hook: hook})
	}
	return data, nil
}

func (t onchainTradeDoc) decode() (domain.OnchainTrade, error) {
	var (
		trade domain.OnchainTrade
		err   error
	)
	if trade.OrderUID, err = parseOrderUID("order_uid", t.OrderUID); err != nil {
		return trade, err
	}
	if trade.Owner, err = parseAddress("owner", t.Owner); err != nil {
		return trade, err
	}
	if trade.SellToken, err = parseAddress("sell_token", t.SellToken); err != nil {
		return trade, err
	}
	if trade.BuyToken, err = parseAddress("buy_token", t.BuyToken); err != nil {
		return trade, err
	}
	if trade.SellAmount, err = parseAmount("sell_amount", t.SellAmount); err != nil {
		return trade, err
	}
	if trade.BuyAmount, err = parseAmount("buy_amount", t.BuyAmount); err != nil {
		return trade, err
	}
	if trade.LimitSellAmount, err = parseAmount("limit_sell_amount", t.LimitSellAmount); err != nil {
		return trade, err
	}
	if trade.LimitBuyAmount, err = parseAmount("limit_buy_amount", t.LimitBuyAmount); err != nil {
		return trade, err
	}
	if trade.Kind, err = domain.ParseOrderKind(t.Kind); err != nil {
		return trade, fmt.Errorf("kind: %w", err)
	}
	return trade, nil
}

func (d *offchainDoc) decode() (domain.OffchainSettlementData, error) {
	data := domain.OffchainSettlementData{
		AuctionID:         d.AuctionID,
		ValidOrders:       mapset.NewSet[domain.OrderUID](),
		JITOrderAddresses: mapset.NewSet[common.Address](),
	}

	var err error
	if data.Solver, err = parseAddress("solver", d.Solver); err != nil {
		return data, err
	}
	if data.Score, err = parseAmount("score", d.Score); err != nil {
		return data, err
	}

	data.Trades = make([]domain.OffchainTrade, 0, len(d.Trades))
	for i, t := range d.Trades {
		trade, err := t.decode()
		if err != nil {
			return data, fmt.Errorf("trades[%d].%w", i, err)
		}
		data.Trades = append(data.Trades, trade)
	}

	if len(d.FeePolicies) > 0 {
		data.TradeFeePolicies = make(map[domain.OrderUID][]domain.FeePolicy, len(d.FeePolicies))
	}
	for key, docs := range d.FeePolicies {
		uid, err := parseOrderUID("fee_policies", key)
		if err != nil {
			return data, err
		}
		policies := make([]domain.FeePolicy, 0, len(docs))
		for i, p := range docs {
			policy, err := p.decode()
			if err != nil {
				return data, fmt.Errorf("fee_policies[%s][%d].%w", key, i, err)
			}
			policies = append(policies, policy)
		}
		data.TradeFeePolicies[uid] = policies
	}

	for i, s := range d.ValidOrders {
		uid, err := parseOrderUID(fmt.Sprintf("valid_orders[%d]", i), s)
		if err != nil {
			return data, err
		}
		data.ValidOrders.Add(uid)
	}
	for i, s := range d.JITOrderAddresses {
		addr, err := parseAddress(fmt.Sprintf("jit_order_addresses[%d]", i), s)
		if err != nil {
			return data, err
		}
		data.JITOrderAddresses.Add(addr)
	}

	data.NativePrices = make(map[common.Address]*big.Int, len(d.NativePrices))
	for token, price := range d.NativePrices {
		addr, err := parseAddress("native_prices", token)
		if err != nil {
			return data, err
		}
		if data.NativePrices[addr], err = parseAmount("native_prices["+token+"]", price); err != nil {
			return data, err
		}
	}

	if len(d.OrderHooks) > 0 {
		data.OrderHooks = make(map[domain.OrderUID]domain.OrderHooks, len(d.OrderHooks))
	}
	for key, h := range d.OrderHooks {
		uid, err := parseOrderUID("order_hooks", key)
		if err != nil {
			return data, err
		}
		var hooks domain.OrderHooks
		if hooks.Pre, err = decodeHooks(h.Pre); err != nil {
			return data, fmt.Errorf("order_hooks[%s].pre%w", key, err)
		}
		if hooks.Post, err = decodeHooks(h.Post); err != nil {
			return data, fmt.Errorf("order_hooks[%s].post%w", key, err)
		}
		data.OrderHooks[uid] = hooks
	}
	return data, nil
}

func (t offchainTradeDoc) decode() (domain.OffchainTrade, error) {
	var (
		trade domain.OffchainTrade
		err   error
	)
	if trade.OrderUID, err = parseOrderUID("order_uid", t.OrderUID); err != nil {
		return trade, err
	}
	if trade.SellAmount, err = parseAmount("sell_amount", t.SellAmount); err != nil {
		return trade, err
	}
	if trade.BuyAmount, err = parseAmount("buy_amount", t.BuyAmount); err != nil {
		return trade, err
	}
	if t.Quote != nil {
		if trade.Quote, err = t.Quote.decode(); err != nil {
			return trade, fmt.Errorf("quote.%w", err)
		}
	}
	return trade, nil
}

func (q *quoteDoc) decode() (*domain.Quote, error) {
	var (
		quote domain.Quote
		err   error
	)
	if quote.SellAmount, err = parseAmount("sell_amount", q.SellAmount); err != nil {
		return nil, err
	}
	if quote.BuyAmount, err = parseAmount("buy_amount", q.BuyAmount); err != nil {
		return nil, err
	}
	if q.FeeAmount == "" {
		quote.FeeAmount = new(big.Int)
	} else if quote.FeeAmount, err = parseAmount("fee_amount", q.FeeAmount); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (p feePolicyDoc) decode() (domain.FeePolicy, error) {
	kind, err := domain.ParseFeePolicyKind(p.Kind)
	if err != nil {
		return domain.FeePolicy{}, fmt.Errorf("kind: %w", err)
	}
	factor, err := parseFactor("factor", p.Factor)
	if err != nil {
		return domain.FeePolicy{}, err
	}
	if kind == domain.VolumeFee {
		return domain.NewVolumeFeePolicy(factor), nil
	}

	maxVolume, err := parseFactor("max_volume_factor", p.MaxVolumeFactor)
	if err != nil {
		return domain.FeePolicy{}, err
	}
	if kind == domain.SurplusFee {
		return domain.NewSurplusFeePolicy(factor, maxVolume), nil
	}

	var quote *domain.Quote
	if p.Quote != nil {
		if quote, err = p.Quote.decode(); err != nil {
			return domain.FeePolicy{}, fmt.Errorf("quote.%w", err)
		}
	}
	return domain.NewPriceImprovementFeePolicy(factor, maxVolume, quote), nil
}

func decodeHooks(docs []hookDoc) ([]domain.Hook, error) {
	hooks := make([]domain.Hook, 0, len(docs))
	for i, d := range docs {
		h, err := d.decode()
		if err != nil {
			return nil, fmt.Errorf("[%d].%w", i, err)
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

func (d hookDoc) decode() (domain.Hook, error) {
	target, err := parseAddress("target", d.Target)
	if err != nil {
		return domain.Hook{}, err
	}
	var data []byte
	if d.CallData != "" {
		if data, err = hexutil.Decode(d.CallData); err != nil {
			return domain.Hook{}, fmt.Errorf("call_data: %w", err)
		}
	}
	return domain.Hook{Target: target, CallData: data, GasLimit: d.GasLimit}, nil
}

// --- escalares ---

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s: missing", field)
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, s)
	}
	return v, nil
}

func parseFactor(field, s string) (*big.Rat, error) {
	if s == "" {
		return nil, fmt.Errorf("%s: missing", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return d.Rat(), nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(field, s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", field, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%s: want %d bytes, got %d", field, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

func parseOrderUID(field, s string) (domain.OrderUID, error) {
	uid, err := domain.ParseOrderUID(s)
	if err != nil {
		return uid, fmt.Errorf("%s: %w", field, err)
	}
	return uid, nil
}
