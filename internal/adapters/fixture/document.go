package fixture

// document.go: formato YAML de un fixture.
//
// Un archivo por settlement, nombrado por tx hash en hex minúscula
// (<dir>/0xabc….yaml). Cantidades en decimal o 0x-hex, factores como
// decimales exactos ("0.1"). Ejemplo mínimo:
//
//	onchain:
//	  auction_id: 7
//	  solver: 0x5010e7…
//	  trades:
//	    - order_uid: 0x01…
//	      owner: 0x12…
//	      sell_token: 0xaa…
//	      buy_token: 0xbb…
//	      sell_amount: "1000"
//	      buy_amount: "2000"
//	      limit_sell_amount: "1000"
//	      limit_buy_amount: "1900"
//	      kind: sell
//	offchain:
//	  auction_id: 7
//	  solver: 0x5010e7…
//	  score: "100"
//	  trades: [{order_uid: 0x01…, sell_amount: "1000", buy_amount: "2000"}]
//	  valid_orders: [0x01…]
//	  native_prices: {0xbb…: "1000000000000000000"}

type document struct {
	Onchain  *onchainDoc  `yaml:"onchain"`
	Offchain *offchainDoc `yaml:"offchain"`
}

type onchainDoc struct {
	AuctionID     int64             `yaml:"auction_id"`
	TxHash        string            `yaml:"tx_hash"` // opcional, por defecto el del nombre de archivo
	Solver        string            `yaml:"solver"`
	Trades        []onchainTradeDoc `yaml:"trades"`
	ExecutedHooks []executedHookDoc `yaml:"executed_hooks"`
}

type onchainTradeDoc struct {
	OrderUID        string `yaml:"order_uid"`
	Owner           string `yaml:"owner"`
	SellToken       string `yaml:"sell_token"`
	BuyToken        string `yaml:"buy_token"`
	SellAmount      string `yaml:"sell_amount"`
	BuyAmount       string `yaml:"buy_amount"`
	LimitSellAmount string `yaml:"limit_sell_amount"`
	LimitBuyAmount  string `yaml:"limit_buy_amount"`
	Kind            string `yaml:"kind"`
}

type hookDoc struct {
	Target   string `yaml:"target"`
	CallData string `yaml:"call_data"`
	GasLimit uint64 `yaml:"gas_limit"`
}

type executedHookDoc struct {
	Phase   string `yaml:"phase"`
	hookDoc `yaml:",inline"`
}

type offchainDoc struct {
	AuctionID         int64                     `yaml:"auction_id"`
	Solver            string                    `yaml:"solver"`
	Score             string                    `yaml:"score"`
	Trades            []offchainTradeDoc        `yaml:"trades"`
	FeePolicies       map[string][]feePolicyDoc `yaml:"fee_policies"`
	ValidOrders       []string                  `yaml:"valid_orders"`
	JITOrderAddresses []string                  `yaml:"jit_order_addresses"`
	NativePrices      map[string]string         `yaml:"native_prices"`
	OrderHooks        map[string]orderHooksDoc  `yaml:"order_hooks"`
}

type offchainTradeDoc struct {
	OrderUID   string    `yaml:"order_uid"`
	SellAmount string    `yaml:"sell_amount"`
	BuyAmount  string    `yaml:"buy_amount"`
	Quote      *quoteDoc `yaml:"quote"`
}

type quoteDoc struct {
	SellAmount string `yaml:"sell_amount"`
	BuyAmount  string `yaml:"buy_amount"`
	FeeAmount  string `yaml:"fee_amount"`
}

type feePolicyDoc struct {
	Kind            string    `yaml:"kind"` // volume | surplus | price_improvement
	Factor          string    `yaml:"factor"`
	MaxVolumeFactor string    `yaml:"max_volume_factor"`
	Quote           *quoteDoc `yaml:"quote"`
}

type orderHooksDoc struct {
	Pre  []hookDoc `yaml:"pre"`
	Post []hookDoc `yaml:"post"`
}
