package onchain

// settlement.go: lectura de settlements de CoW Protocol desde un nodo.
//
// De la transacción salen:
//   - solver: el sender
//   - auction id: los 8 bytes que el driver añade al final del calldata
//   - límites y kind de cada orden: los trades del calldata de settle()
//   - cantidades ejecutadas, owner y order uid: los eventos Trade del receipt,
//     en el mismo orden que los trades del calldata
//
// Los hooks se ejecutan vía el trampoline dentro de las interactions y no se
// decodifican aquí, así que ExecutedHooks queda vacío.

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/circuitbreaker/internal/domain"
)

const (
	// GPv2Settlement, misma dirección en todas las cadenas soportadas
	SettlementContract = "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"

	auctionIDLength = 8
	buyOrderFlag    = 1 // bit 0 de flags: 0 = sell, 1 = buy
)

var settlementABI abi.ABI

func init() {
	var err error
	settlementABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "settle",
			"type": "function",
			"inputs": [
				{"name": "tokens", "type": "address[]"},
				{"name": "clearingPrices", "type": "uint256[]"},
				{"name": "trades", "type": "tuple[]", "components": [
					{"name": "sellTokenIndex", "type": "uint256"},
					{"name": "buyTokenIndex", "type": "uint256"},
					{"name": "receiver", "type": "address"},
					{"name": "sellAmount", "type": "uint256"},
					{"name": "buyAmount", "type": "uint256"},
					{"name": "validTo", "type": "uint32"},
					{"name": "appData", "type": "bytes32"},
					{"name": "feeAmount", "type": "uint256"},
					{"name": "flags", "type": "uint256"},
					{"name": "executedAmount", "type": "uint256"},
					{"name": "signature", "type": "bytes"}
				]},
				{"name": "interactions", "type": "tuple[][3]", "components": [
					{"name": "target", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "callData", "type": "bytes"}
				]}
			],
			"outputs": []
		},
		{
			"name": "Trade",
			"type": "event",
			"anonymous": false,
			"inputs": [
				{"name": "owner", "type": "address", "indexed": true},
				{"name": "sellToken", "type": "address", "indexed": false},
				{"name": "buyToken", "type": "address", "indexed": false},
				{"name": "sellAmount", "type": "uint256", "indexed": false},
				{"name": "buyAmount", "type": "uint256", "indexed": false},
				{"name": "feeAmount", "type": "uint256", "indexed": false},
				{"name": "orderUid", "type": "bytes", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("settlement abi parse: " + err.Error())
	}
}

// settleTrade es un trade tal como viaja en el calldata de settle().
type settleTrade struct {
	SellTokenIndex *big.Int
	BuyTokenIndex  *big.Int
	Receiver       common.Address
	SellAmount     *big.Int
	BuyAmount      *big.Int
	ValidTo        uint32
	AppData        [32]byte
	FeeAmount      *big.Int
	Flags          *big.Int
	ExecutedAmount *big.Int
	Signature      []byte
}

// interaction es una llamada arbitraria que el solver ejecuta dentro del settle.
type interaction struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// tradeEvent son los campos no indexados del evento Trade.
type tradeEvent struct {
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int
	BuyAmount  *big.Int
	FeeAmount  *big.Int
	OrderUid   []byte
}

// SettlementClient implementa ports.OnchainSource contra un nodo RPC.
type SettlementClient struct {
	client   *ethclient.Client
	contract common.Address
}

// NewSettlementClient conecta con el nodo dado.
func NewSettlementClient(rpcURL string) (*SettlementClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc %s: %w", rpcURL, err)
	}
	return &SettlementClient{
		client:   client,
		contract: common.HexToAddress(SettlementContract),
	}, nil
}

// Close cierra la conexión RPC.
func (c *SettlementClient) Close() {
	c.client.Close()
}

// FetchOnchain implementa ports.OnchainSource. Una transacción que el nodo aún
// no conoce, o que sigue pendiente, es domain.ErrMissingOnchainData.
func (c *SettlementClient) FetchOnchain(ctx context.Context, txHash common.Hash) (domain.OnchainSettlementData, error) {
	tx, pending, err := c.client.TransactionByHash(ctx, txHash)
	if err != nil {
		return domain.OnchainSettlementData{}, rpcError("transaction", txHash, err)
	}
	if pending {
		return domain.OnchainSettlementData{}, fmt.Errorf("onchain: %s pending: %w", txHash.Hex(), domain.ErrMissingOnchainData)
	}

	receipt, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		return domain.OnchainSettlementData{}, rpcError("receipt", txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.OnchainSettlementData{}, &domain.NoncriticalDataFetchingError{
			Msg: fmt.Sprintf("onchain: %s reverted", txHash.Hex()),
		}
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return domain.OnchainSettlementData{}, &domain.NoncriticalDataFetchingError{
			Msg: fmt.Sprintf("onchain: recover sender of %s", txHash.Hex()),
			Err: err,
		}
	}

	data, err := decodeSettlement(txHash, from, tx.Data(), receipt.Logs, c.contract)
	if err != nil {
		return domain.OnchainSettlementData{}, &domain.NoncriticalDataFetchingError{
			Msg: fmt.Sprintf("onchain: decode %s", txHash.Hex()),
			Err: err,
		}
	}
	return data, nil
}

func rpcError(what string, txHash common.Hash, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("onchain: %s %s: %w", what, txHash.Hex(), domain.ErrMissingOnchainData)
	}
	return &domain.NoncriticalDataFetchingError{
		Msg:     fmt.Sprintf("onchain: fetch %s %s", what, txHash.Hex()),
		Recheck: true,
		Err:     err,
	}
}

// decodeSettlement combina el calldata de settle() con los eventos Trade emitidos
// por contract.
func decodeSettlement(txHash common.Hash, solver common.Address, input []byte, logs []*types.Log, contract common.Address) (domain.OnchainSettlementData, error) {
	method := settlementABI.Methods["settle"]
	if len(input) < len(method.ID)+auctionIDLength {
		return domain.OnchainSettlementData{}, fmt.Errorf("calldata too short: %d bytes", len(input))
	}
	if !bytes.Equal(input[:len(method.ID)], method.ID) {
		return domain.OnchainSettlementData{}, fmt.Errorf("not a settle call: selector %x", input[:len(method.ID)])
	}

	args, err := method.Inputs.Unpack(input[len(method.ID):])
	if err != nil {
		return domain.OnchainSettlementData{}, fmt.Errorf("unpack settle: %w", err)
	}
	tokens, ok := args[0].([]common.Address)
	if !ok {
		return domain.OnchainSettlementData{}, fmt.Errorf("unpack settle: tokens has type %T", args[0])
	}
	trades := *abi.ConvertType(args[2], new([]settleTrade)).(*[]settleTrade)

	events, err := tradeEvents(logs, contract)
	if err != nil {
		return domain.OnchainSettlementData{}, err
	}
	if len(events) != len(trades) {
		return domain.OnchainSettlementData{}, fmt.Errorf("%d trades in calldata but %d Trade events", len(trades), len(events))
	}

	data := domain.OnchainSettlementData{
		AuctionID: int64(binary.BigEndian.Uint64(input[len(input)-auctionIDLength:])),
		TxHash:    txHash,
		Solver:    solver,
		Trades:    make([]domain.OnchainTrade, 0, len(trades)),
	}
	for i, t := range trades {
		ev := events[i]
		if err := checkTokenIndex(t.SellTokenIndex, tokens, ev.event.SellToken); err != nil {
			return data, fmt.Errorf("trade %d sell token: %w", i, err)
		}
		if err := checkTokenIndex(t.BuyTokenIndex, tokens, ev.event.BuyToken); err != nil {
			return data, fmt.Errorf("trade %d buy token: %w", i, err)
		}
		if len(ev.event.OrderUid) != domain.OrderUIDLength {
			return data, fmt.Errorf("trade %d: order uid has %d bytes", i, len(ev.event.OrderUid))
		}

		kind := domain.KindSell
		if t.Flags.Bit(0) == buyOrderFlag {
			kind = domain.KindBuy
		}
		data.Trades = append(data.Trades, domain.OnchainTrade{
			OrderUID:        domain.BytesToOrderUID(ev.event.OrderUid),
			SellAmount:      ev.event.SellAmount,
			BuyAmount:       ev.event.BuyAmount,
			Owner:           ev.owner,
			SellToken:       ev.event.SellToken,
			BuyToken:        ev.event.BuyToken,
			LimitSellAmount: t.SellAmount,
			LimitBuyAmount:  t.BuyAmount,
			Kind:            kind,
		})
	}
	return data, nil
}

type ownedTradeEvent struct {
	owner common.Address
	event tradeEvent
}

func tradeEvents(logs []*types.Log, contract common.Address) ([]ownedTradeEvent, error) {
	id := settlementABI.Events["Trade"].ID

	var events []ownedTradeEvent
	for _, l := range logs {
		if l.Address != contract || len(l.Topics) != 2 || l.Topics[0] != id {
			continue
		}
		var ev tradeEvent
		if err := settlementABI.UnpackIntoInterface(&ev, "Trade", l.Data); err != nil {
			return nil, fmt.Errorf("unpack Trade event at log %d: %w", l.Index, err)
		}
		events = append(events, ownedTradeEvent{
			owner: common.BytesToAddress(l.Topics[1].Bytes()),
			event: ev,
		})
	}
	return events, nil
}

func checkTokenIndex(idx *big.Int, tokens []common.Address, want common.Address) error {
	if !idx.IsUint64() || idx.Uint64() >= uint64(len(tokens)) {
		return fmt.Errorf("index %s out of range (%d tokens)", idx, len(tokens))
	}
	if got := tokens[idx.Uint64()]; got != want {
		return fmt.Errorf("calldata has %s, event has %s", got.Hex(), want.Hex())
	}
	return nil
}
