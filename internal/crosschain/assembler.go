// Package crosschain assembles the bridge transferWithSwap call from a smart
// routing result and submits it on the source chain.
package crosschain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/metrics"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/providers/uniswapv3"
	"github.com/ggonzalez94/xswap-cli/internal/smartrouting"
	"github.com/ggonzalez94/xswap-cli/internal/trade"
)

const (
	DefaultMaxBridgeSlippage = 1_000_000
	DefaultDeadline          = 999_999_999_999_999
)

// Side is one chain of the transfer: its providers and its bridge contract.
type Side struct {
	Leg    smartrouting.Leg
	Bridge *Bridge
}

type Settings struct {
	MaxBridgeSlippage uint32
	Deadline          *big.Int
	// MinRecvAmount is the descriptor minimum on a side without a swap.
	MinRecvAmount *big.Int
	RPCURL        string
}

type Assembler struct {
	source   Side
	target   Side
	reader   evm.Reader
	settings Settings
	log      zerolog.Logger
}

// NewAssembler wires the two sides. reader serves source-chain reads.
func NewAssembler(source, target Side, reader evm.Reader, settings Settings, log zerolog.Logger) *Assembler {
	if settings.MaxBridgeSlippage == 0 {
		settings.MaxBridgeSlippage = DefaultMaxBridgeSlippage
	}
	if settings.Deadline == nil {
		settings.Deadline = new(big.Int).SetUint64(DefaultDeadline)
	}
	if settings.MinRecvAmount == nil {
		settings.MinRecvAmount = big.NewInt(0)
	}
	return &Assembler{
		source:   source,
		target:   target,
		reader:   reader,
		settings: settings,
		log:      log.With().Str("component", "crosschain").Logger(),
	}
}

type PrepareRequest struct {
	Routing   smartrouting.Result
	FromToken id.Token
	ToToken   id.Token
	AmountIn  *big.Int
	// Receiver overrides the destination bridge as message receiver.
	Receiver   common.Address
	Slippage   decimal.Decimal
	ToPriceUSD *decimal.Decimal
}

// Message is the bridge payload before ABI encoding.
type Message struct {
	Receiver          common.Address `json:"receiver"`
	AmountIn          *big.Int       `json:"amount_in"`
	DstChainID        uint64         `json:"dst_chain_id"`
	SrcSwap           Descriptor     `json:"src_swap"`
	DstSwap           Descriptor     `json:"dst_swap"`
	MaxBridgeSlippage uint32         `json:"max_bridge_slippage"`
	Nonce             uint64         `json:"nonce"`
	NativeOut         bool           `json:"native_out"`
	MsgValue          *big.Int       `json:"msg_value"`
}

// Args is the stringified argument list in method order.
func (m Message) Args() []any {
	return []any{
		m.Receiver.Hex(),
		bigString(m.AmountIn),
		fmt.Sprintf("%d", m.DstChainID),
		m.SrcSwap.Strings(),
		m.DstSwap.Strings(),
		fmt.Sprintf("%d", m.MaxBridgeSlippage),
		fmt.Sprintf("%d", m.Nonce),
		fmt.Sprintf("%t", m.NativeOut),
	}
}

// EncodeMessage is the JSON argument list as bytes, left-padded to 32 bytes.
func EncodeMessage(args []any) ([]byte, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode bridge message", err)
	}
	if len(raw) >= 32 {
		return raw, nil
	}
	return append(bytes.Repeat([]byte{0}, 32-len(raw)), raw...), nil
}

// MsgValue is the native value attached to the bridge call.
func MsgValue(feeBase, cryptoFee, amountIn *big.Int, nativeIn bool) *big.Int {
	v := new(big.Int).Add(feeBase, cryptoFee)
	if nativeIn {
		v.Add(v, amountIn)
	}
	return v
}

// MethodName selects transferWithSwap{Inch,V2,V3} with the Native suffix for
// native input.
func MethodName(dialect providers.Dialect, nativeIn bool) (string, error) {
	var name string
	switch dialect {
	case providers.DialectAggregator:
		name = "transferWithSwapInch"
	case providers.DialectV2:
		name = "transferWithSwapV2"
	case providers.DialectV3:
		name = "transferWithSwapV3"
	default:
		return "", clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no bridge method for dialect %q", dialect))
	}
	if nativeIn {
		name += "Native"
	}
	return name, nil
}

// DstAmountOutMinimum is toWei(toAmount * price * (1 - slippage)), truncated.
func DstAmountOutMinimum(toAmount *big.Int, decimals int, price, slippage decimal.Decimal) *big.Int {
	v := id.ToDecimal(toAmount, decimals).Mul(price).Mul(decimal.NewFromInt(1).Sub(slippage))
	return id.ToBaseUnits(v, decimals)
}

type Prepared struct {
	Message     Message           `json:"message"`
	Dialect     providers.Dialect `json:"dialect"`
	Method      string            `json:"method"`
	Bridge      common.Address    `json:"bridge"`
	Calldata    []byte            `json:"-"`
	Payload     []byte            `json:"-"`
	SourceChain id.Chain          `json:"source_chain"`
	FromToken   id.Token          `json:"from_token"`
	ToToken     id.Token          `json:"to_token"`
	SrcProvider string            `json:"src_provider"`
	DstProvider string            `json:"dst_provider"`
	CryptoFee   *big.Int          `json:"crypto_fee"`
	FeeBase     *big.Int          `json:"fee_base"`
}

// Prepare builds the bridge call. Every chain read happens here; a failing
// read aborts before anything is sent.
func (a *Assembler) Prepare(ctx context.Context, req PrepareRequest) (Prepared, error) {
	if len(req.Routing.SourceProviders) == 0 || len(req.Routing.TargetProviders) == 0 {
		return Prepared{}, clierr.New(clierr.CodeNoSelectedProvider, "no provider selected for one of the legs")
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return Prepared{}, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	if req.ToPriceUSD == nil {
		return Prepared{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("no price for %s", req.ToToken.Symbol))
	}
	srcSel := req.Routing.SourceProviders[0]
	dstSel := req.Routing.TargetProviders[0]
	srcProvider, err := providerAt(a.source.Leg, srcSel.ProviderIndex)
	if err != nil {
		return Prepared{}, err
	}
	dstProvider, err := providerAt(a.target.Leg, dstSel.ProviderIndex)
	if err != nil {
		return Prepared{}, err
	}
	dialect := srcProvider.Dialect()
	nativeIn := req.FromToken.IsNative()
	method, err := MethodName(dialect, nativeIn)
	if err != nil {
		return Prepared{}, err
	}

	srcMin := providers.AmountOutMin(srcSel.ToAmount, req.Slippage)
	dstMin := DstAmountOutMinimum(dstSel.ToAmount, req.ToToken.Decimals, *req.ToPriceUSD, req.Slippage)
	srcSwap, err := a.descriptor(ctx, dialect, a.source, srcProvider, srcSel, req.FromToken, srcMin)
	if err != nil {
		return Prepared{}, err
	}
	dstSwap, err := a.descriptor(ctx, dialect, a.target, dstProvider, dstSel, req.ToToken, dstMin)
	if err != nil {
		return Prepared{}, err
	}

	block, err := a.reader.LatestBlock(ctx)
	if err != nil {
		return Prepared{}, clierr.Wrap(clierr.CodeUnavailable, "read nonce block", err)
	}
	receiver := a.target.Bridge.Address
	if req.Receiver != (common.Address{}) {
		receiver = req.Receiver
	}
	msg := Message{
		Receiver:          receiver,
		AmountIn:          new(big.Int).Set(req.AmountIn),
		DstChainID:        uint64(a.target.Leg.Chain.EVMChainID),
		SrcSwap:           srcSwap,
		DstSwap:           dstSwap,
		MaxBridgeSlippage: a.settings.MaxBridgeSlippage,
		Nonce:             block.Timestamp,
		NativeOut:         req.ToToken.IsNative(),
	}

	payload, err := EncodeMessage(msg.Args())
	if err != nil {
		return Prepared{}, err
	}
	cryptoFee, err := a.source.Bridge.DstCryptoFee(ctx, msg.DstChainID)
	if err != nil {
		return Prepared{}, err
	}
	feeBase, err := a.source.Bridge.MessageFee(ctx, payload)
	if err != nil {
		return Prepared{}, err
	}
	msg.MsgValue = MsgValue(feeBase, cryptoFee, msg.AmountIn, nativeIn)

	calldata, err := bridgeABI.Pack(method, msg.Receiver, msg.AmountIn, msg.DstChainID, msg.SrcSwap, msg.DstSwap, msg.MaxBridgeSlippage, msg.Nonce, msg.NativeOut)
	if err != nil {
		return Prepared{}, clierr.Wrap(clierr.CodeInternal, "pack "+method, err)
	}
	a.log.Debug().
		Str("method", method).
		Uint64("nonce", msg.Nonce).
		Str("msg_value", msg.MsgValue.String()).
		Int("payload_bytes", len(payload)).
		Msg("bridge call prepared")
	return Prepared{
		Message:     msg,
		Dialect:     dialect,
		Method:      method,
		Bridge:      a.source.Bridge.Address,
		Calldata:    calldata,
		Payload:     payload,
		SourceChain: a.source.Leg.Chain,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		SrcProvider: srcSel.Provider,
		DstProvider: dstSel.Provider,
		CryptoFee:   cryptoFee,
		FeeBase:     feeBase,
	}, nil
}

func providerAt(leg smartrouting.Leg, index int) (providers.SwapProvider, error) {
	if index < 0 || index >= len(leg.Builders) {
		return nil, clierr.New(clierr.CodeNoSelectedProvider, fmt.Sprintf("provider %d not configured on %s", index, leg.Chain.Slug))
	}
	return leg.Builders[index].Provider(), nil
}

// descriptor projects one side's selection into the source dialect's tuple.
func (a *Assembler) descriptor(ctx context.Context, dialect providers.Dialect, side Side, p providers.SwapProvider, sel smartrouting.ProviderResult, token id.Token, min *big.Int) (Descriptor, error) {
	path := []common.Address{common.HexToAddress(token.Address)}
	if sel.Trade != nil {
		path = providers.PathAddresses(sel.Trade.Path, p.WrappedNative())
	} else {
		min = new(big.Int).Set(a.settings.MinRecvAmount)
	}
	dex := p.Router()
	switch dialect {
	case providers.DialectV2:
		return V2Swap{Path: path, Dex: dex, Deadline: new(big.Int).Set(a.settings.Deadline), MinRecvAmt: min}, nil
	case providers.DialectV3:
		fee := uint32(uniswapv3.DefaultFeeTier)
		if v3, ok := p.(interface{ FeeTier() uint32 }); ok {
			fee = v3.FeeTier()
		}
		return V3Swap{Dex: dex, Path: uniswapv3.EncodePath(path, fee), Deadline: new(big.Int).Set(a.settings.Deadline), AmountOutMinimum: min}, nil
	case providers.DialectAggregator:
		var data []byte
		if sel.Trade != nil {
			call, err := p.BuildSwapCall(ctx, providers.SwapParams{
				Route:        sel.Trade.Route,
				AmountOutMin: min,
				Sender:       side.Bridge.Address,
				Recipient:    side.Bridge.Address,
				Deadline:     a.settings.Deadline.Uint64(),
			})
			if err != nil {
				return nil, err
			}
			data = call.Data
		}
		return InchSwap{Dex: dex, Path: path, Data: data, AmountOutMinimum: min}, nil
	}
	return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no descriptor for dialect %q", dialect))
}

// Plan turns a prepared call into an action, with an approval step when the
// bridge cannot yet pull the input token.
func (a *Assembler) Plan(ctx context.Context, p Prepared, sender common.Address) (execution.Action, error) {
	if sender == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "cross-chain execution requires sender address")
	}
	action := execution.NewAction(execution.NewActionID(), "crosschain", p.SourceChain.CAIP2, execution.Constraints{Simulate: true})
	action.Provider = p.SrcProvider + ">" + p.DstProvider
	action.FromAddress = sender.Hex()
	action.ToAddress = p.Message.Receiver.Hex()
	action.InputAmount = p.Message.AmountIn.String()
	action.Metadata = map[string]any{
		"method":       p.Method,
		"dst_chain_id": p.Message.DstChainID,
		"nonce":        p.Message.Nonce,
		"msg_value":    p.Message.MsgValue.String(),
		"token_in":     p.FromToken.Address,
		"token_out":    p.ToToken.Address,
		"native_out":   p.Message.NativeOut,
	}

	if !p.FromToken.IsNative() {
		token := common.HexToAddress(p.FromToken.Address)
		allowance, err := a.reader.Allowance(ctx, token, sender, p.Bridge)
		if err != nil {
			return execution.Action{}, err
		}
		if allowance.Cmp(p.Message.AmountIn) < 0 {
			data, err := trade.ApproveCalldata(p.Bridge, p.Message.AmountIn)
			if err != nil {
				return execution.Action{}, err
			}
			action.Steps = append(action.Steps, execution.ActionStep{
				StepID:      "approve-bridge",
				Type:        execution.StepTypeApproval,
				Status:      execution.StepStatusPending,
				ChainID:     p.SourceChain.CAIP2,
				RPCURL:      a.settings.RPCURL,
				Description: fmt.Sprintf("Approve %s for the bridge", p.FromToken.Symbol),
				Target:      token.Hex(),
				Data:        hexutil.Encode(data),
				Value:       "0",
			})
		}
	}
	action.Steps = append(action.Steps, execution.ActionStep{
		StepID:      "bridge",
		Type:        execution.StepTypeBridge,
		Status:      execution.StepStatusPending,
		ChainID:     p.SourceChain.CAIP2,
		RPCURL:      a.settings.RPCURL,
		Description: fmt.Sprintf("Bridge %s to %s via %s", p.FromToken.Symbol, p.ToToken.Symbol, p.Method),
		Target:      p.Bridge.Hex(),
		Data:        hexutil.Encode(p.Calldata),
		Value:       p.Message.MsgValue.String(),
		ExpectedOutputs: map[string]string{
			"dst_amount_out_minimum": minimumOf(p.Message.DstSwap).String(),
		},
	})
	return action, nil
}

func minimumOf(d Descriptor) *big.Int {
	switch v := d.(type) {
	case InchSwap:
		return v.AmountOutMinimum
	case V2Swap:
		return v.MinRecvAmt
	case V3Swap:
		return v.AmountOutMinimum
	}
	return big.NewInt(0)
}

// Submit plans and sends the prepared call.
func (a *Assembler) Submit(ctx context.Context, p Prepared, sender trade.Sender, onHash func(string)) (string, error) {
	if sender == nil {
		return "", clierr.New(clierr.CodeSigner, "missing signer")
	}
	action, err := a.Plan(ctx, p, sender.Address())
	if err != nil {
		return "", err
	}
	var txHash string
	err = sender.Send(ctx, &action, func(stepID, hash string) {
		if stepID != "bridge" {
			return
		}
		txHash = hash
		if onHash != nil {
			onHash(hash)
		}
	})
	status := "submitted"
	if err != nil {
		status = "failed"
	}
	metrics.Submissions.WithLabelValues("crosschain", status).Inc()
	return txHash, err
}

// MinSwapAmount is the bridge's smallest accepted input on the source chain.
func (a *Assembler) MinSwapAmount(ctx context.Context) (*big.Int, error) {
	return a.source.Bridge.MinSwapAmount(ctx)
}
