package trade

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
	"github.com/ggonzalez94/xswap-cli/internal/metrics"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	erc20ABI    = evm.MustABI(registry.ERC20MinimalABI)
	feeProxyABI = evm.MustABI(registry.FeeProxyABI)
)

// FeeProxy wraps swaps made on behalf of another recipient.
type FeeProxy struct {
	Address   common.Address
	FeeTarget common.Address
	// FeePercent is the integrator fee in percent, e.g. 0.2.
	FeePercent decimal.Decimal
}

func (f *FeeProxy) Enabled() bool {
	return f != nil && f.Address != (common.Address{})
}

type feeInfo struct {
	Fee       *big.Int       `abi:"fee"`
	FeeTarget common.Address `abi:"feeTarget"`
}

// Wrap routes a DEX call through the proxy's swap method. Fee is percent x1000.
func (f *FeeProxy) Wrap(call providers.SwapCall, tokenIn, tokenOut common.Address, amountIn *big.Int) (providers.SwapCall, error) {
	fee := f.FeePercent.Mul(decimal.NewFromInt(1000)).Truncate(0).BigInt()
	args := []any{tokenIn, tokenOut, amountIn, call.To, call.Data, feeInfo{Fee: fee, FeeTarget: f.FeeTarget}}
	data, err := feeProxyABI.Pack("swap", args...)
	if err != nil {
		return providers.SwapCall{}, clierr.Wrap(clierr.CodeInternal, "pack fee proxy swap", err)
	}
	value := big.NewInt(0)
	if call.Value != nil {
		value = new(big.Int).Set(call.Value)
	}
	return providers.SwapCall{To: f.Address, Method: "swap", Args: args, Value: value, Data: data, Gas: call.Gas}, nil
}

type PlanOptions struct {
	Sender          common.Address
	Recipient       common.Address
	SlippageBps     int64
	DeadlineMinutes int
}

type ExecuteOptions struct {
	Recipient       common.Address
	SlippageBps     int64
	DeadlineMinutes int
	Sender          Sender
	OnTxHash        func(string)
}

func (o PlanOptions) recipient() common.Address {
	if o.Recipient == (common.Address{}) {
		return o.Sender
	}
	return o.Recipient
}

func (b *Builder) useProxy(sender, recipient common.Address) bool {
	return b.feeProxy.Enabled() && recipient != (common.Address{}) && recipient != sender
}

// Spender is the contract that pulls the input token.
func (b *Builder) Spender(t Trade, sender, recipient common.Address) common.Address {
	if b.useProxy(sender, recipient) {
		return b.feeProxy.Address
	}
	if t.Dialect == providers.DialectAggregator && t.Router == (common.Address{}) {
		return b.provider.Router()
	}
	return t.Router
}

func (b *Builder) NeedApprove(ctx context.Context, t Trade, owner, recipient common.Address) (bool, error) {
	if t.From.Token.IsNative() {
		return false, nil
	}
	if b.reader == nil {
		return false, clierr.New(clierr.CodeInternal, "no chain reader configured")
	}
	allowance, err := b.reader.Allowance(ctx, common.HexToAddress(t.From.Token.Address), owner, b.Spender(t, owner, recipient))
	if err != nil {
		return false, err
	}
	return allowance.Cmp(t.From.Amount) < 0, nil
}

// Approve builds the approval action. Unlimited requests the max uint256
// allowance; otherwise the trade amount is approved.
func (b *Builder) Approve(ctx context.Context, t Trade, owner, recipient common.Address, unlimited bool) (execution.Action, error) {
	if t.From.Token.IsNative() {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "native input does not need approval")
	}
	spender := b.Spender(t, owner, recipient)
	amount := new(big.Int).Set(t.From.Amount)
	if unlimited {
		amount = new(big.Int).Set(maxUint256)
	}
	data, err := ApproveCalldata(spender, amount)
	if err != nil {
		return execution.Action{}, err
	}
	action := execution.NewAction(execution.NewActionID(), "approve", t.Chain.CAIP2, execution.Constraints{Simulate: true})
	action.Provider = t.Provider
	action.FromAddress = owner.Hex()
	action.InputAmount = amount.String()
	action.Metadata = map[string]any{
		"token":     t.From.Token.Address,
		"spender":   spender.Hex(),
		"unlimited": unlimited,
	}
	action.Steps = append(action.Steps, execution.ActionStep{
		StepID:      "approve-token-in",
		Type:        execution.StepTypeApproval,
		Status:      execution.StepStatusPending,
		ChainID:     t.Chain.CAIP2,
		RPCURL:      b.rpcURL,
		Description: fmt.Sprintf("Approve %s for %s", t.From.Token.Symbol, spender.Hex()),
		Target:      common.HexToAddress(t.From.Token.Address).Hex(),
		Data:        hexutil.Encode(data),
		Value:       "0",
	})
	return action, nil
}

// ApproveCalldata packs ERC20 approve(spender, amount).
func ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	return data, nil
}

// PlanSwap builds the swap action. v2 trades are probed with eth_call to pick
// the plain or fee-on-transfer method.
func (b *Builder) PlanSwap(ctx context.Context, t Trade, opts PlanOptions) (execution.Action, error) {
	if opts.Sender == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "swap execution requires sender address")
	}
	if opts.SlippageBps < 0 || opts.SlippageBps >= 10_000 {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "slippage bps must be in [0, 10000)")
	}
	minutes := opts.DeadlineMinutes
	if minutes <= 0 {
		minutes = 20
	}
	recipient := opts.recipient()
	slippage := providers.SlippageFromBps(opts.SlippageBps)
	params := providers.SwapParams{
		Route:        t.Route,
		AmountOutMin: providers.AmountOutMin(t.To.Amount, slippage),
		Sender:       opts.Sender,
		Recipient:    recipient,
		Deadline:     providers.Deadline(b.now(), minutes),
		Slippage:     slippage,
	}
	proxied := b.useProxy(opts.Sender, recipient)

	feeSupporting := false
	if t.Dialect == providers.DialectV2 {
		var err error
		feeSupporting, err = b.probe(ctx, t, params, proxied)
		if err != nil {
			return execution.Action{}, err
		}
	}
	params.FeeSupporting = feeSupporting
	call, err := b.buildCall(ctx, t, params, proxied)
	if err != nil {
		return execution.Action{}, err
	}

	action := execution.NewAction(execution.NewActionID(), "swap", t.Chain.CAIP2, execution.Constraints{
		SlippageBps: opts.SlippageBps,
		Deadline:    fmt.Sprintf("%d", params.Deadline),
		Simulate:    true,
	})
	action.Provider = t.Provider
	action.FromAddress = opts.Sender.Hex()
	action.ToAddress = recipient.Hex()
	action.InputAmount = t.From.Amount.String()
	action.Metadata = map[string]any{
		"token_in":       t.From.Token.Address,
		"token_out":      t.To.Token.Address,
		"path":           pathSymbols(t),
		"method":         call.Method,
		"quoted_amount":  t.To.Amount.String(),
		"amount_out_min": params.AmountOutMin.String(),
		"fee_supporting": feeSupporting,
		"fee_proxy":      proxied,
	}
	action.Steps = append(action.Steps, execution.ActionStep{
		StepID:      "swap",
		Type:        execution.StepTypeSwap,
		Status:      execution.StepStatusPending,
		ChainID:     t.Chain.CAIP2,
		RPCURL:      b.rpcURL,
		Description: fmt.Sprintf("Swap %s to %s via %s", t.From.Token.Symbol, t.To.Token.Symbol, t.Provider),
		Target:      call.To.Hex(),
		Data:        hexutil.Encode(call.Data),
		Value:       call.Value.String(),
		ExpectedOutputs: map[string]string{
			"amount_out":     t.To.Amount.String(),
			"amount_out_min": params.AmountOutMin.String(),
		},
	})
	return action, nil
}

// Execute checks the balance, plans the swap and submits it.
func (b *Builder) Execute(ctx context.Context, t Trade, opts ExecuteOptions) (string, error) {
	if opts.Sender == nil {
		return "", clierr.New(clierr.CodeSigner, "missing signer")
	}
	owner := opts.Sender.Address()
	if b.reader != nil {
		balance, err := b.reader.Balance(ctx, owner, t.From.Token)
		if err != nil {
			return "", err
		}
		if balance.Cmp(t.From.Amount) < 0 {
			return "", clierr.New(clierr.CodeInsufficientBalance, fmt.Sprintf("insufficient %s balance: have %s, need %s", t.From.Token.Symbol, balance, t.From.Amount))
		}
	}
	action, err := b.PlanSwap(ctx, t, PlanOptions{
		Sender:          owner,
		Recipient:       opts.Recipient,
		SlippageBps:     opts.SlippageBps,
		DeadlineMinutes: opts.DeadlineMinutes,
	})
	if err != nil {
		return "", err
	}
	var txHash string
	err = opts.Sender.Send(ctx, &action, func(_, hash string) {
		txHash = hash
		if opts.OnTxHash != nil {
			opts.OnTxHash(hash)
		}
	})
	status := "submitted"
	if err != nil {
		status = "failed"
	}
	metrics.Submissions.WithLabelValues("swap", status).Inc()
	return txHash, err
}

func (b *Builder) buildCall(ctx context.Context, t Trade, params providers.SwapParams, proxied bool) (providers.SwapCall, error) {
	call, err := b.provider.BuildSwapCall(ctx, params)
	if err != nil {
		return providers.SwapCall{}, err
	}
	if !proxied {
		return call, nil
	}
	return b.feeProxy.Wrap(call, common.HexToAddress(t.From.Token.Address), common.HexToAddress(t.To.Token.Address), t.From.Amount)
}

// probe dry-runs the plain and fee-supporting methods concurrently.
func (b *Builder) probe(ctx context.Context, t Trade, params providers.SwapParams, proxied bool) (bool, error) {
	if b.reader == nil {
		return false, nil
	}
	plain, fee := params, params
	plain.FeeSupporting = false
	fee.FeeSupporting = true

	var plainErr, feeErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		plainErr = b.dryRun(gctx, t, plain, proxied)
		return nil
	})
	g.Go(func() error {
		feeErr = b.dryRun(gctx, t, fee, proxied)
		return nil
	})
	_ = g.Wait()

	switch {
	case plainErr == nil:
		metrics.ProbeOutcomes.WithLabelValues("plain").Inc()
		return false, nil
	case feeErr == nil:
		metrics.ProbeOutcomes.WithLabelValues("fee_supporting").Inc()
		b.log.Info().Msg("plain swap reverted, using fee-on-transfer method")
		return true, nil
	default:
		metrics.ProbeOutcomes.WithLabelValues("token_with_fee").Inc()
		return false, clierr.Wrap(clierr.CodeTokenWithFee, "swap reverted with and without fee-on-transfer support", plainErr)
	}
}

func (b *Builder) dryRun(ctx context.Context, t Trade, params providers.SwapParams, proxied bool) error {
	call, err := b.buildCall(ctx, t, params, proxied)
	if err != nil {
		return err
	}
	_, err = b.reader.CallContract(ctx, ethereum.CallMsg{From: params.Sender, To: &call.To, Value: call.Value, Data: call.Data})
	return err
}

func pathSymbols(t Trade) string {
	parts := make([]string, len(t.Path))
	for i, tok := range t.Path {
		parts[i] = tok.Symbol
	}
	return strings.Join(parts, ">")
}
