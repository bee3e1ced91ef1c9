package trade

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/estimator"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/evm/evmtest"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/providers/uniswapv2"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

var (
	v2ABI = evm.MustABI(registry.UniswapV2RouterABI)

	usdc = id.MustToken("eip155:1", "USDC")
	weth = id.MustToken("eip155:1", "WETH")
	dai  = id.MustToken("eip155:1", "DAI")

	wallet    = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000BB")
	proxyAddr = common.HexToAddress("0x00000000000000000000000000000000000000CC")
)

type staticPrices map[string]string

func (p staticPrices) PriceUSD(_ context.Context, token id.Token) (*decimal.Decimal, error) {
	v, ok := p[token.Symbol]
	if !ok {
		return nil, nil
	}
	d := decimal.RequireFromString(v)
	return &d, nil
}

type recordingSender struct {
	addr    common.Address
	actions []execution.Action
	err     error
}

func (s *recordingSender) Address() common.Address { return s.addr }

func (s *recordingSender) Send(_ context.Context, action *execution.Action, onTxHash func(string, string)) error {
	s.actions = append(s.actions, *action)
	if s.err != nil {
		return s.err
	}
	onTxHash(action.Steps[len(action.Steps)-1].StepID, "0xabc")
	return nil
}

func newV2(t *testing.T, reader evm.Reader, routingTokens ...string) providers.SwapProvider {
	t.Helper()
	chain, _ := id.ParseChain("ethereum")
	p, err := uniswapv2.New(chain, registry.DexDeployment{
		Provider:         "uniswap-v2",
		Dialect:          registry.DialectV2,
		Router:           "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		WrappedNative:    "WETH",
		RoutingTokens:    routingTokens,
		MaxTransitTokens: 1,
	}, reader, zerolog.Nop())
	if err != nil {
		t.Fatalf("uniswapv2.New failed: %v", err)
	}
	return p
}

// v2Handler answers getAmountsOut with quote(pathLen) and treats swap methods
// as succeeding unless listed in reverts.
func v2Handler(quote func(pathLen int) int64, reverts ...string) func(common.Address, []byte) ([]byte, error) {
	return func(_ common.Address, data []byte) ([]byte, error) {
		method, err := v2ABI.MethodById(data[:4])
		if err != nil {
			return nil, errors.New("execution reverted")
		}
		if method.Name == "getAmountsOut" {
			values, err := method.Inputs.Unpack(data[4:])
			if err != nil {
				return nil, err
			}
			path := values[1].([]common.Address)
			amounts := make([]*big.Int, len(path))
			for i := range amounts {
				amounts[i] = big.NewInt(quote(len(path)))
			}
			return method.Outputs.Pack(amounts)
		}
		for _, r := range reverts {
			if method.Name == r {
				return nil, errors.New("execution reverted: TRANSFER_FAILED")
			}
		}
		return []byte{}, nil
	}
}

func nativeToken(t *testing.T) id.Token {
	t.Helper()
	native, ok := id.NativeToken("eip155:1")
	if !ok {
		t.Fatal("native token missing")
	}
	return native
}

func TestCalculateTradeRejectsUnsupportedNetworkBeforeIO(t *testing.T) {
	reader := &evmtest.Fake{Handle: v2Handler(func(int) int64 { return 1 })}
	b := NewBuilder(newV2(t, reader, "WETH"), Options{Reader: reader})
	bscUSDT := id.MustToken("eip155:56", "USDT")
	_, err := b.CalculateTrade(context.Background(), Request{From: bscUSDT, To: dai, AmountIn: big.NewInt(1)})
	if !clierr.IsCode(err, clierr.CodeUnsupportedNetwork) {
		t.Fatalf("expected unsupported network, got %v", err)
	}
	if reader.Batches() != 0 || len(reader.Calls()) != 0 {
		t.Fatal("expected no chain reads before the network check")
	}
}

func TestCalculateTradeUSDCToNativeViaWETH(t *testing.T) {
	native := nativeToken(t)
	reader := &evmtest.Fake{
		Handle: v2Handler(func(pathLen int) int64 {
			if pathLen == 3 {
				return 600_000_000_000_000
			}
			return 500_000_000_000_000
		}),
		GasPrice: big.NewInt(10_000_000_000),
	}
	b := NewBuilder(newV2(t, reader, "WETH"), Options{Reader: reader, Prices: staticPrices{"ETH": "2000"}})

	tr, err := b.CalculateTrade(context.Background(), Request{From: usdc, To: native, AmountIn: big.NewInt(1_000_000), IncludeGas: true})
	if err != nil {
		t.Fatalf("CalculateTrade failed: %v", err)
	}
	if len(tr.Path) != 3 || !tr.Path[0].Equal(usdc) || !tr.Path[1].Equal(weth) || !tr.Path[2].IsNative() {
		t.Fatalf("expected [USDC, WETH, NATIVE], got %v", tr.Path)
	}
	if reader.Batches() != 1 {
		t.Fatalf("expected one quote batch, got %d", reader.Batches())
	}
	// tokens to native with one hop: 200000 * 1.2.
	if tr.GasLimit != 240_000 {
		t.Fatalf("unexpected gas limit %d", tr.GasLimit)
	}
	// 10 gwei * 2000 USD * 240000 gas.
	if tr.GasFeeUSD == nil || !tr.GasFeeUSD.Equal(decimal.RequireFromString("4.8")) {
		t.Fatalf("unexpected gas fee %v", tr.GasFeeUSD)
	}
}

func TestCalculateTradeDisableMultihopsQuotesDirectOnly(t *testing.T) {
	reader := &evmtest.Fake{Handle: v2Handler(func(int) int64 { return 10 })}
	b := NewBuilder(newV2(t, reader, "WETH", "USDT"), Options{Reader: reader, DisableMultihops: true})
	tr, err := b.CalculateTrade(context.Background(), Request{From: usdc, To: dai, AmountIn: big.NewInt(5)})
	if err != nil {
		t.Fatalf("CalculateTrade failed: %v", err)
	}
	if len(tr.Path) != 2 {
		t.Fatalf("expected direct path, got %v", tr.Path)
	}
}

func TestCalculateTradeProfitFallsBackWithoutPrices(t *testing.T) {
	reader := &evmtest.Fake{Handle: v2Handler(func(pathLen int) int64 { return int64(pathLen) })}
	b := NewBuilder(newV2(t, reader, "WETH"), Options{Reader: reader})
	tr, err := b.CalculateTrade(context.Background(), Request{From: usdc, To: dai, AmountIn: big.NewInt(5), Mode: estimator.ModeProfit})
	if err != nil {
		t.Fatalf("CalculateTrade failed: %v", err)
	}
	if tr.ProfitUSD != nil || len(tr.Path) != 3 {
		t.Fatalf("expected plain ranking fallback, got %+v", tr)
	}
}

func usdcToDAITrade(t *testing.T, p providers.SwapProvider) Trade {
	t.Helper()
	route := providers.Route{Provider: "uniswap-v2", Path: []id.Token{usdc, dai}, AmountIn: big.NewInt(1_000_000), AmountOut: big.NewInt(1_000_000)}
	return Trade{
		Chain:    p.Chain(),
		Provider: "uniswap-v2",
		Dialect:  providers.DialectV2,
		From:     TokenAmount{Token: usdc, Amount: route.AmountIn},
		To:       TokenAmount{Token: dai, Amount: route.AmountOut},
		Path:     route.Path,
		Route:    route,
		Router:   p.Router(),
	}
}

func stepMethod(t *testing.T, action execution.Action) *abi.Method {
	t.Helper()
	data, err := hexutil.Decode(action.Steps[0].Data)
	if err != nil {
		t.Fatalf("decode step data: %v", err)
	}
	method, err := v2ABI.MethodById(data[:4])
	if err != nil {
		t.Fatalf("unknown selector: %v", err)
	}
	return method
}

func TestPlanSwapProbeOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		reverts []string
		want    string
		code    clierr.Code
	}{
		{name: "both succeed", want: "swapExactTokensForTokens"},
		{name: "plain reverts", reverts: []string{"swapExactTokensForTokens"}, want: "swapExactTokensForTokensSupportingFeeOnTransferTokens"},
		{name: "fee variant reverts", reverts: []string{"swapExactTokensForTokensSupportingFeeOnTransferTokens"}, want: "swapExactTokensForTokens"},
		{name: "both revert", reverts: []string{"swapExactTokensForTokens", "swapExactTokensForTokensSupportingFeeOnTransferTokens"}, code: clierr.CodeTokenWithFee},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reader := &evmtest.Fake{Handle: v2Handler(func(int) int64 { return 1 }, tc.reverts...)}
			p := newV2(t, reader)
			b := NewBuilder(p, Options{Reader: reader, RPCURL: "http://rpc"})
			action, err := b.PlanSwap(context.Background(), usdcToDAITrade(t, p), PlanOptions{Sender: wallet, SlippageBps: 50})
			if tc.code != 0 {
				if !clierr.IsCode(err, tc.code) {
					t.Fatalf("expected code %d, got %v", tc.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("PlanSwap failed: %v", err)
			}
			if got := stepMethod(t, action).Name; got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if len(reader.Calls()) != 2 {
				t.Fatalf("expected two probe calls, got %d", len(reader.Calls()))
			}
			if action.Steps[0].ExpectedOutputs["amount_out_min"] != "995000" {
				t.Fatalf("unexpected min out %s", action.Steps[0].ExpectedOutputs["amount_out_min"])
			}
		})
	}
}

func TestPlanSwapWrapsInFeeProxyForThirdPartyRecipient(t *testing.T) {
	reader := &evmtest.Fake{Handle: func(to common.Address, data []byte) ([]byte, error) {
		if to != proxyAddr {
			return nil, errors.New("expected probe through proxy")
		}
		return []byte{}, nil
	}}
	p := newV2(t, reader)
	b := NewBuilder(p, Options{Reader: reader, FeeProxy: &FeeProxy{
		Address: proxyAddr, FeeTarget: common.HexToAddress("0xDD"), FeePercent: decimal.RequireFromString("0.2"),
	}})
	tr := usdcToDAITrade(t, p)
	action, err := b.PlanSwap(context.Background(), tr, PlanOptions{Sender: wallet, Recipient: recipient, SlippageBps: 50})
	if err != nil {
		t.Fatalf("PlanSwap failed: %v", err)
	}
	step := action.Steps[0]
	if !strings.EqualFold(step.Target, proxyAddr.Hex()) {
		t.Fatalf("expected proxy target, got %s", step.Target)
	}
	data, _ := hexutil.Decode(step.Data)
	values, err := feeProxyABI.Methods["swap"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack proxy call: %v", err)
	}
	if values[3].(common.Address) != p.Router() {
		t.Fatalf("expected dex argument to be the router, got %v", values[3])
	}
	info := *abi.ConvertType(values[5], new(feeInfo)).(*feeInfo)
	if info.Fee.Int64() != 200 {
		t.Fatalf("expected fee 200 (0.2 x1000), got %s", info.Fee)
	}
	if b.Spender(tr, wallet, recipient) != proxyAddr || b.Spender(tr, wallet, wallet) != p.Router() {
		t.Fatal("unexpected spender selection")
	}
}

func TestExecuteChecksBalanceFirst(t *testing.T) {
	reader := &evmtest.Fake{Handle: v2Handler(func(int) int64 { return 1 })}
	p := newV2(t, reader)
	b := NewBuilder(p, Options{Reader: reader})
	sender := &recordingSender{addr: wallet}
	_, err := b.Execute(context.Background(), usdcToDAITrade(t, p), ExecuteOptions{Sender: sender, SlippageBps: 50})
	if !clierr.IsCode(err, clierr.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if len(sender.actions) != 0 || len(reader.Calls()) != 0 {
		t.Fatal("expected nothing probed or sent")
	}
}

func TestExecuteSubmitsAndReportsHash(t *testing.T) {
	reader := &evmtest.Fake{
		Handle:   v2Handler(func(int) int64 { return 1 }),
		Balances: map[string]*big.Int{strings.ToLower(usdc.Address): big.NewInt(5_000_000)},
	}
	p := newV2(t, reader)
	b := NewBuilder(p, Options{Reader: reader, Now: func() time.Time { return time.Unix(1_700_000_000, 0) }})
	sender := &recordingSender{addr: wallet}
	var reported string
	hash, err := b.Execute(context.Background(), usdcToDAITrade(t, p), ExecuteOptions{
		Sender: sender, SlippageBps: 50, DeadlineMinutes: 10, OnTxHash: func(h string) { reported = h },
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if hash != "0xabc" || reported != "0xabc" {
		t.Fatalf("unexpected hashes: %s %s", hash, reported)
	}
	if len(sender.actions) != 1 || sender.actions[0].Constraints.Deadline != "1700000600" {
		t.Fatalf("unexpected submitted action: %+v", sender.actions)
	}
}

func TestNeedApproveAndApprove(t *testing.T) {
	reader := &evmtest.Fake{Allowances: map[string]*big.Int{strings.ToLower(common.HexToAddress(usdc.Address).Hex()): big.NewInt(10)}}
	p := newV2(t, reader)
	b := NewBuilder(p, Options{Reader: reader})
	tr := usdcToDAITrade(t, p)

	need, err := b.NeedApprove(context.Background(), tr, wallet, wallet)
	if err != nil || !need {
		t.Fatalf("expected approval needed, got %v err=%v", need, err)
	}
	nativeTrade := tr
	nativeTrade.From = TokenAmount{Token: nativeToken(t), Amount: big.NewInt(1)}
	need, err = b.NeedApprove(context.Background(), nativeTrade, wallet, wallet)
	if err != nil || need {
		t.Fatalf("expected native to skip approval, got %v err=%v", need, err)
	}

	action, err := b.Approve(context.Background(), tr, wallet, wallet, true)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	data, _ := hexutil.Decode(action.Steps[0].Data)
	values, err := erc20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack approve: %v", err)
	}
	if values[0].(common.Address) != p.Router() || values[1].(*big.Int).Cmp(maxUint256) != 0 {
		t.Fatalf("unexpected approve args %v", values)
	}
	if action.Steps[0].Type != execution.StepTypeApproval {
		t.Fatalf("unexpected step type %s", action.Steps[0].Type)
	}
}

func TestGasFeeUSD(t *testing.T) {
	got := GasFeeUSD(big.NewInt(1_000_000_000), decimal.NewFromInt(1000), 100_000)
	if !got.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("unexpected fee %s", got)
	}
}
