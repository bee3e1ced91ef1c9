// Package uniswapv2 adapts UniswapV2-style routers (uniswap-v2, sushiswap,
// pancakeswap, quickswap and forks).
package uniswapv2

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
	"github.com/ggonzalez94/xswap-cli/internal/routing"
)

var routerABI = evm.MustABI(registry.UniswapV2RouterABI)

type Provider struct {
	name    string
	chain   id.Chain
	router  common.Address
	wrapped id.Token
	routes  *routing.Router
	gas     providers.GasTable
}

func New(chain id.Chain, dep registry.DexDeployment, reader evm.Reader, log zerolog.Logger) (*Provider, error) {
	if dep.Dialect != registry.DialectV2 {
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s is not a v2 deployment", dep.Provider))
	}
	wrapped, vertices, err := resolveTokens(chain, dep)
	if err != nil {
		return nil, err
	}
	router := common.HexToAddress(dep.Router)
	q := Quoter{Router: router, WrappedNative: wrapped}
	return &Provider{
		name:    dep.Provider,
		chain:   chain,
		router:  router,
		wrapped: wrapped,
		routes:  routing.New(dep.Provider, reader, q, vertices, dep.MaxTransitTokens, routing.WithLogger(log)),
		gas:     providers.DefaultGasTable(),
	}, nil
}

func resolveTokens(chain id.Chain, dep registry.DexDeployment) (id.Token, []id.Token, error) {
	wrapped, ok := id.KnownToken(chain.CAIP2, dep.WrappedNative)
	if !ok {
		return id.Token{}, nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s: wrapped native %s not registered on %s", dep.Provider, dep.WrappedNative, chain.Slug))
	}
	vertices := make([]id.Token, 0, len(dep.RoutingTokens))
	for _, symbol := range dep.RoutingTokens {
		t, ok := id.KnownToken(chain.CAIP2, symbol)
		if !ok {
			return id.Token{}, nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s: routing token %s not registered on %s", dep.Provider, symbol, chain.Slug))
		}
		vertices = append(vertices, t)
	}
	return wrapped, vertices, nil
}

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         p.name,
		Type:         "swap",
		RequiresKey:  false,
		Capabilities: []string{"route.find", "swap.quote", "swap.execute"},
	}
}

func (p *Provider) Dialect() providers.Dialect      { return providers.DialectV2 }
func (p *Provider) Chain() id.Chain                 { return p.chain }
func (p *Provider) Router() common.Address          { return p.router }
func (p *Provider) WrappedNative() id.Token         { return p.wrapped }
func (p *Provider) GasDefaults() providers.GasTable { return p.gas }

func (p *Provider) FindRoutes(ctx context.Context, req providers.RouteRequest) ([]providers.Route, error) {
	return p.routes.FindRoutes(ctx, req)
}

// MethodName selects the router method for a direction.
func MethodName(dir providers.Direction, feeSupporting bool) string {
	var method string
	switch dir {
	case providers.NativeToTokens:
		method = "swapExactETHForTokens"
	case providers.TokensToNative:
		method = "swapExactTokensForETH"
	default:
		method = "swapExactTokensForTokens"
	}
	if feeSupporting {
		method += "SupportingFeeOnTransferTokens"
	}
	return method
}

func (p *Provider) BuildSwapCall(_ context.Context, params providers.SwapParams) (providers.SwapCall, error) {
	route := params.Route
	if len(route.Path) < 2 {
		return providers.SwapCall{}, clierr.New(clierr.CodeUsage, "swap route needs at least two tokens")
	}
	if route.AmountIn == nil || route.AmountIn.Sign() <= 0 {
		return providers.SwapCall{}, clierr.New(clierr.CodeUsage, "swap amount must be positive")
	}
	if params.Deadline == 0 {
		return providers.SwapCall{}, clierr.New(clierr.CodeUsage, "swap deadline is required")
	}
	minOut := params.AmountOutMin
	if minOut == nil {
		minOut = providers.AmountOutMin(route.AmountOut, params.Slippage)
	}

	dir := providers.DirectionFor(route.From(), route.To())
	method := MethodName(dir, params.FeeSupporting)
	path := providers.PathAddresses(route.Path, p.wrapped)
	deadline := new(big.Int).SetUint64(params.Deadline)

	var args []any
	value := big.NewInt(0)
	if dir == providers.NativeToTokens {
		args = []any{minOut, path, params.Recipient, deadline}
		value = new(big.Int).Set(route.AmountIn)
	} else {
		args = []any{route.AmountIn, minOut, path, params.Recipient, deadline}
	}
	data, err := routerABI.Pack(method, args...)
	if err != nil {
		return providers.SwapCall{}, clierr.Wrap(clierr.CodeInternal, "pack "+method, err)
	}
	return providers.SwapCall{To: p.router, Method: method, Args: args, Value: value, Data: data}, nil
}

// Quoter prices paths with getAmountsOut.
type Quoter struct {
	Router        common.Address
	WrappedNative id.Token
}

func (q Quoter) QuoteCall(path []id.Token, amountIn *big.Int) (evm.Call, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, providers.PathAddresses(path, q.WrappedNative))
	if err != nil {
		return evm.Call{}, clierr.Wrap(clierr.CodeInternal, "pack getAmountsOut", err)
	}
	return evm.Call{Target: q.Router, Data: data}, nil
}

func (q Quoter) DecodeQuote(out []byte) (*big.Int, error) {
	values, err := routerABI.Unpack("getAmountsOut", out)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty getAmountsOut result")
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("invalid getAmountsOut result")
	}
	return amounts[len(amounts)-1], nil
}
