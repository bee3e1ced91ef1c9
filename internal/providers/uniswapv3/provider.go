// Package uniswapv3 adapts the Uniswap V3 SwapRouter and QuoterV1.
package uniswapv3

import (
	"context"
	"encoding/binary"
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

const DefaultFeeTier uint32 = 3000

var (
	quoterABI = evm.MustABI(registry.UniswapV3QuoterABI)
	routerABI = evm.MustABI(registry.UniswapV3RouterABI)
)

type exactInputParams struct {
	Path             []byte         `abi:"path"`
	Recipient        common.Address `abi:"recipient"`
	Deadline         *big.Int       `abi:"deadline"`
	AmountIn         *big.Int       `abi:"amountIn"`
	AmountOutMinimum *big.Int       `abi:"amountOutMinimum"`
}

type Provider struct {
	name    string
	chain   id.Chain
	router  common.Address
	wrapped id.Token
	feeTier uint32
	routes  *routing.Router
	gas     providers.GasTable
}

func New(chain id.Chain, dep registry.DexDeployment, reader evm.Reader, log zerolog.Logger) (*Provider, error) {
	if dep.Dialect != registry.DialectV3 {
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s is not a v3 deployment", dep.Provider))
	}
	if !common.IsHexAddress(dep.Quoter) {
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s: quoter address missing on %s", dep.Provider, chain.Slug))
	}
	wrapped, ok := id.KnownToken(chain.CAIP2, dep.WrappedNative)
	if !ok {
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s: wrapped native %s not registered on %s", dep.Provider, dep.WrappedNative, chain.Slug))
	}
	vertices := make([]id.Token, 0, len(dep.RoutingTokens))
	for _, symbol := range dep.RoutingTokens {
		t, ok := id.KnownToken(chain.CAIP2, symbol)
		if !ok {
			return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s: routing token %s not registered on %s", dep.Provider, symbol, chain.Slug))
		}
		vertices = append(vertices, t)
	}
	fee := dep.FeeTier
	if fee == 0 {
		fee = DefaultFeeTier
	}
	q := Quoter{Quoter: common.HexToAddress(dep.Quoter), WrappedNative: wrapped, FeeTier: fee}
	return &Provider{
		name:    dep.Provider,
		chain:   chain,
		router:  common.HexToAddress(dep.Router),
		wrapped: wrapped,
		feeTier: fee,
		routes:  routing.New(dep.Provider, reader, q, vertices, dep.MaxTransitTokens, routing.WithLogger(log)),
		gas:     providers.DefaultGasTable(),
	}, nil
}

func (p *Provider) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         p.name,
		Type:         "swap",
		RequiresKey:  false,
		Capabilities: []string{"route.find", "swap.quote", "swap.execute"},
	}
}

func (p *Provider) Dialect() providers.Dialect      { return providers.DialectV3 }
func (p *Provider) Chain() id.Chain                 { return p.chain }
func (p *Provider) Router() common.Address          { return p.router }
func (p *Provider) WrappedNative() id.Token         { return p.wrapped }
func (p *Provider) GasDefaults() providers.GasTable { return p.gas }
func (p *Provider) FeeTier() uint32                 { return p.feeTier }

func (p *Provider) FindRoutes(ctx context.Context, req providers.RouteRequest) ([]providers.Route, error) {
	return p.routes.FindRoutes(ctx, req)
}

// EncodeRoutePath is the packed v3 path for a route on this provider.
func (p *Provider) EncodeRoutePath(path []id.Token) []byte {
	return EncodePath(providers.PathAddresses(path, p.wrapped), p.feeTier)
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
	input := exactInputParams{
		Path:             p.EncodeRoutePath(route.Path),
		Recipient:        params.Recipient,
		Deadline:         new(big.Int).SetUint64(params.Deadline),
		AmountIn:         new(big.Int).Set(route.AmountIn),
		AmountOutMinimum: minOut,
	}
	data, err := routerABI.Pack("exactInput", input)
	if err != nil {
		return providers.SwapCall{}, clierr.Wrap(clierr.CodeInternal, "pack exactInput", err)
	}
	value := big.NewInt(0)
	if route.From().IsNative() {
		value = new(big.Int).Set(route.AmountIn)
	}
	return providers.SwapCall{To: p.router, Method: "exactInput", Args: []any{input}, Value: value, Data: data}, nil
}

// EncodePath packs token(20) | fee(3) | token(20) ... with one fee for every hop.
func EncodePath(tokens []common.Address, fee uint32) []byte {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]byte, 0, len(tokens)*20+(len(tokens)-1)*3)
	var feeBytes [4]byte
	binary.BigEndian.PutUint32(feeBytes[:], fee)
	for i, t := range tokens {
		if i > 0 {
			out = append(out, feeBytes[1:]...)
		}
		out = append(out, t.Bytes()...)
	}
	return out
}

// DecodePath is the inverse of EncodePath.
func DecodePath(path []byte) ([]common.Address, []uint32, error) {
	if len(path) < 20 || (len(path)-20)%23 != 0 {
		return nil, nil, fmt.Errorf("invalid v3 path length %d", len(path))
	}
	tokens := []common.Address{common.BytesToAddress(path[:20])}
	var fees []uint32
	for off := 20; off < len(path); off += 23 {
		fee := uint32(path[off])<<16 | uint32(path[off+1])<<8 | uint32(path[off+2])
		fees = append(fees, fee)
		tokens = append(tokens, common.BytesToAddress(path[off+3:off+23]))
	}
	return tokens, fees, nil
}

// Quoter prices paths with QuoterV1.quoteExactInput.
type Quoter struct {
	Quoter        common.Address
	WrappedNative id.Token
	FeeTier       uint32
}

func (q Quoter) QuoteCall(path []id.Token, amountIn *big.Int) (evm.Call, error) {
	encoded := EncodePath(providers.PathAddresses(path, q.WrappedNative), q.FeeTier)
	data, err := quoterABI.Pack("quoteExactInput", encoded, amountIn)
	if err != nil {
		return evm.Call{}, clierr.Wrap(clierr.CodeInternal, "pack quoteExactInput", err)
	}
	return evm.Call{Target: q.Quoter, Data: data}, nil
}

func (q Quoter) DecodeQuote(out []byte) (*big.Int, error) {
	values, err := quoterABI.Unpack("quoteExactInput", out)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty quoteExactInput result")
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid quoteExactInput result")
	}
	return v, nil
}
