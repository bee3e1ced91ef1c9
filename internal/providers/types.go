package providers

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

type Provider interface {
	Info() model.ProviderInfo
}

// Dialect selects the router ABI family a provider speaks.
type Dialect string

const (
	DialectV2         Dialect = registry.DialectV2
	DialectV3         Dialect = registry.DialectV3
	DialectAggregator Dialect = registry.DialectAggregator
)

func ParseDialect(s string) (Dialect, bool) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case DialectV2:
		return DialectV2, true
	case DialectV3:
		return DialectV3, true
	case DialectAggregator:
		return DialectAggregator, true
	default:
		return "", false
	}
}

type Direction string

const (
	TokensToTokens Direction = "tokens_to_tokens"
	NativeToTokens Direction = "native_to_tokens"
	TokensToNative Direction = "tokens_to_native"
)

func DirectionFor(from, to id.Token) Direction {
	switch {
	case from.IsNative():
		return NativeToTokens
	case to.IsNative():
		return TokensToNative
	default:
		return TokensToTokens
	}
}

// Route is one quoted path. Path keeps native tokens as given; wrapped-native
// substitution only happens when encoding calls.
type Route struct {
	Provider  string     `json:"provider"`
	Path      []id.Token `json:"path"`
	AmountIn  *big.Int   `json:"amount_in"`
	AmountOut *big.Int   `json:"amount_out"`
	// Data carries aggregator-specific payload (for 1inch, the protocol list).
	Data []byte `json:"data,omitempty"`
	// Gas is a provider-reported gas hint, zero when unknown.
	Gas uint64 `json:"gas,omitempty"`
}

func (r Route) From() id.Token { return r.Path[0] }
func (r Route) To() id.Token   { return r.Path[len(r.Path)-1] }

// Hops is the number of transit tokens between the endpoints.
func (r Route) Hops() int {
	if len(r.Path) < 2 {
		return 0
	}
	return len(r.Path) - 2
}

type RouteRequest struct {
	From     id.Token
	To       id.Token
	AmountIn *big.Int
	MaxHops  int
	// Sender and Slippage are forwarded to aggregator quote APIs.
	Sender   common.Address
	Slippage decimal.Decimal
}

type SwapParams struct {
	Route         Route
	AmountOutMin  *big.Int
	Sender        common.Address
	Recipient     common.Address
	Deadline      uint64
	Slippage      decimal.Decimal
	FeeSupporting bool
}

// SwapCall is a fully packed router call.
type SwapCall struct {
	To     common.Address `json:"to"`
	Method string         `json:"method"`
	Args   []any          `json:"-"`
	Value  *big.Int       `json:"value"`
	Data   []byte         `json:"data"`
	Gas    uint64         `json:"gas,omitempty"`
}

// SwapProvider is a DEX on one chain.
type SwapProvider interface {
	Provider
	Dialect() Dialect
	Chain() id.Chain
	Router() common.Address
	WrappedNative() id.Token
	FindRoutes(ctx context.Context, req RouteRequest) ([]Route, error)
	BuildSwapCall(ctx context.Context, params SwapParams) (SwapCall, error)
	GasDefaults() GasTable
}

// GasTable holds default gas limits per direction indexed by hop count.
type GasTable map[Direction][]uint64

func DefaultGasTable() GasTable {
	return GasTable{
		TokensToTokens: {150_000, 200_000, 250_000, 300_000},
		NativeToTokens: {120_000, 160_000, 220_000, 250_000},
		TokensToNative: {150_000, 200_000, 250_000, 300_000},
	}
}

// For returns the default for hops, clamped to the last configured entry.
func (g GasTable) For(dir Direction, hops int) uint64 {
	table := g[dir]
	if len(table) == 0 {
		table = g[TokensToTokens]
	}
	if len(table) == 0 {
		return 0
	}
	if hops < 0 {
		hops = 0
	}
	if hops >= len(table) {
		hops = len(table) - 1
	}
	return table[hops]
}

// AmountOutMin returns floor(out * (1 - slippage)).
func AmountOutMin(out *big.Int, slippage decimal.Decimal) *big.Int {
	if out == nil || out.Sign() <= 0 {
		return big.NewInt(0)
	}
	if slippage.IsNegative() {
		slippage = decimal.Zero
	}
	if slippage.GreaterThan(decimal.NewFromInt(1)) {
		slippage = decimal.NewFromInt(1)
	}
	v := decimal.NewFromBigInt(out, 0).Mul(decimal.NewFromInt(1).Sub(slippage))
	return v.Truncate(0).BigInt()
}

// SlippageFromBps converts basis points to a fraction.
func SlippageFromBps(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(10_000))
}

// PathAddresses encodes a token path, substituting wrappedNative for native tokens.
func PathAddresses(path []id.Token, wrappedNative id.Token) []common.Address {
	out := make([]common.Address, len(path))
	for i, t := range path {
		if t.IsNative() {
			out[i] = common.HexToAddress(wrappedNative.Address)
			continue
		}
		out[i] = common.HexToAddress(t.Address)
	}
	return out
}

// Deadline is now plus the given number of minutes, in unix seconds.
func Deadline(now time.Time, minutes int) uint64 {
	return uint64(now.Unix()) + 60*uint64(minutes)
}
