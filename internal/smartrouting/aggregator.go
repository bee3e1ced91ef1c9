// Package smartrouting runs the source and destination legs of a cross-chain
// swap across every provider on each chain and orders the results.
package smartrouting

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/estimator"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/trade"
)

// FeeDenominator scales the bridge fee read from the contract.
const FeeDenominator = 1_000_000

// BridgeFeeReader reads the bridge fee in millionths of the bridged amount.
type BridgeFeeReader interface {
	BridgeFee(ctx context.Context) (*big.Int, error)
}

type ProviderResult struct {
	ProviderIndex int               `json:"provider_index"`
	Provider      string            `json:"provider"`
	Dialect       providers.Dialect `json:"dialect"`
	// Trade is nil when the leg needs no swap.
	Trade     *trade.Trade     `json:"trade,omitempty"`
	ToAmount  *big.Int         `json:"to_amount"`
	ProfitUSD *decimal.Decimal `json:"profit_usd,omitempty"`
}

func (p ProviderResult) HasTrade() bool { return p.Trade != nil }

type Result struct {
	SourceProviders []ProviderResult `json:"source_providers"`
	TargetProviders []ProviderResult `json:"target_providers"`
	FromProvider    string           `json:"from_provider"`
	ToProvider      string           `json:"to_provider"`
	FromHasTrade    bool             `json:"from_has_trade"`
	ToHasTrade      bool             `json:"to_has_trade"`
	SourceTransit   id.Token         `json:"source_transit"`
	TargetTransit   id.Token         `json:"target_transit"`
	BridgeFee       *big.Int         `json:"bridge_fee"`
	BridgedAmount   *big.Int         `json:"bridged_amount"`
	Savings         *big.Int         `json:"savings"`
}

// ToAmount is the best destination output.
func (r Result) ToAmount() *big.Int {
	if len(r.TargetProviders) == 0 {
		return nil
	}
	return r.TargetProviders[0].ToAmount
}

type Side string

const (
	SideSource Side = "source"
	SideTarget Side = "target"
)

// Select returns a copy of r with the provider at providerIndex moved to the
// front of the chosen side.
func (r Result) Select(side Side, providerIndex int) (Result, error) {
	list := r.TargetProviders
	if side == SideSource {
		list = r.SourceProviders
	}
	reordered, ok := MoveToFront(list, providerIndex)
	if !ok {
		return r, clierr.New(clierr.CodeNoSelectedProvider, fmt.Sprintf("provider %d is not available on the %s side", providerIndex, side))
	}
	out := r
	if side == SideSource {
		out.SourceProviders = reordered
		out.FromProvider = reordered[0].Provider
		out.FromHasTrade = reordered[0].HasTrade()
	} else {
		out.TargetProviders = reordered
		out.ToProvider = reordered[0].Provider
		out.ToHasTrade = reordered[0].HasTrade()
	}
	return out, nil
}

// MoveToFront returns a new list with the entry for providerIndex first. The
// input is not modified.
func MoveToFront(list []ProviderResult, providerIndex int) ([]ProviderResult, bool) {
	pos := -1
	for i, p := range list {
		if p.ProviderIndex == providerIndex {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, false
	}
	reordered := make([]ProviderResult, 0, len(list))
	reordered = append(reordered, list[pos])
	reordered = append(reordered, list[:pos]...)
	reordered = append(reordered, list[pos+1:]...)
	return reordered, true
}

// Leg is the provider set and transit token for one chain.
type Leg struct {
	Chain    id.Chain
	Builders []*trade.Builder
	Transit  id.Token
}

type Request struct {
	FromToken  id.Token
	ToToken    id.Token
	AmountIn   *big.Int
	Mode       estimator.Mode
	IncludeGas bool
	Sender     common.Address
}

type Aggregator struct {
	source Leg
	target Leg
	fee    BridgeFeeReader
	prices trade.PriceOracle
	log    zerolog.Logger
}

func New(source, target Leg, fee BridgeFeeReader, prices trade.PriceOracle, log zerolog.Logger) *Aggregator {
	return &Aggregator{source: source, target: target, fee: fee, prices: prices, log: log}
}

// Calculate runs the source leg, converts its output through the bridge fee,
// then runs the target leg on the bridged amount.
func (a *Aggregator) Calculate(ctx context.Context, req Request) (Result, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return Result{}, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	if req.FromToken.ChainID != a.source.Chain.CAIP2 || req.ToToken.ChainID != a.target.Chain.CAIP2 {
		return Result{}, clierr.New(clierr.CodeUnsupportedNetwork, "token chains do not match the configured legs")
	}

	src, err := a.runLeg(ctx, a.source, req.FromToken, a.source.Transit, req.AmountIn, req)
	if err != nil {
		return Result{}, err
	}
	srcOut := src[0].ToAmount

	fee := big.NewInt(0)
	if a.fee != nil {
		fee, err = a.fee.BridgeFee(ctx)
		if err != nil {
			return Result{}, err
		}
	}
	bridged := BridgedAmount(srcOut, fee)
	dstIn := ConvertDecimals(bridged, a.source.Transit.Decimals, a.target.Transit.Decimals)
	if dstIn.Sign() <= 0 {
		return Result{}, clierr.New(clierr.CodeInsufficientLiquidity, "insufficient liquidity: bridged amount is zero")
	}

	dst, err := a.runLeg(ctx, a.target, a.target.Transit, req.ToToken, dstIn, req)
	if err != nil {
		return Result{}, err
	}

	savings := big.NewInt(0)
	if len(dst) > 1 && dst[0].HasTrade() && dst[1].HasTrade() {
		savings = new(big.Int).Sub(dst[0].ToAmount, dst[1].ToAmount)
	}
	res := Result{
		SourceProviders: src,
		TargetProviders: dst,
		FromProvider:    src[0].Provider,
		ToProvider:      dst[0].Provider,
		FromHasTrade:    src[0].HasTrade(),
		ToHasTrade:      dst[0].HasTrade(),
		SourceTransit:   a.source.Transit,
		TargetTransit:   a.target.Transit,
		BridgeFee:       fee,
		BridgedAmount:   dstIn,
		Savings:         savings,
	}
	a.log.Info().
		Str("from_provider", res.FromProvider).
		Str("to_provider", res.ToProvider).
		Str("bridged", dstIn.String()).
		Str("to_amount", res.ToAmount().String()).
		Msg("smart routing calculated")
	return res, nil
}

// Single ranks every provider of one chain for a same-chain swap.
func Single(ctx context.Context, leg Leg, prices trade.PriceOracle, log zerolog.Logger, req Request) ([]ProviderResult, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	if req.FromToken.ChainID != leg.Chain.CAIP2 || req.ToToken.ChainID != leg.Chain.CAIP2 {
		return nil, clierr.New(clierr.CodeUnsupportedNetwork, "token chains do not match the configured leg")
	}
	if req.FromToken.Equal(req.ToToken) {
		return nil, clierr.New(clierr.CodeUsage, "from and to tokens are the same")
	}
	a := &Aggregator{source: leg, target: leg, prices: prices, log: log}
	return a.runLeg(ctx, leg, req.FromToken, req.ToToken, req.AmountIn, req)
}

// BridgedAmount is amount * (1e6 - fee) / 1e6.
func BridgedAmount(amount, fee *big.Int) *big.Int {
	out := new(big.Int).Sub(big.NewInt(FeeDenominator), fee)
	out.Mul(out, amount)
	return out.Quo(out, big.NewInt(FeeDenominator))
}

// ConvertDecimals rescales base units between token decimals, truncating.
func ConvertDecimals(amount *big.Int, from, to int) *big.Int {
	return id.ToBaseUnits(id.ToDecimal(amount, from), to)
}

func (a *Aggregator) runLeg(ctx context.Context, leg Leg, from, to id.Token, amountIn *big.Int, req Request) ([]ProviderResult, error) {
	if len(leg.Builders) == 0 {
		return nil, clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("no swap providers on %s", leg.Chain.Slug))
	}
	if from.Equal(to) {
		out := make([]ProviderResult, len(leg.Builders))
		for i, b := range leg.Builders {
			p := b.Provider()
			out[i] = ProviderResult{ProviderIndex: i, Provider: p.Info().Name, Dialect: p.Dialect(), ToAmount: new(big.Int).Set(amountIn)}
		}
		return out, nil
	}

	var mu sync.Mutex
	results := make([]ProviderResult, 0, len(leg.Builders))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range leg.Builders {
		g.Go(func() error {
			t, err := b.CalculateTrade(gctx, trade.Request{
				From: from, To: to, AmountIn: amountIn, IncludeGas: req.IncludeGas, Mode: req.Mode, Sender: req.Sender,
			})
			if err != nil {
				a.log.Debug().Err(err).Str("provider", b.Provider().Info().Name).Str("chain", leg.Chain.Slug).Msg("provider dropped")
				return nil
			}
			mu.Lock()
			results = append(results, ProviderResult{
				ProviderIndex: i,
				Provider:      t.Provider,
				Dialect:       t.Dialect,
				Trade:         &t,
				ToAmount:      new(big.Int).Set(t.To.Amount),
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if len(results) == 0 {
		return nil, clierr.New(clierr.CodeInsufficientLiquidity, fmt.Sprintf("insufficient liquidity: no provider on %s returned a trade", leg.Chain.Slug))
	}

	var price *decimal.Decimal
	if a.prices != nil {
		if p, err := a.prices.PriceUSD(ctx, to); err == nil {
			price = p
		}
	}
	for i := range results {
		results[i].ProfitUSD = profitOf(results[i], to, price)
	}
	Order(results)
	return results, nil
}

func profitOf(r ProviderResult, to id.Token, price *decimal.Decimal) *decimal.Decimal {
	if price == nil || r.Trade == nil {
		return nil
	}
	v := id.ToDecimal(r.ToAmount, to.Decimals).Mul(*price)
	if r.Trade.GasFeeUSD != nil {
		v = v.Sub(*r.Trade.GasFeeUSD)
	}
	return &v
}

// Order sorts best-first: trade-less entries last, then by USD profit when
// every entry is priced, otherwise by raw output. Ties keep provider order.
func Order(results []ProviderResult) {
	priced := true
	for _, r := range results {
		if r.HasTrade() && r.ProfitUSD == nil {
			priced = false
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.HasTrade() != b.HasTrade() {
			return a.HasTrade()
		}
		if priced && a.ProfitUSD != nil && b.ProfitUSD != nil && !a.ProfitUSD.Equal(*b.ProfitUSD) {
			return a.ProfitUSD.GreaterThan(*b.ProfitUSD)
		}
		if c := a.ToAmount.Cmp(b.ToAmount); c != 0 {
			return c > 0
		}
		return a.ProviderIndex < b.ProviderIndex
	})
}
