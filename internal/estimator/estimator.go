// Package estimator ranks quoted routes by output or by USD profit net of gas.
package estimator

import (
	"context"
	"math/big"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/metrics"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
)

type Mode string

const (
	ModePlain  Mode = "plain"
	ModeProfit Mode = "profit"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModePlain, "":
		return ModePlain, true
	case ModeProfit:
		return ModeProfit, true
	default:
		return "", false
	}
}

// GasEstimator returns a live gas limit for executing a route.
type GasEstimator interface {
	EstimateGas(ctx context.Context, route providers.Route) (uint64, error)
}

type GasEstimatorFunc func(ctx context.Context, route providers.Route) (uint64, error)

func (f GasEstimatorFunc) EstimateGas(ctx context.Context, route providers.Route) (uint64, error) {
	return f(ctx, route)
}

type RankedRoute struct {
	providers.Route
	EstimatedGas   uint64          `json:"estimated_gas"`
	GasFromDefault bool            `json:"gas_from_default"`
	Profit         decimal.Decimal `json:"profit_usd"`
}

type RankOptions struct {
	Mode Mode
	// ToPriceUSD prices the output token. Required in profit mode.
	ToPriceUSD *decimal.Decimal
	// GasPriceUSD is the USD cost of one gas unit. Required in profit mode.
	GasPriceUSD *decimal.Decimal
	Estimator   GasEstimator
	Defaults    providers.GasTable
	Logger      zerolog.Logger
}

func Rank(ctx context.Context, routes []providers.Route, opts RankOptions) ([]RankedRoute, error) {
	switch opts.Mode {
	case ModeProfit:
		return rankProfit(ctx, routes, opts)
	case ModePlain, "":
		return RankPlain(routes)
	default:
		return nil, clierr.New(clierr.CodeUsage, "unsupported ranking mode "+string(opts.Mode))
	}
}

// RankPlain orders by output descending and then by path length ascending.
func RankPlain(routes []providers.Route) ([]RankedRoute, error) {
	if len(routes) == 0 {
		return nil, clierr.New(clierr.CodeInsufficientLiquidity, "insufficient liquidity: no routes to rank")
	}
	ranked := make([]RankedRoute, len(routes))
	for i, r := range routes {
		ranked[i] = RankedRoute{Route: r}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		c := amountOf(ranked[i].AmountOut).Cmp(amountOf(ranked[j].AmountOut))
		if c != 0 {
			return c > 0
		}
		return len(ranked[i].Path) < len(ranked[j].Path)
	})
	return ranked, nil
}

func rankProfit(ctx context.Context, routes []providers.Route, opts RankOptions) ([]RankedRoute, error) {
	if opts.ToPriceUSD == nil || opts.GasPriceUSD == nil {
		return nil, clierr.New(clierr.CodeUsage, "profit ranking requires output and gas prices")
	}
	candidates := make([]RankedRoute, 0, len(routes))
	for _, r := range routes {
		if r.AmountOut == nil || r.AmountOut.Sign() <= 0 {
			continue
		}
		candidates = append(candidates, RankedRoute{Route: r})
	}
	if len(candidates) == 0 {
		return nil, clierr.New(clierr.CodeUnprofitableRoutes, "insufficient liquidity: no route has a positive output")
	}

	defaults := opts.Defaults
	if defaults == nil {
		defaults = providers.DefaultGasTable()
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := range candidates {
		c := &candidates[i]
		g.Go(func() error {
			c.EstimatedGas, c.GasFromDefault = estimateOne(gctx, opts.Estimator, defaults, c.Route)
			return nil
		})
	}
	_ = g.Wait()

	for i := range candidates {
		c := &candidates[i]
		if c.GasFromDefault {
			metrics.GasEstimateFallbacks.Inc()
		}
		c.Profit = Profit(c.AmountOut, c.To(), *opts.ToPriceUSD, c.EstimatedGas, *opts.GasPriceUSD)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Profit.Equal(candidates[j].Profit) {
			return candidates[i].Profit.GreaterThan(candidates[j].Profit)
		}
		return candidates[i].AmountOut.Cmp(candidates[j].AmountOut) > 0
	})
	opts.Logger.Debug().
		Int("routes", len(candidates)).
		Str("best_profit_usd", candidates[0].Profit.StringFixed(4)).
		Msg("ranked routes by profit")
	return candidates, nil
}

// estimateOne prefers a live estimate, then the provider gas hint, then the
// per-hop default.
func estimateOne(ctx context.Context, est GasEstimator, defaults providers.GasTable, r providers.Route) (uint64, bool) {
	if est != nil {
		if gas, err := est.EstimateGas(ctx, r); err == nil && gas > 0 {
			return gas, false
		}
	}
	if r.Gas > 0 {
		return r.Gas, false
	}
	return defaults.For(providers.DirectionFor(r.From(), r.To()), r.Hops()), true
}

// Profit is out/10^decimals * price - gas * gasPriceUSD.
func Profit(out *big.Int, to id.Token, priceUSD decimal.Decimal, gas uint64, gasPriceUSD decimal.Decimal) decimal.Decimal {
	value := id.ToDecimal(amountOf(out), to.Decimals).Mul(priceUSD)
	cost := decimal.NewFromInt(int64(gas)).Mul(gasPriceUSD)
	return value.Sub(cost)
}

// GasPriceUSD converts a wei gas price into USD per gas unit.
func GasPriceUSD(gasPriceWei *big.Int, nativePriceUSD decimal.Decimal) decimal.Decimal {
	return id.ToDecimal(amountOf(gasPriceWei), 18).Mul(nativePriceUSD)
}

func amountOf(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
