package estimator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
)

var (
	usdc = id.MustToken("eip155:1", "USDC")
	dai  = id.MustToken("eip155:1", "DAI")
	weth = id.MustToken("eip155:1", "WETH")
	usdt = id.MustToken("eip155:1", "USDT")
)

func route(out int64, path ...id.Token) providers.Route {
	return providers.Route{Provider: "test", Path: path, AmountIn: big.NewInt(1_000_000), AmountOut: big.NewInt(out)}
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestRankPlainOrdersByOutputThenLength(t *testing.T) {
	routes := []providers.Route{
		route(100, usdc, weth, dai),
		route(300, usdc, weth, usdt, dai),
		route(100, usdc, dai),
		route(300, usdc, usdt, dai),
	}
	ranked, err := Rank(context.Background(), routes, RankOptions{Mode: ModePlain})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	want := []int{3, 4, 2, 3}
	for i, r := range ranked {
		if len(r.Path) != want[i] {
			t.Fatalf("position %d: expected path length %d, got %d", i, want[i], len(r.Path))
		}
	}
	if ranked[0].AmountOut.Int64() != 300 || ranked[3].AmountOut.Int64() != 100 {
		t.Fatalf("unexpected order: %v", ranked)
	}
}

func TestRankPlainIsIdempotent(t *testing.T) {
	routes := []providers.Route{route(5, usdc, dai), route(9, usdc, weth, dai), route(5, usdc, usdt, dai)}
	first, err := RankPlain(routes)
	if err != nil {
		t.Fatalf("RankPlain failed: %v", err)
	}
	again := make([]providers.Route, len(first))
	for i, r := range first {
		again[i] = r.Route
	}
	second, err := RankPlain(again)
	if err != nil {
		t.Fatalf("RankPlain failed: %v", err)
	}
	for i := range first {
		if first[i].AmountOut.Cmp(second[i].AmountOut) != 0 || len(first[i].Path) != len(second[i].Path) {
			t.Fatalf("ranking changed at %d", i)
		}
	}
}

func TestRankPlainEmptyIsInsufficientLiquidity(t *testing.T) {
	_, err := Rank(context.Background(), nil, RankOptions{Mode: ModePlain})
	if !clierr.IsCode(err, clierr.CodeInsufficientLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
}

func TestRankProfitExcludesNonPositiveOutputs(t *testing.T) {
	routes := []providers.Route{route(0, usdc, dai), route(-1, usdc, weth, dai)}
	_, err := Rank(context.Background(), routes, RankOptions{
		Mode: ModeProfit, ToPriceUSD: decPtr("1"), GasPriceUSD: decPtr("0.000001"),
	})
	if !clierr.IsCode(err, clierr.CodeUnprofitableRoutes) {
		t.Fatalf("expected unprofitable routes error, got %v", err)
	}

	routes = append(routes, route(2e18, usdc, weth, dai))
	ranked, err := Rank(context.Background(), routes, RankOptions{
		Mode: ModeProfit, ToPriceUSD: decPtr("1"), GasPriceUSD: decPtr("0.000001"),
	})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("expected non-positive outputs to be excluded, got %d", len(ranked))
	}
}

func TestRankProfitPrefersCheaperGas(t *testing.T) {
	// Same output; the direct route saves 50k gas at the default table.
	routes := []providers.Route{route(1e18, usdc, weth, dai), route(1e18, usdc, dai)}
	ranked, err := Rank(context.Background(), routes, RankOptions{
		Mode: ModeProfit, ToPriceUSD: decPtr("1"), GasPriceUSD: decPtr("0.00001"),
	})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(ranked[0].Path) != 2 {
		t.Fatalf("expected the direct route first, got %d tokens", len(ranked[0].Path))
	}
	if ranked[0].EstimatedGas != 150_000 || !ranked[0].GasFromDefault {
		t.Fatalf("expected default gas 150000, got %d", ranked[0].EstimatedGas)
	}
	// 1 DAI - 150000 * 0.00001 = -0.5
	if !ranked[0].Profit.Equal(decimal.RequireFromString("-0.5")) {
		t.Fatalf("unexpected profit %s", ranked[0].Profit)
	}
}

func TestRankProfitLiveEstimateOverridesDefault(t *testing.T) {
	est := GasEstimatorFunc(func(_ context.Context, r providers.Route) (uint64, error) {
		if len(r.Path) == 2 {
			return 0, errors.New("execution reverted")
		}
		return 90_000, nil
	})
	routes := []providers.Route{route(1e18, usdc, dai), route(1e18, usdc, weth, dai)}
	ranked, err := Rank(context.Background(), routes, RankOptions{
		Mode: ModeProfit, ToPriceUSD: decPtr("1"), GasPriceUSD: decPtr("0.00001"), Estimator: est,
	})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if len(ranked[0].Path) != 3 || ranked[0].EstimatedGas != 90_000 || ranked[0].GasFromDefault {
		t.Fatalf("expected the live-estimated route first, got %+v", ranked[0])
	}
	if ranked[1].EstimatedGas != 150_000 || !ranked[1].GasFromDefault {
		t.Fatalf("expected fallback default for failed estimate, got %+v", ranked[1])
	}
}

func TestRankProfitRequiresPrices(t *testing.T) {
	_, err := Rank(context.Background(), []providers.Route{route(1, usdc, dai)}, RankOptions{Mode: ModeProfit})
	if !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestGasPriceUSD(t *testing.T) {
	// 20 gwei at 3000 USD per ETH.
	got := GasPriceUSD(big.NewInt(20_000_000_000), decimal.NewFromInt(3000))
	if !got.Equal(decimal.RequireFromString("0.00006")) {
		t.Fatalf("unexpected gas price usd %s", got)
	}
}
