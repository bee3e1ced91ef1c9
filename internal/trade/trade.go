// Package trade turns ranked routes into single-chain trades and executable
// swap actions.
package trade

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/estimator"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

const DefaultGasMargin = 1.2

// PriceOracle returns a USD price, or nil when the token is not priced.
type PriceOracle interface {
	PriceUSD(ctx context.Context, token id.Token) (*decimal.Decimal, error)
}

// Sender submits an action and reports each step's tx hash as soon as it is
// known.
type Sender interface {
	Address() common.Address
	Send(ctx context.Context, action *execution.Action, onTxHash func(stepID, txHash string)) error
}

type TokenAmount struct {
	Token  id.Token `json:"token"`
	Amount *big.Int `json:"amount"`
}

func (t TokenAmount) Decimal() decimal.Decimal {
	return id.ToDecimal(t.Amount, t.Token.Decimals)
}

// Trade is the result of one calculation. It is not mutated after return.
type Trade struct {
	Chain     id.Chain          `json:"chain"`
	Provider  string            `json:"provider"`
	Dialect   providers.Dialect `json:"dialect"`
	From      TokenAmount       `json:"from"`
	To        TokenAmount       `json:"to"`
	Path      []id.Token        `json:"path"`
	Route     providers.Route   `json:"-"`
	Router    common.Address    `json:"router"`
	GasLimit  uint64            `json:"gas_limit,omitempty"`
	GasPrice  *big.Int          `json:"gas_price,omitempty"`
	GasFeeUSD *decimal.Decimal  `json:"gas_fee_usd,omitempty"`
	ProfitUSD *decimal.Decimal  `json:"profit_usd,omitempty"`
}

type Request struct {
	From       id.Token
	To         id.Token
	AmountIn   *big.Int
	IncludeGas bool
	Mode       estimator.Mode
	// Sender enables live gas estimates when set.
	Sender common.Address
}

type Options struct {
	Reader           evm.Reader
	Prices           PriceOracle
	FeeProxy         *FeeProxy
	GasMargin        float64
	RPCURL           string
	DisableMultihops bool
	Logger           zerolog.Logger
	Now              func() time.Time
}

type Builder struct {
	provider         providers.SwapProvider
	reader           evm.Reader
	prices           PriceOracle
	feeProxy         *FeeProxy
	gasMargin        float64
	rpcURL           string
	disableMultihops bool
	log              zerolog.Logger
	now              func() time.Time
}

func NewBuilder(provider providers.SwapProvider, opts Options) *Builder {
	margin := opts.GasMargin
	if margin <= 0 {
		margin = DefaultGasMargin
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Builder{
		provider:         provider,
		reader:           opts.Reader,
		prices:           opts.Prices,
		feeProxy:         opts.FeeProxy,
		gasMargin:        margin,
		rpcURL:           opts.RPCURL,
		disableMultihops: opts.DisableMultihops,
		log:              opts.Logger.With().Str("provider", provider.Info().Name).Logger(),
		now:              now,
	}
}

func (b *Builder) Provider() providers.SwapProvider { return b.provider }

// maxHops is larger than any configured transit cap; routers clamp it.
const maxHops = 8

// CalculateTrade searches, ranks and returns the best trade for this provider.
func (b *Builder) CalculateTrade(ctx context.Context, req Request) (Trade, error) {
	if err := b.checkNetwork(req.From, req.To); err != nil {
		return Trade{}, err
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return Trade{}, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	hops := maxHops
	if b.disableMultihops {
		hops = 0
	}
	routes, err := b.provider.FindRoutes(ctx, providers.RouteRequest{
		From: req.From, To: req.To, AmountIn: req.AmountIn, MaxHops: hops, Sender: req.Sender,
	})
	if err != nil {
		return Trade{}, err
	}

	rankOpts := estimator.RankOptions{
		Mode:     req.Mode,
		Defaults: b.provider.GasDefaults(),
		Logger:   b.log,
	}
	var gasPrice *big.Int
	var nativePrice *decimal.Decimal
	if req.Mode == estimator.ModeProfit || req.IncludeGas {
		gasPrice, nativePrice = b.gasPricing(ctx)
	}
	if req.Mode == estimator.ModeProfit {
		toPrice := b.price(ctx, req.To)
		if toPrice == nil || gasPrice == nil || nativePrice == nil {
			b.log.Info().Msg("prices unavailable, ranking by output")
			rankOpts.Mode = estimator.ModePlain
		} else {
			gasUSD := estimator.GasPriceUSD(gasPrice, *nativePrice)
			rankOpts.ToPriceUSD = toPrice
			rankOpts.GasPriceUSD = &gasUSD
			if req.Sender != (common.Address{}) {
				rankOpts.Estimator = b.routeGasEstimator(req.Sender)
			}
		}
	}
	ranked, err := estimator.Rank(ctx, routes, rankOpts)
	if err != nil {
		return Trade{}, err
	}
	best := ranked[0]

	t := Trade{
		Chain:    b.provider.Chain(),
		Provider: b.provider.Info().Name,
		Dialect:  b.provider.Dialect(),
		From:     TokenAmount{Token: req.From, Amount: new(big.Int).Set(req.AmountIn)},
		To:       TokenAmount{Token: req.To, Amount: new(big.Int).Set(best.AmountOut)},
		Path:     append([]id.Token(nil), best.Path...),
		Route:    best.Route,
		Router:   b.provider.Router(),
	}
	if rankOpts.Mode == estimator.ModeProfit {
		profit := best.Profit
		t.ProfitUSD = &profit
	}
	if req.IncludeGas {
		gas := best.EstimatedGas
		if gas == 0 {
			gas, _ = b.estimateRouteGas(ctx, req.Sender, best.Route)
		}
		t.GasLimit = uint64(decimal.NewFromInt(int64(gas)).Mul(decimal.NewFromFloat(b.gasMargin)).IntPart())
		if gasPrice != nil {
			t.GasPrice = gasPrice
			if nativePrice != nil {
				fee := GasFeeUSD(gasPrice, *nativePrice, t.GasLimit)
				t.GasFeeUSD = &fee
			}
		}
	}
	b.log.Debug().
		Int("routes", len(routes)).
		Int("hops", best.Hops()).
		Str("amount_out", best.AmountOut.String()).
		Msg("trade calculated")
	return t, nil
}

// GasFeeUSD is gasPrice/1e18 * nativePriceUSD * gasLimit.
func GasFeeUSD(gasPrice *big.Int, nativePriceUSD decimal.Decimal, gasLimit uint64) decimal.Decimal {
	return id.ToDecimal(gasPrice, 18).Mul(nativePriceUSD).Mul(decimal.NewFromInt(int64(gasLimit)))
}

func (b *Builder) checkNetwork(from, to id.Token) error {
	chain := b.provider.Chain()
	if from.ChainID != chain.CAIP2 || to.ChainID != chain.CAIP2 {
		return clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("%s does not support this network pair", b.provider.Info().Name))
	}
	for _, supported := range registry.SupportedSwapChains() {
		if supported == chain.EVMChainID {
			return nil
		}
	}
	return clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("network %s is not supported", chain.Slug))
}

func (b *Builder) price(ctx context.Context, token id.Token) *decimal.Decimal {
	if b.prices == nil {
		return nil
	}
	p, err := b.prices.PriceUSD(ctx, token)
	if err != nil {
		b.log.Debug().Err(err).Str("token", token.Symbol).Msg("price lookup failed")
		return nil
	}
	return p
}

func (b *Builder) gasPricing(ctx context.Context) (*big.Int, *decimal.Decimal) {
	if b.reader == nil {
		return nil, nil
	}
	gasPrice, err := b.reader.SuggestGasPrice(ctx)
	if err != nil {
		b.log.Debug().Err(err).Msg("gas price unavailable")
		return nil, nil
	}
	native, ok := id.NativeToken(b.provider.Chain().CAIP2)
	if !ok {
		return gasPrice, nil
	}
	return gasPrice, b.price(ctx, native)
}

func (b *Builder) routeGasEstimator(sender common.Address) estimator.GasEstimator {
	return estimator.GasEstimatorFunc(func(ctx context.Context, route providers.Route) (uint64, error) {
		return b.liveGas(ctx, sender, route)
	})
}

func (b *Builder) liveGas(ctx context.Context, sender common.Address, route providers.Route) (uint64, error) {
	if b.reader == nil {
		return 0, fmt.Errorf("no chain reader")
	}
	call, err := b.provider.BuildSwapCall(ctx, providers.SwapParams{
		Route:        route,
		AmountOutMin: providers.AmountOutMin(route.AmountOut, decimal.Zero),
		Sender:       sender,
		Recipient:    sender,
		Deadline:     providers.Deadline(b.now(), 20),
	})
	if err != nil {
		return 0, err
	}
	return b.reader.EstimateGas(ctx, ethereum.CallMsg{From: sender, To: &call.To, Value: call.Value, Data: call.Data})
}

func (b *Builder) estimateRouteGas(ctx context.Context, sender common.Address, route providers.Route) (uint64, bool) {
	if sender != (common.Address{}) {
		if gas, err := b.liveGas(ctx, sender, route); err == nil && gas > 0 {
			return gas, false
		}
	}
	if route.Gas > 0 {
		return route.Gas, false
	}
	return b.provider.GasDefaults().For(providers.DirectionFor(route.From(), route.To()), route.Hops()), true
}
