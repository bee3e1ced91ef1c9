package app

import (
	"context"
	"math/big"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xswap-cli/internal/cache"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/estimator"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
)

const quoteTTL = 15 * time.Second

// tradeArgs are the flags shared by single-chain quote and execution
// commands.
type tradeArgs struct {
	chainArg      string
	fromArg       string
	toArg         string
	amount        string
	amountDecimal string
	providers     string
	rpcURL        string
}

func (a *tradeArgs) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.chainArg, "chain", "", "Chain identifier")
	cmd.Flags().StringVar(&a.fromArg, "from", "", "Input token symbol/address/CAIP-19")
	cmd.Flags().StringVar(&a.toArg, "to", "", "Output token symbol/address/CAIP-19")
	cmd.Flags().StringVar(&a.amount, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&a.providers, "provider", "", "Restrict to providers (comma-separated)")
	cmd.Flags().StringVar(&a.rpcURL, "rpc-url", "", "RPC URL override for the selected chain")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

// resolve opens the chain and parses both tokens and the amount.
func (a tradeArgs) resolve(ctx context.Context, s *runtimeState) (chainEnv, id.Token, id.Token, *big.Int, error) {
	env, err := s.openChain(ctx, a.chainArg, a.rpcURL, splitCSV(a.providers))
	if err != nil {
		return chainEnv{}, id.Token{}, id.Token{}, nil, err
	}
	from, amount, err := parseTokenAmount(env.chain, a.fromArg, a.amount, a.amountDecimal)
	if err != nil {
		return chainEnv{}, id.Token{}, id.Token{}, nil, err
	}
	to, err := parseToken(env.chain, a.toArg)
	if err != nil {
		return chainEnv{}, id.Token{}, id.Token{}, nil, err
	}
	if from.Equal(to) {
		return chainEnv{}, id.Token{}, id.Token{}, nil, clierr.New(clierr.CodeUsage, "--from and --to must differ")
	}
	return env, from, to, amount, nil
}

func (a tradeArgs) cacheRequest(extra map[string]any) map[string]any {
	req := map[string]any{
		"chain":          a.chainArg,
		"from":           a.fromArg,
		"to":             a.toArg,
		"amount":         a.amount,
		"amount_decimal": a.amountDecimal,
		"providers":      splitCSV(a.providers),
		"rpc_url":        a.rpcURL,
	}
	for k, v := range extra {
		req[k] = v
	}
	return req
}

func amountInfo(token id.Token, amount *big.Int) model.AmountInfo {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return model.AmountInfo{
		AmountBaseUnits: amount.String(),
		AmountDecimal:   id.FormatDecimalCompat(amount.String(), token.Decimals),
		Decimals:        token.Decimals,
	}
}

func pathSymbols(path []id.Token) []string {
	out := make([]string, len(path))
	for i, t := range path {
		out[i] = t.Symbol
	}
	return out
}

func (s *runtimeState) newRouteCommand() *cobra.Command {
	root := &cobra.Command{Use: "route", Short: "Token graph routing commands"}

	var args tradeArgs
	var maxHops int
	find := &cobra.Command{
		Use:   "find",
		Short: "Enumerate and quote candidate paths on every provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxHops < 0 {
				return clierr.New(clierr.CodeUsage, "--max-hops must be >= 0")
			}
			path := trimRootPath(cmd.CommandPath())
			key := routeCacheKey(path, args, maxHops)
			return s.runCachedCommand(path, key, quoteTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				env, from, to, amount, err := args.resolve(ctx, s)
				if err != nil {
					return nil, nil, nil, false, err
				}
				return s.findRoutes(ctx, env, providers.RouteRequest{From: from, To: to, AmountIn: amount, MaxHops: maxHops})
			})
		},
	}
	args.register(find)
	find.Flags().IntVar(&maxHops, "max-hops", 2, "Maximum transit tokens per path (clamped per provider)")
	root.AddCommand(find)
	return root
}

func routeCacheKey(path string, args tradeArgs, maxHops int) string {
	return cache.QuoteKey(path, args.cacheRequest(map[string]any{"max_hops": maxHops}))
}

// findRoutes quotes every provider and ranks the union by output. A provider
// that fails is reported in the status list and marks the result partial.
func (s *runtimeState) findRoutes(ctx context.Context, env chainEnv, req providers.RouteRequest) (any, []model.ProviderStatus, []string, bool, error) {
	warnings := append([]string(nil), env.warnings...)
	statuses := make([]model.ProviderStatus, 0, len(env.leg.Builders))
	var all []providers.Route
	var firstErr error
	for _, b := range env.leg.Builders {
		start := time.Now()
		routes, err := b.Provider().FindRoutes(ctx, req)
		statuses = append(statuses, model.ProviderStatus{Name: b.Provider().Info().Name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		all = append(all, routes...)
	}
	if len(all) == 0 {
		if firstErr == nil || clierr.IsCode(firstErr, clierr.CodeInsufficientLiquidity) {
			firstErr = clierr.New(clierr.CodeInsufficientLiquidity, "insufficient liquidity: no provider returned a route")
		}
		return nil, statuses, warnings, false, firstErr
	}
	ranked, err := estimator.RankPlain(all)
	if err != nil {
		return nil, statuses, warnings, false, err
	}
	out := make([]model.RouteCandidate, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, model.RouteCandidate{
			Provider:     r.Provider,
			Path:         pathSymbols(r.Path),
			Hops:         r.Hops(),
			AmountOut:    amountInfo(r.To(), r.AmountOut),
			EstimatedGas: r.Gas,
		})
	}
	return out, statuses, warnings, firstErr != nil, nil
}
