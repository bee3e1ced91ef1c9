// Package routing enumerates transit paths over a routing-token whitelist and
// quotes them in a single multicall batch.
package routing

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/metrics"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
)

// Quoter is the dialect-specific half of route search.
type Quoter interface {
	QuoteCall(path []id.Token, amountIn *big.Int) (evm.Call, error)
	DecodeQuote(out []byte) (*big.Int, error)
}

type Router struct {
	provider   string
	reader     evm.Reader
	quoter     Quoter
	vertices   []id.Token
	maxTransit int
	log        zerolog.Logger
}

type Option func(*Router)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Router) { r.log = log }
}

func New(provider string, reader evm.Reader, quoter Quoter, vertices []id.Token, maxTransit int, opts ...Option) *Router {
	r := &Router{
		provider:   provider,
		reader:     reader,
		quoter:     quoter,
		vertices:   append([]id.Token(nil), vertices...),
		maxTransit: maxTransit,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxTransit is the hop cap applied to every request.
func (r *Router) MaxTransit() int { return r.maxTransit }

func (r *Router) FindRoutes(ctx context.Context, req providers.RouteRequest) ([]providers.Route, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	start := time.Now()
	defer func() {
		metrics.RouteSearchDuration.WithLabelValues(r.provider).Observe(time.Since(start).Seconds())
	}()

	hops := req.MaxHops
	if hops > r.maxTransit {
		hops = r.maxTransit
	}
	if hops < 0 {
		hops = 0
	}
	vertices := excludeEndpoints(r.vertices, req.From, req.To)
	paths := EnumeratePaths(req.From, req.To, vertices, hops)

	calls := make([]evm.Call, len(paths))
	for i, path := range paths {
		call, err := r.quoter.QuoteCall(path, req.AmountIn)
		if err != nil {
			return nil, err
		}
		calls[i] = call
	}
	metrics.RouteCandidates.WithLabelValues(r.provider).Add(float64(len(paths)))

	results, err := r.reader.Multicall(ctx, calls)
	if err != nil {
		return nil, err
	}

	routes := make([]providers.Route, 0, len(results))
	for i, res := range results {
		if !res.Success {
			continue
		}
		out, err := r.quoter.DecodeQuote(res.ReturnData)
		if err != nil || out == nil || out.Sign() <= 0 {
			continue
		}
		routes = append(routes, providers.Route{
			Provider:  r.provider,
			Path:      paths[i],
			AmountIn:  new(big.Int).Set(req.AmountIn),
			AmountOut: out,
		})
	}
	if dropped := len(paths) - len(routes); dropped > 0 {
		metrics.QuoteFailures.WithLabelValues(r.provider).Add(float64(dropped))
	}
	r.log.Debug().
		Int("candidates", len(paths)).
		Int("quoted", len(routes)).
		Int("max_hops", hops).
		Msg("route search finished")

	if len(routes) == 0 {
		return nil, clierr.New(clierr.CodeInsufficientLiquidity, "insufficient liquidity: no route returned a quote")
	}
	return routes, nil
}

// EnumeratePaths returns every from -> v1 .. vh -> to path for h in
// 0..maxHops with distinct vertices. The count for h hops is P(n, h).
func EnumeratePaths(from, to id.Token, vertices []id.Token, maxHops int) [][]id.Token {
	var out [][]id.Token
	used := make([]bool, len(vertices))

	var walk func(prefix []id.Token, remaining int)
	walk = func(prefix []id.Token, remaining int) {
		if remaining == 0 {
			path := make([]id.Token, 0, len(prefix)+1)
			path = append(path, prefix...)
			out = append(out, append(path, to))
			return
		}
		for i, v := range vertices {
			if used[i] {
				continue
			}
			used[i] = true
			walk(append(prefix, v), remaining-1)
			used[i] = false
		}
	}

	for h := 0; h <= maxHops && h <= len(vertices); h++ {
		walk([]id.Token{from}, h)
	}
	return out
}

// excludeEndpoints drops vertices matching either endpoint by configured
// address. Native endpoints are not mapped to their wrapped token here, so a
// native swap still quotes the path through wrapped native. A path that
// repeats the wrapped token after substitution fails its quote and is dropped.
func excludeEndpoints(vertices []id.Token, from, to id.Token) []id.Token {
	out := make([]id.Token, 0, len(vertices))
	for _, v := range vertices {
		if strings.EqualFold(v.Address, from.Address) || strings.EqualFold(v.Address, to.Address) {
			continue
		}
		out = append(out, v)
	}
	return out
}
