// Package defillama serves USD token prices from the DefiLlama coins API.
package defillama

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xswap-cli/internal/httpx"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

// llamaChains maps EVM chain IDs to the coins API chain prefix and the
// coingecko id used for the chain's native currency.
var llamaChains = map[int64]struct {
	prefix string
	native string
}{
	1:     {"ethereum", "ethereum"},
	10:    {"optimism", "ethereum"},
	56:    {"bsc", "binancecoin"},
	137:   {"polygon", "matic-network"},
	250:   {"fantom", "fantom"},
	1285:  {"moonriver", "moonriver"},
	8453:  {"base", "ethereum"},
	42161: {"arbitrum", "ethereum"},
	43114: {"avax", "avalanche-2"},
}

const solanaPrefix = "solana"

type Client struct {
	http      *httpx.Client
	coinsBase string
	now       func() time.Time
}

func New(httpClient *httpx.Client) *Client {
	return &Client{
		http:      httpClient,
		coinsBase: registry.DefiLlamaCoinsURL,
		now:       time.Now,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "defillama",
		Type:         "prices",
		RequiresKey:  false,
		Capabilities: []string{"prices.current"},
	}
}

type coinPrice struct {
	Price      float64 `json:"price"`
	Symbol     string  `json:"symbol"`
	Decimals   int     `json:"decimals"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

type pricesResponse struct {
	Coins map[string]coinPrice `json:"coins"`
}

// CoinKey is the coins API identifier for a token.
func CoinKey(token id.Token) (string, bool) {
	chain, err := id.ParseChain(token.ChainID)
	if err != nil {
		return "", false
	}
	if chain.IsSolana() {
		return solanaPrefix + ":" + token.Address, true
	}
	info, ok := llamaChains[chain.EVMChainID]
	if !ok {
		return "", false
	}
	if token.IsNative() {
		return "coingecko:" + info.native, true
	}
	return info.prefix + ":" + strings.ToLower(token.Address), true
}

// PriceUSD returns the current USD price, or nil when the token is unknown.
func (c *Client) PriceUSD(ctx context.Context, token id.Token) (*decimal.Decimal, error) {
	key, ok := CoinKey(token)
	if !ok {
		return nil, nil
	}
	prices, err := c.fetch(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	p, ok := prices[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// PricesUSD resolves several tokens in one request. Unknown tokens are absent
// from the result, which is keyed by CoinKey.
func (c *Client) PricesUSD(ctx context.Context, tokens []id.Token) (map[string]decimal.Decimal, error) {
	seen := map[string]bool{}
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		key, ok := CoinKey(t)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	sort.Strings(keys)
	return c.fetch(ctx, keys)
}

func (c *Client) fetch(ctx context.Context, keys []string) (map[string]decimal.Decimal, error) {
	escaped := make([]string, len(keys))
	for i, k := range keys {
		escaped[i] = url.PathEscape(k)
	}
	endpoint := fmt.Sprintf("%s/prices/current/%s", strings.TrimRight(c.coinsBase, "/"), strings.Join(escaped, ","))
	var resp pricesResponse
	if _, err := httpx.GetJSON(ctx, c.http, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(resp.Coins))
	for k, v := range resp.Coins {
		if v.Price <= 0 {
			continue
		}
		out[k] = decimal.NewFromFloat(v.Price)
	}
	return out, nil
}
