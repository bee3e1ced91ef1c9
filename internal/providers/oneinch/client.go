package oneinch

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/httpx"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

const KeyEnvVar = "XSWAP_1INCH_API_KEY"

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	chain   id.Chain
	router  common.Address
	wrapped id.Token
	gas     providers.GasTable
}

func New(httpClient *httpx.Client, apiKey string, chain id.Chain, dep registry.DexDeployment) (*Client, error) {
	if dep.Dialect != registry.DialectAggregator {
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("%s is not an aggregator deployment", dep.Provider))
	}
	wrapped, ok := id.KnownToken(chain.CAIP2, dep.WrappedNative)
	if !ok {
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("1inch: wrapped native %s not registered on %s", dep.WrappedNative, chain.Slug))
	}
	return &Client{
		http:    httpClient,
		baseURL: registry.OneInchBaseURL,
		apiKey:  apiKey,
		chain:   chain,
		router:  common.HexToAddress(dep.Router),
		wrapped: wrapped,
		gas:     providers.DefaultGasTable(),
	}, nil
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "1inch",
		Type:          "swap",
		RequiresKey:   true,
		KeyEnvVarName: KeyEnvVar,
		Capabilities: []string{
			"swap.quote",
			"swap.execute",
		},
		CapabilityAuth: []model.ProviderCapabilityAuth{
			{Capability: "swap.quote", KeyEnvVar: KeyEnvVar},
			{Capability: "swap.execute", KeyEnvVar: KeyEnvVar},
		},
	}
}

func (c *Client) Dialect() providers.Dialect      { return providers.DialectAggregator }
func (c *Client) Chain() id.Chain                 { return c.chain }
func (c *Client) Router() common.Address          { return c.router }
func (c *Client) WrappedNative() id.Token         { return c.wrapped }
func (c *Client) GasDefaults() providers.GasTable { return c.gas }

type quoteResponse struct {
	DstAmount string  `json:"dstAmount"`
	Gas       float64 `json:"gas"`
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		From  string `json:"from"`
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   uint64 `json:"gas"`
	} `json:"tx"`
}

// apiAddress maps native tokens to the 0xEeee sentinel the API expects.
func apiAddress(t id.Token) string {
	if t.IsNative() {
		return "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"
	}
	return t.Address
}

// FindRoutes returns the single aggregator route. Path holds only the endpoints.
func (c *Client) FindRoutes(ctx context.Context, req providers.RouteRequest) ([]providers.Route, error) {
	if err := c.checkRequest(); err != nil {
		return nil, err
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	vals := url.Values{}
	vals.Set("src", apiAddress(req.From))
	vals.Set("dst", apiAddress(req.To))
	vals.Set("amount", req.AmountIn.String())
	vals.Set("includeGas", "true")

	var resp quoteResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.endpoint("quote", vals), c.headers(), &resp); err != nil {
		return nil, err
	}
	out, ok := new(big.Int).SetString(resp.DstAmount, 10)
	if !ok || out.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeInsufficientLiquidity, "insufficient liquidity: 1inch returned no output")
	}
	return []providers.Route{{
		Provider:  "1inch",
		Path:      []id.Token{req.From, req.To},
		AmountIn:  new(big.Int).Set(req.AmountIn),
		AmountOut: out,
		Gas:       uint64(resp.Gas),
	}}, nil
}

// BuildSwapCall fetches router calldata from the /swap endpoint.
func (c *Client) BuildSwapCall(ctx context.Context, params providers.SwapParams) (providers.SwapCall, error) {
	if err := c.checkRequest(); err != nil {
		return providers.SwapCall{}, err
	}
	route := params.Route
	if len(route.Path) < 2 || route.AmountIn == nil || route.AmountIn.Sign() <= 0 {
		return providers.SwapCall{}, clierr.New(clierr.CodeUsage, "invalid aggregator route")
	}
	if params.Sender == (common.Address{}) {
		return providers.SwapCall{}, clierr.New(clierr.CodeUsage, "1inch swap requires a sender address")
	}
	vals := url.Values{}
	vals.Set("src", apiAddress(route.From()))
	vals.Set("dst", apiAddress(route.To()))
	vals.Set("amount", route.AmountIn.String())
	vals.Set("from", params.Sender.Hex())
	vals.Set("origin", params.Sender.Hex())
	if params.Recipient != (common.Address{}) {
		vals.Set("receiver", params.Recipient.Hex())
	}
	vals.Set("slippage", params.Slippage.Shift(2).String())
	vals.Set("disableEstimate", "true")

	var resp swapResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.endpoint("swap", vals), c.headers(), &resp); err != nil {
		return providers.SwapCall{}, err
	}
	data, err := hexutil.Decode(resp.Tx.Data)
	if err != nil || len(data) < 4 {
		return providers.SwapCall{}, clierr.New(clierr.CodeUnavailable, "1inch swap response missing calldata")
	}
	if !common.IsHexAddress(resp.Tx.To) {
		return providers.SwapCall{}, clierr.New(clierr.CodeUnavailable, "1inch swap response missing router")
	}
	value := big.NewInt(0)
	if strings.TrimSpace(resp.Tx.Value) != "" {
		v, ok := new(big.Int).SetString(resp.Tx.Value, 10)
		if !ok {
			return providers.SwapCall{}, clierr.New(clierr.CodeUnavailable, "1inch swap response has invalid value")
		}
		value = v
	}
	return providers.SwapCall{
		To:     common.HexToAddress(resp.Tx.To),
		Method: "swap",
		Value:  value,
		Data:   data,
		Gas:    resp.Tx.Gas,
	}, nil
}

func (c *Client) checkRequest() error {
	if !c.chain.IsEVM() {
		return clierr.New(clierr.CodeUnsupported, "1inch supports only EVM chains")
	}
	if c.apiKey == "" {
		return clierr.New(clierr.CodeAuth, "missing required API key for 1inch ("+KeyEnvVar+")")
	}
	return nil
}

func (c *Client) endpoint(method string, vals url.Values) string {
	chainID := strconv.FormatInt(c.chain.EVMChainID, 10)
	return fmt.Sprintf("%s/swap/v6.0/%s/%s?%s", strings.TrimRight(c.baseURL, "/"), chainID, method, vals.Encode())
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}
