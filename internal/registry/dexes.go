package registry

// Dialect names shared with internal/providers.
const (
	DialectV2         = "v2"
	DialectV3         = "v3"
	DialectAggregator = "aggregator"
)

const (
	uniswapV3Router = "0xE592427A0AEce92De3Edee1F18E0157C05861564"
	uniswapV3Quoter = "0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"
	oneInchRouterV6 = "0x111111125421cA6dc452d289314280a0f8842A65"
)

// DexDeployment describes one swap provider on one chain. Token fields are
// registry symbols resolved through internal/id.
type DexDeployment struct {
	Provider         string
	Dialect          string
	Router           string
	Quoter           string
	WrappedNative    string
	RoutingTokens    []string
	MaxTransitTokens int
	FeeTier          uint32
}

var dexDeploymentsByChainID = map[int64][]DexDeployment{
	1: {
		{Provider: "uniswap-v2", Dialect: DialectV2, Router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", WrappedNative: "WETH", RoutingTokens: []string{"WETH", "USDC", "USDT", "DAI"}, MaxTransitTokens: 2},
		{Provider: "sushiswap", Dialect: DialectV2, Router: "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F", WrappedNative: "WETH", RoutingTokens: []string{"WETH", "USDC", "USDT", "DAI"}, MaxTransitTokens: 2},
		{Provider: "uniswap-v3", Dialect: DialectV3, Router: uniswapV3Router, Quoter: uniswapV3Quoter, WrappedNative: "WETH", RoutingTokens: []string{"WETH", "USDC", "USDT", "DAI"}, MaxTransitTokens: 1, FeeTier: 3000},
		{Provider: "1inch", Dialect: DialectAggregator, Router: oneInchRouterV6, WrappedNative: "WETH"},
	},
	56: {
		{Provider: "pancakeswap", Dialect: DialectV2, Router: "0x10ED43C718714eb63d5aA57B78B54704E256024E", WrappedNative: "WBNB", RoutingTokens: []string{"WBNB", "BUSD", "USDT", "USDC", "WETH"}, MaxTransitTokens: 2},
		{Provider: "1inch", Dialect: DialectAggregator, Router: oneInchRouterV6, WrappedNative: "WBNB"},
	},
	137: {
		{Provider: "quickswap", Dialect: DialectV2, Router: "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff", WrappedNative: "WMATIC", RoutingTokens: []string{"WMATIC", "USDC", "USDT", "DAI", "WETH"}, MaxTransitTokens: 2},
		{Provider: "uniswap-v3", Dialect: DialectV3, Router: uniswapV3Router, Quoter: uniswapV3Quoter, WrappedNative: "WMATIC", RoutingTokens: []string{"WMATIC", "USDC", "WETH"}, MaxTransitTokens: 1, FeeTier: 3000},
		{Provider: "1inch", Dialect: DialectAggregator, Router: oneInchRouterV6, WrappedNative: "WMATIC"},
	},
	43114: {
		{Provider: "pangolin", Dialect: DialectV2, Router: "0xE54Ca86531e17Ef3616d22Ca28b0D458b6C89106", WrappedNative: "WAVAX", RoutingTokens: []string{"WAVAX", "USDC", "USDT", "DAI", "WETH"}, MaxTransitTokens: 2},
		{Provider: "1inch", Dialect: DialectAggregator, Router: oneInchRouterV6, WrappedNative: "WAVAX"},
	},
	250: {
		{Provider: "spookyswap", Dialect: DialectV2, Router: "0xF491e7B69E4244ad4002BC14e878a34207E38c29", WrappedNative: "WFTM", RoutingTokens: []string{"WFTM", "USDC", "DAI"}, MaxTransitTokens: 2},
	},
	1285: {
		{Provider: "solarbeam", Dialect: DialectV2, Router: "0xAA30eF758139ae4a7f798112902Bf6d65612045f", WrappedNative: "WMOVR", RoutingTokens: []string{"WMOVR", "USDT", "USDC", "DAI", "BUSD", "SOLAR"}, MaxTransitTokens: 2},
	},
	42161: {
		{Provider: "sushiswap", Dialect: DialectV2, Router: "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506", WrappedNative: "WETH", RoutingTokens: []string{"WETH", "USDC", "USDT", "DAI"}, MaxTransitTokens: 2},
		{Provider: "uniswap-v3", Dialect: DialectV3, Router: uniswapV3Router, Quoter: uniswapV3Quoter, WrappedNative: "WETH", RoutingTokens: []string{"WETH", "USDC"}, MaxTransitTokens: 1, FeeTier: 3000},
	},
	10: {
		{Provider: "uniswap-v3", Dialect: DialectV3, Router: uniswapV3Router, Quoter: uniswapV3Quoter, WrappedNative: "WETH", RoutingTokens: []string{"WETH", "USDC"}, MaxTransitTokens: 1, FeeTier: 3000},
	},
}

// DexDeployments returns a copy of the provider deployments on a chain, in
// provider-index order.
func DexDeployments(chainID int64) []DexDeployment {
	src := dexDeploymentsByChainID[chainID]
	out := make([]DexDeployment, len(src))
	for i, d := range src {
		d.RoutingTokens = append([]string(nil), d.RoutingTokens...)
		out[i] = d
	}
	return out
}

// SupportedSwapChains lists chain IDs with at least one deployment.
func SupportedSwapChains() []int64 {
	out := make([]int64, 0, len(dexDeploymentsByChainID))
	for chainID := range dexDeploymentsByChainID {
		out = append(out, chainID)
	}
	return out
}
