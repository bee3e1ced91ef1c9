package registry

const (
	OneInchBaseURL    = "https://api.1inch.dev"
	DefiLlamaCoinsURL = "https://coins.llama.fi"
	SolanaMainnetRPC  = "https://api.mainnet-beta.solana.com"

	// Multicall3 shares one address on every supported EVM chain.
	Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

	// Transit token symbol used when the crosschain config does not name one.
	DefaultTransitSymbol = "USDC"
)
