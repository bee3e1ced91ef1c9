package registry

// ABI fragments used by routing, trade execution and bridge message assembly.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
	]`

	Multicall3ABI = `[
		{"name":"tryAggregate","type":"function","stateMutability":"payable","inputs":[{"name":"requireSuccess","type":"bool"},{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"callData","type":"bytes"}]}],"outputs":[{"name":"returnData","type":"tuple[]","components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]},
		{"name":"getEthBalance","type":"function","stateMutability":"view","inputs":[{"name":"addr","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]}
	]`

	UniswapV2RouterABI = `[
		{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"name":"swapExactTokensForETH","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
		{"name":"swapExactTokensForTokensSupportingFeeOnTransferTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]},
		{"name":"swapExactETHForTokensSupportingFeeOnTransferTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]},
		{"name":"swapExactTokensForETHSupportingFeeOnTransferTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]}
	]`

	UniswapV3QuoterABI = `[
		{"name":"quoteExactInput","type":"function","stateMutability":"nonpayable","inputs":[{"name":"path","type":"bytes"},{"name":"amountIn","type":"uint256"}],"outputs":[{"name":"amountOut","type":"uint256"}]}
	]`

	UniswapV3RouterABI = `[
		{"name":"exactInput","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"path","type":"bytes"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
	]`

	// Bridge contract of the inter-chain message framework. Each transferWithSwap
	// variant takes the same tuple shape for its source and destination swap.
	BridgeABI = `[
		{"name":"dstCryptoFee","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint64"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"feeRubic","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"messageBus","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"minSwapAmount","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"nativeWrap","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"transferWithSwapInch","type":"function","stateMutability":"payable","inputs":[{"name":"_receiver","type":"address"},{"name":"_amountIn","type":"uint256"},{"name":"_dstChainId","type":"uint64"},{"name":"_srcSwap","type":"tuple","components":[{"name":"dex","type":"address"},{"name":"path","type":"address[]"},{"name":"data","type":"bytes"},{"name":"amountOutMinimum","type":"uint256"}]},{"name":"_dstSwap","type":"tuple","components":[{"name":"dex","type":"address"},{"name":"path","type":"address[]"},{"name":"data","type":"bytes"},{"name":"amountOutMinimum","type":"uint256"}]},{"name":"_maxBridgeSlippage","type":"uint32"},{"name":"_nonce","type":"uint64"},{"name":"_nativeOut","type":"bool"}],"outputs":[]},
		{"name":"transferWithSwapInchNative","type":"function","stateMutability":"payable","inputs":[{"name":"_receiver","type":"address"},{"name":"_amountIn","type":"uint256"},{"name":"_dstChainId","type":"uint64"},{"name":"_srcSwap","type":"tuple","components":[{"name":"dex","type":"address"},{"name":"path","type":"address[]"},{"name":"data","type":"bytes"},{"name":"amountOutMinimum","type":"uint256"}]},{"name":"_dstSwap","type":"tuple","components":[{"name":"dex","type":"address"},{"name":"path","type":"address[]"},{"name":"data","type":"bytes"},{"name":"amountOutMinimum","type":"uint256"}]},{"name":"_maxBridgeSlippage","type":"uint32"},{"name":"_nonce","type":"uint64"},{"name":"_nativeOut","type":"bool"}],"outputs":[]},
		{"name":"transferWithSwapV2","type":"function","stateMutability":"payable","inputs":[{"name":"_receiver","type":"address"},{"name":"_amountIn","type":"uint256"},{"name":"_dstChainId","type":"uint64"},{"name":"_srcSwap","type":"tuple","components":[{"name":"path","type":"address[]"},{"name":"dex","type":"address"},{"name":"deadline","type":"uint256"},{"name":"minRecvAmt","type":"uint256"}]},{"name":"_dstSwap","type":"tuple","components":[{"name":"path","type":"address[]"},{"name":"dex","type":"address"},{"name":"deadline","type":"uint256"},{"name":"minRecvAmt","type":"uint256"}]},{"name":"_maxBridgeSlippage","type":"uint32"},{"name":"_nonce","type":"uint64"},{"name":"_nativeOut","type":"bool"}],"outputs":[]},
		{"name":"transferWithSwapV2Native","type":"function","stateMutability":"payable","inputs":[{"name":"_receiver","type":"address"},{"name":"_amountIn","type":"uint256"},{"name":"_dstChainId","type":"uint64"},{"name":"_srcSwap","type":"tuple","components":[{"name":"path","type":"address[]"},{"name":"dex","type":"address"},{"name":"deadline","type":"uint256"},{"name":"minRecvAmt","type":"uint256"}]},{"name":"_dstSwap","type":"tuple","components":[{"name":"path","type":"address[]"},{"name":"dex","type":"address"},{"name":"deadline","type":"uint256"},{"name":"minRecvAmt","type":"uint256"}]},{"name":"_maxBridgeSlippage","type":"uint32"},{"name":"_nonce","type":"uint64"},{"name":"_nativeOut","type":"bool"}],"outputs":[]},
		{"name":"transferWithSwapV3","type":"function","stateMutability":"payable","inputs":[{"name":"_receiver","type":"address"},{"name":"_amountIn","type":"uint256"},{"name":"_dstChainId","type":"uint64"},{"name":"_srcSwap","type":"tuple","components":[{"name":"dex","type":"address"},{"name":"path","type":"bytes"},{"name":"deadline","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]},{"name":"_dstSwap","type":"tuple","components":[{"name":"dex","type":"address"},{"name":"path","type":"bytes"},{"name":"deadline","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]},{"name":"_maxBridgeSlippage","type":"uint32"},{"name":"_nonce","type":"uint64"},{"name":"_nativeOut","type":"bool"}],"outputs":[]},
		{"name":"transferWithSwapV3Native","type":"function","stateMutability":"payable","inputs":[{"name":"_receiver","type":"address"},{"name":"_amountIn","type":"uint256"},{"name":"_dstChainId","type":"uint64"},{"name":"_srcSwap","type":"tuple","components":[{"name":"dex","type":"address"},{"name":"path","type":"bytes"},{"name":"deadline","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]},{"name":"_dstSwap","type":"tuple","components":[{"name":"dex","type":"address"},{"name":"path","type":"bytes"},{"name":"deadline","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]},{"name":"_maxBridgeSlippage","type":"uint32"},{"name":"_nonce","type":"uint64"},{"name":"_nativeOut","type":"bool"}],"outputs":[]}
	]`

	MessageBusABI = `[
		{"name":"calcFee","type":"function","stateMutability":"view","inputs":[{"name":"_message","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	FeeProxyABI = `[
		{"name":"swap","type":"function","stateMutability":"payable","inputs":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"dex","type":"address"},{"name":"data","type":"bytes"},{"name":"feeInfo","type":"tuple","components":[{"name":"fee","type":"uint256"},{"name":"feeTarget","type":"address"}]}],"outputs":[]}
	]`
)
