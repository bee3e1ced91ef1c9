package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/xswap-cli/internal/crosschain"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/logging"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/providers/oneinch"
	"github.com/ggonzalez94/xswap-cli/internal/providers/uniswapv2"
	"github.com/ggonzalez94/xswap-cli/internal/providers/uniswapv3"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
	"github.com/ggonzalez94/xswap-cli/internal/smartrouting"
	"github.com/ggonzalez94/xswap-cli/internal/trade"
)

// chainEnv is one EVM chain opened for quoting: its reader, and one trade
// builder per deployed provider in registry order.
type chainEnv struct {
	chain    id.Chain
	rpcURL   string
	reader   evm.Reader
	leg      smartrouting.Leg
	warnings []string
}

func (e chainEnv) providerNames() []string {
	out := make([]string, 0, len(e.leg.Builders))
	for _, b := range e.leg.Builders {
		out = append(out, b.Provider().Info().Name)
	}
	return out
}

// providerIndex resolves a provider name to its index in the leg.
func (e chainEnv) providerIndex(name string) (int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, b := range e.leg.Builders {
		if b.Provider().Info().Name == name {
			return i, nil
		}
	}
	return 0, clierr.New(clierr.CodeNoSelectedProvider, fmt.Sprintf("provider %s is not available on %s", name, e.chain.Slug))
}

func (s *runtimeState) resolveRPCURL(chain id.Chain, override string) (string, error) {
	if strings.TrimSpace(override) == "" {
		override = s.settings.RPCURLs[strings.ToLower(chain.Slug)]
	}
	url, err := registry.ResolveRPCURL(override, chain.EVMChainID)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	return url, nil
}

// openChain dials the chain and builds its providers. filter, when set,
// keeps only the named providers.
func (s *runtimeState) openChain(ctx context.Context, chainArg, rpcOverride string, filter []string) (chainEnv, error) {
	chain, err := id.ParseChain(chainArg)
	if err != nil {
		return chainEnv{}, err
	}
	if !chain.IsEVM() {
		return chainEnv{}, clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("%s is not an EVM chain", chain.Slug))
	}
	deps := registry.DexDeployments(chain.EVMChainID)
	if len(deps) == 0 {
		return chainEnv{}, clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("no swap providers deployed on %s", chain.Slug))
	}
	rpcURL, err := s.resolveRPCURL(chain, rpcOverride)
	if err != nil {
		return chainEnv{}, err
	}
	reader, err := s.dialReader(ctx, rpcURL)
	if err != nil {
		return chainEnv{}, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	feeProxy, err := s.feeProxy()
	if err != nil {
		return chainEnv{}, err
	}

	env := chainEnv{chain: chain, rpcURL: rpcURL, reader: reader}
	wanted := map[string]bool{}
	for _, name := range filter {
		wanted[name] = true
	}
	for _, dep := range deps {
		if len(wanted) > 0 && !wanted[dep.Provider] {
			continue
		}
		if dep.Dialect == registry.DialectAggregator && strings.TrimSpace(s.settings.OneInchAPIKey) == "" {
			if len(wanted) > 0 {
				return chainEnv{}, clierr.New(clierr.CodeAuth, "missing required API key for 1inch ("+oneinch.KeyEnvVar+")")
			}
			env.warnings = append(env.warnings, fmt.Sprintf("%s skipped: %s is not set", dep.Provider, oneinch.KeyEnvVar))
			continue
		}
		provider, err := s.newSwapProvider(chain, dep, reader)
		if err != nil {
			return chainEnv{}, err
		}
		env.leg.Builders = append(env.leg.Builders, trade.NewBuilder(provider, trade.Options{
			Reader:           reader,
			Prices:           s.prices,
			FeeProxy:         feeProxy,
			GasMargin:        s.settings.Swap.GasMargin,
			RPCURL:           rpcURL,
			DisableMultihops: s.settings.Swap.DisableMultihops,
			Logger:           logging.Component(s.log, "trade"),
			Now:              s.runner.now,
		}))
	}
	if len(env.leg.Builders) == 0 {
		return chainEnv{}, clierr.New(clierr.CodeNoSelectedProvider, fmt.Sprintf("no provider selected on %s", chain.Slug))
	}
	env.leg.Chain = chain
	transit, err := s.transitToken(chain)
	if err != nil {
		return chainEnv{}, err
	}
	env.leg.Transit = transit
	return env, nil
}

// newSwapProvider maps a deployment to its dialect adapter. reader may be nil
// when only Info is needed.
func (s *runtimeState) newSwapProvider(chain id.Chain, dep registry.DexDeployment, reader evm.Reader) (providers.SwapProvider, error) {
	switch dep.Dialect {
	case registry.DialectV2:
		return uniswapv2.New(chain, dep, reader, logging.Component(s.log, dep.Provider))
	case registry.DialectV3:
		return uniswapv3.New(chain, dep, reader, logging.Component(s.log, dep.Provider))
	case registry.DialectAggregator:
		return oneinch.New(s.httpClient, s.settings.OneInchAPIKey, chain, dep)
	default:
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("unknown dialect %q for %s", dep.Dialect, dep.Provider))
	}
}

func (s *runtimeState) transitToken(chain id.Chain) (id.Token, error) {
	symbol := registry.DefaultTransitSymbol
	if bc, ok := s.settings.CrossChain.Chains[strings.ToLower(chain.Slug)]; ok && strings.TrimSpace(bc.TransitToken) != "" {
		symbol = bc.TransitToken
	}
	token, ok := id.KnownToken(chain.CAIP2, symbol)
	if !ok {
		return id.Token{}, clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("transit token %s is not registered on %s", symbol, chain.Slug))
	}
	return token, nil
}

// feeProxy is nil unless an address is configured.
func (s *runtimeState) feeProxy() (*trade.FeeProxy, error) {
	cfg := s.settings.CrossChain.FeeProxy
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, nil
	}
	if !common.IsHexAddress(cfg.Address) || !common.IsHexAddress(cfg.FeeTarget) {
		return nil, clierr.New(clierr.CodeUsage, "fee proxy address and fee target must be hex addresses")
	}
	fee := decimal.Zero
	if strings.TrimSpace(cfg.Fee) != "" {
		parsed, err := decimal.NewFromString(cfg.Fee)
		if err != nil || parsed.IsNegative() {
			return nil, clierr.New(clierr.CodeUsage, "fee proxy fee must be a non-negative percentage")
		}
		fee = parsed
	}
	return &trade.FeeProxy{
		Address:    common.HexToAddress(cfg.Address),
		FeeTarget:  common.HexToAddress(cfg.FeeTarget),
		FeePercent: fee,
	}, nil
}

// bridgeSide pairs a chain's leg with its configured bridge contract.
func (s *runtimeState) bridgeSide(env chainEnv) (crosschain.Side, error) {
	bc, ok := s.settings.CrossChain.Chains[strings.ToLower(env.chain.Slug)]
	if !ok || !common.IsHexAddress(bc.Contract) {
		return crosschain.Side{}, clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("no bridge contract configured for %s (crosschain.contracts.%s)", env.chain.Slug, strings.ToLower(env.chain.Slug)))
	}
	return crosschain.Side{Leg: env.leg, Bridge: crosschain.NewBridge(common.HexToAddress(bc.Contract), env.reader)}, nil
}

// crossChainSettings parses the configured bridge constants.
func (s *runtimeState) crossChainSettings(rpcURL string) (crosschain.Settings, error) {
	cfg := s.settings.CrossChain
	deadline, ok := new(big.Int).SetString(strings.TrimSpace(cfg.Deadline), 10)
	if !ok || deadline.Sign() <= 0 {
		return crosschain.Settings{}, clierr.New(clierr.CodeUsage, "crosschain.deadline must be a positive integer")
	}
	minRecv, ok := new(big.Int).SetString(strings.TrimSpace(cfg.MinRecvAmount), 10)
	if !ok || minRecv.Sign() < 0 {
		return crosschain.Settings{}, clierr.New(clierr.CodeUsage, "crosschain.min_recv_amount must be a non-negative integer")
	}
	return crosschain.Settings{
		MaxBridgeSlippage: cfg.MaxBridgeSlippage,
		Deadline:          deadline,
		MinRecvAmount:     minRecv,
		RPCURL:            rpcURL,
	}, nil
}

// allowedTargets lists the configured contracts execution may call besides
// the registry routers.
func (s *runtimeState) allowedTargets() []string {
	out := []string{}
	if addr := strings.TrimSpace(s.settings.CrossChain.FeeProxy.Address); addr != "" {
		out = append(out, addr)
	}
	for _, bc := range s.settings.CrossChain.Chains {
		if strings.TrimSpace(bc.Contract) != "" {
			out = append(out, bc.Contract)
		}
	}
	return out
}

// parseTokenAmount resolves an asset on chain and its amount in base units.
// Exactly one of base and dec must be set.
func parseTokenAmount(chain id.Chain, assetArg, base, dec string) (id.Token, *big.Int, error) {
	token, err := parseToken(chain, assetArg)
	if err != nil {
		return id.Token{}, nil, err
	}
	normalized, _, err := id.NormalizeAmount(base, dec, token.Decimals)
	if err != nil {
		return id.Token{}, nil, clierr.Wrap(clierr.CodeUsage, "parse amount", err)
	}
	amount, ok := new(big.Int).SetString(normalized, 10)
	if !ok || amount.Sign() <= 0 {
		return id.Token{}, nil, clierr.New(clierr.CodeUsage, "amount must be positive")
	}
	return token, amount, nil
}

func parseToken(chain id.Chain, assetArg string) (id.Token, error) {
	asset, err := id.ParseAsset(assetArg, chain)
	if err != nil {
		return id.Token{}, err
	}
	if asset.Decimals <= 0 {
		return id.Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("token %s has unknown decimals; use a registered symbol", assetArg))
	}
	return asset.Token(), nil
}

func parseAddress(flag, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s must be a hex address", flag))
	}
	return common.HexToAddress(value), nil
}
