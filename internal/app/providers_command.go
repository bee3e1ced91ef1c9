package app

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List swap and price providers with their chains (no keys required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := s.providerInfos()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), infos, nil, cacheMetaBypass(), nil, false)
		},
	}
	root.AddCommand(list)
	return root
}

// providerInfos merges every deployment by provider name.
func (s *runtimeState) providerInfos() ([]model.ProviderInfo, error) {
	byName := map[string]*model.ProviderInfo{}
	order := []string{}
	for _, chainID := range sortedSwapChains() {
		chain, ok := id.ChainByEVMID(chainID)
		if !ok {
			continue
		}
		for _, dep := range registry.DexDeployments(chainID) {
			provider, err := s.newSwapProvider(chain, dep, nil)
			if err != nil {
				return nil, err
			}
			info, seen := byName[dep.Provider]
			if !seen {
				base := provider.Info()
				base.Dialect = string(provider.Dialect())
				info = &base
				byName[dep.Provider] = info
				order = append(order, dep.Provider)
			}
			info.Chains = append(info.Chains, chain.Slug)
		}
	}
	sort.Strings(order)
	out := make([]model.ProviderInfo, 0, len(order)+1)
	for _, name := range order {
		out = append(out, *byName[name])
	}
	out = append(out, s.prices.Info())
	return out, nil
}

func sortedSwapChains() []int64 {
	ids := registry.SupportedSwapChains()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *runtimeState) newChainsCommand() *cobra.Command {
	root := &cobra.Command{Use: "chains", Short: "Chain commands"}
	var swapOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List chains with their swap providers and bridge configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.chainSummaries(swapOnly), nil, cacheMetaBypass(), nil, false)
		},
	}
	list.Flags().BoolVar(&swapOnly, "swap-only", false, "Only chains with swap providers or a bridge")
	root.AddCommand(list)
	return root
}

func (s *runtimeState) chainSummaries(swapOnly bool) []model.ChainSummary {
	out := []model.ChainSummary{}
	for _, chain := range id.Chains() {
		row := model.ChainSummary{Name: chain.Name, Slug: chain.Slug, ChainID: chain.CAIP2}
		switch {
		case chain.IsEVM():
			row.EVMChainID = chain.EVMChainID
			for _, dep := range registry.DexDeployments(chain.EVMChainID) {
				row.SwapProviders = append(row.SwapProviders, dep.Provider)
			}
			if bc, ok := s.settings.CrossChain.Chains[strings.ToLower(chain.Slug)]; ok {
				row.Bridge = bc.Contract
			}
			if len(row.SwapProviders) > 0 || row.Bridge != "" {
				if transit, err := s.transitToken(chain); err == nil {
					row.TransitToken = transit.Symbol
				}
			}
			_, hasDefault := registry.DefaultRPCURL(chain.EVMChainID)
			row.RPCConfigured = hasDefault || s.settings.RPCURLs[strings.ToLower(chain.Slug)] != ""
		case chain.IsSolana():
			row.Bridge = s.settings.Solana.ProgramID
			row.TransitToken = s.settings.Solana.TransitMint
			row.RPCConfigured = true
		}
		if swapOnly && len(row.SwapProviders) == 0 && row.Bridge == "" {
			continue
		}
		out = append(out, row)
	}
	return out
}
