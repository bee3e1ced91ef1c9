package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/logging"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/solbridge"
)

// poolFile is the YAML description of the AMM pool a swapping transfer
// passes through. Omitted keys are sent as the wrapped SOL placeholder.
type poolFile struct {
	AmmID            string `yaml:"amm_id"`
	AmmAuthority     string `yaml:"amm_authority"`
	AmmOpenOrders    string `yaml:"amm_open_orders"`
	AmmTargetOrders  string `yaml:"amm_target_orders"`
	PoolCoinAccount  string `yaml:"pool_coin_account"`
	PoolPcAccount    string `yaml:"pool_pc_account"`
	SerumProgramID   string `yaml:"serum_program_id"`
	SerumMarket      string `yaml:"serum_market"`
	SerumBids        string `yaml:"serum_bids"`
	SerumAsks        string `yaml:"serum_asks"`
	SerumEventQueue  string `yaml:"serum_event_queue"`
	SerumCoinVault   string `yaml:"serum_coin_vault"`
	SerumPcVault     string `yaml:"serum_pc_vault"`
	SerumVaultSigner string `yaml:"serum_vault_signer"`
	AmmProgramID     string `yaml:"amm_program_id"`
}

func loadPoolFile(path string) (solbridge.PoolAccounts, error) {
	if strings.TrimSpace(path) == "" {
		return solbridge.PoolAccounts{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return solbridge.PoolAccounts{}, clierr.Wrap(clierr.CodeUsage, "read pool file", err)
	}
	var f poolFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return solbridge.PoolAccounts{}, clierr.Wrap(clierr.CodeUsage, "parse pool file", err)
	}
	p := &keyParser{}
	pool := solbridge.PoolAccounts{
		AmmID:            p.optional("amm_id", f.AmmID),
		AmmAuthority:     p.optional("amm_authority", f.AmmAuthority),
		AmmOpenOrders:    p.optional("amm_open_orders", f.AmmOpenOrders),
		AmmTargetOrders:  p.optional("amm_target_orders", f.AmmTargetOrders),
		PoolCoinAccount:  p.optional("pool_coin_account", f.PoolCoinAccount),
		PoolPcAccount:    p.optional("pool_pc_account", f.PoolPcAccount),
		SerumProgramID:   p.optional("serum_program_id", f.SerumProgramID),
		SerumMarket:      p.optional("serum_market", f.SerumMarket),
		SerumBids:        p.optional("serum_bids", f.SerumBids),
		SerumAsks:        p.optional("serum_asks", f.SerumAsks),
		SerumEventQueue:  p.optional("serum_event_queue", f.SerumEventQueue),
		SerumCoinVault:   p.optional("serum_coin_vault", f.SerumCoinVault),
		SerumPcVault:     p.optional("serum_pc_vault", f.SerumPcVault),
		SerumVaultSigner: p.optional("serum_vault_signer", f.SerumVaultSigner),
		AmmProgramID:     p.optional("amm_program_id", f.AmmProgramID),
	}
	return pool, p.err
}

// keyParser keeps the first base58 error so a block of keys parses in one
// pass.
type keyParser struct{ err error }

func (p *keyParser) optional(name, value string) solana.PublicKey {
	if strings.TrimSpace(value) == "" || p.err != nil {
		return solana.PublicKey{}
	}
	return p.required(name, value)
}

func (p *keyParser) required(name, value string) solana.PublicKey {
	if p.err != nil {
		return solana.PublicKey{}
	}
	if strings.TrimSpace(value) == "" {
		p.err = clierr.New(clierr.CodeUsage, name+" is required")
		return solana.PublicKey{}
	}
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(value))
	if err != nil {
		p.err = clierr.Wrap(clierr.CodeUsage, "invalid "+name, err)
	}
	return pk
}

// bridgeAccounts reads the program-derived accounts from configuration.
func (s *runtimeState) bridgeAccounts(blockchain uint64) (solana.PublicKey, solbridge.BridgeAccounts, error) {
	cfg := s.settings.Solana
	p := &keyParser{}
	program := p.required("solana.program_id", cfg.ProgramID)
	accounts := solbridge.BridgeAccounts{
		ConfigPDA:           p.required("solana.pda_config", cfg.PDAConfig),
		BlockchainConfigPDA: p.required(fmt.Sprintf("solana.blockchain_configs.%d", blockchain), cfg.BlockchainConfigs[blockchain]),
		DelegatePDA:         p.required("solana.pda_delegate", cfg.PDADelegate),
		WrappedPDA:          p.required("solana.pda_wrapped", cfg.PDAWrapped),
		BridgeTokenAccount:  p.required("solana.bridge_token_account", cfg.BridgeTokenAccount),
	}
	return program, accounts, p.err
}

type accountView struct {
	PublicKey  string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

type instructionView struct {
	ProgramID    string               `json:"program_id"`
	TransferType string               `json:"transfer_type"`
	Accounts     []accountView        `json:"accounts"`
	Data         string               `json:"data"`
	Params       solbridge.SwapParams `json:"params"`
}

func instructionOutput(ix *solana.GenericInstruction, tt solbridge.TransferType, params solbridge.SwapParams) (instructionView, error) {
	data, err := ix.Data()
	if err != nil {
		return instructionView{}, clierr.Wrap(clierr.CodeInternal, "read instruction data", err)
	}
	params.TransferType = tt
	out := instructionView{
		ProgramID:    ix.ProgramID().String(),
		TransferType: tt.String(),
		Data:         base64.StdEncoding.EncodeToString(data),
		Params:       params,
	}
	for _, acc := range ix.Accounts() {
		out.Accounts = append(out.Accounts, accountView{PublicKey: acc.PublicKey.String(), IsSigner: acc.IsSigner, IsWritable: acc.IsWritable})
	}
	return out, nil
}

func (s *runtimeState) solanaClient() *solbridge.Client {
	return solbridge.NewClient(s.settings.Solana.RPCURL, s.settings.Solana.MinTPS, logging.Component(s.log, "solana"))
}

func (s *runtimeState) newSolanaCommand() *cobra.Command {
	root := &cobra.Command{Use: "solana", Short: "Solana bridge commands"}
	root.AddCommand(s.newSolanaInstructionCommand())
	root.AddCommand(s.newSolanaHealthCommand())
	root.AddCommand(s.newSolanaConfigCommand())
	return root
}

func (s *runtimeState) newSolanaInstructionCommand() *cobra.Command {
	var (
		blockchain       uint64
		amount           string
		secondPath       string
		exactRbcTokenOut string
		tokenOutMin      string
		newAddress       string
		swapToCrypto     bool
		methodName       string
		owner            string
		sourceAccount    string
		fromNative       bool
		fromTransit      bool
		poolPath         string
		checkConfig      bool
	)
	cmd := &cobra.Command{
		Use:   "instruction",
		Short: "Build the bridge program instruction for a Solana-source transfer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fromNative && fromTransit {
				return clierr.New(clierr.CodeUsage, "--from-native and --from-transit are exclusive")
			}
			tokenIn, err := solbridge.ParseU64(amount)
			if err != nil {
				return err
			}
			exactOut := uint64(0)
			if strings.TrimSpace(exactRbcTokenOut) != "" {
				if exactOut, err = solbridge.ParseU64(exactRbcTokenOut); err != nil {
					return err
				}
			}
			program, bridge, err := s.bridgeAccounts(blockchain)
			if err != nil {
				return err
			}
			p := &keyParser{}
			user := solbridge.UserAccounts{
				Owner:              p.required("owner", owner),
				SourceTokenAccount: p.optional("source-token-account", sourceAccount),
			}
			if p.err != nil {
				return p.err
			}
			pool, err := loadPoolFile(poolPath)
			if err != nil {
				return err
			}

			var warnings []string
			if checkConfig {
				ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
				defer cancel()
				client := s.solanaClient()
				bridgeCfg, err := client.FetchBridgeConfig(ctx, bridge.ConfigPDA)
				if err != nil {
					return err
				}
				if bridgeCfg.IsPaused {
					return clierr.New(clierr.CodeUnavailable, "solana bridge is paused")
				}
				chainCfg, err := client.FetchBlockchainConfig(ctx, bridge.BlockchainConfigPDA)
				if err != nil {
					return err
				}
				if !chainCfg.IsActive {
					return clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("destination blockchain %d is not active on the bridge", blockchain))
				}
				if bridgeCfg.MinTokenAmount > 0 && fromTransit && tokenIn < bridgeCfg.MinTokenAmount {
					warnings = append(warnings, fmt.Sprintf("amount %d is below the bridge minimum %d", tokenIn, bridgeCfg.MinTokenAmount))
				}
			}

			params := solbridge.SwapParams{
				Blockchain:       blockchain,
				TokenInAmount:    tokenIn,
				SecondPath:       strings.Split(secondPath, ","),
				ExactRbcTokenOut: exactOut,
				TokenOutMin:      tokenOutMin,
				NewAddress:       newAddress,
				SwapToCrypto:     swapToCrypto,
				MethodName:       methodName,
			}
			if strings.TrimSpace(secondPath) == "" {
				params.SecondPath = []string{}
			}
			tt := solbridge.SelectTransferType(fromNative, fromTransit)
			ix, err := solbridge.BuildInstruction(program, tt, params, bridge, pool, user)
			if err != nil {
				return err
			}
			out, err := instructionOutput(ix, tt, params)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), out, warnings, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().Uint64Var(&blockchain, "blockchain", 0, "Destination blockchain number on the bridge")
	cmd.Flags().StringVar(&amount, "amount", "", "Input amount in base units (u64)")
	cmd.Flags().StringVar(&secondPath, "second-path", "", "Destination swap path (comma-separated addresses)")
	cmd.Flags().StringVar(&exactRbcTokenOut, "exact-transit-out", "", "Exact transit amount out of the source swap (u64)")
	cmd.Flags().StringVar(&tokenOutMin, "token-out-min", "0", "Destination minimum output in base units")
	cmd.Flags().StringVar(&newAddress, "new-address", "", "Receiver on the destination chain")
	cmd.Flags().BoolVar(&swapToCrypto, "swap-to-crypto", false, "Deliver the destination native currency")
	cmd.Flags().StringVar(&methodName, "method-name", "", "Destination swap method name")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner wallet (signer)")
	cmd.Flags().StringVar(&sourceAccount, "source-token-account", "", "Owner's token account for the input mint")
	cmd.Flags().BoolVar(&fromNative, "from-native", false, "Input is SOL, wrapped and swapped")
	cmd.Flags().BoolVar(&fromTransit, "from-transit", false, "Input is the transit token, transferred as is")
	cmd.Flags().StringVar(&poolPath, "pool-file", "", "YAML file with the AMM pool accounts")
	cmd.Flags().BoolVar(&checkConfig, "check-config", false, "Fetch the bridge config accounts and refuse a paused bridge")
	_ = cmd.MarkFlagRequired("blockchain")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("new-address")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (s *runtimeState) newSolanaHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Average recent TPS against the configured minimum",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			health, err := s.solanaClient().CheckHealth(ctx)
			status := []model.ProviderStatus{{Name: "solana-rpc", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.captureCommandDiagnostics(nil, status, false)
			if err != nil {
				return err
			}
			var warnings []string
			if !health.Healthy {
				warnings = append(warnings, fmt.Sprintf("solana is degraded: %.0f TPS is below %.0f", health.AverageTPS, health.MinTPS))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), health, warnings, cacheMetaBypass(), status, false)
		},
	}
}

func (s *runtimeState) newSolanaConfigCommand() *cobra.Command {
	var blockchain uint64
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Fetch the bridge config account and, with --blockchain, a destination config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := &keyParser{}
			configPDA := p.required("solana.pda_config", s.settings.Solana.PDAConfig)
			if p.err != nil {
				return p.err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			client := s.solanaClient()
			bridgeCfg, err := client.FetchBridgeConfig(ctx, configPDA)
			if err != nil {
				return err
			}
			data := map[string]any{"bridge": bridgeCfg}
			if cmd.Flags().Changed("blockchain") {
				pda := p.required(fmt.Sprintf("solana.blockchain_configs.%d", blockchain), s.settings.Solana.BlockchainConfigs[blockchain])
				if p.err != nil {
					return p.err
				}
				chainCfg, err := client.FetchBlockchainConfig(ctx, pda)
				if err != nil {
					return err
				}
				data["blockchain"] = chainCfg
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().Uint64Var(&blockchain, "blockchain", 0, "Destination blockchain number")
	return cmd
}
