package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xswap-cli/internal/cache"
	"github.com/ggonzalez94/xswap-cli/internal/crosschain"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/logging"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/session"
	"github.com/ggonzalez94/xswap-cli/internal/smartrouting"
)

type crossArgs struct {
	fromChain     string
	toChain       string
	fromArg       string
	toArg         string
	amount        string
	amountDecimal string
	fromRPC       string
	toRPC         string
	fromProviders string
	toProviders   string
	useFrom       string
	useTo         string
	mode          string
	includeGas    bool
	fromAddress   string
	receiver      string
	slippageBps   int64
	skipMinimum   bool
}

func (a *crossArgs) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.fromChain, "from-chain", "", "Source chain identifier")
	cmd.Flags().StringVar(&a.toChain, "to-chain", "", "Destination chain identifier")
	cmd.Flags().StringVar(&a.fromArg, "from", "", "Input token on the source chain")
	cmd.Flags().StringVar(&a.toArg, "to", "", "Output token on the destination chain")
	cmd.Flags().StringVar(&a.amount, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().StringVar(&a.fromRPC, "from-rpc-url", "", "RPC URL override for the source chain")
	cmd.Flags().StringVar(&a.toRPC, "to-rpc-url", "", "RPC URL override for the destination chain")
	cmd.Flags().StringVar(&a.fromProviders, "from-provider", "", "Restrict source providers (comma-separated)")
	cmd.Flags().StringVar(&a.toProviders, "to-provider", "", "Restrict destination providers (comma-separated)")
	cmd.Flags().StringVar(&a.useFrom, "use-from-provider", "", "Select this source provider instead of the best ranked one")
	cmd.Flags().StringVar(&a.useTo, "use-to-provider", "", "Select this destination provider instead of the best ranked one")
	cmd.Flags().StringVar(&a.mode, "mode", "", "Ranking mode (plain|profit); defaults to swap.mode")
	cmd.Flags().BoolVar(&a.includeGas, "include-gas", false, "Estimate gas and its USD cost per trade")
	cmd.Flags().StringVar(&a.fromAddress, "from-address", "", "Sender address on the source chain")
	cmd.Flags().StringVar(&a.receiver, "receiver", "", "Receiver on the destination chain (defaults to the destination bridge)")
	cmd.Flags().Int64Var(&a.slippageBps, "slippage-bps", -1, "Max slippage in basis points; defaults to crosschain.slippage_bps")
	cmd.Flags().BoolVar(&a.skipMinimum, "skip-min-check", false, "Do not compare the transit amount with the bridge minimum")
	_ = cmd.MarkFlagRequired("from-chain")
	_ = cmd.MarkFlagRequired("to-chain")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

func (a crossArgs) cacheRequest(s *runtimeState) map[string]any {
	return map[string]any{
		"from_chain":     a.fromChain,
		"to_chain":       a.toChain,
		"from":           a.fromArg,
		"to":             a.toArg,
		"amount":         a.amount,
		"amount_decimal": a.amountDecimal,
		"from_rpc":       a.fromRPC,
		"to_rpc":         a.toRPC,
		"from_providers": splitCSV(a.fromProviders),
		"to_providers":   splitCSV(a.toProviders),
		"use_from":       a.useFrom,
		"use_to":         a.useTo,
		"mode":           a.mode,
		"default_mode":   s.settings.Swap.Mode,
		"include_gas":    a.includeGas,
		"from_address":   a.fromAddress,
		"skip_minimum":   a.skipMinimum,
	}
}

// crossCalc is both legs resolved and smart-routed.
type crossCalc struct {
	source    chainEnv
	target    chainEnv
	srcSide   crosschain.Side
	dstSide   crosschain.Side
	from      id.Token
	to        id.Token
	amount    *big.Int
	sender    common.Address
	routing   smartrouting.Result
	minAmount *big.Int
}

// crossQuote is the envelope payload of `crosschain quote`.
type crossQuote struct {
	FromChain     string              `json:"from_chain"`
	ToChain       string              `json:"to_chain"`
	AmountIn      model.AmountInfo    `json:"amount_in"`
	AmountOut     model.AmountInfo    `json:"amount_out"`
	MinSwapAmount string              `json:"min_swap_amount,omitempty"`
	Routing       smartrouting.Result `json:"routing"`
}

func (s *runtimeState) calculateCross(ctx context.Context, args crossArgs) (crossCalc, error) {
	mode, err := s.swapMode(args.mode)
	if err != nil {
		return crossCalc{}, err
	}
	sender, err := parseAddress("from-address", args.fromAddress)
	if err != nil {
		return crossCalc{}, err
	}
	source, err := s.openChain(ctx, args.fromChain, args.fromRPC, splitCSV(args.fromProviders))
	if err != nil {
		return crossCalc{}, err
	}
	target, err := s.openChain(ctx, args.toChain, args.toRPC, splitCSV(args.toProviders))
	if err != nil {
		return crossCalc{}, err
	}
	if source.chain.CAIP2 == target.chain.CAIP2 {
		return crossCalc{}, clierr.New(clierr.CodeUsage, "--from-chain and --to-chain must differ; use swap for same-chain trades")
	}
	srcSide, err := s.bridgeSide(source)
	if err != nil {
		return crossCalc{}, err
	}
	dstSide, err := s.bridgeSide(target)
	if err != nil {
		return crossCalc{}, err
	}
	from, amount, err := parseTokenAmount(source.chain, args.fromArg, args.amount, args.amountDecimal)
	if err != nil {
		return crossCalc{}, err
	}
	to, err := parseToken(target.chain, args.toArg)
	if err != nil {
		return crossCalc{}, err
	}

	agg := smartrouting.New(source.leg, target.leg, dstSide.Bridge, s.prices, logging.Component(s.log, "smartrouting"))
	routing, err := agg.Calculate(ctx, smartrouting.Request{
		FromToken:  from,
		ToToken:    to,
		AmountIn:   amount,
		Mode:       mode,
		IncludeGas: args.includeGas,
		Sender:     sender,
	})
	if err != nil {
		return crossCalc{}, err
	}
	if args.useFrom != "" {
		idx, err := source.providerIndex(args.useFrom)
		if err != nil {
			return crossCalc{}, err
		}
		if routing, err = routing.Select(smartrouting.SideSource, idx); err != nil {
			return crossCalc{}, err
		}
	}
	if args.useTo != "" {
		idx, err := target.providerIndex(args.useTo)
		if err != nil {
			return crossCalc{}, err
		}
		if routing, err = routing.Select(smartrouting.SideTarget, idx); err != nil {
			return crossCalc{}, err
		}
	}

	calc := crossCalc{
		source: source, target: target, srcSide: srcSide, dstSide: dstSide,
		from: from, to: to, amount: amount, sender: sender, routing: routing,
	}
	if !args.skipMinimum {
		minimum, err := srcSide.Bridge.MinSwapAmount(ctx)
		if err != nil {
			return crossCalc{}, err
		}
		calc.minAmount = minimum
		transit := routing.SourceProviders[0].ToAmount
		if transit.Cmp(minimum) < 0 {
			return crossCalc{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("transit amount %s is below the bridge minimum %s", transit, minimum))
		}
	}
	return calc, nil
}

func (c crossCalc) warnings() []string {
	return append(append([]string(nil), c.source.warnings...), c.target.warnings...)
}

func (s *runtimeState) assembler(c crossCalc) (*crosschain.Assembler, error) {
	settings, err := s.crossChainSettings(c.source.rpcURL)
	if err != nil {
		return nil, err
	}
	return crosschain.NewAssembler(c.srcSide, c.dstSide, c.source.reader, settings, logging.Component(s.log, "crosschain")), nil
}

func (s *runtimeState) prepareRequest(ctx context.Context, c crossCalc, args crossArgs) (crosschain.PrepareRequest, error) {
	receiver, err := parseAddress("receiver", args.receiver)
	if err != nil {
		return crosschain.PrepareRequest{}, err
	}
	bps := args.slippageBps
	if bps < 0 {
		bps = s.settings.CrossChain.SlippageBps
	}
	if bps >= 10_000 {
		return crosschain.PrepareRequest{}, clierr.New(clierr.CodeUsage, "slippage bps must be in [0, 10000)")
	}
	price, err := s.prices.PriceUSD(ctx, c.to)
	if err != nil {
		return crosschain.PrepareRequest{}, clierr.Wrap(clierr.CodeUnavailable, "price destination token", err)
	}
	return crosschain.PrepareRequest{
		Routing:    c.routing,
		FromToken:  c.from,
		ToToken:    c.to,
		AmountIn:   c.amount,
		Receiver:   receiver,
		Slippage:   providers.SlippageFromBps(bps),
		ToPriceUSD: price,
	}, nil
}

func (s *runtimeState) newCrossChainCommand() *cobra.Command {
	root := &cobra.Command{Use: "crosschain", Short: "Cross-chain swap commands"}
	root.AddCommand(s.newCrossChainQuoteCommand())
	root.AddCommand(s.newCrossChainPlanCommand())
	root.AddCommand(s.newCrossChainSubmitCommand())
	root.AddCommand(s.newCrossChainMinAmountCommand())
	return root
}

func (s *runtimeState) newCrossChainQuoteCommand() *cobra.Command {
	var args crossArgs
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Smart-route both legs through the bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := trimRootPath(cmd.CommandPath())
			key := cache.QuoteKey(path, args.cacheRequest(s))
			return s.runCachedCommand(path, key, quoteTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				calc, err := s.calculateCross(ctx, args)
				if err != nil {
					return nil, nil, nil, false, err
				}
				latency := time.Since(start)
				srcStatus, srcPartial := providerStatuses(calc.source, calc.routing.SourceProviders, latency)
				dstStatus, dstPartial := providerStatuses(calc.target, calc.routing.TargetProviders, latency)
				data := crossQuote{
					FromChain: calc.source.chain.Slug,
					ToChain:   calc.target.chain.Slug,
					AmountIn:  amountInfo(calc.from, calc.amount),
					AmountOut: amountInfo(calc.to, calc.routing.ToAmount()),
					Routing:   calc.routing,
				}
				if calc.minAmount != nil {
					data.MinSwapAmount = calc.minAmount.String()
				}
				return data, append(srcStatus, dstStatus...), calc.warnings(), srcPartial || dstPartial, nil
			})
		},
	}
	args.register(cmd)
	return cmd
}

// crossPlan is the envelope payload of `crosschain plan`.
type crossPlan struct {
	Prepared crosschain.Prepared `json:"prepared"`
	Action   execution.Action    `json:"action"`
}

func (s *runtimeState) newCrossChainPlanCommand() *cobra.Command {
	var args crossArgs
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Assemble the bridge message and persist its action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			calc, err := s.calculateCross(ctx, args)
			if err != nil {
				return err
			}
			if calc.sender == (common.Address{}) {
				return clierr.New(clierr.CodeUsage, "--from-address is required to plan a cross-chain swap")
			}
			asm, err := s.assembler(calc)
			if err != nil {
				return err
			}
			req, err := s.prepareRequest(ctx, calc, args)
			if err != nil {
				return err
			}
			prepared, err := asm.Prepare(ctx, req)
			if err != nil {
				return err
			}
			action, err := asm.Plan(ctx, prepared, calc.sender)
			if err != nil {
				return err
			}
			if err := s.actionStore.Save(action); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "persist planned action", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), crossPlan{Prepared: prepared, Action: action}, calc.warnings(), cacheMetaBypass(), nil, false)
		},
	}
	args.register(cmd)
	_ = cmd.MarkFlagRequired("from-address")
	return cmd
}

func (s *runtimeState) newCrossChainSubmitCommand() *cobra.Command {
	var args crossArgs
	var exec executionFlags
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Assemble and broadcast the cross-chain swap",
		RunE: func(cmd *cobra.Command, _ []string) error {
			txSigner, err := exec.signerFor(args.fromAddress)
			if err != nil {
				return err
			}
			opts, err := exec.options(s.allowedTargets())
			if err != nil {
				return err
			}
			sender := execution.NewSender(txSigner, s.actionStore, opts)
			args.fromAddress = sender.Address().Hex()

			ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout(2, opts))
			defer cancel()

			sess := session.New(logging.Component(s.log, "session"))
			token, err := sess.Begin()
			if err != nil {
				return err
			}
			calc, err := s.calculateCross(ctx, args)
			if err != nil {
				sess.Fail(token, err)
				return err
			}
			routing := calc.routing
			// The assembler plans its own approval step, so the session goes
			// straight to READY_TO_SWAP.
			sess.Apply(token, session.Calculation{Routing: &routing})

			asm, err := s.assembler(calc)
			if err != nil {
				return err
			}
			result := model.Submission{Steps: map[string]string{}}
			err = sess.Swap(ctx, func(ctx context.Context, c session.Calculation) error {
				calc.routing = *c.Routing
				req, err := s.prepareRequest(ctx, calc, args)
				if err != nil {
					return err
				}
				attempt, err := asm.Transfer(ctx, req, sender, func(hash string) { result.Steps["bridge"] = hash })
				if attempt != nil {
					result.TxHash = attempt.TxHash()
					result.Status = string(attempt.State())
					for _, st := range attempt.History() {
						result.History = append(result.History, string(st))
					}
				}
				return err
			})
			if err != nil {
				s.captureCommandDiagnostics(calc.warnings(), nil, false)
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, calc.warnings(), cacheMetaBypass(), nil, false)
		},
	}
	args.register(cmd)
	exec.register(cmd)
	return cmd
}

func (s *runtimeState) newCrossChainMinAmountCommand() *cobra.Command {
	var chainArg, rpcURL string
	cmd := &cobra.Command{
		Use:   "min-amount",
		Short: "Smallest transit amount the source bridge accepts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			chain, err := id.ParseChain(chainArg)
			if err != nil {
				return err
			}
			if !chain.IsEVM() {
				return clierr.New(clierr.CodeUnsupportedNetwork, fmt.Sprintf("%s is not an EVM chain", chain.Slug))
			}
			url, err := s.resolveRPCURL(chain, rpcURL)
			if err != nil {
				return err
			}
			reader, err := s.dialReader(ctx, url)
			if err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
			}
			side, err := s.bridgeSide(chainEnv{chain: chain, reader: reader})
			if err != nil {
				return err
			}
			transit, err := s.transitToken(chain)
			if err != nil {
				return err
			}
			start := time.Now()
			minimum, err := side.Bridge.MinSwapAmount(ctx)
			status := []model.ProviderStatus{{Name: "bridge", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			if err != nil {
				s.captureCommandDiagnostics(nil, status, false)
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{
				"chain":         chain.Slug,
				"bridge":        side.Bridge.Address.Hex(),
				"transit_token": transit.Symbol,
				"min_amount":    amountInfo(transit, minimum),
			}, nil, cacheMetaBypass(), status, false)
		},
	}
	cmd.Flags().StringVar(&chainArg, "chain", "", "Source chain identifier")
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "RPC URL override for the chain")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}
