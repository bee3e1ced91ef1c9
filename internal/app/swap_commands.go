package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xswap-cli/internal/cache"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/estimator"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/logging"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/session"
	"github.com/ggonzalez94/xswap-cli/internal/smartrouting"
	"github.com/ggonzalez94/xswap-cli/internal/trade"
)

// quoteArgs extend tradeArgs with ranking controls.
type quoteArgs struct {
	tradeArgs
	mode        string
	includeGas  bool
	fromAddress string
	useProvider string
}

func (a *quoteArgs) register(cmd *cobra.Command) {
	a.tradeArgs.register(cmd)
	cmd.Flags().StringVar(&a.mode, "mode", "", "Ranking mode (plain|profit); defaults to swap.mode")
	cmd.Flags().BoolVar(&a.includeGas, "include-gas", false, "Estimate gas and its USD cost per trade")
	cmd.Flags().StringVar(&a.fromAddress, "from-address", "", "Sender address used for gas estimation and allowance checks")
	cmd.Flags().StringVar(&a.useProvider, "use-provider", "", "Select this provider instead of the best ranked one")
}

// swapQuote is the calculated single-chain comparison.
type swapQuote struct {
	Chain     string                        `json:"chain"`
	From      id.Token                      `json:"from"`
	To        id.Token                      `json:"to"`
	AmountIn  model.AmountInfo              `json:"amount_in"`
	Mode      estimator.Mode                `json:"mode"`
	Best      smartrouting.ProviderResult   `json:"best"`
	AmountOut model.AmountInfo              `json:"amount_out"`
	Providers []smartrouting.ProviderResult `json:"providers"`
}

// singleTrade is a resolved single-chain calculation ready for planning.
type singleTrade struct {
	env     chainEnv
	sender  common.Address
	results []smartrouting.ProviderResult
}

func (t singleTrade) best() (smartrouting.ProviderResult, *trade.Builder, error) {
	if len(t.results) == 0 || !t.results[0].HasTrade() {
		return smartrouting.ProviderResult{}, nil, clierr.New(clierr.CodeInsufficientLiquidity, "insufficient liquidity: no trade selected")
	}
	best := t.results[0]
	return best, t.env.leg.Builders[best.ProviderIndex], nil
}

func (t singleTrade) quote(mode estimator.Mode) swapQuote {
	best := t.results[0]
	return swapQuote{
		Chain:     t.env.chain.Slug,
		From:      best.Trade.From.Token,
		To:        best.Trade.To.Token,
		AmountIn:  amountInfo(best.Trade.From.Token, best.Trade.From.Amount),
		Mode:      mode,
		Best:      best,
		AmountOut: amountInfo(best.Trade.To.Token, best.ToAmount),
		Providers: t.results,
	}
}

func (s *runtimeState) swapMode(flag string) (estimator.Mode, error) {
	raw := flag
	if raw == "" {
		raw = s.settings.Swap.Mode
	}
	mode, ok := estimator.ParseMode(raw)
	if !ok {
		return "", clierr.New(clierr.CodeUsage, "--mode must be plain or profit")
	}
	return mode, nil
}

// calculateSingle runs every provider on one chain and applies --use-provider.
func (s *runtimeState) calculateSingle(ctx context.Context, args quoteArgs) (singleTrade, estimator.Mode, error) {
	mode, err := s.swapMode(args.mode)
	if err != nil {
		return singleTrade{}, "", err
	}
	sender, err := parseAddress("from-address", args.fromAddress)
	if err != nil {
		return singleTrade{}, "", err
	}
	env, from, to, amount, err := args.resolve(ctx, s)
	if err != nil {
		return singleTrade{}, "", err
	}
	results, err := smartrouting.Single(ctx, env.leg, s.prices, logging.Component(s.log, "smartrouting"), smartrouting.Request{
		FromToken:  from,
		ToToken:    to,
		AmountIn:   amount,
		Mode:       mode,
		IncludeGas: args.includeGas,
		Sender:     sender,
	})
	if err != nil {
		return singleTrade{env: env}, mode, err
	}
	if args.useProvider != "" {
		idx, err := env.providerIndex(args.useProvider)
		if err != nil {
			return singleTrade{}, mode, err
		}
		reordered, ok := smartrouting.MoveToFront(results, idx)
		if !ok {
			return singleTrade{}, mode, clierr.New(clierr.CodeNoSelectedProvider, fmt.Sprintf("provider %s returned no trade", args.useProvider))
		}
		results = reordered
	}
	return singleTrade{env: env, sender: sender, results: results}, mode, nil
}

func providerStatuses(env chainEnv, results []smartrouting.ProviderResult, latency time.Duration) ([]model.ProviderStatus, bool) {
	got := map[int]bool{}
	for _, r := range results {
		got[r.ProviderIndex] = r.HasTrade()
	}
	out := make([]model.ProviderStatus, 0, len(env.leg.Builders))
	partial := false
	for i, name := range env.providerNames() {
		status := "ok"
		if !got[i] {
			status = "no_route"
			partial = true
		}
		out = append(out, model.ProviderStatus{Name: name, Status: status, LatencyMS: latency.Milliseconds()})
	}
	return out, partial
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	root := &cobra.Command{Use: "swap", Short: "Single-chain swap commands"}
	root.AddCommand(s.newSwapQuoteCommand())
	root.AddCommand(s.newSwapPlanCommand())
	root.AddCommand(s.newSwapApproveCommand())
	root.AddCommand(s.newSwapSubmitCommand())
	return root
}

func (s *runtimeState) newSwapQuoteCommand() *cobra.Command {
	var args quoteArgs
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Best trade per provider on one chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := trimRootPath(cmd.CommandPath())
			key := cache.QuoteKey(path, args.cacheRequest(map[string]any{
				"mode":         args.mode,
				"default_mode": s.settings.Swap.Mode,
				"include_gas":  args.includeGas,
				"from_address": args.fromAddress,
				"use_provider": args.useProvider,
			}))
			return s.runCachedCommand(path, key, quoteTTL, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				calc, mode, err := s.calculateSingle(ctx, args)
				if err != nil {
					var statuses []model.ProviderStatus
					if len(calc.env.leg.Builders) > 0 {
						statuses, _ = providerStatuses(calc.env, nil, time.Since(start))
					}
					return nil, statuses, calc.env.warnings, false, err
				}
				statuses, partial := providerStatuses(calc.env, calc.results, time.Since(start))
				return calc.quote(mode), statuses, calc.env.warnings, partial, nil
			})
		},
	}
	args.register(cmd)
	return cmd
}

// swapPlanArgs carry execution-shaping flags shared by plan and submit.
type swapPlanArgs struct {
	quoteArgs
	recipient       string
	slippageBps     int64
	deadlineMinutes int64
}

func (a *swapPlanArgs) register(cmd *cobra.Command) {
	a.quoteArgs.register(cmd)
	cmd.Flags().StringVar(&a.recipient, "recipient", "", "Recipient address (defaults to sender; a third party routes through the fee proxy)")
	cmd.Flags().Int64Var(&a.slippageBps, "slippage-bps", -1, "Max slippage in basis points; defaults to swap.slippage_bps")
	cmd.Flags().Int64Var(&a.deadlineMinutes, "deadline-minutes", 0, "Swap deadline in minutes; defaults to swap.deadline_minutes")
}

func (a swapPlanArgs) resolved(s *runtimeState) (common.Address, int64, int, error) {
	recipient, err := parseAddress("recipient", a.recipient)
	if err != nil {
		return common.Address{}, 0, 0, err
	}
	slippage := a.slippageBps
	if slippage < 0 {
		slippage = s.settings.Swap.SlippageBps
	}
	deadline := a.deadlineMinutes
	if deadline <= 0 {
		deadline = s.settings.Swap.DeadlineMinutes
	}
	return recipient, slippage, int(deadline), nil
}

func (s *runtimeState) newSwapPlanCommand() *cobra.Command {
	var args swapPlanArgs
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Calculate the best trade and persist its swap action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipient, slippage, deadline, err := args.resolved(s)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			calc, _, err := s.calculateSingle(ctx, args.quoteArgs)
			if err != nil {
				return err
			}
			statuses, _ := providerStatuses(calc.env, calc.results, time.Since(start))
			best, builder, err := calc.best()
			if err != nil {
				return err
			}
			if calc.sender == (common.Address{}) {
				return clierr.New(clierr.CodeUsage, "--from-address is required to plan a swap")
			}
			needs, err := builder.NeedApprove(ctx, *best.Trade, calc.sender, recipient)
			if err != nil {
				return err
			}
			if needs {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s allowance is too low; run swap approve first", best.Trade.From.Token.Symbol))
			}
			action, err := builder.PlanSwap(ctx, *best.Trade, trade.PlanOptions{
				Sender:          calc.sender,
				Recipient:       recipient,
				SlippageBps:     slippage,
				DeadlineMinutes: deadline,
			})
			if err != nil {
				s.captureCommandDiagnostics(calc.env.warnings, statuses, false)
				return err
			}
			if err := s.actionStore.Save(action); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "persist planned action", err)
			}
			s.captureCommandDiagnostics(calc.env.warnings, statuses, false)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, calc.env.warnings, cacheMetaBypass(), statuses, false)
		},
	}
	args.register(cmd)
	_ = cmd.MarkFlagRequired("from-address")
	return cmd
}

func (s *runtimeState) newSwapApproveCommand() *cobra.Command {
	var args swapPlanArgs
	var unlimited bool
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Persist the approval action the selected trade needs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipient, _, _, err := args.resolved(s)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			calc, _, err := s.calculateSingle(ctx, args.quoteArgs)
			if err != nil {
				return err
			}
			best, builder, err := calc.best()
			if err != nil {
				return err
			}
			if calc.sender == (common.Address{}) {
				return clierr.New(clierr.CodeUsage, "--from-address is required to plan an approval")
			}
			needs, err := builder.NeedApprove(ctx, *best.Trade, calc.sender, recipient)
			if err != nil {
				return err
			}
			if !needs {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{
					"needs_approval": false,
					"provider":       best.Provider,
					"spender":        builder.Spender(*best.Trade, calc.sender, recipient).Hex(),
				}, nil, cacheMetaBypass(), nil, false)
			}
			action, err := builder.Approve(ctx, *best.Trade, calc.sender, recipient, unlimited)
			if err != nil {
				return err
			}
			if err := s.actionStore.Save(action); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "persist planned action", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
		},
	}
	args.register(cmd)
	cmd.Flags().BoolVar(&unlimited, "unlimited", false, "Approve the max allowance (requires --allow-max-approval at submit)")
	_ = cmd.MarkFlagRequired("from-address")
	return cmd
}

func (s *runtimeState) newSwapSubmitCommand() *cobra.Command {
	var args swapPlanArgs
	var exec executionFlags
	var autoApprove, unlimited bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Calculate, approve when needed, and broadcast the best trade",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipient, slippage, deadline, err := args.resolved(s)
			if err != nil {
				return err
			}
			txSigner, err := exec.signerFor(args.fromAddress)
			if err != nil {
				return err
			}
			opts, err := exec.options(s.allowedTargets())
			if err != nil {
				return err
			}
			if unlimited && !opts.AllowMaxApproval {
				return clierr.New(clierr.CodeUsage, "--unlimited requires --allow-max-approval")
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
			calc, _, err := s.calculateSingle(ctx, args.quoteArgs)
			if err != nil {
				sess.Fail(token, err)
				return err
			}
			best, builder, err := calc.best()
			if err != nil {
				sess.Fail(token, err)
				return err
			}
			needs, err := builder.NeedApprove(ctx, *best.Trade, sender.Address(), recipient)
			if err != nil {
				sess.Fail(token, err)
				return err
			}
			sess.Apply(token, session.Calculation{Providers: calc.results, NeedsApproval: needs})

			result := model.Submission{Status: "submitted", Steps: map[string]string{}}
			record := func(step string) func(string, string) {
				return func(_, hash string) { result.Steps[step] = hash }
			}
			if needs {
				if !autoApprove {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s allowance is too low; rerun with --auto-approve or run swap approve", best.Trade.From.Token.Symbol))
				}
				err := sess.Approve(ctx, func(ctx context.Context, c session.Calculation) error {
					action, err := builder.Approve(ctx, *best.Trade, sender.Address(), recipient, unlimited)
					if err != nil {
						return err
					}
					return sender.Send(ctx, &action, record("approve"))
				})
				if err != nil {
					return err
				}
			}
			err = sess.Swap(ctx, func(ctx context.Context, c session.Calculation) error {
				selected, ok := c.Best()
				if !ok || selected.Trade == nil {
					return clierr.New(clierr.CodeNoSelectedProvider, "no trade selected")
				}
				hash, err := calc.env.leg.Builders[selected.ProviderIndex].Execute(ctx, *selected.Trade, trade.ExecuteOptions{
					Recipient:       recipient,
					SlippageBps:     slippage,
					DeadlineMinutes: deadline,
					Sender:          sender,
					OnTxHash:        func(hash string) { result.Steps["swap"] = hash },
				})
				result.TxHash = hash
				return err
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, calc.env.warnings, cacheMetaBypass(), nil, false)
		},
	}
	args.register(cmd)
	exec.register(cmd)
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Submit the approval first when the allowance is too low")
	cmd.Flags().BoolVar(&unlimited, "unlimited", false, "Approve the max allowance when approving")
	return cmd
}
