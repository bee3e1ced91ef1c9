package app

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
)

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Submission journal commands"}
	root.AddCommand(s.newActionsListCommand())
	root.AddCommand(s.newActionsShowCommand())
	root.AddCommand(s.newActionsSubmitCommand())
	root.AddCommand(s.newActionsEstimateCommand())
	return root
}

func (s *runtimeState) loadAction(actionID string) (execution.Action, error) {
	actionID, err := resolveActionID(actionID)
	if err != nil {
		return execution.Action{}, err
	}
	if err := s.ensureActionStore(); err != nil {
		return execution.Action{}, err
	}
	action, err := s.actionStore.Get(actionID)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUsage, "load action", err)
	}
	return action, nil
}

func (s *runtimeState) newActionsListCommand() *cobra.Command {
	var status, intent string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List planned and submitted actions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			actions, err := s.actionStore.List(execution.ListFilter{
				Status: strings.ToLower(strings.TrimSpace(status)),
				Intent: strings.ToLower(strings.TrimSpace(intent)),
				Limit:  limit,
			})
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list actions", err)
			}
			if actions == nil {
				actions = []execution.Action{}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), actions, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (planned|running|completed|failed)")
	cmd.Flags().StringVar(&intent, "intent", "", "Filter by intent (swap|approve|crosschain)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum actions to return")
	return cmd
}

func (s *runtimeState) newActionsShowCommand() *cobra.Command {
	var actionID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one action and its step states",
		RunE: func(cmd *cobra.Command, _ []string) error {
			action, err := s.loadAction(actionID)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&actionID, "action-id", "", "Action identifier")
	return cmd
}

func (s *runtimeState) newActionsSubmitCommand() *cobra.Command {
	var (
		actionID string
		exec     executionFlags
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Sign and broadcast the pending steps of a planned action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			action, err := s.loadAction(actionID)
			if err != nil {
				return err
			}
			if action.Status == execution.ActionStatusCompleted {
				return clierr.New(clierr.CodeUsage, "action is already completed")
			}
			txSigner, err := exec.signerFor(action.FromAddress)
			if err != nil {
				return err
			}
			opts, err := exec.options(s.allowedTargets())
			if err != nil {
				return err
			}
			if err := s.executeActionWithTimeout(&action, txSigner, opts); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&actionID, "action-id", "", "Action identifier")
	exec.register(cmd)
	return cmd
}

func (s *runtimeState) newActionsEstimateCommand() *cobra.Command {
	var (
		actionID           string
		stepIDs            string
		blockTag           string
		gasMultiplier      float64
		maxFeeGwei         string
		maxPriorityFeeGwei string
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate gas and fees for the steps of a planned action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			action, err := s.loadAction(actionID)
			if err != nil {
				return err
			}
			if gasMultiplier <= 1 {
				return clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
			}
			opts := execution.DefaultEstimateOptions()
			opts.StepIDs = splitCSV(stepIDs)
			opts.GasMultiplier = gasMultiplier
			opts.MaxFeeGwei = strings.TrimSpace(maxFeeGwei)
			opts.MaxPriorityFeeGwei = strings.TrimSpace(maxPriorityFeeGwei)
			if strings.TrimSpace(blockTag) != "" {
				opts.BlockTag = execution.EstimateBlockTag(strings.ToLower(strings.TrimSpace(blockTag)))
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			estimate, err := execution.EstimateActionGas(ctx, action, opts)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), estimate, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&actionID, "action-id", "", "Action identifier")
	cmd.Flags().StringVar(&stepIDs, "step-ids", "", "Only estimate these steps (comma-separated)")
	cmd.Flags().StringVar(&blockTag, "block-tag", "", "Block tag for estimation (latest|pending)")
	cmd.Flags().Float64Var(&gasMultiplier, "gas-multiplier", 1.2, "Gas estimate safety multiplier")
	cmd.Flags().StringVar(&maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	cmd.Flags().StringVar(&maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	return cmd
}
