package app

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
	execsigner "github.com/ggonzalez94/xswap-cli/internal/execution/signer"
)

// executionFlags are shared by every command that signs and broadcasts.
type executionFlags struct {
	simulate           bool
	signer             string
	keySource          string
	privateKey         string
	confirmAddress     string
	pollInterval       string
	stepTimeout        string
	gasMultiplier      float64
	maxFeeGwei         string
	maxPriorityFeeGwei string
	allowMaxApproval   bool
	unsafeProviderTx   bool
}

func (f *executionFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.simulate, "simulate", true, "Run preflight simulation before submission")
	cmd.Flags().StringVar(&f.signer, "signer", "local", "Signer backend (local)")
	cmd.Flags().StringVar(&f.keySource, "key-source", execsigner.KeySourceAuto, "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&f.privateKey, "private-key", "", "Private key hex override (prefer env or key file)")
	cmd.Flags().StringVar(&f.confirmAddress, "confirm-address", "", "Require signer address to match this value")
	cmd.Flags().StringVar(&f.pollInterval, "poll-interval", "2s", "Receipt polling interval")
	cmd.Flags().StringVar(&f.stepTimeout, "step-timeout", "2m", "Per-step receipt timeout")
	cmd.Flags().Float64Var(&f.gasMultiplier, "gas-multiplier", 1.2, "Gas estimate safety multiplier")
	cmd.Flags().StringVar(&f.maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	cmd.Flags().StringVar(&f.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	cmd.Flags().BoolVar(&f.allowMaxApproval, "allow-max-approval", false, "Permit approvals above the input amount")
	cmd.Flags().BoolVar(&f.unsafeProviderTx, "unsafe-provider-tx", false, "Skip router and bridge target checks")
}

// signerFor builds the signer and checks it against the expected sender.
func (f *executionFlags) signerFor(expected string) (execsigner.Signer, error) {
	txSigner, err := newExecutionSigner(f.signer, f.keySource, f.privateKey, f.confirmAddress)
	if err != nil {
		return nil, err
	}
	if err := execsigner.CheckSender(txSigner, expected); err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "signer address does not match planned action sender", err)
	}
	return txSigner, nil
}

func (f *executionFlags) options(allowedTargets []string) (execution.ExecuteOptions, error) {
	opts, err := parseExecuteOptions(f.simulate, f.pollInterval, f.stepTimeout, f.gasMultiplier, f.maxFeeGwei, f.maxPriorityFeeGwei)
	if err != nil {
		return execution.ExecuteOptions{}, err
	}
	opts.AllowMaxApproval = f.allowMaxApproval
	opts.UnsafeProviderTx = f.unsafeProviderTx
	opts.AllowedTargets = allowedTargets
	return opts, nil
}

func newExecutionSigner(backend, keySource, privateKey, confirmAddress string) (execsigner.Signer, error) {
	if strings.ToLower(strings.TrimSpace(backend)) != "local" {
		return nil, clierr.New(clierr.CodeUnsupported, "only the local signer backend is supported")
	}
	switch strings.ToLower(strings.TrimSpace(keySource)) {
	case execsigner.KeySourceAuto, execsigner.KeySourceEnv, execsigner.KeySourceFile, execsigner.KeySourceKeystore:
	default:
		return nil, clierr.New(clierr.CodeUsage, "--key-source must be one of auto|env|file|keystore")
	}
	local, err := execsigner.NewLocalSignerFromInputs(strings.ToLower(strings.TrimSpace(keySource)), privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "initialize local signer", err)
	}
	if confirm := strings.TrimSpace(confirmAddress); confirm != "" && !strings.EqualFold(confirm, local.Address().Hex()) {
		return nil, clierr.New(clierr.CodeSigner, "signer address does not match --confirm-address")
	}
	return local, nil
}

func parseExecuteOptions(simulate bool, pollInterval, stepTimeout string, gasMultiplier float64, maxFeeGwei, maxPriorityFeeGwei string) (execution.ExecuteOptions, error) {
	opts := execution.DefaultExecuteOptions()
	opts.Simulate = simulate
	if strings.TrimSpace(pollInterval) != "" {
		d, err := time.ParseDuration(pollInterval)
		if err != nil || d <= 0 {
			return execution.ExecuteOptions{}, clierr.New(clierr.CodeUsage, "--poll-interval must be a positive duration")
		}
		opts.PollInterval = d
	}
	if strings.TrimSpace(stepTimeout) != "" {
		d, err := time.ParseDuration(stepTimeout)
		if err != nil || d <= 0 {
			return execution.ExecuteOptions{}, clierr.New(clierr.CodeUsage, "--step-timeout must be a positive duration")
		}
		opts.StepTimeout = d
	}
	if gasMultiplier <= 1 {
		return execution.ExecuteOptions{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
	}
	opts.GasMultiplier = gasMultiplier
	opts.MaxFeeGwei = strings.TrimSpace(maxFeeGwei)
	opts.MaxPriorityFeeGwei = strings.TrimSpace(maxPriorityFeeGwei)
	return opts, nil
}

func resolveActionID(actionID string) (string, error) {
	actionID = strings.TrimSpace(actionID)
	if actionID == "" {
		return "", clierr.New(clierr.CodeUsage, "--action-id is required")
	}
	return actionID, nil
}

// executionTimeout bounds a broadcast: every step may wait its full receipt
// timeout.
func (s *runtimeState) executionTimeout(steps int, opts execution.ExecuteOptions) time.Duration {
	budget := s.settings.Timeout
	if steps < 1 {
		steps = 1
	}
	if perStep := time.Duration(steps) * (opts.StepTimeout + s.settings.Timeout); perStep > budget {
		budget = perStep
	}
	return budget
}

func (s *runtimeState) executeActionWithTimeout(action *execution.Action, txSigner execsigner.Signer, opts execution.ExecuteOptions) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout(len(action.Steps), opts))
	defer cancel()
	return execution.ExecuteAction(ctx, s.actionStore, action, txSigner, opts)
}
