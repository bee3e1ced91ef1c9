package execution

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

var (
	policyERC20ABI  = mustPolicyABI(registry.ERC20MinimalABI)
	policyBridgeABI = mustPolicyABI(registry.BridgeABI)

	policyApproveSelector = policyERC20ABI.Methods["approve"].ID
)

func validateStepPolicy(action *Action, step *ActionStep, chainID int64, data []byte, opts ExecuteOptions) error {
	if step == nil {
		return clierr.New(clierr.CodeInternal, "missing action step")
	}
	if !common.IsHexAddress(step.Target) {
		return clierr.New(clierr.CodeUsage, "invalid step target address")
	}

	switch step.Type {
	case StepTypeApproval:
		return validateApprovalPolicy(action, data, opts)
	case StepTypeSwap:
		return validateSwapPolicy(step, chainID, opts)
	case StepTypeBridge:
		return validateBridgePolicy(step, data, opts)
	default:
		return nil
	}
}

func validateApprovalPolicy(action *Action, data []byte, opts ExecuteOptions) error {
	if len(data) < 4 || !bytes.Equal(data[:4], policyApproveSelector) {
		return clierr.New(clierr.CodeActionPlan, "approval step must use ERC20 approve(spender,amount)")
	}
	args, err := policyERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeActionPlan, "approval step calldata is invalid")
	}
	spender, ok := args[0].(common.Address)
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeActionPlan, "approval step has invalid spender")
	}
	amount, ok := args[1].(*big.Int)
	if !ok || amount == nil || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeActionPlan, "approval step has invalid approval amount")
	}
	if opts.AllowMaxApproval {
		return nil
	}
	if action == nil {
		return clierr.New(clierr.CodeActionPlan, "cannot validate approval bounds without action context")
	}
	requested, ok := parsePositiveBaseUnits(action.InputAmount)
	if !ok {
		return clierr.New(clierr.CodeActionPlan, "cannot validate approval bounds for non-numeric input amount; use --allow-max-approval to override")
	}
	if amount.Cmp(requested) > 0 {
		return clierr.New(
			clierr.CodeActionPlan,
			fmt.Sprintf("approval amount %s exceeds requested input amount %s; use --allow-max-approval to override", amount.String(), requested.String()),
		)
	}
	return nil
}

// validateSwapPolicy requires a registered router or a configured contract
// as the swap target.
func validateSwapPolicy(step *ActionStep, chainID int64, opts ExecuteOptions) error {
	if opts.UnsafeProviderTx {
		return nil
	}
	target := common.HexToAddress(step.Target)
	for _, d := range registry.DexDeployments(chainID) {
		if common.HexToAddress(d.Router) == target {
			return nil
		}
	}
	if allowedTarget(opts.AllowedTargets, target) {
		return nil
	}
	return clierr.New(clierr.CodeActionPlan, fmt.Sprintf("swap target %s is not a known router on chain %d; use --unsafe-provider-tx to override", target.Hex(), chainID))
}

func validateBridgePolicy(step *ActionStep, data []byte, opts ExecuteOptions) error {
	if len(data) < 4 {
		return clierr.New(clierr.CodeActionPlan, "bridge step calldata is empty")
	}
	method, err := policyBridgeABI.MethodById(data[:4])
	if err != nil || !strings.HasPrefix(method.Name, "transferWithSwap") {
		return clierr.New(clierr.CodeActionPlan, "bridge step must call a transferWithSwap method")
	}
	if opts.UnsafeProviderTx {
		return nil
	}
	if !allowedTarget(opts.AllowedTargets, common.HexToAddress(step.Target)) {
		return clierr.New(clierr.CodeActionPlan, "bridge step target is not a configured bridge contract; use --unsafe-provider-tx to override")
	}
	return nil
}

func allowedTarget(allowed []string, target common.Address) bool {
	for _, a := range allowed {
		if common.IsHexAddress(strings.TrimSpace(a)) && common.HexToAddress(strings.TrimSpace(a)) == target {
			return true
		}
	}
	return false
}

func parsePositiveBaseUnits(value string) (*big.Int, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, false
	}
	return parsed, true
}

func mustPolicyABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
