package execution

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestValidateApprovalPolicyBounded(t *testing.T) {
	data, err := policyERC20ABI.Pack("approve", common.HexToAddress("0x00000000000000000000000000000000000000ab"), big.NewInt(100))
	if err != nil {
		t.Fatalf("pack approval calldata: %v", err)
	}
	action := &Action{InputAmount: "100"}
	step := &ActionStep{Type: StepTypeApproval, Target: "0x00000000000000000000000000000000000000cd"}

	if err := validateStepPolicy(action, step, 1, data, ExecuteOptions{}); err != nil {
		t.Fatalf("expected bounded approval to pass, got err=%v", err)
	}
}

func TestValidateApprovalPolicyRejectsUnlimitedByDefault(t *testing.T) {
	data, err := policyERC20ABI.Pack("approve", common.HexToAddress("0x00000000000000000000000000000000000000ab"), big.NewInt(101))
	if err != nil {
		t.Fatalf("pack approval calldata: %v", err)
	}
	action := &Action{InputAmount: "100"}
	step := &ActionStep{Type: StepTypeApproval, Target: "0x00000000000000000000000000000000000000cd"}

	err = validateStepPolicy(action, step, 1, data, ExecuteOptions{})
	if err == nil {
		t.Fatal("expected bounded-approval validation to fail")
	}
	if !strings.Contains(err.Error(), "allow-max-approval") {
		t.Fatalf("expected override hint, got err=%v", err)
	}
}

func TestValidateApprovalPolicyAllowsOverride(t *testing.T) {
	data, err := policyERC20ABI.Pack("approve", common.HexToAddress("0x00000000000000000000000000000000000000ab"), big.NewInt(101))
	if err != nil {
		t.Fatalf("pack approval calldata: %v", err)
	}
	action := &Action{InputAmount: "100"}
	step := &ActionStep{Type: StepTypeApproval, Target: "0x00000000000000000000000000000000000000cd"}

	if err := validateStepPolicy(action, step, 1, data, ExecuteOptions{AllowMaxApproval: true}); err != nil {
		t.Fatalf("expected approval override to pass, got err=%v", err)
	}
}

func TestValidateSwapPolicyKnownRouters(t *testing.T) {
	step := &ActionStep{Type: StepTypeSwap, Target: "0x10ED43C718714eb63d5aA57B78B54704E256024E"}
	if err := validateStepPolicy(nil, step, 56, []byte{0x01}, ExecuteOptions{}); err != nil {
		t.Fatalf("expected registered router to pass, got err=%v", err)
	}

	proxy := "0x00000000000000000000000000000000000000ef"
	step = &ActionStep{Type: StepTypeSwap, Target: proxy}
	if err := validateStepPolicy(nil, step, 56, []byte{0x01}, ExecuteOptions{}); err == nil {
		t.Fatal("expected unknown swap target to fail")
	}
	if err := validateStepPolicy(nil, step, 56, []byte{0x01}, ExecuteOptions{AllowedTargets: []string{proxy}}); err != nil {
		t.Fatalf("expected configured fee proxy to pass, got err=%v", err)
	}
}

func TestValidateBridgePolicy(t *testing.T) {
	bridge := "0x00000000000000000000000000000000000000cd"
	step := &ActionStep{Type: StepTypeBridge, Target: bridge}
	selector := policyBridgeABI.Methods["transferWithSwapV2Native"].ID

	if err := validateStepPolicy(nil, step, 1, selector, ExecuteOptions{}); err == nil {
		t.Fatal("expected unconfigured bridge target to fail")
	}
	if err := validateStepPolicy(nil, step, 1, selector, ExecuteOptions{AllowedTargets: []string{bridge}}); err != nil {
		t.Fatalf("expected configured bridge to pass, got err=%v", err)
	}
	fee := policyBridgeABI.Methods["feeRubic"].ID
	if err := validateStepPolicy(nil, step, 1, fee, ExecuteOptions{UnsafeProviderTx: true}); err == nil {
		t.Fatal("expected non-transfer bridge call to fail even when unsafe")
	}
}
