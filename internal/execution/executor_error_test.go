package execution

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func TestDecodeRevertDataRouterReason(t *testing.T) {
	reason := decodeRevertData(encodeErrorString(t, "UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT"))
	if reason != "UniswapV2Router: INSUFFICIENT_OUTPUT_AMOUNT" {
		t.Fatalf("expected decoded router reason, got %q", reason)
	}
}

func TestDecodeRevertDataBridgeCustomError(t *testing.T) {
	selector := crypto.Keccak256([]byte("AmountTooLow()"))[:4]
	reason := decodeRevertData(selector)
	if !strings.Contains(reason, common.Bytes2Hex(selector)) {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestDecodeRevertFromApprovalDataError(t *testing.T) {
	err := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "TransferHelper: TRANSFER_FROM_FAILED")),
	}
	if reason := decodeRevertFromError(err); reason != "TransferHelper: TRANSFER_FROM_FAILED" {
		t.Fatalf("unexpected decoded reason: %q", reason)
	}
}

func TestSimulationRevertCarriesSwapReason(t *testing.T) {
	rootErr := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "UniswapV2Router: EXPIRED")),
	}
	wrapped := wrapEVMExecutionError(clierr.CodeActionSim, "simulate step (eth_call)", rootErr)
	var typed *clierr.Error
	if !errors.As(wrapped, &typed) || typed.Code != clierr.CodeActionSim {
		t.Fatalf("expected simulation error, got %v", wrapped)
	}
	if !strings.Contains(typed.Error(), "UniswapV2Router: EXPIRED") {
		t.Fatalf("expected decoded reason in wrapped error, got: %v", typed)
	}
}

func TestNormalizeStepTxHash(t *testing.T) {
	if _, ok := normalizeStepTxHash("0x" + strings.Repeat("ab", 32)); !ok {
		t.Fatal("expected valid tx hash to parse")
	}
	if _, ok := normalizeStepTxHash("0x1234"); ok {
		t.Fatal("expected short tx hash to fail")
	}
}

func TestExecuteActionRejectsInvalidApprovalTargetBeforeRPCDial(t *testing.T) {
	action := bridgeAction(t)
	action.Steps[0].RPCURL = "http://127.0.0.1:65535"
	action.Steps[0].Target = "not-an-address"
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, DefaultExecuteOptions())
	if !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if action.Steps[0].Status != StepStatusFailed {
		t.Fatalf("expected approval step to be marked failed, got %s", action.Steps[0].Status)
	}
	if action.Steps[1].Status != StepStatusPending {
		t.Fatalf("bridge step must not run after a failed approval, got %s", action.Steps[1].Status)
	}
}

func TestExecuteActionRejectsNegativeBridgeValue(t *testing.T) {
	client := &fakeStepClient{chainID: 56}
	useFakeClient(t, client)

	action := bridgeAction(t)
	action.Steps[0].Status = StepStatusConfirmed
	action.Steps[1].Value = "-12"
	opts := DefaultExecuteOptions()
	opts.AllowedTargets = []string{testBridge}
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, opts)
	if !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected nothing broadcast, got %d txs", len(client.sent))
	}
}

func TestExecuteActionRejectsCrossChainActionOnWrongChain(t *testing.T) {
	client := &fakeStepClient{chainID: 1}
	useFakeClient(t, client)

	action := bridgeAction(t)
	opts := DefaultExecuteOptions()
	opts.AllowedTargets = []string{testBridge}
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, opts)
	if !clierr.IsCode(err, clierr.CodeActionPlan) {
		t.Fatalf("expected action plan error, got %v", err)
	}
	if !strings.Contains(err.Error(), "eip155:56") || len(client.sent) != 0 {
		t.Fatalf("unexpected result err=%v sent=%d", err, len(client.sent))
	}
}

func TestExecuteActionRejectsMalformedPlannedSender(t *testing.T) {
	action := bridgeAction(t)
	action.FromAddress = "0xnot-an-address"
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, DefaultExecuteOptions())
	if !clierr.IsCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
	if action.Status == ActionStatusRunning {
		t.Fatal("action must not start with a malformed sender")
	}
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	sender := staticSigner{}.Address()
	unlock := acquireSignerNonceLock(big.NewInt(56), sender)
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(56), sender)
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	encoded, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}

type staticSigner struct{}

func (staticSigner) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (staticSigner) SignTx(_ *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}
