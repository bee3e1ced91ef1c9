package execution

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
)

type fakeStepClient struct {
	chainID  int64
	callErr  error
	sent     []*types.Transaction
	receipts int
	pending  int
}

func (f *fakeStepClient) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }

func (f *fakeStepClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, f.callErr
}

func (f *fakeStepClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeStepClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeStepClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeStepClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeStepClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeStepClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.receipts++
	if f.receipts <= f.pending {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (f *fakeStepClient) Close() {}

func useFakeClient(t *testing.T, client *fakeStepClient) {
	t.Helper()
	prev := dialStepClient
	dialStepClient = func(context.Context, string) (stepClient, error) { return client, nil }
	t.Cleanup(func() { dialStepClient = prev })
}

const testBridge = "0x00000000000000000000000000000000000000cd"

func bridgeAction(t *testing.T) Action {
	t.Helper()
	approve, err := policyERC20ABI.Pack("approve", common.HexToAddress(testBridge), big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("pack approve: %v", err)
	}
	action := NewAction(NewActionID(), "crosschain", "eip155:56", Constraints{Simulate: true})
	action.InputAmount = "1000000"
	action.Steps = []ActionStep{
		{
			StepID: "approve-bridge", Type: StepTypeApproval, Status: StepStatusPending, ChainID: "eip155:56",
			RPCURL: "http://rpc.test", Target: "0x55d398326f99059fF775485246999027B3197955", Data: hexutil.Encode(approve), Value: "0",
		},
		{
			StepID: "bridge", Type: StepTypeBridge, Status: StepStatusPending, ChainID: "eip155:56",
			RPCURL: "http://rpc.test", Target: testBridge, Data: hexutil.Encode(policyBridgeABI.Methods["transferWithSwapV2"].ID), Value: "12",
		},
	}
	return action
}

func TestExecuteActionReportsEachSubmittedStep(t *testing.T) {
	client := &fakeStepClient{chainID: 56, pending: 1}
	useFakeClient(t, client)

	action := bridgeAction(t)
	var submitted []string
	opts := DefaultExecuteOptions()
	opts.PollInterval = time.Millisecond
	opts.AllowedTargets = []string{testBridge}
	opts.OnSubmitted = func(step ActionStep) {
		submitted = append(submitted, step.StepID+"="+step.TxHash)
	}
	if err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, opts); err != nil {
		t.Fatalf("ExecuteAction failed: %v", err)
	}
	if action.Status != ActionStatusCompleted {
		t.Fatalf("expected completed action, got %s", action.Status)
	}
	if len(client.sent) != 2 || len(submitted) != 2 || !strings.HasPrefix(submitted[1], "bridge=0x") {
		t.Fatalf("unexpected submissions %v", submitted)
	}
	bridgeTx := client.sent[1]
	if bridgeTx.Value().Int64() != 12 || bridgeTx.Nonce() != 1 || bridgeTx.Gas() != 120_000 {
		t.Fatalf("unexpected bridge tx value=%s nonce=%d gas=%d", bridgeTx.Value(), bridgeTx.Nonce(), bridgeTx.Gas())
	}
	// Fee cap is twice the base fee plus the tip.
	if bridgeTx.GasFeeCap().Int64() != 4_000_000_000 || bridgeTx.GasTipCap().Int64() != 2_000_000_000 {
		t.Fatalf("unexpected fees cap=%s tip=%s", bridgeTx.GasFeeCap(), bridgeTx.GasTipCap())
	}
	for _, step := range action.Steps {
		if step.Status != StepStatusConfirmed {
			t.Fatalf("step %s not confirmed: %s", step.StepID, step.Status)
		}
	}
}

func TestExecuteActionBlocksUnconfiguredBridge(t *testing.T) {
	client := &fakeStepClient{chainID: 56}
	useFakeClient(t, client)

	action := bridgeAction(t)
	action.Steps = action.Steps[1:]
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, DefaultExecuteOptions())
	if !clierr.IsCode(err, clierr.CodeActionPlan) {
		t.Fatalf("expected policy error, got %v", err)
	}
	if len(client.sent) != 0 || action.Status != ActionStatusFailed {
		t.Fatalf("nothing must be sent, sent=%d status=%s", len(client.sent), action.Status)
	}
}

func TestExecuteActionSimulationRevert(t *testing.T) {
	client := &fakeStepClient{chainID: 56, callErr: testRPCDataError{
		msg:  "execution reverted",
		data: hexutil.Encode(encodeErrorString(t, "amount too low")),
	}}
	useFakeClient(t, client)

	action := bridgeAction(t)
	opts := DefaultExecuteOptions()
	opts.AllowedTargets = []string{testBridge}
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, opts)
	if !clierr.IsCode(err, clierr.CodeActionSim) || !strings.Contains(err.Error(), "amount too low") {
		t.Fatalf("expected decoded simulation error, got %v", err)
	}
	if action.Steps[0].Status != StepStatusFailed || action.Steps[1].Status != StepStatusPending {
		t.Fatalf("unexpected step statuses %s %s", action.Steps[0].Status, action.Steps[1].Status)
	}
}

func TestExecuteActionResumesSubmittedStep(t *testing.T) {
	client := &fakeStepClient{chainID: 56}
	useFakeClient(t, client)

	action := bridgeAction(t)
	action.Steps[0].Status = StepStatusConfirmed
	action.Steps[1].Status = StepStatusSubmitted
	action.Steps[1].TxHash = "0x" + strings.Repeat("ab", 32)
	opts := DefaultExecuteOptions()
	opts.AllowedTargets = []string{testBridge}
	if err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, opts); err != nil {
		t.Fatalf("ExecuteAction failed: %v", err)
	}
	if len(client.sent) != 0 {
		t.Fatalf("a submitted step must not be re-sent, sent=%d", len(client.sent))
	}
	if action.Steps[1].Status != StepStatusConfirmed {
		t.Fatalf("expected confirmed bridge step, got %s", action.Steps[1].Status)
	}
}

func TestExecuteActionRejectsForeignSigner(t *testing.T) {
	action := bridgeAction(t)
	action.FromAddress = "0x00000000000000000000000000000000000000bb"
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, DefaultExecuteOptions())
	if !clierr.IsCode(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestWaitForReceiptTimeout(t *testing.T) {
	client := &fakeStepClient{chainID: 56, pending: 1 << 30}
	step := &ActionStep{}
	err := waitForReceipt(context.Background(), client, step, common.Hash{}, ExecuteOptions{PollInterval: time.Millisecond, StepTimeout: 10 * time.Millisecond})
	if !clierr.IsCode(err, clierr.CodeActionTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if errors.Is(err, ethereum.NotFound) {
		t.Fatal("not-found polls must not be reported as the cause")
	}
}

func TestSenderForwardsStepHashesAndJournals(t *testing.T) {
	client := &fakeStepClient{chainID: 56}
	useFakeClient(t, client)
	store := openTestStore(t)

	opts := DefaultExecuteOptions()
	opts.PollInterval = time.Millisecond
	opts.AllowedTargets = []string{testBridge}
	sender := NewSender(staticSigner{}, store, opts)
	if sender.Address() != (staticSigner{}).Address() {
		t.Fatalf("unexpected sender address %s", sender.Address().Hex())
	}

	action := bridgeAction(t)
	hashes := map[string]string{}
	if err := sender.Send(context.Background(), &action, func(stepID, txHash string) { hashes[stepID] = txHash }); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if hashes["bridge"] == "" || hashes["approve-bridge"] == "" || hashes["bridge"] == hashes["approve-bridge"] {
		t.Fatalf("unexpected step hashes %v", hashes)
	}
	stored, err := store.Get(action.ActionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != ActionStatusCompleted || stored.Step("bridge").TxHash != hashes["bridge"] {
		t.Fatalf("unexpected journaled action %+v", stored)
	}
}
