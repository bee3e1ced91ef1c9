package execution

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/execution/signer"
)

type ExecuteOptions struct {
	Simulate           bool
	PollInterval       time.Duration
	StepTimeout        time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	// AllowMaxApproval permits approvals above the action input amount.
	AllowMaxApproval bool
	// UnsafeProviderTx skips the swap and bridge target checks.
	UnsafeProviderTx bool
	// AllowedTargets extends the registry routers with configured contracts
	// such as the fee proxy and the bridge.
	AllowedTargets []string
	// OnSubmitted is called once per step as soon as its hash is known.
	OnSubmitted func(step ActionStep)
}

func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		Simulate:      true,
		PollInterval:  2 * time.Second,
		StepTimeout:   2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

// stepClient is the subset of ethclient used to run one step.
type stepClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var dialStepClient = func(ctx context.Context, rpcURL string) (stepClient, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

func ExecuteAction(ctx context.Context, store *Store, action *Action, txSigner signer.Signer, opts ExecuteOptions) error {
	if action == nil {
		return clierr.New(clierr.CodeInternal, "missing action")
	}
	if txSigner == nil {
		return clierr.New(clierr.CodeSigner, "missing signer")
	}
	if len(action.Steps) == 0 {
		return clierr.New(clierr.CodeUsage, "action has no executable steps")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if err := signer.CheckSender(txSigner, action.FromAddress); err != nil {
		return clierr.Wrap(clierr.CodeSigner, "check signer", err)
	}
	action.Status = ActionStatusRunning
	action.FromAddress = txSigner.Address().Hex()
	action.Touch()
	save(store, action)

	for i := range action.Steps {
		step := &action.Steps[i]
		if step.Status == StepStatusConfirmed {
			continue
		}
		if err := runStep(ctx, action, step, txSigner, opts); err != nil {
			markStepFailed(action, step, err.Error())
			save(store, action)
			return err
		}
		action.Touch()
		save(store, action)
	}
	action.Status = ActionStatusCompleted
	action.Touch()
	save(store, action)
	return nil
}

func save(store *Store, action *Action) {
	if store != nil {
		_ = store.Save(*action)
	}
}

func runStep(ctx context.Context, action *Action, step *ActionStep, txSigner signer.Signer, opts ExecuteOptions) error {
	if strings.TrimSpace(step.RPCURL) == "" {
		return clierr.New(clierr.CodeUsage, "missing rpc url for action step")
	}
	if !common.IsHexAddress(strings.TrimSpace(step.Target)) {
		return clierr.New(clierr.CodeUsage, "invalid target for action step")
	}
	client, err := dialStepClient(ctx, step.RPCURL)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	// A step submitted by an earlier run is only awaited.
	if step.Status == StepStatusSubmitted {
		if hash, ok := normalizeStepTxHash(step.TxHash); ok {
			return waitForReceipt(ctx, client, step, hash, opts)
		}
	}
	return executeStep(ctx, client, action, step, txSigner, opts)
}

func executeStep(ctx context.Context, client stepClient, action *Action, step *ActionStep, txSigner signer.Signer, opts ExecuteOptions) error {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if step.ChainID != "" {
		expected := fmt.Sprintf("eip155:%d", chainID.Int64())
		if !strings.EqualFold(strings.TrimSpace(step.ChainID), expected) {
			return clierr.New(clierr.CodeActionPlan, fmt.Sprintf("step chain mismatch: expected %s, got %s", expected, step.ChainID))
		}
	}
	target := common.HexToAddress(step.Target)
	data, err := decodeHex(step.Data)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "decode step calldata", err)
	}
	if err := validateStepPolicy(action, step, chainID.Int64(), data, opts); err != nil {
		return err
	}
	value, err := parseNonNegativeBaseUnits(step.Value)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "invalid step value", err)
	}
	msg := ethereum.CallMsg{From: txSigner.Address(), To: &target, Value: value, Data: data}

	if opts.Simulate {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return wrapEVMExecutionError(clierr.CodeActionSim, "simulate step (eth_call)", err)
		}
		step.Status = StepStatusSimulated
	}

	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return wrapEVMExecutionError(clierr.CodeActionSim, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei)
	if err != nil {
		return err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int).Set(defaultBaseFee)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return err
	}

	unlock := acquireSignerNonceLock(chainID, txSigner.Address())
	defer unlock()
	nonce, err := client.PendingNonceAt(ctx, txSigner.Address())
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		return clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	step.Status = StepStatusSubmitted
	step.TxHash = signed.Hash().Hex()
	if opts.OnSubmitted != nil {
		opts.OnSubmitted(*step)
	}
	return waitForReceipt(ctx, client, step, signed.Hash(), opts)
}

func waitForReceipt(ctx context.Context, client stepClient, step *ActionStep, hash common.Hash, opts ExecuteOptions) error {
	waitCtx, cancel := context.WithTimeout(ctx, opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	var lastErr error
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				step.Status = StepStatusConfirmed
				return nil
			}
			return clierr.New(clierr.CodeUnavailable, "transaction reverted on-chain")
		}
		// Transient polling failures are retried until the timeout.
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			lastErr = err
		}
		select {
		case <-waitCtx.Done():
			if lastErr != nil {
				return clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt", lastErr)
			}
			return clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

var (
	nonceLocksMu sync.Mutex
	nonceLocks   = map[string]*sync.Mutex{}
)

// acquireSignerNonceLock serializes nonce reads and broadcasts for one signer
// on one chain.
func acquireSignerNonceLock(chainID *big.Int, addr common.Address) func() {
	key := chainID.String() + ":" + strings.ToLower(addr.Hex())
	nonceLocksMu.Lock()
	mu, ok := nonceLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		nonceLocks[key] = mu
	}
	nonceLocksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func normalizeStepTxHash(v string) (common.Hash, bool) {
	clean := strings.TrimSpace(v)
	if !txHashPattern.MatchString(clean) {
		return common.Hash{}, false
	}
	return common.HexToHash(clean), true
}

var (
	errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector       = []byte{0x4e, 0x48, 0x7b, 0x71}
)

// decodeRevertData turns revert bytes into a readable reason. Unknown custom
// errors are reported by selector.
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch {
	case string(data[:4]) == string(errorStringSelector):
		if reason, err := abi.UnpackRevert(data); err == nil {
			return reason
		}
	case string(data[:4]) == string(panicSelector) && len(data) >= 36:
		return fmt.Sprintf("panic code 0x%x", new(big.Int).SetBytes(data[4:36]))
	}
	return fmt.Sprintf("custom error 0x%s", hex.EncodeToString(data[:4]))
}

type rpcDataError interface {
	ErrorData() interface{}
}

func decodeRevertFromError(err error) string {
	var dataErr rpcDataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		raw, decodeErr := decodeHex(data)
		if decodeErr != nil {
			return ""
		}
		return decodeRevertData(raw)
	case []byte:
		return decodeRevertData(data)
	}
	return ""
}

func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s: reverted: %s", message, reason), err)
	}
	return clierr.Wrap(code, message, err)
}

type tipCapSuggester interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

func resolveTipCap(ctx context.Context, client tipCapSuggester, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func markStepFailed(action *Action, step *ActionStep, msg string) {
	step.Status = StepStatusFailed
	step.Error = msg
	action.Status = ActionStatusFailed
	action.Touch()
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
