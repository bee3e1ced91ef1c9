package execution

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
)

type EstimateBlockTag string

const (
	EstimateBlockTagLatest  EstimateBlockTag = "latest"
	EstimateBlockTagPending EstimateBlockTag = "pending"
)

// defaultBaseFee is used on chains without EIP-1559 headers.
var defaultBaseFee = big.NewInt(1_000_000_000)

type EstimateOptions struct {
	StepIDs            []string
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	BlockTag           EstimateBlockTag
}

// ActionGasEstimate prices every selected step. Step values are included in
// the totals so a bridge call shows its full native cost, message fees
// included.
type ActionGasEstimate struct {
	ActionID      string                        `json:"action_id"`
	EstimatedAt   string                        `json:"estimated_at"`
	BlockTag      string                        `json:"block_tag"`
	Steps         []ActionGasEstimateStep       `json:"steps"`
	TotalsByChain []ActionGasEstimateChainTotal `json:"totals_by_chain"`
}

type ActionGasEstimateStep struct {
	StepID                  string     `json:"step_id"`
	Type                    StepType   `json:"type"`
	Status                  StepStatus `json:"status"`
	ChainID                 string     `json:"chain_id"`
	GasEstimateRaw          string     `json:"gas_estimate_raw"`
	GasLimit                string     `json:"gas_limit"`
	BaseFeePerGasWei        string     `json:"base_fee_per_gas_wei"`
	MaxPriorityFeePerGasWei string     `json:"max_priority_fee_per_gas_wei"`
	MaxFeePerGasWei         string     `json:"max_fee_per_gas_wei"`
	EffectiveGasPriceWei    string     `json:"effective_gas_price_wei"`
	LikelyFeeWei            string     `json:"likely_fee_wei"`
	WorstCaseFeeWei         string     `json:"worst_case_fee_wei"`
	ValueWei                string     `json:"value_wei"`
}

type ActionGasEstimateChainTotal struct {
	ChainID          string `json:"chain_id"`
	LikelyFeeWei     string `json:"likely_fee_wei"`
	WorstCaseFeeWei  string `json:"worst_case_fee_wei"`
	ValueWei         string `json:"value_wei"`
	WorstCaseCostWei string `json:"worst_case_cost_wei"`
	BalanceWei       string `json:"balance_wei,omitempty"`
	Sufficient       *bool  `json:"sufficient,omitempty"`
}

func DefaultEstimateOptions() EstimateOptions {
	return EstimateOptions{
		GasMultiplier: 1.2,
		BlockTag:      EstimateBlockTagPending,
	}
}

type chainTotals struct {
	likely, worst, value *big.Int
	balance              *big.Int
}

func EstimateActionGas(ctx context.Context, action Action, opts EstimateOptions) (ActionGasEstimate, error) {
	if strings.TrimSpace(action.ActionID) == "" {
		return ActionGasEstimate{}, clierr.New(clierr.CodeUsage, "missing action id")
	}
	if len(action.Steps) == 0 {
		return ActionGasEstimate{}, clierr.New(clierr.CodeUsage, "action has no executable steps")
	}
	if opts.GasMultiplier <= 1 {
		return ActionGasEstimate{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
	}
	blockTag, err := normalizeEstimateBlockTag(opts.BlockTag)
	if err != nil {
		return ActionGasEstimate{}, err
	}

	fromAddress := common.Address{}
	hasFrom := strings.TrimSpace(action.FromAddress) != ""
	if hasFrom {
		if !common.IsHexAddress(strings.TrimSpace(action.FromAddress)) {
			return ActionGasEstimate{}, clierr.New(clierr.CodeUsage, "action has invalid from_address")
		}
		fromAddress = common.HexToAddress(strings.TrimSpace(action.FromAddress))
	}

	stepFilter := buildStepFilter(opts.StepIDs)
	selected := make([]ActionStep, 0, len(action.Steps))
	for _, step := range action.Steps {
		if matchesStepFilter(stepFilter, step.StepID) {
			selected = append(selected, step)
		}
	}
	if len(selected) == 0 {
		return ActionGasEstimate{}, clierr.New(clierr.CodeUsage, "no action steps matched the requested --step-ids filter")
	}

	byChain := map[string]*chainTotals{}
	estimatedSteps := make([]ActionGasEstimateStep, 0, len(selected))
	for _, step := range selected {
		est, balance, err := estimateStep(ctx, step, fromAddress, hasFrom, blockTag, opts)
		if err != nil {
			return ActionGasEstimate{}, err
		}
		estimatedSteps = append(estimatedSteps, est)

		totals, ok := byChain[est.ChainID]
		if !ok {
			totals = &chainTotals{likely: big.NewInt(0), worst: big.NewInt(0), value: big.NewInt(0)}
			byChain[est.ChainID] = totals
		}
		totals.likely.Add(totals.likely, mustBig(est.LikelyFeeWei))
		totals.worst.Add(totals.worst, mustBig(est.WorstCaseFeeWei))
		totals.value.Add(totals.value, mustBig(est.ValueWei))
		if balance != nil {
			totals.balance = balance
		}
	}

	chainIDs := make([]string, 0, len(byChain))
	for chainID := range byChain {
		chainIDs = append(chainIDs, chainID)
	}
	sort.Strings(chainIDs)
	out := make([]ActionGasEstimateChainTotal, 0, len(chainIDs))
	for _, chainID := range chainIDs {
		totals := byChain[chainID]
		cost := new(big.Int).Add(totals.worst, totals.value)
		row := ActionGasEstimateChainTotal{
			ChainID:          chainID,
			LikelyFeeWei:     totals.likely.String(),
			WorstCaseFeeWei:  totals.worst.String(),
			ValueWei:         totals.value.String(),
			WorstCaseCostWei: cost.String(),
		}
		if totals.balance != nil {
			sufficient := totals.balance.Cmp(cost) >= 0
			row.BalanceWei = totals.balance.String()
			row.Sufficient = &sufficient
		}
		out = append(out, row)
	}

	return ActionGasEstimate{
		ActionID:      action.ActionID,
		EstimatedAt:   time.Now().UTC().Format(time.RFC3339),
		BlockTag:      string(blockTag),
		Steps:         estimatedSteps,
		TotalsByChain: out,
	}, nil
}

func estimateStep(ctx context.Context, step ActionStep, from common.Address, withBalance bool, blockTag EstimateBlockTag, opts EstimateOptions) (ActionGasEstimateStep, *big.Int, error) {
	if strings.TrimSpace(step.RPCURL) == "" {
		return ActionGasEstimateStep{}, nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("step %s is missing rpc_url", step.StepID))
	}
	if strings.TrimSpace(step.Target) == "" || !common.IsHexAddress(strings.TrimSpace(step.Target)) {
		return ActionGasEstimateStep{}, nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("step %s has invalid target address", step.StepID))
	}
	msg, err := actionStepCallMsg(step, from)
	if err != nil {
		return ActionGasEstimateStep{}, nil, err
	}

	client, err := ethclient.DialContext(ctx, strings.TrimSpace(step.RPCURL))
	if err != nil {
		return ActionGasEstimateStep{}, nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return ActionGasEstimateStep{}, nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	chainKey := fmt.Sprintf("eip155:%d", chainID.Int64())
	if strings.TrimSpace(step.ChainID) != "" && !strings.EqualFold(strings.TrimSpace(step.ChainID), chainKey) {
		return ActionGasEstimateStep{}, nil, clierr.New(clierr.CodeActionPlan, fmt.Sprintf("step chain mismatch: expected %s, got %s", chainKey, step.ChainID))
	}

	rawGas, err := estimateGasWithBlockTag(ctx, client, msg, blockTag)
	if err != nil {
		return ActionGasEstimateStep{}, nil, wrapEVMExecutionError(clierr.CodeActionSim, "estimate gas", err)
	}
	gasLimit := uint64(float64(rawGas) * opts.GasMultiplier)
	if gasLimit == 0 {
		return ActionGasEstimateStep{}, nil, clierr.New(clierr.CodeActionSim, "estimate gas returned zero")
	}

	tipCap, err := resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei)
	if err != nil {
		return ActionGasEstimateStep{}, nil, err
	}
	baseFee, err := baseFeeAtBlockTag(ctx, client, blockTag)
	if err != nil {
		return ActionGasEstimateStep{}, nil, err
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return ActionGasEstimateStep{}, nil, err
	}

	var balance *big.Int
	if withBalance {
		// Balance is advisory; a failed read leaves it unreported.
		if b, err := client.BalanceAt(ctx, from, nil); err == nil {
			balance = b
		}
	}

	effective := new(big.Int).Add(baseFee, tipCap)
	if effective.Cmp(feeCap) > 0 {
		effective = new(big.Int).Set(feeCap)
	}
	limit := new(big.Int).SetUint64(gasLimit)
	return ActionGasEstimateStep{
		StepID:                  step.StepID,
		Type:                    step.Type,
		Status:                  step.Status,
		ChainID:                 chainKey,
		GasEstimateRaw:          new(big.Int).SetUint64(rawGas).String(),
		GasLimit:                limit.String(),
		BaseFeePerGasWei:        baseFee.String(),
		MaxPriorityFeePerGasWei: tipCap.String(),
		MaxFeePerGasWei:         feeCap.String(),
		EffectiveGasPriceWei:    effective.String(),
		LikelyFeeWei:            new(big.Int).Mul(limit, effective).String(),
		WorstCaseFeeWei:         new(big.Int).Mul(limit, feeCap).String(),
		ValueWei:                msg.Value.String(),
	}, balance, nil
}

func mustBig(v string) *big.Int {
	out, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return big.NewInt(0)
	}
	return out
}

func actionStepCallMsg(step ActionStep, from common.Address) (ethereum.CallMsg, error) {
	target := common.HexToAddress(strings.TrimSpace(step.Target))
	data, err := decodeHex(step.Data)
	if err != nil {
		return ethereum.CallMsg{}, clierr.Wrap(clierr.CodeUsage, "decode step calldata", err)
	}
	value, err := parseNonNegativeBaseUnits(step.Value)
	if err != nil {
		return ethereum.CallMsg{}, clierr.Wrap(clierr.CodeUsage, "parse step value", err)
	}
	return ethereum.CallMsg{From: from, To: &target, Value: value, Data: data}, nil
}

func parseNonNegativeBaseUnits(raw string) (*big.Int, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return nil, fmt.Errorf("invalid base-units integer")
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	return value, nil
}

func normalizeEstimateBlockTag(input EstimateBlockTag) (EstimateBlockTag, error) {
	switch strings.ToLower(strings.TrimSpace(string(input))) {
	case "", string(EstimateBlockTagPending):
		return EstimateBlockTagPending, nil
	case string(EstimateBlockTagLatest):
		return EstimateBlockTagLatest, nil
	default:
		return "", clierr.New(clierr.CodeUsage, "--block-tag must be one of: pending,latest")
	}
}

func buildStepFilter(stepIDs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(stepIDs))
	for _, stepID := range stepIDs {
		if normalized := strings.ToLower(strings.TrimSpace(stepID)); normalized != "" {
			out[normalized] = struct{}{}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func matchesStepFilter(filter map[string]struct{}, stepID string) bool {
	if len(filter) == 0 {
		return true
	}
	_, ok := filter[strings.ToLower(strings.TrimSpace(stepID))]
	return ok
}

func callArg(msg ethereum.CallMsg) map[string]any {
	arg := map[string]any{"from": msg.From.Hex()}
	if msg.To != nil {
		arg["to"] = msg.To.Hex()
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexutil.Bytes(msg.Data)
	}
	if msg.Value != nil {
		arg["value"] = (*hexutil.Big)(msg.Value)
	}
	return arg
}

// estimateGasWithBlockTag falls back from pending to latest, then to the
// untagged ethclient call, for nodes that reject the tag argument.
func estimateGasWithBlockTag(ctx context.Context, client *ethclient.Client, msg ethereum.CallMsg, blockTag EstimateBlockTag) (uint64, error) {
	var estimated hexutil.Uint64
	arg := callArg(msg)
	err := client.Client().CallContext(ctx, &estimated, "eth_estimateGas", arg, string(blockTag))
	if err == nil {
		return uint64(estimated), nil
	}
	if blockTag == EstimateBlockTagPending {
		if retryErr := client.Client().CallContext(ctx, &estimated, "eth_estimateGas", arg, string(EstimateBlockTagLatest)); retryErr == nil {
			return uint64(estimated), nil
		}
	}
	if fallback, fallbackErr := client.EstimateGas(ctx, msg); fallbackErr == nil {
		return fallback, nil
	}
	return 0, err
}

func baseFeeAtBlockTag(ctx context.Context, client *ethclient.Client, blockTag EstimateBlockTag) (*big.Int, error) {
	var block struct {
		BaseFeePerGas *hexutil.Big `json:"baseFeePerGas"`
	}
	tags := []EstimateBlockTag{blockTag}
	if blockTag == EstimateBlockTagPending {
		tags = append(tags, EstimateBlockTagLatest)
	}
	var lastErr error
	for _, tag := range tags {
		if err := client.Client().CallContext(ctx, &block, "eth_getBlockByNumber", string(tag), false); err != nil {
			lastErr = err
			continue
		}
		if block.BaseFeePerGas == nil {
			return new(big.Int).Set(defaultBaseFee), nil
		}
		return new(big.Int).Set((*big.Int)(block.BaseFeePerGas)), nil
	}
	return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch block base fee", lastErr)
}
