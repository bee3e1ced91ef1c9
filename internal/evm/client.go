// Package evm is the read-side chain adapter used by routing, estimation and
// message assembly. Writes go through internal/execution.
package evm

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

var (
	multicallABI = MustABI(registry.Multicall3ABI)
	erc20ABI     = MustABI(registry.ERC20MinimalABI)
)

// Call is one entry of a batched read.
type Call struct {
	Target common.Address
	Data   []byte
}

// CallResult mirrors a Multicall3 tryAggregate result entry.
type CallResult struct {
	Success    bool
	ReturnData []byte
}

type Block struct {
	Number    uint64
	Timestamp uint64
	BaseFee   *big.Int
}

// Reader is the read-only chain surface consumed by the swap pipeline.
type Reader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	Multicall(ctx context.Context, calls []Call) ([]CallResult, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	LatestBlock(ctx context.Context) (Block, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Balance(ctx context.Context, owner common.Address, token id.Token) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

type multicallCall struct {
	Target   common.Address `abi:"target"`
	CallData []byte         `abi:"callData"`
}

type multicallResult struct {
	Success    bool
	ReturnData []byte
}

type Client struct {
	eth       *ethclient.Client
	multicall common.Address
}

func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return NewClient(eth), nil
}

func NewClient(eth *ethclient.Client) *Client {
	return &Client{eth: eth, multicall: common.HexToAddress(registry.Multicall3Address)}
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	return chainID, nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

// Multicall sends every call in one tryAggregate(false, calls) request.
// Individual failures are reported through CallResult.Success.
func (c *Client) Multicall(ctx context.Context, calls []Call) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	packed := make([]multicallCall, len(calls))
	for i, call := range calls {
		packed[i] = multicallCall{Target: call.Target, CallData: call.Data}
	}
	data, err := multicallABI.Pack("tryAggregate", false, packed)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack multicall", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.multicall, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "multicall", err)
	}
	results, err := DecodeMulticall(out)
	if err != nil {
		return nil, err
	}
	if len(results) != len(calls) {
		return nil, clierr.New(clierr.CodeUnavailable, "multicall returned mismatched result count")
	}
	return results, nil
}

// DecodeMulticall unpacks tryAggregate return data.
func DecodeMulticall(out []byte) ([]CallResult, error) {
	var decoded []multicallResult
	if err := multicallABI.UnpackIntoInterface(&decoded, "tryAggregate", out); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode multicall", err)
	}
	results := make([]CallResult, len(decoded))
	for i, r := range decoded {
		results[i] = CallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

// EncodeMulticallResults packs results the way tryAggregate returns them.
// Used by test servers.
func EncodeMulticallResults(results []CallResult) ([]byte, error) {
	packed := make([]multicallResult, len(results))
	for i, r := range results {
		packed[i] = multicallResult{Success: r.Success, ReturnData: r.ReturnData}
	}
	return multicallABI.Methods["tryAggregate"].Outputs.Pack(packed)
}

// DecodeMulticallCalls unpacks tryAggregate call data back into calls.
func DecodeMulticallCalls(data []byte) ([]Call, error) {
	if len(data) < 4 {
		return nil, clierr.New(clierr.CodeUsage, "multicall data too short")
	}
	method, err := multicallABI.MethodById(data[:4])
	if err != nil || method.Name != "tryAggregate" {
		return nil, clierr.New(clierr.CodeUsage, "not a tryAggregate call")
	}
	var args struct {
		RequireSuccess bool
		Calls          []multicallCall
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "decode multicall calls", err)
	}
	if err := method.Inputs.Copy(&args, values); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "decode multicall calls", err)
	}
	calls := make([]Call, len(args.Calls))
	for i, call := range args.Calls {
		calls[i] = Call{Target: call.Target, Data: call.CallData}
	}
	return calls, nil
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.eth.EstimateGas(ctx, msg)
}

func (c *Client) LatestBlock(ctx context.Context) (Block, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return Block{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	return Block{Number: header.Number.Uint64(), Timestamp: header.Time, BaseFee: header.BaseFee}, nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "suggest gas price", err)
	}
	return price, nil
}

// Balance returns the native balance for native tokens and balanceOf otherwise.
func (c *Client) Balance(ctx context.Context, owner common.Address, token id.Token) (*big.Int, error) {
	if token.IsNative() {
		balance, err := c.eth.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
		}
		return balance, nil
	}
	target := common.HexToAddress(token.Address)
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack balanceOf call", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token balance", err)
	}
	return UnpackBigInt(erc20ABI, "balanceOf", out)
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack allowance call", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: owner, To: &token, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read allowance", err)
	}
	return UnpackBigInt(erc20ABI, "allowance", out)
}

// UnpackBigInt decodes a method whose first output is a uint.
func UnpackBigInt(parsed abi.ABI, method string, out []byte) (*big.Int, error) {
	values, err := parsed.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode "+method, err)
	}
	v, ok := values[0].(*big.Int)
	if !ok || v == nil {
		return nil, clierr.New(clierr.CodeUnavailable, "invalid "+method+" response")
	}
	return v, nil
}

// CallUint packs method, calls target and decodes a single uint output.
func CallUint(ctx context.Context, r Reader, parsed abi.ABI, target common.Address, method string, args ...any) (*big.Int, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method, err)
	}
	out, err := r.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "call "+method, err)
	}
	return UnpackBigInt(parsed, method, out)
}

// CallAddress packs method, calls target and decodes a single address output.
func CallAddress(ctx context.Context, r Reader, parsed abi.ABI, target common.Address, method string, args ...any) (common.Address, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInternal, "pack "+method, err)
	}
	out, err := r.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data})
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeUnavailable, "call "+method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return common.Address{}, clierr.Wrap(clierr.CodeUnavailable, "decode "+method, err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, "invalid "+method+" response")
	}
	return addr, nil
}

func MustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TokenAddress maps a token to the address used in swap paths, substituting
// the wrapped-native token for native currency.
func TokenAddress(token id.Token, wrappedNative id.Token) common.Address {
	if token.IsNative() {
		return common.HexToAddress(wrappedNative.Address)
	}
	return common.HexToAddress(token.Address)
}
