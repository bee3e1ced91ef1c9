// Package evmtest provides an in-memory evm.Reader for package tests.
package evmtest

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/id"
)

// Fake answers every read from its fields. Handle serves both CallContract
// and each Multicall entry; a Handle error becomes a failed result entry.
type Fake struct {
	Handle     func(to common.Address, data []byte) ([]byte, error)
	Estimate   func(msg ethereum.CallMsg) (uint64, error)
	Block      evm.Block
	GasPrice   *big.Int
	Balances   map[string]*big.Int
	Allowances map[string]*big.Int

	mu        sync.Mutex
	calls     []ethereum.CallMsg
	estimates []ethereum.CallMsg
	batches   int
}

var _ evm.Reader = (*Fake)(nil)

func (f *Fake) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	if f.Handle == nil || msg.To == nil {
		return nil, errors.New("execution reverted")
	}
	return f.Handle(*msg.To, msg.Data)
}

func (f *Fake) Multicall(_ context.Context, calls []evm.Call) ([]evm.CallResult, error) {
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	results := make([]evm.CallResult, len(calls))
	for i, call := range calls {
		if f.Handle == nil {
			continue
		}
		out, err := f.Handle(call.Target, call.Data)
		if err != nil {
			continue
		}
		results[i] = evm.CallResult{Success: true, ReturnData: out}
	}
	return results, nil
}

func (f *Fake) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	f.estimates = append(f.estimates, msg)
	f.mu.Unlock()
	if f.Estimate == nil {
		return 0, errors.New("execution reverted")
	}
	return f.Estimate(msg)
}

func (f *Fake) LatestBlock(context.Context) (evm.Block, error) {
	return f.Block, nil
}

func (f *Fake) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.GasPrice == nil {
		return nil, errors.New("gas price unavailable")
	}
	return new(big.Int).Set(f.GasPrice), nil
}

// Balance keys are lowercase token addresses; native balances use id.NativeAddress.
func (f *Fake) Balance(_ context.Context, _ common.Address, token id.Token) (*big.Int, error) {
	key := strings.ToLower(token.Address)
	if token.IsNative() {
		key = id.NativeAddress
	}
	if v, ok := f.Balances[key]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) Allowance(_ context.Context, token, _, _ common.Address) (*big.Int, error) {
	if v, ok := f.Allowances[strings.ToLower(token.Hex())]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) Calls() []ethereum.CallMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ethereum.CallMsg(nil), f.calls...)
}

func (f *Fake) Estimates() []ethereum.CallMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ethereum.CallMsg(nil), f.estimates...)
}

func (f *Fake) Batches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}
