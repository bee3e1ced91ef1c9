package crosschain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
)

// Descriptor is one side's swap tuple. The concrete type fixes the field
// layout the bridge method expects.
type Descriptor interface {
	Dialect() providers.Dialect
	// Strings returns the fields in tuple order. Address lists stay lists.
	Strings() []any
}

type InchSwap struct {
	Dex              common.Address   `abi:"dex"`
	Path             []common.Address `abi:"path"`
	Data             []byte           `abi:"data"`
	AmountOutMinimum *big.Int         `abi:"amountOutMinimum"`
}

type V2Swap struct {
	Path       []common.Address `abi:"path"`
	Dex        common.Address   `abi:"dex"`
	Deadline   *big.Int         `abi:"deadline"`
	MinRecvAmt *big.Int         `abi:"minRecvAmt"`
}

type V3Swap struct {
	Dex              common.Address `abi:"dex"`
	Path             []byte         `abi:"path"`
	Deadline         *big.Int       `abi:"deadline"`
	AmountOutMinimum *big.Int       `abi:"amountOutMinimum"`
}

func (InchSwap) Dialect() providers.Dialect { return providers.DialectAggregator }
func (V2Swap) Dialect() providers.Dialect   { return providers.DialectV2 }
func (V3Swap) Dialect() providers.Dialect   { return providers.DialectV3 }

func (d InchSwap) Strings() []any {
	return []any{d.Dex.Hex(), addressStrings(d.Path), hexutil.Encode(d.Data), bigString(d.AmountOutMinimum)}
}

func (d V2Swap) Strings() []any {
	return []any{addressStrings(d.Path), d.Dex.Hex(), bigString(d.Deadline), bigString(d.MinRecvAmt)}
}

func (d V3Swap) Strings() []any {
	return []any{d.Dex.Hex(), hexutil.Encode(d.Path), bigString(d.Deadline), bigString(d.AmountOutMinimum)}
}

// ParseDescriptor reverses Strings for the given dialect. Lists may arrive as
// []string or, after a JSON round trip, []any.
func ParseDescriptor(dialect providers.Dialect, fields []any) (Descriptor, error) {
	if len(fields) != 4 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("swap descriptor needs 4 fields, got %d", len(fields)))
	}
	p := fieldParser{}
	var d Descriptor
	switch dialect {
	case providers.DialectAggregator:
		d = InchSwap{Dex: p.address(fields[0]), Path: p.addresses(fields[1]), Data: p.bytes(fields[2]), AmountOutMinimum: p.big(fields[3])}
	case providers.DialectV2:
		d = V2Swap{Path: p.addresses(fields[0]), Dex: p.address(fields[1]), Deadline: p.big(fields[2]), MinRecvAmt: p.big(fields[3])}
	case providers.DialectV3:
		d = V3Swap{Dex: p.address(fields[0]), Path: p.bytes(fields[1]), Deadline: p.big(fields[2]), AmountOutMinimum: p.big(fields[3])}
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown dialect %q", dialect))
	}
	if p.err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse swap descriptor", p.err)
	}
	return d, nil
}

// fieldParser keeps the first error so ParseDescriptor reads as one expression
// per dialect.
type fieldParser struct{ err error }

func (p *fieldParser) str(v any) string {
	s, ok := v.(string)
	if !ok && p.err == nil {
		p.err = fmt.Errorf("expected string, got %T", v)
	}
	return s
}

func (p *fieldParser) address(v any) common.Address {
	s := p.str(v)
	if p.err == nil && !common.IsHexAddress(s) {
		p.err = fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s)
}

func (p *fieldParser) addresses(v any) []common.Address {
	var items []any
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			items = append(items, s)
		}
	case []any:
		items = list
	default:
		if p.err == nil {
			p.err = fmt.Errorf("expected address list, got %T", v)
		}
		return nil
	}
	out := make([]common.Address, len(items))
	for i, item := range items {
		out[i] = p.address(item)
	}
	return out
}

func (p *fieldParser) bytes(v any) []byte {
	s := p.str(v)
	if p.err != nil {
		return nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		p.err = err
	}
	return b
}

func (p *fieldParser) big(v any) *big.Int {
	s := p.str(v)
	if p.err != nil {
		return nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		p.err = fmt.Errorf("invalid integer %q", s)
	}
	return n
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
