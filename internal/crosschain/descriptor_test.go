package crosschain

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/providers/uniswapv3"
)

func TestDescriptorStringsRoundTripThroughJSON(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")
	dex := common.HexToAddress("0x3333333333333333333333333333333333333333")
	cases := []Descriptor{
		InchSwap{Dex: dex, Path: []common.Address{a, b}, Data: []byte{0xde, 0xad}, AmountOutMinimum: big.NewInt(99)},
		V2Swap{Path: []common.Address{a, b}, Dex: dex, Deadline: big.NewInt(DefaultDeadline), MinRecvAmt: big.NewInt(0)},
		V3Swap{Dex: dex, Path: uniswapv3.EncodePath([]common.Address{a, b}, 3000), Deadline: big.NewInt(5), AmountOutMinimum: big.NewInt(7)},
	}
	for _, d := range cases {
		raw, err := json.Marshal(d.Strings())
		if err != nil {
			t.Fatalf("marshal %T: %v", d, err)
		}
		var fields []any
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("unmarshal %T: %v", d, err)
		}
		for _, f := range fields {
			switch f.(type) {
			case string, []any:
			default:
				t.Fatalf("%T field serialized as %T", d, f)
			}
		}
		got, err := ParseDescriptor(d.Dialect(), fields)
		if err != nil {
			t.Fatalf("ParseDescriptor(%T) failed: %v", d, err)
		}
		gotRaw, _ := json.Marshal(got.Strings())
		if !bytes.Equal(raw, gotRaw) {
			t.Fatalf("round trip mismatch for %T:\n%s\n%s", d, raw, gotRaw)
		}
	}
}

func TestParseDescriptorRejectsBadInput(t *testing.T) {
	if _, err := ParseDescriptor(providers.DialectV2, []any{"x"}); err == nil {
		t.Fatal("expected field count error")
	}
	if _, err := ParseDescriptor(providers.DialectV2, []any{[]string{"nope"}, "0x3333333333333333333333333333333333333333", "1", "1"}); err == nil {
		t.Fatal("expected invalid address error")
	}
	if _, err := ParseDescriptor(providers.DialectV3, []any{"0x3333333333333333333333333333333333333333", "0x", "1.5", "1"}); err == nil {
		t.Fatal("expected invalid integer error")
	}
	if _, err := ParseDescriptor(providers.Dialect("v4"), []any{"", "", "", ""}); err == nil {
		t.Fatal("expected unknown dialect error")
	}
}
