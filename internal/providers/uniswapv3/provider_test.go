package uniswapv3

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/xswap-cli/internal/evm/evmtest"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

func newTestProvider(t *testing.T, reader *evmtest.Fake) *Provider {
	t.Helper()
	chain, _ := id.ParseChain("ethereum")
	var dep registry.DexDeployment
	for _, d := range registry.DexDeployments(1) {
		if d.Provider == "uniswap-v3" {
			dep = d
		}
	}
	p, err := New(chain, dep, reader, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestEncodePathRoundTrip(t *testing.T) {
	tokens := []common.Address{
		common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
	}
	encoded := EncodePath(tokens, 3000)
	if len(encoded) != 20*3+3*2 {
		t.Fatalf("unexpected encoded length %d", len(encoded))
	}
	if encoded[20] != 0x00 || encoded[21] != 0x0b || encoded[22] != 0xb8 {
		t.Fatalf("expected fee 3000 as 0x000bb8, got %x", encoded[20:23])
	}
	decoded, fees, err := DecodePath(encoded)
	if err != nil {
		t.Fatalf("DecodePath failed: %v", err)
	}
	for i := range tokens {
		if decoded[i] != tokens[i] {
			t.Fatalf("token %d mismatch: %s", i, decoded[i].Hex())
		}
	}
	if len(fees) != 2 || fees[0] != 3000 || fees[1] != 3000 {
		t.Fatalf("unexpected fees %v", fees)
	}
	if _, _, err := DecodePath(encoded[:30]); err == nil {
		t.Fatal("expected invalid length error")
	}
}

func TestFindRoutesQuotesEncodedPath(t *testing.T) {
	reader := &evmtest.Fake{Handle: func(to common.Address, data []byte) ([]byte, error) {
		values, err := quoterABI.Methods["quoteExactInput"].Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		path := values[0].([]byte)
		out := int64(len(path))
		return quoterABI.Methods["quoteExactInput"].Outputs.Pack(big.NewInt(out))
	}}
	p := newTestProvider(t, reader)
	usdc := id.MustToken("eip155:1", "USDC")
	dai := id.MustToken("eip155:1", "DAI")
	routes, err := p.FindRoutes(context.Background(), providers.RouteRequest{From: usdc, To: dai, AmountIn: big.NewInt(1_000_000), MaxHops: 3})
	if err != nil {
		t.Fatalf("FindRoutes failed: %v", err)
	}
	// WETH and USDT remain as vertices, capped to one transit token.
	if len(routes) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(routes))
	}
	if routes[0].AmountOut.Int64() != 43 || routes[1].AmountOut.Int64() != 66 {
		t.Fatalf("unexpected quotes: %s %s", routes[0].AmountOut, routes[1].AmountOut)
	}
}

func TestBuildSwapCallPacksExactInput(t *testing.T) {
	p := newTestProvider(t, &evmtest.Fake{})
	native, _ := id.NativeToken("eip155:1")
	usdc := id.MustToken("eip155:1", "USDC")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	call, err := p.BuildSwapCall(context.Background(), providers.SwapParams{
		Route:        providers.Route{Path: []id.Token{native, usdc}, AmountIn: big.NewInt(1e18), AmountOut: big.NewInt(2_000_000)},
		AmountOutMin: big.NewInt(1_990_000),
		Recipient:    recipient,
		Deadline:     1_700_000_000,
	})
	if err != nil {
		t.Fatalf("BuildSwapCall failed: %v", err)
	}
	if call.Method != "exactInput" || call.Value.Cmp(big.NewInt(1e18)) != 0 {
		t.Fatalf("unexpected call: %+v", call)
	}
	values, err := routerABI.Methods["exactInput"].Inputs.Unpack(call.Data[4:])
	if err != nil {
		t.Fatalf("unpack exactInput: %v", err)
	}
	decoded := *abi.ConvertType(values[0], new(exactInputParams)).(*exactInputParams)
	if decoded.Recipient != recipient || decoded.AmountOutMinimum.Int64() != 1_990_000 {
		t.Fatalf("unexpected params: %+v", decoded)
	}
	tokens, _, err := DecodePath(decoded.Path)
	if err != nil || tokens[0] != common.HexToAddress(id.MustToken("eip155:1", "WETH").Address) {
		t.Fatalf("expected WETH-substituted path, got %v err=%v", tokens, err)
	}
}
