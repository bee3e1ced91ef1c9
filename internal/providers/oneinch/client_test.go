package oneinch

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/httpx"
	"github.com/ggonzalez94/xswap-cli/internal/id"
	"github.com/ggonzalez94/xswap-cli/internal/providers"
	"github.com/ggonzalez94/xswap-cli/internal/registry"
)

func newTestClient(t *testing.T, apiKey, baseURL string) *Client {
	t.Helper()
	chain, _ := id.ParseChain("ethereum")
	var dep registry.DexDeployment
	for _, d := range registry.DexDeployments(1) {
		if d.Dialect == registry.DialectAggregator {
			dep = d
		}
	}
	c, err := New(httpx.New(2*time.Second, 0), apiKey, chain, dep)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

func TestFindRoutesRequiresAPIKey(t *testing.T) {
	c := newTestClient(t, "", "")
	_, err := c.FindRoutes(context.Background(), providers.RouteRequest{
		From: id.MustToken("eip155:1", "USDC"), To: id.MustToken("eip155:1", "DAI"), AmountIn: big.NewInt(1),
	})
	if !clierr.IsCode(err, clierr.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestFindRoutesReturnsSingleRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swap/v6.0/1/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		if r.URL.Query().Get("src") != "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE" {
			t.Errorf("expected native sentinel, got %s", r.URL.Query().Get("src"))
		}
		_, _ = w.Write([]byte(`{"dstAmount":"2500000000","gas":180000}`))
	}))
	defer srv.Close()

	c := newTestClient(t, "test-key", srv.URL)
	native, _ := id.NativeToken("eip155:1")
	routes, err := c.FindRoutes(context.Background(), providers.RouteRequest{
		From: native, To: id.MustToken("eip155:1", "USDC"), AmountIn: big.NewInt(1e18),
	})
	if err != nil {
		t.Fatalf("FindRoutes failed: %v", err)
	}
	if len(routes) != 1 || routes[0].AmountOut.String() != "2500000000" || routes[0].Gas != 180000 {
		t.Fatalf("unexpected routes: %+v", routes)
	}
}

func TestBuildSwapCallUsesSwapTx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("slippage") != "0.5" || q.Get("receiver") == "" {
			t.Errorf("unexpected query %v", q)
		}
		_, _ = w.Write([]byte(`{"dstAmount":"100","tx":{"to":"0x111111125421cA6dc452d289314280a0f8842A65","data":"0x12aa3caf0000","value":"10","gas":210000}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, "test-key", srv.URL)
	call, err := c.BuildSwapCall(context.Background(), providers.SwapParams{
		Route: providers.Route{
			Path:     []id.Token{id.MustToken("eip155:1", "USDC"), id.MustToken("eip155:1", "DAI")},
			AmountIn: big.NewInt(1_000_000), AmountOut: big.NewInt(100),
		},
		Sender:    common.HexToAddress("0x00000000000000000000000000000000000000AA"),
		Recipient: common.HexToAddress("0x00000000000000000000000000000000000000BB"),
		Slippage:  decimal.RequireFromString("0.005"),
	})
	if err != nil {
		t.Fatalf("BuildSwapCall failed: %v", err)
	}
	if call.To != common.HexToAddress("0x111111125421cA6dc452d289314280a0f8842A65") || call.Value.Int64() != 10 || call.Gas != 210000 {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(call.Data) != 6 {
		t.Fatalf("unexpected data %x", call.Data)
	}
}

func TestBuildSwapCallRequiresSender(t *testing.T) {
	c := newTestClient(t, "test-key", "")
	_, err := c.BuildSwapCall(context.Background(), providers.SwapParams{
		Route: providers.Route{
			Path:     []id.Token{id.MustToken("eip155:1", "USDC"), id.MustToken("eip155:1", "DAI")},
			AmountIn: big.NewInt(1), AmountOut: big.NewInt(1),
		},
	})
	if !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}
