package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/smartrouting"
	"github.com/ggonzalez94/xswap-cli/internal/trade"
)

func provider(index int, name string, amount int64) smartrouting.ProviderResult {
	return smartrouting.ProviderResult{
		ProviderIndex: index,
		Provider:      name,
		Trade:         &trade.Trade{Provider: name},
		ToAmount:      big.NewInt(amount),
	}
}

func singleChain(needsApproval bool, providers ...smartrouting.ProviderResult) Calculation {
	return Calculation{Providers: providers, NeedsApproval: needsApproval}
}

func TestApplyLatestWins(t *testing.T) {
	s := New(zerolog.Nop())
	first, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	second, err := s.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if second <= first {
		t.Fatalf("tokens must increase, got %d then %d", first, second)
	}

	if !s.Apply(second, singleChain(false, provider(0, "dex-a", 200))) {
		t.Fatal("latest result must apply")
	}
	if s.Apply(first, singleChain(true, provider(1, "dex-b", 100))) {
		t.Fatal("stale result must be dropped")
	}
	calc, ok := s.Current()
	if !ok || calc.Providers[0].Provider != "dex-a" {
		t.Fatalf("unexpected current calculation %+v", calc)
	}
	if s.Status() != StatusReadyToSwap {
		t.Fatalf("expected READY_TO_SWAP, got %s", s.Status())
	}
}

func TestApplyStatusFromCalculation(t *testing.T) {
	s := New(zerolog.Nop())
	if s.Status() != StatusDisabled {
		t.Fatalf("new session must be disabled, got %s", s.Status())
	}
	token, _ := s.Begin()
	if s.Status() != StatusLoading {
		t.Fatalf("expected LOADING, got %s", s.Status())
	}
	s.Apply(token, singleChain(true, provider(0, "dex-a", 1)))
	if s.Status() != StatusReadyToApprove {
		t.Fatalf("expected READY_TO_APPROVE, got %s", s.Status())
	}

	token, _ = s.Begin()
	s.Apply(token, Calculation{})
	if s.Status() != StatusDisabled {
		t.Fatalf("empty calculation must disable, got %s", s.Status())
	}
	if _, ok := s.Current(); ok {
		t.Fatal("empty calculation must clear the selection")
	}

	token, _ = s.Begin()
	s.Fail(token, errors.New("no liquidity"))
	if s.Status() != StatusDisabled {
		t.Fatalf("failed calculation must disable, got %s", s.Status())
	}
}

func TestApplyHiddenMarksOldTradeData(t *testing.T) {
	s := New(zerolog.Nop())
	token, _ := s.Begin()
	s.Apply(token, singleChain(false, provider(0, "dex-a", 200)))

	hidden, ok := s.BeginHidden()
	if !ok {
		t.Fatal("expected hidden recalculation to start")
	}
	if s.ApplyHidden(hidden, singleChain(false, provider(0, "dex-a", 200))) {
		t.Fatal("identical trade must not mark stale")
	}
	if s.Status() != StatusReadyToSwap {
		t.Fatalf("status must be unchanged, got %s", s.Status())
	}

	hidden, _ = s.BeginHidden()
	if !s.ApplyHidden(hidden, singleChain(false, provider(0, "dex-a", 199))) {
		t.Fatal("changed output must mark stale")
	}
	if s.Status() != StatusOldTradeData {
		t.Fatalf("expected OLD_TRADE_DATA, got %s", s.Status())
	}
	err := s.Swap(context.Background(), func(context.Context, Calculation) error { return nil })
	if !clierr.IsCode(err, clierr.CodeStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
}

func TestApproveTransitions(t *testing.T) {
	s := New(zerolog.Nop())
	token, _ := s.Begin()
	s.Apply(token, singleChain(true, provider(0, "dex-a", 1)))

	err := s.Approve(context.Background(), func(_ context.Context, calc Calculation) error {
		if s.Status() != StatusApproveInProgress {
			t.Errorf("expected APPROVE_IN_PROGRESS during approval, got %s", s.Status())
		}
		return clierr.New(clierr.CodeSigner, "rejected")
	})
	if !clierr.IsCode(err, clierr.CodeSigner) {
		t.Fatalf("expected approval error, got %v", err)
	}
	if s.Status() != StatusReadyToApprove {
		t.Fatalf("failed approval must return to READY_TO_APPROVE, got %s", s.Status())
	}

	if err := s.Approve(context.Background(), func(context.Context, Calculation) error { return nil }); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if s.Status() != StatusReadyToSwap {
		t.Fatalf("expected READY_TO_SWAP after approval, got %s", s.Status())
	}
	if calc, _ := s.Current(); calc.NeedsApproval {
		t.Fatal("approved calculation must not need approval")
	}
}

func TestSwapAlwaysReverts(t *testing.T) {
	s := New(zerolog.Nop())
	token, _ := s.Begin()
	s.Apply(token, singleChain(false, provider(0, "dex-a", 1)))

	err := s.Swap(context.Background(), func(context.Context, Calculation) error {
		return errors.New("reverted")
	})
	if err == nil {
		t.Fatal("expected swap error")
	}
	if s.Status() != StatusReadyToSwap {
		t.Fatalf("expected READY_TO_SWAP after failure, got %s", s.Status())
	}

	func() {
		defer func() { _ = recover() }()
		_ = s.Swap(context.Background(), func(context.Context, Calculation) error { panic("boom") })
	}()
	if s.Status() != StatusReadyToSwap {
		t.Fatalf("expected READY_TO_SWAP after panic, got %s", s.Status())
	}
}

func TestGuardsWhileBusy(t *testing.T) {
	s := New(zerolog.Nop())
	if err := s.Swap(context.Background(), nil); !clierr.IsCode(err, clierr.CodeNoSelectedProvider) {
		t.Fatalf("expected no selected provider, got %v", err)
	}

	token, _ := s.Begin()
	s.Apply(token, singleChain(false, provider(0, "dex-a", 1), provider(1, "dex-b", 1)))

	release := make(chan struct{})
	entered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Swap(context.Background(), func(context.Context, Calculation) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if _, err := s.Begin(); !clierr.IsCode(err, clierr.CodeBusy) {
		t.Fatalf("expected busy on recalculation, got %v", err)
	}
	if err := s.Swap(context.Background(), nil); !clierr.IsCode(err, clierr.CodeBusy) {
		t.Fatalf("expected busy on second swap, got %v", err)
	}
	if err := s.SelectProvider(smartrouting.SideTarget, 1); !clierr.IsCode(err, clierr.CodeBusy) {
		t.Fatalf("expected busy on select, got %v", err)
	}
	close(release)
	wg.Wait()

	if s.Status() != StatusReadyToSwap {
		t.Fatalf("expected READY_TO_SWAP, got %s", s.Status())
	}
}

func TestApproveFromWrongStatus(t *testing.T) {
	s := New(zerolog.Nop())
	token, _ := s.Begin()
	s.Apply(token, singleChain(false, provider(0, "dex-a", 1)))
	err := s.Approve(context.Background(), func(context.Context, Calculation) error { return nil })
	if !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestSelectProvider(t *testing.T) {
	s := New(zerolog.Nop())
	token, _ := s.Begin()
	s.Apply(token, singleChain(false, provider(0, "dex-a", 3), provider(1, "dex-b", 2)))

	if err := s.SelectProvider(smartrouting.SideSource, 1); err != nil {
		t.Fatalf("SelectProvider failed: %v", err)
	}
	calc, _ := s.Current()
	if calc.Providers[0].Provider != "dex-b" || calc.Providers[1].Provider != "dex-a" {
		t.Fatalf("unexpected order %+v", calc.Providers)
	}
	if err := s.SelectProvider(smartrouting.SideSource, 9); !clierr.IsCode(err, clierr.CodeNoSelectedProvider) {
		t.Fatalf("expected no selected provider, got %v", err)
	}

	routing := smartrouting.Result{
		SourceProviders: []smartrouting.ProviderResult{provider(0, "dex-a", 5)},
		TargetProviders: []smartrouting.ProviderResult{provider(0, "dex-c", 9), provider(1, "dex-d", 8)},
	}
	token, _ = s.Begin()
	s.Apply(token, Calculation{Routing: &routing})
	if err := s.SelectProvider(smartrouting.SideTarget, 1); err != nil {
		t.Fatalf("SelectProvider failed: %v", err)
	}
	calc, _ = s.Current()
	if calc.Routing.ToProvider != "dex-d" || routing.TargetProviders[0].Provider != "dex-c" {
		t.Fatalf("selection must reorder a copy, got %+v", calc.Routing)
	}
}

func TestDebounceCollapsesBursts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan string)
	out := Debounce(ctx, in, 20*time.Millisecond)

	in <- "1"
	in <- "12"
	in <- "123"
	select {
	case got := <-out:
		if got != "123" {
			t.Fatalf("expected last value of the burst, got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("debounced value not emitted")
	}

	in <- "5"
	close(in)
	if got, ok := <-out; !ok || got != "5" {
		t.Fatalf("expected flush on close, got %q ok=%v", got, ok)
	}
	if _, ok := <-out; ok {
		t.Fatal("output must close after input")
	}
}

func TestDebounceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int)
	out := Debounce(ctx, in, time.Hour)
	in <- 1
	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("no value expected after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("output not closed after cancel")
	}
}

func TestBeginHiddenRefusesWhileBusy(t *testing.T) {
	s := New(zerolog.Nop())
	if _, ok := s.BeginHidden(); ok {
		t.Fatal("hidden recalculation needs a held calculation")
	}

	token, _ := s.Begin()
	s.Apply(token, singleChain(true, provider(0, "dex-a", 1)))

	visible, _ := s.Begin()
	if _, ok := s.BeginHidden(); ok {
		t.Fatal("hidden recalculation must not start while LOADING")
	}
	// The refused attempt must not supersede the visible calculation.
	if !s.Apply(visible, singleChain(true, provider(0, "dex-a", 2))) {
		t.Fatal("visible calculation should still apply")
	}

	err := s.Approve(context.Background(), func(context.Context, Calculation) error {
		if _, ok := s.BeginHidden(); ok {
			t.Error("hidden recalculation must not start during approval")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, ok := s.BeginHidden(); !ok {
		t.Fatalf("expected hidden recalculation after approval, status %s", s.Status())
	}
}
