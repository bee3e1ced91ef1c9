// Package session holds the selected calculation and the status that guards
// approve, swap and recalculation against each other.
package session

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/metrics"
	"github.com/ggonzalez94/xswap-cli/internal/smartrouting"
)

type Status string

const (
	StatusDisabled          Status = "DISABLED"
	StatusLoading           Status = "LOADING"
	StatusReadyToApprove    Status = "READY_TO_APPROVE"
	StatusReadyToSwap       Status = "READY_TO_SWAP"
	StatusApproveInProgress Status = "APPROVE_IN_PROGRESS"
	StatusSwapInProgress    Status = "SWAP_IN_PROGRESS"
	// StatusOldTradeData means a background recalculation produced a
	// different trade than the one on display.
	StatusOldTradeData Status = "OLD_TRADE_DATA"
)

func (s Status) InProgress() bool {
	return s == StatusApproveInProgress || s == StatusSwapInProgress
}

// Calculation is one pipeline result. Single-chain calculations fill
// Providers; cross-chain calculations fill Routing.
type Calculation struct {
	Providers     []smartrouting.ProviderResult `json:"providers,omitempty"`
	Routing       *smartrouting.Result          `json:"routing,omitempty"`
	NeedsApproval bool                          `json:"needs_approval"`
}

// HasTrade reports whether the calculation can be approved or swapped.
func (c Calculation) HasTrade() bool {
	if c.Routing != nil {
		return len(c.Routing.SourceProviders) > 0 && len(c.Routing.TargetProviders) > 0
	}
	return len(c.Providers) > 0 && c.Providers[0].HasTrade()
}

// Best is the selected provider of the final leg.
func (c Calculation) Best() (smartrouting.ProviderResult, bool) {
	list := c.Providers
	if c.Routing != nil {
		list = c.Routing.TargetProviders
	}
	if len(list) == 0 {
		return smartrouting.ProviderResult{}, false
	}
	return list[0], true
}

// SameTrade compares the selected providers and their outputs.
func (c Calculation) SameTrade(other Calculation) bool {
	if c.Routing != nil && other.Routing != nil {
		if c.Routing.FromProvider != other.Routing.FromProvider {
			return false
		}
	} else if (c.Routing == nil) != (other.Routing == nil) {
		return false
	}
	a, okA := c.Best()
	b, okB := other.Best()
	if okA != okB {
		return false
	}
	if !okA {
		return true
	}
	return a.Provider == b.Provider && amountsEqual(a.ToAmount, b.ToAmount)
}

func amountsEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}

// Session is safe for concurrent use. Results are applied only for the most
// recently started calculation.
type Session struct {
	mu      sync.Mutex
	status  Status
	seq     uint64
	current *Calculation
	log     zerolog.Logger
}

func New(log zerolog.Logger) *Session {
	return &Session{status: StatusDisabled, log: log.With().Str("component", "session").Logger()}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Current returns a copy of the held calculation.
func (s *Session) Current() (Calculation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Calculation{}, false
	}
	return *s.current, true
}

// Begin starts a visible recalculation and returns its token.
func (s *Session) Begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.InProgress() {
		return 0, clierr.New(clierr.CodeBusy, fmt.Sprintf("cannot recalculate while %s", s.status))
	}
	s.seq++
	s.status = StatusLoading
	return s.seq, nil
}

// BeginHidden starts a background recalculation and leaves the status as is.
// It refuses, without consuming a token, when there is no held calculation or
// while a visible calculation or an execution is in flight.
func (s *Session) BeginHidden() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.status == StatusLoading || s.status.InProgress() {
		return 0, false
	}
	s.seq++
	return s.seq, true
}

// Apply installs calc when token is still the latest and reports whether it
// did.
func (s *Session) Apply(token uint64, calc Calculation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.latest(token) {
		return false
	}
	if s.status.InProgress() {
		s.dropStale(token, "execution in progress")
		return false
	}
	if !calc.HasTrade() {
		s.current = nil
		s.status = StatusDisabled
		return true
	}
	held := calc
	s.current = &held
	s.status = readyStatus(calc)
	s.log.Debug().Uint64("token", token).Str("status", string(s.status)).Msg("calculation applied")
	return true
}

// ApplyHidden compares a background result with the held calculation and
// marks the session stale when they differ. The held calculation is kept.
func (s *Session) ApplyHidden(token uint64, calc Calculation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.latest(token) {
		return false
	}
	if s.current == nil || s.status.InProgress() || s.status == StatusLoading {
		return false
	}
	if s.current.SameTrade(calc) {
		return false
	}
	s.status = StatusOldTradeData
	s.log.Info().Uint64("token", token).Msg("trade data changed")
	return true
}

// Fail records a failed calculation. The session becomes disabled when token
// is still the latest.
func (s *Session) Fail(token uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.latest(token) || s.status.InProgress() {
		return false
	}
	s.current = nil
	s.status = StatusDisabled
	s.log.Debug().Err(err).Uint64("token", token).Msg("calculation failed")
	return true
}

func (s *Session) latest(token uint64) bool {
	if token != s.seq {
		s.dropStale(token, "superseded")
		return false
	}
	return true
}

func (s *Session) dropStale(token uint64, reason string) {
	metrics.StaleResults.Inc()
	s.log.Debug().Uint64("token", token).Uint64("latest", s.seq).Str("reason", reason).Msg("stale result dropped")
}

func readyStatus(calc Calculation) Status {
	if calc.NeedsApproval {
		return StatusReadyToApprove
	}
	return StatusReadyToSwap
}

// Approve runs fn against the held calculation. On success the session moves
// to READY_TO_SWAP, otherwise back to READY_TO_APPROVE.
func (s *Session) Approve(ctx context.Context, fn func(context.Context, Calculation) error) error {
	calc, err := s.enter(StatusReadyToApprove, StatusApproveInProgress)
	if err != nil {
		return err
	}
	approved := false
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !approved {
			s.status = StatusReadyToApprove
			return
		}
		calc.NeedsApproval = false
		s.current = &calc
		s.status = StatusReadyToSwap
	}()
	if err := fn(ctx, calc); err != nil {
		return err
	}
	approved = true
	return nil
}

// Swap runs fn against the held calculation. The session returns to
// READY_TO_SWAP whatever the outcome.
func (s *Session) Swap(ctx context.Context, fn func(context.Context, Calculation) error) error {
	calc, err := s.enter(StatusReadyToSwap, StatusSwapInProgress)
	if err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		s.status = StatusReadyToSwap
		s.mu.Unlock()
	}()
	return fn(ctx, calc)
}

func (s *Session) enter(want, next Status) (Calculation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.InProgress() || s.status == StatusLoading {
		return Calculation{}, clierr.New(clierr.CodeBusy, fmt.Sprintf("session is %s", s.status))
	}
	if s.current == nil {
		return Calculation{}, clierr.New(clierr.CodeNoSelectedProvider, "no calculation selected")
	}
	switch s.status {
	case StatusOldTradeData:
		return Calculation{}, clierr.New(clierr.CodeStale, "trade data changed, recalculate first")
	case want:
	default:
		return Calculation{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("cannot start from %s, expected %s", s.status, want))
	}
	s.status = next
	return *s.current, nil
}

// SelectProvider moves the provider at index to the front of the given side.
// Single-chain calculations ignore side.
func (s *Session) SelectProvider(side smartrouting.Side, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.InProgress() || s.status == StatusLoading {
		return clierr.New(clierr.CodeBusy, fmt.Sprintf("cannot select a provider while %s", s.status))
	}
	if s.current == nil {
		return clierr.New(clierr.CodeNoSelectedProvider, "no calculation selected")
	}
	next := *s.current
	if next.Routing != nil {
		routing, err := next.Routing.Select(side, index)
		if err != nil {
			return err
		}
		next.Routing = &routing
	} else {
		reordered, ok := smartrouting.MoveToFront(next.Providers, index)
		if !ok {
			return clierr.New(clierr.CodeNoSelectedProvider, fmt.Sprintf("provider %d is not available", index))
		}
		next.Providers = reordered
	}
	s.current = &next
	if !next.HasTrade() {
		s.status = StatusDisabled
	} else if s.status != StatusOldTradeData {
		s.status = readyStatus(next)
	}
	return nil
}
