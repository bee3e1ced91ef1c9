package crosschain

import (
	"context"
	"sync"

	"github.com/ggonzalez94/xswap-cli/internal/trade"
)

type State string

const (
	StateIdle       State = "IDLE"
	StatePreparing  State = "PREPARING"
	StateSubmitting State = "SUBMITTING"
	StateSubmitted  State = "SUBMITTED"
	StateFailed     State = "FAILED"
)

// Attempt records one cross-chain transfer from preparation to submission.
type Attempt struct {
	mu       sync.Mutex
	state    State
	history  []State
	txHash   string
	prepared *Prepared
}

func NewAttempt() *Attempt {
	return &Attempt{state: StateIdle, history: []State{StateIdle}}
}

func (a *Attempt) move(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
	a.history = append(a.history, s)
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) History() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]State(nil), a.history...)
}

func (a *Attempt) TxHash() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txHash
}

func (a *Attempt) Prepared() *Prepared {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prepared
}

// Transfer prepares and submits in one attempt. The attempt is SUBMITTED as
// soon as the bridge tx hash is known; confirmation is not awaited here.
func (a *Assembler) Transfer(ctx context.Context, req PrepareRequest, sender trade.Sender, onHash func(string)) (*Attempt, error) {
	attempt := NewAttempt()
	attempt.move(StatePreparing)
	p, err := a.Prepare(ctx, req)
	if err != nil {
		attempt.move(StateFailed)
		return attempt, err
	}
	attempt.mu.Lock()
	attempt.prepared = &p
	attempt.mu.Unlock()

	attempt.move(StateSubmitting)
	_, err = a.Submit(ctx, p, sender, func(hash string) {
		attempt.mu.Lock()
		attempt.txHash = hash
		attempt.mu.Unlock()
		attempt.move(StateSubmitted)
		if onHash != nil {
			onHash(hash)
		}
	})
	if err != nil {
		if attempt.State() != StateSubmitted {
			attempt.move(StateFailed)
		}
		a.log.Warn().Err(err).Str("state", string(attempt.State())).Msg("cross-chain transfer failed")
		return attempt, err
	}
	return attempt, nil
}
