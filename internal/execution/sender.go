package execution

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/xswap-cli/internal/execution/signer"
)

// Sender signs and submits actions with a local key, journaling every step
// in the store.
type Sender struct {
	signer signer.Signer
	store  *Store
	opts   ExecuteOptions
}

func NewSender(txSigner signer.Signer, store *Store, opts ExecuteOptions) *Sender {
	return &Sender{signer: txSigner, store: store, opts: opts}
}

func (s *Sender) Address() common.Address {
	if s.signer == nil {
		return common.Address{}
	}
	return s.signer.Address()
}

// Send executes action and calls onTxHash with each step's hash as soon as
// it is broadcast, before the receipt is awaited.
func (s *Sender) Send(ctx context.Context, action *Action, onTxHash func(stepID, txHash string)) error {
	opts := s.opts
	prev := opts.OnSubmitted
	opts.OnSubmitted = func(step ActionStep) {
		if prev != nil {
			prev(step)
		}
		if onTxHash != nil {
			onTxHash(step.StepID, step.TxHash)
		}
	}
	return ExecuteAction(ctx, s.store, action, s.signer, opts)
}
