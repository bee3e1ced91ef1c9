// Package signer holds the transaction signers that submit planned actions.
package signer

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs transactions for a single sender address.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// ErrSenderMismatch reports a signer other than the sender an action was
// planned for.
var ErrSenderMismatch = errors.New("signer does not match planned sender")

// CheckSender verifies that s signs for planned. An empty planned sender
// accepts any signer.
func CheckSender(s Signer, planned string) error {
	planned = strings.TrimSpace(planned)
	if planned == "" {
		return nil
	}
	if s == nil {
		return errors.New("missing signer")
	}
	if !common.IsHexAddress(planned) {
		return fmt.Errorf("invalid planned sender %q", planned)
	}
	if want := common.HexToAddress(planned); want != s.Address() {
		return fmt.Errorf("%w: planned %s, signer %s", ErrSenderMismatch, want.Hex(), s.Address().Hex())
	}
	return nil
}
