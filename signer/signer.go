// Package signer abstracts transaction signing behind one capability set,
// with a local-key implementation and a remote SGX enclave implementation.
package signer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
)

// Signer signs wire envelopes for one owned account.
type Signer interface {
	// Address returns the account the signer controls.
	Address() common.Address
	// SignTx signs the envelope for the given chain.
	SignTx(ctx context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error)
}

// UnreachableError marks a transient transport failure talking to a remote
// signer. The processor aborts the current send without replacement
// retries; the transaction stays in the pool as UNSENT and is retried on a
// later poll. The aborted acquisition still counts toward the attempt budget.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return "signer unreachable: " + e.Err.Error()
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// IsUnreachable reports whether err is a classified signer transport
// failure.
func IsUnreachable(err error) bool {
	var unreachable *UnreachableError
	return errors.As(err, &unreachable)
}

// classifyTransport wraps transport-level failures in UnreachableError and
// leaves everything else (a definitive signing refusal) untouched.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) {
		return &UnreachableError{Err: err}
	}
	return fmt.Errorf("signer: %w", err)
}
