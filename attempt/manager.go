package attempt

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/txdispatch/eth"
	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/types"
)

// ErrNoCurrentAttempt is returned by Replace when no attempt was made yet.
var ErrNoCurrentAttempt = errors.New("current attempt is not set")

// Manager computes the parameters of the next submission attempt. The
// processor is agnostic of the pricing policy behind it.
type Manager interface {
	// Current returns the last attempt, or nil.
	Current() *types.Attempt
	// Fetch loads Current from storage.
	Fetch(ctx context.Context) error
	// Save persists Current; no-op when unset.
	Save(ctx context.Context) error
	// Make computes the next attempt for tx, assigning its nonce, fee and
	// gas in place and updating Current.
	Make(ctx context.Context, tx *types.Tx) error
	// Replace bumps the fee by the minimum step the node accepts after a
	// replacement-underpriced rejection, without advancing the attempt
	// index. replaceAttempt is the zero-based index of the rejected
	// submission within this send.
	Replace(ctx context.Context, tx *types.Tx, replaceAttempt int) error
}

// Eth is the chain surface the managers read from.
type Eth interface {
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	AvgGasPrice(ctx context.Context) (*big.Int, error)
	FeeHistory(ctx context.Context) (*eth.FeeEstimate, error)
	CalculateGas(ctx context.Context, tx *types.Tx, from common.Address) (uint64, error)
}

// nextWaitTime is the receipt wait window of an attempt: quadratic backoff
// over the attempt index.
func nextWaitTime(base, index int) int {
	return base + 10*index*index
}

// pctInc returns value increased by inc percent.
func pctInc(value *big.Int, inc int) *big.Int {
	out := new(big.Int).Mul(value, big.NewInt(int64(100+inc)))
	return out.Div(out, big.NewInt(100))
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// resolveGas recomputes the gas limit of tx. The estimate always runs; a
// caller-supplied static hint only wins when the account balance covers the
// worst-case spend at capPerGas, otherwise the estimate is used and the
// downgrade is logged.
func resolveGas(ctx context.Context, e Eth, tx *types.Tx, source common.Address, capPerGas *big.Int) (uint64, error) {
	estimated, err := e.CalculateGas(ctx, tx, source)
	if err != nil {
		return 0, err
	}
	var hint uint64
	if tx.Gas != nil {
		hint = *tx.Gas
	}
	if hint <= estimated {
		return estimated, nil
	}
	balance, err := e.Balance(ctx, source)
	if err != nil {
		return 0, err
	}
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	spend := new(big.Int).Mul(capPerGas, new(big.Int).SetUint64(hint))
	spend.Add(spend, value)
	if spend.Cmp(balance) > 0 {
		log.Warnw("static gas hint exceeds balance allowance, using estimated gas",
			"tx", tx.ID, "hint", hint, "estimated", estimated,
			"balance", balance.String(), "requiredSpend", spend.String())
		return estimated, nil
	}
	return hint, nil
}
