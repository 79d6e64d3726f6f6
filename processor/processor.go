// Package processor runs the single dispatch loop: pick the next pending
// transaction, build an attempt, send it, wait for the receipt and confirm
// it, recording every outcome where producers can read it.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vocdoni/txdispatch/attempt"
	"github.com/vocdoni/txdispatch/eth"
	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/pool"
	"github.com/vocdoni/txdispatch/signer"
	"github.com/vocdoni/txdispatch/types"
)

// pollInterval is the pool poll frequency.
const pollInterval = time.Second

var (
	// ErrWaitTimeout is raised when no receipt arrived within the attempt
	// window; the transaction returns to the pool for a fee bump.
	ErrWaitTimeout = errors.New("transaction was not mined within the attempt window")
	// ErrConfirmationNotObserved is raised when the receipt stayed
	// indeterminate after the confirmation block wait.
	ErrConfirmationNotObserved = errors.New("confirmation not observed")
)

// SendingError wraps the raw node error after the underpriced retry budget
// is exhausted or a non-classified submission failure occurs.
type SendingError struct {
	Err error
}

func (e *SendingError) Error() string {
	return "sending failed: " + e.Err.Error()
}

func (e *SendingError) Unwrap() error {
	return e.Err
}

// Eth is the chain surface the processor drives.
type Eth interface {
	ChainID() *big.Int
	SendTx(ctx context.Context, signed *gtypes.Transaction) (string, error)
	Status(ctx context.Context, hash string) (int64, error)
	WaitForReceipt(ctx context.Context, hash string, maxTime time.Duration) (int64, error)
	WaitForBlocks(ctx context.Context, amount int, maxTime time.Duration) error
}

// Config tunes the processor loop.
type Config struct {
	// MaxResubmitAmount bounds the attempts of one transaction.
	MaxResubmitAmount int
	// UnderpricedRetries bounds replacement retries within one send.
	UnderpricedRetries int
	// ConfirmationBlocks is the depth to wait before declaring an outcome.
	ConfirmationBlocks int
	// MaxWaitingTime bounds the confirmation block wait.
	MaxWaitingTime time.Duration
	// RestartTimeout is slept after an iteration failure.
	RestartTimeout time.Duration
	// IMAIDSuffix tags bridge-originated ids subject to drop-on-revert.
	IMAIDSuffix string
}

// Processor is the single worker draining the pool against one account.
type Processor struct {
	eth    Eth
	pool   *pool.TxPool
	signer signer.Signer
	mgr    attempt.Manager
	cfg    Config
}

// New wires a processor. The attempt manager must already carry the
// recovered last attempt (Fetch is the caller's boot step).
func New(e Eth, p *pool.TxPool, s signer.Signer, mgr attempt.Manager, cfg Config) *Processor {
	return &Processor{eth: e, pool: p, signer: s, mgr: mgr, cfg: cfg}
}

// Run drives the loop until ctx is cancelled. Classified failures are
// already reflected in the transaction status, so they are logged and the
// loop re-enters after RestartTimeout.
func (p *Processor) Run(ctx context.Context) error {
	log.Infow("processor started", "address", p.signer.Address().Hex())
	for {
		if err := p.ProcessNext(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			log.Errorw(err, "processing iteration failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.RestartTimeout):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ProcessNext handles one pool entry, if any. The acquisition scope
// guarantees the transaction state is written back on every exit path.
func (p *Processor) ProcessNext(ctx context.Context) error {
	tx, err := p.pool.FetchNext(ctx)
	if errors.Is(err, pool.ErrNoPending) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Infow("processing transaction", "tx", tx.ID, "status", tx.Status.String(),
		"attempts", tx.Attempts, "score", tx.Score)
	aq := p.acquire(tx)
	defer aq.release(ctx)
	return p.process(ctx, tx, aq)
}

// acquisition is the scoped ownership of one pool entry. Its release writes
// the state back exactly once, applies the attempt budget and persists the
// attempt slot when something went on wire.
type acquisition struct {
	p          *Processor
	tx         *types.Tx
	sentOnWire bool
	released   bool
}

// acquire increments the attempt counter and moves fresh transactions to
// SEEN.
func (p *Processor) acquire(tx *types.Tx) *acquisition {
	tx.Attempts++
	if tx.Status == types.TxStatusProposed {
		tx.Status = types.TxStatusSeen
	}
	return &acquisition{p: p, tx: tx}
}

// markSent records that a submission returned a hash within this scope.
func (a *acquisition) markSent() {
	a.sentOnWire = true
}

// drop forces the terminal DROPPED state.
func (a *acquisition) drop() {
	a.tx.Status = types.TxStatusDropped
}

// release is idempotent.
func (a *acquisition) release(ctx context.Context) {
	if a.released {
		return
	}
	a.released = true
	tx := a.tx
	if !tx.IsCompleted() && tx.Attempts > a.p.cfg.MaxResubmitAmount {
		log.Warnw("attempt budget exhausted, dropping transaction",
			"tx", tx.ID, "attempts", tx.Attempts, "max", a.p.cfg.MaxResubmitAmount)
		tx.Status = types.TxStatusDropped
	}
	var err error
	if tx.IsCompleted() {
		err = a.p.pool.Release(ctx, tx)
	} else {
		err = a.p.pool.Save(ctx, tx)
	}
	if err != nil {
		log.Errorw(err, "cannot persist transaction state")
	}
	if a.sentOnWire {
		if err := a.p.mgr.Save(ctx); err != nil {
			log.Errorw(err, "cannot persist last attempt")
		}
	}
	log.Infow("transaction released", "tx", tx.ID, "status", tx.Status.String(),
		"attempts", tx.Attempts, "hash", tx.Hash)
}

// process advances the state machine of one transaction.
func (p *Processor) process(ctx context.Context, tx *types.Tx, aq *acquisition) error {
	// A crash between submit and save leaves a hash whose receipt already
	// exists. Skip straight to confirmation in that case.
	if tx.IsSent() {
		if hash, ok, err := p.minedHash(ctx, tx); err != nil {
			return err
		} else if ok {
			log.Infow("transaction already mined", "tx", tx.ID, "hash", hash)
			tx.Status = types.TxStatusMined
			return p.confirm(ctx, tx)
		}
	}
	// Never submit past the attempt budget; release turns this into the
	// terminal DROPPED state.
	if tx.Attempts > p.cfg.MaxResubmitAmount {
		return nil
	}
	if err := p.mgr.Make(ctx, tx); err != nil {
		if eth.IsEstimateGasRevert(err) {
			return p.handleEstimateRevert(tx, aq, err)
		}
		return err
	}
	if err := p.send(ctx, tx, aq); err != nil {
		return err
	}
	if err := p.wait(ctx, tx); err != nil {
		return err
	}
	return p.confirm(ctx, tx)
}

// minedHash looks for a receipt across all historical hashes of tx, newest
// first. A later resubmission may have won over an earlier one.
func (p *Processor) minedHash(ctx context.Context, tx *types.Tx) (string, bool, error) {
	for i := len(tx.Hashes) - 1; i >= 0; i-- {
		status, err := p.eth.Status(ctx, tx.Hashes[i])
		if err != nil {
			return "", false, err
		}
		if status >= 0 {
			return tx.Hashes[i], true, nil
		}
	}
	return "", false, nil
}

// handleEstimateRevert applies the drop policy on pre-flight revert:
// bridge-originated calls are idempotent re-sends and must not block the
// queue, so they are dropped outright; anything else stays in the pool for
// caller intervention.
func (p *Processor) handleEstimateRevert(tx *types.Tx, aq *acquisition, err error) error {
	if tx.HasIDSuffix(p.cfg.IMAIDSuffix) {
		log.Warnw("estimation reverted for bridge transaction, dropping",
			"tx", tx.ID, "error", err.Error())
		aq.drop()
		return nil
	}
	log.Errorw(err, "estimation reverted, returning transaction to pool")
	tx.Status = types.TxStatusSeen
	return nil
}

// send puts the current attempt on wire, bumping the fee through Replace on
// replacement-underpriced rejections, up to the configured retry budget.
func (p *Processor) send(ctx context.Context, tx *types.Tx, aq *acquisition) error {
	chainID := p.eth.ChainID()
	tx.ChainID = chainID
	tx.From = p.signer.Address().Hex()
	var lastErr error
	for retry := range p.cfg.UnderpricedRetries {
		envelope, err := eth.ConvertTx(tx, chainID)
		if err != nil {
			tx.Status = types.TxStatusUnsent
			return &SendingError{Err: err}
		}
		signed, err := p.signer.SignTx(ctx, envelope, chainID)
		if err != nil {
			tx.Status = types.TxStatusUnsent
			if signer.IsUnreachable(err) {
				return fmt.Errorf("aborting send: %w", err)
			}
			return &SendingError{Err: err}
		}
		hash, err := p.eth.SendTx(ctx, signed)
		if err == nil {
			tx.Status = types.TxStatusSent
			tx.SentTS = time.Now().Unix()
			tx.AppendHash(hash)
			aq.markSent()
			if err := p.pool.Save(ctx, tx); err != nil {
				log.Errorw(err, "cannot persist sent transaction")
			}
			if err := p.mgr.Save(ctx); err != nil {
				log.Errorw(err, "cannot persist attempt after send")
			}
			log.Infow("transaction submitted", "tx", tx.ID, "hash", hash,
				"nonce", *tx.Nonce, "retry", retry)
			return nil
		}
		lastErr = err
		if !eth.IsReplacementUnderpriced(err) {
			if eth.IsNonceTooLow(err) {
				log.Warnw("nonce too low, will recompute on the next attempt",
					"tx", tx.ID, "nonce", *tx.Nonce)
			}
			tx.Status = types.TxStatusUnsent
			return &SendingError{Err: err}
		}
		log.Warnw("replacement underpriced, bumping fee", "tx", tx.ID, "retry", retry)
		if err := p.mgr.Replace(ctx, tx, retry); err != nil {
			tx.Status = types.TxStatusUnsent
			return &SendingError{Err: err}
		}
	}
	tx.Status = types.TxStatusUnsent
	return &SendingError{Err: lastErr}
}

// wait polls for the receipt of the current hash within the attempt window.
func (p *Processor) wait(ctx context.Context, tx *types.Tx) error {
	current := p.mgr.Current()
	if current == nil {
		return ErrNoAttemptForWait
	}
	status, err := p.eth.WaitForReceipt(ctx, tx.Hash, current.WaitDuration())
	if err != nil {
		if errors.Is(err, eth.ErrReceiptTimeout) {
			log.Infow("transaction not mined within window", "tx", tx.ID,
				"hash", tx.Hash, "waitTime", current.WaitTime)
			tx.Status = types.TxStatusTimeout
			return fmt.Errorf("%w: %s", ErrWaitTimeout, tx.ID)
		}
		return err
	}
	log.Infow("transaction mined", "tx", tx.ID, "hash", tx.Hash, "receiptStatus", status)
	tx.Status = types.TxStatusMined
	if err := p.pool.Save(ctx, tx); err != nil {
		log.Errorw(err, "cannot persist mined transaction")
	}
	return nil
}

// ErrNoAttemptForWait guards against waiting without a made attempt; it can
// only happen on a programming error in the state machine.
var ErrNoAttemptForWait = errors.New("no current attempt to wait for")

// confirm blocks for the confirmation depth and settles the final outcome
// across all historical hashes.
func (p *Processor) confirm(ctx context.Context, tx *types.Tx) error {
	if err := p.eth.WaitForBlocks(ctx, p.cfg.ConfirmationBlocks, p.cfg.MaxWaitingTime); err != nil {
		if errors.Is(err, eth.ErrBlockTimeout) {
			tx.Status = types.TxStatusUnconfirmed
			return fmt.Errorf("%w: %s", ErrConfirmationNotObserved, tx.ID)
		}
		return err
	}
	for i := len(tx.Hashes) - 1; i >= 0; i-- {
		status, err := p.eth.Status(ctx, tx.Hashes[i])
		if err != nil {
			return err
		}
		if status >= 0 {
			tx.SetAsCompleted(tx.Hashes[i], status)
			log.Infow("transaction confirmed", "tx", tx.ID,
				"hash", tx.Hashes[i], "status", tx.Status.String())
			return nil
		}
	}
	tx.Status = types.TxStatusUnconfirmed
	return fmt.Errorf("%w: %s", ErrConfirmationNotObserved, tx.ID)
}
