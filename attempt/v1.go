package attempt

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/types"
)

// V1Options tunes the legacy gas-price policy.
type V1Options struct {
	BaseWaitingTime        int
	MaxGasPrice            *big.Int
	MinGasPriceInc         *big.Int
	GasPriceIncPercent     int
	GradGasPriceIncPercent int
}

// ManagerV1 prices attempts with a single gas_price, bumping it by a
// percentage between retries and by a smaller gradual step on replacement.
type ManagerV1 struct {
	eth     Eth
	store   Store
	source  common.Address
	opts    V1Options
	current *types.Attempt
}

// NewV1 creates the legacy pricing manager for the given sender.
func NewV1(e Eth, store Store, source common.Address, opts V1Options) *ManagerV1 {
	return &ManagerV1{eth: e, store: store, source: source, opts: opts}
}

func (m *ManagerV1) Current() *types.Attempt {
	return m.current
}

func (m *ManagerV1) Fetch(ctx context.Context) error {
	current, err := m.store.Get(ctx)
	if err != nil {
		return err
	}
	m.current = current
	return nil
}

func (m *ManagerV1) Save(ctx context.Context) error {
	if m.current == nil {
		return nil
	}
	return m.store.Save(ctx, m.current)
}

// incGasPrice applies a percentage bump floored by the absolute minimum
// increment the node accepts.
func (m *ManagerV1) incGasPrice(gasPrice *big.Int, inc int) *big.Int {
	return maxBig(
		pctInc(gasPrice, inc),
		new(big.Int).Add(gasPrice, m.opts.MinGasPriceInc),
	)
}

// capGasPrice saturates at the configured ceiling, logging when it hits.
func (m *ManagerV1) capGasPrice(gasPrice *big.Int) *big.Int {
	if gasPrice.Cmp(m.opts.MaxGasPrice) > 0 {
		log.Warnw("next gas price is above the allowed maximum, saturating",
			"next", gasPrice.String(), "max", m.opts.MaxGasPrice.String())
		return new(big.Int).Set(m.opts.MaxGasPrice)
	}
	return gasPrice
}

// nextGasPrice computes the retry fee for the same nonce: percentage bump
// over the last attempt, floored by the current average gas price, capped.
func (m *ManagerV1) nextGasPrice(lastGasPrice, avgGasPrice *big.Int) *big.Int {
	next := m.capGasPrice(m.incGasPrice(lastGasPrice, m.opts.GasPriceIncPercent))
	return maxBig(avgGasPrice, next)
}

func (m *ManagerV1) Make(ctx context.Context, tx *types.Tx) error {
	nonce, err := m.eth.Nonce(ctx, m.source)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	avgGasPrice, err := m.eth.AvgGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetch average gas price: %w", err)
	}
	log.Debugw("making attempt", "tx", tx.ID, "nonce", nonce, "avgGasPrice", avgGasPrice.String())

	last := m.current
	var nextGasPrice *big.Int
	var nextIndex, nextWait int
	if last == nil || last.Fee.GasPrice == nil || nonce > last.Nonce {
		nextGasPrice = avgGasPrice
		nextIndex = 1
		nextWait = m.opts.BaseWaitingTime
	} else {
		nextGasPrice = m.nextGasPrice(last.Fee.GasPrice, avgGasPrice)
		nextIndex = last.Index + 1
		nextWait = nextWaitTime(m.opts.BaseWaitingTime, nextIndex)
	}

	tx.Nonce = &nonce
	gas, err := resolveGas(ctx, m.eth, tx, m.source, nextGasPrice)
	if err != nil {
		return err
	}
	tx.Gas = &gas
	tx.Fee = &types.Fee{GasPrice: nextGasPrice}

	m.current = &types.Attempt{
		TxID:     tx.ID,
		Nonce:    nonce,
		Index:    nextIndex,
		Fee:      *tx.Fee,
		WaitTime: nextWait,
		Gas:      gas,
	}
	return nil
}

func (m *ManagerV1) Replace(_ context.Context, tx *types.Tx, _ int) error {
	if m.current == nil {
		return ErrNoCurrentAttempt
	}
	next := m.capGasPrice(m.incGasPrice(m.current.Fee.GasPrice, m.opts.GradGasPriceIncPercent))
	fee := types.Fee{GasPrice: next}
	tx.Fee = &fee
	m.current.Fee = fee
	return nil
}
