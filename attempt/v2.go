package attempt

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/types"
)

// V2Options tunes the EIP-1559 policy.
type V2Options struct {
	BaseWaitingTime          int
	MinPriorityFee           *big.Int
	MaxFeeValue              *big.Int
	FeeIncPercent            int
	MinFeeIncPercent         int
	BaseFeeAdjustmentPercent int
	HardReplaceStartIndex    int
	HardReplaceTipOffset     *big.Int
}

// ManagerV2 prices attempts with an EIP-1559 tip/cap pair derived from the
// node fee history.
type ManagerV2 struct {
	eth     Eth
	store   Store
	source  common.Address
	opts    V2Options
	current *types.Attempt
}

// NewV2 creates the EIP-1559 pricing manager for the given sender.
func NewV2(e Eth, store Store, source common.Address, opts V2Options) *ManagerV2 {
	return &ManagerV2{eth: e, store: store, source: source, opts: opts}
}

func (m *ManagerV2) Current() *types.Attempt {
	return m.current
}

func (m *ManagerV2) Fetch(ctx context.Context) error {
	current, err := m.store.Get(ctx)
	if err != nil {
		return err
	}
	m.current = current
	return nil
}

func (m *ManagerV2) Save(ctx context.Context) error {
	if m.current == nil {
		return nil
	}
	return m.store.Save(ctx, m.current)
}

// clamp saturates a fee component at the configured ceiling.
func (m *ManagerV2) clamp(value *big.Int) *big.Int {
	if value.Cmp(m.opts.MaxFeeValue) > 0 {
		log.Warnw("next fee is above the allowed maximum, saturating",
			"next", value.String(), "max", m.opts.MaxFeeValue.String())
		return new(big.Int).Set(m.opts.MaxFeeValue)
	}
	return value
}

// initialFee prices a first attempt from current chain conditions: the tip
// follows the target-percentile reward, the cap leaves headroom over the
// estimated base fee.
func (m *ManagerV2) initialFee(baseFee, tip *big.Int) types.Fee {
	nextTip := m.clamp(maxBig(m.opts.MinPriorityFee, tip))
	nextCap := m.clamp(pctInc(maxBig(nextTip, baseFee), m.opts.BaseFeeAdjustmentPercent))
	return types.Fee{
		MaxFeePerGas:         nextCap,
		MaxPriorityFeePerGas: nextTip,
	}
}

// retryFee bumps both components by the configured percentage, floored by
// the current chain estimates.
func (m *ManagerV2) retryFee(last types.Fee, baseFee, tip *big.Int) types.Fee {
	nextTip := m.clamp(maxBig(pctInc(last.MaxPriorityFeePerGas, m.opts.FeeIncPercent), tip))
	nextCap := m.clamp(maxBig(pctInc(last.MaxFeePerGas, m.opts.FeeIncPercent), baseFee))
	return types.Fee{
		MaxFeePerGas:         nextCap,
		MaxPriorityFeePerGas: nextTip,
	}
}

func (m *ManagerV2) Make(ctx context.Context, tx *types.Tx) error {
	nonce, err := m.eth.Nonce(ctx, m.source)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	estimate, err := m.eth.FeeHistory(ctx)
	if err != nil {
		return fmt.Errorf("fetch fee history: %w", err)
	}
	log.Debugw("making attempt", "tx", tx.ID, "nonce", nonce,
		"estimatedBaseFee", estimate.BaseFee.String(), "targetTip", estimate.Tip.String())

	last := m.current
	var nextFee types.Fee
	var nextIndex, nextWait int
	if last == nil || !last.Fee.IsDynamic() || nonce > last.Nonce {
		nextFee = m.initialFee(estimate.BaseFee, estimate.Tip)
		nextIndex = 1
		nextWait = m.opts.BaseWaitingTime
	} else {
		nextFee = m.retryFee(last.Fee, estimate.BaseFee, estimate.Tip)
		nextIndex = last.Index + 1
		nextWait = nextWaitTime(m.opts.BaseWaitingTime, nextIndex)
	}

	tx.Nonce = &nonce
	gas, err := resolveGas(ctx, m.eth, tx, m.source, nextFee.MaxFeePerGas)
	if err != nil {
		return err
	}
	tx.Gas = &gas
	fee := nextFee
	tx.Fee = &fee

	m.current = &types.Attempt{
		TxID:     tx.ID,
		Nonce:    nonce,
		Index:    nextIndex,
		Fee:      fee,
		WaitTime: nextWait,
		Gas:      gas,
	}
	return nil
}

func (m *ManagerV2) Replace(_ context.Context, tx *types.Tx, replaceAttempt int) error {
	if m.current == nil {
		return ErrNoCurrentAttempt
	}
	last := m.current.Fee
	nextTip := m.clamp(pctInc(last.MaxPriorityFeePerGas, m.opts.MinFeeIncPercent))
	nextCap := m.clamp(pctInc(last.MaxFeePerGas, m.opts.MinFeeIncPercent))
	// A long run of rejected replacements usually means a stuck legacy
	// predecessor holds the slot. Collapsing the tip against the cap makes
	// the replacement price like a legacy transaction and dislodges it.
	if replaceAttempt >= m.opts.HardReplaceStartIndex {
		if gap := new(big.Int).Sub(nextCap, nextTip); gap.Cmp(m.opts.HardReplaceTipOffset) > 0 {
			nextTip = new(big.Int).Sub(nextCap, m.opts.HardReplaceTipOffset)
			log.Warnw("hard replacement: raising tip against the cap",
				"tx", tx.ID, "replaceAttempt", replaceAttempt,
				"tip", nextTip.String(), "cap", nextCap.String())
		}
	}
	fee := types.Fee{
		MaxFeePerGas:         nextCap,
		MaxPriorityFeePerGas: nextTip,
	}
	tx.Fee = &fee
	m.current.Fee = fee
	return nil
}
