package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Attempt is the persisted record of the last on-wire submission. It is
// rewritten after every successful send and read back at startup so that a
// restart continues from the last used nonce and fee.
type Attempt struct {
	TxID     string `json:"tx_id"`
	Nonce    uint64 `json:"nonce"`
	Index    int    `json:"index"`
	Fee      Fee    `json:"-"`
	WaitTime int    `json:"wait_time"`
	Gas      uint64 `json:"gas"`
}

// WaitDuration returns the receipt wait window of this attempt.
func (a *Attempt) WaitDuration() time.Duration {
	return time.Duration(a.WaitTime) * time.Second
}

type attemptFeeRecord struct {
	GasPrice             *big.Int `json:"gas_price"`
	MaxFeePerGas         *big.Int `json:"max_fee_per_gas"`
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas"`
}

type attemptRecord struct {
	TxID     string            `json:"tx_id"`
	Nonce    uint64            `json:"nonce"`
	Index    int               `json:"index"`
	Fee      *attemptFeeRecord `json:"fee"`
	WaitTime int               `json:"wait_time"`
	Gas      uint64            `json:"gas"`
	// GasPrice appears at the top level in records written before the fee
	// union existed.
	GasPrice *big.Int `json:"gas_price,omitempty"`
}

// Bytes serializes the attempt into its stored form.
func (a *Attempt) Bytes() []byte {
	rec := attemptRecord{
		TxID:     a.TxID,
		Nonce:    a.Nonce,
		Index:    a.Index,
		WaitTime: a.WaitTime,
		Gas:      a.Gas,
		Fee: &attemptFeeRecord{
			GasPrice:             a.Fee.GasPrice,
			MaxFeePerGas:         a.Fee.MaxFeePerGas,
			MaxPriorityFeePerGas: a.Fee.MaxPriorityFeePerGas,
		},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Sprintf("cannot marshal attempt record: %v", err))
	}
	return b
}

// AttemptFromBytes decodes a stored attempt. A legacy top-level gas_price is
// folded into the fee union.
func AttemptFromBytes(data []byte) (*Attempt, error) {
	var rec attemptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	a := &Attempt{
		TxID:     rec.TxID,
		Nonce:    rec.Nonce,
		Index:    rec.Index,
		WaitTime: rec.WaitTime,
		Gas:      rec.Gas,
	}
	if rec.Fee != nil {
		a.Fee = Fee{
			GasPrice:             rec.Fee.GasPrice,
			MaxFeePerGas:         rec.Fee.MaxFeePerGas,
			MaxPriorityFeePerGas: rec.Fee.MaxPriorityFeePerGas,
		}
	}
	if a.Fee.GasPrice == nil && rec.GasPrice != nil {
		a.Fee.GasPrice = rec.GasPrice
	}
	return a, nil
}
