// Package types defines the transaction and attempt records exchanged
// between producers, the pool and the processor, together with their
// stored JSON encodings.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidFormat marks a stored record that cannot be decoded. The pool
// drops such entries from the index and moves on.
var ErrInvalidFormat = errors.New("invalid record format")

// DefaultGasMultiplier is applied to estimated gas when the producer did not
// set one.
const DefaultGasMultiplier = 1.2

// Fee is the pricing of one attempt. Exactly one of GasPrice or the
// MaxFeePerGas/MaxPriorityFeePerGas pair is populated at send time.
type Fee struct {
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// IsLegacy reports whether the fee uses the flat gas-price model.
func (f *Fee) IsLegacy() bool {
	return f != nil && f.GasPrice != nil
}

// IsDynamic reports whether the fee uses the EIP-1559 tip/cap model.
func (f *Fee) IsDynamic() bool {
	return f != nil && f.MaxFeePerGas != nil && f.MaxPriorityFeePerGas != nil
}

// Cap returns the highest per-gas amount this fee may pay.
func (f *Fee) Cap() *big.Int {
	if f == nil {
		return nil
	}
	if f.GasPrice != nil {
		return f.GasPrice
	}
	return f.MaxFeePerGas
}

// Tx is a transaction request. Producers create it, the processor mutates it
// through the state machine.
type Tx struct {
	ID         string
	Status     TxStatus
	Score      int64
	To         common.Address
	Value      *big.Int
	From       string
	Nonce      *uint64
	ChainID    *big.Int
	Gas        *uint64
	Data       hexutil.Bytes
	Multiplier float64
	Attempts   int
	Hash       string
	Hashes     []string
	SentTS     int64
	Method     string
	Meta       map[string]any
	Fee        *Fee
}

// IsSent reports whether at least one submission returned a hash.
func (tx *Tx) IsSent() bool {
	return tx.Hash != ""
}

// IsCompleted reports whether the transaction reached a terminal status.
func (tx *Tx) IsCompleted() bool {
	return tx.Status.IsTerminal()
}

// AppendHash records a successful on-wire submission.
func (tx *Tx) AppendHash(hash string) {
	tx.Hashes = append(tx.Hashes, hash)
	tx.Hash = hash
}

// SetAsCompleted applies the confirmed receipt status: 1 is SUCCESS,
// anything else FAILED.
func (tx *Tx) SetAsCompleted(hash string, receiptStatus int64) {
	tx.Hash = hash
	if receiptStatus == 1 {
		tx.Status = TxStatusSuccess
	} else {
		tx.Status = TxStatusFailed
	}
}

// HasIDSuffix reports whether the id carries the given origin tag.
func (tx *Tx) HasIDSuffix(suffix string) bool {
	return suffix != "" && strings.HasSuffix(tx.ID, suffix)
}

// GasMultiplier returns the effective multiplier for estimated gas.
func (tx *Tx) GasMultiplier() float64 {
	if tx.Multiplier <= 0 {
		return DefaultGasMultiplier
	}
	return tx.Multiplier
}

// txRecord is the stored JSON shape. Fee fields are flattened; unused ones
// stay null. Pointer fields distinguish absent from zero so that legacy
// records can be upgraded on read.
type txRecord struct {
	TxID                 *string        `json:"tx_id"`
	Status               *string        `json:"status"`
	Score                int64          `json:"score"`
	To                   *string        `json:"to"`
	Value                *big.Int       `json:"value"`
	From                 string         `json:"from"`
	Nonce                *uint64        `json:"nonce"`
	ChainID              *big.Int       `json:"chainId"`
	Gas                  *uint64        `json:"gas"`
	Data                 *hexutil.Bytes `json:"data"`
	Multiplier           *float64       `json:"multiplier"`
	Attempts             int            `json:"attempts"`
	TxHash               *string        `json:"tx_hash"`
	Hashes               []string       `json:"hashes"`
	SentTS               *int64         `json:"sent_ts"`
	Method               *string        `json:"method"`
	Meta                 map[string]any `json:"meta"`
	GasPrice             *big.Int       `json:"gasPrice"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
}

// Bytes serializes the transaction into its stored record form.
func (tx *Tx) Bytes() []byte {
	rec := txRecord{
		TxID:     &tx.ID,
		Score:    tx.Score,
		Value:    tx.Value,
		From:     tx.From,
		Nonce:    tx.Nonce,
		ChainID:  tx.ChainID,
		Gas:      tx.Gas,
		Attempts: tx.Attempts,
		Hashes:   tx.Hashes,
		Meta:     tx.Meta,
	}
	status := tx.Status.String()
	rec.Status = &status
	to := tx.To.Hex()
	rec.To = &to
	if len(tx.Data) > 0 {
		data := tx.Data
		rec.Data = &data
	}
	multiplier := tx.GasMultiplier()
	rec.Multiplier = &multiplier
	if tx.Hash != "" {
		hash := tx.Hash
		rec.TxHash = &hash
	}
	if tx.SentTS != 0 {
		ts := tx.SentTS
		rec.SentTS = &ts
	}
	if tx.Method != "" {
		method := tx.Method
		rec.Method = &method
	}
	if tx.Fee != nil {
		rec.GasPrice = tx.Fee.GasPrice
		rec.MaxFeePerGas = tx.Fee.MaxFeePerGas
		rec.MaxPriorityFeePerGas = tx.Fee.MaxPriorityFeePerGas
	}
	b, err := json.Marshal(rec)
	if err != nil {
		// All field types marshal without error.
		panic(fmt.Sprintf("cannot marshal tx record: %v", err))
	}
	return b
}

// TxFromBytes decodes a stored record. The id under which the record was
// stored is authoritative when the record predates the tx_id field. Records
// missing the fee pair or the hashes list are upgraded in place; a missing
// status or destination is a hard ErrInvalidFormat.
func TxFromBytes(id string, data []byte) (*Tx, error) {
	var rec txRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if rec.Status == nil {
		return nil, fmt.Errorf("%w: missing status", ErrInvalidFormat)
	}
	if rec.To == nil {
		return nil, fmt.Errorf("%w: missing destination", ErrInvalidFormat)
	}
	status, err := StatusFromString(*rec.Status)
	if err != nil {
		return nil, err
	}
	tx := &Tx{
		ID:       id,
		Status:   status,
		Score:    rec.Score,
		To:       common.HexToAddress(*rec.To),
		Value:    rec.Value,
		From:     rec.From,
		Nonce:    rec.Nonce,
		ChainID:  rec.ChainID,
		Gas:      rec.Gas,
		Attempts: rec.Attempts,
		Hashes:   rec.Hashes,
		Meta:     rec.Meta,
	}
	if rec.TxID != nil && *rec.TxID != "" {
		tx.ID = *rec.TxID
	}
	if rec.Data != nil {
		tx.Data = *rec.Data
	}
	if rec.Multiplier != nil && *rec.Multiplier > 0 {
		tx.Multiplier = *rec.Multiplier
	} else {
		tx.Multiplier = DefaultGasMultiplier
	}
	if rec.TxHash != nil {
		tx.Hash = *rec.TxHash
	}
	if rec.SentTS != nil {
		tx.SentTS = *rec.SentTS
	}
	if rec.Method != nil {
		tx.Method = *rec.Method
	}
	if rec.GasPrice != nil || rec.MaxFeePerGas != nil || rec.MaxPriorityFeePerGas != nil {
		tx.Fee = &Fee{
			GasPrice:             rec.GasPrice,
			MaxFeePerGas:         rec.MaxFeePerGas,
			MaxPriorityFeePerGas: rec.MaxPriorityFeePerGas,
		}
	}
	// Pre-1559 records carry a single hash and no hashes list.
	if len(tx.Hashes) == 0 && tx.Hash != "" {
		tx.Hashes = []string{tx.Hash}
	}
	if tx.Hash == "" && len(tx.Hashes) > 0 {
		tx.Hash = tx.Hashes[len(tx.Hashes)-1]
	}
	return tx, nil
}
