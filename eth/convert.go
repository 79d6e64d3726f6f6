package eth

import (
	"fmt"
	"math/big"

	gtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vocdoni/txdispatch/types"
)

// ConvertTx builds the wire envelope for tx: a legacy transaction when only
// gas_price is set, a dynamic fee transaction when the tip/cap pair is set.
// Nonce, fee and gas must already be assigned by the attempt manager.
func ConvertTx(tx *types.Tx, chainID *big.Int) (*gtypes.Transaction, error) {
	if tx.Nonce == nil {
		return nil, fmt.Errorf("transaction %s has no nonce", tx.ID)
	}
	if tx.Gas == nil {
		return nil, fmt.Errorf("transaction %s has no gas limit", tx.ID)
	}
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := tx.To
	switch {
	case tx.Fee.IsDynamic():
		return gtypes.NewTx(&gtypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     *tx.Nonce,
			GasTipCap: tx.Fee.MaxPriorityFeePerGas,
			GasFeeCap: tx.Fee.MaxFeePerGas,
			Gas:       *tx.Gas,
			To:        &to,
			Value:     value,
			Data:      tx.Data,
		}), nil
	case tx.Fee.IsLegacy():
		return gtypes.NewTx(&gtypes.LegacyTx{
			Nonce:    *tx.Nonce,
			GasPrice: tx.Fee.GasPrice,
			Gas:      *tx.Gas,
			To:       &to,
			Value:    value,
			Data:     tx.Data,
		}), nil
	default:
		return nil, fmt.Errorf("transaction %s has no fee", tx.ID)
	}
}
