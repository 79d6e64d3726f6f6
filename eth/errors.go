package eth

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrBlockTimeout is returned when the requested number of blocks did
	// not mine within the window.
	ErrBlockTimeout = errors.New("blocks were not mined within the window")
	// ErrReceiptTimeout is returned when no receipt appeared within the
	// window.
	ErrReceiptTimeout = errors.New("no receipt within the window")
)

// EstimateGasRevertError marks a gas estimation that failed because the call
// itself reverts, as opposed to a transport problem. The processor applies
// the drop policy on it.
type EstimateGasRevertError struct {
	Err error
}

func (e *EstimateGasRevertError) Error() string {
	return "gas estimation reverted: " + e.Err.Error()
}

func (e *EstimateGasRevertError) Unwrap() error {
	return e.Err
}

// estimateRevertCodes are the JSON-RPC error codes nodes answer estimateGas
// with when the call reverts rather than when the transport fails.
var estimateRevertCodes = map[int]bool{
	-32601: true,
	-32603: true,
}

// isEstimateRevert classifies a raw estimateGas error. Contract-logic
// failures surface either with one of the known codes, with attached revert
// data, or with an execution-reverted message.
func isEstimateRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && estimateRevertCodes[rpcErr.ErrorCode()] {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// IsEstimateGasRevert reports whether err is a classified estimation revert.
func IsEstimateGasRevert(err error) bool {
	var revert *EstimateGasRevertError
	return errors.As(err, &revert)
}

// IsReplacementUnderpriced reports whether the node refused a resubmission
// because its fee does not displace the previous mempool entry. Pure
// function of the raw RPC error message.
func IsReplacementUnderpriced(err error) bool {
	return err != nil && strings.Contains(err.Error(), "replacement transaction underpriced")
}

// IsNonceTooLow reports whether the node rejected the submission over a
// stale nonce. Pure function of the raw RPC error message.
func IsNonceTooLow(err error) bool {
	return err != nil && strings.Contains(err.Error(), "nonce too low")
}
