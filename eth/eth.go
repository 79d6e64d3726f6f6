// Package eth is a thin facade over a JSON-RPC Ethereum node. It exposes the
// handful of chain reads and writes the dispatch pipeline needs, plus the
// error classifiers the processor relies on.
package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/types"
)

// receiptPollInterval is the poll frequency of the wait helpers.
const receiptPollInterval = time.Second

// Options tunes the adapter behavior. A zero TargetRewardPercentile falls
// back to 60; every other field is used as given.
type Options struct {
	// AvgGasPriceIncPercent is added on top of the node suggested gas price.
	AvgGasPriceIncPercent int
	// TargetRewardPercentile is the second percentile requested from
	// eth_feeHistory, used as the tip estimate.
	TargetRewardPercentile int
	// DisableGasEstimation skips eth_estimateGas and prices gas from the
	// static hint or the default limit.
	DisableGasEstimation bool
	// DefaultGasLimit is used when estimation is disabled and the request
	// carries no static hint.
	DefaultGasLimit uint64
}

// Client wraps an ethclient connection.
type Client struct {
	cli  *ethclient.Client
	opts Options

	chainID *big.Int
}

// Dial connects to the node at endpoint and caches the chain id.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	cli, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return &Client{cli: cli, opts: opts, chainID: chainID}, nil
}

// NewClient wraps an existing ethclient connection. Used by tests and by
// callers that manage the dial themselves.
func NewClient(cli *ethclient.Client, chainID *big.Int, opts Options) *Client {
	return &Client{cli: cli, opts: opts, chainID: chainID}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.cli.Close()
}

// ChainID returns the cached chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Nonce returns the pending transaction count of addr.
func (c *Client) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	return c.cli.PendingNonceAt(ctx, addr)
}

// Balance returns the latest balance of addr.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return c.cli.BalanceAt(ctx, addr, nil)
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.cli.BlockNumber(ctx)
}

// BlockGasLimit returns the gas limit of the latest block.
func (c *Client) BlockGasLimit(ctx context.Context) (uint64, error) {
	header, err := c.cli.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	return header.GasLimit, nil
}

// AvgGasPrice returns the node suggested gas price increased by the
// configured percentage.
func (c *Client) AvgGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.cli.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	price.Mul(price, big.NewInt(int64(100+c.opts.AvgGasPriceIncPercent)))
	price.Div(price, big.NewInt(100))
	return price, nil
}

// FeeEstimate is the digest of the last block's fee history.
type FeeEstimate struct {
	// BaseFee is the most recent baseFeePerGas.
	BaseFee *big.Int
	// Tip is the reward at the configured target percentile.
	Tip *big.Int
}

// FeeHistory queries the last block's base fee and rewards at the 50th and
// the configured target percentiles, and digests them into a FeeEstimate.
func (c *Client) FeeHistory(ctx context.Context) (*FeeEstimate, error) {
	percentile := c.opts.TargetRewardPercentile
	if percentile == 0 {
		percentile = 60
	}
	history, err := c.cli.FeeHistory(ctx, 1, nil, []float64{50, float64(percentile)})
	if err != nil {
		return nil, fmt.Errorf("fee history: %w", err)
	}
	if len(history.BaseFee) == 0 {
		return nil, fmt.Errorf("fee history: empty base fee list")
	}
	estimate := &FeeEstimate{
		BaseFee: history.BaseFee[len(history.BaseFee)-1],
	}
	if len(history.Reward) > 0 && len(history.Reward[0]) > 1 {
		estimate.Tip = history.Reward[0][1]
	} else {
		estimate.Tip = big.NewInt(0)
	}
	return estimate, nil
}

// CalculateGas prices the gas limit of tx. With estimation disabled the
// static hint (or the default limit) is scaled by the multiplier. Otherwise
// the node estimate is scaled and clamped to the block gas limit. A revert
// from estimation surfaces as EstimateGasRevertError.
func (c *Client) CalculateGas(ctx context.Context, tx *types.Tx, from common.Address) (uint64, error) {
	multiplier := tx.GasMultiplier()
	if c.opts.DisableGasEstimation {
		gas := c.opts.DefaultGasLimit
		if tx.Gas != nil && *tx.Gas > 0 {
			gas = *tx.Gas
		}
		return uint64(float64(gas) * multiplier), nil
	}
	msg := ethereum.CallMsg{
		From:  from,
		To:    &tx.To,
		Value: tx.Value,
		Data:  tx.Data,
	}
	estimated, err := c.cli.EstimateGas(ctx, msg)
	if err != nil {
		if isEstimateRevert(err) {
			return 0, &EstimateGasRevertError{Err: err}
		}
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	gas := uint64(float64(estimated) * multiplier)
	limit, err := c.BlockGasLimit(ctx)
	if err != nil {
		return 0, err
	}
	if gas > limit {
		log.Warnw("scaled gas estimate above block gas limit, clamping",
			"estimated", estimated, "scaled", gas, "blockGasLimit", limit)
		gas = limit
	}
	return gas, nil
}

// SendTx submits a signed transaction and returns its hash. The raw error
// is propagated untouched so callers can classify it.
func (c *Client) SendTx(ctx context.Context, signed *gtypes.Transaction) (string, error) {
	if err := c.cli.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

// Status returns -1 when hash has no receipt yet, otherwise the receipt
// status (0 or 1).
func (c *Client) Status(ctx context.Context, hash string) (int64, error) {
	receipt, err := c.cli.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return -1, nil
		}
		return -1, fmt.Errorf("receipt for %s: %w", hash, err)
	}
	return int64(receipt.Status), nil
}

// WaitForBlocks blocks until amount blocks mine or maxTime elapses, in which
// case it fails with ErrBlockTimeout.
func (c *Client) WaitForBlocks(ctx context.Context, amount int, maxTime time.Duration) error {
	start, err := c.BlockNumber(ctx)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(maxTime)
	for {
		current, err := c.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if current-start >= uint64(amount) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d blocks in %s", ErrBlockTimeout, amount, maxTime)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
}

// WaitForReceipt polls for the receipt of hash at 1 Hz until maxTime, then
// fails with ErrReceiptTimeout.
func (c *Client) WaitForReceipt(ctx context.Context, hash string, maxTime time.Duration) (int64, error) {
	deadline := time.Now().Add(maxTime)
	for {
		status, err := c.Status(ctx, hash)
		if err != nil {
			return -1, err
		}
		if status >= 0 {
			return status, nil
		}
		if time.Now().After(deadline) {
			return -1, fmt.Errorf("%w: %s after %s", ErrReceiptTimeout, hash, maxTime)
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
}
