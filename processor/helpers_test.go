package processor

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"

	"github.com/vocdoni/txdispatch/attempt"
	"github.com/vocdoni/txdispatch/eth"
	"github.com/vocdoni/txdispatch/pool"
	"github.com/vocdoni/txdispatch/signer"
	"github.com/vocdoni/txdispatch/types"
)

const (
	testPrivKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testChainID = int64(31337)
)

// fakeEth is a canned chain for the processor tests. It satisfies both the
// processor and the attempt manager chain surfaces.
type fakeEth struct {
	chainID     *big.Int
	nonce       uint64
	balance     *big.Int
	avgGasPrice *big.Int
	estimate    *eth.FeeEstimate
	gas         uint64
	gasErr      error

	// sendErrs are consumed one per SendTx call; a nil entry means success.
	sendErrs  []error
	sendCount int
	// mineOnSend marks every accepted hash as mined with status 1.
	mineOnSend bool
	statuses   map[string]int64

	blockWaitErr error
}

func newFakeEth() *fakeEth {
	return &fakeEth{
		chainID:     big.NewInt(testChainID),
		nonce:       5,
		balance:     new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		avgGasPrice: big.NewInt(1_000_000_000),
		estimate: &eth.FeeEstimate{
			BaseFee: big.NewInt(100_000_000_000),
			Tip:     big.NewInt(2_000_000_000),
		},
		gas:      21000,
		statuses: map[string]int64{},
	}
}

func (f *fakeEth) ChainID() *big.Int {
	return new(big.Int).Set(f.chainID)
}

func (f *fakeEth) Nonce(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeEth) Balance(context.Context, common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeEth) AvgGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.avgGasPrice), nil
}

func (f *fakeEth) FeeHistory(context.Context) (*eth.FeeEstimate, error) {
	return &eth.FeeEstimate{
		BaseFee: new(big.Int).Set(f.estimate.BaseFee),
		Tip:     new(big.Int).Set(f.estimate.Tip),
	}, nil
}

func (f *fakeEth) CalculateGas(context.Context, *types.Tx, common.Address) (uint64, error) {
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	return f.gas, nil
}

func (f *fakeEth) SendTx(_ context.Context, signed *gtypes.Transaction) (string, error) {
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sendCount++
	hash := signed.Hash().Hex()
	if f.mineOnSend {
		f.statuses[hash] = 1
	}
	return hash, nil
}

func (f *fakeEth) Status(_ context.Context, hash string) (int64, error) {
	status, ok := f.statuses[hash]
	if !ok {
		return -1, nil
	}
	return status, nil
}

func (f *fakeEth) WaitForReceipt(_ context.Context, hash string, maxTime time.Duration) (int64, error) {
	if status, ok := f.statuses[hash]; ok {
		return status, nil
	}
	return -1, fmt.Errorf("%w: %s after %s", eth.ErrReceiptTimeout, hash, maxTime)
}

func (f *fakeEth) WaitForBlocks(context.Context, int, time.Duration) error {
	return f.blockWaitErr
}

// memStore keeps the attempt slot in memory.
type memStore struct {
	attempt *types.Attempt
}

func (s *memStore) Get(context.Context) (*types.Attempt, error) {
	return s.attempt, nil
}

func (s *memStore) Save(_ context.Context, attempt *types.Attempt) error {
	s.attempt = attempt
	return nil
}

// failingSigner always fails the same way.
type failingSigner struct {
	err error
}

func (s *failingSigner) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (s *failingSigner) SignTx(context.Context, *gtypes.Transaction, *big.Int) (*gtypes.Transaction, error) {
	return nil, s.err
}

type harness struct {
	eth   *fakeEth
	pool  *pool.TxPool
	store *memStore
	mgr   attempt.Manager
	proc  *Processor
}

// newHarness wires a processor over miniredis with the legacy pricing
// policy and a real local signer.
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Logf("cannot close redis client: %v", err)
		}
	})
	fake := newFakeEth()
	sig, err := signer.NewLocal(testPrivKey)
	if err != nil {
		t.Fatalf("cannot create signer: %v", err)
	}
	store := &memStore{}
	mgr := attempt.NewV1(fake, store, sig.Address(), attempt.V1Options{
		BaseWaitingTime:        30,
		MaxGasPrice:            big.NewInt(1_000_000_000_000),
		MinGasPriceInc:         big.NewInt(1000),
		GasPriceIncPercent:     10,
		GradGasPriceIncPercent: 2,
	})
	txpool := pool.New(rdb, pool.Options{RecordTTL: time.Hour})
	return &harness{
		eth:   fake,
		pool:  txpool,
		store: store,
		mgr:   mgr,
		proc:  New(fake, txpool, sig, mgr, cfg),
	}
}

func defaultConfig() Config {
	return Config{
		MaxResubmitAmount:  10,
		UnderpricedRetries: 5,
		ConfirmationBlocks: 2,
		MaxWaitingTime:     time.Second,
		RestartTimeout:     time.Millisecond,
		IMAIDSuffix:        "js",
	}
}

func enqueueTx(t *testing.T, h *harness, id string, priority int64) *types.Tx {
	t.Helper()
	gas := uint64(200000)
	tx := &types.Tx{
		ID:     id,
		Status: types.TxStatusProposed,
		To:     common.HexToAddress("0x0000000000000000000000000000000000005f4e"),
		Value:  big.NewInt(9),
		Gas:    &gas,
	}
	tx.Score = pool.ComposeScore(priority, time.Now())
	if err := h.pool.Add(context.Background(), id, tx.Score, tx.Bytes()); err != nil {
		t.Fatalf("cannot enqueue tx: %v", err)
	}
	return tx
}
