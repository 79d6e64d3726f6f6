package attempt

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/txdispatch/types"
)

func newV1Manager(e *fakeEth) (*ManagerV1, *memStore) {
	store := &memStore{}
	mgr := NewV1(e, store, common.HexToAddress("0x00000000000000000000000000000000000000aa"), V1Options{
		BaseWaitingTime:        30,
		MaxGasPrice:            big.NewInt(1_000_000_000_000),
		MinGasPriceInc:         big.NewInt(1000),
		GasPriceIncPercent:     10,
		GradGasPriceIncPercent: 2,
	})
	return mgr, store
}

func TestV1MakeInitial(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := &fakeEth{nonce: 5, avgGasPrice: big.NewInt(1_000_000_000), balance: big.NewInt(1e18), gas: 21000}
	mgr, _ := newV1Manager(e)

	tx := newManagerTx("tx-a")
	c.Assert(mgr.Make(ctx, tx), qt.IsNil)

	current := mgr.Current()
	c.Assert(current, qt.IsNotNil)
	c.Assert(current.TxID, qt.Equals, "tx-a")
	c.Assert(current.Nonce, qt.Equals, uint64(5))
	c.Assert(current.Index, qt.Equals, 1)
	c.Assert(current.WaitTime, qt.Equals, 30)
	c.Assert(current.Fee.GasPrice.Int64(), qt.Equals, int64(1_000_000_000))
	c.Assert(*tx.Nonce, qt.Equals, uint64(5))
	c.Assert(*tx.Gas, qt.Equals, uint64(21000))
	c.Assert(tx.Fee.GasPrice.Cmp(current.Fee.GasPrice), qt.Equals, 0)
}

func TestV1MakeRetryBumpsFee(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := &fakeEth{nonce: 5, avgGasPrice: big.NewInt(1_000_000_000), balance: big.NewInt(1e18), gas: 21000}
	mgr, _ := newV1Manager(e)

	tx := newManagerTx("tx-a")
	c.Assert(mgr.Make(ctx, tx), qt.IsNil)
	c.Assert(mgr.Make(ctx, tx), qt.IsNil)

	current := mgr.Current()
	c.Assert(current.Index, qt.Equals, 2)
	// +10% over the last attempt, still above the average floor.
	c.Assert(current.Fee.GasPrice.Int64(), qt.Equals, int64(1_100_000_000))
	// Quadratic backoff: 30 + 10*2².
	c.Assert(current.WaitTime, qt.Equals, 70)
}

func TestV1NonceAdvanceResetsIndex(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := &fakeEth{nonce: 5, avgGasPrice: big.NewInt(1_000_000_000), balance: big.NewInt(1e18), gas: 21000}
	mgr, _ := newV1Manager(e)

	tx := newManagerTx("tx-a")
	c.Assert(mgr.Make(ctx, tx), qt.IsNil)
	c.Assert(mgr.Make(ctx, tx), qt.IsNil)
	c.Assert(mgr.Current().Index, qt.Equals, 2)

	// Another transaction took the slot: the attempt series restarts.
	e.nonce = 6
	c.Assert(mgr.Make(ctx, tx), qt.IsNil)
	current := mgr.Current()
	c.Assert(current.Index, qt.Equals, 1)
	c.Assert(current.Nonce, qt.Equals, uint64(6))
	c.Assert(current.Fee.GasPrice.Int64(), qt.Equals, int64(1_000_000_000))
}

func TestV1MakeSaturatesAtMax(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := &fakeEth{nonce: 5, avgGasPrice: big.NewInt(1_000_000_000), balance: big.NewInt(1e18), gas: 21000}
	mgr, store := newV1Manager(e)

	store.attempt = &types.Attempt{
		TxID:  "tx-a",
		Nonce: 5,
		Index: 9,
		Fee:   types.Fee{GasPrice: big.NewInt(999_999_999_999)},
	}
	c.Assert(mgr.Fetch(ctx), qt.IsNil)

	tx := newManagerTx("tx-a")
	c.Assert(mgr.Make(ctx, tx), qt.IsNil)
	c.Assert(mgr.Current().Fee.GasPrice.Int64(), qt.Equals, int64(1_000_000_000_000))
}

func TestV1Replace(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := &fakeEth{nonce: 5, avgGasPrice: big.NewInt(1_000_000_000), balance: big.NewInt(1e18), gas: 21000}
	mgr, _ := newV1Manager(e)

	tx := newManagerTx("tx-a")
	c.Assert(mgr.Make(ctx, tx), qt.IsNil)
	indexBefore := mgr.Current().Index

	c.Assert(mgr.Replace(ctx, tx, 0), qt.IsNil)
	// +2% gradual bump, index untouched.
	c.Assert(tx.Fee.GasPrice.Int64(), qt.Equals, int64(1_020_000_000))
	c.Assert(mgr.Current().Fee.GasPrice.Cmp(tx.Fee.GasPrice), qt.Equals, 0)
	c.Assert(mgr.Current().Index, qt.Equals, indexBefore)
}

func TestV1ReplaceWithoutAttempt(t *testing.T) {
	c := qt.New(t)
	e := &fakeEth{nonce: 5, avgGasPrice: big.NewInt(1_000_000_000), balance: big.NewInt(1e18), gas: 21000}
	mgr, _ := newV1Manager(e)

	tx := newManagerTx("tx-a")
	c.Assert(mgr.Replace(context.Background(), tx, 0), qt.ErrorIs, ErrNoCurrentAttempt)
}

func TestV1SaveIsNoopWithoutCurrent(t *testing.T) {
	c := qt.New(t)
	e := &fakeEth{nonce: 5, avgGasPrice: big.NewInt(1_000_000_000), balance: big.NewInt(1e18), gas: 21000}
	mgr, store := newV1Manager(e)

	c.Assert(mgr.Save(context.Background()), qt.IsNil)
	c.Assert(store.attempt, qt.IsNil)
}
