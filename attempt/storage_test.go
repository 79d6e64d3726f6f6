package attempt

import (
	"context"
	"math/big"
	"testing"

	"github.com/alicebob/miniredis/v2"
	qt "github.com/frankban/quicktest"
	"github.com/redis/go-redis/v9"

	"github.com/vocdoni/txdispatch/types"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Logf("cannot close redis client: %v", err)
		}
	})
	return NewRedisStore(rdb)
}

func TestStoreEmptySlot(t *testing.T) {
	c := qt.New(t)
	store := newTestStore(t)

	got, err := store.Get(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.IsNil)
}

func TestStoreRoundTrip(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	store := newTestStore(t)

	attempt := &types.Attempt{
		TxID:     "tx-1",
		Nonce:    4,
		Index:    2,
		WaitTime: 70,
		Gas:      21000,
		Fee:      types.Fee{GasPrice: big.NewInt(1200000000)},
	}
	c.Assert(store.Save(ctx, attempt), qt.IsNil)

	got, err := store.Get(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(got.TxID, qt.Equals, attempt.TxID)
	c.Assert(got.Nonce, qt.Equals, attempt.Nonce)
	c.Assert(got.Index, qt.Equals, attempt.Index)
	c.Assert(got.Fee.GasPrice.Cmp(attempt.Fee.GasPrice), qt.Equals, 0)

	// The slot is rewritten, not appended.
	attempt.Index = 3
	c.Assert(store.Save(ctx, attempt), qt.IsNil)
	got, err = store.Get(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Index, qt.Equals, 3)
}
