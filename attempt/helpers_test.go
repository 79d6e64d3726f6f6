package attempt

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/txdispatch/eth"
	"github.com/vocdoni/txdispatch/types"
)

// fakeEth is a canned chain surface for the manager tests.
type fakeEth struct {
	nonce       uint64
	balance     *big.Int
	avgGasPrice *big.Int
	estimate    *eth.FeeEstimate
	gas         uint64
	gasErr      error
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

func newManagerTx(id string) *types.Tx {
	return &types.Tx{
		ID:         id,
		Status:     types.TxStatusSeen,
		To:         common.HexToAddress("0x0000000000000000000000000000000000005f4e"),
		Value:      big.NewInt(1),
		Multiplier: 1.2,
	}
}
