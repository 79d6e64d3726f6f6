package signer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	qt "github.com/frankban/quicktest"
)

// Well-known test vector: this key derives the address below.
const (
	testPrivKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func TestLocalSignerAddress(t *testing.T) {
	c := qt.New(t)

	s, err := NewLocal(testPrivKey)
	c.Assert(err, qt.IsNil)
	c.Assert(s.Address().Hex(), qt.Equals, testAddress)

	// The 0x prefix is tolerated.
	s, err = NewLocal("0x" + testPrivKey)
	c.Assert(err, qt.IsNil)
	c.Assert(s.Address().Hex(), qt.Equals, testAddress)
}

func TestLocalSignerRejectsGarbage(t *testing.T) {
	c := qt.New(t)

	_, err := NewLocal("zz")
	c.Assert(err, qt.IsNotNil)
}

func TestLocalSignerSignTx(t *testing.T) {
	c := qt.New(t)
	chainID := big.NewInt(31337)

	s, err := NewLocal(testPrivKey)
	c.Assert(err, qt.IsNil)

	to := common.HexToAddress("0x0000000000000000000000000000000000005f4e")
	tx := gtypes.NewTx(&gtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     1,
		GasTipCap: big.NewInt(2_000_000_000),
		GasFeeCap: big.NewInt(150_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(9),
	})
	signed, err := s.SignTx(context.Background(), tx, chainID)
	c.Assert(err, qt.IsNil)

	// The recovered sender must be the signer address.
	sender, err := gtypes.Sender(gtypes.LatestSignerForChainID(chainID), signed)
	c.Assert(err, qt.IsNil)
	c.Assert(sender.Hex(), qt.Equals, testAddress)
}

func TestIsUnreachable(t *testing.T) {
	c := qt.New(t)

	urlErr := &url.Error{Op: "Post", URL: "https://signer", Err: errors.New("connection refused")}
	c.Assert(IsUnreachable(classifyTransport(urlErr)), qt.IsTrue)

	var netErr net.Error = &net.OpError{Op: "dial", Err: errors.New("timeout")}
	c.Assert(IsUnreachable(classifyTransport(netErr)), qt.IsTrue)

	c.Assert(IsUnreachable(classifyTransport(context.DeadlineExceeded)), qt.IsTrue)

	refusal := classifyTransport(errors.New("key not found"))
	c.Assert(IsUnreachable(refusal), qt.IsFalse)

	wrapped := fmt.Errorf("send: %w", classifyTransport(urlErr))
	c.Assert(IsUnreachable(wrapped), qt.IsTrue)

	c.Assert(classifyTransport(nil), qt.IsNil)
}
