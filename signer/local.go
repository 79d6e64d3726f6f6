package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vocdoni/txdispatch/util"
)

// LocalSigner signs with an in-process private key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocal builds a signer from a hex-encoded private key.
func NewLocal(privKeyHex string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(util.TrimHex(privKeyHex))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the account derived from the configured key.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignTx signs the envelope in process.
func (s *LocalSigner) SignTx(_ context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	signed, err := gtypes.SignTx(tx, gtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}
