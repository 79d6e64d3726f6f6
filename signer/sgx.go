package signer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/util"
)

const (
	// nodeConfigFile carries the enrolled key name. It may appear after
	// process start, so initialisation polls for it.
	nodeConfigFile       = "node_config.json"
	nodeConfigPollPeriod = 3 * time.Second

	sgxCertDir     = "sgx_certs"
	sgxCertFile    = "sgx.crt"
	sgxKeyFile     = "sgx.key"
	sgxCallTimeout = 30 * time.Second
)

// SgxSigner signs through a remote SGX enclave over HTTPS with mutual TLS.
type SgxSigner struct {
	url     string
	keyName string
	client  *http.Client
	address common.Address
}

type nodeConfig struct {
	SgxKeyName string `json:"sgx_key_name"`
}

// NewSgx builds a remote signer against the service at sgxURL. The key name
// is read from node_config.json under nodeDataPath, waiting for the file to
// be written by the enrolling node if needed; client TLS material is loaded
// from the sgx_certs directory.
func NewSgx(ctx context.Context, sgxURL, nodeDataPath string) (*SgxSigner, error) {
	keyName, err := waitForKeyName(ctx, filepath.Join(nodeDataPath, nodeConfigFile))
	if err != nil {
		return nil, err
	}
	client, err := newTLSClient(filepath.Join(nodeDataPath, sgxCertDir))
	if err != nil {
		return nil, err
	}
	s := &SgxSigner{
		url:     sgxURL,
		keyName: keyName,
		client:  client,
	}
	if err := s.fetchAddress(ctx); err != nil {
		return nil, err
	}
	log.Infow("sgx signer initialized", "keyName", keyName, "address", s.address.Hex())
	return s, nil
}

// waitForKeyName polls for the node config file until it exists and carries
// a key name. Startup may race with the node enrollment that writes it.
func waitForKeyName(ctx context.Context, path string) (string, error) {
	for {
		data, err := os.ReadFile(path)
		if err == nil {
			var cfg nodeConfig
			if err := json.Unmarshal(data, &cfg); err != nil {
				return "", fmt.Errorf("parse %s: %w", path, err)
			}
			if cfg.SgxKeyName != "" {
				return cfg.SgxKeyName, nil
			}
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		log.Infow("waiting for node config", "path", path)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(nodeConfigPollPeriod):
		}
	}
}

func newTLSClient(certDir string) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(certDir, sgxCertFile),
		filepath.Join(certDir, sgxKeyFile),
	)
	if err != nil {
		return nil, fmt.Errorf("load client certificate from %s: %w", certDir, err)
	}
	pool := x509.NewCertPool()
	if ca, err := os.ReadFile(filepath.Join(certDir, "rootCA.pem")); err == nil {
		pool.AppendCertsFromPEM(ca)
	}
	return &http.Client{
		Timeout: sgxCallTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				RootCAs:      pool,
				// The enclave presents a self-issued certificate; client
				// certs are the authentication mechanism.
				InsecureSkipVerify: true,
			},
		},
	}, nil
}

// Address returns the account controlled by the enclave key.
func (s *SgxSigner) Address() common.Address {
	return s.address
}

// SignTx asks the enclave to sign the envelope hash and assembles the
// signature into the transaction.
func (s *SgxSigner) SignTx(ctx context.Context, tx *gtypes.Transaction, chainID *big.Int) (*gtypes.Transaction, error) {
	gsigner := gtypes.LatestSignerForChainID(chainID)
	hash := gsigner.Hash(tx)
	var result struct {
		SignatureR string `json:"signature_r"`
		SignatureS string `json:"signature_s"`
		SignatureV int64  `json:"signature_v"`
	}
	err := s.call(ctx, "ecdsaSignMessageHash", map[string]any{
		"base":        16,
		"keyName":     s.keyName,
		"messageHash": hash.Hex(),
	}, &result)
	if err != nil {
		return nil, err
	}
	r, ok := new(big.Int).SetString(util.TrimHex(result.SignatureR), 16)
	if !ok {
		return nil, fmt.Errorf("signer: malformed signature r %q", result.SignatureR)
	}
	sv, ok := new(big.Int).SetString(util.TrimHex(result.SignatureS), 16)
	if !ok {
		return nil, fmt.Errorf("signer: malformed signature s %q", result.SignatureS)
	}
	sig := make([]byte, crypto.SignatureLength)
	r.FillBytes(sig[:32])
	sv.FillBytes(sig[32:64])
	sig[64] = byte(result.SignatureV)
	signed, err := tx.WithSignature(gsigner, sig)
	if err != nil {
		return nil, fmt.Errorf("assemble signature: %w", err)
	}
	return signed, nil
}

// fetchAddress derives the account address from the enclave public key.
func (s *SgxSigner) fetchAddress(ctx context.Context) error {
	var result struct {
		PublicKey string `json:"publicKey"`
	}
	if err := s.call(ctx, "getPublicECDSAKey", map[string]any{"keyName": s.keyName}, &result); err != nil {
		return err
	}
	raw := common.FromHex(result.PublicKey)
	if len(raw) == 64 {
		// The enclave returns the key without the uncompressed-point prefix.
		raw = append([]byte{0x04}, raw...)
	}
	pub, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return fmt.Errorf("parse enclave public key: %w", err)
	}
	s.address = crypto.PubkeyToAddress(*pub)
	return nil
}

type rpcRequest struct {
	ID      int    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one JSON-RPC round trip to the enclave. Transport failures
// are classified as UnreachableError.
func (s *SgxSigner) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{ID: 1, JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("cannot close signer response body", "error", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return classifyTransport(fmt.Errorf("unexpected status %s", resp.Status))
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("signer %s failed: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
