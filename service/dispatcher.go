// Package service wires the dispatch pipeline: store, chain client, signer,
// attempt manager and processor, with crash recovery at boot.
package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vocdoni/txdispatch/attempt"
	"github.com/vocdoni/txdispatch/config"
	"github.com/vocdoni/txdispatch/eth"
	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/pool"
	"github.com/vocdoni/txdispatch/processor"
	"github.com/vocdoni/txdispatch/signer"
)

// DispatcherService owns the running pipeline.
type DispatcherService struct {
	Pool      *pool.TxPool
	Eth       *eth.Client
	Signer    signer.Signer
	Manager   attempt.Manager
	Processor *processor.Processor

	rdb *redis.Client
}

// New builds the pipeline from configuration. The signer variant follows
// the available key material (remote SGX wins over a local key) and the
// pricing policy follows the chain: EIP-1559 when the node serves a fee
// history with a base fee, legacy otherwise.
func New(ctx context.Context, cfg *config.Config) (*DispatcherService, error) {
	// Hosts handling key material never appear in logs in clear form.
	log.RedactHosts(cfg.SgxURL, cfg.Endpoint)

	redisOpts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	ethcli, err := eth.Dial(ctx, cfg.Endpoint, eth.Options{
		AvgGasPriceIncPercent:  cfg.AvgGasPriceIncPercent,
		TargetRewardPercentile: cfg.TargetRewardPercentile,
		DisableGasEstimation:   cfg.DisableGasEstimation,
		DefaultGasLimit:        cfg.DefaultGasLimit,
	})
	if err != nil {
		return nil, err
	}
	log.Infow("connected to node", "chainId", ethcli.ChainID().String())

	var sig signer.Signer
	if cfg.SgxURL != "" {
		sig, err = signer.NewSgx(ctx, cfg.SgxURL, cfg.NodeDataPath)
	} else {
		sig, err = signer.NewLocal(cfg.EthPrivateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("init signer: %w", err)
	}
	log.Infow("signer initialized", "address", sig.Address().Hex())

	store := attempt.NewRedisStore(rdb)
	mgr := selectManager(ctx, ethcli, store, sig, cfg)
	// Recover the last on-wire attempt so a restart continues from the
	// nonce and fee it last used.
	if err := mgr.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("recover last attempt: %w", err)
	}
	if current := mgr.Current(); current != nil {
		log.Infow("recovered last attempt", "tx", current.TxID,
			"nonce", current.Nonce, "index", current.Index)
	}

	txpool := pool.New(rdb, pool.Options{
		RecordTTL:         cfg.TxRecordExpiration,
		MaxSize:           cfg.MaxTxCap,
		IDLen:             cfg.IDLen,
		DefaultMultiplier: cfg.GasMultiplier,
	})

	proc := processor.New(ethcli, txpool, sig, mgr, processor.Config{
		MaxResubmitAmount:  cfg.MaxResubmitAmount,
		UnderpricedRetries: cfg.UnderpricedRetries,
		ConfirmationBlocks: cfg.ConfirmationBlocks,
		MaxWaitingTime:     cfg.MaxWaitingTime,
		RestartTimeout:     cfg.RestartTimeout,
		IMAIDSuffix:        cfg.IMAIDSuffix,
	})

	return &DispatcherService{
		Pool:      txpool,
		Eth:       ethcli,
		Signer:    sig,
		Manager:   mgr,
		Processor: proc,
		rdb:       rdb,
	}, nil
}

// selectManager picks the pricing policy the chain supports.
func selectManager(ctx context.Context, ethcli *eth.Client, store attempt.Store, sig signer.Signer, cfg *config.Config) attempt.Manager {
	estimate, err := ethcli.FeeHistory(ctx)
	if err == nil && estimate.BaseFee != nil && estimate.BaseFee.Sign() > 0 {
		log.Infow("using EIP-1559 attempt pricing", "estimatedBaseFee", estimate.BaseFee.String())
		return attempt.NewV2(ethcli, store, sig.Address(), attempt.V2Options{
			BaseWaitingTime:          cfg.BaseWaitingTime,
			MinPriorityFee:           cfg.MinPriorityFee,
			MaxFeeValue:              cfg.MaxFeeValue,
			FeeIncPercent:            cfg.FeeIncPercent,
			MinFeeIncPercent:         cfg.MinFeeIncPercent,
			BaseFeeAdjustmentPercent: cfg.BaseFeeAdjustmentPercent,
			HardReplaceStartIndex:    cfg.HardReplaceStartIndex,
			HardReplaceTipOffset:     cfg.HardReplaceTipOffset,
		})
	}
	log.Infow("node serves no base fee, using legacy attempt pricing")
	return attempt.NewV1(ethcli, store, sig.Address(), attempt.V1Options{
		BaseWaitingTime:        cfg.BaseWaitingTime,
		MaxGasPrice:            cfg.MaxGasPrice,
		MinGasPriceInc:         cfg.MinGasPriceInc,
		GasPriceIncPercent:     cfg.GasPriceIncPercent,
		GradGasPriceIncPercent: cfg.GradGasPriceIncPercent,
	})
}

// Run drives the processor until ctx is cancelled.
func (s *DispatcherService) Run(ctx context.Context) error {
	return s.Processor.Run(ctx)
}

// Close releases the shared clients.
func (s *DispatcherService) Close() {
	s.Eth.Close()
	if err := s.rdb.Close(); err != nil {
		log.Warnw("cannot close redis client", "error", err)
	}
}
