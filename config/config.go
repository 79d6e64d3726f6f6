// Package config reads the service tunables from the environment once at
// boot. Every option has a documented default except the signing key
// material: one of SGX_URL or ETH_PRIVATE_KEY must be present.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/viper"
)

// Defaults for every recognized environment option. Fee values are in wei.
const (
	DefaultRedisURI     = "redis://@127.0.0.1:6379"
	DefaultEndpoint     = "http://127.0.0.1:8545"
	DefaultNodeDataPath = "/skale_node_data"

	DefaultGasMultiplier      = 1.2
	DefaultRestartTimeout     = 3 * time.Second
	DefaultBaseWaitingTime    = 30
	DefaultConfirmationBlocks = 2
	DefaultMaxResubmitAmount  = 10
	DefaultMaxWaitingTime     = 500 * time.Second
	DefaultUnderpricedRetries = 5
	DefaultTxRecordExpiration = 24 * time.Hour
	DefaultIDLen              = 19
	DefaultGasLimit           = 1_000_000
	DefaultIMAIDSuffix        = "js"

	DefaultAvgGasPriceIncPercent  = 50
	DefaultMaxGasPrice            = 1_000_000_000_000 // 1000 gwei
	DefaultGasPriceIncPercent     = 10
	DefaultGradGasPriceIncPercent = 2
	DefaultMinGasPriceInc         = 1_000_000_000 // 1 gwei

	DefaultBaseFeeAdjustmentPercent = 50
	DefaultTargetRewardPercentile   = 60
	DefaultMinPriorityFee           = 1_000_000_000 // 1 gwei
	DefaultFeeIncPercent            = 12
	DefaultMaxFeeValue              = 1_000_000_000_000 // 1000 gwei
	DefaultMinFeeIncPercent         = 5
	DefaultMaxTxCap                 = 1000
	DefaultHardReplaceStartIndex    = 3
	DefaultHardReplaceTipOffset     = 1_000_000_000 // 1 gwei
)

// Config holds the typed service configuration.
type Config struct {
	RedisURI      string
	SgxURL        string
	EthPrivateKey string
	Endpoint      string
	NodeDataPath  string

	GasMultiplier      float64
	RestartTimeout     time.Duration
	BaseWaitingTime    int
	ConfirmationBlocks int
	MaxResubmitAmount  int
	MaxWaitingTime     time.Duration
	UnderpricedRetries int

	DisableGasEstimation bool
	TxRecordExpiration   time.Duration
	IDLen                int
	DefaultGasLimit      uint64
	IMAIDSuffix          string

	AvgGasPriceIncPercent  int
	MaxGasPrice            *big.Int
	GasPriceIncPercent     int
	GradGasPriceIncPercent int
	MinGasPriceInc         *big.Int

	BaseFeeAdjustmentPercent int
	TargetRewardPercentile   int
	MinPriorityFee           *big.Int
	FeeIncPercent            int
	MaxFeeValue              *big.Int
	MinFeeIncPercent         int
	MaxTxCap                 int
	HardReplaceStartIndex    int
	HardReplaceTipOffset     *big.Int
}

// Load reads the environment into a Config. It fails when neither SGX_URL
// nor ETH_PRIVATE_KEY is set, since without key material the service cannot
// sign anything.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("REDIS_URI", DefaultRedisURI)
	v.SetDefault("SGX_URL", "")
	v.SetDefault("ETH_PRIVATE_KEY", "")
	v.SetDefault("ENDPOINT", DefaultEndpoint)
	v.SetDefault("NODE_DATA_PATH", DefaultNodeDataPath)
	v.SetDefault("GAS_MULTIPLIER", DefaultGasMultiplier)
	v.SetDefault("RESTART_TIMEOUT", int(DefaultRestartTimeout/time.Second))
	v.SetDefault("BASE_WAITING_TIME", DefaultBaseWaitingTime)
	v.SetDefault("CONFIRMATION_BLOCKS", DefaultConfirmationBlocks)
	v.SetDefault("MAX_RESUBMIT_AMOUNT", DefaultMaxResubmitAmount)
	v.SetDefault("MAX_WAITING_TIME", int(DefaultMaxWaitingTime/time.Second))
	v.SetDefault("UNDERPRICED_RETRIES", DefaultUnderpricedRetries)
	v.SetDefault("DISABLE_GAS_ESTIMATION", false)
	v.SetDefault("TXRECORD_EXPIRATION", int(DefaultTxRecordExpiration/time.Second))
	v.SetDefault("DEFAULT_ID_LEN", DefaultIDLen)
	v.SetDefault("DEFAULT_GAS_LIMIT", DefaultGasLimit)
	v.SetDefault("IMA_ID_SUFFIX", DefaultIMAIDSuffix)
	v.SetDefault("AVG_GAS_PRICE_INC_PERCENT", DefaultAvgGasPriceIncPercent)
	v.SetDefault("MAX_GAS_PRICE", int64(DefaultMaxGasPrice))
	v.SetDefault("GAS_PRICE_INC_PERCENT", DefaultGasPriceIncPercent)
	v.SetDefault("GRAD_GAS_PRICE_INC_PERCENT", DefaultGradGasPriceIncPercent)
	v.SetDefault("MIN_GAS_PRICE_INC_PERCENT", int64(DefaultMinGasPriceInc))
	v.SetDefault("BASE_FEE_ADJUSTMENT_PERCENT", DefaultBaseFeeAdjustmentPercent)
	v.SetDefault("TARGET_REWARD_PERCENTILE", DefaultTargetRewardPercentile)
	v.SetDefault("MIN_PRIORITY_FEE", int64(DefaultMinPriorityFee))
	v.SetDefault("FEE_INC_PERCENT", DefaultFeeIncPercent)
	v.SetDefault("MAX_FEE_VALUE", int64(DefaultMaxFeeValue))
	v.SetDefault("MIN_FEE_INC_PERCENT", DefaultMinFeeIncPercent)
	v.SetDefault("MAX_TX_CAP", DefaultMaxTxCap)
	v.SetDefault("HARD_REPLACE_START_INDEX", DefaultHardReplaceStartIndex)
	v.SetDefault("HARD_REPLACE_TIP_OFFSET", int64(DefaultHardReplaceTipOffset))

	v.AutomaticEnv()

	cfg := &Config{
		RedisURI:      v.GetString("REDIS_URI"),
		SgxURL:        v.GetString("SGX_URL"),
		EthPrivateKey: v.GetString("ETH_PRIVATE_KEY"),
		Endpoint:      v.GetString("ENDPOINT"),
		NodeDataPath:  v.GetString("NODE_DATA_PATH"),

		GasMultiplier:      v.GetFloat64("GAS_MULTIPLIER"),
		RestartTimeout:     time.Duration(v.GetInt("RESTART_TIMEOUT")) * time.Second,
		BaseWaitingTime:    v.GetInt("BASE_WAITING_TIME"),
		ConfirmationBlocks: v.GetInt("CONFIRMATION_BLOCKS"),
		MaxResubmitAmount:  v.GetInt("MAX_RESUBMIT_AMOUNT"),
		MaxWaitingTime:     time.Duration(v.GetInt("MAX_WAITING_TIME")) * time.Second,
		UnderpricedRetries: v.GetInt("UNDERPRICED_RETRIES"),

		DisableGasEstimation: v.GetBool("DISABLE_GAS_ESTIMATION"),
		TxRecordExpiration:   time.Duration(v.GetInt("TXRECORD_EXPIRATION")) * time.Second,
		IDLen:                v.GetInt("DEFAULT_ID_LEN"),
		DefaultGasLimit:      v.GetUint64("DEFAULT_GAS_LIMIT"),
		IMAIDSuffix:          v.GetString("IMA_ID_SUFFIX"),

		AvgGasPriceIncPercent:  v.GetInt("AVG_GAS_PRICE_INC_PERCENT"),
		MaxGasPrice:            big.NewInt(v.GetInt64("MAX_GAS_PRICE")),
		GasPriceIncPercent:     v.GetInt("GAS_PRICE_INC_PERCENT"),
		GradGasPriceIncPercent: v.GetInt("GRAD_GAS_PRICE_INC_PERCENT"),
		MinGasPriceInc:         big.NewInt(v.GetInt64("MIN_GAS_PRICE_INC_PERCENT")),

		BaseFeeAdjustmentPercent: v.GetInt("BASE_FEE_ADJUSTMENT_PERCENT"),
		TargetRewardPercentile:   v.GetInt("TARGET_REWARD_PERCENTILE"),
		MinPriorityFee:           big.NewInt(v.GetInt64("MIN_PRIORITY_FEE")),
		FeeIncPercent:            v.GetInt("FEE_INC_PERCENT"),
		MaxFeeValue:              big.NewInt(v.GetInt64("MAX_FEE_VALUE")),
		MinFeeIncPercent:         v.GetInt("MIN_FEE_INC_PERCENT"),
		MaxTxCap:                 v.GetInt("MAX_TX_CAP"),
		HardReplaceStartIndex:    v.GetInt("HARD_REPLACE_START_INDEX"),
		HardReplaceTipOffset:     big.NewInt(v.GetInt64("HARD_REPLACE_TIP_OFFSET")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the service relies on.
func (c *Config) Validate() error {
	if c.SgxURL == "" && c.EthPrivateKey == "" {
		return fmt.Errorf("no key material: one of SGX_URL or ETH_PRIVATE_KEY must be set")
	}
	if c.GasMultiplier <= 0 {
		return fmt.Errorf("GAS_MULTIPLIER must be positive, got %f", c.GasMultiplier)
	}
	if c.MaxResubmitAmount < 1 {
		return fmt.Errorf("MAX_RESUBMIT_AMOUNT must be at least 1, got %d", c.MaxResubmitAmount)
	}
	if c.UnderpricedRetries < 1 {
		return fmt.Errorf("UNDERPRICED_RETRIES must be at least 1, got %d", c.UnderpricedRetries)
	}
	return nil
}
