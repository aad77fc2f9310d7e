package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of daemon
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// IdentityKeyKey is the hex-encoded secp256k1 private key identifying the
	// node on the network. An ephemeral key is generated when unset.
	IdentityKeyKey = "IDENTITY_KEY"
	// BaseAssetKey is the base asset of the market served by the node
	BaseAssetKey = "BASE_ASSET"
	// QuoteAssetKey is the quote asset of the market served by the node
	QuoteAssetKey = "QUOTE_ASSET"
	// CommitmentAssetKey is the asset commitments and fees are denominated in
	CommitmentAssetKey = "COMMITMENT_ASSET"
	// CommitmentAmountKey is the escrow deposit required per swap, in minor units
	CommitmentAmountKey = "COMMITMENT_AMOUNT"
	// FeeRateBpsKey is the service fee claimed out of completed swaps, in basis points
	FeeRateBpsKey = "FEE_RATE_BPS"
	// MaxRefundRetriesKey caps transfer attempts per queued refund before it is parked
	MaxRefundRetriesKey = "MAX_REFUND_RETRIES"
	// AdvertiseIntervalKey is the interval in seconds between service advertisements
	AdvertiseIntervalKey = "ADVERTISE_INTERVAL"
	// BrokerTypeKey switches the message transport between those supported
	BrokerTypeKey = "BROKER_TYPE"
	// BrokerAddrKey is the websocket endpoint of the external broker, ie. ws://host:port/ws
	BrokerAddrKey = "BROKER_ADDR"
	// DBTypeKey is used to switch database type between those supported
	DBTypeKey = "DB_TYPE"
	// EnableProfilerKey enables profiler that can be used to investigate performance issues
	EnableProfilerKey = "ENABLE_PROFILER"
	// StatsIntervalKey defines interval for printing basic daemon statistics
	StatsIntervalKey = "STATS_INTERVAL"

	// BrokerInproc runs commitment service and trading node over an in-process hub.
	BrokerInproc = "inproc"
	// BrokerWs connects to an external websocket broker endpoint.
	BrokerWs = "ws"

	// DBBadger persists trade history on disk.
	DBBadger = "badger"
	// DBInMemory keeps trade history in memory only.
	DBInMemory = "inmemory"

	DbLocation       = "db"
	ProfilerLocation = "stats"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("swapmesh-daemon", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("SWAPMESH")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(BaseAssetKey, "base")
	vip.SetDefault(QuoteAssetKey, "quote")
	vip.SetDefault(CommitmentAssetKey, "commitment")
	vip.SetDefault(CommitmentAmountKey, 1000)
	vip.SetDefault(FeeRateBpsKey, 100)
	vip.SetDefault(MaxRefundRetriesKey, 5)
	vip.SetDefault(AdvertiseIntervalKey, 30)
	vip.SetDefault(BrokerTypeKey, BrokerInproc)
	vip.SetDefault(DBTypeKey, DBBadger)
	vip.SetDefault(EnableProfilerKey, false)
	vip.SetDefault(StatsIntervalKey, 600)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetUint32(key string) uint32 {
	return vip.GetUint32(key)
}

func GetUint64(key string) uint64 {
	return vip.GetUint64(key)
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if base, quote := GetString(BaseAssetKey), GetString(QuoteAssetKey); base == quote {
		return fmt.Errorf("base and quote asset must differ")
	}

	if GetUint64(CommitmentAmountKey) == 0 {
		return fmt.Errorf("%s must be positive", CommitmentAmountKey)
	}

	if GetUint32(FeeRateBpsKey) >= 10000 {
		return fmt.Errorf("%s must be below 10000", FeeRateBpsKey)
	}

	switch brokerType := GetString(BrokerTypeKey); brokerType {
	case BrokerInproc:
	case BrokerWs:
		if len(GetString(BrokerAddrKey)) <= 0 {
			return fmt.Errorf("%s requires %s", BrokerWs, BrokerAddrKey)
		}
	default:
		return fmt.Errorf("unsupported broker type %s", brokerType)
	}

	if dbType := GetString(DBTypeKey); dbType != DBBadger && dbType != DBInMemory {
		return fmt.Errorf("unsupported db type %s", dbType)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}

	profilerEnabled := GetBool(EnableProfilerKey)
	if profilerEnabled {
		if err := makeDirectoryIfNotExists(filepath.Join(datadir, ProfilerLocation)); err != nil {
			return err
		}
	}
	return nil
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
