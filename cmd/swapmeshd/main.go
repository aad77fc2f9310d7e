package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/swapmesh-network/swapmesh-daemon/internal/config"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/application"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/ports"
	brokerinproc "github.com/swapmesh-network/swapmesh-daemon/internal/infrastructure/broker/inproc"
	brokerws "github.com/swapmesh-network/swapmesh-daemon/internal/infrastructure/broker/ws"
	paymentinmemory "github.com/swapmesh-network/swapmesh-daemon/internal/infrastructure/payment/inmemory"
	dbbadger "github.com/swapmesh-network/swapmesh-daemon/internal/infrastructure/storage/db/badger"
	dbinmemory "github.com/swapmesh-network/swapmesh-daemon/internal/infrastructure/storage/db/inmemory"
	"github.com/swapmesh-network/swapmesh-daemon/pkg/signer"
	"github.com/swapmesh-network/swapmesh-daemon/pkg/stats"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	keySigner, err := buildSigner()
	if err != nil {
		log.WithError(err).Fatal("cannot build signer")
	}
	verifier := signer.NewVerifier()

	broker, err := buildBroker()
	if err != nil {
		log.WithError(err).Fatal("cannot connect to broker")
	}

	tradeRepo, cleanup, err := buildTradeRepository()
	if err != nil {
		log.WithError(err).Fatal("cannot open trade db")
	}
	defer cleanup()

	// the in-memory ledger stands in for an external payment rail; the
	// commitment service account is funded so it can always serve refunds
	ledger := paymentinmemory.NewLedger()
	payments := paymentinmemory.NewService(ledger, keySigner.Address())

	commitmentSvc := application.NewCommitmentService(application.CommitmentServiceOpts{
		Signer:            keySigner,
		Verifier:          verifier,
		Broker:            broker,
		Payments:          payments,
		CommitmentAsset:   config.GetString(config.CommitmentAssetKey),
		CommitmentAmount:  config.GetUint64(config.CommitmentAmountKey),
		FeeRateBps:        config.GetUint32(config.FeeRateBpsKey),
		MaxRefundAttempts: config.GetInt(config.MaxRefundRetriesKey),
		AdvertiseInterval: time.Duration(config.GetInt(config.AdvertiseIntervalKey)) * time.Second,
	})

	// the daemon also runs a trading node on the same broker: it keeps the
	// live book in sync with the market and records completed trades
	market := domain.Market{
		BaseAsset:  config.GetString(config.BaseAssetKey),
		QuoteAsset: config.GetString(config.QuoteAssetKey),
	}
	tradeSvc := application.NewTradeService(tradeRepo)
	nodeSigner, err := signer.New()
	if err != nil {
		log.WithError(err).Fatal("cannot build trading node signer")
	}
	nodePayments := paymentinmemory.NewService(ledger, nodeSigner.Address())
	commitSvc := application.NewCommitService(application.CommitServiceOpts{
		Signer:           nodeSigner,
		Verifier:         verifier,
		Broker:           broker,
		Payments:         nodePayments,
		CSAddress:        keySigner.Address(),
		Market:           market,
		CommitmentAmount: config.GetUint64(config.CommitmentAmountKey),
	})
	orderSvc := application.NewOrderService(application.OrderServiceOpts{
		Signer:    nodeSigner,
		Verifier:  verifier,
		Broker:    broker,
		Payments:  nodePayments,
		Commits:   commitSvc,
		Trades:    tradeSvc,
		CSAddress: keySigner.Address(),
		Market:    market,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.GetBool(config.EnableProfilerKey) {
		interval := time.Duration(config.GetInt(config.StatsIntervalKey)) * time.Second
		stats.EnableStatistics(
			ctx, filepath.Join(config.GetDatadir(), config.ProfilerLocation), interval,
		)
	}

	commitmentSvc.Start(ctx)
	orderSvc.Start(ctx)
	log.Infof(
		"serving market %s/%s, deposit %d, fee %d bps",
		market.BaseAsset, market.QuoteAsset,
		config.GetUint64(config.CommitmentAmountKey),
		config.GetUint32(config.FeeRateBpsKey),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigChan:
			log.Infof("received signal %s, shutting down", sig)
			cancel()
		case <-groupCtx.Done():
		}
		return nil
	})
	group.Go(func() error {
		commitmentSvc.Wait()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Error("daemon terminated abnormally")
	}
	log.Info("shutdown complete")
}

func buildSigner() (*signer.KeySigner, error) {
	if keyHex := config.GetString(config.IdentityKeyKey); len(keyHex) > 0 {
		return signer.FromHex(keyHex)
	}
	log.Warn("no identity key configured, using an ephemeral one")
	return signer.New()
}

func buildBroker() (ports.MessageBroker, error) {
	if config.GetString(config.BrokerTypeKey) == config.BrokerWs {
		return brokerws.NewService(config.GetString(config.BrokerAddrKey))
	}
	return brokerinproc.NewService(), nil
}

func buildTradeRepository() (domain.TradeRepository, func(), error) {
	if config.GetString(config.DBTypeKey) == config.DBInMemory {
		return dbinmemory.NewTradeRepositoryImpl(), func() {}, nil
	}

	dbDir := filepath.Join(config.GetDatadir(), config.DbLocation)
	dbManager, err := dbbadger.NewDbManager(dbDir, nil)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := dbManager.Close(); err != nil {
			log.WithError(err).Warn("error while closing trade db")
		}
	}
	return dbbadger.NewTradeRepositoryImpl(dbManager), cleanup, nil
}
