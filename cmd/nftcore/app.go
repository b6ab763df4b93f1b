package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/bws-projects/bws-api-nft-zk/internal/chain"
	"github.com/bws-projects/bws-api-nft-zk/internal/config"
	"github.com/bws-projects/bws-api-nft-zk/internal/dispatcher"
	"github.com/bws-projects/bws-api-nft-zk/internal/events"
	"github.com/bws-projects/bws-api-nft-zk/internal/gas"
	"github.com/bws-projects/bws-api-nft-zk/internal/jobstore"
	"github.com/bws-projects/bws-api-nft-zk/internal/pinning"
	"github.com/bws-projects/bws-api-nft-zk/internal/pricing"
)

const fakeContentID = "QmLocalDevelopmentContentIdentifier00000000000"

// app is the wired process: one store, one publisher, one dispatcher.
type app struct {
	store      jobstore.Store
	dispatcher *dispatcher.Dispatcher
	closers    []func()
}

func buildApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	a := &app{}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = store
	if pg, ok := store.(*jobstore.PostgresStore); ok {
		a.closers = append(a.closers, pg.Close)
	}

	var publisher events.Publisher = events.LogPublisher{}
	if len(cfg.Events.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := kp.Close(); err != nil {
				log.Warn().Err(err).Msg("close kafka publisher")
			}
		})
		publisher = kp
	}

	var (
		connector chain.Connector = chain.EthConnector{}
		pinner    pinning.Pinner  = pinning.NewPinataClient(cfg.Service.PinTimeout)
	)
	if cfg.Service.ChainFake {
		log.Warn().Msg("using in-memory chain and pinning fakes")
		connector = chain.FakeConnector{Chain: chain.NewFake()}
		pinner = &pinning.Fake{ContentID: fakeContentID}
	}

	a.dispatcher = dispatcher.New(dispatcher.Deps{
		Configs:     config.NewFileResolver(cfg.Resolver),
		Connector:   connector,
		Jobs:        store,
		Gas:         gas.NewEngine(pricing.NewCoinbaseOracle(cfg.Pricing.CoinbaseURL, cfg.Pricing.HTTPTimeout)),
		Pinner:      pinner,
		Publisher:   publisher,
		Environment: cfg.Service.Environment,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (jobstore.Store, error) {
	switch cfg.Backend {
	case "memory":
		return jobstore.NewMemoryStore(), nil
	case "postgres":
		store, err := jobstore.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres job store: %w", err)
		}
		return store, nil
	default:
		store, err := jobstore.NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("file job store: %w", err)
		}
		return store, nil
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
