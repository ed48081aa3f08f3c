package svc

import (
	"context"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"xledger/internal/application/container"
	"xledger/internal/application/port"
	"xledger/internal/application/service"
	"xledger/internal/infrastructure/config"
	"xledger/internal/infrastructure/exchange/kraken"
	"xledger/internal/infrastructure/idgen"
	"xledger/internal/infrastructure/jobs"
	"xledger/internal/infrastructure/storage"
	"xledger/internal/infrastructure/storage/composite"
	postgresrepo "xledger/internal/infrastructure/storage/postgres"
	redisrepo "xledger/internal/infrastructure/storage/redis"
	sqliterepo "xledger/internal/infrastructure/storage/sqlite"
	"xledger/internal/infrastructure/websocket"
)

// Options tweak what New wires beyond the config file.
type Options struct {
	// Sinks receive run snapshots in addition to the websocket hub and Redis.
	Sinks []port.RunEventSink
	// Exchange replaces the configured exchange client.
	Exchange port.ExchangeClient
}

// ServiceContext owns every infrastructure resource of the process and the
// application container built on top of them.
type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	ledger      port.Ledger
	exchange    port.ExchangeClient
	redisClient *redisclient.Client
	redisRepo   *redisrepo.Repo
	runner      *jobs.Runner
	lock        port.RunLock
	hub         *websocket.Hub
	events      *composite.Sink

	container *container.Container

	closeOnce   sync.Once
	closerChain []func() error
}

// New opens storage, connects Redis when enabled, builds the exchange
// client and assembles the application container. On failure every
// resource opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(opts); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents(opts Options) error {
	if err := sc.initLedger(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}
	if err := sc.initExchange(opts.Exchange); err != nil {
		return fmt.Errorf("exchange initialization failed: %w", err)
	}

	sc.runner = jobs.NewRunner(sc.Config.RunRetention())
	sc.closerChain = append(sc.closerChain, sc.runner.Close)

	if sc.redisRepo != nil {
		sc.lock = sc.redisRepo
	} else {
		sc.lock = jobs.NewLocalLock()
	}

	sc.hub = websocket.NewHub()
	sc.closerChain = append(sc.closerChain, sc.hub.Close)
	sc.events = composite.New(sc.hub)
	if sc.redisRepo != nil {
		sc.events.Add(sc.redisRepo)
	}
	for _, s := range opts.Sinks {
		sc.events.Add(s)
	}

	cfg := sc.Config
	sc.container = container.New(container.Deps{
		Account:  cfg.App.Account,
		Quote:    cfg.App.Quote,
		Ledger:   sc.ledger,
		Exchange: sc.exchange,
		Jobs:     sc.runner,
		Lock:     sc.lock,
		Events:   sc.events,
		IDs:      idgen.Generator{},
		Retry: service.RetryPolicy{
			MaxAttempts: cfg.Sync.MaxAttempts,
			BaseDelay:   cfg.BaseDelay(),
			MaxDelay:    cfg.MaxDelay(),
		},
		MaxPages:     cfg.Sync.MaxPages,
		LockTTL:      cfg.LockTTL(),
		RunRetention: cfg.RunRetention(),
		DefaultLimit: cfg.Query.DefaultLimit,
		MaxLimit:     cfg.Query.MaxLimit,
		Parallelism:  cfg.Sync.Parallelism,
	})

	log.Info().
		Str("account", cfg.App.Account).
		Str("driver", cfg.Storage.Driver).
		Bool("redis", sc.redisRepo != nil).
		Bool("exchange", sc.exchange != nil).
		Int("sinks", sc.events.Len()).
		Msg("✓ All components initialized")
	return nil
}

func (sc *ServiceContext) initLedger() error {
	cfg := sc.Config
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		sc.ledger = storage.NewMemory()
	case config.DriverSQLite:
		repo, err := sqliterepo.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite repo creation failed: %w", err)
		}
		sc.ledger = repo
		log.Info().Str("path", cfg.Storage.SQLite.Path).Msg("✓ SQLite initialized")
	case config.DriverPostgres:
		repo, err := postgresrepo.New(cfg.Storage.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres repo creation failed: %w", err)
		}
		sc.ledger = repo
		log.Info().Msg("✓ Postgres initialized")
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	ledger := sc.ledger
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Str("driver", cfg.Storage.Driver).Msg("closing ledger store")
		return ledger.Close()
	})
	return nil
}

func (sc *ServiceContext) initRedis() error {
	rc := sc.Config.Redis
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.redisRepo = redisrepo.New(rdb, rc.Prefix, rc.RunStream, rc.RunChannel)
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", rc.Addr).
		Int("db", rc.DB).
		Msg("✓ Redis initialized")
	return nil
}

func (sc *ServiceContext) initExchange(override port.ExchangeClient) error {
	if override != nil {
		sc.exchange = override
		return nil
	}
	kc := sc.Config.Exchange.Kraken
	if !kc.Enabled {
		log.Warn().Msg("kraken disabled by config, sync unavailable")
		return nil
	}
	client, err := kraken.New(kraken.Config{
		BaseURL:           kc.BaseURL,
		APIKey:            kc.APIKey,
		APISecret:         kc.APISecret,
		RequestsPerSecond: kc.RequestsPerSecond,
		Burst:             kc.Burst,
		Timeout:           sc.Config.KrakenTimeout(),
	})
	if err != nil {
		return err
	}
	sc.exchange = client
	log.Info().Str("base_url", kc.BaseURL).Msg("✓ Kraken client initialized")
	return nil
}

func (sc *ServiceContext) Container() *container.Container {
	return sc.container
}

// SyncService returns ErrNoExchangeConfigured when no exchange is wired.
func (sc *ServiceContext) SyncService() (*service.SyncService, error) {
	s := sc.container.SyncService()
	if s == nil {
		return nil, ErrNoExchangeConfigured
	}
	return s, nil
}

func (sc *ServiceContext) Hub() *websocket.Hub {
	return sc.hub
}

func (sc *ServiceContext) Ledger() port.Ledger {
	return sc.ledger
}

// Close releases resources in reverse order of acquisition. It is safe to
// call more than once.
func (sc *ServiceContext) Close() error {
	sc.closeOnce.Do(func() {
		for i := len(sc.closerChain) - 1; i >= 0; i-- {
			if err := sc.closerChain[i](); err != nil {
				log.Error().Err(err).Msg("error closing resource")
			}
		}
	})
	return nil
}
