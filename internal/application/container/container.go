package container

import (
	"time"

	"xledger/internal/application/port"
	"xledger/internal/application/service"
	domainservice "xledger/internal/domain/service"
)

// Deps are the ports and settings the application services are built from.
type Deps struct {
	Account  string
	Quote    string
	Ledger   port.Ledger
	Exchange port.ExchangeClient
	Jobs     port.JobRunner
	Lock     port.RunLock
	Events   port.RunEventSink
	IDs      port.IDGenerator

	Retry        service.RetryPolicy
	MaxPages     int
	LockTTL      time.Duration
	RunRetention time.Duration
	DefaultLimit int
	MaxLimit     int
	Parallelism  int
}

// Container builds application services lazily and shares them.
type Container struct {
	deps Deps

	ingestor         *service.Ingestor
	queryService     *service.QueryService
	reconcileService *service.ReconcileService
	transferService  *service.TransferService
	orchestrator     *service.SyncOrchestrator
	syncService      *service.SyncService
}

func New(deps Deps) *Container {
	return &Container{deps: deps}
}

func (c *Container) Ledger() port.Ledger {
	return c.deps.Ledger
}

func (c *Container) Account() string {
	return c.deps.Account
}

func (c *Container) Ingestor() *service.Ingestor {
	if c.ingestor == nil {
		c.ingestor = service.NewIngestor(c.deps.Account, domainservice.NewNormalizer(c.deps.Quote), c.deps.Ledger)
	}
	return c.ingestor
}

func (c *Container) QueryService() *service.QueryService {
	if c.queryService == nil {
		c.queryService = service.NewQueryService(c.deps.Account, c.deps.Quote, c.deps.Ledger, c.deps.DefaultLimit, c.deps.MaxLimit)
	}
	return c.queryService
}

func (c *Container) ReconcileService() *service.ReconcileService {
	if c.reconcileService == nil {
		c.reconcileService = service.NewReconcileService(c.deps.Account, c.deps.Ledger, c.deps.Parallelism)
	}
	return c.reconcileService
}

func (c *Container) TransferService() *service.TransferService {
	if c.transferService == nil {
		c.transferService = service.NewTransferService(c.Ingestor(), c.QueryService())
	}
	return c.transferService
}

func (c *Container) Orchestrator() *service.SyncOrchestrator {
	if c.orchestrator == nil {
		c.orchestrator = service.NewSyncOrchestrator(service.OrchestratorDeps{
			Client:      c.deps.Exchange,
			Ingestor:    c.Ingestor(),
			Checkpoints: c.deps.Ledger,
			Sink:        c.deps.Events,
			Retry:       c.deps.Retry,
			MaxPages:    c.deps.MaxPages,
		})
	}
	return c.orchestrator
}

// SyncService is nil when no exchange client is configured.
func (c *Container) SyncService() *service.SyncService {
	if c.deps.Exchange == nil {
		return nil
	}
	if c.syncService == nil {
		c.syncService = service.NewSyncService(service.SyncServiceDeps{
			Account:      c.deps.Account,
			Orchestrator: c.Orchestrator(),
			Checkpoints:  c.deps.Ledger,
			Jobs:         c.deps.Jobs,
			Lock:         c.deps.Lock,
			IDs:          c.deps.IDs,
			LockTTL:      c.deps.LockTTL,
			Retention:    c.deps.RunRetention,
		})
	}
	return c.syncService
}
