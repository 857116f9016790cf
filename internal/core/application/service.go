package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const restoreConcurrency = 8

type service struct {
	// services
	repoManager ports.RepoManager
	provider    ports.CustodyProvider
	liveStore   ports.LiveStore
	scheduler   ports.SchedulerService
	notifier    ports.Notifier
	auditStream ports.AuditStream
	metrics     ports.Metrics
	tracer      trace.Tracer
	queue       *executionQueue

	// config
	cfg Config

	// last resync attempt per custody record, throttles resyncs of records the
	// provider has no news for.
	resyncLock *sync.Mutex
	lastResync map[string]time.Time

	// stop and background go routine handlers
	stop func()
	ctx  context.Context
	wg   *sync.WaitGroup
}

// NewService wires the custody engine. notifier, auditStream and metrics are
// optional.
func NewService(
	repoManager ports.RepoManager,
	provider ports.CustodyProvider,
	liveStore ports.LiveStore,
	scheduler ports.SchedulerService,
	notifier ports.Notifier,
	auditStream ports.AuditStream,
	metrics ports.Metrics,
	cfg Config,
) (Service, error) {
	if repoManager == nil {
		return nil, fmt.Errorf("missing repo manager")
	}
	if provider == nil {
		return nil, fmt.Errorf("missing custody provider")
	}
	if liveStore == nil {
		return nil, fmt.Errorf("missing live store")
	}
	if cfg.Monitor.MaxAttempts <= 0 {
		return nil, fmt.Errorf("monitor max attempts must be positive")
	}
	if cfg.Monitor.MaxDelay < cfg.Monitor.InitialDelay {
		return nil, fmt.Errorf("monitor max delay must not be lower than initial delay")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &service{
		repoManager: repoManager,
		provider:    provider,
		liveStore:   liveStore,
		scheduler:   scheduler,
		notifier:    notifier,
		auditStream: auditStream,
		metrics:     metrics,
		tracer:      otel.Tracer("github.com/assetvault/custodyd/application"),
		cfg:         cfg,
		resyncLock:  &sync.Mutex{},
		lastResync:  make(map[string]time.Time),
		stop:        cancel,
		ctx:         ctx,
		wg:          &sync.WaitGroup{},
	}
	svc.queue = newExecutionQueue(cfg.ExecutionWorkers, svc.executeInBackground)
	return svc, nil
}

func (s *service) Start() error {
	log.Debug("starting custody service...")

	if s.scheduler != nil {
		s.scheduler.Start()
		if s.cfg.ResyncInterval > 0 {
			if err := s.scheduler.ScheduleEvery(s.cfg.ResyncInterval, s.resyncSweep); err != nil {
				return fmt.Errorf("failed to schedule resync sweep: %w", err)
			}
		}
	}

	if err := s.restoreMonitors(s.ctx); err != nil {
		return fmt.Errorf("failed to restore monitors: %w", err)
	}

	log.Debug("custody service started")
	return nil
}

func (s *service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		log.Info("scheduler stopped")
	}

	s.stop()
	s.queue.stop()
	s.wg.Wait()
	log.Info("background executions and monitors stopped")

	s.repoManager.Close()
	log.Info("closed connection to db")

	if s.auditStream != nil {
		if err := s.auditStream.Close(); err != nil {
			log.WithError(err).Warn("failed to close audit stream")
		}
	}
}

// restoreMonitors resumes reconciliation of the operations left EXECUTING by a
// previous run.
func (s *service) restoreMonitors(ctx context.Context) error {
	ops, err := s.repoManager.Operations().GetByStatus(ctx, domain.OperationStatusExecuting)
	if err != nil {
		return err
	}
	if len(ops) <= 0 {
		return nil
	}

	log.Infof("restoring %d monitors", len(ops))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(restoreConcurrency)
	for _, op := range ops {
		if op.ExternalTaskId == "" {
			log.Warnf("operation %s is executing without task id, skipping", op.Id)
			continue
		}
		eg.Go(func() error {
			record, err := s.repoManager.CustodyRecords().Get(gctx, op.CustodyRecordId)
			if err != nil {
				return fmt.Errorf("failed to get custody record of operation %s: %w", op.Id, err)
			}
			s.startMonitor(op, *record)
			return nil
		})
	}
	return eg.Wait()
}

type noopMetrics struct{}

func (noopMetrics) OperationTransitioned(string, string) {}
func (noopMetrics) MonitorPolled(string)                 {}
func (noopMetrics) MonitorsActive(int)                   {}
func (noopMetrics) SettlementCompleted(string)           {}
