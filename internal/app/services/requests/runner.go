package requests

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/servimap/servimap/internal/app/metrics"
	"github.com/servimap/servimap/internal/app/system"
	"github.com/servimap/servimap/pkg/logger"
)

// DefaultSettlementSchedule runs the settlement pass every minute.
const DefaultSettlementSchedule = "@every 1m"

var _ system.Service = (*SettlementRunner)(nil)

// SettlementRunner periodically expires stale offers and settles requests
// whose dispute window closed. Each pass re-drives whatever an earlier pass
// or a crash left behind.
type SettlementRunner struct {
	service  *Service
	log      *logger.Logger
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSettlementRunner creates a lifecycle-managed settlement runner. An empty
// schedule uses DefaultSettlementSchedule.
func NewSettlementRunner(service *Service, schedule string, log *logger.Logger) *SettlementRunner {
	if log == nil {
		log = logger.NewDefault("settlement-runner")
	}
	if schedule == "" {
		schedule = DefaultSettlementSchedule
	}
	return &SettlementRunner{
		service:  service,
		log:      log,
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

func (r *SettlementRunner) Name() string { return "settlement-runner" }

func (r *SettlementRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("settlement schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.running = true

	r.log.WithField("schedule", r.schedule).Info("settlement runner started")
	return nil
}

func (r *SettlementRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("settlement runner stopped")
	return nil
}

// RunOnce performs a single expire-then-settle pass.
func (r *SettlementRunner) RunOnce(ctx context.Context) {
	if r.service == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	now := r.service.now().UTC()
	defer func() { metrics.ObserveSettlementRun(time.Since(start)) }()

	expired, err := r.service.ExpireStale(ctx, now)
	if err != nil {
		r.log.WithError(err).Warn("expire pass failed")
	}
	settled, err := r.service.SettleDue(ctx, now)
	if err != nil {
		r.log.WithError(err).Warn("settlement pass failed")
	}
	if expired > 0 || settled > 0 {
		r.log.WithField("expired", expired).WithField("settled", settled).Info("settlement pass complete")
	}
}
