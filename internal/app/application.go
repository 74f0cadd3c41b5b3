package app

import (
	"context"
	"fmt"

	"github.com/servimap/servimap/internal/app/services/emergency"
	"github.com/servimap/servimap/internal/app/services/moderation"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/services/payments"
	"github.com/servimap/servimap/internal/app/services/providers"
	"github.com/servimap/servimap/internal/app/services/requests"
	"github.com/servimap/servimap/internal/app/services/scheduling"
	"github.com/servimap/servimap/internal/app/services/users"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/app/storage/memory"
	"github.com/servimap/servimap/internal/app/system"
	"github.com/servimap/servimap/internal/catalog"
	"github.com/servimap/servimap/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil Store defaults to the
// in-memory implementation.
type Stores struct {
	Store storage.Store
}

// Options carries the pluggable collaborators and tunables. Zero values fall
// back to in-process defaults.
type Options struct {
	Catalog            *catalog.Catalog
	Locator            emergency.Locator
	Broker             notifications.Broker
	Gateway            payments.Gateway
	Emergency          emergency.Settings
	Requests           requests.Settings
	Payments           payments.Options
	SettlementSchedule string
	// DisableRunner skips registering the settlement runner, for tests that
	// drive settlement by hand.
	DisableRunner bool
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog       *catalog.Catalog
	Store         storage.Store
	Users         *users.Service
	Providers     *providers.Service
	Emergency     *emergency.Service
	Scheduling    *scheduling.Service
	Requests      *requests.Service
	Payments      *payments.Service
	Notifications *notifications.Service
	Moderation    *moderation.Service
	Settlement    *requests.SettlementRunner
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	store := stores.Store
	if store == nil {
		store = memory.New()
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	gateway := opts.Gateway
	if gateway == nil {
		log.Warn("payment gateway not configured; using noop gateway")
		gateway = payments.NoopGateway{}
	}

	manager := system.NewManager()

	notifySvc := notifications.New(store, opts.Broker, log.Named("notifications"))
	userSvc := users.New(store, log.Named("users"))
	providerSvc := providers.New(store, store, cat, userSvc, notifySvc, log.Named("providers"))
	emergencySvc := emergency.New(store, store, cat, opts.Locator, notifySvc, opts.Emergency, log.Named("emergency"))
	providerSvc.AddListener(emergencySvc)
	schedulingSvc := scheduling.New(store, store, log.Named("scheduling"))
	paymentSvc := payments.New(store, store, gateway, notifySvc, opts.Payments, log.Named("payments"))
	requestSvc := requests.New(store, store, cat, schedulingSvc, paymentSvc, notifySvc, opts.Requests, log.Named("requests"))
	moderationSvc := moderation.New(store, store, requestSvc, providerSvc, notifySvc, log.Named("moderation"))

	services := []system.Service{emergency.NewIndexSync(emergencySvc)}
	var runner *requests.SettlementRunner
	if !opts.DisableRunner {
		runner = requests.NewSettlementRunner(requestSvc, opts.SettlementSchedule, log.Named("settlement-runner"))
		services = append(services, runner)
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:       manager,
		log:           log,
		Catalog:       cat,
		Store:         store,
		Users:         userSvc,
		Providers:     providerSvc,
		Emergency:     emergencySvc,
		Scheduling:    schedulingSvc,
		Requests:      requestSvc,
		Payments:      paymentSvc,
		Notifications: notifySvc,
		Moderation:    moderationSvc,
		Settlement:    runner,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Services lists registered lifecycle components in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}
