package emergency

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	domain "github.com/servimap/servimap/internal/app/domain/emergency"
	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/metrics"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/catalog"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/geo"
	"github.com/servimap/servimap/pkg/logger"
)

// Settings tunes matching.
type Settings struct {
	MaxCandidates  int
	RadiusKm       float64
	AcceptTimeout  time.Duration
	TravelSpeedKmh float64
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxCandidates:  5,
		RadiusKm:       25,
		AcceptTimeout:  10 * time.Minute,
		TravelSpeedKmh: 40,
	}
}

// Service manages emergency opt-in and matches customers with providers
// who can respond now.
type Service struct {
	providers storage.ProviderStore
	tx        storage.Transactor
	catalog   *catalog.Catalog
	locator   Locator
	notifier  notifications.Deliverer
	settings  Settings
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the emergency service. A nil locator scans the store.
func New(providers storage.ProviderStore, tx storage.Transactor, cat *catalog.Catalog, locator Locator, notifier notifications.Deliverer, settings Settings, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("emergency")
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if locator == nil {
		locator = NewStoreLocator(providers)
	}
	def := DefaultSettings()
	if settings.MaxCandidates <= 0 {
		settings.MaxCandidates = def.MaxCandidates
	}
	if settings.RadiusKm <= 0 {
		settings.RadiusKm = def.RadiusKm
	}
	if settings.AcceptTimeout <= 0 {
		settings.AcceptTimeout = def.AcceptTimeout
	}
	if settings.TravelSpeedKmh <= 0 {
		settings.TravelSpeedKmh = def.TravelSpeedKmh
	}
	return &Service{
		providers: providers,
		tx:        tx,
		catalog:   cat,
		locator:   locator,
		notifier:  notifier,
		settings:  settings,
		log:       log,
		now:       time.Now,
	}
}

// GetConfig returns a provider's emergency settings. Providers that never
// opted in get a disabled zero-value config.
func (s *Service) GetConfig(ctx context.Context, providerID string) (domain.Config, error) {
	if _, err := s.providers.GetProvider(ctx, providerID); err != nil {
		return domain.Config{}, err
	}
	cfg, err := s.providers.GetEmergencyConfig(ctx, providerID)
	if apperrors.IsNotFound(err) {
		return domain.Config{ProviderID: providerID}, nil
	}
	return cfg, err
}

// UpdateConfig validates and stores cfg for providerID and keeps the
// locator index in step.
func (s *Service) UpdateConfig(ctx context.Context, providerID string, cfg domain.Config) (domain.Config, error) {
	p, err := s.providers.GetProvider(ctx, providerID)
	if err != nil {
		return domain.Config{}, err
	}
	if cfg.SurchargePercent < 0 || cfg.SurchargePercent > domain.MaxSurchargePercent {
		return domain.Config{}, apperrors.NewValidationError("surcharge_percent", fmt.Sprintf("must be between 0 and %d", domain.MaxSurchargePercent))
	}
	if cfg.Enabled || cfg.ResponseTimeMinutes != 0 {
		if cfg.ResponseTimeMinutes < domain.MinResponseTimeMinutes || cfg.ResponseTimeMinutes > domain.MaxResponseTimeMinutes {
			return domain.Config{}, apperrors.NewValidationError("response_time_minutes",
				fmt.Sprintf("must be between %d and %d", domain.MinResponseTimeMinutes, domain.MaxResponseTimeMinutes))
		}
	}
	if cfg.Available && p.Status == provider.StatusSuspended {
		return domain.Config{}, apperrors.NewConflictError("provider", providerID, "suspended providers cannot take emergency work")
	}
	if !s.servesEmergencyCategory(p) && cfg.Enabled {
		return domain.Config{}, apperrors.NewValidationError("enabled", "provider has no emergency-eligible category")
	}

	cfg.ProviderID = providerID
	cfg.UpdatedAt = s.now().UTC()
	saved, err := s.providers.SaveEmergencyConfig(ctx, cfg)
	if err != nil {
		return domain.Config{}, err
	}
	if err := s.locator.Update(ctx, providerID, p.Location, saved.Ready() && p.Status == provider.StatusApproved); err != nil {
		s.log.WithError(err).WithField("provider_id", providerID).Warn("emergency index update failed")
	}
	s.log.WithField("provider_id", providerID).
		WithField("enabled", saved.Enabled).
		WithField("available", saved.Available).
		Info("emergency config updated")
	return saved, nil
}

func (s *Service) servesEmergencyCategory(p provider.Provider) bool {
	for _, id := range p.Categories {
		if cat, err := s.catalog.Get(id); err == nil && cat.EmergencyEligible {
			return true
		}
	}
	return false
}

// ProviderChanged re-indexes a provider after its status or location moved.
func (s *Service) ProviderChanged(ctx context.Context, p provider.Provider) error {
	cfg, err := s.providers.GetEmergencyConfig(ctx, p.ID)
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	return s.locator.Update(ctx, p.ID, p.Location, cfg.Ready() && p.Status == provider.StatusApproved)
}

// Candidate is a provider able to respond to an emergency.
type Candidate struct {
	ProviderID       string  `json:"provider_id"`
	BusinessName     string  `json:"business_name"`
	DistanceKm       float64 `json:"distance_km"`
	ETAMinutes       int     `json:"eta_minutes"`
	QuoteCents       int64   `json:"quote_cents"`
	Currency         string  `json:"currency"`
	SurchargePercent int     `json:"surcharge_percent"`
	RatingAverage    float64 `json:"rating_average"`
}

// Match returns eligible providers for category at point, soonest first.
func (s *Service) Match(ctx context.Context, category string, point geo.Point) ([]Candidate, error) {
	return s.match(ctx, category, point, "")
}

// match is Match without the provider account of excludeID.
func (s *Service) match(ctx context.Context, category string, point geo.Point, excludeID string) ([]Candidate, error) {
	cat, err := s.catalog.Get(category)
	if err != nil {
		return nil, apperrors.NewValidationError("category", "unknown category "+category)
	}
	if !cat.EmergencyEligible {
		return nil, apperrors.NewValidationError("category", cat.ID+" is not available for emergencies")
	}
	if err := point.Validate(); err != nil {
		return nil, apperrors.NewValidationError("location", err.Error())
	}

	ids, err := s.locator.Nearby(ctx, point, s.settings.RadiusKm)
	if err != nil {
		return nil, fmt.Errorf("locate providers: %w", err)
	}

	var candidates []Candidate
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		p, err := s.providers.GetProvider(ctx, id)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Status != provider.StatusApproved || !p.Serves(cat.ID) {
			continue
		}
		cfg, err := s.providers.GetEmergencyConfig(ctx, id)
		if apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !cfg.Ready() {
			continue
		}
		reach := p.ServiceRadiusKm
		if s.settings.RadiusKm < reach {
			reach = s.settings.RadiusKm
		}
		d := geo.DistanceKm(point, p.Location)
		if d > reach {
			continue
		}
		quote := cat.Quote(cat.MinimumMinutes, p.HourlyRateCents, cfg.SurchargePercent)
		if quote <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			ProviderID:       p.ID,
			BusinessName:     p.BusinessName,
			DistanceKm:       d,
			ETAMinutes:       cfg.ResponseTimeMinutes + geo.TravelMinutes(d, s.settings.TravelSpeedKmh),
			QuoteCents:       quote,
			Currency:         p.Currency,
			SurchargePercent: cfg.SurchargePercent,
			RatingAverage:    p.RatingAverage,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ETAMinutes != b.ETAMinutes {
			return a.ETAMinutes < b.ETAMinutes
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.ProviderID < b.ProviderID
	})
	if len(candidates) > s.settings.MaxCandidates {
		candidates = candidates[:s.settings.MaxCandidates]
	}
	metrics.RecordEmergencyMatch(len(candidates))
	return candidates, nil
}

// RequestInput is a customer's emergency call-out.
type RequestInput struct {
	Category    string    `json:"category"`
	Location    geo.Point `json:"location"`
	Address     string    `json:"address"`
	Description string    `json:"description"`
}

// CreateRequest matches providers and, in one batch, stores a pending
// emergency request, offers it to every candidate and confirms to the
// customer. The price is fixed by whichever candidate accepts.
func (s *Service) CreateRequest(ctx context.Context, customerID string, in RequestInput) (request.Request, []Candidate, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return request.Request{}, nil, apperrors.RequiredError("customer_id")
	}
	candidates, err := s.match(ctx, in.Category, in.Location, customerID)
	if err != nil {
		return request.Request{}, nil, err
	}
	if len(candidates) == 0 {
		return request.Request{}, nil, fmt.Errorf("no emergency providers available for %s: %w", in.Category, apperrors.ErrUnavailable)
	}
	cat, _ := s.catalog.Get(in.Category)

	now := s.now().UTC()
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ProviderID)
	}

	var (
		created request.Request
		outbox  notifications.Outbox
	)
	err = s.tx.InTx(ctx, func(tx storage.Tx) error {
		var err error
		created, err = tx.CreateRequest(ctx, request.Request{
			Kind:                 request.KindEmergency,
			CustomerID:           customerID,
			CandidateProviderIDs: ids,
			Category:             cat.ID,
			Description:          strings.TrimSpace(in.Description),
			Address:              strings.TrimSpace(in.Address),
			Location:             in.Location,
			EstimatedMinutes:     cat.MinimumMinutes,
			Currency:             candidates[0].Currency,
			Status:               request.StatusPending,
			AcceptDeadline:       now.Add(s.settings.AcceptTimeout),
			CreatedAt:            now,
			UpdatedAt:            now,
		})
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if err := outbox.Write(ctx, tx, notification.Notification{
				UserID: c.ProviderID,
				Type:   notification.TypeEmergencyOffer,
				Title:  "Emergency " + cat.Name + " request nearby",
				Body:   fmt.Sprintf("%.1f km away, estimated arrival %d min.", c.DistanceKm, c.ETAMinutes),
				Data: map[string]string{
					"request_id":  created.ID,
					"quote_cents": strconv.FormatInt(c.QuoteCents, 10),
					"eta_minutes": strconv.Itoa(c.ETAMinutes),
				},
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return outbox.Write(ctx, tx, notification.Notification{
			UserID:    customerID,
			Type:      notification.TypeRequestCreated,
			Title:     "Looking for help",
			Body:      fmt.Sprintf("We alerted %d nearby providers.", len(candidates)),
			Data:      map[string]string{"request_id": created.ID},
			CreatedAt: now,
		})
	})
	if err != nil {
		return request.Request{}, nil, err
	}
	if s.notifier != nil {
		s.notifier.Deliver(ctx, outbox.Items()...)
	}
	metrics.RecordTransition(string(request.KindEmergency), string(request.StatusPending))
	s.log.WithField("request_id", created.ID).
		WithField("customer_id", customerID).
		WithField("candidates", len(candidates)).
		Info("emergency request created")
	return created, candidates, nil
}
