package providers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/servimap/servimap/internal/app/domain/notification"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/services/notifications"
	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/catalog"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/geo"
	"github.com/servimap/servimap/pkg/logger"
)

const (
	MaxServiceRadiusKm = 200
	DefaultCurrency    = "USD"
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// RoleSetter promotes a user when they register as a provider.
type RoleSetter interface {
	SetRole(ctx context.Context, id string, role user.Role) (user.User, error)
}

// ChangeListener observes committed provider changes. The emergency service
// uses it to keep its geo index in step with status and location.
type ChangeListener interface {
	ProviderChanged(ctx context.Context, p provider.Provider) error
}

// Service manages provider profiles, moderation status and discovery.
type Service struct {
	store     storage.ProviderStore
	tx        storage.Transactor
	catalog   *catalog.Catalog
	roles     RoleSetter
	notifier  notifications.Deliverer
	listeners []ChangeListener
	log       *logger.Logger
	now       func() time.Time
}

// New constructs a provider service.
func New(store storage.ProviderStore, tx storage.Transactor, cat *catalog.Catalog, roles RoleSetter, notifier notifications.Deliverer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("providers")
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &Service{
		store:    store,
		tx:       tx,
		catalog:  cat,
		roles:    roles,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// AddListener registers a hook run after status or profile changes commit.
func (s *Service) AddListener(l ChangeListener) {
	s.listeners = append(s.listeners, l)
}

// Register creates a pending provider profile for userID.
func (s *Service) Register(ctx context.Context, userID string, p provider.Provider) (provider.Provider, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return provider.Provider{}, apperrors.RequiredError("user_id")
	}
	p.ID = userID
	if err := s.normalize(&p); err != nil {
		return provider.Provider{}, err
	}

	if _, err := s.store.GetProvider(ctx, userID); err == nil {
		return provider.Provider{}, apperrors.NewConflictError("provider", userID, "already registered")
	} else if !apperrors.IsNotFound(err) {
		return provider.Provider{}, err
	}

	if s.roles != nil {
		if _, err := s.roles.SetRole(ctx, userID, user.RoleProvider); err != nil {
			return provider.Provider{}, fmt.Errorf("promote user: %w", err)
		}
	}

	now := s.now().UTC()
	p.Status = provider.StatusPending
	p.Verified = false
	p.RatingAverage = 0
	p.RatingCount = 0
	p.CreatedAt = now
	p.UpdatedAt = now

	created, err := s.store.CreateProvider(ctx, p)
	if err != nil {
		return provider.Provider{}, err
	}
	s.log.WithField("provider_id", created.ID).
		WithField("categories", strings.Join(created.Categories, ",")).
		Info("provider registered")
	return created, nil
}

// Patch lists the mutable profile fields; nil means unchanged.
type Patch struct {
	BusinessName    *string    `json:"business_name"`
	Description     *string    `json:"description"`
	Categories      []string   `json:"categories"`
	Location        *geo.Point `json:"location"`
	ServiceRadiusKm *float64   `json:"service_radius_km"`
	HourlyRateCents *int64     `json:"hourly_rate_cents"`
	Currency        *string    `json:"currency"`
}

// Update applies patch to the provider's profile. Status and rating are not
// patchable.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (provider.Provider, error) {
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return provider.Provider{}, err
	}
	if patch.BusinessName != nil {
		p.BusinessName = *patch.BusinessName
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Categories != nil {
		p.Categories = patch.Categories
	}
	if patch.Location != nil {
		p.Location = *patch.Location
	}
	if patch.ServiceRadiusKm != nil {
		p.ServiceRadiusKm = *patch.ServiceRadiusKm
	}
	if patch.HourlyRateCents != nil {
		p.HourlyRateCents = *patch.HourlyRateCents
	}
	if patch.Currency != nil {
		p.Currency = *patch.Currency
	}
	if err := s.normalize(&p); err != nil {
		return provider.Provider{}, err
	}
	p.UpdatedAt = s.now().UTC()

	updated, err := s.store.UpdateProvider(ctx, p)
	if err != nil {
		return provider.Provider{}, err
	}
	s.notifyListeners(ctx, updated)
	s.log.WithField("provider_id", updated.ID).Info("provider updated")
	return updated, nil
}

// normalize trims and validates profile fields in place.
func (s *Service) normalize(p *provider.Provider) error {
	p.BusinessName = strings.TrimSpace(p.BusinessName)
	p.Description = strings.TrimSpace(p.Description)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))

	if p.BusinessName == "" {
		return apperrors.RequiredError("business_name")
	}
	if len(p.Categories) == 0 {
		return apperrors.NewValidationError("categories", "at least one category is required")
	}
	seen := make(map[string]struct{}, len(p.Categories))
	categories := make([]string, 0, len(p.Categories))
	for _, raw := range p.Categories {
		cat, err := s.catalog.Get(raw)
		if err != nil {
			return apperrors.NewValidationError("categories", "unknown category "+strings.TrimSpace(raw))
		}
		if _, dup := seen[cat.ID]; dup {
			continue
		}
		seen[cat.ID] = struct{}{}
		categories = append(categories, cat.ID)
	}
	p.Categories = categories

	if err := p.Location.Validate(); err != nil {
		return apperrors.NewValidationError("location", err.Error())
	}
	if p.ServiceRadiusKm <= 0 || p.ServiceRadiusKm > MaxServiceRadiusKm || math.IsNaN(p.ServiceRadiusKm) {
		return apperrors.NewValidationError("service_radius_km", fmt.Sprintf("must be in (0, %d]", MaxServiceRadiusKm))
	}
	switch {
	case p.HourlyRateCents < 0 || p.HourlyRateCents > catalog.MaxHourlyRateCents:
		return apperrors.NewValidationError("hourly_rate_cents", fmt.Sprintf("must be between 1 and %d", catalog.MaxHourlyRateCents))
	case p.HourlyRateCents == 0:
		cat, _ := s.catalog.Get(p.Categories[0])
		p.HourlyRateCents = cat.HourlyRateCents
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if len(p.Currency) != 3 {
		return apperrors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// Get fetches a provider.
func (s *Service) Get(ctx context.Context, id string) (provider.Provider, error) {
	return s.store.GetProvider(ctx, strings.TrimSpace(id))
}

// List returns providers with the given status; empty lists all.
func (s *Service) List(ctx context.Context, status provider.Status) ([]provider.Provider, error) {
	if status != "" && !status.Valid() {
		return nil, apperrors.NewValidationError("status", "unknown status "+string(status))
	}
	return s.store.ListProviders(ctx, storage.ProviderFilter{Status: status})
}

// SetStatus moves a provider between pending, approved and suspended.
// Suspension also switches off emergency availability in the same batch.
func (s *Service) SetStatus(ctx context.Context, id string, status provider.Status, actor string) (provider.Provider, error) {
	var (
		updated provider.Provider
		outbox  notifications.Outbox
	)
	err := s.tx.InTx(ctx, func(tx storage.Tx) error {
		var err error
		updated, err = s.SetStatusTx(ctx, tx, id, status, actor, &outbox)
		return err
	})
	if err != nil {
		return provider.Provider{}, err
	}
	if s.notifier != nil {
		s.notifier.Deliver(ctx, outbox.Items()...)
	}
	s.StatusChanged(ctx, updated, actor)
	return updated, nil
}

// SetStatusTx is SetStatus inside a caller's batch. The caller delivers the
// outbox and calls StatusChanged once the batch commits.
func (s *Service) SetStatusTx(ctx context.Context, tx storage.Tx, id string, status provider.Status, actor string, outbox *notifications.Outbox) (provider.Provider, error) {
	if !status.Valid() {
		return provider.Provider{}, apperrors.NewValidationError("status", "unknown status "+string(status))
	}
	p, err := tx.GetProvider(ctx, id)
	if err != nil {
		return provider.Provider{}, err
	}
	if p.Status == status {
		return p, nil
	}
	now := s.now().UTC()
	p.Status = status
	p.Verified = status == provider.StatusApproved || (p.Verified && status != provider.StatusSuspended)
	p.UpdatedAt = now
	updated, err := tx.UpdateProvider(ctx, p)
	if err != nil {
		return provider.Provider{}, err
	}

	if status == provider.StatusSuspended {
		cfg, err := tx.GetEmergencyConfig(ctx, id)
		switch {
		case err == nil && cfg.Available:
			cfg.Available = false
			cfg.UpdatedAt = now
			if _, err := tx.SaveEmergencyConfig(ctx, cfg); err != nil {
				return provider.Provider{}, err
			}
		case err != nil && !apperrors.IsNotFound(err):
			return provider.Provider{}, err
		}
	}

	return updated, outbox.Write(ctx, tx, notification.Notification{
		UserID:    id,
		Type:      notification.TypeProviderStatus,
		Title:     "Profile " + string(status),
		Body:      fmt.Sprintf("Your provider profile is now %s.", status),
		Data:      map[string]string{"status": string(status), "actor": actor},
		CreatedAt: now,
	})
}

// StatusChanged refreshes listeners after a status batch committed.
func (s *Service) StatusChanged(ctx context.Context, p provider.Provider, actor string) {
	s.notifyListeners(ctx, p)
	s.log.WithField("provider_id", p.ID).
		WithField("status", p.Status).
		WithField("actor", actor).
		Info("provider status changed")
}

func (s *Service) notifyListeners(ctx context.Context, p provider.Provider) {
	for _, l := range s.listeners {
		if err := l.ProviderChanged(ctx, p); err != nil {
			s.log.WithError(err).WithField("provider_id", p.ID).Warn("provider change listener failed")
		}
	}
}

// Query describes a provider search.
type Query struct {
	Category string
	Point    geo.Point
	RadiusKm float64
	Limit    int
}

// Match is a search hit.
type Match struct {
	Provider   provider.Provider `json:"provider"`
	DistanceKm float64           `json:"distance_km"`
}

// Search lists approved providers serving q.Category whose coverage reaches
// q.Point, nearest first.
func (s *Service) Search(ctx context.Context, q Query) ([]Match, error) {
	if err := q.Point.Validate(); err != nil {
		return nil, apperrors.NewValidationError("point", err.Error())
	}
	category := ""
	if strings.TrimSpace(q.Category) != "" {
		cat, err := s.catalog.Get(q.Category)
		if err != nil {
			return nil, apperrors.NewValidationError("category", "unknown category "+q.Category)
		}
		category = cat.ID
	}
	if q.RadiusKm < 0 {
		return nil, apperrors.NewValidationError("radius_km", "must not be negative")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	candidates, err := s.store.ListProviders(ctx, storage.ProviderFilter{Status: provider.StatusApproved, Category: category})
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, p := range candidates {
		reach := p.ServiceRadiusKm
		if q.RadiusKm > 0 && q.RadiusKm < reach {
			reach = q.RadiusKm
		}
		d := geo.DistanceKm(q.Point, p.Location)
		if d <= reach {
			matches = append(matches, Match{Provider: p, DistanceKm: d})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.Provider.RatingAverage != b.Provider.RatingAverage {
			return a.Provider.RatingAverage > b.Provider.RatingAverage
		}
		return a.Provider.ID < b.Provider.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
