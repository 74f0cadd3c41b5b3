package users

import (
	"context"
	"strings"
	"time"

	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/pkg/logger"
)

// Service manages user profiles.
type Service struct {
	store storage.UserStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a user service.
func New(store storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Upsert creates or updates the caller's profile. The role stored on an
// existing profile wins over the one supplied, so the public API cannot
// escalate privileges.
func (s *Service) Upsert(ctx context.Context, u user.User) (user.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	u.Email = strings.TrimSpace(u.Email)
	u.Phone = strings.TrimSpace(u.Phone)

	if u.ID == "" {
		return user.User{}, apperrors.RequiredError("id")
	}
	if !u.Location.IsZero() {
		if err := u.Location.Validate(); err != nil {
			return user.User{}, apperrors.NewValidationError("location", err.Error())
		}
	}

	existing, err := s.store.GetUser(ctx, u.ID)
	switch {
	case err == nil:
		u.Role = existing.Role
		u.CreatedAt = existing.CreatedAt
	case apperrors.IsNotFound(err):
		if u.Role == "" {
			u.Role = user.RoleCustomer
		}
		if !u.Role.Valid() || u.Role == user.RoleAdmin {
			return user.User{}, apperrors.NewValidationError("role", "must be customer or provider")
		}
	default:
		return user.User{}, err
	}
	u.UpdatedAt = s.now().UTC()

	saved, err := s.store.UpsertUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", saved.ID).
		WithField("role", saved.Role).
		Info("user profile saved")
	return saved, nil
}

// Get fetches a profile by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, strings.TrimSpace(id))
}

// SetRole changes a user's role; used when a provider registers and by
// operators bootstrapping admins.
func (s *Service) SetRole(ctx context.Context, id string, role user.Role) (user.User, error) {
	if !role.Valid() {
		return user.User{}, apperrors.NewValidationError("role", "unknown role "+string(role))
	}
	u, err := s.store.GetUser(ctx, id)
	if apperrors.IsNotFound(err) {
		u = user.User{ID: id}
	} else if err != nil {
		return user.User{}, err
	}
	if u.Role == role {
		return u, nil
	}
	u.Role = role
	u.UpdatedAt = s.now().UTC()
	return s.store.UpsertUser(ctx, u)
}
