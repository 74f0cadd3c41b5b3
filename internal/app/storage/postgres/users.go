package postgres

import (
	"context"
	"time"

	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/geo"
)

type userRow struct {
	ID          string    `db:"id"`
	Role        string    `db:"role"`
	DisplayName string    `db:"display_name"`
	Email       string    `db:"email"`
	Phone       string    `db:"phone"`
	Lat         float64   `db:"lat"`
	Lng         float64   `db:"lng"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:          r.ID,
		Role:        user.Role(r.Role),
		DisplayName: r.DisplayName,
		Email:       r.Email,
		Phone:       r.Phone,
		Location:    geo.Point{Lat: r.Lat, Lng: r.Lng},
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (s *Store) UpsertUser(ctx context.Context, u user.User) (user.User, error) {
	ts := now()
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = ts
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = u.UpdatedAt
	}

	var row userRow
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO users (id, role, display_name, email, phone, lat, lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET role = EXCLUDED.role, display_name = EXCLUDED.display_name, email = EXCLUDED.email,
		    phone = EXCLUDED.phone, lat = EXCLUDED.lat, lng = EXCLUDED.lng, updated_at = EXCLUDED.updated_at
		RETURNING id, role, display_name, email, phone, lat, lng, created_at, updated_at
	`, u.ID, string(u.Role), u.DisplayName, u.Email, u.Phone, u.Location.Lat, u.Location.Lng, u.CreatedAt, u.UpdatedAt).StructScan(&row)
	if err != nil {
		return user.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, role, display_name, email, phone, lat, lng, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	if err != nil {
		return user.User{}, notFound(err, "user", id)
	}
	return row.toDomain(), nil
}
