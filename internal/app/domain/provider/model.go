package provider

import (
	"time"

	"github.com/servimap/servimap/internal/geo"
)

// Status tracks moderation state of a provider profile.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusSuspended:
		return true
	}
	return false
}

// Provider is a business offering services in one or more categories. Its ID
// is the owning user's ID.
type Provider struct {
	ID              string    `json:"id"`
	BusinessName    string    `json:"business_name"`
	Description     string    `json:"description,omitempty"`
	Categories      []string  `json:"categories"`
	Location        geo.Point `json:"location"`
	ServiceRadiusKm float64   `json:"service_radius_km"`
	HourlyRateCents int64     `json:"hourly_rate_cents"`
	Currency        string    `json:"currency"`
	RatingAverage   float64   `json:"rating_average"`
	RatingCount     int       `json:"rating_count"`
	Status          Status    `json:"status"`
	Verified        bool      `json:"verified"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Serves reports whether the provider offers category.
func (p Provider) Serves(category string) bool {
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// AddRating folds a new star rating into the running average.
func (p *Provider) AddRating(stars int) {
	total := p.RatingAverage*float64(p.RatingCount) + float64(stars)
	p.RatingCount++
	p.RatingAverage = total / float64(p.RatingCount)
}

// RemoveRating takes a rating out of the running average.
func (p *Provider) RemoveRating(stars int) {
	if p.RatingCount <= 1 {
		p.RatingCount = 0
		p.RatingAverage = 0
		return
	}
	total := p.RatingAverage*float64(p.RatingCount) - float64(stars)
	p.RatingCount--
	p.RatingAverage = total / float64(p.RatingCount)
}
