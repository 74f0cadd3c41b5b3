// Package catalog holds the service categories offered on the marketplace
// and the pricing rules derived from them.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/servimap/servimap/internal/errors"
)

// MaxHourlyRateCents bounds any hourly rate a category or provider may set.
const MaxHourlyRateCents int64 = 1_000_000

// maxQuoteMinutes and maxSurchargePercent keep Quote's products inside int64.
const (
	maxQuoteMinutes     = 7 * 24 * 60
	maxSurchargePercent = 1000
)

// Category is a bookable kind of work.
type Category struct {
	ID                string `yaml:"id" json:"id"`
	Name              string `yaml:"name" json:"name"`
	HourlyRateCents   int64  `yaml:"hourly_rate_cents" json:"hourly_rate_cents"`
	EmergencyEligible bool   `yaml:"emergency_eligible" json:"emergency_eligible"`
	MinimumMinutes    int    `yaml:"minimum_minutes" json:"minimum_minutes"`
}

// Catalog is an immutable, validated set of categories.
type Catalog struct {
	byID map[string]Category
}

type file struct {
	Categories []Category `yaml:"categories"`
}

// Load reads a YAML catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault loads path when set and falls back to the built-in catalog
// when path is empty.
func LoadOrDefault(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Categories)
}

// New validates categories and builds a catalog.
func New(categories []Category) (*Catalog, error) {
	if len(categories) == 0 {
		return nil, apperrors.NewValidationError("categories", "at least one category is required")
	}
	byID := make(map[string]Category, len(categories))
	for i, c := range categories {
		c.ID = strings.ToLower(strings.TrimSpace(c.ID))
		c.Name = strings.TrimSpace(c.Name)
		if c.ID == "" {
			return nil, apperrors.NewValidationError(fmt.Sprintf("categories[%d].id", i), "is required")
		}
		if _, dup := byID[c.ID]; dup {
			return nil, apperrors.NewValidationError(fmt.Sprintf("categories[%d].id", i), "duplicate category "+c.ID)
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		if c.HourlyRateCents <= 0 || c.HourlyRateCents > MaxHourlyRateCents {
			return nil, apperrors.NewValidationError(fmt.Sprintf("categories[%d].hourly_rate_cents", i),
				fmt.Sprintf("must be between 1 and %d", MaxHourlyRateCents))
		}
		if c.MinimumMinutes <= 0 {
			return nil, apperrors.NewValidationError(fmt.Sprintf("categories[%d].minimum_minutes", i), "must be positive")
		}
		byID[c.ID] = c
	}
	return &Catalog{byID: byID}, nil
}

// Default is the catalog used when no file is configured.
func Default() *Catalog {
	c, err := New([]Category{
		{ID: "plumbing", Name: "Plumbing", HourlyRateCents: 6000, EmergencyEligible: true, MinimumMinutes: 60},
		{ID: "electrical", Name: "Electrical", HourlyRateCents: 7000, EmergencyEligible: true, MinimumMinutes: 60},
		{ID: "locksmith", Name: "Locksmith", HourlyRateCents: 5500, EmergencyEligible: true, MinimumMinutes: 30},
		{ID: "hvac", Name: "Heating & Cooling", HourlyRateCents: 8000, EmergencyEligible: true, MinimumMinutes: 60},
		{ID: "cleaning", Name: "Cleaning", HourlyRateCents: 3000, MinimumMinutes: 120},
		{ID: "gardening", Name: "Gardening", HourlyRateCents: 3500, MinimumMinutes: 60},
		{ID: "painting", Name: "Painting", HourlyRateCents: 4500, MinimumMinutes: 120},
		{ID: "handyman", Name: "Handyman", HourlyRateCents: 4000, MinimumMinutes: 60},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// Get looks up a category by ID (case-insensitive).
func (c *Catalog) Get(id string) (Category, error) {
	cat, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Category{}, apperrors.NewNotFoundError("category", id)
	}
	return cat, nil
}

// Has reports whether id names a known category.
func (c *Catalog) Has(id string) bool {
	_, err := c.Get(id)
	return err == nil
}

// List returns categories ordered by ID.
func (c *Catalog) List() []Category {
	out := make([]Category, 0, len(c.byID))
	for _, cat := range c.byID {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Quote prices a job. Minutes below the category minimum are billed at the
// minimum; the surcharge applies on top of the base amount. Inputs outside
// the supported range quote 0, which callers must reject.
func (cat Category) Quote(minutes int, hourlyRateCents int64, surchargePercent int) int64 {
	if minutes < cat.MinimumMinutes {
		minutes = cat.MinimumMinutes
	}
	if hourlyRateCents <= 0 {
		hourlyRateCents = cat.HourlyRateCents
	}
	if hourlyRateCents <= 0 || hourlyRateCents > MaxHourlyRateCents ||
		minutes > maxQuoteMinutes || surchargePercent > maxSurchargePercent {
		return 0
	}
	base := ceilDiv(hourlyRateCents*int64(minutes), 60)
	if surchargePercent <= 0 {
		return base
	}
	return base + roundDiv(base*int64(surchargePercent), 100)
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// roundDiv divides non-negative a by b, rounding half up.
func roundDiv(a, b int64) int64 {
	return (a + b/2) / b
}
