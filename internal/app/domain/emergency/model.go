package emergency

import "time"

// Limits for provider-controlled emergency settings.
const (
	MaxSurchargePercent    = 300
	MinResponseTimeMinutes = 1
	MaxResponseTimeMinutes = 240
)

// Config is a provider's opt-in to emergency matching.
type Config struct {
	ProviderID          string    `json:"provider_id"`
	Enabled             bool      `json:"enabled"`
	Available           bool      `json:"available"`
	SurchargePercent    int       `json:"surcharge_percent"`
	ResponseTimeMinutes int       `json:"response_time_minutes"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Ready reports whether the provider currently takes emergency work.
func (c Config) Ready() bool {
	return c.Enabled && c.Available
}
