package review

import "time"

// Review is a customer's rating of a completed request.
type Review struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	ProviderID string    `json:"provider_id"`
	CustomerID string    `json:"customer_id"`
	Stars      int       `json:"stars"`
	Comment    string    `json:"comment,omitempty"`
	Hidden     bool      `json:"hidden"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	MinStars = 1
	MaxStars = 5
)
