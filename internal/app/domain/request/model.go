package request

import (
	"time"

	"github.com/servimap/servimap/internal/geo"
)

// Kind distinguishes booked work from emergency call-outs.
type Kind string

const (
	KindScheduled Kind = "scheduled"
	KindEmergency Kind = "emergency"
)

// Request is a customer's service request and its lifecycle state.
type Request struct {
	ID                   string       `json:"id"`
	Kind                 Kind         `json:"kind"`
	CustomerID           string       `json:"customer_id"`
	ProviderID           string       `json:"provider_id,omitempty"`
	CandidateProviderIDs []string     `json:"candidate_provider_ids,omitempty"`
	Category             string       `json:"category"`
	Description          string       `json:"description,omitempty"`
	Address              string       `json:"address,omitempty"`
	Location             geo.Point    `json:"location"`
	ScheduledStart       time.Time    `json:"scheduled_start,omitempty"`
	ScheduledEnd         time.Time    `json:"scheduled_end,omitempty"`
	EstimatedMinutes     int          `json:"estimated_minutes"`
	PriceCents           int64        `json:"price_cents"`
	SurchargePercent     int          `json:"surcharge_percent"`
	Currency             string       `json:"currency"`
	Status               Status       `json:"status"`
	AcceptDeadline       time.Time    `json:"accept_deadline"`
	StartedAt            time.Time    `json:"started_at,omitempty"`
	CompletedAt          time.Time    `json:"completed_at,omitempty"`
	RatingDeadline       time.Time    `json:"rating_deadline,omitempty"`
	DisputeDeadline      time.Time    `json:"dispute_deadline,omitempty"`
	Rated                bool         `json:"rated"`
	DisputeID            string       `json:"dispute_id,omitempty"`
	CancelReason         string       `json:"cancel_reason,omitempty"`
	History              []Transition `json:"history"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Transition records one status change.
type Transition struct {
	From  Status    `json:"from"`
	To    Status    `json:"to"`
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// IsParty reports whether userID is the customer or the assigned provider.
func (r Request) IsParty(userID string) bool {
	return userID != "" && (userID == r.CustomerID || userID == r.ProviderID)
}

// IsCandidate reports whether providerID was offered an emergency request.
func (r Request) IsCandidate(providerID string) bool {
	for _, id := range r.CandidateProviderIDs {
		if id == providerID {
			return true
		}
	}
	return false
}

// Visible reports whether userID may read the request.
func (r Request) Visible(userID string) bool {
	return r.IsParty(userID) || (r.Status == StatusPending && r.IsCandidate(userID))
}
