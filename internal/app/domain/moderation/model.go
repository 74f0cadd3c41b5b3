package moderation

import "time"

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Outcome decides how a disputed request's funds move.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
	OutcomeSplit   Outcome = "split"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeRelease, OutcomeRefund, OutcomeSplit:
		return true
	}
	return false
}

// Dispute is a moderation case opened against a completed request.
type Dispute struct {
	ID          string        `json:"id"`
	RequestID   string        `json:"request_id"`
	OpenedBy    string        `json:"opened_by"`
	Reason      string        `json:"reason"`
	Status      DisputeStatus `json:"status"`
	Outcome     Outcome       `json:"outcome,omitempty"`
	RefundCents int64         `json:"refund_cents,omitempty"`
	ResolvedBy  string        `json:"resolved_by,omitempty"`
	Note        string        `json:"note,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type TargetType string

const (
	TargetProvider TargetType = "provider"
	TargetReview   TargetType = "review"
)

type ReportStatus string

const (
	ReportOpen      ReportStatus = "open"
	ReportActioned  ReportStatus = "actioned"
	ReportDismissed ReportStatus = "dismissed"
)

// Action is what an admin does with a report.
type Action string

const (
	ActionDismiss         Action = "dismiss"
	ActionHideReview      Action = "hide_review"
	ActionSuspendProvider Action = "suspend_provider"
)

// Report flags a provider or review for admin attention.
type Report struct {
	ID         string       `json:"id"`
	ReporterID string       `json:"reporter_id"`
	TargetType TargetType   `json:"target_type"`
	TargetID   string       `json:"target_id"`
	Reason     string       `json:"reason"`
	Status     ReportStatus `json:"status"`
	Action     Action       `json:"action,omitempty"`
	ResolvedBy string       `json:"resolved_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
