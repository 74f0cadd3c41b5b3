package notification

import "time"

// Type names the event a notification describes.
type Type string

const (
	TypeRequestCreated   Type = "request.created"
	TypeEmergencyOffer   Type = "emergency.offer"
	TypeEmergencyTaken   Type = "emergency.taken"
	TypeRequestAccepted  Type = "request.accepted"
	TypeRequestRejected  Type = "request.rejected"
	TypeRequestStarted   Type = "request.started"
	TypeRequestCompleted Type = "request.completed"
	TypeRequestCancelled Type = "request.cancelled"
	TypeRequestExpired   Type = "request.expired"
	TypeRequestRated     Type = "request.rated"
	TypeDisputeOpened    Type = "dispute.opened"
	TypeDisputeResolved  Type = "dispute.resolved"
	TypeRequestSettled   Type = "request.settled"
	TypePaymentFailed    Type = "payment.failed"
	TypeProviderStatus   Type = "provider.status"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}
