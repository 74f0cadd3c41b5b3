package payment

import "time"

// Type classifies a money movement.
type Type string

const (
	TypeHold    Type = "hold"
	TypeCapture Type = "capture"
	TypePayout  Type = "payout"
	TypeFee     Type = "fee"
	TypeRefund  Type = "refund"
)

// Status tracks settlement with the payment gateway.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// PlatformAccount is the payee for platform fees.
const PlatformAccount = "servimap"

// Transaction is a single ledger entry tied to a service request.
type Transaction struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id"`
	PayerID       string    `json:"payer_id"`
	PayeeID       string    `json:"payee_id"`
	Type          Type      `json:"type"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	Status        Status    `json:"status"`
	ExternalRef   string    `json:"external_ref,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Involves reports whether userID is the payer or payee.
func (t Transaction) Involves(userID string) bool {
	return userID != "" && (t.PayerID == userID || t.PayeeID == userID)
}

// Commission splits amount into the platform fee and the provider payout.
// The fee is rounded half up to the cent.
func Commission(amountCents int64, basisPoints int) (fee, payout int64) {
	if amountCents <= 0 || basisPoints <= 0 {
		return 0, amountCents
	}
	fee = (amountCents*int64(basisPoints) + 5000) / 10000
	if fee > amountCents {
		fee = amountCents
	}
	return fee, amountCents - fee
}
