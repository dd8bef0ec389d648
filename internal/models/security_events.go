package models

import "time"

const (
	EventVerificationFailed    = "verification_failed"
	EventVerificationLocked    = "verification_locked"
	EventVerificationSucceeded = "verification_succeeded"
	EventPaymentDetailsViewed  = "payment_details_viewed"
)

// SecurityEvent is an audit record. PhoneHash is a keyed fingerprint,
// never the raw number.
type SecurityEvent struct {
	EventID     string    `db:"event_id" json:"event_id"`
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	EventDate   string    `db:"event_date" json:"event_date"`
	EventTime   time.Time `db:"event_time" json:"event_time"`
	EventType   string    `db:"event_type" json:"event_type"`
	PhoneHash   string    `db:"phone_hash" json:"phone_hash,omitempty"`
	AccountID   string    `db:"account_id" json:"account_id,omitempty"`
	SessionID   string    `db:"session_id" json:"session_id,omitempty"`
	PaymentID   string    `db:"payment_id" json:"payment_id,omitempty"`
	IPAddress   string    `db:"ip_address" json:"ip_address,omitempty"`
	RiskScore   int       `db:"risk_score" json:"risk_score"`
	Details     string    `db:"details" json:"details,omitempty"`
}
