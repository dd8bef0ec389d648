package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeCard  PaymentType = "card"
	PaymentTypeCheck PaymentType = "check"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusProcessed PaymentStatus = "processed"
	PaymentStatusDeclined  PaymentStatus = "declined"
)

// CanTransition reports whether a payment may move from s to next.
// Only pending payments move, and only to processed or declined.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	return s == PaymentStatusPending &&
		(next == PaymentStatusProcessed || next == PaymentStatusDeclined)
}

// Payment is a captured payment awaiting manual reconciliation.
// EncryptedDetails holds the serialized encryption envelope of the
// card or check details, never the plaintext.
type Payment struct {
	PaymentID        string           `db:"payment_id" json:"id"`
	AccountID        string           `db:"account_id" json:"account_id"`
	DebtorName       string           `db:"debtor_name" json:"debtor_name"`
	Amount           decimal.Decimal  `db:"amount" json:"amount"`
	PaymentType      PaymentType      `db:"payment_type" json:"payment_type"`
	PaymentDate      time.Time        `db:"payment_date" json:"payment_date"`
	PostDate         *time.Time       `db:"post_date" json:"post_date,omitempty"`
	MonthlyPayment   *decimal.Decimal `db:"monthly_payment" json:"monthly_payment,omitempty"`
	Status           PaymentStatus    `db:"status" json:"status"`
	EncryptedDetails string           `db:"encrypted_details" json:"-"`
	IdempotencyKey   string           `db:"idempotency_key" json:"idempotency_key"`
	Source           string           `db:"source" json:"source"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// CardDetails and CheckDetails are the sensitive instrument payloads.
type CardDetails struct {
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
	Name   string `json:"name"`
	Zip    string `json:"zip"`
}

type CheckDetails struct {
	RoutingNumber string `json:"routingNumber"`
	AccountNumber string `json:"accountNumber"`
	AccountType   string `json:"accountType"`
	Name          string `json:"name"`
}

// InstrumentDetails is the decrypted form of Payment.EncryptedDetails.
// Exactly one branch is set.
type InstrumentDetails struct {
	Card  *CardDetails  `json:"card,omitempty"`
	Check *CheckDetails `json:"check,omitempty"`
}
