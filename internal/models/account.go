package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PhoneStatus string

const (
	PhoneStatusGood    PhoneStatus = "good"
	PhoneStatusBad     PhoneStatus = "bad"
	PhoneStatusUnknown PhoneStatus = "unknown"
)

func (s PhoneStatus) Valid() bool {
	switch s {
	case PhoneStatusGood, PhoneStatusBad, PhoneStatusUnknown:
		return true
	}
	return false
}

// Account is one debt record. SSNLast4 is the only part of the identity
// credential that is ever stored.
type Account struct {
	AccountBucket         int              `db:"account_bucket" json:"-"`
	AccountID             string           `db:"account_id" json:"id"`
	AccountNumber         string           `db:"account_number" json:"account_number"`
	OriginalAccountNumber string           `db:"original_account_number" json:"original_account_number,omitempty"`
	DebtorName            string           `db:"debtor_name" json:"debtor_name"`
	Address               string           `db:"address" json:"address,omitempty"`
	City                  string           `db:"city" json:"city,omitempty"`
	State                 string           `db:"state" json:"state,omitempty"`
	ZipCode               string           `db:"zip_code" json:"zip_code,omitempty"`
	SSNLast4              string           `db:"ssn_last4" json:"-"`
	DateOfBirth           *time.Time       `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Email                 string           `db:"email" json:"email,omitempty"`
	CurrentBalance        *decimal.Decimal `db:"current_balance" json:"current_balance"`
	OriginalCreditor      string           `db:"original_creditor" json:"original_creditor,omitempty"`
	Status                string           `db:"status" json:"status"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// PhoneNumber links a normalized 10-digit number to an account. The same
// number may be linked to several accounts.
type PhoneNumber struct {
	PhoneID    string      `db:"phone_id" json:"id"`
	AccountID  string      `db:"account_id" json:"account_id"`
	Number     string      `db:"phone_number" json:"phone_number"`
	Status     PhoneStatus `db:"status" json:"status"`
	DebtorName string      `db:"debtor_name" json:"debtor_name"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// AccountMatch is one candidate returned by a phone lookup.
type AccountMatch struct {
	AccountID  string `json:"account_id"`
	DebtorName string `json:"debtor_name"`
}
