package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type VerificationStep string

const (
	StepPhone   VerificationStep = "phone"
	StepVerify  VerificationStep = "verify"
	StepAccount VerificationStep = "account"
)

// VerificationSession is the server-held state of one consumer's
// phone -> verify -> account flow. The SSN tail entered by the consumer is
// never part of it.
type VerificationSession struct {
	SessionID         string           `json:"session_id"`
	Step              VerificationStep `json:"step"`
	Phone             string           `json:"phone,omitempty"`
	Candidates        []AccountMatch   `json:"candidates,omitempty"`
	SelectedAccountID string           `json:"selected_account_id,omitempty"`
	DebtorName        string           `json:"debtor_name,omitempty"`
	Error             string           `json:"error,omitempty"`
	Demo              bool             `json:"demo"`
	Account           *Account         `json:"account,omitempty"`
	SelectedOffer     *Offer           `json:"selected_offer,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type OfferType string

const (
	OfferSettlement  OfferType = "settlement"
	OfferPaymentPlan OfferType = "payment_plan"
)

type Offer struct {
	Type      OfferType       `json:"type"`
	Title     string          `json:"title"`
	Amount    decimal.Decimal `json:"amount"`
	Savings   string          `json:"savings"`
	Recurring bool            `json:"recurring"`
}
