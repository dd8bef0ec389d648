package models

import "testing"

func TestPaymentStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusPending, PaymentStatusProcessed, true},
		{PaymentStatusPending, PaymentStatusDeclined, true},
		{PaymentStatusPending, PaymentStatusPending, false},
		{PaymentStatusProcessed, PaymentStatusPending, false},
		{PaymentStatusProcessed, PaymentStatusDeclined, false},
		{PaymentStatusDeclined, PaymentStatusProcessed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Fatalf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
