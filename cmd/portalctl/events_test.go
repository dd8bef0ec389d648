package main

import (
	"testing"
	"time"

	"portal-service/internal/events"
)

func TestFormatEvent(t *testing.T) {
	e := events.Event{
		Type:       events.TypePaymentDue,
		OccurredAt: time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC),
		AccountID:  "acc-1",
		PaymentID:  "pay-1",
		Data:       map[string]string{"post_date": "2026-03-10", "amount": "978.00"},
	}
	got := formatEvent(e)
	want := "2026-03-10T06:00:00Z  payment.due              account=acc-1 payment=pay-1 amount=978.00 post_date=2026-03-10"
	if got != want {
		t.Fatalf("formatEvent:\n got %q\nwant %q", got, want)
	}
}
