package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"portal-service/internal/client"
)

type fakeCaller struct {
	configured bool
	last       client.CallRequest
	err        error
}

func (f *fakeCaller) Configured() bool { return f.configured }

func (f *fakeCaller) StartCall(ctx context.Context, req client.CallRequest) (*client.CallResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &client.CallResponse{CallID: "call-1", Status: "success"}, nil
}

func (f *fakeCaller) ListInboundNumbers(ctx context.Context) ([]string, error) {
	return []string{"+15550001111"}, nil
}

func TestTestCall(t *testing.T) {
	ctx := context.Background()

	svc := NewCallingService(&fakeCaller{}, "pathway", zap.NewNop())
	if _, err := svc.TestCall(ctx, "5551234567"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without api key, got %v", err)
	}

	svc = NewCallingService(&fakeCaller{configured: true}, "", zap.NewNop())
	if _, err := svc.TestCall(ctx, "5551234567"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without pathway, got %v", err)
	}

	caller := &fakeCaller{configured: true}
	svc = NewCallingService(caller, "pathway", zap.NewNop())
	if _, err := svc.TestCall(ctx, "555-1234"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	resp, err := svc.TestCall(ctx, "(555) 123-4567")
	if err != nil {
		t.Fatalf("TestCall: %v", err)
	}
	if resp.CallID != "call-1" || caller.last.Phone != "5551234567" || caller.last.PathwayID != "pathway" {
		t.Fatalf("unexpected call %+v / %+v", resp, caller.last)
	}

	caller.err = client.ErrCallRejected
	if _, err := svc.TestCall(ctx, "5551234567"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected provider rejection as ErrValidation, got %v", err)
	}
}

func TestUpdatePhoneStatus(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.add("a1", "Jane Doe", "6789", "10", "5551234567")
	svc := NewAccountService(accounts, zap.NewNop())
	ctx := context.Background()

	if err := svc.UpdatePhoneStatus(ctx, "a1", "555-123-4567", "great"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
	if err := svc.UpdatePhoneStatus(ctx, "a1", "5559999999", "bad"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unlinked phone, got %v", err)
	}
	if err := svc.UpdatePhoneStatus(ctx, "a1", "1 (555) 123-4567", "bad"); err != nil {
		t.Fatalf("UpdatePhoneStatus: %v", err)
	}
	phones, err := svc.ListPhones(ctx, "a1")
	if err != nil {
		t.Fatalf("ListPhones: %v", err)
	}
	if len(phones) != 1 || phones[0].Status != "bad" {
		t.Fatalf("status not updated: %+v", phones)
	}
	if _, err := svc.ListPhones(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
