package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"portal-service/internal/client"
	"portal-service/internal/util"
)

// Caller is the voice provider surface used by operators.
type Caller interface {
	Configured() bool
	StartCall(ctx context.Context, req client.CallRequest) (*client.CallResponse, error)
	ListInboundNumbers(ctx context.Context) ([]string, error)
}

type CallingService struct {
	caller    Caller
	pathwayID string
	logger    *zap.Logger
}

func NewCallingService(caller Caller, pathwayID string, logger *zap.Logger) *CallingService {
	return &CallingService{caller: caller, pathwayID: pathwayID, logger: logger}
}

// TestCall places a call to an operator's own phone using the configured
// pathway.
func (s *CallingService) TestCall(ctx context.Context, rawPhone string) (*client.CallResponse, error) {
	if s.caller == nil || !s.caller.Configured() {
		return nil, fmt.Errorf("%w: calling api key", ErrNotConfigured)
	}
	if s.pathwayID == "" {
		return nil, fmt.Errorf("%w: calling pathway id", ErrNotConfigured)
	}
	phone := util.DigitsOnly(rawPhone)
	if len(phone) != 10 {
		return nil, validationError("phone must be a 10-digit number")
	}

	resp, err := s.caller.StartCall(ctx, client.CallRequest{Phone: phone, PathwayID: s.pathwayID})
	if err != nil {
		s.logger.Warn("test call failed", util.Masked("phone", phone), zap.Error(err))
		if errors.Is(err, client.ErrCallRejected) {
			return nil, validationError("%v", err)
		}
		return nil, fmt.Errorf("%w: start call: %v", ErrPersistence, err)
	}
	return resp, nil
}

func (s *CallingService) InboundNumbers(ctx context.Context) ([]string, error) {
	if s.caller == nil || !s.caller.Configured() {
		return nil, fmt.Errorf("%w: calling api key", ErrNotConfigured)
	}
	numbers, err := s.caller.ListInboundNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list inbound numbers: %v", ErrPersistence, err)
	}
	return numbers, nil
}
