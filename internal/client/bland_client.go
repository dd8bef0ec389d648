package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"portal-service/internal/config"
)

var ErrCallRejected = errors.New("calling provider rejected the request")

// CallRequest is an outbound AI call. Phone is 10 digits; the zero values
// of Model, Voice and MaxDuration fall back to the configured defaults.
type CallRequest struct {
	Phone       string
	From        string
	PathwayID   string
	Model       string
	Voice       string
	MaxDuration int
	Record      bool
}

type CallResponse struct {
	CallID  string `json:"call_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type callPayload struct {
	PhoneNumber     string `json:"phone_number"`
	From            string `json:"from,omitempty"`
	Model           string `json:"model"`
	Voice           string `json:"voice"`
	MaxDuration     int    `json:"max_duration"`
	Record          bool   `json:"record"`
	PathwayID       string `json:"pathway_id"`
	WaitForGreeting bool   `json:"wait_for_greeting"`
	AMD             bool   `json:"amd"`
}

// BlandClient talks to the Bland voice API.
type BlandClient struct {
	baseURL    string
	apiKey     string
	defaults   config.CallingConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewBlandClient(cfg *config.Config, logger *zap.Logger) *BlandClient {
	timeout := cfg.Calling.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BlandClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.Calling.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.Calling.APIKey),
		defaults:   cfg.Calling,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *BlandClient) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

func (c *BlandClient) StartCall(ctx context.Context, req CallRequest) (*CallResponse, error) {
	payload := callPayload{
		PhoneNumber:     "+1" + req.Phone,
		From:            firstNonEmpty(req.From, c.defaults.FromNumber),
		Model:           firstNonEmpty(req.Model, c.defaults.Model, "enhanced"),
		Voice:           firstNonEmpty(req.Voice, c.defaults.Voice, "nat"),
		MaxDuration:     req.MaxDuration,
		Record:          req.Record || c.defaults.Record,
		PathwayID:       firstNonEmpty(req.PathwayID, c.defaults.PathwayID),
		WaitForGreeting: true,
		AMD:             true,
	}
	if payload.MaxDuration <= 0 {
		payload.MaxDuration = c.defaults.MaxDuration
	}
	if payload.MaxDuration <= 0 {
		payload.MaxDuration = 300
	}

	var out CallResponse
	if err := c.do(ctx, http.MethodPost, "/v1/calls", payload, &out); err != nil {
		return nil, err
	}
	if out.CallID == "" {
		return nil, fmt.Errorf("%w: no call id in response", ErrCallRejected)
	}

	c.logger.Info("outbound call started",
		zap.String("call_id", out.CallID),
		zap.String("model", payload.Model),
		zap.String("voice", payload.Voice))
	return &out, nil
}

// ListInboundNumbers returns the numbers owned by the account, usable as
// the caller id of outbound calls.
func (c *BlandClient) ListInboundNumbers(ctx context.Context) ([]string, error) {
	var out struct {
		InboundNumbers []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"inbound_numbers"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/inbound", nil, &out); err != nil {
		return nil, err
	}
	numbers := make([]string, 0, len(out.InboundNumbers))
	for _, n := range out.InboundNumbers {
		numbers = append(numbers, n.PhoneNumber)
	}
	return numbers, nil
}

func (c *BlandClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("calling provider is not configured")
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to calling provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		msg := firstNonEmpty(apiErr.Message, apiErr.Error, http.StatusText(resp.StatusCode))
		c.logger.Warn("calling provider returned error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return fmt.Errorf("%w: %s (status %d)", ErrCallRejected, msg, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
