// Package smsgateway is a REST SMS client implementing notify.SMSGateway.
// No example repo in the retrieval pack carries an SMS-provider SDK, so
// this is a thin net/http client in the teacher's ambient-stack idiom
// (explicit timeout, structured zerolog fields, a UUID-tagged request for
// correlation) rather than a bespoke provider wire format — see
// DESIGN.md for why no third-party library applies here.
package smsgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config configures a Client against a generic REST SMS provider.
type Config struct {
	Endpoint string
	APIKey   string
}

// Client sends SMS via a REST gateway. It satisfies notify.SMSGateway.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     zerolog.Logger
}

// New constructs a Client with the 10s timeout spec.md §6 requires.
func New(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		logger:     logger,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	TraceID string `json:"traceId"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Send delivers one SMS. A non-2xx response or a malformed success=false
// body is returned as an error; the caller (notify.Dispatcher) treats any
// error as dispatch_transient/dispatch_permanent per spec.md §7 and does
// not mark the user notified.
func (c *Client) Send(ctx context.Context, phoneE164, body string) error {
	traceID := uuid.NewString()
	payload, err := json.Marshal(sendRequest{To: phoneE164, Body: body, TraceID: traceID})
	if err != nil {
		return fmt.Errorf("smsgateway: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("smsgateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("smsgateway: transport: %w", err)
	}
	defer resp.Body.Close()

	var parsed sendResponse
	_ = json.NewDecoder(resp.Body).Decode(&parsed)

	if resp.StatusCode >= 300 || !parsed.Success {
		c.logger.Warn().
			Str("trace_id", traceID).
			Int("status", resp.StatusCode).
			Str("gateway_error", parsed.Error).
			Msg("sms send failed")
		return fmt.Errorf("smsgateway: send failed, status %d: %s", resp.StatusCode, parsed.Error)
	}

	c.logger.Debug().Str("trace_id", traceID).Msg("sms sent")
	return nil
}
