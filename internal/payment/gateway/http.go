package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ms-seatsale/internal/logger"

	"github.com/google/uuid"
)

// TokenSource supplies bearer tokens for gateway calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPClient calls a payment service speaking JSON over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	tokens  TokenSource
	client  *http.Client
	logger  *logger.Logger
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// WithTokenSource makes the client authenticate with tokens from ts instead
// of the static API key.
func (c *HTTPClient) WithTokenSource(ts TokenSource) *HTTPClient {
	c.tokens = ts
	return c
}

type statusResponse struct {
	Status Status `json:"status"`
}

type refundResponse struct {
	OK bool `json:"ok"`
}

func (c *HTTPClient) RequestOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	var out OrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", uuid.NewString(), req, &out); err != nil {
		return nil, err
	}
	if out.ChargeID == "" {
		return nil, fmt.Errorf("%w: response without charge id", ErrGateway)
	}
	c.logger.LogPayment("REQUEST", out.ChargeID, fmt.Sprintf("total %d for user %d", req.Main.TotalAmount, req.Main.UserID))
	return &out, nil
}

func (c *HTTPClient) ChargeStatus(ctx context.Context, chargeID string) (Status, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, "/charges/"+chargeID, "", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *HTTPClient) Capture(ctx context.Context, chargeID string) (Status, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodPost, "/charges/"+chargeID+"/capture", "capture-"+chargeID, nil, &out); err != nil {
		return "", err
	}
	c.logger.LogPayment("CAPTURE", chargeID, string(out.Status))
	return out.Status, nil
}

func (c *HTTPClient) Refund(ctx context.Context, chargeID string) (bool, error) {
	var out refundResponse
	if err := c.do(ctx, http.MethodPost, "/charges/"+chargeID+"/refund", "refund-"+chargeID, nil, &out); err != nil {
		return false, err
	}
	c.logger.LogPayment("REFUND", chargeID, fmt.Sprintf("ok=%t", out.OK))
	return out.OK, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	bearer := c.apiKey
	if c.tokens != nil {
		if bearer, err = c.tokens.Token(ctx); err != nil {
			return fmt.Errorf("gateway token: %w", err)
		}
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	// transport failures keep their own identity; only answers from the
	// gateway count as ErrGateway
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("GATEWAY", fmt.Sprintf("%s %s failed: %v", method, path, err))
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("GATEWAY", fmt.Sprintf("Failed to close gateway response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return ErrChargeNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("GATEWAY", fmt.Sprintf("%s %s returned %d: %s", method, path, resp.StatusCode, msg))
		return fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: undecodable response: %w", ErrGateway, err)
	}
	return nil
}
