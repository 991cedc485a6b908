package transport

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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HTTPConfig holds the processor endpoint settings
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPTransport is a JSON client for the payment processor's payout API
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPTransport creates an HTTPTransport
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTPTransport{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type transferBody struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference,omitempty"`
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type capabilityResponse struct {
	PayoutCapable bool `json:"payout_capable"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// statusError is a non-2xx processor response
type statusError struct {
	method  string
	path    string
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.method, e.path, e.code, e.message)
}

// Transfer implements Transport
func (t *HTTPTransport) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	payload, err := json.Marshal(transferBody{
		Destination: req.DestinationAccountID,
		Amount:      req.Amount,
		Reference:   req.Reference,
	})
	if err != nil {
		return "", Permanent(fmt.Errorf("encode transfer: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/transfers", bytes.NewReader(payload))
	if err != nil {
		return "", Permanent(fmt.Errorf("build transfer request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	var resp transferResponse
	if err := t.do(httpReq, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("transfer response missing id")
	}
	return resp.ID, nil
}

// HasPayoutAccount implements Transport
func (t *HTTPTransport) HasPayoutAccount(ctx context.Context, userID uuid.UUID) (bool, error) {
	url := fmt.Sprintf("%s/v1/accounts/%s/payout-capability", t.baseURL, userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, Permanent(fmt.Errorf("build capability request: %w", err))
	}

	var resp capabilityResponse
	if err := t.do(httpReq, &resp); err != nil {
		return false, err
	}
	return resp.PayoutCapable, nil
}

// LookupTransfer implements Transport. A 404 means the processor never
// accepted a transfer under the key.
func (t *HTTPTransport) LookupTransfer(ctx context.Context, idempotencyKey string) (string, bool, error) {
	url := fmt.Sprintf("%s/v1/transfers/by-key/%s", t.baseURL, idempotencyKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, Permanent(fmt.Errorf("build lookup request: %w", err))
	}

	var resp transferResponse
	if err := t.do(httpReq, &resp); err != nil {
		var status *statusError
		if errors.As(err, &status) && status.code == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	if resp.ID == "" {
		return "", false, fmt.Errorf("lookup response missing id")
	}
	return resp.ID, true, nil
}

// do sends the request and decodes a 2xx body into out. Client errors other
// than timeouts and throttling are permanent.
func (t *HTTPTransport) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 300 {
		var apiErr errorResponse
		_ = json.Unmarshal(body, &apiErr)
		err := &statusError{method: req.Method, path: req.URL.Path, code: res.StatusCode, message: apiErr.Message}

		if res.StatusCode >= 400 && res.StatusCode < 500 &&
			res.StatusCode != http.StatusRequestTimeout && res.StatusCode != http.StatusTooManyRequests {
			return Permanent(err)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
