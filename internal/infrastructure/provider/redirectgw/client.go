package redirectgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Zhima-Mochi/payment-orchestrator/internal/domain/payment"
	"github.com/Zhima-Mochi/payment-orchestrator/internal/infrastructure/provider/redirect"
)

// Client talks to the hosted redirect checkout over its JSON API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var (
	_ redirect.RedirectGateway  = (*Client)(nil)
	_ redirect.SessionCanceller = (*Client)(nil)
)

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sessionRequest struct {
	IntentID  string `json:"intent_id"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Country   string `json:"country,omitempty"`
	ReturnURL string `json:"return_url,omitempty"`
}

type sessionResponse struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

type statusResponse struct {
	Ref     string `json:"ref"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("redirect gateway error (status %d): %s", e.StatusCode, e.Body)
}

func (c *Client) CreateSession(ctx context.Context, req redirect.SessionRequest) (redirect.Session, error) {
	body := sessionRequest{
		IntentID:  req.IntentID,
		OrderID:   req.OrderID,
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		Country:   req.Country,
		ReturnURL: req.ReturnURL,
	}
	var resp sessionResponse
	headers := map[string]string{"Idempotency-Key": req.IdempotencyKey}
	if err := c.doRequest(ctx, http.MethodPost, "/sessions", headers, body, &resp); err != nil {
		return redirect.Session{}, fmt.Errorf("redirect gateway create session: %w", err)
	}
	return redirect.Session{Ref: resp.Ref, URL: resp.URL}, nil
}

func (c *Client) Status(ctx context.Context, ref string) (payment.ExternalResult, error) {
	var resp statusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/sessions/"+url.PathEscape(ref), nil, nil, &resp); err != nil {
		return payment.ExternalResult{}, fmt.Errorf("redirect gateway status: %w", err)
	}
	return payment.ExternalResult{
		Outcome:   outcomeOf(resp.Status),
		Message:   resp.Message,
		Reference: ref,
	}, nil
}

func (c *Client) CancelSession(ctx context.Context, ref string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(ref), nil, nil, nil); err != nil {
		return fmt.Errorf("redirect gateway cancel: %w", err)
	}
	return nil
}

// outcomeOf maps the gateway vocabulary; anything unrecognised keeps polling.
func outcomeOf(status string) payment.Outcome {
	switch strings.ToLower(status) {
	case "paid", "succeeded", "success":
		return payment.OutcomeSucceeded
	case "declined", "failed", "rejected":
		return payment.OutcomeDeclined
	case "cancelled", "canceled", "abandoned":
		return payment.OutcomeCancelled
	default:
		return payment.OutcomePending
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBytes))}
	}
	if out != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
