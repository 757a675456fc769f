package yoomoney

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/subpay-bot/internal/types"
)

var _ types.PaymentGateway = (*Client)(nil)

// Client talks to the YooMoney wallet API. It satisfies the
// PaymentGateway contract through the Quickpay form (payment redirect)
// and the operation-history endpoint (settlement polling); the provider
// offers no webhook, which is why the reconciler polls at all.
type Client struct {
	logger  *slog.Logger
	http    *http.Client
	baseURL string
	token   string
}

func NewClient(baseURL, accessToken string, logger *slog.Logger) *Client {
	return &Client{
		logger:  logger,
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
	}
}

// CreatePaymentRequest submits the Quickpay shop form and returns the
// URL the user is redirected to for payment.
func (c *Client) CreatePaymentRequest(ctx context.Context, receiver string, amount int, description, correlationLabel string) (string, error) {
	form := url.Values{
		"receiver":      {receiver},
		"quickpay-form": {"shop"},
		"targets":       {description},
		"paymentType":   {"AC"},
		"sum":           {strconv.Itoa(amount)},
		"label":         {correlationLabel},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/quickpay/confirm.xml", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build quickpay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("quickpay request failed: %w", types.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("quickpay returned status %d: %w", resp.StatusCode, types.ErrProviderUnavailable)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("quickpay rejected the form (status %d): %w", resp.StatusCode, types.ErrMalformedResponse)
	}

	// The form endpoint answers with a redirect chain; the final URL is
	// the hosted payment page.
	redirected := resp.Request.URL.String()
	c.logger.DebugContext(ctx, "quickpay form accepted",
		slog.String("label", correlationLabel),
		slog.String("redirectURL", redirected),
	)
	return redirected, nil
}

type operationHistoryResponse struct {
	Error      string `json:"error"`
	Operations []struct {
		OperationID string `json:"operation_id"`
		Status      string `json:"status"`
		Label       string `json:"label"`
	} `json:"operations"`
}

// OperationHistory queries wallet operations filtered by correlation
// label from the given instant onwards.
func (c *Client) OperationHistory(ctx context.Context, correlationLabel string, since time.Time) ([]types.Operation, error) {
	form := url.Values{
		"label": {correlationLabel},
		"from":  {since.UTC().Format(time.RFC3339)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/operation-history", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("operation-history request failed: %w", types.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("operation-history returned status %d: %w", resp.StatusCode, types.ErrProviderUnavailable)
	}

	var payload operationHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode operation history: %w", types.ErrMalformedResponse)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("operation-history error %q: %w", payload.Error, types.ErrMalformedResponse)
	}

	out := make([]types.Operation, 0, len(payload.Operations))
	for _, op := range payload.Operations {
		out = append(out, types.Operation{Status: op.Status, Label: op.Label})
	}
	return out, nil
}

// AccountInfo returns the wallet balance, used by the admin panel.
func (c *Client) AccountInfo(ctx context.Context) (balance float64, currency string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/account-info", nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to build account-info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("account-info request failed: %w", types.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("account-info returned status %d: %w", resp.StatusCode, types.ErrProviderUnavailable)
	}

	var payload struct {
		Account  string `json:"account"`
		Balance  string `json:"balance"`
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, "", fmt.Errorf("failed to decode account info: %w", types.ErrMalformedResponse)
	}
	b, err := strconv.ParseFloat(payload.Balance, 64)
	if err != nil {
		return 0, "", fmt.Errorf("bad balance %q: %w", payload.Balance, types.ErrMalformedResponse)
	}
	return b, payload.Currency, nil
}
