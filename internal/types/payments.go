package types

import (
	"context"
	"time"
)

// OperationStatusSuccess is the provider status denoting a settled payment.
const OperationStatusSuccess = "success"

// Operation is a single entry from the provider's operation history.
type Operation struct {
	Status string `json:"status"`
	Label  string `json:"label"`
}

// PaymentRequest is the payable descriptor handed back to the
// presentation layer after a tier selection.
type PaymentRequest struct {
	RedirectURL      string `json:"redirect_url"`
	CorrelationToken string `json:"correlation_token"`
	Tier             Tier   `json:"tier"`
}

// PaymentGateway abstracts the external wallet provider. Any provider
// with a label-filtered history query satisfies it; the reconciliation
// state machine never depends on a concrete provider.
type PaymentGateway interface {
	// CreatePaymentRequest builds a redirect URL the user pays through.
	CreatePaymentRequest(ctx context.Context, receiver string, amount int, description, correlationLabel string) (string, error)
	// OperationHistory returns operations carrying the given correlation
	// label, settled or not, from since onwards.
	OperationHistory(ctx context.Context, correlationLabel string, since time.Time) ([]Operation, error)
}

// NotificationSink delivers outcome messages to users. Delivery is
// fire-and-forget for callers: failures are logged, never propagated.
type NotificationSink interface {
	Deliver(ctx context.Context, chatID int64, text string, actionURL string) error
}
