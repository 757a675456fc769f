package billing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/subpay-bot/internal/domain/catalog"
	"github.com/FACorreiaa/subpay-bot/internal/types"
)

// Builder constructs provider payment descriptors for tier purchases.
type Builder struct {
	logger   *slog.Logger
	catalog  *catalog.Catalog
	gateway  types.PaymentGateway
	receiver string
}

func NewBuilder(cat *catalog.Catalog, gateway types.PaymentGateway, receiver string, logger *slog.Logger) *Builder {
	return &Builder{
		logger:   logger,
		catalog:  cat,
		gateway:  gateway,
		receiver: receiver,
	}
}

// BuildPaymentRequest resolves the tier, derives the correlation token
// and asks the gateway for a redirect URL the user can pay through.
// Returns types.ErrUnknownTier for an unrecognized tier id.
func (b *Builder) BuildPaymentRequest(ctx context.Context, tierID string, userID int64, isExtension bool) (*types.PaymentRequest, error) {
	ctx, span := otel.Tracer("PaymentBuilder").Start(ctx, "BuildPaymentRequest", trace.WithAttributes(
		attribute.String("tier.id", tierID),
		attribute.Int64("user.id", userID),
		attribute.Bool("payment.extension", isExtension),
	))
	defer span.End()

	tier, err := b.catalog.Resolve(tierID)
	if err != nil {
		span.SetStatus(codes.Error, "unknown tier")
		return nil, err
	}

	token := BuildToken(userID, tierID, isExtension)
	description := fmt.Sprintf("Payment for %s", tier.DisplayName)
	if isExtension {
		description = fmt.Sprintf("Renewal of %s", tier.DisplayName)
	}

	redirectURL, err := b.gateway.CreatePaymentRequest(ctx, b.receiver, tier.Price, description, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway rejected payment request")
		return nil, fmt.Errorf("failed to create payment request for %s: %w", token, err)
	}

	b.logger.InfoContext(ctx, "payment request built",
		slog.String("token", token),
		slog.String("tier", tierID),
		slog.Int("amount", tier.Price),
	)
	span.SetStatus(codes.Ok, "payment request built")

	return &types.PaymentRequest{
		RedirectURL:      redirectURL,
		CorrelationToken: token,
		Tier:             tier,
	}, nil
}
