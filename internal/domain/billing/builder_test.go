package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/subpay-bot/internal/domain/catalog"
	"github.com/FACorreiaa/subpay-bot/internal/types"
)

func TestBuildPaymentRequest(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("CreatePaymentRequest",
		mock.Anything, "wallet-1", 90, "Payment for Day pass", "123_sub_basic").
		Return("https://pay.example/redirect", nil)

	b := NewBuilder(catalog.Default(), gateway, "wallet-1", testLogger())

	req, err := b.BuildPaymentRequest(context.Background(), "sub_basic", 123, false)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/redirect", req.RedirectURL)
	assert.Equal(t, "123_sub_basic", req.CorrelationToken)
	assert.Equal(t, "sub_basic", req.Tier.ID)
	gateway.AssertExpectations(t)
}

func TestBuildPaymentRequestExtension(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("CreatePaymentRequest",
		mock.Anything, "wallet-1", 440, "Renewal of Week pass", "123_extend_sub_standard").
		Return("https://pay.example/redirect", nil)

	b := NewBuilder(catalog.Default(), gateway, "wallet-1", testLogger())

	req, err := b.BuildPaymentRequest(context.Background(), "sub_standard", 123, true)
	require.NoError(t, err)
	assert.Equal(t, "123_extend_sub_standard", req.CorrelationToken)
	gateway.AssertExpectations(t)
}

func TestBuildPaymentRequestUnknownTier(t *testing.T) {
	gateway := new(MockGateway)
	b := NewBuilder(catalog.Default(), gateway, "wallet-1", testLogger())

	_, err := b.BuildPaymentRequest(context.Background(), "sub_lifetime", 123, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnknownTier))
	gateway.AssertNotCalled(t, "CreatePaymentRequest",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBuildPaymentRequestGatewayFailure(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("CreatePaymentRequest",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", types.ErrProviderUnavailable)

	b := NewBuilder(catalog.Default(), gateway, "wallet-1", testLogger())

	_, err := b.BuildPaymentRequest(context.Background(), "sub_basic", 123, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrProviderUnavailable))
}
