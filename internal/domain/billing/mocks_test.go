package billing

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/FACorreiaa/subpay-bot/internal/types"
)

// --- Mock gateway ---

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePaymentRequest(ctx context.Context, receiver string, amount int, description, correlationLabel string) (string, error) {
	args := m.Called(ctx, receiver, amount, description, correlationLabel)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) OperationHistory(ctx context.Context, correlationLabel string, since time.Time) ([]types.Operation, error) {
	args := m.Called(ctx, correlationLabel, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Operation), args.Error(1)
}

// --- Mock notification sink ---

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Deliver(ctx context.Context, chatID int64, text string, actionURL string) error {
	args := m.Called(ctx, chatID, text, actionURL)
	return args.Error(0)
}

// --- Mock entitlement service ---

type MockEntitlements struct {
	mock.Mock
}

func (m *MockEntitlements) Get(ctx context.Context, userID int64) (*types.Entitlement, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Entitlement), args.Error(1)
}

func (m *MockEntitlements) Grant(ctx context.Context, userID int64, displayName string, tier types.Tier) (time.Time, error) {
	args := m.Called(ctx, userID, displayName, tier)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockEntitlements) Extend(ctx context.Context, userID int64, tier types.Tier) (time.Time, error) {
	args := m.Called(ctx, userID, tier)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockEntitlements) ListAll(ctx context.Context) ([]types.Entitlement, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Entitlement), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
