package billing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/subpay-bot/internal/domain/catalog"
	"github.com/FACorreiaa/subpay-bot/internal/types"
)

func newTestReconciler(gateway types.PaymentGateway, ents *MockEntitlements, sink *MockSink, maxAttempts int) *Reconciler {
	return NewReconciler(gateway, ents, catalog.Default(), sink, ReconcilerOptions{
		MaxAttempts:      maxAttempts,
		PollInterval:     time.Millisecond,
		ChannelInviteURL: "https://t.me/+invite",
	}, testLogger())
}

func awaitAttempt(t *testing.T, a *Attempt) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("attempt did not reach a terminal state in time")
	}
}

func TestReconcilerMatchesOnThirdCycle(t *testing.T) {
	const token = "123_sub_basic"
	grantEnd := time.Now().Add(24 * time.Hour)

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return([]types.Operation{}, nil).Twice()
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return([]types.Operation{{Status: types.OperationStatusSuccess, Label: token}}, nil).Once()

	ents := new(MockEntitlements)
	ents.On("Get", mock.Anything, int64(123)).Return(nil, types.ErrNotFound)
	ents.On("Grant", mock.Anything, int64(123), "Unknown",
		mock.MatchedBy(func(tier types.Tier) bool { return tier.ID == "sub_basic" })).
		Return(grantEnd, nil)

	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, int64(555), mock.Anything, mock.Anything).Return(nil)

	r := newTestReconciler(gateway, ents, sink, 30)
	a := r.Spawn(context.Background(), token, 555, false)
	awaitAttempt(t, a)

	assert.Equal(t, StateMatched, a.State())
	gateway.AssertNumberOfCalls(t, "OperationHistory", 3)
	ents.AssertNumberOfCalls(t, "Grant", 1)
	sink.AssertNumberOfCalls(t, "Deliver", 1)
	assert.Equal(t, 0, r.InFlight())
}

func TestReconcilerTimesOut(t *testing.T) {
	const token = "123_sub_basic"

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return([]types.Operation{}, nil)

	ents := new(MockEntitlements)
	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, int64(555),
		mock.MatchedBy(func(text string) bool { return strings.Contains(text, "expired") }),
		"").Return(nil)

	r := newTestReconciler(gateway, ents, sink, 5)
	a := r.Spawn(context.Background(), token, 555, false)
	awaitAttempt(t, a)

	assert.Equal(t, StateTimedOut, a.State())
	gateway.AssertNumberOfCalls(t, "OperationHistory", 5)
	sink.AssertNumberOfCalls(t, "Deliver", 1)
	ents.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ents.AssertNotCalled(t, "Extend", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcilerProviderError(t *testing.T) {
	const token = "123_sub_basic"

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return(nil, types.ErrProviderUnavailable)

	ents := new(MockEntitlements)
	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, int64(555), mock.Anything, mock.Anything).Return(nil)

	r := newTestReconciler(gateway, ents, sink, 30)
	a := r.Spawn(context.Background(), token, 555, false)
	awaitAttempt(t, a)

	assert.Equal(t, StateErrored, a.State())
	// No retry inside the attempt after a provider error.
	gateway.AssertNumberOfCalls(t, "OperationHistory", 1)
	sink.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestReconcilerExtension(t *testing.T) {
	const token = "123_extend_sub_standard"
	newEnd := time.Now().Add(8 * 24 * time.Hour)

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return([]types.Operation{{Status: types.OperationStatusSuccess, Label: token}}, nil)

	ents := new(MockEntitlements)
	ents.On("Extend", mock.Anything, int64(123),
		mock.MatchedBy(func(tier types.Tier) bool { return tier.ID == "sub_standard" })).
		Return(newEnd, nil)

	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, int64(555),
		mock.MatchedBy(func(text string) bool { return strings.Contains(text, "extended") }),
		"").Return(nil)

	r := newTestReconciler(gateway, ents, sink, 30)
	a := r.Spawn(context.Background(), token, 555, true)
	awaitAttempt(t, a)

	assert.Equal(t, StateMatched, a.State())
	ents.AssertNumberOfCalls(t, "Extend", 1)
	ents.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sink.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestReconcilerExtensionWithoutEntitlement(t *testing.T) {
	const token = "123_extend_sub_standard"

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return([]types.Operation{{Status: types.OperationStatusSuccess, Label: token}}, nil)

	ents := new(MockEntitlements)
	ents.On("Extend", mock.Anything, int64(123), mock.Anything).
		Return(time.Time{}, types.ErrNotFound)

	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, int64(555), mock.Anything, mock.Anything).Return(nil)

	r := newTestReconciler(gateway, ents, sink, 30)
	a := r.Spawn(context.Background(), token, 555, true)
	awaitAttempt(t, a)

	// Missing extension target is fatal for the attempt, not retried.
	assert.Equal(t, StateErrored, a.State())
	gateway.AssertNumberOfCalls(t, "OperationHistory", 1)
	sink.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestReconcilerMatchesExactTokenOnly(t *testing.T) {
	const token = "123_sub_basic"

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return([]types.Operation{
			{Status: types.OperationStatusSuccess, Label: "123_sub_basic_other"},
			{Status: "refused", Label: token},
		}, nil)

	ents := new(MockEntitlements)
	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, int64(555), mock.Anything, mock.Anything).Return(nil)

	r := newTestReconciler(gateway, ents, sink, 2)
	a := r.Spawn(context.Background(), token, 555, false)
	awaitAttempt(t, a)

	assert.Equal(t, StateTimedOut, a.State())
	ents.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSpawnDeduplicatesInFlightToken(t *testing.T) {
	const token = "123_sub_basic"

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return([]types.Operation{}, nil)

	ents := new(MockEntitlements)
	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	r := newTestReconciler(gateway, ents, sink, 50)
	a1 := r.Spawn(context.Background(), token, 555, false)
	a2 := r.Spawn(context.Background(), token, 555, false)

	assert.Same(t, a1, a2)
	assert.Equal(t, 1, r.InFlight())
	awaitAttempt(t, a1)
}

func TestReconcilerCancellationStillNotifies(t *testing.T) {
	const token = "123_sub_basic"

	ctx, cancel := context.WithCancel(context.Background())

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return([]types.Operation{}, nil)

	ents := new(MockEntitlements)
	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, int64(555), mock.Anything, mock.Anything).Return(nil)

	r := newTestReconciler(gateway, ents, sink, 30)
	r.pollInterval = time.Minute // cancellation must fire inside the sleep

	a := &Attempt{
		ID:     uuid.New(),
		Token:  token,
		ChatID: 555,
		state:  StatePending,
		done:   make(chan struct{}),
	}
	go r.run(ctx, a)
	awaitAttempt(t, a)

	// A dying context is a terminal outcome like any other: never silent.
	assert.Equal(t, StateErrored, a.State())
	sink.AssertNumberOfCalls(t, "Deliver", 1)
	ents.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcilerTerminatesWithinBound(t *testing.T) {
	const token = "123_sub_basic"

	gateway := new(MockGateway)
	gateway.On("OperationHistory", mock.Anything, token, mock.Anything).
		Return([]types.Operation{}, nil)

	ents := new(MockEntitlements)
	sink := new(MockSink)
	sink.On("Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	r := newTestReconciler(gateway, ents, sink, 10)
	require.Equal(t, 10*time.Millisecond, r.MaxWait())

	start := time.Now()
	a := r.Spawn(context.Background(), token, 555, false)
	awaitAttempt(t, a)

	// Generous ceiling: the bound is MaxAttempts x PollInterval plus
	// scheduling noise, nowhere near the 5s await guard.
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateTimedOut, a.State())
}
