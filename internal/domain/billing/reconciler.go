package billing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/subpay-bot/internal/domain/catalog"
	"github.com/FACorreiaa/subpay-bot/internal/domain/entitlement"
	"github.com/FACorreiaa/subpay-bot/internal/types"
	"github.com/FACorreiaa/subpay-bot/pkg/observability"
)

// State is the lifecycle of one payment attempt. PENDING is the only
// non-terminal state.
type State string

const (
	StatePending  State = "PENDING"
	StateMatched  State = "MATCHED"
	StateTimedOut State = "TIMED_OUT"
	StateErrored  State = "ERRORED"
)

// Attempt is the transient record of one in-flight payment. It lives
// for the duration of its polling task and is dropped from the registry
// on any terminal outcome.
type Attempt struct {
	ID          uuid.UUID
	Token       string
	ChatID      int64
	IsExtension bool
	StartedAt   time.Time

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// State returns the attempt's current lifecycle state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Done is closed once the attempt reaches a terminal state.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Reconciler maps settled provider payments onto entitlements by
// polling the provider's operation history. One goroutine per attempt,
// bounded to MaxAttempts cycles, fire-and-forget from the caller's
// point of view.
type Reconciler struct {
	logger       *slog.Logger
	gateway      types.PaymentGateway
	entitlements entitlement.Service
	catalog      *catalog.Catalog
	sink         types.NotificationSink
	limiter      *rate.Limiter

	maxAttempts  int
	pollInterval time.Duration
	inviteURL    string

	mu       sync.Mutex
	inflight map[string]*Attempt

	now func() time.Time
}

// ReconcilerOptions bundles the knobs a Reconciler needs beyond its
// collaborators.
type ReconcilerOptions struct {
	MaxAttempts  int
	PollInterval time.Duration
	// HistoryLimiter is shared across attempts so concurrent pollers
	// cannot hammer the provider's history API.
	HistoryLimiter *rate.Limiter
	// ChannelInviteURL is attached to fresh-purchase success messages.
	ChannelInviteURL string
}

func NewReconciler(
	gateway types.PaymentGateway,
	entitlements entitlement.Service,
	cat *catalog.Catalog,
	sink types.NotificationSink,
	opts ReconcilerOptions,
	logger *slog.Logger,
) *Reconciler {
	limiter := opts.HistoryLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Reconciler{
		logger:       logger,
		gateway:      gateway,
		entitlements: entitlements,
		catalog:      cat,
		sink:         sink,
		limiter:      limiter,
		maxAttempts:  opts.MaxAttempts,
		pollInterval: opts.PollInterval,
		inviteURL:    opts.ChannelInviteURL,
		inflight:     make(map[string]*Attempt),
		now:          time.Now,
	}
}

// AttachSink sets the notification sink. Called once during wiring,
// before any attempt is spawned; the sink is constructed after the
// reconciler because it needs the chat transport.
func (r *Reconciler) AttachSink(sink types.NotificationSink) {
	r.sink = sink
}

// MaxWait is the hard ceiling on one attempt's polling window, derived
// from the attempt count and interval so the two can never drift apart.
func (r *Reconciler) MaxWait() time.Duration {
	return time.Duration(r.maxAttempts) * r.pollInterval
}

// Spawn starts a reconciliation task for the given correlation token.
// The task outlives the caller's context; on process shutdown it is
// abandoned rather than tracked. Spawning a token that is already in
// flight returns the existing attempt instead of doubling the polling.
func (r *Reconciler) Spawn(ctx context.Context, token string, chatID int64, isExtension bool) *Attempt {
	r.mu.Lock()
	if existing, ok := r.inflight[token]; ok {
		r.mu.Unlock()
		r.logger.WarnContext(ctx, "reconciliation already in flight", slog.String("token", token))
		return existing
	}

	a := &Attempt{
		ID:          uuid.New(),
		Token:       token,
		ChatID:      chatID,
		IsExtension: isExtension,
		StartedAt:   r.now(),
		state:       StatePending,
		done:        make(chan struct{}),
	}
	r.inflight[token] = a
	r.mu.Unlock()

	go r.run(context.WithoutCancel(ctx), a)
	return a
}

// InFlight reports the number of attempts currently polling.
func (r *Reconciler) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *Reconciler) run(ctx context.Context, a *Attempt) {
	observability.ReconcileInFlight.Inc()
	defer func() {
		observability.ReconcileInFlight.Dec()
		observability.ReconcileOutcomes.WithLabelValues(string(a.State())).Inc()

		r.mu.Lock()
		delete(r.inflight, a.Token)
		r.mu.Unlock()
		close(a.done)
	}()

	ctx, span := otel.Tracer("Reconciler").Start(ctx, "ReconcileAttempt", trace.WithAttributes(
		attribute.String("attempt.id", a.ID.String()),
		attribute.String("attempt.token", a.Token),
		attribute.Bool("attempt.extension", a.IsExtension),
	))
	defer span.End()

	l := r.logger.With(slog.String("token", a.Token), slog.String("attemptID", a.ID.String()))

	for cycle := 1; cycle <= r.maxAttempts; cycle++ {
		matched, err := r.pollCycle(ctx, a)
		if err != nil {
			a.setState(StateErrored)
			span.RecordError(err)
			span.SetStatus(codes.Error, "poll cycle failed")
			l.ErrorContext(ctx, "payment reconciliation failed", slog.Int("cycle", cycle), slog.Any("error", err))
			r.notify(ctx, a.ChatID, "error",
				"Something went wrong while checking your payment. Please try again later.", "")
			return
		}

		if matched {
			if err := r.settle(ctx, a); err != nil {
				a.setState(StateErrored)
				span.RecordError(err)
				span.SetStatus(codes.Error, "settlement failed")
				l.ErrorContext(ctx, "failed to apply matched payment", slog.Any("error", err))
				r.notify(ctx, a.ChatID, "error",
					"Your payment was received but activating the subscription failed. Please contact support.", "")
				return
			}
			a.setState(StateMatched)
			span.SetStatus(codes.Ok, "payment matched")
			l.InfoContext(ctx, "payment matched", slog.Int("cycle", cycle))
			return
		}

		if cycle == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			// Unreachable from Spawn, which detaches the context. Still a
			// terminal outcome, so it gets its one notification like any
			// other error.
			a.setState(StateErrored)
			span.RecordError(ctx.Err())
			span.SetStatus(codes.Error, "attempt cancelled")
			l.ErrorContext(ctx, "payment reconciliation cancelled", slog.Int("cycle", cycle))
			r.notify(ctx, a.ChatID, "error",
				"Something went wrong while checking your payment. Please try again later.", "")
			return
		case <-time.After(r.pollInterval):
		}
	}

	a.setState(StateTimedOut)
	span.SetStatus(codes.Error, "payment window expired")
	l.InfoContext(ctx, "payment window expired")
	r.notify(ctx, a.ChatID, "timeout",
		"The payment window has expired. Please try paying again.", "")
}

// pollCycle runs one history query and reports whether a settled
// operation carrying the attempt's exact token was found.
func (r *Reconciler) pollCycle(ctx context.Context, a *Attempt) (bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}

	since := r.now().Add(-r.MaxWait())
	timer := prometheus.NewTimer(observability.ProviderHistoryDuration)
	ops, err := r.gateway.OperationHistory(ctx, a.Token, since)
	timer.ObserveDuration()
	observability.ReconcilePollCycles.Inc()
	if err != nil {
		return false, err
	}

	for _, op := range ops {
		// Exact label equality, not prefix: tokens embed each other
		// ("1_sub_basic" is a prefix of "1_sub_basic_x").
		if op.Status == types.OperationStatusSuccess && op.Label == a.Token {
			return true, nil
		}
	}
	return false, nil
}

// settle applies a matched payment: it re-derives the user and tier
// from the token and grants or extends the entitlement, then emits the
// single success notification.
func (r *Reconciler) settle(ctx context.Context, a *Attempt) error {
	userID, tierID, isExtension, err := DecodeToken(a.Token)
	if err != nil {
		return err
	}

	tier, err := r.catalog.Resolve(tierID)
	if err != nil {
		return err
	}

	if isExtension {
		newEnd, err := r.entitlements.Extend(ctx, userID, tier)
		if err != nil {
			return err
		}
		r.notify(ctx, a.ChatID, "success",
			"Subscription extended. New expiry: "+newEnd.Format("02.01.2006 15:04"), "")
		return nil
	}

	displayName := "Unknown"
	if existing, err := r.entitlements.Get(ctx, userID); err == nil && existing.DisplayName != "" {
		displayName = existing.DisplayName
	}

	end, err := r.entitlements.Grant(ctx, userID, displayName, tier)
	if err != nil {
		return err
	}
	r.notify(ctx, a.ChatID, "success",
		"Payment received. Subscription active until: "+end.Format("02.01.2006 15:04"), r.inviteURL)
	return nil
}

func (r *Reconciler) notify(ctx context.Context, chatID int64, kind, text, actionURL string) {
	if err := r.sink.Deliver(ctx, chatID, text, actionURL); err != nil {
		r.logger.ErrorContext(ctx, "failed to deliver notification",
			slog.Int64("chatID", chatID),
			slog.String("kind", kind),
			slog.Any("error", err),
		)
		return
	}
	observability.NotificationsSent.WithLabelValues(kind).Inc()
}
