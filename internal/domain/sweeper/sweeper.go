package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/FACorreiaa/subpay-bot/internal/domain/entitlement"
	"github.com/FACorreiaa/subpay-bot/internal/types"
	"github.com/FACorreiaa/subpay-bot/pkg/observability"
)

// Sweeper periodically scans all entitlements and warns users whose
// window is about to close. It never mutates rows and never stops on
// its own; only context cancellation ends the loop.
//
// A user inside the warning threshold is warned again on every cycle
// until the window closes. That duplication is inherited behavior the
// rest of the system expects; do not add suppression here without a
// product decision.
type Sweeper struct {
	logger       *slog.Logger
	entitlements entitlement.Service
	sink         types.NotificationSink

	interval         time.Duration
	errorBackoff     time.Duration
	warningThreshold time.Duration

	now func() time.Time
}

// Options carries the sweep cadence knobs.
type Options struct {
	Interval         time.Duration
	ErrorBackoff     time.Duration
	WarningThreshold time.Duration
}

func New(entitlements entitlement.Service, sink types.NotificationSink, opts Options, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		logger:           logger,
		entitlements:     entitlements,
		sink:             sink,
		interval:         opts.Interval,
		errorBackoff:     opts.ErrorBackoff,
		warningThreshold: opts.WarningThreshold,
		now:              time.Now,
	}
}

// Run executes sweep cycles until ctx is cancelled. A failed cycle is
// logged and followed by the shorter error backoff, then the nominal
// cadence resumes.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "expiry sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("warningThreshold", s.warningThreshold),
	)

	for {
		wait := s.interval
		if err := s.sweep(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.ErrorContext(ctx, "sweep cycle failed", slog.Any("error", err))
			observability.SweeperCycles.WithLabelValues("error").Inc()
			wait = s.errorBackoff
		} else {
			observability.SweeperCycles.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "expiry sweeper stopping")
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	s.logger.InfoContext(ctx, "expiry sweeper stopping")
	return ctx.Err()
}

// sweep runs one full scan and emits a renewal prompt for every
// entitlement expiring within the warning threshold.
func (s *Sweeper) sweep(ctx context.Context) error {
	entitlements, err := s.entitlements.ListAll(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	warned := 0
	for _, ent := range entitlements {
		if ent.WindowEnd == nil {
			continue
		}
		remaining := ent.WindowEnd.Sub(now)
		if remaining <= 0 || remaining > s.warningThreshold {
			continue
		}

		err := s.sink.Deliver(ctx, ent.UserID,
			"Your subscription expires in less than an hour. Renew it to keep your access.", "")
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to deliver expiry warning",
				slog.Int64("userID", ent.UserID),
				slog.Any("error", err),
			)
			continue
		}
		observability.SweeperWarnings.Inc()
		observability.NotificationsSent.WithLabelValues("expiry_warning").Inc()
		warned++
	}

	s.logger.DebugContext(ctx, "sweep cycle completed",
		slog.Int("scanned", len(entitlements)),
		slog.Int("warned", warned),
	)
	return nil
}
