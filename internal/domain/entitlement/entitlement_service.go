package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/subpay-bot/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

// Service is the business-logic contract for entitlement mutations. All
// grants and extensions funnel through here so the read cache stays
// coherent with writes.
type Service interface {
	// Get returns the user's entitlement, served from a short-lived
	// cache on the hot presentation path.
	Get(ctx context.Context, userID int64) (*types.Entitlement, error)

	// Grant overwrites the user's window with a fresh one starting now.
	Grant(ctx context.Context, userID int64, displayName string, tier types.Tier) (time.Time, error)

	// Extend pushes the existing window_end forward by the tier's
	// duration. Returns types.ErrNotFound when the user has no
	// entitlement or no active window to extend.
	Extend(ctx context.Context, userID int64, tier types.Tier) (time.Time, error)

	// ListAll exposes the repository full scan to the sweeper.
	ListAll(ctx context.Context) ([]types.Entitlement, error)
}

// ServiceImpl provides the implementation for Service.
type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
	cache  *cache.Cache
	now    func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
		cache:  cache.New(30*time.Second, time.Minute),
		now:    time.Now,
	}
}

func (s *ServiceImpl) Get(ctx context.Context, userID int64) (*types.Entitlement, error) {
	key := cacheKey(userID)
	if v, found := s.cache.Get(key); found {
		if ent, ok := v.(*types.Entitlement); ok {
			return ent, nil
		}
	}

	ent, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, ent, cache.DefaultExpiration)
	return ent, nil
}

func (s *ServiceImpl) Grant(ctx context.Context, userID int64, displayName string, tier types.Tier) (time.Time, error) {
	ctx, span := otel.Tracer("EntitlementService").Start(ctx, "Grant", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("tier.id", tier.ID),
	))
	defer span.End()

	start := s.now()
	end := start.Add(tier.Duration)

	err := s.repo.Upsert(ctx, UpsertParams{
		UserID:      userID,
		DisplayName: displayName,
		TierLabel:   tier.Label,
		WindowStart: start,
		WindowEnd:   end,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grant failed")
		return time.Time{}, err
	}

	s.cache.Delete(cacheKey(userID))
	s.logger.InfoContext(ctx, "entitlement granted",
		slog.Int64("userID", userID),
		slog.String("label", tier.Label),
		slog.Time("windowEnd", end),
	)
	span.SetStatus(codes.Ok, "entitlement granted")
	return end, nil
}

func (s *ServiceImpl) Extend(ctx context.Context, userID int64, tier types.Tier) (time.Time, error) {
	ctx, span := otel.Tracer("EntitlementService").Start(ctx, "Extend", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("tier.id", tier.ID),
	))
	defer span.End()

	// Extensions read the repository directly: a stale cached window
	// here would shorten the computed extension.
	current, err := s.repo.Get(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extension target missing")
		return time.Time{}, err
	}
	if current.WindowEnd == nil {
		span.SetStatus(codes.Error, "no window to extend")
		return time.Time{}, fmt.Errorf("user %d has no subscription window: %w", userID, types.ErrNotFound)
	}

	newEnd := current.WindowEnd.Add(tier.Duration)
	if err := s.repo.ExtendWindow(ctx, userID, newEnd); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extension failed")
		return time.Time{}, err
	}

	s.cache.Delete(cacheKey(userID))
	s.logger.InfoContext(ctx, "entitlement extended",
		slog.Int64("userID", userID),
		slog.Time("windowEnd", newEnd),
	)
	span.SetStatus(codes.Ok, "entitlement extended")
	return newEnd, nil
}

func (s *ServiceImpl) ListAll(ctx context.Context) ([]types.Entitlement, error) {
	return s.repo.ListAll(ctx)
}

func cacheKey(userID int64) string {
	return "entitlement:" + strconv.FormatInt(userID, 10)
}
