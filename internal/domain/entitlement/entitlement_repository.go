package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/subpay-bot/internal/types"
)

var _ Repository = (*PostgresRepository)(nil)

// Repository defines the contract for entitlement persistence.
type Repository interface {
	// Upsert fully replaces the row for a user, creating it if absent.
	// It is idempotent and succeeds unconditionally.
	Upsert(ctx context.Context, params UpsertParams) error

	// Get retrieves a single entitlement.
	// Returns types.ErrNotFound if no row exists for the user.
	Get(ctx context.Context, userID int64) (*types.Entitlement, error)

	// ListAll returns every entitlement row. Used only by the expiry
	// sweeper's full scan.
	ListAll(ctx context.Context) ([]types.Entitlement, error)

	// ExtendWindow updates window_end and updated_at only.
	// Returns types.ErrNotFound when the user has no entitlement; an
	// extension must target an existing row.
	ExtendWindow(ctx context.Context, userID int64, newWindowEnd time.Time) error
}

// UpsertParams carries the full set of fields written by Upsert.
type UpsertParams struct {
	UserID      int64
	DisplayName string
	TierLabel   string
	WindowStart time.Time
	WindowEnd   time.Time
}

// DB is the subset of pgxpool.Pool the repository needs. Narrowed so
// tests can stand in a pgxmock pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	logger *slog.Logger
	pgpool DB
}

func NewPostgresRepository(pgpool DB, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *PostgresRepository) Upsert(ctx context.Context, params UpsertParams) error {
	ctx, span := otel.Tracer("EntitlementRepo").Start(ctx, "Upsert", trace.WithAttributes(
		attribute.Int64("user.id", params.UserID),
		attribute.String("tier.label", params.TierLabel),
	))
	defer span.End()

	query := `
		INSERT INTO entitlements (user_id, display_name, tier_label, window_start, window_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			tier_label   = EXCLUDED.tier_label,
			window_start = EXCLUDED.window_start,
			window_end   = EXCLUDED.window_end,
			updated_at   = EXCLUDED.updated_at
	`

	_, err := r.pgpool.Exec(ctx, query,
		params.UserID,
		params.DisplayName,
		params.TierLabel,
		params.WindowStart.Format(types.TimeLayout),
		params.WindowEnd.Format(types.TimeLayout),
		time.Now().Format(types.TimeLayout),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert entitlement")
		return fmt.Errorf("failed to upsert entitlement for user %d: %w", params.UserID, err)
	}

	span.SetStatus(codes.Ok, "entitlement upserted")
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID int64) (*types.Entitlement, error) {
	ctx, span := otel.Tracer("EntitlementRepo").Start(ctx, "Get", trace.WithAttributes(
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	query := `
		SELECT user_id, display_name, tier_label, window_start, window_end, updated_at
		FROM entitlements WHERE user_id = $1
	`

	row := r.pgpool.QueryRow(ctx, query, userID)
	ent, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "entitlement not found")
			return nil, types.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch entitlement")
		return nil, fmt.Errorf("failed to fetch entitlement for user %d: %w", userID, err)
	}

	span.SetStatus(codes.Ok, "entitlement fetched")
	return ent, nil
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]types.Entitlement, error) {
	ctx, span := otel.Tracer("EntitlementRepo").Start(ctx, "ListAll")
	defer span.End()

	query := `
		SELECT user_id, display_name, tier_label, window_start, window_end, updated_at
		FROM entitlements
	`

	rows, err := r.pgpool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list entitlements")
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var out []types.Entitlement
	for rows.Next() {
		ent, err := scanEntitlement(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to scan entitlement row")
			return nil, fmt.Errorf("failed to scan entitlement row: %w", err)
		}
		out = append(out, *ent)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "row iteration failed")
		return nil, fmt.Errorf("failed iterating entitlement rows: %w", err)
	}

	span.SetAttributes(attribute.Int("entitlements.count", len(out)))
	span.SetStatus(codes.Ok, "entitlements listed")
	return out, nil
}

func (r *PostgresRepository) ExtendWindow(ctx context.Context, userID int64, newWindowEnd time.Time) error {
	ctx, span := otel.Tracer("EntitlementRepo").Start(ctx, "ExtendWindow", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.String("window.end", newWindowEnd.Format(types.TimeLayout)),
	))
	defer span.End()

	updateBuilder := squirrel.Update("entitlements").
		PlaceholderFormat(squirrel.Dollar).
		Set("window_end", newWindowEnd.Format(types.TimeLayout)).
		Set("updated_at", time.Now().Format(types.TimeLayout)).
		Where(squirrel.Eq{"user_id": userID})

	query, args, err := updateBuilder.ToSql()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build update query")
		return fmt.Errorf("failed to build extend query: %w", err)
	}

	tag, err := r.pgpool.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to extend window")
		return fmt.Errorf("failed to extend window for user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "entitlement not found")
		return types.ErrNotFound
	}

	span.SetStatus(codes.Ok, "window extended")
	return nil
}

// scanEntitlement decodes one row, parsing the textual timestamps the
// table stores for compatibility with pre-existing data.
func scanEntitlement(row pgx.Row) (*types.Entitlement, error) {
	var (
		ent                    types.Entitlement
		windowStart, windowEnd *string
		updatedAt              string
	)
	if err := row.Scan(
		&ent.UserID,
		&ent.DisplayName,
		&ent.TierLabel,
		&windowStart,
		&windowEnd,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if ent.WindowStart, err = parseStamp(windowStart); err != nil {
		return nil, fmt.Errorf("bad window_start for user %d: %w", ent.UserID, err)
	}
	if ent.WindowEnd, err = parseStamp(windowEnd); err != nil {
		return nil, fmt.Errorf("bad window_end for user %d: %w", ent.UserID, err)
	}
	if updatedAt != "" {
		t, err := time.Parse(types.TimeLayout, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("bad updated_at for user %d: %w", ent.UserID, err)
		}
		ent.UpdatedAt = t
	}
	return &ent, nil
}

func parseStamp(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(types.TimeLayout, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
