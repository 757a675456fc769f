package types

import "time"

// TimeLayout is the textual timestamp format used in the entitlements
// table. Pre-existing rows were written in this format, so it is a
// compatibility contract, not a style choice.
const TimeLayout = "02.01.2006 15:04:05"

// Entitlement is the persisted record of a user's granted tier and its
// active window. Rows are keyed by the external chat identity and are
// never deleted by the coordinator.
type Entitlement struct {
	UserID      int64      `json:"user_id"`
	DisplayName string     `json:"display_name"`
	TierLabel   *string    `json:"tier_label,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ActiveAt reports whether the entitlement window covers the given instant.
func (e *Entitlement) ActiveAt(now time.Time) bool {
	return e.WindowEnd != nil && e.WindowEnd.After(now)
}

// Tier is a purchasable entitlement definition. The set is loaded once at
// process start and never mutated.
type Tier struct {
	ID          string        `json:"id"`
	Price       int           `json:"price"`
	DisplayName string        `json:"display_name"`
	Label       string        `json:"label"`
	Duration    time.Duration `json:"duration"`
}
