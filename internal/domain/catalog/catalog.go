package catalog

import (
	"fmt"
	"time"

	"github.com/FACorreiaa/subpay-bot/internal/types"
)

// Catalog is the static tier lookup. It is built once at startup and
// never mutated; the fresh-purchase/renewal distinction is carried by
// the payment attempt, not by the tier id.
type Catalog struct {
	tiers map[string]types.Tier
	order []string
}

// New builds a catalog from an arbitrary enumerated tier set, keeping
// the given order for menu rendering.
func New(tiers ...types.Tier) *Catalog {
	c := &Catalog{
		tiers: make(map[string]types.Tier, len(tiers)),
		order: make([]string, 0, len(tiers)),
	}
	for _, t := range tiers {
		c.tiers[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c
}

// Default returns the reference deployment's three tiers.
func Default() *Catalog {
	return New(
		types.Tier{
			ID:          "sub_basic",
			Price:       90,
			DisplayName: "Day pass",
			Label:       "basic_user",
			Duration:    24 * time.Hour,
		},
		types.Tier{
			ID:          "sub_standard",
			Price:       440,
			DisplayName: "Week pass",
			Label:       "standard_user",
			Duration:    7 * 24 * time.Hour,
		},
		types.Tier{
			ID:          "sub_premium",
			Price:       1620,
			DisplayName: "Month pass",
			Label:       "premium_user",
			Duration:    30 * 24 * time.Hour,
		},
	)
}

// Resolve looks up a tier by id.
func (c *Catalog) Resolve(tierID string) (types.Tier, error) {
	t, ok := c.tiers[tierID]
	if !ok {
		return types.Tier{}, fmt.Errorf("tier %q: %w", tierID, types.ErrUnknownTier)
	}
	return t, nil
}

// List returns all tiers in registration order.
func (c *Catalog) List() []types.Tier {
	out := make([]types.Tier, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.tiers[id])
	}
	return out
}
