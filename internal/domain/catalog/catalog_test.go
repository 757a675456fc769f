package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/subpay-bot/internal/types"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	tests := []struct {
		tierID   string
		price    int
		label    string
		duration time.Duration
	}{
		{"sub_basic", 90, "basic_user", 24 * time.Hour},
		{"sub_standard", 440, "standard_user", 7 * 24 * time.Hour},
		{"sub_premium", 1620, "premium_user", 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.tierID, func(t *testing.T) {
			tier, err := c.Resolve(tt.tierID)
			require.NoError(t, err)
			assert.Equal(t, tt.price, tier.Price)
			assert.Equal(t, tt.label, tier.Label)
			assert.Equal(t, tt.duration, tier.Duration)
		})
	}
}

func TestResolveUnknownTier(t *testing.T) {
	c := Default()

	_, err := c.Resolve("sub_enterprise")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnknownTier))
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	c := New(
		types.Tier{ID: "b", Price: 2},
		types.Tier{ID: "a", Price: 1},
		types.Tier{ID: "c", Price: 3},
	)

	tiers := c.List()
	require.Len(t, tiers, 3)
	assert.Equal(t, "b", tiers[0].ID)
	assert.Equal(t, "a", tiers[1].ID)
	assert.Equal(t, "c", tiers[2].ID)
}
