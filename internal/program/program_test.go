package program

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDefaultValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestResolveTier(t *testing.T) {
	tiers := Default().Tiers

	tests := []struct {
		name    string
		revenue int64
		tier    string
	}{
		{"zero revenue", 0, "bronze"},
		{"below silver", 4_999_99, "bronze"},
		{"silver boundary", 5_000_00, "silver"},
		{"below gold", 24_999_00, "silver"},
		{"gold boundary", 25_000_00, "gold"},
		{"platinum", 250_000_00, "platinum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := tiers.Resolve(tt.revenue)
			require.NoError(t, err)
			require.Equal(t, tt.tier, tier.Name)
		})
	}
}

func TestResolveTierMonotonic(t *testing.T) {
	tiers := Default().Tiers

	revenues := []int64{0, 100_00, 4_999_99, 5_000_00, 17_500_00, 25_000_00, 99_999_99, 100_000_00, 1_000_000_00}
	var prev int64 = -1
	for _, revenue := range revenues {
		tier, err := tiers.Resolve(revenue)
		require.NoError(t, err)
		require.GreaterOrEqual(t, tier.MinMonthlyRevenue, prev)
		prev = tier.MinMonthlyRevenue
	}
}

func TestResolveTierEmptyTable(t *testing.T) {
	_, err := TierTable{}.Resolve(100_00)
	require.ErrorIs(t, err, ErrNoTierConfigured)
}

func TestResolveTierNoZeroThreshold(t *testing.T) {
	tiers := TierTable{{Name: "silver", MinMonthlyRevenue: 5_000_00, PayoutFrequency: FrequencyMonthly, MinimumPayout: 100_00}}
	_, err := tiers.Resolve(100_00)
	require.ErrorIs(t, err, ErrNoTierConfigured)
}

func TestValidateRejectsBrokenTables(t *testing.T) {
	base := func() Program { return Default() }

	t.Run("no zero tier", func(t *testing.T) {
		p := base()
		p.Tiers = p.Tiers[1:]
		require.Error(t, p.Validate())
	})

	t.Run("threshold not increasing", func(t *testing.T) {
		p := base()
		p.Tiers[2].MinMonthlyRevenue = p.Tiers[1].MinMonthlyRevenue
		require.Error(t, p.Validate())
	})

	t.Run("bonus decreasing", func(t *testing.T) {
		p := base()
		p.Tiers[3].CommissionBonus = decimal.NewFromFloat(0.01)
		require.Error(t, p.Validate())
	})

	t.Run("frequency less often on higher tier", func(t *testing.T) {
		p := base()
		p.Tiers[3].PayoutFrequency = FrequencyMonthly
		require.Error(t, p.Validate())
	})

	t.Run("rate out of range", func(t *testing.T) {
		p := base()
		p.Rates.Plans["starter"] = PlanRates{
			Recurring: decimal.NewFromFloat(1.30),
			OneTime:   decimal.NewFromFloat(0.15),
		}
		require.Error(t, p.Validate())
	})

	t.Run("minimum payout not positive", func(t *testing.T) {
		p := base()
		p.Tiers[0].MinimumPayout = 0
		require.Error(t, p.Validate())
	})
}
