package program

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Ставки комиссии по тарифному плану

type PlanRates struct {
	Recurring decimal.Decimal
	OneTime   decimal.Decimal
}

type RateTable struct {
	Plans   map[string]PlanRates
	Overage decimal.Decimal
}

// Периодичность выплат

type Frequency string

const (
	FrequencyMonthly  Frequency = "monthly"
	FrequencyBiWeekly Frequency = "bi-weekly"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyDaily    Frequency = "daily"
)

// rank: чем чаще выплаты, тем выше ранг
func (f Frequency) rank() int {
	switch f {
	case FrequencyMonthly:
		return 0
	case FrequencyBiWeekly:
		return 1
	case FrequencyWeekly:
		return 2
	case FrequencyDaily:
		return 3
	default:
		return -1
	}
}

func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	case FrequencyBiWeekly:
		return 14 * 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Уровни партнеров, по возрастанию порога выручки

type Tier struct {
	Name              string
	MinMonthlyRevenue int64
	CommissionBonus   decimal.Decimal
	PayoutFrequency   Frequency
	MinimumPayout     int64
	Features          []string
}

type TierTable []Tier

type Program struct {
	Rates RateTable
	Tiers TierTable
}

var (
	ErrNoTierConfigured = errors.New("no tier configured")
)

// Resolve возвращает уровень с наибольшим порогом, не превышающим выручку
func (t TierTable) Resolve(trailingMonthlyRevenue int64) (Tier, error) {
	if len(t) == 0 || t[0].MinMonthlyRevenue != 0 {
		return Tier{}, ErrNoTierConfigured
	}

	tier := t[0]
	for _, candidate := range t[1:] {
		if candidate.MinMonthlyRevenue <= trailingMonthlyRevenue {
			tier = candidate
		}
	}
	return tier, nil
}

func (t TierTable) ByName(name string) (Tier, error) {
	for _, tier := range t {
		if tier.Name == name {
			return tier, nil
		}
	}
	return Tier{}, ErrNoTierConfigured
}

// Validate проверяет инварианты таблиц при старте.
// Нарушение - фатальная ошибка конфигурации, не ошибка запроса
func (p Program) Validate() error {
	if len(p.Rates.Plans) == 0 {
		return errors.New("rate table: no plans")
	}
	one := decimal.NewFromInt(1)
	for plan, rates := range p.Rates.Plans {
		if plan == "" {
			return errors.New("rate table: empty plan name")
		}
		if rates.Recurring.IsNegative() || rates.Recurring.GreaterThan(one) {
			return fmt.Errorf("rate table: plan %s: recurring rate out of range", plan)
		}
		if rates.OneTime.IsNegative() || rates.OneTime.GreaterThan(one) {
			return fmt.Errorf("rate table: plan %s: one-time rate out of range", plan)
		}
	}
	if p.Rates.Overage.IsNegative() || p.Rates.Overage.GreaterThan(one) {
		return errors.New("rate table: overage rate out of range")
	}

	if len(p.Tiers) == 0 {
		return ErrNoTierConfigured
	}
	if p.Tiers[0].MinMonthlyRevenue != 0 {
		return fmt.Errorf("tier table: lowest tier %s must have zero revenue threshold", p.Tiers[0].Name)
	}
	for i, tier := range p.Tiers {
		if tier.Name == "" {
			return errors.New("tier table: empty tier name")
		}
		if tier.CommissionBonus.IsNegative() {
			return fmt.Errorf("tier table: tier %s: negative commission bonus", tier.Name)
		}
		if tier.PayoutFrequency.rank() < 0 {
			return fmt.Errorf("tier table: tier %s: unknown payout frequency %q", tier.Name, tier.PayoutFrequency)
		}
		if tier.MinimumPayout <= 0 {
			return fmt.Errorf("tier table: tier %s: minimum payout must be positive", tier.Name)
		}
		if i == 0 {
			continue
		}
		prev := p.Tiers[i-1]
		if tier.MinMonthlyRevenue <= prev.MinMonthlyRevenue {
			return fmt.Errorf("tier table: tier %s: revenue threshold not increasing", tier.Name)
		}
		if tier.CommissionBonus.LessThan(prev.CommissionBonus) {
			return fmt.Errorf("tier table: tier %s: commission bonus lower than %s", tier.Name, prev.Name)
		}
		if tier.PayoutFrequency.rank() < prev.PayoutFrequency.rank() {
			return fmt.Errorf("tier table: tier %s: payout frequency less often than %s", tier.Name, prev.Name)
		}
	}
	return nil
}

// Default - действующая партнерская программа. Суммы в центах
func Default() Program {
	return Program{
		Rates: RateTable{
			Plans: map[string]PlanRates{
				"starter": {
					Recurring: decimal.NewFromFloat(0.30),
					OneTime:   decimal.NewFromFloat(0.15),
				},
				"professional": {
					Recurring: decimal.NewFromFloat(0.25),
					OneTime:   decimal.NewFromFloat(0.20),
				},
				"enterprise": {
					Recurring: decimal.NewFromFloat(0.20),
					OneTime:   decimal.NewFromFloat(0.25),
				},
			},
			Overage: decimal.NewFromFloat(0.15),
		},
		Tiers: TierTable{
			{
				Name:              "bronze",
				MinMonthlyRevenue: 0,
				CommissionBonus:   decimal.Zero,
				PayoutFrequency:   FrequencyMonthly,
				MinimumPayout:     50_00,
				Features:          []string{"Basic referral link", "Monthly payouts"},
			},
			{
				Name:              "silver",
				MinMonthlyRevenue: 5_000_00,
				CommissionBonus:   decimal.NewFromFloat(0.05),
				PayoutFrequency:   FrequencyBiWeekly,
				MinimumPayout:     100_00,
				Features: []string{
					"White-label landing page",
					"Marketing materials",
					"Bi-weekly payouts",
					"Dedicated support",
				},
			},
			{
				Name:              "gold",
				MinMonthlyRevenue: 25_000_00,
				CommissionBonus:   decimal.NewFromFloat(0.10),
				PayoutFrequency:   FrequencyWeekly,
				MinimumPayout:     200_00,
				Features: []string{
					"Custom integration",
					"Co-marketing opportunities",
					"Weekly payouts",
					"Priority support",
					"Revenue share negotiations",
				},
			},
			{
				Name:              "platinum",
				MinMonthlyRevenue: 100_000_00,
				CommissionBonus:   decimal.NewFromFloat(0.15),
				PayoutFrequency:   FrequencyDaily,
				MinimumPayout:     500_00,
				Features: []string{
					"Full white-label solution",
					"Strategic partnership",
					"Daily payouts",
					"Dedicated account manager",
					"Custom SLA",
				},
			},
		},
	}
}
