package payout

import (
	"fmt"

	"github.com/treeoflife/affiliate/internal/program"
)

const (
	StatusReady   = "ready"
	StatusPending = "pending"
)

// Decision - результат проверки, баланс не изменяется
type Decision struct {
	Status          string
	Amount          int64
	MinimumRequired int64
	Reason          string
}

func (d Decision) Ready() bool {
	return d.Status == StatusReady
}

// Evaluate: выплата возможна, если баланс не меньше минимума уровня.
// Равенство - выплата возможна
func Evaluate(pendingBalance int64, tier program.Tier) Decision {
	if pendingBalance < tier.MinimumPayout {
		shortfall := tier.MinimumPayout - pendingBalance
		return Decision{
			Status:          StatusPending,
			Amount:          pendingBalance,
			MinimumRequired: tier.MinimumPayout,
			Reason: fmt.Sprintf("payout requires minimum $%.2f, short $%.2f",
				float64(tier.MinimumPayout)/100, float64(shortfall)/100),
		}
	}

	return Decision{
		Status:          StatusReady,
		Amount:          pendingBalance,
		MinimumRequired: tier.MinimumPayout,
	}
}
