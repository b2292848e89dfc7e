package commission

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/treeoflife/affiliate/internal/model"
	"github.com/treeoflife/affiliate/internal/program"
)

var (
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrUnknownPaymentKind = errors.New("unknown payment kind")
	ErrAmountIncorrect    = errors.New("amount must be positive")
)

type Calculator struct {
	rates program.RateTable
}

func NewCalculator(rates program.RateTable) Calculator {
	return Calculator{rates: rates}
}

// Compute считает комиссию в центах: amount * rate * (1 + bonus).
// Округление half-up, один раз в конце
func (c Calculator) Compute(plan string, kind string, amount int64, bonus decimal.Decimal) (int64, error) {
	if amount <= 0 {
		return 0, ErrAmountIncorrect
	}

	rate, err := c.baseRate(plan, kind)
	if err != nil {
		return 0, err
	}

	commission := decimal.NewFromInt(amount).
		Mul(rate).
		Mul(decimal.NewFromInt(1).Add(bonus)).
		Round(0)

	return commission.IntPart(), nil
}

func (c Calculator) baseRate(plan string, kind string) (decimal.Decimal, error) {
	rates, ok := c.rates.Plans[plan]
	if !ok {
		return decimal.Decimal{}, ErrUnknownPlan
	}

	switch kind {
	case model.PaymentKindRecurring:
		return rates.Recurring, nil
	case model.PaymentKindOneTime:
		return rates.OneTime, nil
	case model.PaymentKindOverage:
		return c.rates.Overage, nil
	default:
		return decimal.Decimal{}, ErrUnknownPaymentKind
	}
}
