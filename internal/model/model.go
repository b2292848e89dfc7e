package model

import "time"

// Партнеры

type Affiliate struct {
	Code string
	Data AffiliateData
}
type AffiliateData struct {
	Login         string
	ReferralCode  string
	PayoutAccount string
	RegisteredAt  time.Time
}

// Реферальные события

type ReferralEvent struct {
	ID   string
	Data ReferralEventData
}
type ReferralEventData struct {
	Affiliate    string
	ReferralCode string
	Plan         string
	PaymentKind  string
	Amount       int64
	Commission   int64
	Tier         string
	CreatedAt    time.Time
}

const (
	PaymentKindRecurring = "subscription"
	PaymentKindOneTime   = "one_time"
	PaymentKindOverage   = "api_usage"
)

type ReferralStats struct {
	TotalReferrals  int64
	TotalCommission int64
}

// Баланс и история

type Balance struct {
	Key  BalanceKey
	Data BalanceData
}
type BalanceKey struct {
	Affiliate string
	Operation int64
}
type BalanceData struct {
	Timestamp  time.Time
	Difference int64
	Balance    int64
	Withdrawn  int64
	Ref        string
}

// Выплаты

type Payout struct {
	ID   string
	Data PayoutData
}
type PayoutData struct {
	Affiliate   string
	Amount      int64
	Status      string
	Frequency   string
	InitiatedAt time.Time
	UpdatedAt   time.Time
}

const (
	PayoutStatusInitiated = "initiated"
	PayoutStatusInTransit = "in_transit"
	PayoutStatusPaid      = "paid"
	PayoutStatusFailed    = "failed"
)
