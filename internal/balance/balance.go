package balance

import (
	"context"

	"github.com/treeoflife/affiliate/internal/model"
	"github.com/treeoflife/affiliate/internal/store"
)

type Balance interface {
	Credit(ctx context.Context, event model.ReferralEvent) error
	Debit(ctx context.Context, payout model.Payout) error
	Get(ctx context.Context, affiliate string) (model.Balance, error)
	GetHistory(ctx context.Context, affiliate string) ([]model.Balance, error)
}

type balance struct {
	store store.Store
}

func NewBalance(store store.Store) Balance {
	balance := balance{store: store}
	return &balance
}

func (balance *balance) Get(ctx context.Context, affiliate string) (model.Balance, error) {
	return balance.store.BalanceGetActual(ctx, affiliate)
}

func (balance *balance) GetHistory(ctx context.Context, affiliate string) ([]model.Balance, error) {
	return balance.store.BalanceGetHistory(ctx, affiliate)
}

// Credit начисляет комиссию по реферальному событию.
// Идемпотентность по event.ID обеспечивает store
func (balance *balance) Credit(ctx context.Context, event model.ReferralEvent) error {
	return balance.store.ReferralEventPost(ctx, event)
}

// Debit списывает баланс под попытку выплаты.
// Идемпотентность по payout.ID обеспечивает store
func (balance *balance) Debit(ctx context.Context, payout model.Payout) error {
	return balance.store.PayoutPost(ctx, payout)
}
