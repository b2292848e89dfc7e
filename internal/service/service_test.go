package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/treeoflife/affiliate/internal/balance"
	"github.com/treeoflife/affiliate/internal/commission"
	"github.com/treeoflife/affiliate/internal/model"
	"github.com/treeoflife/affiliate/internal/program"
	"github.com/treeoflife/affiliate/internal/service/config"
	"github.com/treeoflife/affiliate/internal/service/processorclient"
	"github.com/treeoflife/affiliate/internal/store"
)

// In-memory реализация store.Store для модульных тестов

type memStore struct {
	mu         sync.Mutex
	affiliates map[string]model.Affiliate
	passwords  map[string]string
	events     map[string]model.ReferralEvent
	journal    map[string][]model.Balance
	payouts    map[string]model.Payout

	codeExists    func(referralCode string) (bool, error)
	payoutFailErr error
}

func newMemStore() *memStore {
	return &memStore{
		affiliates: make(map[string]model.Affiliate),
		passwords:  make(map[string]string),
		events:     make(map[string]model.ReferralEvent),
		journal:    make(map[string][]model.Balance),
		payouts:    make(map[string]model.Payout),
	}
}

func (m *memStore) AffiliateRegister(_ context.Context, affiliate model.Affiliate, passwordHash string) error {
	if _, ok := m.passwords[affiliate.Data.Login]; ok {
		return store.ErrAlreadyExists
	}
	m.affiliates[affiliate.Code] = affiliate
	m.passwords[affiliate.Data.Login] = passwordHash
	return nil
}

func (m *memStore) AffiliateLogin(_ context.Context, login string) (string, string, error) {
	passwordHash, ok := m.passwords[login]
	if !ok {
		return "", "", store.ErrNoRows
	}
	for code, affiliate := range m.affiliates {
		if affiliate.Data.Login == login {
			return code, passwordHash, nil
		}
	}
	return "", "", store.ErrNoRows
}

func (m *memStore) AffiliateGet(_ context.Context, code string) (model.Affiliate, error) {
	affiliate, ok := m.affiliates[code]
	if !ok {
		return model.Affiliate{}, store.ErrNoRows
	}
	return affiliate, nil
}

func (m *memStore) AffiliateGetByReferralCode(_ context.Context, referralCode string) (model.Affiliate, error) {
	for _, affiliate := range m.affiliates {
		if affiliate.Data.ReferralCode == referralCode {
			return affiliate, nil
		}
	}
	return model.Affiliate{}, store.ErrNoRows
}

func (m *memStore) ReferralCodeExists(_ context.Context, referralCode string) (bool, error) {
	if m.codeExists != nil {
		return m.codeExists(referralCode)
	}
	for _, affiliate := range m.affiliates {
		if affiliate.Data.ReferralCode == referralCode {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ReferralEventPost(_ context.Context, event model.ReferralEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[event.ID]; ok {
		return store.ErrDuplicateEvent
	}
	m.events[event.ID] = event
	m.credit(event.Data.Affiliate, event.Data.Commission, event.Data.CreatedAt, event.ID)
	return nil
}

func (m *memStore) ReferralEventGet(_ context.Context, eventID string) (model.ReferralEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[eventID]
	if !ok {
		return model.ReferralEvent{}, store.ErrNoRows
	}
	return event, nil
}

func (m *memStore) credit(affiliate string, amount int64, at time.Time, ref string) {
	last := m.lastBalance(affiliate)
	m.journal[affiliate] = append(m.journal[affiliate], model.Balance{
		Key: model.BalanceKey{Affiliate: affiliate, Operation: int64(len(m.journal[affiliate]) + 1)},
		Data: model.BalanceData{
			Timestamp:  at,
			Difference: amount,
			Balance:    last.Data.Balance + amount,
			Withdrawn:  last.Data.Withdrawn,
			Ref:        ref,
		},
	})
}

func (m *memStore) lastBalance(affiliate string) model.Balance {
	rows := m.journal[affiliate]
	if len(rows) == 0 {
		return model.Balance{}
	}
	return rows[len(rows)-1]
}

func (m *memStore) ReferralStats(_ context.Context, affiliate string) (model.ReferralStats, error) {
	var stats model.ReferralStats
	for _, event := range m.events {
		if event.Data.Affiliate == affiliate {
			stats.TotalReferrals++
			stats.TotalCommission += event.Data.Commission
		}
	}
	return stats, nil
}

func (m *memStore) TrailingRevenue(_ context.Context, affiliate string) (int64, error) {
	var revenue int64
	for _, event := range m.events {
		if event.Data.Affiliate == affiliate {
			revenue += event.Data.Amount
		}
	}
	return revenue, nil
}

func (m *memStore) BalanceGetActual(_ context.Context, affiliate string) (model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBalance(affiliate), nil
}

func (m *memStore) BalanceGetHistory(_ context.Context, affiliate string) ([]model.Balance, error) {
	return m.journal[affiliate], nil
}

func (m *memStore) PayoutPost(_ context.Context, payout model.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payouts[payout.ID]; ok {
		return store.ErrDuplicateRequest
	}
	last := m.lastBalance(payout.Data.Affiliate)
	if last.Data.Balance < payout.Data.Amount {
		return store.ErrInsufficientFunds
	}
	m.payouts[payout.ID] = payout
	m.journal[payout.Data.Affiliate] = append(m.journal[payout.Data.Affiliate], model.Balance{
		Key: model.BalanceKey{Affiliate: payout.Data.Affiliate, Operation: int64(len(m.journal[payout.Data.Affiliate]) + 1)},
		Data: model.BalanceData{
			Timestamp:  payout.Data.InitiatedAt,
			Difference: -payout.Data.Amount,
			Balance:    last.Data.Balance - payout.Data.Amount,
			Withdrawn:  last.Data.Withdrawn + payout.Data.Amount,
			Ref:        payout.ID,
		},
	})
	return nil
}

func payoutStatusRank(status string) int {
	switch status {
	case model.PayoutStatusInitiated:
		return 0
	case model.PayoutStatusInTransit:
		return 1
	case model.PayoutStatusPaid, model.PayoutStatusFailed:
		return 2
	default:
		return -1
	}
}

func (m *memStore) PayoutSetStatus(_ context.Context, payoutID string, status string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payout, ok := m.payouts[payoutID]
	if !ok {
		return store.ErrNoRows
	}
	if payoutStatusRank(status) <= payoutStatusRank(payout.Data.Status) {
		return nil
	}
	payout.Data.Status = status
	payout.Data.UpdatedAt = updatedAt
	m.payouts[payoutID] = payout
	return nil
}

// PayoutFail: проверка статуса и возврат средств под одной блокировкой,
// конкурентный повтор не возвращает сумму дважды
func (m *memStore) PayoutFail(_ context.Context, payoutID string, failedAt time.Time) error {
	if m.payoutFailErr != nil {
		return m.payoutFailErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payout, ok := m.payouts[payoutID]
	if !ok {
		return store.ErrNoRows
	}
	if payoutStatusRank(model.PayoutStatusFailed) <= payoutStatusRank(payout.Data.Status) {
		return nil
	}
	payout.Data.Status = model.PayoutStatusFailed
	payout.Data.UpdatedAt = failedAt
	m.payouts[payoutID] = payout

	last := m.lastBalance(payout.Data.Affiliate)
	m.journal[payout.Data.Affiliate] = append(m.journal[payout.Data.Affiliate], model.Balance{
		Key: model.BalanceKey{Affiliate: payout.Data.Affiliate, Operation: int64(len(m.journal[payout.Data.Affiliate]) + 1)},
		Data: model.BalanceData{
			Timestamp:  failedAt,
			Difference: payout.Data.Amount,
			Balance:    last.Data.Balance + payout.Data.Amount,
			Withdrawn:  last.Data.Withdrawn - payout.Data.Amount,
			Ref:        payoutID,
		},
	})
	return nil
}

func (m *memStore) PayoutGet(_ context.Context, payoutID string) (model.Payout, error) {
	payout, ok := m.payouts[payoutID]
	if !ok {
		return model.Payout{}, store.ErrNoRows
	}
	return payout, nil
}

func (m *memStore) PayoutGetByAffiliate(_ context.Context, affiliate string) ([]model.Payout, error) {
	var payouts []model.Payout
	for _, payout := range m.payouts {
		if payout.Data.Affiliate == affiliate {
			payouts = append(payouts, payout)
		}
	}
	sort.Slice(payouts, func(i, j int) bool {
		return payouts[i].Data.InitiatedAt.After(payouts[j].Data.InitiatedAt)
	})
	return payouts, nil
}

func (m *memStore) PayoutTotalPaid(_ context.Context, affiliate string) (int64, error) {
	var total int64
	for _, payout := range m.payouts {
		if payout.Data.Affiliate == affiliate && payout.Data.Status == model.PayoutStatusPaid {
			total += payout.Data.Amount
		}
	}
	return total, nil
}

// Заглушка платежного процессора

type fakeProcessor struct {
	fail     bool
	requests []processorclient.PayoutRequest
}

func (f *fakeProcessor) CreatePayout(_ context.Context, request processorclient.PayoutRequest) (processorclient.PayoutAnswer, error) {
	if f.fail {
		return processorclient.PayoutAnswer{}, processorclient.ErrProcessor
	}
	f.requests = append(f.requests, request)
	return processorclient.PayoutAnswer{
		ProcessorRef:    "tr_" + request.PayoutID,
		Status:          model.PayoutStatusInTransit,
		ArrivalEstimate: time.Now().Add(48 * time.Hour),
	}, nil
}

func newTestService(t *testing.T, memstore *memStore, processor processorclient.ProcessorClient) *service {
	t.Helper()
	prog := program.Default()
	require.NoError(t, prog.Validate())
	return &service{
		cfg:        config.Config{BaseLink: "https://tree-of-life.io"},
		store:      memstore,
		balance:    balance.NewBalance(memstore),
		calculator: commission.NewCalculator(prog.Rates),
		program:    prog,
		processor:  processor,
		zaplog:     zap.NewNop(),
	}
}

func seedAffiliate(t *testing.T, memstore *memStore, code string, referralCode string) {
	t.Helper()
	memstore.affiliates[code] = model.Affiliate{
		Code: code,
		Data: model.AffiliateData{
			Login:         "login-" + code,
			ReferralCode:  referralCode,
			PayoutAccount: "4242424242424242",
			RegisteredAt:  time.Now(),
		},
	}
	memstore.passwords["login-"+code] = "hash"
}

func seedEvent(t *testing.T, memstore *memStore, eventID string, affiliate string, amount int64, commissionAmount int64) {
	t.Helper()
	err := memstore.ReferralEventPost(context.Background(), model.ReferralEvent{
		ID: eventID,
		Data: model.ReferralEventData{
			Affiliate:  affiliate,
			Plan:       "professional",
			Amount:     amount,
			Commission: commissionAmount,
			CreatedAt:  time.Now(),
		},
	})
	require.NoError(t, err)
}

func TestRegisterAndLogin(t *testing.T) {
	memstore := newMemStore()
	svc := newTestService(t, memstore, &fakeProcessor{})
	ctx := context.Background()

	affiliate, err := svc.Register(ctx, "partner", "password", "4242424242424242")
	require.NoError(t, err)
	require.NotEmpty(t, affiliate.Code)
	require.Len(t, affiliate.Data.ReferralCode, 16)

	loggedIn, err := svc.Login(ctx, "partner", "password")
	require.NoError(t, err)
	require.Equal(t, affiliate.Code, loggedIn.Code)

	_, err = svc.Login(ctx, "partner", "wrong")
	require.ErrorIs(t, err, ErrAuthFailed)

	_, err = svc.Register(ctx, "partner", "password", "4242424242424242")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegisterPayoutAccountIncorrect(t *testing.T) {
	svc := newTestService(t, newMemStore(), &fakeProcessor{})
	ctx := context.Background()

	// не число
	_, err := svc.Register(ctx, "partner", "password", "not-a-card")
	require.ErrorIs(t, err, ErrPayoutAccountIncorrect)

	// не проходит проверку Луна
	_, err = svc.Register(ctx, "partner", "password", "4242424242424241")
	require.ErrorIs(t, err, ErrPayoutAccountIncorrect)
}

func TestRegisterCodeGenerationExhausted(t *testing.T) {
	memstore := newMemStore()
	memstore.codeExists = func(string) (bool, error) { return true, nil }
	svc := newTestService(t, memstore, &fakeProcessor{})

	_, err := svc.Register(context.Background(), "partner", "password", "4242424242424242")
	require.ErrorIs(t, err, ErrCodeGenerationExhausted)
}

func TestGenerateReferralLink(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "ABCDEF0123456789")
	svc := newTestService(t, memstore, &fakeProcessor{})

	link, err := svc.GenerateReferralLink(context.Background(), "aff-1")
	require.NoError(t, err)
	require.Equal(t, "ABCDEF0123456789", link.ReferralCode)
	require.Equal(t, "https://tree-of-life.io?ref=ABCDEF0123456789", link.ReferralLink)
}

func TestTrackReferralBronze(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	svc := newTestService(t, memstore, &fakeProcessor{})

	// professional one-time $99, бонуса нет: комиссия $19.80
	result, err := svc.TrackReferral(context.Background(), TrackRequest{
		EventID:      "evt-1",
		ReferralCode: "CODE000000000001",
		Plan:         "professional",
		PaymentKind:  model.PaymentKindOneTime,
		Amount:       99_00,
	})
	require.NoError(t, err)
	require.Equal(t, int64(19_80), result.Commission)
	require.Equal(t, "bronze", result.Tier)
	require.False(t, result.Duplicate)

	balanceRow, err := svc.GetBalance(context.Background(), "aff-1")
	require.NoError(t, err)
	require.Equal(t, int64(19_80), balanceRow.Data.Balance)
}

func TestTrackReferralSilverBonus(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	// скользящая выручка $5,000: уровень silver, бонус 5%
	seedEvent(t, memstore, "seed-1", "aff-1", 5_000_00, 1)
	svc := newTestService(t, memstore, &fakeProcessor{})

	result, err := svc.TrackReferral(context.Background(), TrackRequest{
		EventID:      "evt-1",
		ReferralCode: "CODE000000000001",
		Plan:         "professional",
		PaymentKind:  model.PaymentKindOneTime,
		Amount:       99_00,
	})
	require.NoError(t, err)
	require.Equal(t, "silver", result.Tier)
	require.Equal(t, int64(20_79), result.Commission)
}

func TestTrackReferralIdempotent(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	svc := newTestService(t, memstore, &fakeProcessor{})
	ctx := context.Background()

	request := TrackRequest{
		EventID:      "evt-1",
		ReferralCode: "CODE000000000001",
		Plan:         "starter",
		PaymentKind:  model.PaymentKindRecurring,
		Amount:       29_00,
	}

	first, err := svc.TrackReferral(ctx, request)
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.Equal(t, "bronze", first.Tier)

	// между доставками уровень партнера вырос до silver
	seedEvent(t, memstore, "seed-1", "aff-1", 5_000_00, 1)

	// повторная доставка: успешный no-op, в ответе начисление первой доставки
	replay, err := svc.TrackReferral(ctx, request)
	require.NoError(t, err)
	require.True(t, replay.Duplicate)
	require.Equal(t, first.Commission, replay.Commission)
	require.Equal(t, "bronze", replay.Tier)

	// баланс изменился ровно один раз (плюс отдельное событие seed-1)
	balanceRow, err := svc.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.Equal(t, first.Commission+1, balanceRow.Data.Balance)
}

func TestTrackReferralErrors(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	svc := newTestService(t, memstore, &fakeProcessor{})
	ctx := context.Background()

	_, err := svc.TrackReferral(ctx, TrackRequest{
		EventID:      "evt-1",
		ReferralCode: "UNKNOWN",
		Plan:         "starter",
		PaymentKind:  model.PaymentKindRecurring,
		Amount:       29_00,
	})
	require.ErrorIs(t, err, ErrUnknownReferralCode)

	// незнакомый план не подменяется ставкой по умолчанию
	_, err = svc.TrackReferral(ctx, TrackRequest{
		EventID:      "evt-2",
		ReferralCode: "CODE000000000001",
		Plan:         "ultimate",
		PaymentKind:  model.PaymentKindRecurring,
		Amount:       29_00,
	})
	require.ErrorIs(t, err, commission.ErrUnknownPlan)

	_, err = svc.TrackReferral(ctx, TrackRequest{
		EventID:      "",
		ReferralCode: "CODE000000000001",
		Plan:         "starter",
		PaymentKind:  model.PaymentKindRecurring,
		Amount:       29_00,
	})
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestRunPayoutReady(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	// баланс $85 при минимуме bronze $50
	seedEvent(t, memstore, "seed-1", "aff-1", 100_00, 85_00)
	processor := &fakeProcessor{}
	svc := newTestService(t, memstore, processor)
	ctx := context.Background()

	result, err := svc.RunPayout(ctx, "aff-1")
	require.NoError(t, err)
	require.True(t, result.Evaluation.Decision.Ready())
	require.Equal(t, int64(85_00), result.Payout.Data.Amount)
	require.Equal(t, model.PayoutStatusInTransit, result.Payout.Data.Status)

	// процессор вызван ровно один раз на полную сумму
	require.Len(t, processor.requests, 1)
	require.Equal(t, int64(85_00), processor.requests[0].Amount)
	require.Equal(t, "4242424242424242", processor.requests[0].Destination)

	// баланс списан атомарно с записью выплаты
	balanceRow, err := svc.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balanceRow.Data.Balance)
	require.Equal(t, int64(85_00), balanceRow.Data.Withdrawn)
}

func TestRunPayoutPending(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	// баланс $30 меньше минимума bronze $50
	seedEvent(t, memstore, "seed-1", "aff-1", 40_00, 30_00)
	processor := &fakeProcessor{}
	svc := newTestService(t, memstore, processor)
	ctx := context.Background()

	result, err := svc.RunPayout(ctx, "aff-1")
	require.NoError(t, err)
	require.False(t, result.Evaluation.Decision.Ready())
	require.Equal(t, int64(50_00), result.Evaluation.Decision.MinimumRequired)

	// списания и обращения к процессору нет
	require.Empty(t, processor.requests)
	balanceRow, err := svc.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.Equal(t, int64(30_00), balanceRow.Data.Balance)
}

func TestRunPayoutProcessorError(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	seedEvent(t, memstore, "seed-1", "aff-1", 100_00, 85_00)
	svc := newTestService(t, memstore, &fakeProcessor{fail: true})
	ctx := context.Background()

	_, err := svc.RunPayout(ctx, "aff-1")
	require.ErrorIs(t, err, processorclient.ErrProcessor)

	// выплата помечена неуспешной, сумма вернулась на баланс
	payouts, err := memstore.PayoutGetByAffiliate(ctx, "aff-1")
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	require.Equal(t, model.PayoutStatusFailed, payouts[0].Data.Status)

	balanceRow, err := svc.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.Equal(t, int64(85_00), balanceRow.Data.Balance)
}

func TestRunPayoutProcessorAndFailError(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	seedEvent(t, memstore, "seed-1", "aff-1", 100_00, 85_00)
	failErr := errors.New("database gone")
	memstore.payoutFailErr = failErr
	svc := newTestService(t, memstore, &fakeProcessor{fail: true})

	// ошибка процессора видна даже когда откат выплаты тоже не удался
	_, err := svc.RunPayout(context.Background(), "aff-1")
	require.ErrorIs(t, err, processorclient.ErrProcessor)
	require.ErrorIs(t, err, failErr)
}

func TestPayoutFailConcurrentRefundOnce(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	seedEvent(t, memstore, "seed-1", "aff-1", 100_00, 85_00)
	svc := newTestService(t, memstore, &fakeProcessor{})
	ctx := context.Background()

	result, err := svc.RunPayout(ctx, "aff-1")
	require.NoError(t, err)
	payoutID := result.Payout.ID

	// конкурентная доставка одного и того же payout.failed
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.ApplyProcessorEvent(ctx, processorclient.WebhookEvent{
				Type:     processorclient.EventPayoutFailed,
				PayoutID: payoutID,
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// сумма вернулась на баланс ровно один раз
	balanceRow, err := svc.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.Equal(t, int64(85_00), balanceRow.Data.Balance)
	require.Equal(t, int64(0), balanceRow.Data.Withdrawn)

	payoutRow, err := memstore.PayoutGet(ctx, payoutID)
	require.NoError(t, err)
	require.Equal(t, model.PayoutStatusFailed, payoutRow.Data.Status)
}

func TestApplyProcessorEventIdempotent(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	seedEvent(t, memstore, "seed-1", "aff-1", 100_00, 85_00)
	svc := newTestService(t, memstore, &fakeProcessor{})
	ctx := context.Background()

	result, err := svc.RunPayout(ctx, "aff-1")
	require.NoError(t, err)
	payoutID := result.Payout.ID

	paid := processorclient.WebhookEvent{Type: processorclient.EventPayoutPaid, PayoutID: payoutID}
	require.NoError(t, svc.ApplyProcessorEvent(ctx, paid))
	// повторное и запоздавшее уведомление ничего не меняет
	require.NoError(t, svc.ApplyProcessorEvent(ctx, paid))
	require.NoError(t, svc.ApplyProcessorEvent(ctx, processorclient.WebhookEvent{
		Type:     processorclient.EventPayoutFailed,
		PayoutID: payoutID,
	}))

	payoutRow, err := memstore.PayoutGet(ctx, payoutID)
	require.NoError(t, err)
	require.Equal(t, model.PayoutStatusPaid, payoutRow.Data.Status)

	// баланс не изменился после уведомлений
	balanceRow, err := svc.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), balanceRow.Data.Balance)

	require.ErrorIs(t, svc.ApplyProcessorEvent(ctx, processorclient.WebhookEvent{
		Type:     processorclient.EventPayoutPaid,
		PayoutID: "po_missing",
	}), ErrNotFound)
}

func TestDashboardAggregates(t *testing.T) {
	memstore := newMemStore()
	seedAffiliate(t, memstore, "aff-1", "CODE000000000001")
	seedEvent(t, memstore, "seed-1", "aff-1", 5_000_00, 125_00)
	seedEvent(t, memstore, "seed-2", "aff-1", 1_000_00, 25_00)
	svc := newTestService(t, memstore, &fakeProcessor{})
	ctx := context.Background()

	dashboard, err := svc.Dashboard(ctx, "aff-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), dashboard.TotalReferrals)
	require.Equal(t, int64(150_00), dashboard.TotalCommissions)
	require.Equal(t, int64(150_00), dashboard.PendingBalance)
	require.Equal(t, int64(6_000_00), dashboard.TrailingMonthlyRevenue)
	require.Equal(t, "silver", dashboard.Tier)
	require.Equal(t, int64(0), dashboard.LifetimePaid)
}
