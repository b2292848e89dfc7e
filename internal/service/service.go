package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/theplant/luhn"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/treeoflife/affiliate/internal/balance"
	"github.com/treeoflife/affiliate/internal/commission"
	"github.com/treeoflife/affiliate/internal/model"
	"github.com/treeoflife/affiliate/internal/payout"
	"github.com/treeoflife/affiliate/internal/program"
	"github.com/treeoflife/affiliate/internal/refcode"
	"github.com/treeoflife/affiliate/internal/service/config"
	"github.com/treeoflife/affiliate/internal/service/processorclient"
	"github.com/treeoflife/affiliate/internal/store"
)

type Service interface {
	Register(ctx context.Context, login string, password string, payoutAccount string) (model.Affiliate, error)
	Login(ctx context.Context, login string, password string) (model.Affiliate, error)
	GenerateReferralLink(ctx context.Context, affiliateCode string) (ReferralLink, error)
	TrackReferral(ctx context.Context, request TrackRequest) (TrackResult, error)
	GetBalance(ctx context.Context, affiliateCode string) (model.Balance, error)
	BalanceHistory(ctx context.Context, affiliateCode string) ([]model.Balance, error)
	EvaluatePayout(ctx context.Context, affiliateCode string) (PayoutEvaluation, error)
	RunPayout(ctx context.Context, affiliateCode string) (PayoutResult, error)
	Dashboard(ctx context.Context, affiliateCode string) (Dashboard, error)
	PayoutHistory(ctx context.Context, affiliateCode string) ([]model.Payout, int64, error)
	Structure() program.Program
	ApplyProcessorEvent(ctx context.Context, event processorclient.WebhookEvent) error
}

var (
	ErrInsufficientData        = errors.New("insufficient data")
	ErrAlreadyExists           = errors.New("already exists")
	ErrAuthFailed              = errors.New("login/password is incorrect")
	ErrPayoutAccountIncorrect  = errors.New("payout account is incorrect")
	ErrCodeGenerationExhausted = errors.New("referral code generation exhausted")
	ErrUnknownReferralCode     = errors.New("unknown referral code")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrNotFound                = errors.New("not found")
)

// Ограничение попыток генерации уникального кода
const maxCodeAttempts = 5

type ReferralLink struct {
	ReferralCode string
	ReferralLink string
}

type TrackRequest struct {
	EventID      string
	ReferralCode string
	Plan         string
	PaymentKind  string
	Amount       int64
}

type TrackResult struct {
	EventID    string
	Commission int64
	Tier       string
	Duplicate  bool
}

type PayoutEvaluation struct {
	Decision   payout.Decision
	Tier       string
	Frequency  string
	NextPayout time.Time
}

type PayoutResult struct {
	Evaluation      PayoutEvaluation
	Payout          model.Payout
	ArrivalEstimate time.Time
}

type Dashboard struct {
	TotalReferrals         int64
	TotalCommissions       int64
	PendingBalance         int64
	LifetimePaid           int64
	TrailingMonthlyRevenue int64
	Tier                   string
	NextPayout             time.Time
}

type service struct {
	cfg        config.Config
	store      store.Store
	balance    balance.Balance
	calculator commission.Calculator
	program    program.Program
	processor  processorclient.ProcessorClient
	zaplog     *zap.Logger
}

func NewService(cfg config.Config, store store.Store, prog program.Program, zaplog *zap.Logger) (Service, error) {
	// Таблицы ставок и уровней неизменяемы, проверяются один раз при старте
	if err := prog.Validate(); err != nil {
		return nil, err
	}

	balance := balance.NewBalance(store)
	processor := processorclient.NewProcessorClient(cfg.ProcessorAddr)

	service := service{
		cfg:        cfg,
		store:      store,
		balance:    balance,
		calculator: commission.NewCalculator(prog.Rates),
		program:    prog,
		processor:  processor,
		zaplog:     zaplog,
	}

	return &service, nil
}

func (service *service) Register(ctx context.Context, login string, password string, payoutAccount string) (model.Affiliate, error) {
	if login == "" || password == "" || payoutAccount == "" {
		return model.Affiliate{}, ErrInsufficientData
	}

	// Проверка номера карты выплат по алгоритму Луна
	account, err := strconv.Atoi(payoutAccount)
	if err != nil || !luhn.Valid(account) {
		return model.Affiliate{}, ErrPayoutAccountIncorrect
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.Affiliate{}, err
	}

	referralCode, err := service.newReferralCode(ctx)
	if err != nil {
		return model.Affiliate{}, err
	}

	affiliate := model.Affiliate{
		Code: uuid.NewString(),
		Data: model.AffiliateData{
			Login:         login,
			ReferralCode:  referralCode,
			PayoutAccount: payoutAccount,
			RegisteredAt:  time.Now(),
		},
	}

	err = service.store.AffiliateRegister(ctx, affiliate, string(passwordHash))
	if err != nil {
		switch err {
		case store.ErrAlreadyExists:
			return model.Affiliate{}, ErrAlreadyExists
		default:
			return model.Affiliate{}, err
		}
	}

	return affiliate, nil
}

// newReferralCode: генератор кодов не хранит состояние, уникальность
// обеспечивает проверка по базе с ограниченным числом попыток
func (service *service) newReferralCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := refcode.Generate()
		if err != nil {
			return "", err
		}
		exists, err := service.store.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeGenerationExhausted
}

func (service *service) Login(ctx context.Context, login string, password string) (model.Affiliate, error) {
	if login == "" || password == "" {
		return model.Affiliate{}, ErrInsufficientData
	}

	code, passwordHash, err := service.store.AffiliateLogin(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Affiliate{}, ErrAuthFailed
		}
		return model.Affiliate{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return model.Affiliate{}, ErrAuthFailed
	}

	return service.store.AffiliateGet(ctx, code)
}

func (service *service) GenerateReferralLink(ctx context.Context, affiliateCode string) (ReferralLink, error) {
	if affiliateCode == "" {
		return ReferralLink{}, ErrInsufficientData
	}

	affiliate, err := service.store.AffiliateGet(ctx, affiliateCode)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return ReferralLink{}, ErrNotFound
		}
		return ReferralLink{}, err
	}

	return ReferralLink{
		ReferralCode: affiliate.Data.ReferralCode,
		ReferralLink: service.cfg.BaseLink + "?ref=" + affiliate.Data.ReferralCode,
	}, nil
}

// TrackReferral начисляет комиссию по реферальному событию.
// Повторная доставка события (тот же EventID) - успешный no-op
func (service *service) TrackReferral(ctx context.Context, request TrackRequest) (TrackResult, error) {
	if request.EventID == "" || request.ReferralCode == "" || request.Plan == "" || request.PaymentKind == "" {
		return TrackResult{}, ErrInsufficientData
	}
	if request.Amount <= 0 {
		return TrackResult{}, ErrInsufficientData
	}

	affiliate, err := service.store.AffiliateGetByReferralCode(ctx, request.ReferralCode)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return TrackResult{}, ErrUnknownReferralCode
		}
		return TrackResult{}, err
	}

	tier, err := service.resolveTier(ctx, affiliate.Code)
	if err != nil {
		return TrackResult{}, err
	}

	// Бонус уровня умножает комиссию
	commissionAmount, err := service.calculator.Compute(request.Plan, request.PaymentKind, request.Amount, tier.CommissionBonus)
	if err != nil {
		return TrackResult{}, err
	}

	event := model.ReferralEvent{
		ID: request.EventID,
		Data: model.ReferralEventData{
			Affiliate:    affiliate.Code,
			ReferralCode: request.ReferralCode,
			Plan:         request.Plan,
			PaymentKind:  request.PaymentKind,
			Amount:       request.Amount,
			Commission:   commissionAmount,
			Tier:         tier.Name,
			CreatedAt:    time.Now(),
		},
	}

	result := TrackResult{
		EventID:    request.EventID,
		Commission: commissionAmount,
		Tier:       tier.Name,
	}

	err = service.balance.Credit(ctx, event)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			service.zaplog.Info("duplicate referral event",
				zap.String("event_id", request.EventID),
				zap.String("affiliate", affiliate.Code))
			// в ответе то, что было начислено первой доставкой:
			// уровень мог смениться между доставками
			stored, err := service.store.ReferralEventGet(ctx, request.EventID)
			if err != nil {
				return TrackResult{}, err
			}
			result.Commission = stored.Data.Commission
			result.Tier = stored.Data.Tier
			result.Duplicate = true
			return result, nil
		}
		return TrackResult{}, err
	}

	return result, nil
}

func (service *service) resolveTier(ctx context.Context, affiliateCode string) (program.Tier, error) {
	revenue, err := service.store.TrailingRevenue(ctx, affiliateCode)
	if err != nil {
		return program.Tier{}, err
	}
	return service.program.Tiers.Resolve(revenue)
}

func (service *service) GetBalance(ctx context.Context, affiliateCode string) (model.Balance, error) {
	if affiliateCode == "" {
		return model.Balance{}, ErrInsufficientData
	}
	return service.balance.Get(ctx, affiliateCode)
}

func (service *service) BalanceHistory(ctx context.Context, affiliateCode string) ([]model.Balance, error) {
	if affiliateCode == "" {
		return nil, ErrInsufficientData
	}
	return service.balance.GetHistory(ctx, affiliateCode)
}

func (service *service) EvaluatePayout(ctx context.Context, affiliateCode string) (PayoutEvaluation, error) {
	if affiliateCode == "" {
		return PayoutEvaluation{}, ErrInsufficientData
	}
	if _, err := service.store.AffiliateGet(ctx, affiliateCode); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return PayoutEvaluation{}, ErrNotFound
		}
		return PayoutEvaluation{}, err
	}

	tier, err := service.resolveTier(ctx, affiliateCode)
	if err != nil {
		return PayoutEvaluation{}, err
	}

	balanceRow, err := service.balance.Get(ctx, affiliateCode)
	if err != nil {
		return PayoutEvaluation{}, err
	}

	nextPayout, err := service.nextPayoutDate(ctx, affiliateCode, tier)
	if err != nil {
		return PayoutEvaluation{}, err
	}

	return PayoutEvaluation{
		Decision:   payout.Evaluate(balanceRow.Data.Balance, tier),
		Tier:       tier.Name,
		Frequency:  string(tier.PayoutFrequency),
		NextPayout: nextPayout,
	}, nil
}

// Дата следующей выплаты: от последней попытки по графику уровня
func (service *service) nextPayoutDate(ctx context.Context, affiliateCode string, tier program.Tier) (time.Time, error) {
	payouts, err := service.store.PayoutGetByAffiliate(ctx, affiliateCode)
	if err != nil {
		return time.Time{}, err
	}
	if len(payouts) == 0 {
		return time.Now().Add(tier.PayoutFrequency.Interval()), nil
	}
	return payouts[0].Data.InitiatedAt.Add(tier.PayoutFrequency.Interval()), nil
}

// RunPayout: списание баланса и запись попытки выплаты атомарны,
// после чего вызывается процессор. Ошибка процессора возвращает
// средства на баланс и отдается вызывающей стороне без ретраев
func (service *service) RunPayout(ctx context.Context, affiliateCode string) (PayoutResult, error) {
	evaluation, err := service.EvaluatePayout(ctx, affiliateCode)
	if err != nil {
		return PayoutResult{}, err
	}
	if !evaluation.Decision.Ready() {
		return PayoutResult{Evaluation: evaluation}, nil
	}

	affiliate, err := service.store.AffiliateGet(ctx, affiliateCode)
	if err != nil {
		return PayoutResult{}, err
	}

	payoutID, err := refcode.PayoutID()
	if err != nil {
		return PayoutResult{}, err
	}

	now := time.Now()
	payoutRow := model.Payout{
		ID: payoutID,
		Data: model.PayoutData{
			Affiliate:   affiliateCode,
			Amount:      evaluation.Decision.Amount,
			Status:      model.PayoutStatusInitiated,
			Frequency:   evaluation.Frequency,
			InitiatedAt: now,
			UpdatedAt:   now,
		},
	}

	err = service.balance.Debit(ctx, payoutRow)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			return PayoutResult{}, ErrInsufficientFunds
		default:
			return PayoutResult{}, err
		}
	}

	answer, err := service.processor.CreatePayout(ctx, processorclient.PayoutRequest{
		PayoutID:    payoutID,
		Amount:      payoutRow.Data.Amount,
		Currency:    "usd",
		Destination: affiliate.Data.PayoutAccount,
	})
	if err != nil {
		service.zaplog.Error("processor payout failed",
			zap.String("payout_id", payoutID),
			zap.Error(err))
		if failErr := service.store.PayoutFail(ctx, payoutID, time.Now()); failErr != nil {
			// ошибка процессора остается видна вызывающей стороне
			return PayoutResult{}, errors.Join(err, failErr)
		}
		return PayoutResult{}, err
	}

	if err := service.store.PayoutSetStatus(ctx, payoutID, model.PayoutStatusInTransit, time.Now()); err != nil {
		return PayoutResult{}, err
	}
	payoutRow.Data.Status = model.PayoutStatusInTransit

	return PayoutResult{
		Evaluation:      evaluation,
		Payout:          payoutRow,
		ArrivalEstimate: answer.ArrivalEstimate,
	}, nil
}

func (service *service) Dashboard(ctx context.Context, affiliateCode string) (Dashboard, error) {
	if affiliateCode == "" {
		return Dashboard{}, ErrInsufficientData
	}
	if _, err := service.store.AffiliateGet(ctx, affiliateCode); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return Dashboard{}, ErrNotFound
		}
		return Dashboard{}, err
	}

	stats, err := service.store.ReferralStats(ctx, affiliateCode)
	if err != nil {
		return Dashboard{}, err
	}
	balanceRow, err := service.balance.Get(ctx, affiliateCode)
	if err != nil {
		return Dashboard{}, err
	}
	paid, err := service.store.PayoutTotalPaid(ctx, affiliateCode)
	if err != nil {
		return Dashboard{}, err
	}
	revenue, err := service.store.TrailingRevenue(ctx, affiliateCode)
	if err != nil {
		return Dashboard{}, err
	}
	tier, err := service.program.Tiers.Resolve(revenue)
	if err != nil {
		return Dashboard{}, err
	}
	nextPayout, err := service.nextPayoutDate(ctx, affiliateCode, tier)
	if err != nil {
		return Dashboard{}, err
	}

	return Dashboard{
		TotalReferrals:         stats.TotalReferrals,
		TotalCommissions:       stats.TotalCommission,
		PendingBalance:         balanceRow.Data.Balance,
		LifetimePaid:           paid,
		TrailingMonthlyRevenue: revenue,
		Tier:                   tier.Name,
		NextPayout:             nextPayout,
	}, nil
}

func (service *service) PayoutHistory(ctx context.Context, affiliateCode string) ([]model.Payout, int64, error) {
	if affiliateCode == "" {
		return nil, 0, ErrInsufficientData
	}

	payouts, err := service.store.PayoutGetByAffiliate(ctx, affiliateCode)
	if err != nil {
		return nil, 0, err
	}
	paid, err := service.store.PayoutTotalPaid(ctx, affiliateCode)
	if err != nil {
		return nil, 0, err
	}
	return payouts, paid, nil
}

func (service *service) Structure() program.Program {
	return service.program
}

// ApplyProcessorEvent применяет уведомление процессора к записи выплаты.
// Повторные и запоздавшие уведомления - no-op
func (service *service) ApplyProcessorEvent(ctx context.Context, event processorclient.WebhookEvent) error {
	if event.PayoutID == "" {
		return ErrInsufficientData
	}

	switch event.Type {
	case processorclient.EventPayoutPaid:
		err := service.store.PayoutSetStatus(ctx, event.PayoutID, model.PayoutStatusPaid, time.Now())
		if errors.Is(err, store.ErrNoRows) {
			return ErrNotFound
		}
		return err
	case processorclient.EventPayoutFailed:
		err := service.store.PayoutFail(ctx, event.PayoutID, time.Now())
		if errors.Is(err, store.ErrNoRows) {
			return ErrNotFound
		}
		return err
	default:
		// незнакомые типы событий пропускаем
		service.zaplog.Info("skip processor event", zap.String("type", event.Type))
		return nil
	}
}
