package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/treeoflife/affiliate/internal/model"
	"github.com/treeoflife/affiliate/internal/store/config"
)

type Store interface {
	AffiliateRegister(ctx context.Context, affiliate model.Affiliate, passwordHash string) error
	AffiliateLogin(ctx context.Context, login string) (string, string, error)
	AffiliateGet(ctx context.Context, code string) (model.Affiliate, error)
	AffiliateGetByReferralCode(ctx context.Context, referralCode string) (model.Affiliate, error)
	ReferralCodeExists(ctx context.Context, referralCode string) (bool, error)
	ReferralEventPost(ctx context.Context, event model.ReferralEvent) error
	ReferralEventGet(ctx context.Context, eventID string) (model.ReferralEvent, error)
	ReferralStats(ctx context.Context, affiliate string) (model.ReferralStats, error)
	TrailingRevenue(ctx context.Context, affiliate string) (int64, error)
	BalanceGetActual(ctx context.Context, affiliate string) (model.Balance, error)
	BalanceGetHistory(ctx context.Context, affiliate string) ([]model.Balance, error)
	PayoutPost(ctx context.Context, payout model.Payout) error
	PayoutSetStatus(ctx context.Context, payoutID string, status string, updatedAt time.Time) error
	PayoutFail(ctx context.Context, payoutID string, failedAt time.Time) error
	PayoutGet(ctx context.Context, payoutID string) (model.Payout, error)
	PayoutGetByAffiliate(ctx context.Context, affiliate string) ([]model.Payout, error)
	PayoutTotalPaid(ctx context.Context, affiliate string) (int64, error)
}

var (
	ErrNoRows            = errors.New("no rows")
	ErrAlreadyExists     = errors.New("already exists")
	ErrDuplicateEvent    = errors.New("duplicate referral event")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrAmountIncorrect   = errors.New("amount value is incorrect")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Окно скользящей месячной выручки для определения уровня
const trailingWindow = 30 * 24 * time.Hour

const pgUniqueViolation = "23505"

type store struct {
	database     *sql.DB
	mu           sync.Mutex
	balanceMutex map[string]*sync.Mutex
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица партнеров
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS affiliate (" +
			" code VARCHAR (36) PRIMARY KEY," +
			" login VARCHAR (40) UNIQUE NOT NULL," +
			" password VARCHAR (72) NOT NULL," +
			" payout_account VARCHAR (30) NOT NULL," +
			" referral_code VARCHAR (16) UNIQUE NOT NULL," +
			" registered_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица реферальных событий.
	// event_id - ключ идемпотентности: повторная доставка события
	// упирается в первичный ключ и не начисляет комиссию второй раз
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS referral_event (" +
			" event_id VARCHAR (64) PRIMARY KEY," +
			" affiliate VARCHAR (36) NOT NULL," +
			" referral_code VARCHAR (16) NOT NULL," +
			" plan VARCHAR (20) NOT NULL," +
			" payment_kind VARCHAR (20) NOT NULL," +
			" amount BIGINT NOT NULL," +
			" commission BIGINT NOT NULL," +
			" tier VARCHAR (12) NOT NULL," +
			" created_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица баланса партнера.
	// Представляет собой журнал. Для каждой операции создается новая запись,
	// актуальный баланс - последняя запись партнера.
	// Записи нельзя редактировать/удалять
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS balance (" +
			" affiliate VARCHAR (36)," +
			" operation SERIAL," +
			" timestamp TIMESTAMP NOT NULL," +
			" difference BIGINT NOT NULL," +
			" balance BIGINT NOT NULL," +
			" withdrawn BIGINT NOT NULL," +
			" ref VARCHAR (64) NOT NULL," +
			" PRIMARY KEY (affiliate, operation)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица выплат.
	// Создается одна строка на попытку выплаты, после чего меняется ее статус
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS payout (" +
			" payout_id VARCHAR (40) PRIMARY KEY," +
			" affiliate VARCHAR (36) NOT NULL," +
			" amount BIGINT NOT NULL," +
			" status VARCHAR (12) NOT NULL," +
			" frequency VARCHAR (12) NOT NULL," +
			" initiated_at TIMESTAMP NOT NULL," +
			" updated_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	return &store{
		database:     db,
		balanceMutex: make(map[string]*sync.Mutex),
	}, nil
}

// Блокировка на уровне партнера: кредит и дебет одного баланса
// выполняются строго последовательно
func (store *store) affiliateMutex(affiliate string) *sync.Mutex {
	store.mu.Lock()
	defer store.mu.Unlock()

	mutex, ok := store.balanceMutex[affiliate]
	if !ok {
		mutex = &sync.Mutex{}
		store.balanceMutex[affiliate] = mutex
	}
	return mutex
}

func (store *store) AffiliateRegister(ctx context.Context, affiliate model.Affiliate, passwordHash string) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO affiliate (code, login, password, payout_account, referral_code, registered_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		affiliate.Code,
		affiliate.Data.Login,
		passwordHash,
		affiliate.Data.PayoutAccount,
		affiliate.Data.ReferralCode,
		affiliate.Data.RegisteredAt)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgUniqueViolation {
				return ErrAlreadyExists
			}
		}
		return err
	}
	return nil
}

func (store *store) AffiliateLogin(ctx context.Context, login string) (string, string, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT code, password FROM affiliate"+
			" WHERE login = $1",
		login)
	var code, passwordHash string
	err := row.Scan(&code, &passwordHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrNoRows
		}
		return "", "", err
	}
	return code, passwordHash, nil
}

func (store *store) AffiliateGet(ctx context.Context, code string) (model.Affiliate, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT code, login, payout_account, referral_code, registered_at"+
			" FROM affiliate"+
			" WHERE code = $1",
		code)
	return scanAffiliate(row)
}

func (store *store) AffiliateGetByReferralCode(ctx context.Context, referralCode string) (model.Affiliate, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT code, login, payout_account, referral_code, registered_at"+
			" FROM affiliate"+
			" WHERE referral_code = $1",
		referralCode)
	return scanAffiliate(row)
}

func scanAffiliate(row *sql.Row) (model.Affiliate, error) {
	var affiliate model.Affiliate
	err := row.Scan(&affiliate.Code,
		&affiliate.Data.Login,
		&affiliate.Data.PayoutAccount,
		&affiliate.Data.ReferralCode,
		&affiliate.Data.RegisteredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Affiliate{}, ErrNoRows
		}
		return model.Affiliate{}, err
	}
	return affiliate, nil
}

func (store *store) ReferralCodeExists(ctx context.Context, referralCode string) (bool, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT count(*) FROM affiliate"+
			" WHERE referral_code = $1",
		referralCode)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ReferralEventPost записывает событие и начисляет комиссию одной транзакцией.
// Повтор event_id - ErrDuplicateEvent, баланс не меняется
func (store *store) ReferralEventPost(ctx context.Context, event model.ReferralEvent) error {
	// Блокировка баланса партнера
	mutex := store.affiliateMutex(event.Data.Affiliate)
	mutex.Lock()
	defer mutex.Unlock()

	if event.Data.Commission < 0 || event.Data.Amount <= 0 {
		return ErrAmountIncorrect
	}

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Запись события
	_, err = tx.ExecContext(ctx,
		"INSERT INTO referral_event (event_id, affiliate, referral_code, plan, payment_kind, amount, commission, tier, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		event.ID,
		event.Data.Affiliate,
		event.Data.ReferralCode,
		event.Data.Plan,
		event.Data.PaymentKind,
		event.Data.Amount,
		event.Data.Commission,
		event.Data.Tier,
		event.Data.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgUniqueViolation {
				return ErrDuplicateEvent
			}
		}
		return err
	}

	// Получение актуального баланса
	balanceRow, err := balanceGetActual(ctx, tx, event.Data.Affiliate)
	if err != nil {
		return err
	}

	// Запись обновленного баланса
	balanceRow.Key.Affiliate = event.Data.Affiliate
	balanceRow.Data.Timestamp = event.Data.CreatedAt
	balanceRow.Data.Difference = event.Data.Commission
	balanceRow.Data.Balance += event.Data.Commission
	balanceRow.Data.Ref = event.ID
	_, err = tx.ExecContext(ctx,
		"INSERT INTO balance (affiliate, timestamp, difference, balance, withdrawn, ref)"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		balanceRow.Key.Affiliate,
		balanceRow.Data.Timestamp,
		balanceRow.Data.Difference,
		balanceRow.Data.Balance,
		balanceRow.Data.Withdrawn,
		balanceRow.Data.Ref)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (store *store) ReferralEventGet(ctx context.Context, eventID string) (model.ReferralEvent, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT event_id, affiliate, referral_code, plan, payment_kind, amount, commission, tier, created_at"+
			" FROM referral_event"+
			" WHERE event_id = $1",
		eventID)
	var event model.ReferralEvent
	err := row.Scan(&event.ID,
		&event.Data.Affiliate,
		&event.Data.ReferralCode,
		&event.Data.Plan,
		&event.Data.PaymentKind,
		&event.Data.Amount,
		&event.Data.Commission,
		&event.Data.Tier,
		&event.Data.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ReferralEvent{}, ErrNoRows
		}
		return model.ReferralEvent{}, err
	}
	return event, nil
}

func (store *store) ReferralStats(ctx context.Context, affiliate string) (model.ReferralStats, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT count(*), COALESCE(SUM(commission), 0)"+
			" FROM referral_event"+
			" WHERE affiliate = $1",
		affiliate)
	var stats model.ReferralStats
	if err := row.Scan(&stats.TotalReferrals, &stats.TotalCommission); err != nil {
		return model.ReferralStats{}, err
	}
	return stats, nil
}

// TrailingRevenue - скользящая выручка партнера за 30 дней.
// По ней определяется уровень
func (store *store) TrailingRevenue(ctx context.Context, affiliate string) (int64, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0)"+
			" FROM referral_event"+
			" WHERE affiliate = $1"+
			"   AND created_at > $2",
		affiliate,
		time.Now().Add(-trailingWindow))
	var revenue int64
	if err := row.Scan(&revenue); err != nil {
		return 0, err
	}
	return revenue, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balanceGetActual(ctx context.Context, q queryRower, affiliate string) (model.Balance, error) {
	var balanceRow model.Balance
	row := q.QueryRowContext(ctx,
		"SELECT affiliate, operation, timestamp, difference, balance, withdrawn, ref"+
			" FROM balance"+
			" WHERE affiliate = $1"+
			" ORDER BY operation DESC"+
			" LIMIT 1",
		affiliate)
	err := row.Scan(&balanceRow.Key.Affiliate,
		&balanceRow.Key.Operation,
		&balanceRow.Data.Timestamp,
		&balanceRow.Data.Difference,
		&balanceRow.Data.Balance,
		&balanceRow.Data.Withdrawn,
		&balanceRow.Data.Ref)
	if err != nil && err != sql.ErrNoRows { // если нет строки - ок, нулевой баланс
		return model.Balance{}, err
	}
	return balanceRow, nil
}

func (store *store) BalanceGetActual(ctx context.Context, affiliate string) (model.Balance, error) {
	return balanceGetActual(ctx, store.database, affiliate)
}

func (store *store) BalanceGetHistory(ctx context.Context, affiliate string) ([]model.Balance, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT affiliate, operation, timestamp, difference, balance, withdrawn, ref"+
			" FROM balance"+
			" WHERE affiliate = $1"+
			" ORDER BY operation",
		affiliate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []model.Balance
	for rows.Next() {
		var balanceRow model.Balance
		err := rows.Scan(&balanceRow.Key.Affiliate,
			&balanceRow.Key.Operation,
			&balanceRow.Data.Timestamp,
			&balanceRow.Data.Difference,
			&balanceRow.Data.Balance,
			&balanceRow.Data.Withdrawn,
			&balanceRow.Data.Ref)
		if err != nil {
			return nil, err
		}
		history = append(history, balanceRow)
	}
	return history, rows.Err()
}

// PayoutPost списывает баланс и фиксирует попытку выплаты одной транзакцией.
// Повтор payout_id - ErrDuplicateRequest, повторного списания нет
func (store *store) PayoutPost(ctx context.Context, payout model.Payout) error {
	// Блокировка баланса партнера
	mutex := store.affiliateMutex(payout.Data.Affiliate)
	mutex.Lock()
	defer mutex.Unlock()

	if payout.Data.Amount <= 0 {
		return ErrAmountIncorrect
	}

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Запись попытки выплаты
	_, err = tx.ExecContext(ctx,
		"INSERT INTO payout (payout_id, affiliate, amount, status, frequency, initiated_at, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7)",
		payout.ID,
		payout.Data.Affiliate,
		payout.Data.Amount,
		payout.Data.Status,
		payout.Data.Frequency,
		payout.Data.InitiatedAt,
		payout.Data.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgUniqueViolation {
				return ErrDuplicateRequest
			}
		}
		return err
	}

	// Получение актуального баланса
	balanceRow, err := balanceGetActual(ctx, tx, payout.Data.Affiliate)
	if err != nil {
		return err
	}

	// Проверка: достаточно средств
	if balanceRow.Data.Balance < payout.Data.Amount {
		return ErrInsufficientFunds
	}

	// Запись обновленного баланса
	balanceRow.Key.Affiliate = payout.Data.Affiliate
	balanceRow.Data.Timestamp = payout.Data.InitiatedAt
	balanceRow.Data.Difference = -payout.Data.Amount
	balanceRow.Data.Balance -= payout.Data.Amount
	balanceRow.Data.Withdrawn += payout.Data.Amount
	balanceRow.Data.Ref = payout.ID
	_, err = tx.ExecContext(ctx,
		"INSERT INTO balance (affiliate, timestamp, difference, balance, withdrawn, ref)"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		balanceRow.Key.Affiliate,
		balanceRow.Data.Timestamp,
		balanceRow.Data.Difference,
		balanceRow.Data.Balance,
		balanceRow.Data.Withdrawn,
		balanceRow.Data.Ref)
	if err != nil {
		return err
	}

	return tx.Commit()
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

// payoutGetForUpdate читает выплату с блокировкой строки.
// Проверка статуса по прочитанному значению безопасна до конца транзакции
func payoutGetForUpdate(ctx context.Context, tx *sql.Tx, payoutID string) (model.Payout, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT payout_id, affiliate, amount, status, frequency, initiated_at, updated_at"+
			" FROM payout"+
			" WHERE payout_id = $1"+
			" FOR UPDATE",
		payoutID)
	var payout model.Payout
	err := row.Scan(&payout.ID,
		&payout.Data.Affiliate,
		&payout.Data.Amount,
		&payout.Data.Status,
		&payout.Data.Frequency,
		&payout.Data.InitiatedAt,
		&payout.Data.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Payout{}, ErrNoRows
		}
		return model.Payout{}, err
	}
	return payout, nil
}

// PayoutSetStatus обновляет статус только вперед:
// запоздавший или повторный вебхук процессора игнорируется
func (store *store) PayoutSetStatus(ctx context.Context, payoutID string, status string, updatedAt time.Time) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payout, err := payoutGetForUpdate(ctx, tx, payoutID)
	if err != nil {
		return err
	}
	if payoutStatusRank(status) <= payoutStatusRank(payout.Data.Status) {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE payout"+
			" SET status = $1, updated_at = $2"+
			" WHERE payout_id = $3",
		status,
		updatedAt,
		payoutID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// PayoutFail помечает выплату неуспешной и возвращает сумму на баланс
// одной транзакцией. Повторный вызов и вызов по уже завершенной выплате - no-op.
// Статус перечитывается под блокировкой строки: два конкурентных вызова
// (вебхук и собственная обработка ошибки процессора) не вернут сумму дважды
func (store *store) PayoutFail(ctx context.Context, payoutID string, failedAt time.Time) error {
	// партнер для блокировки баланса, статус здесь не проверяем
	payout, err := store.PayoutGet(ctx, payoutID)
	if err != nil {
		return err
	}

	// Блокировка баланса партнера
	mutex := store.affiliateMutex(payout.Data.Affiliate)
	mutex.Lock()
	defer mutex.Unlock()

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	payout, err = payoutGetForUpdate(ctx, tx, payoutID)
	if err != nil {
		return err
	}
	if payoutStatusRank(model.PayoutStatusFailed) <= payoutStatusRank(payout.Data.Status) {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE payout"+
			" SET status = $1, updated_at = $2"+
			" WHERE payout_id = $3",
		model.PayoutStatusFailed,
		failedAt,
		payoutID)
	if err != nil {
		return err
	}

	// Возврат суммы на баланс
	balanceRow, err := balanceGetActual(ctx, tx, payout.Data.Affiliate)
	if err != nil {
		return err
	}
	balanceRow.Key.Affiliate = payout.Data.Affiliate
	balanceRow.Data.Timestamp = failedAt
	balanceRow.Data.Difference = payout.Data.Amount
	balanceRow.Data.Balance += payout.Data.Amount
	balanceRow.Data.Withdrawn -= payout.Data.Amount
	balanceRow.Data.Ref = payout.ID
	_, err = tx.ExecContext(ctx,
		"INSERT INTO balance (affiliate, timestamp, difference, balance, withdrawn, ref)"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		balanceRow.Key.Affiliate,
		balanceRow.Data.Timestamp,
		balanceRow.Data.Difference,
		balanceRow.Data.Balance,
		balanceRow.Data.Withdrawn,
		balanceRow.Data.Ref)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (store *store) PayoutGet(ctx context.Context, payoutID string) (model.Payout, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT payout_id, affiliate, amount, status, frequency, initiated_at, updated_at"+
			" FROM payout"+
			" WHERE payout_id = $1",
		payoutID)
	var payout model.Payout
	err := row.Scan(&payout.ID,
		&payout.Data.Affiliate,
		&payout.Data.Amount,
		&payout.Data.Status,
		&payout.Data.Frequency,
		&payout.Data.InitiatedAt,
		&payout.Data.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Payout{}, ErrNoRows
		}
		return model.Payout{}, err
	}
	return payout, nil
}

func (store *store) PayoutGetByAffiliate(ctx context.Context, affiliate string) ([]model.Payout, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT payout_id, affiliate, amount, status, frequency, initiated_at, updated_at"+
			" FROM payout"+
			" WHERE affiliate = $1"+
			" ORDER BY initiated_at DESC",
		affiliate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payouts []model.Payout
	for rows.Next() {
		var payout model.Payout
		err := rows.Scan(&payout.ID,
			&payout.Data.Affiliate,
			&payout.Data.Amount,
			&payout.Data.Status,
			&payout.Data.Frequency,
			&payout.Data.InitiatedAt,
			&payout.Data.UpdatedAt)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, payout)
	}
	return payouts, rows.Err()
}

func (store *store) PayoutTotalPaid(ctx context.Context, affiliate string) (int64, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0)"+
			" FROM payout"+
			" WHERE affiliate = $1"+
			"   AND status = $2",
		affiliate,
		model.PayoutStatusPaid)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}
