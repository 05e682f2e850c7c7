package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const accountColumns = "id, customer_code, email, display_name, role, balance, created_at"

type RewardsDB struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	retries uint64
}

var _ interf.RewardsStorage = (*RewardsDB)(nil)

func NewRewardsDB(ctx context.Context, dsn string, retries uint64, logger *zap.Logger) (db *RewardsDB, err error) {
	if dsn == "" {
		return nil, fmt.Errorf("env REWARDS_DB_DSN is not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &RewardsDB{pool, logger, retries}, nil
}

func (p *RewardsDB) Close() {
	p.pool.Close()
}

// Транзакция с повтором временных ошибок (сериализация, deadlock, обрыв до отправки).
// Ошибки бизнес-правил не повторяются.
func (p *RewardsDB) InTx(ctx context.Context, fn func(ctx context.Context, tx interf.RewardsTx) error) error {
	var attempt int
	op := func() error {
		attempt++
		err := p.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			p.logger.Warn("transaction retry",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
	return backoff.Retry(op, b)
}

func (p *RewardsDB) runTx(ctx context.Context, fn func(ctx context.Context, tx interf.RewardsTx) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			// откат и после отмены ctx
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, &rewardsTx{tx, p.logger}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// временная ошибка, транзакцию можно повторить целиком
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

func (p *RewardsDB) logSQL(err error, query string, args []any) {
	p.logger.Error("SQL error",
		zap.Error(err),
		zap.String("query", query),
		zap.Any("args", args),
	)
}

type rewardsTx struct {
	tx     pgx.Tx
	logger *zap.Logger
}

func (t *rewardsTx) logSQL(err error, query string, args []any) {
	t.logger.Error("SQL error",
		zap.Error(err),
		zap.String("query", query),
		zap.Any("args", args),
	)
}

func scanAccount(row pgx.Row) (a model.Account, err error) {
	var role string
	err = row.Scan(&a.ID, &a.CustomerCode, &a.Email, &a.DisplayName, &role, &a.Balance, &a.CreatedAt)
	a.Role = model.Role(role)
	return a, err
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

// Создание счета
func (t *rewardsTx) CreateAccount(ctx context.Context, a model.Account) error {
	sql, args, err := psql.Insert("accounts").
		Columns("id", "customer_code", "email", "display_name", "role", "balance", "created_at").
		Values(a.ID, a.CustomerCode, a.Email, a.DisplayName, string(a.Role), 0, a.CreatedAt).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		t.logSQL(err, sql, args)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s / %s: %w", a.ID, a.CustomerCode, model.ErrConflict)
	}
	return nil
}

// NO KEY UPDATE не конфликтует с FOR KEY SHARE от вставок по внешнему ключу
// (купоны, транзакции, участники), сериализуются только изменения самой строки
func lockByID(table string, columns string) string {
	return "SELECT " + columns + " FROM " + table + " WHERE id = $1 FOR NO KEY UPDATE"
}

// блокируем строку с балансом
func (t *rewardsTx) LockAccount(ctx context.Context, accountID string) (model.Account, error) {
	row := t.tx.QueryRow(ctx, lockByID("accounts", accountColumns), accountID)
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, notFound(err, "account "+accountID)
	}
	return a, nil
}

// инкремент баланса, не чтение-запись
func (t *rewardsTx) AddBalance(ctx context.Context, accountID string, delta int64) (balance int64, err error) {
	sql, args, err := psql.Update("accounts").
		Set("balance", sq.Expr("balance + ?", delta)).
		Where(sq.Eq{"id": accountID}).
		Suffix("RETURNING balance").
		ToSql()
	if err != nil {
		return 0, err
	}
	err = t.tx.QueryRow(ctx, sql, args...).Scan(&balance)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" { // check_violation balance >= 0
			return 0, fmt.Errorf("account %s: %w", accountID, model.ErrInsufficientBalance)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			t.logSQL(err, sql, args)
		}
		return 0, notFound(err, "account "+accountID)
	}
	return balance, nil
}

// добавить транзакцию
func (t *rewardsTx) AppendTransaction(ctx context.Context, tnx model.PointTransaction) error {
	sql, args, err := psql.Insert("point_transactions").
		Columns("id", "account_id", "delta", "reason", "order_amount", "created_at").
		Values(tnx.ID, tnx.AccountID, tnx.Delta, tnx.Reason, tnx.OrderAmount, tnx.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, sql, args...)
	if err != nil {
		t.logSQL(err, sql, args)
		return err
	}
	return nil
}

// Удаление счета и всех его записей. Участники конкурсов остаются: счетчики конкурса не меняются.
func (t *rewardsTx) DeleteAccount(ctx context.Context, accountID string) error {
	for _, table := range []string{"point_transactions", "coupons", "notification_tokens"} {
		sql, args, err := psql.Delete(table).Where(sq.Eq{"account_id": accountID}).ToSql()
		if err != nil {
			return err
		}
		if _, err = t.tx.Exec(ctx, sql, args...); err != nil {
			t.logSQL(err, sql, args)
			return err
		}
	}
	sql, args, err := psql.Delete("accounts").Where(sq.Eq{"id": accountID}).ToSql()
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		t.logSQL(err, sql, args)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	return nil
}

// Получить счет
func (p *RewardsDB) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", accountID)
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, notFound(err, "account "+accountID)
	}
	return a, nil
}

// Получить счет по коду клиента
func (p *RewardsDB) GetAccountByCustomerCode(ctx context.Context, code string) (model.Account, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE customer_code = $1", code)
	a, err := scanAccount(row)
	if err != nil {
		return model.Account{}, notFound(err, "customer "+code)
	}
	return a, nil
}

func (p *RewardsDB) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, "SELECT id FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *RewardsDB) CountAccounts(ctx context.Context) (accounts int64, totalBalance int64, err error) {
	err = p.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM accounts").Scan(&accounts, &totalBalance)
	return accounts, totalBalance, err
}

func transactionsQuery(accountID string) sq.SelectBuilder {
	return psql.Select("id", "account_id", "delta", "reason", "order_amount", "created_at").
		From("point_transactions").
		Where(sq.Eq{"account_id": accountID})
}

func (p *RewardsDB) collectTransactions(ctx context.Context, q sq.SelectBuilder) ([]model.PointTransaction, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		p.logSQL(err, sql, args)
		return nil, err
	}
	defer rows.Close()

	var tnxs []model.PointTransaction
	for rows.Next() {
		var tnx model.PointTransaction
		err = rows.Scan(&tnx.ID, &tnx.AccountID, &tnx.Delta, &tnx.Reason, &tnx.OrderAmount, &tnx.CreatedAt)
		if err != nil {
			return nil, err
		}
		tnxs = append(tnxs, tnx)
	}
	return tnxs, rows.Err()
}

// Транзакции счета, новые сверху
func (p *RewardsDB) ListTransactions(ctx context.Context, accountID string, limit int) ([]model.PointTransaction, error) {
	q := transactionsQuery(accountID).OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return p.collectTransactions(ctx, q)
}

func (p *RewardsDB) ScanTransactions(ctx context.Context, accountID string) ([]model.PointTransaction, error) {
	return p.collectTransactions(ctx, transactionsQuery(accountID))
}

func (p *RewardsDB) PointsAggregates(ctx context.Context, since time.Time) (agg model.PointsAggregates, err error) {
	sql, args, err := psql.Select(
		"COALESCE(SUM(delta) FILTER (WHERE delta > 0), 0)",
		"COALESCE(SUM(delta) FILTER (WHERE delta < 0), 0)").
		From("point_transactions").
		Where(sq.GtOrEq{"created_at": since}).
		ToSql()
	if err != nil {
		return agg, err
	}
	err = p.pool.QueryRow(ctx, sql, args...).Scan(&agg.Positive, &agg.Negative)
	if err != nil {
		p.logSQL(err, sql, args)
	}
	return agg, err
}
