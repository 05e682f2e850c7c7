package rewards

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40001"}), true},
		{&pgconn.PgError{Code: "23505"}, false},
		{&pgconn.PgError{Code: "23514"}, false},
		{errors.New("boom"), false},
		{context.Canceled, false},
		{io.EOF, false},
	}
	for _, ts := range tests {
		require.Equal(t, ts.expected, isRetryable(ts.err), "err=%v", ts.err)
	}
}

func TestAddBalanceQuery(t *testing.T) {
	sql, args, err := psql.Update("accounts").
		Set("balance", sq.Expr("balance + ?", int64(-80))).
		Where(sq.Eq{"id": "u1"}).
		Suffix("RETURNING balance").
		ToSql()
	require.NoError(t, err)
	require.Equal(t, "UPDATE accounts SET balance = balance + $1 WHERE id = $2 RETURNING balance", sql)
	require.Equal(t, []any{int64(-80), "u1"}, args)
}

func TestTransactionsQuery(t *testing.T) {
	sql, args, err := transactionsQuery("u1").OrderBy("created_at DESC", "id DESC").Limit(20).ToSql()
	require.NoError(t, err)
	require.Equal(t, "SELECT id, account_id, delta, reason, order_amount, created_at FROM point_transactions WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT 20", sql)
	require.Equal(t, []any{"u1"}, args)
}

func TestLockByIDQuery(t *testing.T) {
	sql := lockByID("accounts", accountColumns)
	require.True(t, strings.HasPrefix(sql, "SELECT id, customer_code"), sql)
	require.True(t, strings.HasSuffix(sql, "FROM accounts WHERE id = $1 FOR NO KEY UPDATE"), sql)
	require.NotContains(t, sql, " FOR UPDATE")
}
