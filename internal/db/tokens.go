package rewards

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// accountID == "" - все токены
func (p *RewardsDB) ListTokens(ctx context.Context, accountID string) ([]model.NotificationToken, error) {
	q := psql.Select("device_id", "account_id", "token", "platform", "created_at").
		From("notification_tokens").
		OrderBy("device_id")
	if accountID != "" {
		q = q.Where(sq.Eq{"account_id": accountID})
	}
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

	var tokens []model.NotificationToken
	for rows.Next() {
		var tk model.NotificationToken
		if err = rows.Scan(&tk.DeviceID, &tk.AccountID, &tk.Token, &tk.Platform, &tk.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, tk)
	}
	return tokens, rows.Err()
}

func (p *RewardsDB) SaveToken(ctx context.Context, tk model.NotificationToken) error {
	sql, args, err := psql.Insert("notification_tokens").
		Columns("device_id", "account_id", "token", "platform", "created_at").
		Values(tk.DeviceID, tk.AccountID, tk.Token, tk.Platform, tk.CreatedAt).
		Suffix("ON CONFLICT (device_id) DO UPDATE SET token = EXCLUDED.token, platform = EXCLUDED.platform, created_at = EXCLUDED.created_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err = p.pool.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return fmt.Errorf("account %s: %w", tk.AccountID, model.ErrNotFound)
		}
		p.logSQL(err, sql, args)
		return err
	}
	return nil
}

func (p *RewardsDB) DeleteTokens(ctx context.Context, accountID string) error {
	sql, args, err := psql.Delete("notification_tokens").Where(sq.Eq{"account_id": accountID}).ToSql()
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, sql, args...)
	return err
}
