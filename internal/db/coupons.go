package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const couponColumns = "id, account_id, code, title, kind, status, created_at, used_at, image_ref"

func scanCoupon(row pgx.Row) (c model.Coupon, err error) {
	var kind, status string
	err = row.Scan(&c.ID, &c.AccountID, &c.Code, &c.Title, &kind, &status, &c.CreatedAt, &c.UsedAt, &c.ImageRef)
	c.Kind = model.CouponKind(kind)
	c.Status = model.CouponStatus(status)
	return c, err
}

// Создание купона; код занят - ErrConflict, запись не перезаписывается
func (t *rewardsTx) InsertCoupon(ctx context.Context, c model.Coupon) error {
	sql, args, err := psql.Insert("coupons").
		Columns("id", "account_id", "code", "title", "kind", "status", "created_at", "image_ref").
		Values(c.ID, c.AccountID, c.Code, c.Title, string(c.Kind), string(c.Status), c.CreatedAt, c.ImageRef).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return fmt.Errorf("account %s: %w", c.AccountID, model.ErrNotFound)
		}
		t.logSQL(err, sql, args)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("coupon code %s: %w", c.Code, model.ErrConflict)
	}
	return nil
}

// блокируем купон до конца транзакции
func (t *rewardsTx) LockCouponByCode(ctx context.Context, code string) (model.Coupon, error) {
	row := t.tx.QueryRow(ctx, "SELECT "+couponColumns+" FROM coupons WHERE code = $1 FOR UPDATE", code)
	c, err := scanCoupon(row)
	if err != nil {
		return model.Coupon{}, notFound(err, "coupon "+code)
	}
	return c, nil
}

func (t *rewardsTx) MarkCouponUsed(ctx context.Context, couponID string, usedAt time.Time) error {
	sql, args, err := psql.Update("coupons").
		Set("status", string(model.CouponUsed)).
		Set("used_at", usedAt).
		Where(sq.Eq{"id": couponID, "status": string(model.CouponActive)}).
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
		return fmt.Errorf("coupon %s: %w", couponID, model.ErrNotRedeemable)
	}
	return nil
}

// SKIP LOCKED: параллельные вызовы не обрабатывают одну запись дважды
const expireCouponsSQL = `UPDATE coupons SET status = $1
WHERE id IN (
	SELECT id FROM coupons
	WHERE status = $2 AND kind = $3
	ORDER BY created_at
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)`

func (t *rewardsTx) ExpireCoupons(ctx context.Context, kind model.CouponKind, limit int) (int, error) {
	args := []any{string(model.CouponExpired), string(model.CouponActive), string(kind), limit}
	tag, err := t.tx.Exec(ctx, expireCouponsSQL, args...)
	if err != nil {
		t.logSQL(err, expireCouponsSQL, args)
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *RewardsDB) GetCouponByCode(ctx context.Context, code string) (model.Coupon, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+couponColumns+" FROM coupons WHERE code = $1", code)
	c, err := scanCoupon(row)
	if err != nil {
		return model.Coupon{}, notFound(err, "coupon "+code)
	}
	return c, nil
}

func (p *RewardsDB) collectCoupons(ctx context.Context, q sq.SelectBuilder) ([]model.Coupon, error) {
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

	var coupons []model.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

func (p *RewardsDB) ListCoupons(ctx context.Context, accountID string) ([]model.Coupon, error) {
	q := psql.Select(couponColumns).
		From("coupons").
		Where(sq.Eq{"account_id": accountID}).
		OrderBy("created_at")
	return p.collectCoupons(ctx, q)
}

func (p *RewardsDB) ListActiveCoupons(ctx context.Context, kind model.CouponKind, limit int) ([]model.Coupon, error) {
	q := psql.Select(couponColumns).
		From("coupons").
		Where(sq.Eq{"status": string(model.CouponActive)}).
		OrderBy("created_at DESC")
	if kind != "" {
		q = q.Where(sq.Eq{"kind": string(kind)})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return p.collectCoupons(ctx, q)
}

func (p *RewardsDB) CountCoupons(ctx context.Context, status model.CouponStatus, kind model.CouponKind) (count int64, err error) {
	q := psql.Select("COUNT(*)").From("coupons")
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}
	if kind != "" {
		q = q.Where(sq.Eq{"kind": string(kind)})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	err = p.pool.QueryRow(ctx, sql, args...).Scan(&count)
	if err != nil {
		p.logSQL(err, sql, args)
	}
	return count, err
}
