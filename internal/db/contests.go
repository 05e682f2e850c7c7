package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/jackc/pgx/v5"
)

const contestColumns = "id, title, prize, ticket_cost_points, closes_at, active, total_tickets, image_ref, created_at"

const participantColumns = "contest_id, account_id, num_tickets, points_spent, updated_at, last_purchase_at"

func scanContest(row pgx.Row) (c model.Contest, err error) {
	err = row.Scan(&c.ID, &c.Title, &c.Prize, &c.TicketCostPoints, &c.ClosesAt, &c.Active, &c.TotalTickets, &c.ImageRef, &c.CreatedAt)
	return c, err
}

func scanParticipant(row pgx.Row) (p model.ContestParticipant, err error) {
	err = row.Scan(&p.ContestID, &p.AccountID, &p.NumTickets, &p.PointsSpent, &p.UpdatedAt, &p.LastPurchaseAt)
	return p, err
}

func (t *rewardsTx) InsertContest(ctx context.Context, c model.Contest) error {
	sql, args, err := psql.Insert("contests").
		Columns("id", "title", "prize", "ticket_cost_points", "closes_at", "active", "total_tickets", "image_ref", "created_at").
		Values(c.ID, c.Title, c.Prize, c.TicketCostPoints, c.ClosesAt, c.Active, 0, c.ImageRef, c.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}
	if _, err = t.tx.Exec(ctx, sql, args...); err != nil {
		t.logSQL(err, sql, args)
		return err
	}
	return nil
}

func (t *rewardsTx) LockContest(ctx context.Context, contestID string) (model.Contest, error) {
	row := t.tx.QueryRow(ctx, lockByID("contests", contestColumns), contestID)
	c, err := scanContest(row)
	if err != nil {
		return model.Contest{}, notFound(err, "contest "+contestID)
	}
	return c, nil
}

// total_tickets не трогаем: только инкрементом при покупке
func (t *rewardsTx) UpdateContest(ctx context.Context, c model.Contest) error {
	sql, args, err := psql.Update("contests").
		Set("title", c.Title).
		Set("prize", c.Prize).
		Set("ticket_cost_points", c.TicketCostPoints).
		Set("closes_at", c.ClosesAt).
		Set("active", c.Active).
		Set("image_ref", c.ImageRef).
		Where(sq.Eq{"id": c.ID}).
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
		return fmt.Errorf("contest %s: %w", c.ID, model.ErrNotFound)
	}
	return nil
}

// проверка окна продаж и инкремент счетчика одним оператором
const addContestTicketsSQL = `UPDATE contests SET total_tickets = total_tickets + $1
WHERE id = $2 AND active AND closes_at > $3
RETURNING ` + contestColumns

func (t *rewardsTx) AddContestTickets(ctx context.Context, contestID string, quantity int64, now time.Time) (model.Contest, error) {
	row := t.tx.QueryRow(ctx, addContestTicketsSQL, quantity, contestID, now)
	c, err := scanContest(row)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		t.logSQL(err, addContestTicketsSQL, []any{quantity, contestID, now})
		return model.Contest{}, err
	}
	// нет строки: конкурса нет или он закрыт
	var exists bool
	err = t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM contests WHERE id = $1)", contestID).Scan(&exists)
	if err != nil {
		return model.Contest{}, err
	}
	if !exists {
		return model.Contest{}, fmt.Errorf("contest %s: %w", contestID, model.ErrNotFound)
	}
	return model.Contest{}, fmt.Errorf("contest %s: %w", contestID, model.ErrContestClosed)
}

const addParticipantTicketsSQL = `INSERT INTO contest_participants (` + participantColumns + `)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (contest_id, account_id) DO UPDATE SET
	num_tickets = contest_participants.num_tickets + EXCLUDED.num_tickets,
	points_spent = contest_participants.points_spent + EXCLUDED.points_spent,
	updated_at = EXCLUDED.updated_at,
	last_purchase_at = EXCLUDED.last_purchase_at
RETURNING ` + participantColumns

func (t *rewardsTx) AddParticipantTickets(ctx context.Context, contestID string, accountID string, quantity int64, points int64, now time.Time) (model.ContestParticipant, error) {
	args := []any{contestID, accountID, quantity, points, now}
	p, err := scanParticipant(t.tx.QueryRow(ctx, addParticipantTicketsSQL, args...))
	if err != nil {
		t.logSQL(err, addParticipantTicketsSQL, args)
		return model.ContestParticipant{}, err
	}
	return p, nil
}

func (p *RewardsDB) GetContest(ctx context.Context, contestID string) (model.Contest, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+contestColumns+" FROM contests WHERE id = $1", contestID)
	c, err := scanContest(row)
	if err != nil {
		return model.Contest{}, notFound(err, "contest "+contestID)
	}
	return c, nil
}

func (p *RewardsDB) collectContests(ctx context.Context, q sq.SelectBuilder) ([]model.Contest, error) {
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

	var contests []model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, c)
	}
	return contests, rows.Err()
}

func (p *RewardsDB) ListContests(ctx context.Context, limit int) ([]model.Contest, error) {
	q := psql.Select(contestColumns).From("contests").OrderBy("created_at DESC", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return p.collectContests(ctx, q)
}

// открытые конкурсы, ближайшее закрытие первым
func (p *RewardsDB) ListOpenContests(ctx context.Context, now time.Time, limit int) ([]model.Contest, error) {
	q := psql.Select(contestColumns).
		From("contests").
		Where(sq.Eq{"active": true}).
		Where(sq.Gt{"closes_at": now}).
		OrderBy("closes_at", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return p.collectContests(ctx, q)
}

func (p *RewardsDB) GetParticipant(ctx context.Context, contestID string, accountID string) (model.ContestParticipant, error) {
	row := p.pool.QueryRow(ctx,
		"SELECT "+participantColumns+" FROM contest_participants WHERE contest_id = $1 AND account_id = $2",
		contestID, accountID)
	part, err := scanParticipant(row)
	if err != nil {
		return model.ContestParticipant{}, notFound(err, "participant "+contestID+"/"+accountID)
	}
	return part, nil
}

func (p *RewardsDB) ListParticipants(ctx context.Context, contestID string, limit int) ([]model.ContestParticipant, error) {
	q := psql.Select(participantColumns).
		From("contest_participants").
		Where(sq.Eq{"contest_id": contestID}).
		OrderBy("num_tickets DESC", "account_id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
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

	var res []model.ContestParticipant
	for rows.Next() {
		part, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, part)
	}
	return res, rows.Err()
}
