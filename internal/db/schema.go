package rewards

import "context"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            TEXT PRIMARY KEY,
		customer_code TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL DEFAULT '',
		display_name  TEXT NOT NULL DEFAULT '',
		role          TEXT NOT NULL DEFAULT 'user',
		balance       BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS point_transactions (
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL REFERENCES accounts (id),
		delta        BIGINT NOT NULL CHECK (delta <> 0),
		reason       TEXT NOT NULL DEFAULT '',
		order_amount NUMERIC(14, 2),
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS point_transactions_account_created ON point_transactions (account_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts (id),
		code       TEXT NOT NULL UNIQUE,
		title      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		used_at    TIMESTAMPTZ,
		image_ref  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS coupons_account ON coupons (account_id)`,
	`CREATE INDEX IF NOT EXISTS coupons_status_kind ON coupons (status, kind, created_at)`,
	`CREATE TABLE IF NOT EXISTS contests (
		id                 TEXT PRIMARY KEY,
		title              TEXT NOT NULL,
		prize              TEXT NOT NULL DEFAULT '',
		ticket_cost_points BIGINT NOT NULL CHECK (ticket_cost_points >= 1),
		closes_at          TIMESTAMPTZ NOT NULL,
		active             BOOLEAN NOT NULL,
		total_tickets      BIGINT NOT NULL DEFAULT 0 CHECK (total_tickets >= 0),
		image_ref          TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contest_participants (
		contest_id       TEXT NOT NULL REFERENCES contests (id),
		account_id       TEXT NOT NULL,
		num_tickets      BIGINT NOT NULL DEFAULT 0 CHECK (num_tickets >= 0),
		points_spent     BIGINT NOT NULL DEFAULT 0 CHECK (points_spent >= 0),
		updated_at       TIMESTAMPTZ NOT NULL,
		last_purchase_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (contest_id, account_id)
	)`,
	`CREATE INDEX IF NOT EXISTS contest_participants_account ON contest_participants (account_id)`,
	`CREATE TABLE IF NOT EXISTS notification_tokens (
		device_id  TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts (id),
		token      TEXT NOT NULL,
		platform   TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notification_tokens_account ON notification_tokens (account_id)`,
}

// Migrate создает таблицы и индексы
func (p *RewardsDB) Migrate(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	for _, stmt := range schema {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
