package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS products (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    product_type     TEXT NOT NULL CHECK (product_type IN ('service','bundle','custom_item')),
    base_price       NUMERIC(12,2) NOT NULL CHECK (base_price >= 0),
    sale_price       NUMERIC(12,2) CHECK (sale_price >= 0),
    price_per_unit   NUMERIC(12,2) CHECK (price_per_unit >= 0),
    minimum_quantity INT NOT NULL DEFAULT 1 CHECK (minimum_quantity >= 0),
    maximum_quantity INT,
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
    id                 TEXT PRIMARY KEY,
    external_id        TEXT UNIQUE,
    customer_id        TEXT NOT NULL,
    order_type         TEXT NOT NULL DEFAULT 'standard',
    items              JSONB NOT NULL,
    subtotal           NUMERIC(12,2) NOT NULL,
    tax                NUMERIC(12,2) NOT NULL,
    discount           NUMERIC(12,2) NOT NULL DEFAULT 0,
    credits_used       NUMERIC(12,2) NOT NULL DEFAULT 0,
    total_amount       NUMERIC(12,2) NOT NULL CHECK (total_amount >= 0),
    status             TEXT NOT NULL,
    payment_status     TEXT NOT NULL,
    payment_ref        TEXT NOT NULL DEFAULT '',
    fulfillment_status TEXT NOT NULL,
    progress           INT NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
    status_history     JSONB NOT NULL DEFAULT '[]',
    notes              TEXT NOT NULL DEFAULT '',
    admin_notes        TEXT NOT NULL DEFAULT '',
    referral_code      TEXT,
    metadata           JSONB,
    version            BIGINT NOT NULL DEFAULT 1,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at       TIMESTAMPTZ,
    deleted_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS credit_accounts (
    user_id    TEXT PRIMARY KEY,
    balance    NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS referral_codes (
    code       TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS referrals (
    id          TEXT PRIMARY KEY,
    referrer_id TEXT NOT NULL,
    code        TEXT NOT NULL REFERENCES referral_codes(code),
    order_id    TEXT NOT NULL UNIQUE,
    customer_id TEXT NOT NULL,
    order_type  TEXT NOT NULL,
    commission  NUMERIC(12,2) NOT NULL CHECK (commission >= 0),
    status      TEXT NOT NULL,
    credited_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id, created_at DESC) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id);
`

// InitSchema creates the storefront tables when they are missing.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
