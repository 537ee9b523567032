package app

import "serotonyl.ru/mystery-box/internal/db/postgres"

// SQL-миграции встроены в бинарник: деплой одним файлом без каталога migrations/.
// Версии только добавляются, применённые миграции не редактируются.
var migrations = []postgres.Migration{
	{Version: 1, Name: "tenants_members", SQL: migration001Members},
	{Version: 2, Name: "credit_ledger", SQL: migration002Ledger},
	{Version: 3, Name: "box_catalog", SQL: migration003Catalog},
	{Version: 4, Name: "box_transactions", SQL: migration004Boxes},
	{Version: 5, Name: "admin_sessions", SQL: migration005Admin},
	{Version: 6, Name: "credit_ledger_id_order", SQL: migration006LedgerOrder},
}

var migration001Members = `
CREATE TABLE IF NOT EXISTS tenants (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(64) UNIQUE NOT NULL,
    name VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS members (
    id BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL REFERENCES tenants(id),
    user_id BIGINT NOT NULL,
    username VARCHAR(255) NOT NULL DEFAULT '',
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    role VARCHAR(16) NOT NULL DEFAULT 'MEMBER' CHECK (role IN ('ADMIN', 'CS', 'MEMBER')),
    credit_balance BIGINT NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (tenant_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_members_username ON members(tenant_id, LOWER(username));
CREATE INDEX IF NOT EXISTS idx_members_staff ON members(tenant_id, role) WHERE role <> 'MEMBER';
`

var migration002Ledger = `
CREATE TABLE IF NOT EXISTS credit_ledger (
    id BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL REFERENCES tenants(id),
    member_id BIGINT NOT NULL REFERENCES members(id),
    delta BIGINT NOT NULL CHECK (delta <> 0),
    balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
    kind VARCHAR(32) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_by BIGINT REFERENCES members(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_credit_ledger_member ON credit_ledger(tenant_id, member_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_credit_ledger_tenant ON credit_ledger(tenant_id, created_at DESC, id DESC);
`

var migration003Catalog = `
CREATE TABLE IF NOT EXISTS box_rarities (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(32) UNIQUE NOT NULL,
    name VARCHAR(64) NOT NULL,
    color_key VARCHAR(32) NOT NULL,
    sort_order INTEGER NOT NULL
);
INSERT INTO box_rarities (code, name, color_key, sort_order) VALUES
    ('SPECIAL_LEGENDARY', 'Особая легендарная', 'red', 1),
    ('LEGENDARY', 'Легендарная', 'gold', 2),
    ('SUPREME', 'Высшая', 'orange', 3),
    ('EPIC', 'Эпическая', 'purple', 4),
    ('RARE', 'Редкая', 'blue', 5),
    ('COMMON', 'Обычная', 'gray', 6)
ON CONFLICT (code) DO NOTHING;

CREATE TABLE IF NOT EXISTS box_tiers (
    tenant_id BIGINT NOT NULL REFERENCES tenants(id),
    credit_tier INTEGER NOT NULL CHECK (credit_tier > 0),
    price BIGINT NOT NULL CHECK (price > 0),
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, credit_tier)
);

CREATE TABLE IF NOT EXISTS box_tier_rarity_probs (
    tenant_id BIGINT NOT NULL,
    credit_tier INTEGER NOT NULL,
    rarity_id BIGINT NOT NULL REFERENCES box_rarities(id),
    real_probability INTEGER NOT NULL CHECK (real_probability BETWEEN 0 AND 100),
    display_probability INTEGER NOT NULL CHECK (display_probability BETWEEN 0 AND 100),
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, credit_tier, rarity_id),
    FOREIGN KEY (tenant_id, credit_tier) REFERENCES box_tiers(tenant_id, credit_tier)
);

CREATE TABLE IF NOT EXISTS box_rewards (
    id BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL REFERENCES tenants(id),
    rarity_id BIGINT NOT NULL REFERENCES box_rarities(id),
    label VARCHAR(120) NOT NULL,
    reward_type VARCHAR(8) NOT NULL CHECK (reward_type IN ('CASH', 'ITEM')),
    amount BIGINT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    real_probability INTEGER NOT NULL CHECK (real_probability BETWEEN 0 AND 100),
    display_probability INTEGER NOT NULL CHECK (display_probability BETWEEN 0 AND 100),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK ((reward_type = 'CASH' AND amount > 0) OR (reward_type = 'ITEM' AND amount IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_box_rewards_rarity ON box_rewards(tenant_id, rarity_id);
`

var migration004Boxes = `
CREATE TABLE IF NOT EXISTS box_transactions (
    id UUID PRIMARY KEY,
    tenant_id BIGINT NOT NULL REFERENCES tenants(id),
    member_id BIGINT NOT NULL REFERENCES members(id),
    credit_tier INTEGER NOT NULL,
    credit_spent BIGINT NOT NULL CHECK (credit_spent > 0),
    status VARCHAR(16) NOT NULL CHECK (status IN ('PURCHASED', 'OPENED', 'EXPIRED')),
    rarity_id BIGINT NOT NULL REFERENCES box_rarities(id),
    reward_id BIGINT REFERENCES box_rewards(id),
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    opened_at TIMESTAMPTZ,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    processed_at TIMESTAMPTZ,
    processed_by BIGINT REFERENCES members(id),
    CHECK ((status = 'OPENED') = (reward_id IS NOT NULL AND opened_at IS NOT NULL)),
    CHECK (NOT processed OR status = 'OPENED')
);
CREATE INDEX IF NOT EXISTS idx_box_transactions_member ON box_transactions(tenant_id, member_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_box_transactions_due ON box_transactions(expires_at, id) WHERE status = 'PURCHASED';
CREATE INDEX IF NOT EXISTS idx_box_transactions_unprocessed ON box_transactions(tenant_id, created_at DESC)
    WHERE status = 'OPENED' AND NOT processed;
`

var migration005Admin = `
CREATE TABLE IF NOT EXISTS admin_sessions (
    id BIGSERIAL PRIMARY KEY,
    member_id BIGINT NOT NULL REFERENCES members(id),
    session_token VARCHAR(128) UNIQUE NOT NULL,
    authenticated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    last_activity TIMESTAMPTZ NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_member ON admin_sessions(member_id) WHERE is_active;
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    member_id BIGINT NOT NULL REFERENCES members(id),
    success BOOLEAN NOT NULL DEFAULT FALSE,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts ON admin_login_attempts(member_id, attempt_time DESC);
`

// Записи журнала упорядочены по id, а не по created_at.
var migration006LedgerOrder = `
DROP INDEX IF EXISTS idx_credit_ledger_member;
DROP INDEX IF EXISTS idx_credit_ledger_tenant;
CREATE INDEX IF NOT EXISTS idx_credit_ledger_member_id ON credit_ledger(tenant_id, member_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_credit_ledger_tenant_id ON credit_ledger(tenant_id, id DESC);
`
