// Package ledger: repository.go работает с таблицей credit_ledger
// и кэшем баланса в members.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/db/postgres"
)

const entryColumns = `id, tenant_id, member_id, delta, balance_after, kind, description, created_by, created_at`

// Repository предоставляет методы журнала поверх пула или транзакции.
type Repository struct {
	db postgres.Querier
}

// NewRepository создаёт репозиторий журнала.
func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// LockBalance блокирует строку участника и возвращает кэш баланса.
func (r *Repository) LockBalance(ctx context.Context, tenantID, memberID int64) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `
		SELECT credit_balance FROM members
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, memberID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, common.ErrMemberNotFound
		}
		return 0, fmt.Errorf("ошибка блокировки баланса: %w", err)
	}
	return balance, nil
}

// Balance возвращает кэш баланса без блокировки.
func (r *Repository) Balance(ctx context.Context, tenantID, memberID int64) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx,
		`SELECT credit_balance FROM members WHERE tenant_id = $1 AND id = $2`,
		tenantID, memberID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, common.ErrMemberNotFound
		}
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return balance, nil
}

// SetBalance пишет кэш баланса. CHECK (credit_balance >= 0) страхует на уровне БД.
func (r *Repository) SetBalance(ctx context.Context, tenantID, memberID, balance int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE members SET credit_balance = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, memberID, balance)
	if err != nil {
		return fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	return nil
}

// InsertEntry добавляет запись журнала.
func (r *Repository) InsertEntry(ctx context.Context, e *Entry) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO credit_ledger (tenant_id, member_id, delta, balance_after, kind, description, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, e.TenantID, e.MemberID, e.Delta, e.BalanceAfter, string(e.Kind), e.Description, e.CreatedBy, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал: %w", err)
	}
	return nil
}

// LatestBalance возвращает balance_after последней записи участника (0, если записей нет).
// Порядок записей задаёт id: он выдаётся под блокировкой участника.
func (r *Repository) LatestBalance(ctx context.Context, tenantID, memberID int64) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `
		SELECT balance_after FROM credit_ledger
		WHERE tenant_id = $1 AND member_id = $2
		ORDER BY id DESC
		LIMIT 1
	`, tenantID, memberID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	return balance, nil
}

// MemberBalances возвращает кэши балансов постранично (по возрастанию id участника).
func (r *Repository) MemberBalances(ctx context.Context, afterID int64, limit int) ([]BalanceRef, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tenant_id, id, credit_balance FROM members
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения балансов: %w", err)
	}
	defer rows.Close()

	var out []BalanceRef
	for rows.Next() {
		var b BalanceRef
		if err := rows.Scan(&b.TenantID, &b.MemberID, &b.Cached); err != nil {
			return nil, fmt.Errorf("ошибка сканирования баланса: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// List возвращает записи журнала по фильтру, новые сверху.
func (r *Repository) List(ctx context.Context, f Filter) ([]*Entry, error) {
	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.MemberID != 0 {
		add("member_id = $%d", f.MemberID)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		add("kind = ANY($%d)", kinds)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("created_at < $%d", *f.Until)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM credit_ledger WHERE %s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d`,
		entryColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.MemberID, &e.Delta, &e.BalanceAfter,
			&kind, &e.Description, &e.CreatedBy, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		e.Kind = Kind(kind)
		out = append(out, &e)
	}
	return out, rows.Err()
}
