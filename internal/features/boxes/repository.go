// Package boxes: repository.go работает с таблицей box_transactions.
package boxes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/db/postgres"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
)

const boxColumns = `id, tenant_id, member_id, credit_tier, credit_spent, status, rarity_id, reward_id,
	created_at, expires_at, opened_at, processed, processed_at, processed_by`

// Repository предоставляет доступ к боксам поверх пула или транзакции.
type Repository struct {
	db postgres.Querier
}

// NewRepository создаёт репозиторий боксов.
func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// pgTx собирает репозитории боксов, журнала и каталога в одной транзакции.
type pgTx struct {
	*Repository
	ledger  *ledger.Repository
	catalog *catalog.Repository
}

// NewTx собирает Tx поверх транзакции PostgreSQL.
func NewTx(q postgres.Querier) Tx {
	return &pgTx{
		Repository: NewRepository(q),
		ledger:     ledger.NewRepository(q),
		catalog:    catalog.NewRepository(q),
	}
}

func (t *pgTx) Ledger() ledger.Store    { return t.ledger }
func (t *pgTx) Catalog() catalog.Reader { return t.catalog }

// MemberBalance возвращает кэш баланса участника.
func (t *pgTx) MemberBalance(ctx context.Context, tenantID, memberID int64) (int64, error) {
	return t.ledger.Balance(ctx, tenantID, memberID)
}

// InsertBox добавляет купленный бокс.
func (r *Repository) InsertBox(ctx context.Context, b *Box) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO box_transactions (id, tenant_id, member_id, credit_tier, credit_spent, status, rarity_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.TenantID, b.MemberID, b.CreditTier, b.CreditSpent, string(b.Status), b.RarityID, b.CreatedAt, b.ExpiresAt)
	if err != nil {
		return fmt.Errorf("ошибка записи бокса: %w", err)
	}
	return nil
}

// LockBox блокирует строку бокса тенанта. Бокс другого тенанта не виден.
func (r *Repository) LockBox(ctx context.Context, tenantID int64, id uuid.UUID) (*Box, error) {
	b, err := scanBox(r.db.QueryRow(ctx,
		`SELECT `+boxColumns+` FROM box_transactions WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrBoxNotFound.With("transaction_id", id.String())
		}
		return nil, fmt.Errorf("ошибка блокировки бокса: %w", err)
	}
	return b, nil
}

// MarkOpened переводит бокс в OPENED с наградой.
func (r *Repository) MarkOpened(ctx context.Context, b *Box) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE box_transactions
		SET status = 'OPENED', reward_id = $3, opened_at = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'PURCHASED'
	`, b.TenantID, b.ID, b.RewardID, b.OpenedAt)
	if err != nil {
		return fmt.Errorf("ошибка открытия бокса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrBoxAlreadyOpened
	}
	return nil
}

// ExpireIfDue переводит бокс в EXPIRED, если он ещё PURCHASED и срок наступил.
// Возвращает true, если строка изменилась.
func (r *Repository) ExpireIfDue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE box_transactions SET status = 'EXPIRED'
		WHERE id = $1 AND status = 'PURCHASED' AND expires_at <= $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("ошибка истечения бокса: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessed отмечает выдачу награды открытого бокса.
func (r *Repository) MarkProcessed(ctx context.Context, b *Box) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE box_transactions
		SET processed = TRUE, processed_at = $3, processed_by = $4
		WHERE tenant_id = $1 AND id = $2 AND status = 'OPENED' AND processed = FALSE
	`, b.TenantID, b.ID, b.ProcessedAt, b.ProcessedBy)
	if err != nil {
		return fmt.Errorf("ошибка отметки выдачи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrAlreadyProcessed
	}
	return nil
}

// ListDue возвращает ID купленных боксов с наступившим сроком.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM box_transactions
		WHERE status = 'PURCHASED' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска просроченных боксов: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования ID бокса: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Inventory возвращает неоткрытые и не истёкшие боксы участника, новые сверху.
func (r *Repository) Inventory(ctx context.Context, tenantID, memberID int64, now time.Time) ([]*Box, error) {
	return r.queryBoxes(ctx, `SELECT `+boxColumns+` FROM box_transactions
		WHERE tenant_id = $1 AND member_id = $2 AND status = 'PURCHASED' AND expires_at > $3
		ORDER BY created_at DESC, id`, tenantID, memberID, now)
}

// History возвращает боксы тенанта по фильтру, новые сверху.
func (r *Repository) History(ctx context.Context, f Filter) ([]*Box, error) {
	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.MemberID != 0 {
		add("member_id = $%d", f.MemberID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.CreditTier != 0 {
		add("credit_tier = $%d", f.CreditTier)
	}
	if f.Processed != nil {
		add("processed = $%d", *f.Processed)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM box_transactions WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`,
		boxColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	return r.queryBoxes(ctx, query, args...)
}

func (r *Repository) queryBoxes(ctx context.Context, query string, args ...any) ([]*Box, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения боксов: %w", err)
	}
	defer rows.Close()

	var out []*Box
	for rows.Next() {
		b, err := scanBox(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования бокса: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBox(row pgx.Row) (*Box, error) {
	var b Box
	var status string
	if err := row.Scan(
		&b.ID, &b.TenantID, &b.MemberID, &b.CreditTier, &b.CreditSpent, &status, &b.RarityID, &b.RewardID,
		&b.CreatedAt, &b.ExpiresAt, &b.OpenedAt, &b.Processed, &b.ProcessedAt, &b.ProcessedBy,
	); err != nil {
		return nil, err
	}
	b.Status = Status(status)
	return &b, nil
}
