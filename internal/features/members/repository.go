// Package members: repository.go отвечает за операции с таблицами tenants и members.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/db/postgres"
)

const memberColumns = `id, tenant_id, user_id, username, first_name, role, credit_balance, created_at, updated_at`

// Repository работает с участниками и тенантами.
type Repository struct {
	db postgres.Querier
}

// NewRepository создаёт репозиторий поверх пула или транзакции.
func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// EnsureTenant создаёт тенанта, если его ещё нет, и возвращает его.
func (r *Repository) EnsureTenant(ctx context.Context, code, name string) (*Tenant, error) {
	query := `
		INSERT INTO tenants (code, name)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		RETURNING id, code, name, created_at
	`
	var t Tenant
	if err := r.db.QueryRow(ctx, query, code, name).Scan(&t.ID, &t.Code, &t.Name, &t.CreatedAt); err != nil {
		return nil, fmt.Errorf("ошибка создания тенанта %q: %w", code, err)
	}
	return &t, nil
}

// TenantByCode ищет тенанта по коду.
func (r *Repository) TenantByCode(ctx context.Context, code string) (*Tenant, error) {
	var t Tenant
	err := r.db.QueryRow(ctx,
		`SELECT id, code, name, created_at FROM tenants WHERE code = $1`, code,
	).Scan(&t.ID, &t.Code, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrInvalidArgument.WithMessage(fmt.Sprintf("тенант %q не найден", code))
		}
		return nil, fmt.Errorf("ошибка чтения тенанта: %w", err)
	}
	return &t, nil
}

// Upsert добавляет участника или обновляет имя/username вернувшегося.
// Роль и баланс при конфликте не трогаются.
func (r *Repository) Upsert(ctx context.Context, tenantID int64, p Profile) (*Member, error) {
	query := `
		INSERT INTO members (tenant_id, user_id, username, first_name, role)
		VALUES ($1, $2, $3, $4, 'MEMBER')
		ON CONFLICT (tenant_id, user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    updated_at = NOW()
		RETURNING ` + memberColumns
	m, err := scanMember(r.db.QueryRow(ctx, query, tenantID, p.UserID, p.Username, p.FirstName))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания/обновления участника: %w", err)
	}
	return m, nil
}

// GetByID возвращает участника тенанта по ID записи.
func (r *Repository) GetByID(ctx context.Context, tenantID, id int64) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE tenant_id = $1 AND id = $2`
	return r.getOne(ctx, query, tenantID, id)
}

// GetByUserID возвращает участника по внешнему ID.
func (r *Repository) GetByUserID(ctx context.Context, tenantID, userID int64) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE tenant_id = $1 AND user_id = $2`
	return r.getOne(ctx, query, tenantID, userID)
}

// GetByUsername ищет участника по @username без учёта регистра.
func (r *Repository) GetByUsername(ctx context.Context, tenantID int64, username string) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE tenant_id = $1 AND LOWER(username) = LOWER($2)`
	return r.getOne(ctx, query, tenantID, username)
}

// UpdateRole меняет роль участника.
func (r *Repository) UpdateRole(ctx context.Context, tenantID, id int64, role Role) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE members SET role = $3, updated_at = NOW() WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(role),
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrMemberNotFound
	}
	return nil
}

// ListStaff возвращает участников с ролями ADMIN и CS.
func (r *Repository) ListStaff(ctx context.Context, tenantID int64) ([]*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members
		WHERE tenant_id = $1 AND role IN ('ADMIN', 'CS')
		ORDER BY role, first_name`
	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса участников: %w", err)
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrMemberNotFound
		}
		return nil, fmt.Errorf("ошибка чтения участника: %w", err)
	}
	return m, nil
}

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	var role string
	if err := row.Scan(
		&m.ID, &m.TenantID, &m.UserID, &m.Username, &m.FirstName,
		&role, &m.CreditBalance, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	return &m, nil
}
