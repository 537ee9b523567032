// Package catalog: repository.go читает и пишет таблицы каталога.
// Все чтения идут в БД внутри транзакции вызывающего, кэша нет.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/db/postgres"
)

// ErrRarityNotFound: редкость с таким ID или кодом не существует.
var ErrRarityNotFound = common.ErrInvalidArgument.WithMessage("редкость не найдена")

const rewardColumns = `id, tenant_id, rarity_id, label, reward_type, amount, is_active,
	real_probability, display_probability, created_at, updated_at`

// Repository предоставляет доступ к каталогу поверх пула или транзакции.
type Repository struct {
	db postgres.Querier
}

// NewRepository создаёт репозиторий каталога.
func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// Rarities возвращает все редкости по sort_order.
func (r *Repository) Rarities(ctx context.Context) ([]*Rarity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, code, name, color_key, sort_order FROM box_rarities
		ORDER BY sort_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения редкостей: %w", err)
	}
	defer rows.Close()

	var out []*Rarity
	for rows.Next() {
		rr, err := scanRarity(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования редкости: %w", err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// Rarity возвращает редкость по ID.
func (r *Repository) Rarity(ctx context.Context, id int64) (*Rarity, error) {
	rr, err := scanRarity(r.db.QueryRow(ctx,
		`SELECT id, code, name, color_key, sort_order FROM box_rarities WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRarityNotFound.With("rarity_id", id)
		}
		return nil, fmt.Errorf("ошибка чтения редкости: %w", err)
	}
	return rr, nil
}

// RarityByCode возвращает редкость по коду.
func (r *Repository) RarityByCode(ctx context.Context, code RarityCode) (*Rarity, error) {
	rr, err := scanRarity(r.db.QueryRow(ctx,
		`SELECT id, code, name, color_key, sort_order FROM box_rarities WHERE code = $1`, string(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRarityNotFound.With("rarity_code", string(code))
		}
		return nil, fmt.Errorf("ошибка чтения редкости: %w", err)
	}
	return rr, nil
}

// Tier возвращает тир тенанта. Нет тира: ErrInvalidTier.
func (r *Repository) Tier(ctx context.Context, tenantID int64, tier int) (*Tier, error) {
	return r.tier(ctx, `SELECT tenant_id, credit_tier, price, is_active FROM box_tiers
		WHERE tenant_id = $1 AND credit_tier = $2`, tenantID, tier)
}

// LockTier блокирует строку тира до конца транзакции.
func (r *Repository) LockTier(ctx context.Context, tenantID int64, tier int) (*Tier, error) {
	return r.tier(ctx, `SELECT tenant_id, credit_tier, price, is_active FROM box_tiers
		WHERE tenant_id = $1 AND credit_tier = $2 FOR UPDATE`, tenantID, tier)
}

func (r *Repository) tier(ctx context.Context, query string, tenantID int64, tier int) (*Tier, error) {
	var t Tier
	err := r.db.QueryRow(ctx, query, tenantID, tier).Scan(&t.TenantID, &t.CreditTier, &t.Price, &t.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrInvalidTier.With("credit_tier", tier)
		}
		return nil, fmt.Errorf("ошибка чтения тира: %w", err)
	}
	return &t, nil
}

// Tiers возвращает все тиры тенанта по возрастанию.
func (r *Repository) Tiers(ctx context.Context, tenantID int64) ([]*Tier, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tenant_id, credit_tier, price, is_active FROM box_tiers
		WHERE tenant_id = $1
		ORDER BY credit_tier
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения тиров: %w", err)
	}
	defer rows.Close()

	var out []*Tier
	for rows.Next() {
		var t Tier
		if err := rows.Scan(&t.TenantID, &t.CreditTier, &t.Price, &t.IsActive); err != nil {
			return nil, fmt.Errorf("ошибка сканирования тира: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// UpsertTier создаёт тир или меняет его цену и активность.
func (r *Repository) UpsertTier(ctx context.Context, t *Tier) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO box_tiers (tenant_id, credit_tier, price, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, credit_tier) DO UPDATE
		SET price = EXCLUDED.price, is_active = EXCLUDED.is_active, updated_at = NOW()
	`, t.TenantID, t.CreditTier, t.Price, t.IsActive)
	if err != nil {
		return fmt.Errorf("ошибка записи тира: %w", err)
	}
	return nil
}

// TierRarityWeights возвращает таблицу редкостей тира по sort_order редкости.
func (r *Repository) TierRarityWeights(ctx context.Context, tenantID int64, tier int, activeOnly bool) ([]*RarityWeight, error) {
	return r.weights(ctx, `
		SELECT p.tenant_id, p.credit_tier, p.rarity_id, r.sort_order,
		       p.real_probability, p.display_probability, p.is_active
		FROM box_tier_rarity_probs p
		JOIN box_rarities r ON r.id = p.rarity_id
		WHERE p.tenant_id = $1 AND p.credit_tier = $2 AND (p.is_active OR NOT $3)
		ORDER BY r.sort_order, r.id
	`, tenantID, tier, activeOnly)
}

// LockTierRarityWeights блокирует все строки таблицы редкостей тира.
func (r *Repository) LockTierRarityWeights(ctx context.Context, tenantID int64, tier int) ([]*RarityWeight, error) {
	return r.weights(ctx, `
		SELECT p.tenant_id, p.credit_tier, p.rarity_id, r.sort_order,
		       p.real_probability, p.display_probability, p.is_active
		FROM box_tier_rarity_probs p
		JOIN box_rarities r ON r.id = p.rarity_id
		WHERE p.tenant_id = $1 AND p.credit_tier = $2
		ORDER BY r.sort_order, r.id
		FOR UPDATE OF p
	`, tenantID, tier)
}

func (r *Repository) weights(ctx context.Context, query string, args ...any) ([]*RarityWeight, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения таблицы редкостей: %w", err)
	}
	defer rows.Close()

	var out []*RarityWeight
	for rows.Next() {
		var w RarityWeight
		if err := rows.Scan(&w.TenantID, &w.CreditTier, &w.RarityID, &w.RaritySort,
			&w.RealProbability, &w.DisplayProbability, &w.IsActive); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки редкости: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

// UpsertTierRarityWeight создаёт или обновляет строку таблицы редкостей тира.
func (r *Repository) UpsertTierRarityWeight(ctx context.Context, w *RarityWeight) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO box_tier_rarity_probs (tenant_id, credit_tier, rarity_id, real_probability, display_probability, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, credit_tier, rarity_id) DO UPDATE
		SET real_probability = EXCLUDED.real_probability,
		    display_probability = EXCLUDED.display_probability,
		    is_active = EXCLUDED.is_active,
		    updated_at = NOW()
	`, w.TenantID, w.CreditTier, w.RarityID, w.RealProbability, w.DisplayProbability, w.IsActive)
	if err != nil {
		return fmt.Errorf("ошибка записи строки редкости: %w", err)
	}
	return nil
}

// Rewards возвращает награды редкости по id. rarityID = 0: все редкости.
func (r *Repository) Rewards(ctx context.Context, tenantID, rarityID int64, activeOnly bool) ([]*Reward, error) {
	return r.rewards(ctx, `SELECT `+rewardColumns+` FROM box_rewards
		WHERE tenant_id = $1 AND ($2 = 0 OR rarity_id = $2) AND (is_active OR NOT $3)
		ORDER BY rarity_id, id`, tenantID, rarityID, activeOnly)
}

// LockCatalog берёт транзакционную advisory-блокировку каталога тенанта.
func (r *Repository) LockCatalog(ctx context.Context, tenantID int64) error {
	_, err := r.db.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('box_catalog:' || $1::text, 0))`, tenantID)
	if err != nil {
		return fmt.Errorf("ошибка блокировки каталога: %w", err)
	}
	return nil
}

// LockRarityRewards блокирует все награды редкости (активные и нет).
func (r *Repository) LockRarityRewards(ctx context.Context, tenantID, rarityID int64) ([]*Reward, error) {
	return r.rewards(ctx, `SELECT `+rewardColumns+` FROM box_rewards
		WHERE tenant_id = $1 AND rarity_id = $2
		ORDER BY id
		FOR UPDATE`, tenantID, rarityID)
}

// Reward возвращает награду тенанта по ID.
func (r *Repository) Reward(ctx context.Context, tenantID, id int64) (*Reward, error) {
	rw, err := scanReward(r.db.QueryRow(ctx,
		`SELECT `+rewardColumns+` FROM box_rewards WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrRewardNotFound.With("reward_id", id)
		}
		return nil, fmt.Errorf("ошибка чтения награды: %w", err)
	}
	return rw, nil
}

func (r *Repository) rewards(ctx context.Context, query string, args ...any) ([]*Reward, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения наград: %w", err)
	}
	defer rows.Close()

	var out []*Reward
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования награды: %w", err)
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}

// InsertReward добавляет награду и заполняет ID.
func (r *Repository) InsertReward(ctx context.Context, rw *Reward) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO box_rewards (tenant_id, rarity_id, label, reward_type, amount, is_active, real_probability, display_probability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, rw.TenantID, rw.RarityID, rw.Label, string(rw.Type), rw.Amount, rw.IsActive,
		rw.RealProbability, rw.DisplayProbability,
	).Scan(&rw.ID, &rw.CreatedAt, &rw.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания награды: %w", err)
	}
	return nil
}

// UpdateReward сохраняет изменяемые поля награды.
func (r *Repository) UpdateReward(ctx context.Context, rw *Reward) error {
	_, err := r.db.Exec(ctx, `
		UPDATE box_rewards
		SET label = $3, reward_type = $4, amount = $5, is_active = $6,
		    real_probability = $7, display_probability = $8, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
	`, rw.TenantID, rw.ID, rw.Label, string(rw.Type), rw.Amount, rw.IsActive,
		rw.RealProbability, rw.DisplayProbability)
	if err != nil {
		return fmt.Errorf("ошибка обновления награды: %w", err)
	}
	return nil
}

// IsRarityReachable: есть ли активный тир, где у редкости активная строка с real > 0.
func (r *Repository) IsRarityReachable(ctx context.Context, tenantID, rarityID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM box_tier_rarity_probs p
			JOIN box_tiers t ON t.tenant_id = p.tenant_id AND t.credit_tier = p.credit_tier
			WHERE p.tenant_id = $1 AND p.rarity_id = $2
			  AND p.is_active AND p.real_probability > 0 AND t.is_active
		)
	`, tenantID, rarityID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки достижимости редкости: %w", err)
	}
	return ok, nil
}

func scanRarity(row pgx.Row) (*Rarity, error) {
	var rr Rarity
	var code string
	if err := row.Scan(&rr.ID, &code, &rr.Name, &rr.ColorKey, &rr.SortOrder); err != nil {
		return nil, err
	}
	rr.Code = RarityCode(code)
	return &rr, nil
}

func scanReward(row pgx.Row) (*Reward, error) {
	var rw Reward
	var typ string
	if err := row.Scan(
		&rw.ID, &rw.TenantID, &rw.RarityID, &rw.Label, &typ, &rw.Amount, &rw.IsActive,
		&rw.RealProbability, &rw.DisplayProbability, &rw.CreatedAt, &rw.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rw.Type = RewardType(typ)
	return &rw, nil
}
