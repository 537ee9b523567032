// Package admin: gateway.go даёт единую точку для админских операций.
// Проверяет роль: ADMIN меняет каталог и балансы, CS только читает.
// Тенант всегда берётся у того, кто выполняет действие.
package admin

import (
	"context"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/boxes"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/ledger"
	"serotonyl.ru/mystery-box/internal/features/members"
)

// Gateway: админский шлюз к каталогу, журналу и боксам.
type Gateway struct {
	catalog *catalog.Service
	ledger  *ledger.Service
	boxes   *boxes.Service
	members *members.Service
}

// NewGateway создаёт шлюз.
func NewGateway(cat *catalog.Service, led *ledger.Service, bx *boxes.Service, mem *members.Service) *Gateway {
	return &Gateway{catalog: cat, ledger: led, boxes: bx, members: mem}
}

func canWrite(actor *members.Member) error {
	if actor == nil || !actor.Role.CanWrite() {
		return common.ErrForbidden
	}
	return nil
}

func canRead(actor *members.Member) error {
	if actor == nil || !actor.Role.CanRead() {
		return common.ErrForbidden
	}
	return nil
}

func audit(actor *members.Member, action string) *log.Entry {
	return log.WithFields(log.Fields{
		"tenant_id": actor.TenantID,
		"actor_id":  actor.ID,
		"action":    action,
	})
}

// --- Каталог ---

// SetRewardState включает/выключает награду или меняет её вероятности.
// Изменение отклоняется с ValidationFailed, если нарушает правило суммы 100.
func (g *Gateway) SetRewardState(ctx context.Context, actor *members.Member, rewardID int64, patch catalog.RewardPatch) (catalog.Validation, error) {
	if err := canWrite(actor); err != nil {
		return catalog.Validation{}, err
	}
	v, err := g.catalog.SetRewardState(ctx, actor.TenantID, rewardID, patch)
	if err != nil {
		return v, err
	}
	audit(actor, "set_reward_state").WithField("reward_id", rewardID).Info("Награда изменена")
	return v, nil
}

// SetRarityRewards сохраняет таблицу наград редкости целиком.
func (g *Gateway) SetRarityRewards(ctx context.Context, actor *members.Member, rarityID int64, updates []catalog.RewardUpdate) (catalog.Validation, error) {
	if err := canWrite(actor); err != nil {
		return catalog.Validation{}, err
	}
	v, err := g.catalog.SetRarityRewards(ctx, actor.TenantID, rarityID, updates)
	if err != nil {
		return v, err
	}
	audit(actor, "set_rarity_rewards").WithFields(log.Fields{
		"rarity_id": rarityID,
		"updates":   len(updates),
	}).Info("Таблица наград сохранена")
	return v, nil
}

// CreateReward добавляет награду. Она создаётся выключенной.
func (g *Gateway) CreateReward(ctx context.Context, actor *members.Member, in catalog.NewReward) (*catalog.Reward, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	return g.catalog.CreateReward(ctx, actor.TenantID, in)
}

// SetTierRarityState меняет таблицу редкостей тира.
func (g *Gateway) SetTierRarityState(ctx context.Context, actor *members.Member, tier int, patches []catalog.RarityWeightPatch) (catalog.Validation, error) {
	if err := canWrite(actor); err != nil {
		return catalog.Validation{}, err
	}
	v, err := g.catalog.SetTierRarityState(ctx, actor.TenantID, tier, patches)
	if err != nil {
		return v, err
	}
	audit(actor, "set_tier_rarity_state").WithField("tier", tier).Info("Таблица редкостей тира изменена")
	return v, nil
}

// SetTierState меняет цену или активность тира.
func (g *Gateway) SetTierState(ctx context.Context, actor *members.Member, tier int, patch catalog.TierPatch) (*catalog.Tier, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	return g.catalog.SetTierState(ctx, actor.TenantID, tier, patch)
}

// ImportCatalog загружает каталог целиком одной транзакцией.
func (g *Gateway) ImportCatalog(ctx context.Context, actor *members.Member, in catalog.Import) (catalog.ImportResult, error) {
	if err := canWrite(actor); err != nil {
		return catalog.ImportResult{}, err
	}
	return g.catalog.Import(ctx, actor.TenantID, in)
}

// Overview возвращает состояние каталога с суммами вероятностей.
func (g *Gateway) Overview(ctx context.Context, actor *members.Member) (*catalog.Overview, error) {
	if err := canRead(actor); err != nil {
		return nil, err
	}
	return g.catalog.Overview(ctx, actor.TenantID)
}

// ValidateRarity проверяет текущую таблицу наград редкости.
func (g *Gateway) ValidateRarity(ctx context.Context, actor *members.Member, rarityID int64) (catalog.Validation, error) {
	if err := canRead(actor); err != nil {
		return catalog.Validation{}, err
	}
	return g.catalog.Validate(ctx, actor.TenantID, rarityID)
}

// --- Кредиты ---

// TopUp пополняет баланс участника.
func (g *Gateway) TopUp(ctx context.Context, actor *members.Member, memberID, amount int64, note string) (*ledger.Entry, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	return g.ledger.TopUp(ctx, actor.TenantID, memberID, amount, note, &actor.ID)
}

// Adjust проводит корректировку баланса со знаком.
func (g *Gateway) Adjust(ctx context.Context, actor *members.Member, memberID, delta int64, note string) (*ledger.Entry, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	return g.ledger.Adjust(ctx, actor.TenantID, memberID, delta, note, &actor.ID)
}

// Ledger возвращает записи журнала тенанта.
func (g *Gateway) Ledger(ctx context.Context, actor *members.Member, f ledger.Filter) ([]*ledger.Entry, error) {
	if err := canRead(actor); err != nil {
		return nil, err
	}
	f.TenantID = actor.TenantID
	return g.ledger.TenantLedger(ctx, f)
}

// --- Боксы ---

// History возвращает боксы тенанта по фильтру.
func (g *Gateway) History(ctx context.Context, actor *members.Member, f boxes.Filter) ([]*boxes.Box, error) {
	if err := canRead(actor); err != nil {
		return nil, err
	}
	f.TenantID = actor.TenantID
	return g.boxes.TenantHistory(ctx, f)
}

// MarkProcessed отмечает выдачу награды открытого бокса.
func (g *Gateway) MarkProcessed(ctx context.Context, actor *members.Member, id uuid.UUID) (*boxes.Box, error) {
	if err := canWrite(actor); err != nil {
		return nil, err
	}
	return g.boxes.MarkProcessed(ctx, actor.TenantID, id, actor.ID)
}

// --- Участники ---

// AssignRole назначает роль участнику тенанта.
func (g *Gateway) AssignRole(ctx context.Context, actor *members.Member, memberID int64, role members.Role) error {
	return g.members.AssignRole(ctx, actor, memberID, role)
}

// Staff возвращает администраторов и поддержку тенанта.
func (g *Gateway) Staff(ctx context.Context, actor *members.Member) ([]*members.Member, error) {
	if err := canRead(actor); err != nil {
		return nil, err
	}
	return g.members.Staff(ctx, actor.TenantID)
}
