// Package catalog: service.go вносит изменения каталога с проверкой правила суммы 100
// и выборки для участников и админки.
//
// Каждое изменение идёт одной транзакцией: блокируем все строки затронутой
// таблицы, применяем изменение в памяти, проверяем и только потом пишем.
// Отклонённое изменение не оставляет следов в БД.
package catalog

import (
	"context"
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
)

// MaxLabelLen: максимальная длина названия награды.
const MaxLabelLen = 120

// Reader: чтение каталога внутри транзакции.
type Reader interface {
	Rarities(ctx context.Context) ([]*Rarity, error)
	Rarity(ctx context.Context, id int64) (*Rarity, error)
	RarityByCode(ctx context.Context, code RarityCode) (*Rarity, error)
	Tier(ctx context.Context, tenantID int64, tier int) (*Tier, error)
	Tiers(ctx context.Context, tenantID int64) ([]*Tier, error)
	TierRarityWeights(ctx context.Context, tenantID int64, tier int, activeOnly bool) ([]*RarityWeight, error)
	Rewards(ctx context.Context, tenantID, rarityID int64, activeOnly bool) ([]*Reward, error)
	Reward(ctx context.Context, tenantID, id int64) (*Reward, error)
	IsRarityReachable(ctx context.Context, tenantID, rarityID int64) (bool, error)
}

// Tx: чтение и запись каталога внутри транзакции.
type Tx interface {
	Reader
	// LockCatalog берёт блокировку каталога тенанта до конца транзакции.
	// Все изменения каталога тенанта идут под ней друг за другом.
	LockCatalog(ctx context.Context, tenantID int64) error
	LockTier(ctx context.Context, tenantID int64, tier int) (*Tier, error)
	LockTierRarityWeights(ctx context.Context, tenantID int64, tier int) ([]*RarityWeight, error)
	UpsertTier(ctx context.Context, t *Tier) error
	UpsertTierRarityWeight(ctx context.Context, w *RarityWeight) error
	LockRarityRewards(ctx context.Context, tenantID, rarityID int64) ([]*Reward, error)
	InsertReward(ctx context.Context, rw *Reward) error
	UpdateReward(ctx context.Context, rw *Reward) error
}

// Transactor выполняет функцию в транзакции.
type Transactor interface {
	Do(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Service управляет каталогом тенанта.
type Service struct {
	tx Transactor
}

// NewService создаёт сервис каталога.
func NewService(tx Transactor) *Service {
	return &Service{tx: tx}
}

// Validate проверяет текущую таблицу наград редкости.
func (s *Service) Validate(ctx context.Context, tenantID, rarityID int64) (Validation, error) {
	var v Validation
	err := s.tx.View(ctx, func(tx Tx) error {
		if _, err := tx.Rarity(ctx, rarityID); err != nil {
			return err
		}
		rewards, err := tx.Rewards(ctx, tenantID, rarityID, true)
		if err != nil {
			return err
		}
		reachable, err := tx.IsRarityReachable(ctx, tenantID, rarityID)
		if err != nil {
			return err
		}
		v = Validate(rewards, reachable)
		return nil
	})
	return v, err
}

// ValidateTier проверяет текущую таблицу редкостей тира.
func (s *Service) ValidateTier(ctx context.Context, tenantID int64, tier int) (Validation, error) {
	var v Validation
	err := s.tx.View(ctx, func(tx Tx) error {
		t, err := tx.Tier(ctx, tenantID, tier)
		if err != nil {
			return err
		}
		weights, err := tx.TierRarityWeights(ctx, tenantID, tier, true)
		if err != nil {
			return err
		}
		v = ValidateTier(weights, t.IsActive)
		return nil
	})
	return v, err
}

// write выполняет изменение каталога тенанта под блокировкой каталога.
// Проверка суммы читает таблицы соседних редкостей и тиров; изменения
// каталога одного тенанта идут строго по очереди.
func (s *Service) write(ctx context.Context, tenantID int64, fn func(tx Tx) error) error {
	return s.tx.Do(ctx, func(tx Tx) error {
		if err := tx.LockCatalog(ctx, tenantID); err != nil {
			return err
		}
		return fn(tx)
	})
}

// SetRewardState меняет одну награду (активность и/или вероятности).
func (s *Service) SetRewardState(ctx context.Context, tenantID, rewardID int64, patch RewardPatch) (Validation, error) {
	return s.SetRarityRewards(ctx, tenantID, 0, []RewardUpdate{{RewardID: rewardID, RewardPatch: patch}})
}

// SetRarityRewards сохраняет изменения наград одной редкости целиком.
// rarityID = 0: редкость берётся из первой награды.
// Все награды должны принадлежать одной редкости.
func (s *Service) SetRarityRewards(ctx context.Context, tenantID, rarityID int64, updates []RewardUpdate) (Validation, error) {
	if len(updates) == 0 {
		return Validation{}, common.ErrInvalidArgument.WithMessage("нет изменений")
	}
	for _, u := range updates {
		if err := checkPatch(u.RealProbability, u.DisplayProbability); err != nil {
			return Validation{}, err
		}
	}

	var v Validation
	err := s.write(ctx, tenantID, func(tx Tx) error {
		rid := rarityID
		if rid == 0 {
			// Редкость награды не меняется после создания, поэтому чтение
			// без блокировки даёт ту же редкость, что и LockRarityRewards ниже.
			first, err := tx.Reward(ctx, tenantID, updates[0].RewardID)
			if err != nil {
				return err
			}
			rid = first.RarityID
		}

		rewards, err := tx.LockRarityRewards(ctx, tenantID, rid)
		if err != nil {
			return err
		}
		byID := make(map[int64]*Reward, len(rewards))
		for _, rw := range rewards {
			byID[rw.ID] = rw
		}

		changed := make(map[int64]bool, len(updates))
		for _, u := range updates {
			rw, ok := byID[u.RewardID]
			if !ok {
				return common.ErrRewardNotFound.With("reward_id", u.RewardID).With("rarity_id", rid)
			}
			applyRewardPatch(rw, u.RewardPatch)
			changed[rw.ID] = true
		}

		reachable, err := tx.IsRarityReachable(ctx, tenantID, rid)
		if err != nil {
			return err
		}
		v = Validate(rewards, reachable)
		if !v.OK {
			return v.Err()
		}

		for _, rw := range rewards {
			if !changed[rw.ID] {
				continue
			}
			if err := tx.UpdateReward(ctx, rw); err != nil {
				return err
			}
		}

		log.WithFields(log.Fields{
			"tenant_id":   tenantID,
			"rarity_id":   rid,
			"changed":     len(changed),
			"real_sum":    v.RealSum,
			"display_sum": v.DisplaySum,
		}).Info("Награды редкости сохранены")
		return nil
	})
	return v, err
}

// CreateReward добавляет награду. Новая награда всегда выключена,
// включается отдельным сохранением, которое проходит проверку суммы.
func (s *Service) CreateReward(ctx context.Context, tenantID int64, in NewReward) (*Reward, error) {
	rw := &Reward{
		TenantID:           tenantID,
		RarityID:           in.RarityID,
		Label:              common.SanitizeText(in.Label, MaxLabelLen),
		Type:               in.Type,
		Amount:             in.Amount,
		IsActive:           false,
		RealProbability:    in.RealProbability,
		DisplayProbability: in.DisplayProbability,
	}
	if err := rw.Validate(); err != nil {
		return nil, err
	}

	err := s.write(ctx, tenantID, func(tx Tx) error {
		if _, err := tx.Rarity(ctx, rw.RarityID); err != nil {
			return err
		}
		// Сериализуем с параллельными сохранениями той же редкости
		if _, err := tx.LockRarityRewards(ctx, tenantID, rw.RarityID); err != nil {
			return err
		}
		return tx.InsertReward(ctx, rw)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tenant_id": tenantID,
		"reward_id": rw.ID,
		"rarity_id": rw.RarityID,
		"label":     rw.Label,
	}).Info("Награда создана (выключена)")
	return rw, nil
}

// SetTierRarityState меняет строки таблицы редкостей тира.
// Строка, которой ещё нет, создаётся выключенной с нулевыми вероятностями
// и затем получает изменения из patch.
func (s *Service) SetTierRarityState(ctx context.Context, tenantID int64, tier int, patches []RarityWeightPatch) (Validation, error) {
	if len(patches) == 0 {
		return Validation{}, common.ErrInvalidArgument.WithMessage("нет изменений")
	}
	for _, p := range patches {
		if err := checkPatch(p.RealProbability, p.DisplayProbability); err != nil {
			return Validation{}, err
		}
	}

	var v Validation
	err := s.write(ctx, tenantID, func(tx Tx) error {
		t, err := tx.LockTier(ctx, tenantID, tier)
		if err != nil {
			return err
		}
		weights, err := tx.LockTierRarityWeights(ctx, tenantID, tier)
		if err != nil {
			return err
		}

		changed := make(map[int64]*RarityWeight, len(patches))
		for _, p := range patches {
			w := findWeight(weights, p.RarityID)
			if w == nil {
				rarity, err := tx.Rarity(ctx, p.RarityID)
				if err != nil {
					return err
				}
				w = &RarityWeight{TenantID: tenantID, CreditTier: tier, RarityID: rarity.ID, RaritySort: rarity.SortOrder}
				weights = append(weights, w)
			}
			applyWeightPatch(w, p)
			changed[w.RarityID] = w
		}

		v, err = s.checkTier(ctx, tx, t, weights)
		if err != nil {
			return err
		}

		for _, w := range weights {
			if changed[w.RarityID] == nil {
				continue
			}
			if err := tx.UpsertTierRarityWeight(ctx, w); err != nil {
				return err
			}
		}

		log.WithFields(log.Fields{
			"tenant_id":   tenantID,
			"tier":        tier,
			"changed":     len(changed),
			"real_sum":    v.RealSum,
			"display_sum": v.DisplaySum,
		}).Info("Таблица редкостей тира сохранена")
		return nil
	})
	return v, err
}

// SetTierState меняет цену или активность существующего тира.
func (s *Service) SetTierState(ctx context.Context, tenantID int64, tier int, patch TierPatch) (*Tier, error) {
	if patch.Price != nil && *patch.Price <= 0 {
		return nil, common.ErrInvalidArgument.WithMessage("цена должна быть положительной")
	}

	var out *Tier
	err := s.write(ctx, tenantID, func(tx Tx) error {
		t, err := tx.LockTier(ctx, tenantID, tier)
		if err != nil {
			return err
		}
		weights, err := tx.LockTierRarityWeights(ctx, tenantID, tier)
		if err != nil {
			return err
		}
		if patch.Price != nil {
			t.Price = *patch.Price
		}
		if patch.IsActive != nil {
			t.IsActive = *patch.IsActive
		}
		if _, err := s.checkTier(ctx, tx, t, weights); err != nil {
			return err
		}
		out = t
		return tx.UpsertTier(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tenant_id": tenantID,
		"tier":      tier,
		"price":     out.Price,
		"active":    out.IsActive,
	}).Info("Тир сохранён")
	return out, nil
}

// checkTier проверяет таблицу тира и то, что каждая достижимая из неё
// редкость имеет корректную непустую таблицу наград.
func (s *Service) checkTier(ctx context.Context, tx Tx, t *Tier, weights []*RarityWeight) (Validation, error) {
	v := ValidateTier(weights, t.IsActive)
	if !v.OK {
		return v, v.Err()
	}
	if !t.IsActive {
		return v, nil
	}
	for _, w := range weights {
		if !w.IsActive || w.RealProbability == 0 {
			continue
		}
		locked, err := tx.LockRarityRewards(ctx, t.TenantID, w.RarityID)
		if err != nil {
			return v, err
		}
		rewards := slices.DeleteFunc(locked, func(rw *Reward) bool { return !rw.IsActive })
		rv := Validate(rewards, true)
		if !rv.OK {
			return v, rv.failure().
				WithMessage(fmt.Sprintf("у редкости %d нет корректной таблицы наград (реальные: %d, витринные: %d)",
					w.RarityID, rv.RealSum, rv.DisplaySum)).
				With("rarity_id", w.RarityID)
		}
	}
	return v, nil
}

// Import загружает каталог целиком одной транзакцией.
// После записи проверяются все тиры и все редкости; если хоть одна таблица
// не сходится, импорт откатывается полностью.
func (s *Service) Import(ctx context.Context, tenantID int64, in Import) (ImportResult, error) {
	var res ImportResult
	err := s.write(ctx, tenantID, func(tx Tx) error {
		res = ImportResult{}
		rarityIDs := make(map[RarityCode]int64)
		resolve := func(code RarityCode) (int64, error) {
			if id, ok := rarityIDs[code]; ok {
				return id, nil
			}
			r, err := tx.RarityByCode(ctx, code)
			if err != nil {
				return 0, err
			}
			rarityIDs[code] = r.ID
			return r.ID, nil
		}

		for _, ti := range in.Tiers {
			if ti.Price <= 0 {
				return common.ErrInvalidArgument.WithMessage(fmt.Sprintf("у тира %d должна быть положительная цена", ti.CreditTier))
			}
			if err := tx.UpsertTier(ctx, &Tier{TenantID: tenantID, CreditTier: ti.CreditTier, Price: ti.Price, IsActive: ti.IsActive}); err != nil {
				return err
			}
			res.Tiers++
			for _, wi := range ti.Weights {
				rid, err := resolve(wi.Rarity)
				if err != nil {
					return err
				}
				if err := checkPatch(&wi.RealProbability, &wi.DisplayProbability); err != nil {
					return err
				}
				if err := tx.UpsertTierRarityWeight(ctx, &RarityWeight{
					TenantID: tenantID, CreditTier: ti.CreditTier, RarityID: rid,
					RealProbability: wi.RealProbability, DisplayProbability: wi.DisplayProbability,
					IsActive: wi.IsActive,
				}); err != nil {
					return err
				}
				res.Weights++
			}
		}

		existing, err := tx.Rewards(ctx, tenantID, 0, false)
		if err != nil {
			return err
		}
		for _, ri := range in.Rewards {
			rid, err := resolve(ri.Rarity)
			if err != nil {
				return err
			}
			rw := &Reward{
				TenantID: tenantID, RarityID: rid,
				Label: common.SanitizeText(ri.Label, MaxLabelLen), Type: ri.Type, Amount: ri.Amount,
				IsActive: ri.IsActive, RealProbability: ri.RealProbability, DisplayProbability: ri.DisplayProbability,
			}
			if err := rw.Validate(); err != nil {
				return err
			}
			if cur := findReward(existing, rid, rw.Label); cur != nil {
				rw.ID = cur.ID
				if err := tx.UpdateReward(ctx, rw); err != nil {
					return err
				}
				res.RewardsUpdated++
				continue
			}
			if err := tx.InsertReward(ctx, rw); err != nil {
				return err
			}
			existing = append(existing, rw)
			res.RewardsCreated++
		}

		return s.checkAll(ctx, tx, tenantID)
	})
	if err != nil {
		return ImportResult{}, err
	}

	log.WithFields(log.Fields{
		"tenant_id":       tenantID,
		"tiers":           res.Tiers,
		"weights":         res.Weights,
		"rewards_created": res.RewardsCreated,
		"rewards_updated": res.RewardsUpdated,
	}).Info("Каталог импортирован")
	return res, nil
}

// checkAll проверяет все таблицы тенанта.
func (s *Service) checkAll(ctx context.Context, tx Tx, tenantID int64) error {
	tiers, err := tx.Tiers(ctx, tenantID)
	if err != nil {
		return err
	}
	for _, t := range tiers {
		weights, err := tx.TierRarityWeights(ctx, tenantID, t.CreditTier, false)
		if err != nil {
			return err
		}
		if _, err := s.checkTier(ctx, tx, t, weights); err != nil {
			return err
		}
	}

	rarities, err := tx.Rarities(ctx)
	if err != nil {
		return err
	}
	for _, r := range rarities {
		rewards, err := tx.Rewards(ctx, tenantID, r.ID, true)
		if err != nil {
			return err
		}
		reachable, err := tx.IsRarityReachable(ctx, tenantID, r.ID)
		if err != nil {
			return err
		}
		if v := Validate(rewards, reachable); !v.OK {
			return v.failure().With("rarity_code", string(r.Code))
		}
	}
	return nil
}

// TierDrops возвращает витринные шансы редкостей для тира.
// Реальные вероятности участникам не показываются.
func (s *Service) TierDrops(ctx context.Context, tenantID int64, tier int) (*TierDrops, error) {
	var out *TierDrops
	err := s.tx.View(ctx, func(tx Tx) error {
		t, err := tx.Tier(ctx, tenantID, tier)
		if err != nil {
			return err
		}
		if !t.IsActive {
			return common.ErrInvalidTier.With("credit_tier", tier)
		}
		weights, err := tx.TierRarityWeights(ctx, tenantID, tier, true)
		if err != nil {
			return err
		}
		out = &TierDrops{CreditTier: t.CreditTier, Price: t.Price}
		for _, w := range weights {
			rarity, err := tx.Rarity(ctx, w.RarityID)
			if err != nil {
				return err
			}
			out.Rarities = append(out.Rarities, RarityDrop{Rarity: rarity, DisplayProbability: w.DisplayProbability})
		}
		return nil
	})
	return out, err
}

// RarityDrops возвращает активные награды редкости по убыванию витринной вероятности.
func (s *Service) RarityDrops(ctx context.Context, tenantID, rarityID int64) (*RarityDrops, error) {
	var out *RarityDrops
	err := s.tx.View(ctx, func(tx Tx) error {
		rarity, err := tx.Rarity(ctx, rarityID)
		if err != nil {
			return err
		}
		rewards, err := tx.Rewards(ctx, tenantID, rarityID, true)
		if err != nil {
			return err
		}
		out = &RarityDrops{Rarity: rarity}
		for _, rw := range rewards {
			out.Rewards = append(out.Rewards, RewardDrop{
				ID: rw.ID, Label: rw.Label, Type: rw.Type, Amount: rw.Amount,
				DisplayProbability: rw.DisplayProbability,
			})
		}
		slices.SortStableFunc(out.Rewards, func(a, b RewardDrop) int {
			return b.DisplayProbability - a.DisplayProbability
		})
		return nil
	})
	return out, err
}

// ActiveTiers возвращает тиры, доступные для покупки.
func (s *Service) ActiveTiers(ctx context.Context, tenantID int64) ([]*Tier, error) {
	var out []*Tier
	err := s.tx.View(ctx, func(tx Tx) error {
		tiers, err := tx.Tiers(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, t := range tiers {
			if t.IsActive {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

// Rarity возвращает редкость по ID.
func (s *Service) Rarity(ctx context.Context, id int64) (*Rarity, error) {
	var out *Rarity
	err := s.tx.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Rarity(ctx, id)
		return err
	})
	return out, err
}

// RarityByCode возвращает редкость по коду.
func (s *Service) RarityByCode(ctx context.Context, code RarityCode) (*Rarity, error) {
	var out *Rarity
	err := s.tx.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.RarityByCode(ctx, code)
		return err
	})
	return out, err
}

// Overview возвращает весь каталог тенанта с текущими суммами.
func (s *Service) Overview(ctx context.Context, tenantID int64) (*Overview, error) {
	out := &Overview{}
	err := s.tx.View(ctx, func(tx Tx) error {
		*out = Overview{}
		tiers, err := tx.Tiers(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, t := range tiers {
			weights, err := tx.TierRarityWeights(ctx, tenantID, t.CreditTier, false)
			if err != nil {
				return err
			}
			out.Tiers = append(out.Tiers, TierOverview{Tier: t, Weights: weights, Validation: ValidateTier(weights, t.IsActive)})
		}

		rarities, err := tx.Rarities(ctx)
		if err != nil {
			return err
		}
		for _, r := range rarities {
			rewards, err := tx.Rewards(ctx, tenantID, r.ID, false)
			if err != nil {
				return err
			}
			reachable, err := tx.IsRarityReachable(ctx, tenantID, r.ID)
			if err != nil {
				return err
			}
			out.Rarities = append(out.Rarities, RarityOverview{Rarity: r, Rewards: rewards, Validation: Validate(rewards, reachable)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkPatch(real, display *int) error {
	if real != nil {
		if err := CheckProbability("real_probability", *real); err != nil {
			return err
		}
	}
	if display != nil {
		if err := CheckProbability("display_probability", *display); err != nil {
			return err
		}
	}
	return nil
}

func applyRewardPatch(rw *Reward, p RewardPatch) {
	if p.IsActive != nil {
		rw.IsActive = *p.IsActive
	}
	if p.RealProbability != nil {
		rw.RealProbability = *p.RealProbability
	}
	if p.DisplayProbability != nil {
		rw.DisplayProbability = *p.DisplayProbability
	}
}

func applyWeightPatch(w *RarityWeight, p RarityWeightPatch) {
	if p.IsActive != nil {
		w.IsActive = *p.IsActive
	}
	if p.RealProbability != nil {
		w.RealProbability = *p.RealProbability
	}
	if p.DisplayProbability != nil {
		w.DisplayProbability = *p.DisplayProbability
	}
}

func findWeight(weights []*RarityWeight, rarityID int64) *RarityWeight {
	for _, w := range weights {
		if w.RarityID == rarityID {
			return w
		}
	}
	return nil
}

func findReward(rewards []*Reward, rarityID int64, label string) *Reward {
	for _, rw := range rewards {
		if rw.RarityID == rarityID && rw.Label == label {
			return rw
		}
	}
	return nil
}
