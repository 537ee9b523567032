package testkit

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/catalog"
)

type catalogTx struct {
	s      *Store
	locked map[int64]bool
}

// LockCatalog отмечает блокировку каталога тенанта в этой транзакции.
// Запись в каталог без неё завершается ошибкой.
func (t *catalogTx) LockCatalog(_ context.Context, tenantID int64) error {
	if t.locked == nil {
		t.locked = map[int64]bool{}
	}
	t.locked[tenantID] = true
	t.s.catalogLocks[tenantID]++
	return nil
}

func (t *catalogTx) mustHoldLock(tenantID int64) error {
	if !t.locked[tenantID] {
		return fmt.Errorf("testkit: запись каталога тенанта %d без LockCatalog", tenantID)
	}
	return nil
}

func (t *catalogTx) Rarities(_ context.Context) ([]*catalog.Rarity, error) {
	var out []*catalog.Rarity
	for _, r := range t.s.st.rarities {
		c := *r
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *catalog.Rarity) int {
		return cmp.Or(cmp.Compare(a.SortOrder, b.SortOrder), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *catalogTx) Rarity(_ context.Context, id int64) (*catalog.Rarity, error) {
	r, ok := t.s.st.rarities[id]
	if !ok {
		return nil, catalog.ErrRarityNotFound.With("rarity_id", id)
	}
	c := *r
	return &c, nil
}

func (t *catalogTx) RarityByCode(_ context.Context, code catalog.RarityCode) (*catalog.Rarity, error) {
	for _, r := range t.s.st.rarities {
		if r.Code == code {
			c := *r
			return &c, nil
		}
	}
	return nil, catalog.ErrRarityNotFound.With("rarity_code", string(code))
}

func (t *catalogTx) Tier(_ context.Context, tenantID int64, tier int) (*catalog.Tier, error) {
	tr, ok := t.s.st.tiers[tierKey{tenantID, tier}]
	if !ok {
		return nil, common.ErrInvalidTier.With("credit_tier", tier)
	}
	c := *tr
	return &c, nil
}

func (t *catalogTx) LockTier(ctx context.Context, tenantID int64, tier int) (*catalog.Tier, error) {
	return t.Tier(ctx, tenantID, tier)
}

func (t *catalogTx) Tiers(_ context.Context, tenantID int64) ([]*catalog.Tier, error) {
	var out []*catalog.Tier
	for k, tr := range t.s.st.tiers {
		if k.tenantID == tenantID {
			c := *tr
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *catalog.Tier) int { return cmp.Compare(a.CreditTier, b.CreditTier) })
	return out, nil
}

func (t *catalogTx) UpsertTier(_ context.Context, tr *catalog.Tier) error {
	if err := t.mustHoldLock(tr.TenantID); err != nil {
		return err
	}
	c := *tr
	t.s.st.tiers[tierKey{tr.TenantID, tr.CreditTier}] = &c
	return nil
}

func (t *catalogTx) TierRarityWeights(_ context.Context, tenantID int64, tier int, activeOnly bool) ([]*catalog.RarityWeight, error) {
	var out []*catalog.RarityWeight
	for k, w := range t.s.st.weights {
		if k.tenantID != tenantID || k.tier != tier || (activeOnly && !w.IsActive) {
			continue
		}
		c := *w
		c.RaritySort = t.s.st.rarities[k.rarityID].SortOrder
		out = append(out, &c)
	}
	// Порядок из map случаен, как и порядок строк без ORDER BY
	slices.SortFunc(out, func(a, b *catalog.RarityWeight) int {
		return cmp.Or(cmp.Compare(a.RaritySort, b.RaritySort), cmp.Compare(a.RarityID, b.RarityID))
	})
	return out, nil
}

func (t *catalogTx) LockTierRarityWeights(ctx context.Context, tenantID int64, tier int) ([]*catalog.RarityWeight, error) {
	return t.TierRarityWeights(ctx, tenantID, tier, false)
}

func (t *catalogTx) UpsertTierRarityWeight(_ context.Context, w *catalog.RarityWeight) error {
	if err := t.mustHoldLock(w.TenantID); err != nil {
		return err
	}
	if _, ok := t.s.st.rarities[w.RarityID]; !ok {
		return catalog.ErrRarityNotFound.With("rarity_id", w.RarityID)
	}
	c := *w
	t.s.st.weights[weightKey{w.TenantID, w.CreditTier, w.RarityID}] = &c
	return nil
}

func (t *catalogTx) Rewards(_ context.Context, tenantID, rarityID int64, activeOnly bool) ([]*catalog.Reward, error) {
	var out []*catalog.Reward
	for _, rw := range t.s.st.rewards {
		if rw.TenantID != tenantID || (rarityID != 0 && rw.RarityID != rarityID) || (activeOnly && !rw.IsActive) {
			continue
		}
		c := *rw
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *catalog.Reward) int {
		return cmp.Or(cmp.Compare(a.RarityID, b.RarityID), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *catalogTx) LockRarityRewards(ctx context.Context, tenantID, rarityID int64) ([]*catalog.Reward, error) {
	return t.Rewards(ctx, tenantID, rarityID, false)
}

func (t *catalogTx) Reward(_ context.Context, tenantID, id int64) (*catalog.Reward, error) {
	rw, ok := t.s.st.rewards[id]
	if !ok || rw.TenantID != tenantID {
		return nil, common.ErrRewardNotFound.With("reward_id", id)
	}
	c := *rw
	return &c, nil
}

func (t *catalogTx) InsertReward(_ context.Context, rw *catalog.Reward) error {
	if err := t.mustHoldLock(rw.TenantID); err != nil {
		return err
	}
	now := time.Now().UTC()
	rw.ID = t.s.st.id()
	rw.CreatedAt, rw.UpdatedAt = now, now
	c := *rw
	t.s.st.rewards[rw.ID] = &c
	return nil
}

func (t *catalogTx) UpdateReward(_ context.Context, rw *catalog.Reward) error {
	if err := t.mustHoldLock(rw.TenantID); err != nil {
		return err
	}
	cur, ok := t.s.st.rewards[rw.ID]
	if !ok || cur.TenantID != rw.TenantID {
		return nil
	}
	c := *rw
	c.UpdatedAt = time.Now().UTC()
	t.s.st.rewards[rw.ID] = &c
	return nil
}

func (t *catalogTx) IsRarityReachable(_ context.Context, tenantID, rarityID int64) (bool, error) {
	for k, w := range t.s.st.weights {
		if k.tenantID != tenantID || k.rarityID != rarityID || !w.IsActive || w.RealProbability <= 0 {
			continue
		}
		if tr, ok := t.s.st.tiers[tierKey{tenantID, k.tier}]; ok && tr.IsActive {
			return true, nil
		}
	}
	return false, nil
}
