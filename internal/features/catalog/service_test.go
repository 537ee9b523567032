package catalog_test

import (
	"context"
	"errors"
	"testing"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/testkit"
)

type fixture struct {
	store    *testkit.Store
	svc      *catalog.Service
	tenantID int64
	rareCash *catalog.Reward
	rareItem *catalog.Reward
	common   *catalog.Reward
}

// newFixture: тир 1 (RARE 40 / COMMON 60), у RARE две награды по 50, у COMMON одна на 100.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testkit.NewStore()
	tenant := st.AddTenant("acme")
	st.SetTier(tenant.ID, 1, 100, true,
		testkit.Weight{Rarity: catalog.RarityRare, Real: 40, Display: 30},
		testkit.Weight{Rarity: catalog.RarityCommon, Real: 60, Display: 70},
	)
	return &fixture{
		store:    st,
		svc:      catalog.NewService(st.Catalog()),
		tenantID: tenant.ID,
		rareCash: st.AddCash(tenant.ID, catalog.RarityRare, "500 кредитов", 500, 50, 40),
		rareItem: st.AddItem(tenant.ID, catalog.RarityRare, "Кружка", 50, 60),
		common:   st.AddCash(tenant.ID, catalog.RarityCommon, "50 кредитов", 50, 100, 100),
	}
}

func ptr[T any](v T) *T { return &v }

func TestSetRewardStateRejectsBrokenSum(t *testing.T) {
	f := newFixture(t)
	before := f.store.Rewards(f.tenantID)

	v, err := f.svc.SetRewardState(context.Background(), f.tenantID, f.rareCash.ID,
		catalog.RewardPatch{RealProbability: ptr(60)})
	if !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
	if v.RealSum != 110 || v.DisplaySum != 100 {
		t.Errorf("validation = %+v, want real 110 display 100", v)
	}
	if d := common.DetailsOf(err); d["real_sum"] != 110 {
		t.Errorf("details = %v", d)
	}

	after := f.store.Rewards(f.tenantID)
	for id, rw := range before {
		if after[id].RealProbability != rw.RealProbability || after[id].IsActive != rw.IsActive {
			t.Errorf("награда %d изменилась после отказа: %+v -> %+v", id, rw, after[id])
		}
	}
}

func TestSetRarityRewardsAcceptsBalancedBatch(t *testing.T) {
	f := newFixture(t)

	v, err := f.svc.SetRarityRewards(context.Background(), f.tenantID, f.rareCash.RarityID, []catalog.RewardUpdate{
		{RewardID: f.rareCash.ID, RewardPatch: catalog.RewardPatch{RealProbability: ptr(70)}},
		{RewardID: f.rareItem.ID, RewardPatch: catalog.RewardPatch{RealProbability: ptr(30)}},
	})
	if err != nil {
		t.Fatalf("SetRarityRewards: %v", err)
	}
	if !v.OK || v.RealSum != 100 {
		t.Errorf("validation = %+v", v)
	}
	if got := f.store.Reward(f.rareCash.ID).RealProbability; got != 70 {
		t.Errorf("real_probability = %d, want 70", got)
	}
	if got := f.store.Reward(f.rareItem.ID).RealProbability; got != 30 {
		t.Errorf("real_probability = %d, want 30", got)
	}
}

func TestSetRarityRewardsRejectsForeignReward(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetRarityRewards(context.Background(), f.tenantID, f.rareCash.RarityID, []catalog.RewardUpdate{
		{RewardID: f.common.ID, RewardPatch: catalog.RewardPatch{IsActive: ptr(false)}},
	})
	if !errors.Is(err, common.ErrRewardNotFound) {
		t.Fatalf("err = %v, want RewardNotFound", err)
	}
}

func TestDisablingLastRewardOfReachableRarity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetRewardState(context.Background(), f.tenantID, f.common.ID,
		catalog.RewardPatch{IsActive: ptr(false)})
	if !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
	if !f.store.Reward(f.common.ID).IsActive {
		t.Error("награда выключилась несмотря на отказ")
	}
}

func TestOutOfRangeProbabilityRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetRewardState(context.Background(), f.tenantID, f.rareCash.ID,
		catalog.RewardPatch{DisplayProbability: ptr(101)})
	if !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
}

func TestCreateRewardIsInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	epicID := f.store.RarityID(catalog.RarityEpic)

	rw, err := f.svc.CreateReward(ctx, f.tenantID, catalog.NewReward{
		RarityID: epicID, Label: "<b>Худи</b>", Type: catalog.RewardItem,
		RealProbability: 50, DisplayProbability: 50,
	})
	if err != nil {
		t.Fatalf("CreateReward: %v", err)
	}
	if rw.IsActive {
		t.Error("новая награда активна")
	}
	if rw.Label != "Худи" {
		t.Errorf("label = %q, want sanitized", rw.Label)
	}

	// EPIC ни в одном тире не выпадает: пустая таблица допустима,
	// но включённая награда должна сама давать 100.
	if v, err := f.svc.Validate(ctx, f.tenantID, epicID); err != nil || !v.OK {
		t.Fatalf("Validate = %+v, %v", v, err)
	}
	if _, err := f.svc.SetRewardState(ctx, f.tenantID, rw.ID, catalog.RewardPatch{IsActive: ptr(true)}); !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("включение на 50: err = %v, want ValidationFailed", err)
	}
	v, err := f.svc.SetRewardState(ctx, f.tenantID, rw.ID, catalog.RewardPatch{
		IsActive: ptr(true), RealProbability: ptr(100), DisplayProbability: ptr(100),
	})
	if err != nil || !v.OK {
		t.Fatalf("включение на 100: %+v, %v", v, err)
	}
}

func TestCreateRewardShape(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateReward(context.Background(), f.tenantID, catalog.NewReward{
		RarityID: f.rareCash.RarityID, Label: "Деньги", Type: catalog.RewardCash,
	})
	if !errors.Is(err, common.ErrInvalidArgument) {
		t.Fatalf("err = %v, want InvalidArgument", err)
	}
}

func TestSetTierRarityState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rare := f.store.RarityID(catalog.RarityRare)
	commonID := f.store.RarityID(catalog.RarityCommon)
	epic := f.store.RarityID(catalog.RarityEpic)

	t.Run("перенос веса", func(t *testing.T) {
		v, err := f.svc.SetTierRarityState(ctx, f.tenantID, 1, []catalog.RarityWeightPatch{
			{RarityID: rare, RealProbability: ptr(50)},
			{RarityID: commonID, RealProbability: ptr(50)},
		})
		if err != nil || !v.OK {
			t.Fatalf("SetTierRarityState = %+v, %v", v, err)
		}
		if w := f.store.Weights(f.tenantID, 1); w[rare].RealProbability != 50 || w[commonID].RealProbability != 50 {
			t.Errorf("weights = %+v", w)
		}
	})

	t.Run("сумма не 100", func(t *testing.T) {
		_, err := f.svc.SetTierRarityState(ctx, f.tenantID, 1, []catalog.RarityWeightPatch{
			{RarityID: rare, RealProbability: ptr(45)},
		})
		if !errors.Is(err, common.ErrValidationFailed) {
			t.Fatalf("err = %v, want ValidationFailed", err)
		}
		if w := f.store.Weights(f.tenantID, 1); w[rare].RealProbability != 50 {
			t.Errorf("вес изменился после отказа: %+v", w[rare])
		}
	})

	t.Run("редкость без наград", func(t *testing.T) {
		_, err := f.svc.SetTierRarityState(ctx, f.tenantID, 1, []catalog.RarityWeightPatch{
			{RarityID: epic, IsActive: ptr(true), RealProbability: ptr(10), DisplayProbability: ptr(10)},
			{RarityID: commonID, RealProbability: ptr(40), DisplayProbability: ptr(60)},
		})
		if !errors.Is(err, common.ErrValidationFailed) {
			t.Fatalf("err = %v, want ValidationFailed", err)
		}
		if _, ok := f.store.Weights(f.tenantID, 1)[epic]; ok {
			t.Error("строка EPIC появилась после отказа")
		}
	})

	t.Run("нет тира", func(t *testing.T) {
		_, err := f.svc.SetTierRarityState(ctx, f.tenantID, 9, []catalog.RarityWeightPatch{
			{RarityID: rare, RealProbability: ptr(100)},
		})
		if !errors.Is(err, common.ErrInvalidTier) {
			t.Fatalf("err = %v, want InvalidTier", err)
		}
	})
}

func TestSetTierState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tier, err := f.svc.SetTierState(ctx, f.tenantID, 1, catalog.TierPatch{Price: ptr(int64(250)), IsActive: ptr(false)})
	if err != nil {
		t.Fatalf("SetTierState: %v", err)
	}
	if tier.Price != 250 || tier.IsActive {
		t.Errorf("tier = %+v", tier)
	}

	// Тир выключен: COMMON больше недостижима, её можно опустошить.
	if _, err := f.svc.SetRewardState(ctx, f.tenantID, f.common.ID, catalog.RewardPatch{IsActive: ptr(false)}); err != nil {
		t.Fatalf("выключение последней награды недостижимой редкости: %v", err)
	}

	// Обратно включить тир нельзя: у COMMON нет наград.
	_, err = f.svc.SetTierState(ctx, f.tenantID, 1, catalog.TierPatch{IsActive: ptr(true)})
	if !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
	if f.store.Tier(f.tenantID, 1).IsActive {
		t.Error("тир включился несмотря на отказ")
	}

	if _, err := f.svc.SetTierState(ctx, f.tenantID, 1, catalog.TierPatch{Price: ptr(int64(0))}); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("нулевая цена: err = %v, want InvalidArgument", err)
	}
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("успех", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.Import(ctx, f.tenantID, catalog.Import{
			Tiers: []catalog.TierImport{{
				CreditTier: 2, Price: 300, IsActive: true,
				Weights: []catalog.WeightImport{
					{Rarity: catalog.RarityLegendary, RealProbability: 5, DisplayProbability: 10, IsActive: true},
					{Rarity: catalog.RarityCommon, RealProbability: 95, DisplayProbability: 90, IsActive: true},
				},
			}},
			Rewards: []catalog.RewardImport{
				{Rarity: catalog.RarityLegendary, Label: "Ноутбук", Type: catalog.RewardItem, RealProbability: 100, DisplayProbability: 100, IsActive: true},
				{Rarity: catalog.RarityCommon, Label: "50 кредитов", Type: catalog.RewardCash, Amount: ptr(int64(75)), RealProbability: 100, DisplayProbability: 100, IsActive: true},
			},
		})
		if err != nil {
			t.Fatalf("Import: %v", err)
		}
		if res.Tiers != 1 || res.Weights != 2 || res.RewardsCreated != 1 || res.RewardsUpdated != 1 {
			t.Errorf("result = %+v", res)
		}
		if got := *f.store.Reward(f.common.ID).Amount; got != 75 {
			t.Errorf("amount = %d, want 75 (обновление по названию)", got)
		}
	})

	t.Run("откат целиком", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Import(ctx, f.tenantID, catalog.Import{
			Tiers: []catalog.TierImport{
				{CreditTier: 1, Price: 999, IsActive: true, Weights: []catalog.WeightImport{
					{Rarity: catalog.RarityCommon, RealProbability: 60, DisplayProbability: 70, IsActive: true},
					{Rarity: catalog.RarityRare, RealProbability: 40, DisplayProbability: 30, IsActive: true},
				}},
				{CreditTier: 2, Price: 300, IsActive: true, Weights: []catalog.WeightImport{
					{Rarity: catalog.RarityCommon, RealProbability: 90, DisplayProbability: 100, IsActive: true},
				}},
			},
		})
		if !errors.Is(err, common.ErrValidationFailed) {
			t.Fatalf("err = %v, want ValidationFailed", err)
		}
		if f.store.Tier(f.tenantID, 2) != nil {
			t.Error("тир 2 создан несмотря на откат")
		}
		if f.store.Tier(f.tenantID, 1).Price != 100 {
			t.Error("цена тира 1 изменилась несмотря на откат")
		}
	})
}

func TestDrops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	drops, err := f.svc.TierDrops(ctx, f.tenantID, 1)
	if err != nil {
		t.Fatalf("TierDrops: %v", err)
	}
	if len(drops.Rarities) != 2 || drops.Rarities[0].Rarity.Code != catalog.RarityRare || drops.Rarities[0].DisplayProbability != 30 {
		t.Errorf("drops = %+v", drops.Rarities)
	}

	rd, err := f.svc.RarityDrops(ctx, f.tenantID, f.rareCash.RarityID)
	if err != nil {
		t.Fatalf("RarityDrops: %v", err)
	}
	if len(rd.Rewards) != 2 || rd.Rewards[0].ID != f.rareItem.ID {
		t.Errorf("награды не отсортированы по витринной вероятности: %+v", rd.Rewards)
	}

	if _, err := f.svc.SetTierState(ctx, f.tenantID, 1, catalog.TierPatch{IsActive: ptr(false)}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.TierDrops(ctx, f.tenantID, 1); !errors.Is(err, common.ErrInvalidTier) {
		t.Errorf("выключенный тир: err = %v, want InvalidTier", err)
	}
}

func TestOverview(t *testing.T) {
	f := newFixture(t)

	ov, err := f.svc.Overview(context.Background(), f.tenantID)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Tiers) != 1 || !ov.Tiers[0].Validation.OK {
		t.Errorf("tiers = %+v", ov.Tiers)
	}
	if len(ov.Rarities) != 6 {
		t.Fatalf("rarities = %d, want 6", len(ov.Rarities))
	}
	for _, r := range ov.Rarities {
		if !r.Validation.OK {
			t.Errorf("редкость %s не проходит проверку: %+v", r.Rarity.Code, r.Validation)
		}
	}
}

func TestConflictIsRetried(t *testing.T) {
	f := newFixture(t)
	f.store.InjectConflicts(2)

	_, err := f.svc.SetRarityRewards(context.Background(), f.tenantID, f.rareCash.RarityID, []catalog.RewardUpdate{
		{RewardID: f.rareCash.ID, RewardPatch: catalog.RewardPatch{RealProbability: ptr(20)}},
		{RewardID: f.rareItem.ID, RewardPatch: catalog.RewardPatch{RealProbability: ptr(80)}},
	})
	if err != nil {
		t.Fatalf("SetRarityRewards: %v", err)
	}
	if got := f.store.Reward(f.rareCash.ID).RealProbability; got != 20 {
		t.Errorf("real_probability = %d, want 20", got)
	}
}

func TestCatalogWritesTakeTenantLock(t *testing.T) {
	tests := []struct {
		name  string
		write func(f *fixture) error
	}{
		{"SetRewardState", func(f *fixture) error {
			_, err := f.svc.SetRewardState(context.Background(), f.tenantID, f.common.ID,
				catalog.RewardPatch{DisplayProbability: ptr(100)})
			return err
		}},
		{"SetRarityRewards", func(f *fixture) error {
			_, err := f.svc.SetRarityRewards(context.Background(), f.tenantID, f.rareCash.RarityID, []catalog.RewardUpdate{
				{RewardID: f.rareCash.ID, RewardPatch: catalog.RewardPatch{RealProbability: ptr(20)}},
				{RewardID: f.rareItem.ID, RewardPatch: catalog.RewardPatch{RealProbability: ptr(80)}},
			})
			return err
		}},
		{"CreateReward", func(f *fixture) error {
			_, err := f.svc.CreateReward(context.Background(), f.tenantID, catalog.NewReward{
				RarityID: f.common.RarityID, Label: "Значок", Type: catalog.RewardItem,
			})
			return err
		}},
		{"SetTierRarityState", func(f *fixture) error {
			_, err := f.svc.SetTierRarityState(context.Background(), f.tenantID, 1, []catalog.RarityWeightPatch{
				{RarityID: f.rareCash.RarityID, DisplayProbability: ptr(50)},
				{RarityID: f.common.RarityID, DisplayProbability: ptr(50)},
			})
			return err
		}},
		{"SetTierState", func(f *fixture) error {
			_, err := f.svc.SetTierState(context.Background(), f.tenantID, 1, catalog.TierPatch{Price: ptr(int64(150))})
			return err
		}},
		{"Import", func(f *fixture) error {
			_, err := f.svc.Import(context.Background(), f.tenantID, catalog.Import{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if err := tt.write(f); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if got := f.store.CatalogLocks(f.tenantID); got != 1 {
				t.Errorf("блокировок каталога = %d, want 1", got)
			}
		})
	}
}

func TestTierCannotReachRarityWithoutRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	epic, err := f.svc.RarityByCode(ctx, catalog.RarityEpic)
	if err != nil {
		t.Fatalf("RarityByCode: %v", err)
	}

	// У EPIC нет наград: тир не может начать её разыгрывать.
	_, err = f.svc.SetTierRarityState(ctx, f.tenantID, 1, []catalog.RarityWeightPatch{
		{RarityID: epic.ID, IsActive: ptr(true), RealProbability: ptr(10), DisplayProbability: ptr(10)},
		{RarityID: f.common.RarityID, RealProbability: ptr(50), DisplayProbability: ptr(60)},
	})
	if !errors.Is(err, common.ErrValidationFailed) {
		t.Fatalf("err = %v, want ValidationFailed", err)
	}
	if d := common.DetailsOf(err); d["rarity_id"] != epic.ID {
		t.Errorf("details = %v, want rarity_id %d", d, epic.ID)
	}
}

func TestCreateRewardStoresPlainLabel(t *testing.T) {
	f := newFixture(t)
	rw, err := f.svc.CreateReward(context.Background(), f.tenantID, catalog.NewReward{
		RarityID: f.common.RarityID, Label: `<b>Tom & Jerry</b> "DVD"`, Type: catalog.RewardItem,
	})
	if err != nil {
		t.Fatalf("CreateReward: %v", err)
	}
	want := `Tom & Jerry "DVD"`
	if rw.Label != want || f.store.Reward(rw.ID).Label != want {
		t.Errorf("label = %q (в хранилище %q), want %q", rw.Label, f.store.Reward(rw.ID).Label, want)
	}
}
