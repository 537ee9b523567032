package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/members"
	"serotonyl.ru/mystery-box/internal/seed"
	"serotonyl.ru/mystery-box/internal/testkit"
)

const sample = `
tenant:
  code: acme
  name: ACME
tiers:
  - tier: 3
    price: 3
    rarities:
      common: {real: 70, display: 60}
      RARE: {real: 30, display: 40}
  - tier: 5
    price: 5
    active: false
    rarities:
      COMMON: {real: 100}
rewards:
  - {rarity: COMMON, label: "1000 кредитов", type: cash, amount: 1000, real: 50}
  - {rarity: COMMON, label: Стикер, type: ITEM, real: 50}
  - {rarity: RARE, label: Худи, type: ITEM, real: 100, display: 100}
`

func TestParseAndImport(t *testing.T) {
	f, err := seed.Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in := f.Import()

	if len(in.Tiers) != 2 {
		t.Fatalf("тиров = %d, want 2", len(in.Tiers))
	}
	t3 := in.Tiers[0]
	if !t3.IsActive || t3.Price != 3 {
		t.Errorf("тир 3 = %+v", t3)
	}
	// Порядок весов следует порядку редкостей: RARE раньше COMMON.
	if len(t3.Weights) != 2 || t3.Weights[0].Rarity != catalog.RarityRare || t3.Weights[1].Rarity != catalog.RarityCommon {
		t.Fatalf("веса тира 3 = %+v", t3.Weights)
	}
	if w := t3.Weights[1]; w.RealProbability != 70 || w.DisplayProbability != 60 || !w.IsActive {
		t.Errorf("COMMON = %+v", w)
	}
	if in.Tiers[1].IsActive {
		t.Error("тир 5 должен быть выключен")
	}
	if w := in.Tiers[1].Weights[0]; w.DisplayProbability != 100 {
		t.Errorf("display по умолчанию = %d, want 100", w.DisplayProbability)
	}

	cash := in.Rewards[0]
	if cash.Type != catalog.RewardCash || cash.Amount == nil || *cash.Amount != 1000 || cash.DisplayProbability != 50 {
		t.Errorf("денежная награда = %+v", cash)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"без тенанта", "tiers: []", "tenant.code"},
		{"неизвестная редкость", "tenant: {code: a}\ntiers:\n  - {tier: 1, price: 1, rarities: {MYTHIC: {real: 100}}}", "MYTHIC"},
		{"двойной тир", "tenant: {code: a}\ntiers:\n  - {tier: 1, price: 1}\n  - {tier: 1, price: 2}", "дважды"},
		{"опечатка в ключе", "tenant: {code: a}\ntiers:\n  - {tier: 1, prise: 1}", "prise"},
		{"награда без редкости", "tenant: {code: a}\nrewards:\n  - {label: x, type: ITEM, real: 100}", "редкость"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := seed.Parse(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want содержит %q", err, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	st := testkit.NewStore()
	mem := members.NewService(st.Members())
	cat := catalog.NewService(st.Catalog())

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := seed.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	res, err := seed.Apply(ctx, mem, cat, f)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Tiers != 2 || res.RewardsCreated != 3 {
		t.Errorf("результат = %+v", res)
	}

	tenant, err := mem.TenantByCode(ctx, "acme")
	if err != nil {
		t.Fatalf("тенант не создан: %v", err)
	}
	if tier := st.Tier(tenant.ID, 3); tier == nil || tier.Price != 3 {
		t.Errorf("тир 3 = %+v", tier)
	}

	// Повторный прогон обновляет, а не дублирует.
	res, err = seed.Apply(ctx, mem, cat, f)
	if err != nil {
		t.Fatalf("повторный Apply: %v", err)
	}
	if res.RewardsCreated != 0 || res.RewardsUpdated != 3 || len(st.Rewards(tenant.ID)) != 3 {
		t.Errorf("повторный импорт = %+v, наград %d", res, len(st.Rewards(tenant.ID)))
	}
}

func TestApplyRejectsBrokenTable(t *testing.T) {
	st := testkit.NewStore()
	mem := members.NewService(st.Members())
	cat := catalog.NewService(st.Catalog())

	broken := strings.Replace(sample, "real: 30, display: 40", "real: 20, display: 40", 1)
	f, err := seed.Parse(strings.NewReader(broken))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = seed.Apply(context.Background(), mem, cat, f)
	if common.KindOf(err) != common.KindValidationFailed && common.KindOf(err) != common.KindCatalogMisconfigured {
		t.Fatalf("err = %v, want ошибку валидации", err)
	}
}
