// Package seed загружает каталог тенанта (тиры, веса редкостей, награды)
// из YAML-файла и применяет его через catalog.Service.Import.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"serotonyl.ru/mystery-box/internal/features/catalog"
	"serotonyl.ru/mystery-box/internal/features/members"
)

// File: содержимое файла сидов.
type File struct {
	Tenant  Tenant   `yaml:"tenant"`
	Tiers   []Tier   `yaml:"tiers"`
	Rewards []Reward `yaml:"rewards"`
}

// Tenant: тенант, в который грузится каталог.
type Tenant struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// Tier: тир и его таблица редкостей (код редкости → веса).
type Tier struct {
	Tier     int               `yaml:"tier"`
	Price    int64             `yaml:"price"`
	Active   *bool             `yaml:"active"`
	Rarities map[string]Weight `yaml:"rarities"`
}

// Weight: пара весов. Если display не задан, он равен real.
type Weight struct {
	Real    int   `yaml:"real"`
	Display *int  `yaml:"display"`
	Active  *bool `yaml:"active"`
}

// Reward: награда редкости.
type Reward struct {
	Rarity  string `yaml:"rarity"`
	Label   string `yaml:"label"`
	Type    string `yaml:"type"`
	Amount  *int64 `yaml:"amount"`
	Real    int    `yaml:"real"`
	Display *int   `yaml:"display"`
	Active  *bool  `yaml:"active"`
}

// Load читает файл сидов с диска.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение сидов %s: %w", path, err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("сиды %s: %w", path, err)
	}
	return f, nil
}

// Parse разбирает YAML. Неизвестные поля считаются ошибкой,
// чтобы опечатка в ключе не превращалась в молча пропущенный вес.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("разбор YAML: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if strings.TrimSpace(f.Tenant.Code) == "" {
		return fmt.Errorf("не задан tenant.code")
	}
	seen := make(map[int]bool, len(f.Tiers))
	for _, t := range f.Tiers {
		if seen[t.Tier] {
			return fmt.Errorf("тир %d описан дважды", t.Tier)
		}
		seen[t.Tier] = true
		for code := range t.Rarities {
			if !catalog.RarityCode(strings.ToUpper(code)).Valid() {
				return fmt.Errorf("тир %d: неизвестная редкость %q", t.Tier, code)
			}
		}
	}
	for i, r := range f.Rewards {
		if !catalog.RarityCode(strings.ToUpper(r.Rarity)).Valid() {
			return fmt.Errorf("награда #%d (%s): неизвестная редкость %q", i+1, r.Label, r.Rarity)
		}
	}
	return nil
}

// Import переводит файл в формат catalog.Import.
func (f *File) Import() catalog.Import {
	var in catalog.Import
	for _, t := range f.Tiers {
		ti := catalog.TierImport{
			CreditTier: t.Tier,
			Price:      t.Price,
			IsActive:   boolOr(t.Active, true),
		}
		for _, code := range catalog.RarityCodes {
			w, ok := lookup(t.Rarities, code)
			if !ok {
				continue
			}
			ti.Weights = append(ti.Weights, catalog.WeightImport{
				Rarity:             code,
				RealProbability:    w.Real,
				DisplayProbability: intOr(w.Display, w.Real),
				IsActive:           boolOr(w.Active, true),
			})
		}
		in.Tiers = append(in.Tiers, ti)
	}
	for _, r := range f.Rewards {
		in.Rewards = append(in.Rewards, catalog.RewardImport{
			Rarity:             catalog.RarityCode(strings.ToUpper(r.Rarity)),
			Label:              r.Label,
			Type:               catalog.RewardType(strings.ToUpper(r.Type)),
			Amount:             r.Amount,
			RealProbability:    r.Real,
			DisplayProbability: intOr(r.Display, r.Real),
			IsActive:           boolOr(r.Active, true),
		})
	}
	return in
}

// Apply создаёт тенант (если его нет) и импортирует каталог.
func Apply(ctx context.Context, tenants *members.Service, cat *catalog.Service, f *File) (catalog.ImportResult, error) {
	name := f.Tenant.Name
	if name == "" {
		name = f.Tenant.Code
	}
	tenant, err := tenants.EnsureTenant(ctx, f.Tenant.Code, name)
	if err != nil {
		return catalog.ImportResult{}, fmt.Errorf("тенант %s: %w", f.Tenant.Code, err)
	}

	res, err := cat.Import(ctx, tenant.ID, f.Import())
	if err != nil {
		return catalog.ImportResult{}, fmt.Errorf("импорт каталога %s: %w", f.Tenant.Code, err)
	}

	log.WithFields(log.Fields{
		"tenant": tenant.Code,
		"tiers":  res.Tiers,
	}).Info("Сиды применены")
	return res, nil
}

// lookup ищет веса по коду редкости без учёта регистра.
func lookup(m map[string]Weight, code catalog.RarityCode) (Weight, bool) {
	for k, w := range m {
		if strings.EqualFold(k, string(code)) {
			return w, true
		}
	}
	return Weight{}, false
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
