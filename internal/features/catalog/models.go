// Package catalog хранит настройки боксов тенанта: тиры с ценами,
// таблицы вероятностей редкостей по тирам и награды по редкостям.
// У каждой строки две вероятности: реальная (по ней идёт розыгрыш)
// и витринная (её видят участники). Они могут расходиться.
package catalog

import (
	"fmt"
	"time"

	"serotonyl.ru/mystery-box/internal/common"
)

// RarityCode: код редкости. Набор закрыт и заполняется миграцией.
type RarityCode string

// Редкости от самой редкой к самой частой (sort_order по возрастанию).
const (
	RaritySpecialLegendary RarityCode = "SPECIAL_LEGENDARY"
	RarityLegendary        RarityCode = "LEGENDARY"
	RaritySupreme          RarityCode = "SUPREME"
	RarityEpic             RarityCode = "EPIC"
	RarityRare             RarityCode = "RARE"
	RarityCommon           RarityCode = "COMMON"
)

// RarityCodes: все коды в порядке sort_order.
var RarityCodes = []RarityCode{
	RaritySpecialLegendary, RarityLegendary, RaritySupreme, RarityEpic, RarityRare, RarityCommon,
}

// Valid сообщает, входит ли код в закрытый набор.
func (c RarityCode) Valid() bool {
	for _, k := range RarityCodes {
		if c == k {
			return true
		}
	}
	return false
}

// Rarity: редкость бокса.
type Rarity struct {
	ID        int64      `db:"id" json:"id"`
	Code      RarityCode `db:"code" json:"code"`
	Name      string     `db:"name" json:"name"`
	ColorKey  string     `db:"color_key" json:"color_key"`
	SortOrder int        `db:"sort_order" json:"sort_order"`
}

// RewardType: вид награды.
type RewardType string

// Виды наград
const (
	RewardCash RewardType = "CASH" // Денежная награда с номиналом
	RewardItem RewardType = "ITEM" // Предмет, выдаётся вручную
)

// Valid проверяет, что вид награды известен.
func (t RewardType) Valid() bool { return t == RewardCash || t == RewardItem }

// Reward: награда внутри редкости.
// Amount задан тогда и только тогда, когда Type == CASH.
type Reward struct {
	ID                 int64      `db:"id" json:"id"`
	TenantID           int64      `db:"tenant_id" json:"-"`
	RarityID           int64      `db:"rarity_id" json:"rarity_id"`
	Label              string     `db:"label" json:"label"`
	Type               RewardType `db:"reward_type" json:"reward_type"`
	Amount             *int64     `db:"amount" json:"amount,omitempty"`
	IsActive           bool       `db:"is_active" json:"is_active"`
	RealProbability    int        `db:"real_probability" json:"real_probability"`
	DisplayProbability int        `db:"display_probability" json:"display_probability"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Validate проверяет форму награды: вид, номинал и диапазоны вероятностей.
func (r *Reward) Validate() error {
	if r.Label == "" {
		return common.ErrInvalidArgument.WithMessage("у награды должно быть название")
	}
	switch r.Type {
	case RewardCash:
		if r.Amount == nil || *r.Amount <= 0 {
			return common.ErrInvalidArgument.WithMessage("у денежной награды должен быть положительный номинал")
		}
	case RewardItem:
		if r.Amount != nil {
			return common.ErrInvalidArgument.WithMessage("у предмета не может быть номинала")
		}
	default:
		return common.ErrInvalidArgument.WithMessage(fmt.Sprintf("неизвестный вид награды %q", r.Type))
	}
	if err := CheckProbability("real_probability", r.RealProbability); err != nil {
		return err
	}
	return CheckProbability("display_probability", r.DisplayProbability)
}

// Tier: ценовой уровень бокса. Цена фиксирована для тенанта.
type Tier struct {
	TenantID   int64 `db:"tenant_id" json:"-"`
	CreditTier int   `db:"credit_tier" json:"credit_tier"`
	Price      int64 `db:"price" json:"price"`
	IsActive   bool  `db:"is_active" json:"is_active"`
}

// RarityWeight: строка таблицы вероятностей редкостей для тира.
type RarityWeight struct {
	TenantID           int64 `db:"tenant_id" json:"-"`
	CreditTier         int   `db:"credit_tier" json:"credit_tier"`
	RarityID           int64 `db:"rarity_id" json:"rarity_id"`
	RaritySort         int   `db:"sort_order" json:"-"`
	RealProbability    int   `db:"real_probability" json:"real_probability"`
	DisplayProbability int   `db:"display_probability" json:"display_probability"`
	IsActive           bool  `db:"is_active" json:"is_active"`
}

// Validation: результат проверки таблицы вероятностей.
type Validation struct {
	RealSum     int  `json:"real_sum"`
	DisplaySum  int  `json:"display_sum"`
	ActiveCount int  `json:"active_count"`
	Reachable   bool `json:"reachable"`
	OK          bool `json:"ok"`
}

// Err превращает неуспешную проверку в ошибку ValidationFailed с суммами.
func (v Validation) Err() error {
	if v.OK {
		return nil
	}
	return v.failure()
}

func (v Validation) failure() *common.Error {
	return common.ErrValidationFailed.
		WithMessage(fmt.Sprintf("вероятности должны давать в сумме ровно 100 (реальные: %d, витринные: %d)", v.RealSum, v.DisplaySum)).
		With("real_sum", v.RealSum).
		With("display_sum", v.DisplaySum).
		With("active_count", v.ActiveCount)
}

// RewardPatch: частичное изменение награды. nil = не менять.
type RewardPatch struct {
	IsActive           *bool `json:"is_active,omitempty"`
	RealProbability    *int  `json:"real_probability,omitempty"`
	DisplayProbability *int  `json:"display_probability,omitempty"`
}

// RewardUpdate: изменение одной награды в пакетном сохранении редкости.
type RewardUpdate struct {
	RewardID int64 `json:"reward_id"`
	RewardPatch
}

// NewReward: данные новой награды. Награда создаётся выключенной.
type NewReward struct {
	RarityID           int64      `json:"rarity_id"`
	Label              string     `json:"label"`
	Type               RewardType `json:"reward_type"`
	Amount             *int64     `json:"amount,omitempty"`
	RealProbability    int        `json:"real_probability"`
	DisplayProbability int        `json:"display_probability"`
}

// RarityWeightPatch: изменение строки таблицы редкостей тира.
type RarityWeightPatch struct {
	RarityID           int64 `json:"rarity_id"`
	IsActive           *bool `json:"is_active,omitempty"`
	RealProbability    *int  `json:"real_probability,omitempty"`
	DisplayProbability *int  `json:"display_probability,omitempty"`
}

// TierPatch: изменение цены или активности тира.
type TierPatch struct {
	Price    *int64 `json:"price,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// RarityDrop: редкость тира с витринной вероятностью.
type RarityDrop struct {
	Rarity             *Rarity `json:"rarity"`
	DisplayProbability int     `json:"display_probability"`
}

// TierDrops: что может выпасть в боксе тира (для участников).
type TierDrops struct {
	CreditTier int          `json:"credit_tier"`
	Price      int64        `json:"price"`
	Rarities   []RarityDrop `json:"rarities"`
}

// RewardDrop: награда с витринной вероятностью.
type RewardDrop struct {
	ID                 int64      `json:"id"`
	Label              string     `json:"label"`
	Type               RewardType `json:"reward_type"`
	Amount             *int64     `json:"amount,omitempty"`
	DisplayProbability int        `json:"display_probability"`
}

// RarityDrops: награды редкости (для участников).
type RarityDrops struct {
	Rarity  *Rarity      `json:"rarity"`
	Rewards []RewardDrop `json:"rewards"`
}

// RarityOverview: редкость с наградами и текущими суммами (для админки).
type RarityOverview struct {
	Rarity     *Rarity    `json:"rarity"`
	Rewards    []*Reward  `json:"rewards"`
	Validation Validation `json:"validation"`
}

// TierOverview: тир с таблицей редкостей и суммами (для админки).
type TierOverview struct {
	Tier       *Tier           `json:"tier"`
	Weights    []*RarityWeight `json:"weights"`
	Validation Validation      `json:"validation"`
}

// Overview: состояние всего каталога тенанта.
type Overview struct {
	Tiers    []TierOverview   `json:"tiers"`
	Rarities []RarityOverview `json:"rarities"`
}

// Import: каталог целиком (из файла сидов).
type Import struct {
	Tiers   []TierImport
	Rewards []RewardImport
}

// TierImport: тир с таблицей редкостей.
type TierImport struct {
	CreditTier int
	Price      int64
	IsActive   bool
	Weights    []WeightImport
}

// WeightImport: строка таблицы редкостей тира.
type WeightImport struct {
	Rarity             RarityCode
	RealProbability    int
	DisplayProbability int
	IsActive           bool
}

// RewardImport: награда редкости. Совпадение ищется по названию.
type RewardImport struct {
	Rarity             RarityCode
	Label              string
	Type               RewardType
	Amount             *int64
	RealProbability    int
	DisplayProbability int
	IsActive           bool
}

// ImportResult: сколько строк создано и обновлено.
type ImportResult struct {
	Tiers          int `json:"tiers"`
	Weights        int `json:"weights"`
	RewardsCreated int `json:"rewards_created"`
	RewardsUpdated int `json:"rewards_updated"`
}
