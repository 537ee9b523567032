// Package boxes управляет жизненным циклом бокса: покупка, открытие, истечение.
// models.go описывает бокс и результаты операций.
//
// Бокс создаётся только покупкой (PURCHASED) и меняет статус ровно один раз:
// открытием (OPENED) или истечением срока (EXPIRED).
package boxes

import (
	"time"

	"github.com/google/uuid"

	"serotonyl.ru/mystery-box/internal/features/catalog"
)

// Status: статус бокса.
type Status string

// Статусы бокса
const (
	StatusPurchased Status = "PURCHASED"
	StatusOpened    Status = "OPENED"
	StatusExpired   Status = "EXPIRED"
)

// Valid проверяет, что статус известен.
func (s Status) Valid() bool {
	return s == StatusPurchased || s == StatusOpened || s == StatusExpired
}

// Box: строка box_transactions.
type Box struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	TenantID    int64      `db:"tenant_id" json:"-"`
	MemberID    int64      `db:"member_id" json:"member_id"`
	CreditTier  int        `db:"credit_tier" json:"credit_tier"`
	CreditSpent int64      `db:"credit_spent" json:"credit_spent"`
	Status      Status     `db:"status" json:"status"`
	RarityID    int64      `db:"rarity_id" json:"rarity_id"`
	RewardID    *int64     `db:"reward_id" json:"reward_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	OpenedAt    *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	Processed   bool       `db:"processed" json:"processed"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy *int64     `db:"processed_by" json:"processed_by,omitempty"`
}

// PurchaseResult: ответ на покупку бокса.
type PurchaseResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	CreditTier    int             `json:"credit_tier"`
	CreditSpent   int64           `json:"credit_spent"`
	CreditsBefore int64           `json:"credits_before"`
	CreditsAfter  int64           `json:"credits_after"`
	Rarity        *catalog.Rarity `json:"rarity"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// OpenResult: ответ на открытие бокса.
type OpenResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Rarity        *catalog.Rarity `json:"rarity"`
	Reward        *catalog.Reward `json:"reward"`
	OpenedAt      time.Time       `json:"opened_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreditsAfter  int64           `json:"credits_after"`
}

// SweepResult: итоги прохода по просроченным боксам.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// Filter: фильтр истории боксов тенанта.
type Filter struct {
	TenantID   int64
	MemberID   int64 // 0 = все участники
	Statuses   []Status
	CreditTier int // 0 = все тиры
	Processed  *bool
	Limit      int
	Offset     int
}

const (
	// DefaultPageSize: размер страницы по умолчанию
	DefaultPageSize = 20
	// MaxPageSize: верхняя граница размера страницы
	MaxPageSize = 200
)
