// Package ledger: журнал кредитов. Журнал: единственный источник правды
// о балансе: каждая запись хранит delta и balance_after, записи никогда
// не изменяются и не удаляются. Баланс в members: кэш последней записи.
package ledger

import "time"

// Kind: тип операции в журнале.
type Kind string

// Типы операций
const (
	KindTopUp       Kind = "TOPUP"        // Пополнение администратором
	KindAdjustment  Kind = "ADJUSTMENT"   // Ручная корректировка (со знаком)
	KindBoxPurchase Kind = "BOX_PURCHASE" // Покупка бокса (отрицательная)
	KindBoxReward   Kind = "BOX_REWARD"   // Денежная награда из бокса
)

// Valid проверяет, что тип операции известен.
func (k Kind) Valid() bool {
	switch k {
	case KindTopUp, KindAdjustment, KindBoxPurchase, KindBoxReward:
		return true
	}
	return false
}

// Title: подпись для истории операций.
func (k Kind) Title() string {
	switch k {
	case KindTopUp:
		return "Пополнение"
	case KindAdjustment:
		return "Корректировка"
	case KindBoxPurchase:
		return "Покупка бокса"
	case KindBoxReward:
		return "Награда из бокса"
	}
	return string(k)
}

// Entry: запись журнала кредитов.
type Entry struct {
	ID           int64     `db:"id"`
	TenantID     int64     `db:"tenant_id"`
	MemberID     int64     `db:"member_id"`
	Delta        int64     `db:"delta"`         // Изменение баланса (может быть отрицательным)
	BalanceAfter int64     `db:"balance_after"` // Баланс после операции, всегда >= 0
	Kind         Kind      `db:"kind"`
	Description  string    `db:"description"`
	CreatedBy    *int64    `db:"created_by"` // Кто провёл операцию (nil для системных)
	CreatedAt    time.Time `db:"created_at"`
}

// AppendRequest: запрос на добавление записи в журнал.
type AppendRequest struct {
	TenantID    int64
	MemberID    int64
	Delta       int64
	Kind        Kind
	Description string
	ActorID     *int64
	// Clock даёт время записи и вызывается уже под блокировкой участника.
	// nil: time.Now.
	Clock func() time.Time
}

// Filter: фильтр выборки журнала тенанта.
type Filter struct {
	TenantID int64
	MemberID int64 // 0 = все участники
	Kinds    []Kind
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// BalanceRef: кэш баланса участника, проверяемый сверкой.
type BalanceRef struct {
	TenantID int64
	MemberID int64
	Cached   int64
}

// ReconcileResult: итоги сверки кэша с журналом.
type ReconcileResult struct {
	Checked int `json:"checked"`
	Fixed   int `json:"fixed"`
	Failed  int `json:"failed"`
}

const (
	// DefaultHistoryLimit: сколько операций показываем в истории по умолчанию
	DefaultHistoryLimit = 10
	// MaxPageSize: верхняя граница размера страницы выборок
	MaxPageSize = 200
	// MaxDescriptionLen: максимальная длина комментария к операции
	MaxDescriptionLen = 255
)
