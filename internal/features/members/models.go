// Package members управляет тенантами и их участниками: регистрацией,
// ролями и кэшем баланса.
// models.go описывает структуры данных для таблиц tenants и members.
package members

import "time"

// Role: роль участника внутри тенанта.
type Role string

// Роли участников
const (
	RoleMember Role = "MEMBER" // Обычный участник: покупает и открывает боксы
	RoleCS     Role = "CS"     // Поддержка: только чтение каталога, журнала и истории
	RoleAdmin  Role = "ADMIN"  // Администратор: чтение и запись
)

// Valid проверяет, что роль из закрытого набора.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleCS, RoleAdmin:
		return true
	}
	return false
}

// CanRead: может ли роль смотреть админские данные.
func (r Role) CanRead() bool { return r == RoleAdmin || r == RoleCS }

// CanWrite: может ли роль менять каталог и балансы.
func (r Role) CanWrite() bool { return r == RoleAdmin }

// Tenant: площадка, продающая боксы своим участникам.
type Tenant struct {
	ID        int64     `db:"id"`
	Code      string    `db:"code"` // Уникальный код (BOT_TENANT_CODE)
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Member представляет участника тенанта.
// Кэш баланса CreditBalance пишется только вместе с записью в журнал кредитов.
type Member struct {
	ID            int64     `db:"id"`             // Автоинкрементный ID записи в БД
	TenantID      int64     `db:"tenant_id"`      // Тенант участника
	UserID        int64     `db:"user_id"`        // Внешний ID (Telegram user ID)
	Username      string    `db:"username"`       // @username (может быть пустым)
	FirstName     string    `db:"first_name"`     // Имя пользователя
	Role          Role      `db:"role"`           // Роль внутри тенанта
	CreditBalance int64     `db:"credit_balance"` // Кэш баланса (равен balance_after последней записи журнала)
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Profile: данные, которые приходят от транспорта при регистрации.
type Profile struct {
	UserID    int64
	Username  string
	FirstName string
}

// DisplayName возвращает отображаемое имя пользователя.
// Если есть @username: возвращает его, иначе имя.
func (m *Member) DisplayName() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	if m.FirstName != "" {
		return m.FirstName
	}
	return "участник"
}
