// Package admin реализует админ-панель: вход по паролю в боте,
// сессии администраторов и шлюз к настройкам каталога и балансам с проверкой ролей.
// models.go описывает структуры сессий и попыток входа.
package admin

import "time"

// Session: активная сессия администратора в боте.
type Session struct {
	ID              int64     `db:"id"`
	MemberID        int64     `db:"member_id"`
	SessionToken    string    `db:"session_token"`
	AuthenticatedAt time.Time `db:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastActivity    time.Time `db:"last_activity"`
	IsActive        bool      `db:"is_active"`
}

// LoginAttempt: попытка входа (для защиты от перебора).
type LoginAttempt struct {
	ID          int64     `db:"id"`
	MemberID    int64     `db:"member_id"`
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
}

// Ограничение попыток входа: 3 неудачные попытки = блокировка на 1 час.
const (
	MaxFailedAttempts = 3
	AttemptWindow     = time.Hour
)
