// Package admin: repository.go работает с таблицами admin_sessions и admin_login_attempts.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/mystery-box/internal/db/postgres"
)

// Repository работает с админ-таблицами.
type Repository struct {
	db postgres.Querier
}

// NewRepository создаёт репозиторий.
func NewRepository(db postgres.Querier) *Repository {
	return &Repository{db: db}
}

// CreateSession создаёт новую сессию администратора.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO admin_sessions (member_id, session_token, authenticated_at, expires_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $3, TRUE)
		RETURNING id
	`, s.MemberID, s.SessionToken, s.AuthenticatedAt, s.ExpiresAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	return nil
}

// ActiveSession возвращает действующую сессию участника или nil, если её нет.
func (r *Repository) ActiveSession(ctx context.Context, memberID int64, now time.Time) (*Session, error) {
	var s Session
	err := r.db.QueryRow(ctx, `
		SELECT id, member_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM admin_sessions
		WHERE member_id = $1 AND is_active = TRUE AND expires_at > $2
		ORDER BY authenticated_at DESC
		LIMIT 1
	`, memberID, now).Scan(
		&s.ID, &s.MemberID, &s.SessionToken, &s.AuthenticatedAt,
		&s.ExpiresAt, &s.LastActivity, &s.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения сессии: %w", err)
	}
	return &s, nil
}

// DeactivateSessions закрывает все сессии участника.
func (r *Repository) DeactivateSessions(ctx context.Context, memberID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE admin_sessions SET is_active = FALSE WHERE member_id = $1`, memberID)
	if err != nil {
		return fmt.Errorf("ошибка закрытия сессий: %w", err)
	}
	return nil
}

// TouchSession обновляет время последней активности.
func (r *Repository) TouchSession(ctx context.Context, memberID int64, now time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE admin_sessions SET last_activity = $2 WHERE member_id = $1 AND is_active = TRUE`,
		memberID, now)
	return err
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, memberID int64, success bool, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO admin_login_attempts (member_id, success, attempt_time) VALUES ($1, $2, $3)`,
		memberID, success, at)
	return err
}

// FailedAttempts возвращает количество неудачных попыток начиная с since.
func (r *Repository) FailedAttempts(ctx context.Context, memberID int64, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE member_id = $1 AND success = FALSE AND attempt_time >= $2
	`, memberID, since).Scan(&count)
	return count, err
}
