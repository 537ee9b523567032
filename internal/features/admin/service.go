// Package admin: service.go отвечает за вход в админ-панель бота:
// проверку пароля Argon2id, ограничение попыток и сессии.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/members"
)

// SessionStore: хранилище сессий и попыток входа (реализуется Repository).
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	ActiveSession(ctx context.Context, memberID int64, now time.Time) (*Session, error)
	DeactivateSessions(ctx context.Context, memberID int64) error
	TouchSession(ctx context.Context, memberID int64, now time.Time) error
	LogAttempt(ctx context.Context, memberID int64, success bool, at time.Time) error
	FailedAttempts(ctx context.Context, memberID int64, since time.Time) (int, error)
}

// Service управляет входом в админ-панель.
type Service struct {
	store        SessionStore
	passwordHash string
	sessionTTL   time.Duration
	now          func() time.Time
}

// NewService создаёт сервис входа.
func NewService(store SessionStore, passwordHash string, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{
		store:        store,
		passwordHash: passwordHash,
		sessionTTL:   sessionTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет часы.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Login проверяет пароль и открывает сессию.
// Войти может только участник с ролью ADMIN или CS.
// Защита от перебора: 3 неудачные попытки за час = блокировка.
func (s *Service) Login(ctx context.Context, m *members.Member, password string) (*Session, error) {
	if m == nil || !m.Role.CanRead() {
		return nil, common.ErrForbidden
	}
	if s.passwordHash == "" {
		return nil, common.ErrForbidden.WithMessage("вход в админ-панель отключён")
	}

	now := s.now()
	attempts, err := s.store.FailedAttempts(ctx, m.ID, now.Add(-AttemptWindow))
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки попыток входа: %w", err)
	}
	if attempts >= MaxFailedAttempts {
		return nil, common.ErrTooManyAttempts
	}

	match := verifyArgon2id(password, s.passwordHash)
	if err := s.store.LogAttempt(ctx, m.ID, match, now); err != nil {
		log.WithError(err).WithField("member_id", m.ID).Error("Ошибка записи попытки входа")
	}
	if !match {
		log.WithField("member_id", m.ID).Warn("Неверный пароль админ-панели")
		return nil, common.ErrWrongPassword
	}

	session := &Session{
		MemberID:        m.ID,
		SessionToken:    generateSecureToken(),
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(s.sessionTTL),
		LastActivity:    now,
		IsActive:        true,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"tenant_id": m.TenantID,
		"member_id": m.ID,
		"role":      m.Role,
	}).Info("Вход в админ-панель")
	return session, nil
}

// Authorize проверяет, что у участника есть действующая сессия,
// и продлевает её активность.
func (s *Service) Authorize(ctx context.Context, m *members.Member) error {
	if m == nil || !m.Role.CanRead() {
		return common.ErrForbidden
	}
	now := s.now()
	session, err := s.store.ActiveSession(ctx, m.ID, now)
	if err != nil {
		return err
	}
	if session == nil {
		return common.ErrUnauthorized.WithMessage("войдите командой /login <пароль>")
	}
	if err := s.store.TouchSession(ctx, m.ID, now); err != nil {
		log.WithError(err).WithField("member_id", m.ID).Warn("Не удалось обновить активность сессии")
	}
	return nil
}

// Logout закрывает все сессии участника.
func (s *Service) Logout(ctx context.Context, m *members.Member) error {
	return s.store.DeactivateSessions(ctx, m.ID)
}

// --- Криптографические утилиты ---

// hashParams: параметры Argon2id.
type hashParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLen     int
	keyLen      uint32
}

var defaultHashParams = hashParams{memory: 64 * 1024, iterations: 3, parallelism: 2, saltLen: 16, keyLen: 32}

// HashPassword возвращает хеш Argon2id для ADMIN_PASSWORD_HASH.
// Формат: $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func HashPassword(password string) (string, error) {
	return hashPassword(password, defaultHashParams)
}

func hashPassword(password string, p hashParams) (string, error) {
	if password == "" {
		return "", common.ErrInvalidArgument.WithMessage("пароль не может быть пустым")
	}
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("ошибка генерации соли: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, p.iterations, p.memory, p.parallelism, p.keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.iterations, p.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id проверяет пароль по хешу Argon2id.
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Некорректный формат хеша Argon2id")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Ошибка парсинга параметров Argon2id")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования соли")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Ошибка декодирования хеша")
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	// Сравнение в постоянном времени
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// generateSecureToken генерирует случайный токен сессии.
func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}
