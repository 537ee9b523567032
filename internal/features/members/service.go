// Package members: service.go содержит бизнес-логику управления участниками.
// Сервис регистрирует участников при первом обращении и находит их
// для админских операций.
package members

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
)

// Store: хранилище участников (реализуется Repository).
type Store interface {
	EnsureTenant(ctx context.Context, code, name string) (*Tenant, error)
	TenantByCode(ctx context.Context, code string) (*Tenant, error)
	Upsert(ctx context.Context, tenantID int64, p Profile) (*Member, error)
	GetByID(ctx context.Context, tenantID, id int64) (*Member, error)
	GetByUserID(ctx context.Context, tenantID, userID int64) (*Member, error)
	GetByUsername(ctx context.Context, tenantID int64, username string) (*Member, error)
	UpdateRole(ctx context.Context, tenantID, id int64, role Role) error
	ListStaff(ctx context.Context, tenantID int64) ([]*Member, error)
}

// Service управляет участниками.
type Service struct {
	store Store
}

// NewService создаёт новый сервис участников.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// EnsureTenant гарантирует, что тенант с кодом существует.
func (s *Service) EnsureTenant(ctx context.Context, code, name string) (*Tenant, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, common.ErrInvalidArgument.WithMessage("код тенанта не может быть пустым")
	}
	if name == "" {
		name = code
	}
	return s.store.EnsureTenant(ctx, code, name)
}

// TenantByCode возвращает тенанта по коду.
func (s *Service) TenantByCode(ctx context.Context, code string) (*Tenant, error) {
	return s.store.TenantByCode(ctx, code)
}

// EnsureMember гарантирует, что пользователь есть в базе тенанта,
// и обновляет его имя. Используется при каждом сообщении боту.
func (s *Service) EnsureMember(ctx context.Context, tenantID int64, p Profile) (*Member, error) {
	if p.UserID == 0 {
		return nil, common.ErrInvalidArgument.WithMessage("не указан ID пользователя")
	}
	m, err := s.store.Upsert(ctx, tenantID, p)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"tenant_id": tenantID,
		"member_id": m.ID,
		"user_id":   p.UserID,
	}).Debug("Участник зарегистрирован")
	return m, nil
}

// GetByID возвращает участника по ID записи.
func (s *Service) GetByID(ctx context.Context, tenantID, id int64) (*Member, error) {
	return s.store.GetByID(ctx, tenantID, id)
}

// GetByUserID возвращает участника по его Telegram user ID.
func (s *Service) GetByUserID(ctx context.Context, tenantID, userID int64) (*Member, error) {
	return s.store.GetByUserID(ctx, tenantID, userID)
}

// GetByUsername возвращает участника по @username (с @ или без).
func (s *Service) GetByUsername(ctx context.Context, tenantID int64, username string) (*Member, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, common.ErrInvalidArgument.WithMessage("укажите @username")
	}
	return s.store.GetByUsername(ctx, tenantID, username)
}

// AssignRole назначает роль участнику. Менять роли может только ADMIN.
func (s *Service) AssignRole(ctx context.Context, actor *Member, memberID int64, role Role) error {
	if actor == nil || !actor.Role.CanWrite() {
		return common.ErrForbidden
	}
	if !role.Valid() {
		return common.ErrInvalidArgument.WithMessage(fmt.Sprintf("неизвестная роль %q", role))
	}
	if err := s.store.UpdateRole(ctx, actor.TenantID, memberID, role); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"tenant_id": actor.TenantID,
		"member_id": memberID,
		"role":      role,
		"actor_id":  actor.ID,
	}).Info("Роль участника изменена")
	return nil
}

// Staff возвращает администраторов и поддержку тенанта.
func (s *Service) Staff(ctx context.Context, tenantID int64) ([]*Member, error) {
	return s.store.ListStaff(ctx, tenantID)
}
