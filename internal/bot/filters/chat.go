// Package filters решает, обслуживает ли бот данный чат и пользователя.
package filters

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
	"serotonyl.ru/mystery-box/internal/features/members"
)

// API: часть Telegram API, нужная фильтру.
type API interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Members: поиск и регистрация участников тенанта.
type Members interface {
	GetByUserID(ctx context.Context, tenantID, userID int64) (*members.Member, error)
	EnsureMember(ctx context.Context, tenantID int64, p members.Profile) (*members.Member, error)
}

// ChatFilter пропускает основной чат тенанта и личку его участников.
type ChatFilter struct {
	floodChatID int64
	tenantID    int64
	members     Members
	bot         API
}

// NewChatFilter создаёт фильтр для чата floodChatID тенанта tenantID.
func NewChatFilter(floodChatID, tenantID int64, m Members, bot API) *ChatFilter {
	return &ChatFilter{
		floodChatID: floodChatID,
		tenantID:    tenantID,
		members:     m,
		bot:         bot,
	}
}

// CheckAccess проверяет сообщение.
func (f *ChatFilter) CheckAccess(ctx context.Context, message *tgbotapi.Message) bool {
	if message == nil {
		return false
	}
	return f.Allow(ctx, message.Chat, message.From)
}

// Allow проверяет пару «чат, отправитель». Для лички незнакомого
// пользователя спрашивает Telegram, состоит ли он в основном чате,
// и при успехе регистрирует его.
func (f *ChatFilter) Allow(ctx context.Context, chat *tgbotapi.Chat, from *tgbotapi.User) bool {
	if chat == nil || from == nil || from.IsBot {
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   chat.ID,
		"chat_type": chat.Type,
		"user_id":   from.ID,
	})

	if chat.ID == f.floodChatID {
		return true
	}
	if !chat.IsPrivate() {
		logger.Debug("deny: чужой чат")
		return false
	}

	_, err := f.members.GetByUserID(ctx, f.tenantID, from.ID)
	switch {
	case err == nil:
		return true
	case common.KindOf(err) != common.KindMemberNotFound:
		logger.WithError(err).Error("Ошибка проверки участника")
		return false
	}

	cm, err := f.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: f.floodChatID,
			UserID: from.ID,
		},
	})
	if err != nil {
		logger.WithError(err).Error("Ошибка запроса GetChatMember")
		return false
	}

	switch cm.Status {
	case "creator", "administrator", "member", "restricted":
		if _, err := f.members.EnsureMember(ctx, f.tenantID, members.Profile{
			UserID:    from.ID,
			Username:  from.UserName,
			FirstName: from.FirstName,
		}); err != nil {
			logger.WithError(err).Warn("Не удалось зарегистрировать участника, пропускаем")
		}
		logger.WithField("tg_status", cm.Status).Info("allow: участник основного чата")
		return true
	default:
		logger.WithField("tg_status", cm.Status).Info("deny: не состоит в основном чате")
		msg := tgbotapi.NewMessage(chat.ID, "❌ Бот работает только для участников основного чата")
		if _, err := f.bot.Send(msg); err != nil {
			logger.WithError(err).Warn("Ошибка отправки отказа")
		}
		return false
	}
}
