// Package members: handlers.go обрабатывает Telegram-события, связанные с участниками:
// вступление в чат и запрос баланса.
package members

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
)

// Sender: часть Telegram API, которой пользуются обработчики.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Handler обрабатывает события участников.
type Handler struct {
	service *Service
	bot     Sender
}

// NewHandler создаёт новый обработчик событий участников.
func NewHandler(service *Service, bot Sender) *Handler {
	return &Handler{service: service, bot: bot}
}

// HandleNewChatMembers регистрирует пользователей, вступивших в чат тенанта.
func (h *Handler) HandleNewChatMembers(ctx context.Context, tenantID int64, users []tgbotapi.User) {
	for _, user := range users {
		if user.IsBot {
			continue
		}
		_, err := h.service.EnsureMember(ctx, tenantID, Profile{
			UserID:    user.ID,
			Username:  user.UserName,
			FirstName: user.FirstName,
		})
		if err != nil {
			log.WithError(err).WithField("user_id", user.ID).Error("Ошибка регистрации нового участника")
			continue
		}
		log.WithField("user", user.UserName).Info("Новый участник обработан")
	}
}

// HandleBalance отвечает участнику его балансом (команда !баланс).
func (h *Handler) HandleBalance(ctx context.Context, chatID int64, m *Member) {
	text := fmt.Sprintf("💳 %s, на вашем счёте %s", m.DisplayName(), common.FormatBalance(m.CreditBalance))
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
