// Package ledger: handlers.go обрабатывает команду !история.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
)

// Sender: часть Telegram API, которой пользуются обработчики.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Handler обрабатывает команды журнала кредитов.
type Handler struct {
	service *Service
	bot     Sender
	loc     *time.Location
}

// NewHandler создаёт обработчик журнала.
func NewHandler(service *Service, bot Sender, loc *time.Location) *Handler {
	return &Handler{service: service, bot: bot, loc: loc}
}

// HandleHistory показывает последние операции участника.
func (h *Handler) HandleHistory(ctx context.Context, chatID, tenantID, memberID int64) {
	entries, err := h.service.History(ctx, tenantID, memberID, DefaultHistoryLimit)
	if err != nil {
		log.WithError(err).WithField("member_id", memberID).Error("Ошибка получения истории")
		h.send(chatID, "❌ "+common.UserMessage(err))
		return
	}
	h.send(chatID, FormatHistory(entries, h.loc))
}

// FormatHistory собирает текст истории операций.
func FormatHistory(entries []*Entry, loc *time.Location) string {
	if len(entries) == 0 {
		return "📜 Операций пока нет"
	}
	var sb strings.Builder
	sb.WriteString("📜 Последние операции:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n%s  %s  %s",
			common.FormatDateTime(e.CreatedAt, loc),
			common.FormatCreditsAmount(e.Delta),
			e.Kind.Title(),
		)
		if e.Description != "" {
			fmt.Fprintf(&sb, " (%s)", e.Description)
		}
	}
	return sb.String()
}

func (h *Handler) send(chatID int64, text string) {
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}
