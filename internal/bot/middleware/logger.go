// Package middleware содержит промежуточные обработчики бота:
// журнал входящих апдейтов, восстановление после паники и ограничение частоты.
package middleware

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

const previewLen = 50

// LogMessage пишет входящее сообщение в debug-журнал.
// Текст обрезается: в нём может оказаться пароль от /login.
func LogMessage(message *tgbotapi.Message) {
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}
	log.WithFields(log.Fields{
		"user_id":  message.From.ID,
		"chat_id":  message.Chat.ID,
		"username": message.From.UserName,
		"text":     Preview(message.Text),
	}).Debug("Входящее сообщение")
}

// LogCallback пишет нажатие inline-кнопки в debug-журнал.
func LogCallback(cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.From == nil {
		return
	}
	log.WithFields(log.Fields{
		"user_id":  cq.From.ID,
		"username": cq.From.UserName,
		"data":     cq.Data,
	}).Debug("Нажатие кнопки")
}

// Preview обрезает текст до previewLen символов (по рунам).
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLen {
		return text
	}
	return string(r[:previewLen]) + "..."
}
